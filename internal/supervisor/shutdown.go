package supervisor

import (
	"errors"
	"time"
)

// ErrShutdownTimedOut is the error Wait() returns when the global shutdown
// grace timer expired before every worker exited; the process is expected
// to exit non-zero in that case.
var ErrShutdownTimedOut = errors.New("supervisor: shutdown grace timeout, workers force-killed")

// handleShutdown sets the terminal flag and arms the top-level grace timer.
// Shutdown is idempotent: a second and later call observes isShuttingDown
// already set and acks without re-arming anything.
func (s *Supervisor) handleShutdown(replyCh chan error) {
	if s.isShuttingDown.Load() {
		s.log.Info().Msg("shutdown already in progress, ignoring duplicate request")
		reply(replyCh, nil)
		return
	}

	s.isShuttingDown.Store(true)
	close(s.shutdownCh) // wakes any suspended reload/scale-down step immediately

	go s.runShutdown(replyCh)
}

// runShutdown drains every currently tracked worker and arms the global
// grace timer. Whichever of {registry drains to empty via
// handleWorkerExited, grace timer expires} happens first calls
// finishShutdown exactly once.
func (s *Supervisor) runShutdown(replyCh chan error) {
	workers := s.registry.Snapshot()

	s.lockProcs()
	procs := make(map[int]Process, len(workers))
	for _, w := range workers {
		if p, ok := s.procs[w.ID]; ok {
			procs[w.ID] = p
		}
	}
	s.unlockProcs()

	for id, proc := range procs {
		s.registry.MarkDraining(id)
		if err := proc.SendShutdown(); err != nil {
			s.log.Warn().Err(err).Int("worker_id", id).Msg("shutdown: failed to send shutdown token")
		}
	}

	if len(procs) == 0 {
		s.finishShutdown(nil)
		reply(replyCh, nil)
		return
	}

	timer := time.NewTimer(s.opts.GraceTimeout)
	defer timer.Stop()

	var outcome error
	select {
	case <-timer.C:
		s.log.Warn().Msg("global shutdown grace timeout, force-killing remaining workers")
		for id, proc := range procs {
			_ = id
			_ = proc.Kill()
		}
		outcome = ErrShutdownTimedOut
		s.finishShutdown(outcome)
	case <-s.closed:
		// finishShutdown already ran from handleWorkerExited and closed run().
	}

	reply(replyCh, outcome)
}
