package supervisor

import (
	"time"

	"github.com/hackstrix/gpd/internal/metrics"
)

// handleReload is invoked on the run() goroutine only. It enforces the
// single-active-transition rule and refuses once shutdown is terminal,
// before handing the rolling protocol off to a dedicated goroutine so that
// run() remains free to keep servicing the event stream — including a
// superseding shutdown — while the reload is underway.
func (s *Supervisor) handleReload(replyCh chan error) {
	if s.isShuttingDown.Load() {
		s.log.Warn().Msg("reload rejected: shutdown in progress")
		reply(replyCh, ErrShuttingDown)
		return
	}
	if s.isReloading.Load() || s.isScalingDown.Load() {
		s.log.Warn().Msg("reload rejected: another transition is already in progress")
		reply(replyCh, ErrTransitionInProgress)
		return
	}

	s.isReloading.Store(true)
	ids := make([]int, 0)
	for _, w := range s.registry.Snapshot() {
		ids = append(ids, w.ID)
	}
	go s.runReload(ids, replyCh)
}

// runReload executes the rolling reload protocol against the snapshot of
// worker ids present at entry. For each original worker it forks a
// replacement, waits for it to become ready, and only then retires the
// original — replacement-then-retire, never the reverse, so the pool is
// never below target capacity mid-reload.
func (s *Supervisor) runReload(ids []int, replyCh chan error) {
	for _, oldID := range ids {
		if s.isShuttingDown.Load() {
			s.log.Warn().Msg("reload aborted: shutdown observed")
			break
		}

		newID, proc, err := s.forkReplacement()
		if err != nil {
			s.log.Error().Err(err).Int("old_worker_id", oldID).Msg("reload step: spawn failed, keeping old worker")
			continue
		}

		if !s.waitForReady(newID, proc, s.opts.ReadyTimeout) {
			s.log.Warn().Int("new_worker_id", newID).Int("old_worker_id", oldID).
				Msg("reload step: replacement never became ready, aborting step")
			metrics.ReloadStepAborts.Inc()
			s.killAndReap(newID, proc)
			continue
		}

		if s.isShuttingDown.Load() {
			s.log.Warn().Msg("reload aborted after replacement became ready: shutdown observed")
			break
		}

		s.retire(oldID)
	}

	s.enqueue(event{kind: evReloadDone, reply: replyCh})
}

// waitForReady blocks until the Registry marks id Ready, proc exits, shutdown
// is observed, or timeout elapses. It polls Registry state rather than
// reading proc.Tokens() directly: spawnAndTrack already started the one and
// only watchReady goroutine for proc, and a real worker emits its "ready"
// token exactly once, so a second receiver racing the same channel would
// non-deterministically steal the token out from under the first.
func (s *Supervisor) waitForReady(id int, proc Process, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if w, ok := s.registry.Get(id); ok && w.State == Ready {
				return true
			}
		case <-proc.Exited():
			return false
		case <-deadline.C:
			return false
		case <-s.shutdownCh:
			return false
		}
	}
}

// forkReplacement spawns one new worker and returns its id and Process handle.
func (s *Supervisor) forkReplacement() (int, Process, error) {
	id, err := s.spawnAndTrack()
	if err != nil {
		return 0, nil, err
	}
	s.lockProcs()
	proc := s.procs[id]
	s.unlockProcs()
	return id, proc, nil
}

// killAndReap force-kills a replacement that never became ready and waits
// for handleWorkerExited to actually process its exit — not just for the OS
// to reap it — so that a reload that ends on this step can't have its
// evReloadDone race ahead of this id's WorkerExited event the same way
// retire() guards against for a successfully retired worker.
func (s *Supervisor) killAndReap(id int, proc Process) {
	s.lockProcs()
	var ack chan struct{}
	if _, stillTracked := s.procs[id]; stillTracked {
		ack = make(chan struct{})
		s.exitAcks[id] = ack
	}
	s.unlockProcs()

	_ = proc.Kill()
	<-proc.Exited()
	if ack != nil {
		<-ack
	}
}

// retire drains and removes the old worker: mark Draining, request
// disconnect by sending the shutdown token, wait up to GraceTimeout for
// exit, force-kill on timeout. It does not return until handleWorkerExited
// has actually processed this worker's exit — callers that enqueue a
// transition-done event right after retire() returns rely on that ordering
// so the done event can never reach run() ahead of the matching
// WorkerExited event (which would otherwise read as an unexpected exit and
// spuriously crash-restart the worker being retired).
func (s *Supervisor) retire(id int) {
	s.registry.MarkDraining(id)

	s.lockProcs()
	proc := s.procs[id]
	ack := make(chan struct{})
	if proc != nil {
		s.exitAcks[id] = ack
	}
	s.unlockProcs()
	if proc == nil {
		return
	}

	s.log.Info().Int("worker_id", id).Msg("retiring worker: sending shutdown token")
	if err := proc.SendShutdown(); err != nil {
		s.log.Warn().Err(err).Int("worker_id", id).Msg("failed to send shutdown token, forcing kill")
		_ = proc.Kill()
	}

	select {
	case <-proc.Exited():
	case <-time.After(s.opts.GraceTimeout):
		s.log.Warn().Int("worker_id", id).Msg("grace timeout retiring worker, force-killing")
		_ = proc.Kill()
		<-proc.Exited()
	}

	<-ack
}
