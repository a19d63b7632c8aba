package supervisor

import (
	"context"
	"time"

	"github.com/hackstrix/gpd/internal/probe"
)

// runHealthLoop polls HealthURL every HealthInterval while the supervisor is
// alive. Because every worker generation shares one inherited listening
// socket rather than a one-port-per-worker layout, a single HealthURL
// cannot name an individual worker — a probe failure here is read as "the
// pool's serving path is unhealthy" rather than "worker N is unhealthy". After
// HealthThreshold consecutive failures the oldest ready worker is killed,
// which the core observes as an unexpected exit and replaces exactly as any
// other crash (crash-restart policy), and the failure streak resets.
func (s *Supervisor) runHealthLoop() {
	if s.opts.HealthURL == "" {
		return
	}

	ticker := time.NewTicker(s.opts.HealthInterval)
	defer ticker.Stop()

	consecutiveFailures := 0

	for {
		select {
		case <-ticker.C:
			res := probe.Probe(context.Background(), s.opts.HealthURL, s.opts.ReadyTimeout)
			if res.Reachable {
				consecutiveFailures = 0
				continue
			}
			consecutiveFailures++
			s.log.Warn().Int("consecutive_failures", consecutiveFailures).Err(res.Err).
				Msg("health probe failed")
			if consecutiveFailures < s.opts.HealthThreshold {
				continue
			}
			consecutiveFailures = 0
			s.killUnhealthyWorker()
		case <-s.shutdownCh:
			return
		case <-s.closed:
			return
		}
	}
}

func (s *Supervisor) killUnhealthyWorker() {
	var victim WorkerInfo
	found := false
	for _, w := range s.registry.Snapshot() { // sorted by id, oldest first
		if w.State == Ready {
			victim, found = w, true
			break
		}
	}
	if !found {
		return
	}
	s.lockProcs()
	proc := s.procs[victim.ID]
	s.unlockProcs()
	if proc == nil {
		return
	}
	s.log.Warn().Int("worker_id", victim.ID).Msg("health threshold exceeded, killing worker")
	_ = proc.Kill()
}
