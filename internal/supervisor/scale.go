package supervisor

import "github.com/hackstrix/gpd/internal/metrics"

// handleScaleUp appends one worker. Unlike reload/scale-down/shutdown,
// scale-up is not one of the serialized transitions — it only adds
// capacity, never retires anything, so it is safe to run concurrently with
// an active reload or scale-down. It is forbidden only during shutdown.
func (s *Supervisor) handleScaleUp(replyCh chan error) {
	if s.isShuttingDown.Load() {
		s.log.Warn().Msg("scale-up rejected: shutdown in progress")
		reply(replyCh, ErrShuttingDown)
		return
	}
	_, err := s.spawnAndTrack()
	reply(replyCh, err)
}

// handleScaleDown retires the oldest worker. It is one of the serialized
// transitions: forbidden during shutdown, reload, or another scale-down,
// and refused when the registry has one or fewer workers.
func (s *Supervisor) handleScaleDown(replyCh chan error) {
	if s.isShuttingDown.Load() {
		s.log.Warn().Msg("scale-down rejected: shutdown in progress")
		reply(replyCh, ErrShuttingDown)
		return
	}
	if s.isReloading.Load() || s.isScalingDown.Load() {
		s.log.Warn().Msg("scale-down rejected: another transition is already in progress")
		reply(replyCh, ErrTransitionInProgress)
		return
	}
	if s.registry.Size() <= 1 {
		s.log.Warn().Msg("scale-down rejected: already at minimum of one worker")
		reply(replyCh, ErrMinimumWorkers)
		return
	}

	oldest, ok := s.registry.Oldest()
	if !ok {
		reply(replyCh, ErrMinimumWorkers)
		return
	}

	s.isScalingDown.Store(true)
	go s.runScaleDown(oldest.ID, replyCh)
}

func (s *Supervisor) runScaleDown(id int, replyCh chan error) {
	if !s.isShuttingDown.Load() {
		s.retire(id)
		metrics.WorkersCurrent.Set(float64(s.registry.Size()))
	}
	s.enqueue(event{kind: evScaleDownDone, reply: replyCh})
}
