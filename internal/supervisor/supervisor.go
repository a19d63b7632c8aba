// Package supervisor implements the core state machine: worker-lifecycle
// tracking, the rolling reload protocol, crash-restart policy, graceful
// shutdown and the serialization of lifecycle transitions. It is built on
// the Pool/Worker split from a session-routing worker pool orchestrator
// generalized into the fork/ready/drain state machine this package needs,
// and on a daemon's Run() pattern that centralizes reload/exit into
// buffered command channels consumed by a single event loop — the same
// shape this package's event stream takes.
package supervisor

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackstrix/gpd/internal/logging"
	"github.com/hackstrix/gpd/internal/metrics"
	"github.com/hackstrix/gpd/internal/probe"
	"github.com/hackstrix/gpd/internal/runtimefile"
)

// Options configures a Supervisor. Zero-value fields fall back to sensible
// defaults via setDefaults.
type Options struct {
	NumWorkers        int
	ListenAddr        string
	ReadyURL          string
	HealthURL         string
	HealthInterval    time.Duration
	HealthThreshold   int
	GraceTimeout      time.Duration
	ReadyTimeout      time.Duration
	ReadyPollInterval time.Duration
	WorkingDir        string

	// Spawner and Listener are injection points for tests. When nil,
	// Start creates a real execSpawner and binds ListenAddr.
	Spawner  Spawner
	Listener *net.TCPListener

	// Logger is optional; New() installs a default console logger when nil.
	Logger *zerolog.Logger
}

func (o *Options) setDefaults() {
	if o.NumWorkers <= 0 {
		o.NumWorkers = 1
	}
	if o.GraceTimeout <= 0 {
		o.GraceTimeout = 30 * time.Second
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = 10 * time.Second
	}
	if o.ReadyPollInterval <= 0 {
		o.ReadyPollInterval = 500 * time.Millisecond
	}
	if o.WorkingDir == "" {
		o.WorkingDir = "."
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = 5 * time.Second
	}
	if o.HealthThreshold <= 0 {
		o.HealthThreshold = 3
	}
}

// Supervisor holds all state explicitly — no package-level globals, every
// operation is a method on a value the caller constructs and threads
// through.
type Supervisor struct {
	appFile   string
	startTime time.Time
	opts      Options
	registry  *Registry
	spawner   Spawner
	listener  *net.TCPListener
	log       zerolog.Logger

	nextID   int
	procs    map[int]Process        // id -> live Process, for the currently-tracked generation
	exitAcks map[int]chan struct{}  // id -> channel closed once handleWorkerExited has processed that id's exit
	procsMu  chan struct{}          // binary semaphore guarding procs and exitAcks (kept separate from Registry)

	// The three transition flags are read from goroutines other than run()
	// (the active reload/scale-down goroutine checks isShuttingDown at its
	// own suspension points) so they are atomics rather than plain bools
	// guarded by run()'s single-writer discipline alone.
	isShuttingDown   atomic.Bool
	isReloading      atomic.Bool
	isScalingDown    atomic.Bool
	shutdownFinished atomic.Bool

	events     chan event
	closed     chan struct{} // closed once the run loop has exited
	shutdownCh chan struct{} // closed once, the instant isShuttingDown is set

	waitErr  error
	waitDone chan struct{}
}

// New constructs a Supervisor for appFile with opts. It does not start anything.
func New(appFile string, opts Options) *Supervisor {
	opts.setDefaults()
	log := opts.Logger
	if log == nil {
		l := logging.Component(logging.New(), "supervisor")
		log = &l
	}
	return &Supervisor{
		appFile:    appFile,
		opts:       opts,
		registry:   NewRegistry(),
		procs:      make(map[int]Process),
		exitAcks:   make(map[int]chan struct{}),
		procsMu:    make(chan struct{}, 1),
		events:     make(chan event, 64),
		closed:     make(chan struct{}),
		shutdownCh: make(chan struct{}),
		waitDone:   make(chan struct{}),
		log:        *log,
	}
}

func (s *Supervisor) lockProcs()   { s.procsMu <- struct{}{} }
func (s *Supervisor) unlockProcs() { <-s.procsMu }

// Start acquires the pid lock, binds the shared listening socket, forks the
// initial pool, and launches the command loop in the background. It
// returns once the initial pool has been forked, not once every worker is
// ready — a missed ready-timeout at cold start only logs a warning.
func (s *Supervisor) Start() error {
	if err := runtimefile.AcquirePidLock(s.opts.WorkingDir); err != nil {
		return fmt.Errorf("%w", err)
	}

	if s.opts.Listener != nil {
		s.listener = s.opts.Listener
	} else {
		addr := s.opts.ListenAddr
		if addr == "" {
			addr = ":0"
		}
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			_ = runtimefile.ReleasePidLock(s.opts.WorkingDir)
			return fmt.Errorf("bind shared listener: %w", err)
		}
		s.listener = ln.(*net.TCPListener)
	}

	if s.opts.Spawner != nil {
		s.spawner = s.opts.Spawner
	} else {
		s.spawner = NewExecSpawner(s.appFile)
	}

	s.startTime = time.Now()

	for i := 0; i < s.opts.NumWorkers; i++ {
		if _, err := s.spawnAndTrack(); err != nil {
			if i == 0 {
				_ = runtimefile.ReleasePidLock(s.opts.WorkingDir)
				return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
			}
			s.log.Error().Err(err).Msg("initial fill: spawn failed, continuing with fewer workers")
		}
	}

	go s.run()
	if s.opts.HealthURL != "" {
		go s.runHealthLoop()
	}
	return nil
}

// AppFile returns the resolved path to the worker binary.
func (s *Supervisor) AppFile() string { return s.appFile }

// Listener returns the shared listening socket (for tests/diagnostics).
func (s *Supervisor) Listener() *net.TCPListener { return s.listener }

// Status returns the current RuntimeStatus, safe to call concurrently with
// the run loop — it only reads Registry.Snapshot(), which takes its own lock.
func (s *Supervisor) Status() RuntimeStatus {
	workers := s.registry.Snapshot()
	out := make([]WorkerStatus, len(workers))
	for i, w := range workers {
		out[i] = WorkerStatus{ID: w.ID, Pid: w.Pid, State: w.State.String(), StartTime: w.StartTime}
	}
	return RuntimeStatus{AppFile: s.appFile, StartTime: s.startTime, Workers: out}
}

// Wait blocks until the supervisor has fully shut down and returns the
// terminal error: nil on clean exit, non-nil if the global shutdown grace
// timer expired and the process had to be forced.
func (s *Supervisor) Wait() error {
	<-s.waitDone
	return s.waitErr
}

// spawnAndTrack forks one new worker, assigns it the next monotonic id, and
// inserts it into the Registry as Starting. It does not wait for readiness.
func (s *Supervisor) spawnAndTrack() (int, error) {
	proc, err := s.spawner.Spawn(s.listener)
	if err != nil {
		return 0, err
	}

	id := s.nextID
	s.nextID++

	s.registry.Insert(id, proc.Pid(), time.Now())
	metrics.WorkersCurrent.Set(float64(s.registry.Size()))

	s.lockProcs()
	s.procs[id] = proc
	s.unlockProcs()

	s.log.Info().Int("worker_id", id).Int("pid", proc.Pid()).Msg("worker forked")

	go s.watchExit(id, proc)
	go s.watchReady(id, proc)

	return id, nil
}

// watchExit waits for proc to exit and posts a workerExited event into the
// shared command stream.
func (s *Supervisor) watchExit(id int, proc Process) {
	<-proc.Exited()
	select {
	case s.events <- event{kind: evWorkerExited, workerID: id}:
	case <-s.closed:
	}
}

// watchReady races the in-band "ready" token against the readiness probe
// (if configured) and marks the worker Ready as soon as either source
// fires, unifying the two readiness channels under one wait primitive. At
// ReadyTimeout it logs a warning and gives up, leaving the worker in
// Starting. spawnAndTrack starts exactly one of
// these per Process — it is the sole reader of proc.Tokens(), since a real
// worker emits "ready" only once; callers that need to know whether a
// specific worker became ready (the reload step) poll Registry state via
// waitForReady instead of starting a second watchReady on the same proc.
func (s *Supervisor) watchReady(id int, proc Process) (ready bool) {
	deadline := time.NewTimer(s.opts.ReadyTimeout)
	defer deadline.Stop()

	var pollCh <-chan time.Time
	if s.opts.ReadyURL != "" {
		ticker := time.NewTicker(s.opts.ReadyPollInterval)
		defer ticker.Stop()
		pollCh = ticker.C
	}

	for {
		select {
		case tok, ok := <-proc.Tokens():
			if !ok {
				return false
			}
			if tok == "ready" {
				s.registry.MarkReady(id)
				s.log.Info().Int("worker_id", id).Msg("worker ready (token)")
				return true
			}
		case <-pollCh:
			res := probeOnce(s.opts.ReadyURL, s.opts.ReadyTimeout)
			if res {
				s.registry.MarkReady(id)
				s.log.Info().Int("worker_id", id).Msg("worker ready (probe)")
				return true
			}
		case <-proc.Exited():
			return false
		case <-deadline.C:
			s.log.Warn().Int("worker_id", id).Msg("worker did not become ready before ready timeout")
			return false
		case <-s.shutdownCh:
			return false
		}
	}
}

// run is the single command-processing goroutine: the sole mutator of the
// three transition flags.
func (s *Supervisor) run() {
	defer close(s.closed)
	for ev := range s.events {
		switch ev.kind {
		case evWorkerExited:
			s.handleWorkerExited(ev.workerID)
		case evReload:
			s.handleReload(ev.reply)
		case evReloadDone:
			s.isReloading.Store(false)
			metrics.ReloadTotal.Inc()
			reply(ev.reply, ev.err)
		case evScaleUp:
			s.handleScaleUp(ev.reply)
		case evScaleDown:
			s.handleScaleDown(ev.reply)
		case evScaleDownDone:
			s.isScalingDown.Store(false)
			reply(ev.reply, ev.err)
		case evShutdown:
			s.handleShutdown(ev.reply)
		case evShutdownDone:
			s.waitErr = ev.err
			close(s.waitDone)
			return
		}
	}
}

func (s *Supervisor) handleWorkerExited(id int) {
	_, wasTracked := s.registry.Get(id)
	s.registry.Remove(id)

	s.lockProcs()
	delete(s.procs, id)
	ack, hasAck := s.exitAcks[id]
	if hasAck {
		delete(s.exitAcks, id)
	}
	s.unlockProcs()
	if hasAck {
		// Closing here, synchronously on run()'s goroutine, is what makes
		// retire() safe to use right before enqueueing a transition-done
		// event: retire() cannot return (and its caller cannot enqueue that
		// event) until this call has happened, so the done event can never
		// reach run() ahead of the WorkerExited event for the same id.
		close(ack)
	}

	metrics.WorkersCurrent.Set(float64(s.registry.Size()))

	if !wasTracked {
		return // duplicate observation of an exit already handled
	}

	s.log.Warn().Int("worker_id", id).Msg("worker exited")

	if s.isShuttingDown.Load() {
		if s.registry.Size() == 0 {
			s.finishShutdown(nil)
		}
		return
	}

	if s.isReloading.Load() || s.isScalingDown.Load() {
		// Expected: the active transition observes this death as its
		// own completion signal; nothing more for the core to do.
		return
	}

	s.log.Info().Int("worker_id", id).Msg("unexpected exit, restarting")
	metrics.WorkerRestarts.Inc()
	if _, err := s.spawnAndTrack(); err != nil {
		s.log.Error().Err(err).Msg("crash-restart: spawn failed")
	}
}

// finishShutdown runs cleanup exactly once, however it was triggered: the
// registry draining to empty, or the global grace timer expiring first.
func (s *Supervisor) finishShutdown(err error) {
	if !s.shutdownFinished.CompareAndSwap(false, true) {
		return
	}
	_ = runtimefile.ReleasePidLock(s.opts.WorkingDir)
	_ = runtimefile.RemovePortFile(s.opts.WorkingDir)
	_ = s.listener.Close()
	s.enqueue(event{kind: evShutdownDone, err: err})
}

// probeOnce is a small indirection so tests can stub readiness-by-probe
// without a real HTTP round trip; production code routes through
// internal/probe.Probe. Any HTTP-level response counts as reachable — only
// a transport failure keeps polling.
var probeOnce = func(url string, timeout time.Duration) bool {
	res := probe.Probe(context.Background(), url, timeout)
	return res.Reachable
}
