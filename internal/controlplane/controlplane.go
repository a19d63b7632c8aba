// Package controlplane maps host OS signals onto Supervisor commands,
// generalized from a single anonymous signal-handling goroutine that only
// handled SIGINT/SIGTERM and called a pool's Shutdown() directly, into a
// small adapter that funnels signals into the same Enqueue* calls the IPC
// surface uses.
package controlplane

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
)

// commander is the subset of *supervisor.Supervisor this adapter drives.
type commander interface {
	EnqueueReload()
	EnqueueShutdown()
}

// Adapter listens for SIGHUP (reload), SIGTERM and SIGINT (shutdown) for
// the lifetime of the process and forwards them to sup.
type Adapter struct {
	sup    commander
	log    zerolog.Logger
	sigCh  chan os.Signal
	stopCh chan struct{}
}

// New constructs an Adapter. Call Run to start listening.
func New(sup commander, log zerolog.Logger) *Adapter {
	return &Adapter{
		sup:    sup,
		log:    log,
		sigCh:  make(chan os.Signal, 4),
		stopCh: make(chan struct{}),
	}
}

// Run registers signal handlers and blocks, forwarding signals until Stop
// is called. Intended to be run in its own goroutine.
func (a *Adapter) Run() {
	signal.Notify(a.sigCh, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(a.sigCh)

	for {
		select {
		case sig := <-a.sigCh:
			switch sig {
			case syscall.SIGHUP:
				a.log.Info().Msg("received hangup, enqueueing reload")
				a.sup.EnqueueReload()
			case syscall.SIGTERM, syscall.SIGINT:
				a.log.Info().Str("signal", sig.String()).Msg("received termination signal, enqueueing shutdown")
				a.sup.EnqueueShutdown()
			}
		case <-a.stopCh:
			return
		}
	}
}

// Stop unregisters signal handling and returns Run.
func (a *Adapter) Stop() {
	close(a.stopCh)
}
