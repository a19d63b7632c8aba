// Package ipc exposes the loopback HTTP control surface: status, reload,
// stop, and scale commands, plus a Prometheus /metrics endpoint, built on
// the same http.ServeMux wiring style used for session-routing handlers,
// generalized into a small set of control-plane routes that forward to the
// Supervisor and never touch the Registry directly.
package ipc

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hackstrix/gpd/internal/runtimefile"
	"github.com/hackstrix/gpd/internal/supervisor"
)

// commander is the subset of *supervisor.Supervisor the surface depends on,
// so tests can wire a fake without starting real child processes.
type commander interface {
	Status() supervisor.RuntimeStatus
	EnqueueReload()
	EnqueueScaleUp()
	EnqueueScaleDown()
	EnqueueShutdown()
}

// Server is the loopback IPC surface bound to 127.0.0.1 on an ephemeral (or
// fixed, via GPDD_IPC_PORT) port.
type Server struct {
	sup        commander
	listener   net.Listener
	httpServer *http.Server
	log        zerolog.Logger
}

// New wires the routes against sup. It does not bind a socket.
func New(sup commander, log zerolog.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{sup: sup, log: log}

	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/reload", s.handleCommand("reload", sup.EnqueueReload))
	mux.HandleFunc("/stop", s.handleStop)
	mux.HandleFunc("/scale/up", s.handleCommand("scale-up", sup.EnqueueScaleUp))
	mux.HandleFunc("/scale/down", s.handleCommand("scale-down", sup.EnqueueScaleDown))
	mux.HandleFunc("/metrics", promhttp.Handler().ServeHTTP)
	mux.HandleFunc("/", s.handleNotFound)

	s.httpServer = &http.Server{Handler: mux}
	return s
}

// Start binds the listener at port (0 for ephemeral), writes the port
// sidecar file, and serves in the background. It returns the bound port.
func (s *Server) Start(workingDir string, port int) (int, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return 0, err
	}
	s.listener = ln
	boundPort := ln.Addr().(*net.TCPAddr).Port

	if err := runtimefile.WritePortFile(workingDir, boundPort); err != nil {
		_ = ln.Close()
		return 0, err
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("ipc surface: serve exited")
		}
	}()

	s.log.Info().Int("port", boundPort).Msg("ipc surface listening")
	return boundPort, nil
}

// Close stops accepting new connections. It does not wait for in-flight
// handlers to finish.
func (s *Server) Close() error {
	return s.httpServer.Close()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	s.writeJSON(w, http.StatusOK, s.sup.Status())
}

// handleCommand returns a handler that enqueues fn and replies with the
// acknowledgement shape before any transition work begins — the command is
// only posted onto the supervisor's event stream, never executed inline.
func (s *Server) handleCommand(name string, fn func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			s.writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		fn()
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "command": name})
	}
}

// handleStop acks first, then enqueues the shutdown — the caller observes
// success before the drain begins, with a short delay so the connection
// isn't torn down mid-response by the very shutdown it requested.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "command": "stop"})
	go func() {
		time.Sleep(50 * time.Millisecond)
		s.sup.EnqueueShutdown()
	}()
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error().Err(err).Msg("ipc surface: failed to encode response")
	}
}
