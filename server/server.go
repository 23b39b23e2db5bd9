// Package server wires the Attachment Endpoint, the Session Directory,
// and the SessionStore into a single HTTP process: the admin surface's
// runtime host for SCBE's WebSocket attachment route.
package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teranos/scbe/config"
	"github.com/teranos/scbe/directory"
	"github.com/teranos/scbe/errs"
	"github.com/teranos/scbe/logger"
	"github.com/teranos/scbe/transport"
)

// State is the server's own lifecycle state, distinct from any single
// session's State — tracks the HTTP listener and in-flight Attachments,
// not a particular broadcast session.
type State int32

const (
	StateRunning State = iota
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Server hosts the Attachment Endpoint's HTTP upgrade route plus a
// liveness endpoint, and owns the process's graceful-shutdown sequence.
type Server struct {
	cfg        config.ServerConfig
	httpServer *http.Server
	dir        *directory.Directory

	state atomic.Int32
	wg    sync.WaitGroup
}

// New builds a Server that upgrades attachment connections at /ws using
// deps, and reports liveness at /healthz.
func New(cfg config.ServerConfig, dir *directory.Directory, deps transport.Deps) *Server {
	s := &Server{cfg: cfg, dir: dir}
	s.setState(StateRunning)

	mux := http.NewServeMux()
	setupRoutes(mux, s, deps, cfg.AllowedOrigins)

	s.httpServer = &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: mux,
	}
	return s
}

func (s *Server) setState(st State) {
	s.state.Store(int32(st))
	logger.Infow("server state changed", logger.FieldState, st.String())
}

// State reports the server's current lifecycle state.
func (s *Server) State() State {
	return State(s.state.Load())
}

// Run starts the HTTP listener. It blocks until the listener stops,
// returning nil on a clean Shutdown and any other error otherwise — the
// same contract http.Server.ListenAndServe gives its caller.
func (s *Server) Run() error {
	logger.Infow("attachment endpoint listening", logger.FieldAddress, s.cfg.ListenAddress)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errs.Wrap(err, "http listener")
	}
	return nil
}

// Shutdown drains in-flight Attachments and stops the HTTP listener,
// following the teacher's draining→stopped transition: the listener
// stops accepting new upgrades immediately, existing connections get up
// to ShutdownTimeout to finish, then the process gives up waiting.
func (s *Server) Shutdown(ctx context.Context) error {
	s.setState(StateDraining)

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.ShutdownTimeout)*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Infow("all attachments closed cleanly")
	case <-shutdownCtx.Done():
		logger.Warnw("attachment drain timed out, forcing exit", logger.FieldState, "draining")
	}

	s.setState(StateStopped)
	if err != nil {
		return errs.Wrap(err, "http server shutdown")
	}
	return nil
}

// trackedHandler wraps h so the Server's shutdown wait group accounts
// for every in-flight Attachment before it stops draining.
func (s *Server) trackedHandler(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.wg.Add(1)
		defer s.wg.Done()
		h(w, r)
	}
}
