// Package chatserver implements a broadcast chat server driven by a single
// readiness-multiplexed event loop. One goroutine owns the listener, the
// multiplexer and every peer connection: it waits for readiness, accepts new
// peers, reads one message per readable event and writes it to every other
// peer.
package chatserver

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/cyberinferno/groupchat/logger"
	"github.com/cyberinferno/groupchat/nbio"
	"github.com/cyberinferno/groupchat/reactor"
	"github.com/cyberinferno/groupchat/safeset"
)

var (
	// ErrAlreadyRunning is returned by Start when the server was started before.
	ErrAlreadyRunning = errors.New("chatserver: already started")

	// ErrNotStarted is returned by Run when Start has not succeeded.
	ErrNotStarted = errors.New("chatserver: not started")
)

// Server is the chat server. Create it with New, call Start to bind, then Run
// on the goroutine that will own the event loop. Stop may be called from any
// goroutine.
type Server struct {
	config Config
	log    logger.Logger

	listener    *nbio.ServerChannel
	poller      *reactor.Poller
	listenerKey *reactor.Key
	registry    *Registry

	online *safeset.SafeSet[string]
	bound  atomic.Pointer[string]
	state  atomic.Int32
	stop   atomic.Bool
}

// New creates a server in the Idle state. Invalid config values are replaced
// with defaults.
//
// Parameters:
//   - cfg: Server settings, usually DefaultConfig() overridden from the environment
//   - log: Logger for lifecycle and connection events
func New(cfg Config, log logger.Logger) *Server {
	cfg = cfg.sanitize()
	return &Server{
		config: cfg,
		log:    log.With(logger.Field{Key: "component", Value: cfg.Name}),
		online: safeset.NewSafeSet[string](),
	}
}

// Start binds the listening endpoint, creates the multiplexer and registers
// the endpoint for Acceptable events. Any failure here is fatal: the server
// moves to Stopped and cannot be used.
//
// Returns:
//   - ErrAlreadyRunning if Start was called before, or the setup error
func (s *Server) Start() error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateStarting)) {
		return ErrAlreadyRunning
	}

	if err := s.setup(); err != nil {
		s.release()
		s.setState(StateStopped)
		s.log.Error("server failed to start", logger.Field{Key: "addr", Value: s.config.Addr}, logger.Field{Key: "error", Value: err})
		return fmt.Errorf("server %s failed to start: %w", s.config.Name, err)
	}

	s.setState(StateRunning)
	s.log.Info("server started", logger.Field{Key: "addr", Value: s.Addr()})
	return nil
}

func (s *Server) setup() error {
	ln, err := nbio.Listen(s.config.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	bound := ln.Addr().String()
	s.bound.Store(&bound)

	poller, err := reactor.New(s.config.MaxEvents)
	if err != nil {
		return err
	}
	s.poller = poller

	key, err := poller.Register(ln, reactor.Acceptable)
	if err != nil {
		return err
	}
	s.listenerKey = key
	s.registry = newRegistry(poller, s.config.BufferSize)

	return nil
}

// Run serves the event loop on the calling goroutine until Stop is called,
// ctx is done, or the multiplexer fails. Cleanup always runs before Run
// returns: every peer is closed without notices, then the multiplexer and the
// listener.
//
// Returns:
//   - nil after a requested stop, ErrNotStarted, or the wrapped multiplexer error
func (s *Server) Run(ctx context.Context) error {
	if s.State() != StateRunning {
		return ErrNotStarted
	}
	defer s.shutdown()

	for !s.stop.Load() && ctx.Err() == nil {
		if err := s.tick(); err != nil {
			s.log.Error("multiplexer failed", logger.Field{Key: "error", Value: err})
			return fmt.Errorf("server %s multiplexer wait: %w", s.config.Name, err)
		}
	}

	return nil
}

// ListenAndServe is Start followed by Run.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	return s.Run(ctx)
}

// Stop requests a cooperative stop. The loop notices it after the current
// wake-up, so within one wait timeout. Safe to call from any goroutine and
// more than once.
func (s *Server) Stop() {
	s.stop.Store(true)
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	return State(s.state.Load())
}

// Addr returns the bound listening address once Start has bound it, and the
// configured address before that. Safe to call from any goroutine.
func (s *Server) Addr() string {
	if bound := s.bound.Load(); bound != nil {
		return *bound
	}

	return s.config.Addr
}

// Online returns the sorted remote addresses of the connected peers. Safe to
// call from any goroutine.
func (s *Server) Online() []string {
	addrs := s.online.Values()
	slices.Sort(addrs)
	return addrs
}

// tick runs one wait and dispatches every ready registration.
func (s *Server) tick() error {
	ready, err := s.poller.Wait(s.config.WaitTimeout)
	if err != nil {
		return err
	}

	for _, key := range ready {
		s.handle(key)
	}

	return nil
}

func (s *Server) shutdown() {
	s.setState(StateStopping)

	if err := s.registry.CloseAll(); err != nil {
		s.log.Warn("closing peers", logger.Field{Key: "error", Value: err})
	}
	s.online.Reset()
	s.release()

	s.setState(StateStopped)
	s.log.Info("server stopped")
}

// release closes the multiplexer and the listener, whichever exist.
func (s *Server) release() {
	if s.poller != nil {
		if err := s.poller.Close(); err != nil {
			s.log.Warn("closing multiplexer", logger.Field{Key: "error", Value: err})
		}
	}

	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.log.Warn("closing listener", logger.Field{Key: "error", Value: err})
		}
	}
}

func (s *Server) setState(state State) {
	s.state.Store(int32(state))
}
