// Package chatclient provides the client side of the broadcast chat protocol.
// A Session owns one outbound connection and its own single-entry
// multiplexer. Its read activity prints whatever the server sends while a
// write activity sends each input line verbatim; the two run concurrently
// and share only the connection and a stop flag.
package chatclient

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/groupchat/bytebuf"
	"github.com/cyberinferno/groupchat/logger"
	"github.com/cyberinferno/groupchat/nbio"
	"github.com/cyberinferno/groupchat/reactor"
)

var (
	// ErrNotConnected is returned when the session has no established connection.
	ErrNotConnected = errors.New("chatclient: not connected")

	// ErrAlreadyConnected is returned by Connect while connected or connecting.
	ErrAlreadyConnected = errors.New("chatclient: already connected or connecting")

	// ErrClosed is returned by Connect after Close.
	ErrClosed = errors.New("chatclient: session is closed")
)

// Session is one client connection to the chat server. Call Connect, then
// Run (or ReadLoop and Send directly), then Close once Run has returned.
type Session struct {
	config Config
	log    logger.Logger

	channel *nbio.StreamChannel
	poller  *reactor.Poller
	key     *reactor.Key
	buf     *bytebuf.Buffer

	onMessage     MessageHandler
	onStateChange StateHandler
	mu            sync.RWMutex

	state  atomic.Int32
	stop   atomic.Bool
	closed atomic.Bool
}

// New creates a session in the Disconnected state. Received messages are
// printed to stdout until a handler is registered with OnMessage.
//
// Parameters:
//   - cfg: Connection settings (e.g. from DefaultConfig)
//   - log: Logger for connection events
func New(cfg Config, log logger.Logger) *Session {
	cfg = cfg.sanitize()
	return &Session{
		config: cfg,
		log:    log.With(logger.Field{Key: "component", Value: "chatclient"}, logger.Field{Key: "server", Value: cfg.Address}),
		onMessage: func(msg string) {
			fmt.Fprintln(os.Stdout, msg)
		},
	}
}

// OnMessage registers the handler for received messages. Handlers run on the
// read activity's goroutine, in arrival order. Pass nil to drop messages.
func (s *Session) OnMessage(handler MessageHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = handler
}

// OnStateChange registers the handler for state changes. It runs
// synchronously on the goroutine that caused the change.
func (s *Session) OnStateChange(handler StateHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = handler
}

// Connect opens a non-blocking connection to the server, polls it until
// established, and registers it for Readable events.
//
// Returns:
//   - nil on success; ErrClosed, ErrAlreadyConnected, or the connect error
func (s *Session) Connect(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}

	if !s.state.CompareAndSwap(int32(Disconnected), int32(Connecting)) {
		return ErrAlreadyConnected
	}
	s.emitState(Connecting, nil)

	if err := s.connect(ctx); err != nil {
		s.setState(Disconnected, err)
		s.log.Warn("connect failed", logger.Field{Key: "error", Value: err})
		return fmt.Errorf("connect %s: %w", s.config.Address, err)
	}

	s.stop.Store(false)
	s.setState(Connected, nil)
	s.log.Info("connected")
	return nil
}

func (s *Session) connect(ctx context.Context) error {
	ch, err := s.dial(ctx)
	if err != nil {
		return err
	}

	poller, err := reactor.New(1)
	if err != nil {
		_ = ch.Close()
		return err
	}

	key, err := poller.Register(ch, reactor.Readable)
	if err != nil {
		_ = poller.Close()
		_ = ch.Close()
		return err
	}

	s.channel, s.poller, s.key = ch, poller, key
	return nil
}

// dial starts a non-blocking connect and checks it every retry interval until
// it completes, fails, or the connect timeout elapses.
func (s *Session) dial(ctx context.Context) (*nbio.StreamChannel, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.ConnectTimeout)
	defer cancel()

	ch, err := nbio.Dial(ctx, s.config.Address)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(s.config.ConnectRetryInterval)
	defer ticker.Stop()

	for {
		done, err := ch.FinishConnect()
		if err != nil {
			_ = ch.Close()
			return nil, err
		}

		if done {
			return ch, nil
		}

		s.log.Info("connecting")

		select {
		case <-ctx.Done():
			_ = ch.Close()
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Send writes msg to the server in one write. If the connection is no longer
// established the session is stopped, the same way a dropped read ends it.
//
// Parameters:
//   - msg: The text to send, verbatim
//
// Returns:
//   - nil on success; ErrNotConnected, or the write error
func (s *Session) Send(msg string) error {
	if s.State() != Connected || !s.channel.IsConnected() {
		s.Stop()
		return ErrNotConnected
	}

	if _, err := s.channel.Write([]byte(msg)); err != nil {
		if !s.channel.IsConnected() {
			s.Stop()
		}

		return fmt.Errorf("send: %w", err)
	}

	return nil
}

// Stop asks the read activity to end. It is observed within one wait timeout.
// Safe to call from any goroutine and more than once.
func (s *Session) Stop() {
	s.stop.Store(true)
}

// State returns the current connection state.
func (s *Session) State() ConnectionState {
	return ConnectionState(s.state.Load())
}

// IsConnected returns true if the session is in Connected state.
func (s *Session) IsConnected() bool {
	return s.State() == Connected
}

// Close stops the session and releases the connection and the multiplexer.
// It must not run concurrently with Run or ReadLoop. Idempotent.
//
// Returns:
//   - The error from closing the multiplexer or the connection, if any
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.Stop()
	err := s.release()
	s.setState(Closed, nil)
	s.log.Info("session closed")
	return err
}

// release cancels the registration, then closes the connection and the
// multiplexer. Safe to call more than once.
func (s *Session) release() error {
	if s.poller == nil {
		return nil
	}

	return errors.Join(s.poller.Cancel(s.key), s.channel.Close(), s.poller.Close())
}

func (s *Session) setState(state ConnectionState, err error) {
	s.state.Store(int32(state))
	s.emitState(state, err)
}

func (s *Session) emitState(state ConnectionState, err error) {
	s.mu.RLock()
	handler := s.onStateChange
	s.mu.RUnlock()

	if handler != nil {
		handler(StateEvent{
			State:     state,
			Address:   s.config.Address,
			Timestamp: time.Now(),
			Error:     err,
		})
	}
}

func (s *Session) emitMessage(msg string) {
	s.mu.RLock()
	handler := s.onMessage
	s.mu.RUnlock()

	if handler != nil {
		handler(msg)
	}
}
