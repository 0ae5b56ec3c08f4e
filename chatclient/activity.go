package chatclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/groupchat/bytebuf"
	"github.com/cyberinferno/groupchat/logger"
	"github.com/cyberinferno/groupchat/nbio"
)

// Run drives a connected session until the user quits, input ends, the
// server drops the connection, or ctx is done. The read activity and the
// write activity run concurrently; each input line is sent verbatim, and the
// quit command stops the session without sending anything.
//
// Parameters:
//   - ctx: Cancels both activities
//   - input: Line-oriented input, usually os.Stdin
//
// Returns:
//   - nil on a normal end; ErrNotConnected, or the multiplexer error
func (s *Session) Run(ctx context.Context, input io.Reader) error {
	if s.State() != Connected {
		return ErrNotConnected
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The scanner is left out of the group: a blocking read on input cannot
	// be interrupted and must not hold Run open.
	lines := make(chan string)
	go s.scanLines(ctx, input, lines)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return s.ReadLoop(gctx)
	})
	g.Go(func() error {
		return s.writeLoop(gctx, lines)
	})

	return g.Wait()
}

// ReadLoop runs the read activity on the calling goroutine until Stop is
// called, ctx is done, or the connection is no longer established. On return
// the registration, the connection and the multiplexer are released.
//
// Returns:
//   - nil on a normal end, or the wrapped multiplexer error
func (s *Session) ReadLoop(ctx context.Context) (err error) {
	if s.State() != Connected {
		return ErrNotConnected
	}

	defer func() {
		if cerr := s.release(); cerr != nil {
			s.log.Warn("releasing connection", logger.Field{Key: "error", Value: cerr})
		}

		if !s.closed.Load() {
			s.setState(Disconnected, err)
		}
		s.log.Info("disconnected")
	}()

	for !s.stop.Load() && ctx.Err() == nil {
		if !s.channel.IsConnected() {
			s.Stop()
			break
		}

		if err := s.ReadOnce(); err != nil {
			return err
		}
	}

	return nil
}

// ReadOnce waits up to the wait timeout for the connection to become
// readable and handles at most one read.
//
// Returns:
//   - nil after an idle wait or a handled read, or the wrapped multiplexer error
func (s *Session) ReadOnce() error {
	ready, err := s.poller.Wait(s.config.WaitTimeout)
	if err != nil {
		return fmt.Errorf("client multiplexer wait: %w", err)
	}

	for _, key := range ready {
		if key.Valid() && key.IsReadable() {
			s.read()
		}
	}

	return nil
}

// read performs one read into the session buffer and emits it as one
// message. When the server closes the stream the registration is cancelled
// and the connection closed, which ends the read loop.
func (s *Session) read() {
	if s.buf == nil {
		s.buf = bytebuf.New(s.config.ReadBufferSize)
	}
	s.buf.Clear()

	_, err := s.buf.Fill(s.channel)
	switch nbio.Classify(err) {
	case nbio.OutcomeOK, nbio.OutcomeWouldBlock:
		s.buf.Flip()
		s.emitMessage(s.buf.String())
	default:
		s.log.Info("server closed the connection",
			logger.Field{Key: "reason", Value: nbio.Classify(err).String()},
			logger.Field{Key: "error", Value: err},
		)

		if cerr := errors.Join(s.poller.Cancel(s.key), s.channel.Close()); cerr != nil {
			s.log.Warn("closing connection", logger.Field{Key: "error", Value: cerr})
		}
	}
}

// writeLoop sends input lines until the quit command, the end of input, or
// cancellation.
func (s *Session) writeLoop(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				s.Stop()
				return nil
			}

			if line == s.config.QuitCommand {
				s.log.Info("quit requested")
				s.Stop()
				return nil
			}

			if err := s.Send(line); err != nil {
				if errors.Is(err, ErrNotConnected) {
					return nil
				}

				s.log.Warn("send failed", logger.Field{Key: "error", Value: err})
			}
		}
	}
}

// maxLineSize bounds one input line.
const maxLineSize = 1 << 20

// scanLines feeds input lines to out and closes it when input ends. A read
// error or an over-long line also ends input and is logged.
func (s *Session) scanLines(ctx context.Context, r io.Reader, out chan<- string) {
	defer close(out)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		select {
		case out <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}

	if err := scanner.Err(); err != nil {
		s.log.Error("reading input failed", logger.Field{Key: "error", Value: err})
	}
}
