//go:build linux

package chatserver

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/groupchat/bytebuf"
	"github.com/cyberinferno/groupchat/logger"
	"github.com/cyberinferno/groupchat/reactor"
)

const testWait = 10 * time.Millisecond

// peer is a plain TCP client that accumulates everything the server sends.
type peer struct {
	conn    net.Conn
	pending string
}

func (p *peer) addr() string { return p.conn.LocalAddr().String() }

// readFor reads whatever arrives within d and appends it to pending.
func (p *peer) readFor(d time.Duration) (eof bool) {
	buf := make([]byte, 4096)
	_ = p.conn.SetReadDeadline(time.Now().Add(d))
	for {
		n, err := p.conn.Read(buf)
		p.pending += string(buf[:n])
		if err != nil {
			return errors.Is(err, io.EOF)
		}
	}
}

// take consumes pending data up to and including want.
func (p *peer) take(want string) bool {
	i := strings.Index(p.pending, want)
	if i < 0 {
		return false
	}

	p.pending = p.pending[i+len(want):]
	return true
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.WaitTimeout = testWait
	s := New(cfg, logger.NewNopLogger())
	require.NoError(t, s.Start())
	return s
}

// stepped returns a started server whose loop is driven by the test itself.
func stepped(t *testing.T) *Server {
	t.Helper()

	s := newTestServer(t)
	t.Cleanup(func() {
		if s.State() == StateRunning {
			s.shutdown()
		}
	})
	return s
}

// pumpUntil runs loop iterations until cond holds.
func pumpUntil(t *testing.T, s *Server, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		require.True(t, time.Now().Before(deadline), "condition not reached")
		require.NoError(t, s.tick())
	}
}

// expect runs loop iterations until p has received want.
func expect(t *testing.T, s *Server, p *peer, want string) {
	t.Helper()

	pumpUntil(t, s, func() bool {
		p.readFor(time.Millisecond)
		return p.take(want)
	})
}

// join connects a new peer and runs the loop until it is registered.
func join(t *testing.T, s *Server) *peer {
	t.Helper()

	conn, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	p := &peer{conn: conn}
	pumpUntil(t, s, func() bool { return s.online.Contains(p.addr()) })
	return p
}

func TestServer_Start(t *testing.T) {
	t.Run("binds and runs", func(t *testing.T) {
		s := stepped(t)
		assert.Equal(t, StateRunning, s.State())
		assert.NotEqual(t, "127.0.0.1:0", s.Addr())
		assert.Equal(t, 1, s.poller.Len(), "only the listener is registered")
	})

	t.Run("second start fails", func(t *testing.T) {
		s := stepped(t)
		assert.ErrorIs(t, s.Start(), ErrAlreadyRunning)
	})

	t.Run("bind failure is fatal", func(t *testing.T) {
		taken := stepped(t)

		cfg := DefaultConfig()
		cfg.Addr = taken.Addr()
		s := New(cfg, logger.NewNopLogger())
		require.Error(t, s.Start())
		assert.Equal(t, StateStopped, s.State())
		assert.ErrorIs(t, s.Run(context.Background()), ErrNotStarted)
	})

	t.Run("addr is readable while starting", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Addr = "127.0.0.1:0"
		s := New(cfg, logger.NewNopLogger())

		seen := make(chan string, 1)
		go func() {
			for s.State() != StateRunning {
				_ = s.Addr()
			}
			seen <- s.Addr()
		}()

		require.NoError(t, s.Start())
		defer s.shutdown()

		addr := <-seen
		assert.NotEqual(t, "127.0.0.1:0", addr)
		assert.Equal(t, addr, s.Addr())
	})

	t.Run("run before start", func(t *testing.T) {
		s := New(DefaultConfig(), logger.NewNopLogger())
		assert.ErrorIs(t, s.Run(context.Background()), ErrNotStarted)
		assert.Equal(t, ":7070", s.Addr())
	})
}

func TestServer_joinNotices(t *testing.T) {
	s := stepped(t)

	const n = 4
	peers := make([]*peer, n)
	for i := range peers {
		peers[i] = join(t, s)
	}

	for i, p := range peers {
		p.readFor(20 * time.Millisecond)
		assert.Equal(t, n-1-i, strings.Count(p.pending, " online"), "peer %d", i)
		assert.NotContains(t, p.pending, JoinNotice(p.addr()))
		for _, later := range peers[i+1:] {
			assert.Contains(t, p.pending, JoinNotice(later.addr()))
		}
	}

	assert.ElementsMatch(t, []string{peers[0].addr(), peers[1].addr(), peers[2].addr(), peers[3].addr()}, s.Online())
}

func TestServer_chatLifecycle(t *testing.T) {
	s := stepped(t)
	b := join(t, s)
	c := join(t, s)
	a := join(t, s)

	for _, p := range []*peer{b, c} {
		expect(t, s, p, JoinNotice(a.addr()))
	}

	_, err := a.conn.Write([]byte("hi"))
	require.NoError(t, err)
	for _, p := range []*peer{b, c} {
		expect(t, s, p, ChatMessage(a.addr(), "hi"))
	}

	require.NoError(t, a.conn.Close())
	for _, p := range []*peer{b, c} {
		expect(t, s, p, LeaveNotice(a.addr()))
	}
	assert.Equal(t, 2, s.registry.Len())
	assert.NotContains(t, s.Online(), a.addr())

	_, err = b.conn.Write([]byte("still here"))
	require.NoError(t, err)
	expect(t, s, c, ChatMessage(b.addr(), "still here"))

	c.readFor(20 * time.Millisecond)
	b.readFor(20 * time.Millisecond)
	assert.NotContains(t, c.pending, a.addr(), "nothing is attributed to a departed peer")
	assert.NotContains(t, b.pending, LeaveNotice(a.addr()), "leave notice is delivered once")
}

func TestServer_noEcho(t *testing.T) {
	s := stepped(t)
	a := join(t, s)
	b := join(t, s)
	expect(t, s, a, JoinNotice(b.addr()))

	_, err := a.conn.Write([]byte("hello"))
	require.NoError(t, err)
	expect(t, s, b, ChatMessage(a.addr(), "hello"))

	for range 5 {
		require.NoError(t, s.tick())
	}
	a.readFor(20 * time.Millisecond)
	b.readFor(20 * time.Millisecond)

	assert.NotContains(t, a.pending, "hello", "sender gets no echo")
	assert.NotContains(t, b.pending, ChatMessage(b.addr(), "hello"))
}

func TestServer_bufferReuse(t *testing.T) {
	s := stepped(t)
	a := join(t, s)
	b := join(t, s)

	conn := s.registry.Peers()[0]
	require.Equal(t, a.addr(), conn.RemoteAddr())
	_, allocated := s.registry.buffers[conn.Token()]
	assert.False(t, allocated, "no buffer before the first readable event")

	var first *bytebuf.Buffer
	for i := range 5 {
		msg := strings.Repeat("m", i+1)
		_, err := a.conn.Write([]byte(msg))
		require.NoError(t, err)
		expect(t, s, b, ChatMessage(a.addr(), msg))

		buf := s.registry.buffers[conn.Token()]
		require.NotNil(t, buf)
		if first == nil {
			first = buf
		}
		assert.Same(t, first, buf)
	}

	assert.Equal(t, 1, s.registry.allocated)

	require.NoError(t, a.conn.Close())
	expect(t, s, b, LeaveNotice(a.addr()))
	assert.Empty(t, s.registry.buffers, "buffer is dropped with the connection")
	assert.False(t, conn.alive)
	assert.False(t, conn.key.Valid())
	assert.NoError(t, s.registry.Remove(conn), "removing twice is a no-op")
}

func TestServer_broadcastWithoutPeers(t *testing.T) {
	s := stepped(t)

	assert.Zero(t, s.broadcast(nil, "anyone?"))

	a := join(t, s)
	conn := s.registry.Peers()[0]
	require.Equal(t, a.addr(), conn.RemoteAddr())
	assert.Zero(t, s.broadcast(conn, "only me"))

	a.readFor(20 * time.Millisecond)
	assert.Empty(t, a.pending)
}

func TestServer_broadcastIsolatesFailures(t *testing.T) {
	s := stepped(t)
	a := join(t, s)
	b := join(t, s)
	c := join(t, s)
	expect(t, s, a, JoinNotice(c.addr()))
	expect(t, s, b, JoinNotice(c.addr()))

	peers := s.registry.Peers()
	require.Len(t, peers, 3)
	require.NoError(t, peers[1].channel.Close())

	assert.Equal(t, 2, s.broadcast(nil, "notice"))
	a.readFor(20 * time.Millisecond)
	c.readFor(20 * time.Millisecond)
	assert.True(t, a.take("notice"))
	assert.True(t, c.take("notice"))
}

func TestServer_disconnectBeforeReadable(t *testing.T) {
	s := stepped(t)
	watcher := join(t, s)

	conn, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	addr := conn.LocalAddr().String()
	require.NoError(t, conn.Close())

	var key *reactor.Key
	pumpUntil(t, s, func() bool {
		for _, p := range s.registry.Peers() {
			if p.RemoteAddr() == addr {
				key = p.key
			}
		}
		return key != nil
	})
	assert.True(t, key.Valid())

	expect(t, s, watcher, JoinNotice(addr))
	expect(t, s, watcher, LeaveNotice(addr))
	assert.False(t, key.Valid())
	assert.Equal(t, 1, s.registry.Len())

	for range 5 {
		require.NoError(t, s.tick())
	}
	watcher.readFor(20 * time.Millisecond)
	assert.NotContains(t, watcher.pending, addr, "no further events for a cancelled registration")
}

func TestServer_Run(t *testing.T) {
	t.Run("stop closes peers without notices", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Addr = "127.0.0.1:0"
		cfg.WaitTimeout = 50 * time.Millisecond
		s := New(cfg, logger.NewNopLogger())
		require.NoError(t, s.Start())

		done := make(chan error, 1)
		go func() { done <- s.Run(context.Background()) }()

		var peers []*peer
		for range 2 {
			conn, err := net.Dial("tcp", s.Addr())
			require.NoError(t, err)
			defer conn.Close()
			peers = append(peers, &peer{conn: conn})
		}
		require.Eventually(t, func() bool { return len(s.Online()) == 2 }, 2*time.Second, 5*time.Millisecond)

		stopped := time.Now()
		s.Stop()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("loop did not exit")
		}
		assert.Less(t, time.Since(stopped), cfg.WaitTimeout+time.Second)
		assert.Equal(t, StateStopped, s.State())
		assert.Empty(t, s.Online())

		for _, p := range peers {
			assert.True(t, p.readFor(time.Second), "server closed the socket")
			assert.NotContains(t, p.pending, "offline")
		}

		_, err := net.Dial("tcp", s.Addr())
		assert.Error(t, err, "listener is closed")
	})

	t.Run("context cancellation stops the loop", func(t *testing.T) {
		s := newTestServer(t)
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan error, 1)
		go func() { done <- s.Run(ctx) }()
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("loop did not exit")
		}
		assert.Equal(t, StateStopped, s.State())
	})

	t.Run("stop before run", func(t *testing.T) {
		s := newTestServer(t)
		s.Stop()
		assert.NoError(t, s.Run(context.Background()))
		assert.Equal(t, StateStopped, s.State())
	})

	t.Run("multiplexer failure is fatal and still cleans up", func(t *testing.T) {
		s := newTestServer(t)
		a, err := net.Dial("tcp", s.Addr())
		require.NoError(t, err)
		defer a.Close()
		pumpUntil(t, s, func() bool { return s.registry.Len() == 1 })

		require.NoError(t, s.poller.Close())

		err = s.Run(context.Background())
		require.ErrorIs(t, err, reactor.ErrClosed)
		assert.Equal(t, StateStopped, s.State())
		assert.Zero(t, s.registry.Len())

		p := &peer{conn: a}
		assert.True(t, p.readFor(time.Second))
	})
}

func TestServer_ListenAndServe(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.WaitTimeout = testWait
	s := New(cfg, logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	require.Eventually(t, func() bool { return s.State() == StateRunning }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit")
	}
}
