//go:build linux

package nbio

import (
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func acceptEventually(t *testing.T, ln *ServerChannel) *StreamChannel {
	t.Helper()

	var (
		accepted *StreamChannel
		err      error
	)
	require.Eventually(t, func() bool {
		accepted, err = ln.Accept()
		return !IsWouldBlock(err)
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, err)

	return accepted
}

func TestListen(t *testing.T) {
	t.Run("port zero reports the bound port", func(t *testing.T) {
		ln, err := Listen("127.0.0.1:0")
		require.NoError(t, err)
		defer ln.Close()

		assert.NotZero(t, ln.Addr().Port())
		assert.GreaterOrEqual(t, ln.Fd(), 0)
	})

	t.Run("empty host accepts ipv4 and ipv6 peers", func(t *testing.T) {
		ln, err := Listen(":0")
		require.NoError(t, err)
		defer ln.Close()

		port := strconv.Itoa(int(ln.Addr().Port()))
		hosts := []string{"127.0.0.1"}
		if ln.Addr().Addr().Is6() {
			hosts = append(hosts, "::1")
		}

		for _, host := range hosts {
			conn, err := net.Dial("tcp", net.JoinHostPort(host, port))
			if host == "::1" && err != nil {
				t.Log("ipv6 loopback unavailable:", err)
				continue
			}
			require.NoError(t, err, host)

			accepted := acceptEventually(t, ln)
			assert.Equal(t, conn.LocalAddr().String(), accepted.RemoteAddr(), "peer address is not ipv4-mapped")
			require.NoError(t, accepted.Close())
			require.NoError(t, conn.Close())
		}
	})

	t.Run("invalid address fails", func(t *testing.T) {
		_, err := Listen("not-an-address")
		assert.Error(t, err)
	})

	t.Run("close is idempotent and accept fails afterwards", func(t *testing.T) {
		ln, err := Listen("127.0.0.1:0")
		require.NoError(t, err)

		require.NoError(t, ln.Close())
		require.NoError(t, ln.Close())

		_, err = ln.Accept()
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestServerChannel_Accept(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	t.Run("nothing pending would block", func(t *testing.T) {
		_, err := ln.Accept()
		assert.ErrorIs(t, err, ErrWouldBlock)
	})

	t.Run("accepted channel is blocking and connected", func(t *testing.T) {
		client, err := net.Dial("tcp", ln.Addr().String())
		require.NoError(t, err)
		defer client.Close()

		c := acceptEventually(t, ln)
		defer c.Close()

		assert.True(t, c.IsBlocking())
		assert.True(t, c.IsConnected())
		assert.Equal(t, client.LocalAddr().String(), c.RemoteAddr())
	})
}

func TestStreamChannel_ReadWrite(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	c := acceptEventually(t, ln)
	defer c.Close()
	require.NoError(t, c.SetBlocking(false))
	assert.False(t, c.IsBlocking())

	t.Run("empty socket would block", func(t *testing.T) {
		n, err := c.Read(make([]byte, 16))
		assert.ErrorIs(t, err, ErrWouldBlock)
		assert.Zero(t, n)
	})

	t.Run("write reaches the peer", func(t *testing.T) {
		n, err := c.Write([]byte("hello"))
		require.NoError(t, err)
		assert.Equal(t, 5, n)

		buf := make([]byte, 16)
		require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
		got, err := client.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(buf[:got]))
	})

	t.Run("read returns peer bytes", func(t *testing.T) {
		_, err := client.Write([]byte("hi"))
		require.NoError(t, err)

		buf := make([]byte, 16)
		var n int
		require.Eventually(t, func() bool {
			n, err = c.Read(buf)
			return err == nil
		}, 2*time.Second, 5*time.Millisecond)
		assert.Equal(t, "hi", string(buf[:n]))
	})

	t.Run("peer close yields end of stream", func(t *testing.T) {
		require.NoError(t, client.Close())

		buf := make([]byte, 16)
		require.Eventually(t, func() bool {
			_, err = c.Read(buf)
			return !IsWouldBlock(err)
		}, 2*time.Second, 5*time.Millisecond)
		assert.ErrorIs(t, err, io.EOF)
		assert.False(t, c.IsConnected())
	})

	t.Run("operations after close fail", func(t *testing.T) {
		require.NoError(t, c.Close())
		require.NoError(t, c.Close())

		_, err := c.Read(make([]byte, 4))
		assert.ErrorIs(t, err, ErrClosed)
		_, err = c.Write([]byte("x"))
		assert.ErrorIs(t, err, ErrClosed)
		assert.ErrorIs(t, c.SetBlocking(true), ErrClosed)
	})
}

func TestDial(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	t.Run("finish connect eventually succeeds", func(t *testing.T) {
		c, err := Dial(context.Background(), ln.Addr().String())
		require.NoError(t, err)
		defer c.Close()

		var connected bool
		require.Eventually(t, func() bool {
			connected, err = c.FinishConnect()
			return connected || err != nil
		}, 2*time.Second, 5*time.Millisecond)
		require.NoError(t, err)
		assert.True(t, c.IsConnected())
		assert.Equal(t, ln.Addr().String(), c.RemoteAddr())

		peer := acceptEventually(t, ln)
		defer peer.Close()
	})

	t.Run("refused connection reports an error", func(t *testing.T) {
		closed, err := Listen("127.0.0.1:0")
		require.NoError(t, err)
		addr := closed.Addr().String()
		require.NoError(t, closed.Close())

		c, err := Dial(context.Background(), addr)
		if err != nil {
			return
		}
		defer c.Close()

		require.Eventually(t, func() bool {
			_, err = c.FinishConnect()
			return err != nil
		}, 2*time.Second, 5*time.Millisecond)
		assert.False(t, c.IsConnected())
	})
}
