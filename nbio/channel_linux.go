//go:build linux

package nbio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// ServerChannel is a listening TCP socket in non-blocking mode. It produces
// StreamChannels on Accept.
type ServerChannel struct {
	fd     int
	addr   netip.AddrPort
	closed atomic.Bool
}

// Listen opens a non-blocking TCP socket bound to addr ("host:port"; an empty
// host or "::" binds every interface for both IPv4 and IPv6, falling back to
// IPv4 only when the host has no IPv6 support; port 0 picks a free port).
//
// Parameters:
//   - addr: The local address to bind
//
// Returns:
//   - The listening channel, whose Addr reports the actually bound address
//   - An error if the socket could not be created, bound or put in listen mode
func Listen(addr string) (*ServerChannel, error) {
	ap, err := resolve(context.Background(), addr)
	if err != nil {
		return nil, err
	}

	fd, ap, err := openListener(ap)
	if err != nil {
		return nil, err
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}

	if err := unix.Bind(fd, toSockaddr(ap)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", ap, err)
	}

	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("listen %s: %w", ap, err)
	}

	bound := ap
	if sa, err := unix.Getsockname(fd); err == nil {
		bound = fromSockaddr(sa)
	}

	return &ServerChannel{fd: fd, addr: bound}, nil
}

// Fd returns the socket descriptor for multiplexer registration.
func (s *ServerChannel) Fd() int { return s.fd }

// Addr returns the bound local address.
func (s *ServerChannel) Addr() netip.AddrPort { return s.addr }

// Accept takes one pending connection. The returned channel is in blocking
// mode; callers driving it from a multiplexer switch it with SetBlocking(false).
//
// Returns:
//   - The accepted connection
//   - ErrWouldBlock if no connection is pending, ErrClosed after Close, or the
//     underlying accept error
func (s *ServerChannel) Accept() (*StreamChannel, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	for {
		nfd, sa, err := unix.Accept4(s.fd, unix.SOCK_CLOEXEC)
		switch {
		case err == nil:
			c := &StreamChannel{fd: nfd, remote: fromSockaddr(sa), blocking: true}
			c.connected.Store(true)
			return c, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.ECONNABORTED):
			return nil, ErrWouldBlock
		default:
			return nil, fmt.Errorf("accept: %w", err)
		}
	}
}

// Close closes the listening socket. It is safe to call multiple times.
func (s *ServerChannel) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	return unix.Close(s.fd)
}

// StreamChannel is a connected TCP socket. Reads and writes in opposite
// directions may run on different goroutines; the flags are atomic.
type StreamChannel struct {
	fd        int
	remote    netip.AddrPort
	blocking  bool
	connected atomic.Bool
	closed    atomic.Bool
}

// Dial opens a non-blocking socket and starts connecting to addr. The
// connection usually completes later; poll FinishConnect until it reports
// true.
//
// Parameters:
//   - ctx: Context for name resolution
//   - addr: The remote "host:port"
//
// Returns:
//   - A channel in non-blocking mode, connected or with the connect in progress
//   - An error if the address is invalid or the connect failed immediately
func Dial(ctx context.Context, addr string) (*StreamChannel, error) {
	ap, err := resolve(ctx, addr)
	if err != nil {
		return nil, err
	}

	fd, err := openSocket(ap.Addr())
	if err != nil {
		return nil, err
	}

	c := &StreamChannel{fd: fd, remote: ap}
	err = unix.Connect(fd, toSockaddr(ap))
	switch {
	case err == nil:
		c.connected.Store(true)
	case errors.Is(err, unix.EINPROGRESS), errors.Is(err, unix.EINTR):
	default:
		_ = unix.Close(fd)
		return nil, fmt.Errorf("connect %s: %w", ap, err)
	}

	return c, nil
}

// FinishConnect completes a connect started by Dial without waiting.
//
// Returns:
//   - true once the connection is established, false while still pending
//   - The connect error if the attempt failed
func (c *StreamChannel) FinishConnect() (bool, error) {
	if c.closed.Load() {
		return false, ErrClosed
	}

	if c.connected.Load() {
		return true, nil
	}

	fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLOUT}}
	n, err := unix.Poll(fds, 0)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}

		return false, fmt.Errorf("poll connect: %w", err)
	}

	if n == 0 {
		return false, nil
	}

	soErr, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return false, fmt.Errorf("getsockopt SO_ERROR: %w", err)
	}

	if soErr != 0 {
		return false, fmt.Errorf("connect %s: %w", c.remote, unix.Errno(soErr))
	}

	c.connected.Store(true)
	return true, nil
}

// Fd returns the socket descriptor for multiplexer registration.
func (c *StreamChannel) Fd() int { return c.fd }

// RemoteAddr returns the peer address as "ip:port", captured when the
// connection was created so it stays available after the peer goes away.
func (c *StreamChannel) RemoteAddr() string { return c.remote.String() }

// IsConnected reports whether the connection is established and has not
// seen end-of-stream, a broken pipe or a local close.
func (c *StreamChannel) IsConnected() bool {
	return c.connected.Load() && !c.closed.Load()
}

// IsBlocking reports the current blocking mode.
func (c *StreamChannel) IsBlocking() bool { return c.blocking }

// SetBlocking switches the socket between blocking and non-blocking mode.
//
// Parameters:
//   - blocking: true for blocking I/O, false for non-blocking
//
// Returns:
//   - An error if the mode could not be changed
func (c *StreamChannel) SetBlocking(blocking bool) error {
	if c.closed.Load() {
		return ErrClosed
	}

	if err := unix.SetNonblock(c.fd, !blocking); err != nil {
		return fmt.Errorf("set blocking=%t: %w", blocking, err)
	}

	c.blocking = blocking
	return nil
}

// Read performs one read into p.
//
// Returns:
//   - The number of bytes read
//   - io.EOF at end-of-stream, ErrWouldBlock when nothing is available in
//     non-blocking mode, ErrClosed after Close, or the socket error
func (c *StreamChannel) Read(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}

	if len(p) == 0 {
		return 0, nil
	}

	for {
		n, err := unix.Read(c.fd, p)
		switch {
		case err == nil && n == 0:
			c.connected.Store(false)
			return 0, io.EOF
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, ErrWouldBlock
		default:
			c.connected.Store(false)
			return 0, fmt.Errorf("read %s: %w", c.remote, err)
		}
	}
}

// Write writes p, looping over partial writes while the socket accepts
// bytes. In non-blocking mode it stops as soon as the send buffer is full.
//
// Returns:
//   - The number of bytes written
//   - ErrWouldBlock if the socket stopped accepting bytes before p was
//     written, ErrClosed after Close, or the socket error
func (c *StreamChannel) Write(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}

	written := 0
	for written < len(p) {
		n, err := unix.SendmsgN(c.fd, p[written:], nil, nil, unix.MSG_NOSIGNAL)
		if n > 0 {
			written += n
		}

		switch {
		case err == nil:
		case errors.Is(err, unix.EINTR):
		case errors.Is(err, unix.EAGAIN):
			return written, ErrWouldBlock
		default:
			c.connected.Store(false)
			return written, fmt.Errorf("write %s: %w", c.remote, err)
		}
	}

	return written, nil
}

// Close closes the socket. It is safe to call multiple times.
func (c *StreamChannel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.connected.Store(false)
	return unix.Close(c.fd)
}

func openSocket(addr netip.Addr) (int, error) {
	domain := unix.AF_INET
	if addr.Is6() {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}

	return fd, nil
}

// openListener opens the socket for Listen. The IPv6 wildcard gets a
// dual-stack socket so IPv4 peers are accepted as well.
func openListener(ap netip.AddrPort) (int, netip.AddrPort, error) {
	if ap.Addr() != netip.IPv6Unspecified() {
		fd, err := openSocket(ap.Addr())
		return fd, ap, err
	}

	fd, err := openSocket(ap.Addr())
	if errors.Is(err, unix.EAFNOSUPPORT) {
		ap = netip.AddrPortFrom(netip.IPv4Unspecified(), ap.Port())
		fd, err = openSocket(ap.Addr())
		return fd, ap, err
	}

	if err != nil {
		return -1, ap, err
	}

	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0); err != nil {
		_ = unix.Close(fd)
		return -1, ap, fmt.Errorf("setsockopt IPV6_V6ONLY: %w", err)
	}

	return fd, ap, nil
}

func toSockaddr(ap netip.AddrPort) unix.Sockaddr {
	if ap.Addr().Is6() {
		return &unix.SockaddrInet6{Port: int(ap.Port()), Addr: ap.Addr().As16()}
	}

	return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: ap.Addr().As4()}
}

func fromSockaddr(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr).Unmap(), uint16(sa.Port))
	default:
		return netip.AddrPort{}
	}
}
