//go:build !linux

package nbio

import (
	"context"
	"net/netip"
)

// ServerChannel is unavailable on this platform.
type ServerChannel struct{}

// Listen always fails with ErrUnsupported on this platform.
func Listen(addr string) (*ServerChannel, error) { return nil, ErrUnsupported }

func (s *ServerChannel) Fd() int                         { return -1 }
func (s *ServerChannel) Addr() netip.AddrPort            { return netip.AddrPort{} }
func (s *ServerChannel) Accept() (*StreamChannel, error) { return nil, ErrUnsupported }
func (s *ServerChannel) Close() error                    { return nil }

// StreamChannel is unavailable on this platform.
type StreamChannel struct{}

// Dial always fails with ErrUnsupported on this platform.
func Dial(ctx context.Context, addr string) (*StreamChannel, error) { return nil, ErrUnsupported }

func (c *StreamChannel) FinishConnect() (bool, error)     { return false, ErrUnsupported }
func (c *StreamChannel) Fd() int                          { return -1 }
func (c *StreamChannel) RemoteAddr() string               { return "" }
func (c *StreamChannel) IsConnected() bool                { return false }
func (c *StreamChannel) IsBlocking() bool                 { return true }
func (c *StreamChannel) SetBlocking(blocking bool) error  { return ErrUnsupported }
func (c *StreamChannel) Read(p []byte) (int, error)       { return 0, ErrUnsupported }
func (c *StreamChannel) Write(p []byte) (int, error)      { return 0, ErrUnsupported }
func (c *StreamChannel) Close() error                     { return nil }
