// Package nbio provides non-blocking byte-stream channels over raw sockets:
// a ServerChannel that listens and accepts, and a StreamChannel that connects,
// reads, writes and closes with a configurable blocking mode.
//
// Channels expose their file descriptor so they can be registered with a
// readiness multiplexer. Operations never wait for readiness themselves; when
// no progress is possible they return ErrWouldBlock.
package nbio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
)

var (
	// ErrWouldBlock means the operation cannot make progress now; wait for
	// readiness and try again. It is expected control flow, not a failure.
	ErrWouldBlock = errors.New("nbio: would block")

	// ErrClosed is returned by operations on a channel that was closed locally.
	ErrClosed = errors.New("nbio: channel closed")

	// ErrUnsupported is returned on platforms without raw socket support.
	ErrUnsupported = errors.New("nbio: unsupported platform")
)

// Outcome classifies the result of a single read or write call.
type Outcome uint8

const (
	OutcomeFailure     Outcome = iota // any error other than the ones below
	OutcomeOK                         // progress, possibly zero bytes
	OutcomeWouldBlock                 // no progress without waiting
	OutcomeEndOfStream                // the peer will never send more bytes
)

// String returns a human-readable name for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "OK"
	case OutcomeWouldBlock:
		return "WouldBlock"
	case OutcomeEndOfStream:
		return "EndOfStream"
	default:
		return "Failure"
	}
}

// IsWouldBlock reports whether err carries the would-block semantic.
func IsWouldBlock(err error) bool { return errors.Is(err, ErrWouldBlock) }

// Classify maps an I/O error to an Outcome.
//
// Parameters:
//   - err: The error returned by Read, Write or Accept
//
// Returns:
//   - OutcomeOK for nil, OutcomeWouldBlock for ErrWouldBlock, OutcomeEndOfStream
//     for io.EOF and OutcomeFailure otherwise
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case IsWouldBlock(err):
		return OutcomeWouldBlock
	case errors.Is(err, io.EOF):
		return OutcomeEndOfStream
	default:
		return OutcomeFailure
	}
}

// resolve turns "host:port" into an address. An empty host means the IPv6
// wildcard address, which Listen binds dual-stack; names are looked up with
// the default resolver and IPv4 results are preferred.
func resolve(ctx context.Context, addr string) (netip.AddrPort, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid address %q: %w", addr, err)
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid port in %q: %w", addr, err)
	}

	if host == "" {
		return netip.AddrPortFrom(netip.IPv6Unspecified(), uint16(port)), nil
	}

	if ip, err := netip.ParseAddr(host); err == nil {
		return netip.AddrPortFrom(ip.Unmap(), uint16(port)), nil
	}

	ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("resolve %q: %w", host, err)
	}

	if len(ips) == 0 {
		return netip.AddrPort{}, fmt.Errorf("resolve %q: no addresses", host)
	}

	chosen := ips[0].Unmap()
	for _, ip := range ips {
		if ip.Unmap().Is4() {
			chosen = ip.Unmap()
			break
		}
	}

	return netip.AddrPortFrom(chosen, uint16(port)), nil
}
