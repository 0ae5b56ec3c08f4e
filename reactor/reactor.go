// Package reactor provides a readiness multiplexer: channels are registered
// for a set of event kinds, and Wait blocks up to a timeout until at least one
// registration is ready, returning the ready subset.
//
// A Poller is owned by a single goroutine. Register, Cancel, Keys and Wait
// must not be called concurrently.
package reactor

import (
	"errors"
	"slices"
)

var (
	// ErrClosed is returned by operations on a closed Poller.
	ErrClosed = errors.New("reactor: poller closed")

	// ErrUnsupported is returned on platforms without a multiplexing backend.
	ErrUnsupported = errors.New("reactor: unsupported platform")

	// ErrAlreadyRegistered is returned when a descriptor is registered twice.
	ErrAlreadyRegistered = errors.New("reactor: channel already registered")
)

// Channel is anything exposing a file descriptor that can be watched.
type Channel interface {
	Fd() int
}

// Interest is a set of event kinds a registration is watched for.
type Interest uint8

const (
	Readable   Interest = 1 << iota // data, end-of-stream or an error is pending
	Acceptable                      // a listening channel has a pending connection
)

// String returns a compact representation such as "read|accept".
func (i Interest) String() string {
	switch i {
	case 0:
		return "none"
	case Readable:
		return "read"
	case Acceptable:
		return "accept"
	case Readable | Acceptable:
		return "read|accept"
	default:
		return "unknown"
	}
}

// Token identifies a registration. Tokens are assigned in registration order
// and never reused by the same Poller.
type Token uint32

// Key is the registration of a Channel with a Poller.
type Key struct {
	token    Token
	channel  Channel
	interest Interest
	ready    Interest
	valid    bool
}

// Token returns the registration's identity.
func (k *Key) Token() Token { return k.token }

// Interest returns the event kinds the registration is watched for.
func (k *Key) Interest() Interest { return k.interest }

// Ready returns the event kinds reported by the last Wait that included this key.
func (k *Key) Ready() Interest { return k.ready }

// IsReadable reports whether the last Wait found the channel readable.
func (k *Key) IsReadable() bool { return k.ready&Readable != 0 }

// IsAcceptable reports whether the last Wait found a pending connection.
func (k *Key) IsAcceptable() bool { return k.ready&Acceptable != 0 }

// Valid reports whether the registration is still active. A key becomes
// invalid when cancelled or when its Poller is closed.
func (k *Key) Valid() bool { return k.valid }

// keyTable keeps registrations in token order, which is also the order Keys
// and Wait report them in.
type keyTable struct {
	next  Token
	byFd  map[int]*Key
	order []*Key
}

func newKeyTable() keyTable {
	return keyTable{byFd: make(map[int]*Key)}
}

func (t *keyTable) add(ch Channel, interest Interest) (*Key, error) {
	if _, ok := t.byFd[ch.Fd()]; ok {
		return nil, ErrAlreadyRegistered
	}

	t.next++
	k := &Key{token: t.next, channel: ch, interest: interest, valid: true}
	t.byFd[ch.Fd()] = k
	t.order = append(t.order, k)
	return k, nil
}

func (t *keyTable) remove(k *Key) bool {
	if cur, ok := t.byFd[k.channel.Fd()]; !ok || cur != k {
		return false
	}

	delete(t.byFd, k.channel.Fd())
	t.order = slices.DeleteFunc(t.order, func(o *Key) bool { return o == k })
	k.valid = false
	k.ready = 0
	return true
}

func (t *keyTable) snapshot() []*Key {
	return slices.Clone(t.order)
}

func (t *keyTable) invalidateAll() {
	for _, k := range t.order {
		k.valid = false
		k.ready = 0
	}

	t.byFd = make(map[int]*Key)
	t.order = nil
}
