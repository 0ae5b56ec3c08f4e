//go:build linux

package reactor

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sys/unix"
)

const defaultMaxEvents = 128

// Poller is an epoll-backed readiness multiplexer. Registrations are level
// triggered: a channel with unread data is reported again on the next Wait.
type Poller struct {
	epfd      int
	keys      keyTable
	events    []unix.EpollEvent
	lastReady []*Key
	closed    bool
}

// New creates a Poller that reports at most maxEvents ready registrations
// per Wait. A non-positive maxEvents selects the default of 128.
//
// Parameters:
//   - maxEvents: Upper bound on ready registrations returned by one Wait
//
// Returns:
//   - The Poller, or an error if the epoll instance could not be created
func New(maxEvents int) (*Poller, error) {
	if maxEvents <= 0 {
		maxEvents = defaultMaxEvents
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	return &Poller{
		epfd:   epfd,
		keys:   newKeyTable(),
		events: make([]unix.EpollEvent, maxEvents),
	}, nil
}

// Register starts watching ch for the given event kinds.
//
// Parameters:
//   - ch: The channel to watch
//   - interest: Readable for connected peers, Acceptable for listeners
//
// Returns:
//   - The new registration
//   - ErrClosed, ErrAlreadyRegistered, or the epoll_ctl error
func (p *Poller) Register(ch Channel, interest Interest) (*Key, error) {
	if p.closed {
		return nil, ErrClosed
	}

	k, err := p.keys.add(ch, interest)
	if err != nil {
		return nil, err
	}

	ev := unix.EpollEvent{Events: epollEvents(interest), Fd: int32(ch.Fd())}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, ch.Fd(), &ev); err != nil {
		p.keys.remove(k)
		return nil, fmt.Errorf("epoll_ctl add fd %d: %w", ch.Fd(), err)
	}

	return k, nil
}

// Cancel stops watching the key's channel and invalidates the key. It must
// be called before the channel is closed. Cancelling an invalid key is a no-op.
func (p *Poller) Cancel(k *Key) error {
	if p.closed || k == nil || !k.valid {
		return nil
	}

	if !p.keys.remove(k) {
		return nil
	}

	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, k.channel.Fd(), nil)
	if err != nil && !errors.Is(err, unix.ENOENT) && !errors.Is(err, unix.EBADF) {
		return fmt.Errorf("epoll_ctl del fd %d: %w", k.channel.Fd(), err)
	}

	return nil
}

// Keys returns every current registration in token order, ready or not.
func (p *Poller) Keys() []*Key {
	return p.keys.snapshot()
}

// Len returns the number of current registrations.
func (p *Poller) Len() int {
	return len(p.keys.order)
}

// Wait blocks for up to timeout until at least one registration is ready.
// An empty result with a nil error means the timeout elapsed or the wait was
// interrupted; callers treat it as an idle iteration. A negative timeout
// waits indefinitely.
//
// Returns:
//   - The ready registrations in token order, each with its Ready set updated
//   - ErrClosed, or the epoll_wait error
func (p *Poller) Wait(timeout time.Duration) ([]*Key, error) {
	if p.closed {
		return nil, ErrClosed
	}

	for _, k := range p.lastReady {
		k.ready = 0
	}
	p.lastReady = p.lastReady[:0]

	n, err := unix.EpollWait(p.epfd, p.events, waitMillis(timeout))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}

		return nil, fmt.Errorf("epoll_wait: %w", err)
	}

	for i := 0; i < n; i++ {
		k, ok := p.keys.byFd[int(p.events[i].Fd)]
		if !ok {
			continue
		}

		k.ready = readyFrom(p.events[i].Events, k.interest)
		if k.ready != 0 {
			p.lastReady = append(p.lastReady, k)
		}
	}

	slices.SortFunc(p.lastReady, func(a, b *Key) int { return cmp.Compare(a.token, b.token) })
	return slices.Clone(p.lastReady), nil
}

// Close releases the epoll instance and invalidates every key. The
// registered channels themselves are not closed. Safe to call multiple times.
func (p *Poller) Close() error {
	if p.closed {
		return nil
	}

	p.closed = true
	p.keys.invalidateAll()
	p.lastReady = nil
	return unix.Close(p.epfd)
}

func epollEvents(interest Interest) uint32 {
	var events uint32
	if interest&Readable != 0 {
		events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}

	if interest&Acceptable != 0 {
		events |= unix.EPOLLIN
	}

	return events
}

// readyFrom maps epoll bits to the registration's interest. Hang-ups and
// errors surface as readable so the next read observes them.
func readyFrom(events uint32, interest Interest) Interest {
	if events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) == 0 {
		return 0
	}

	return interest & (Readable | Acceptable)
}

func waitMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}

	ms := int(timeout / time.Millisecond)
	if ms == 0 && timeout > 0 {
		ms = 1
	}

	return ms
}
