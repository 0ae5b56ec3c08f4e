package chatserver

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/cyberinferno/groupchat/bytebuf"
	"github.com/cyberinferno/groupchat/nbio"
	"github.com/cyberinferno/groupchat/reactor"
)

// Registry tracks the open peer connections of one server. Peers are
// enumerated through the multiplexer's registrations, and each peer's read
// buffer lives in a side table keyed by registration token.
//
// A Registry is owned by the event loop goroutine and is not safe for
// concurrent use.
type Registry struct {
	poller     *reactor.Poller
	bufferSize int
	peers      map[reactor.Token]*Connection
	buffers    map[reactor.Token]*bytebuf.Buffer
	allocated  int
}

func newRegistry(poller *reactor.Poller, bufferSize int) *Registry {
	return &Registry{
		poller:     poller,
		bufferSize: bufferSize,
		peers:      make(map[reactor.Token]*Connection),
		buffers:    make(map[reactor.Token]*bytebuf.Buffer),
	}
}

// Admit registers ch for Readable events and takes ownership of it. No
// buffer is attached yet.
//
// Returns:
//   - The new Connection, or the registration error (ch is left open)
func (r *Registry) Admit(ch *nbio.StreamChannel) (*Connection, error) {
	key, err := r.poller.Register(ch, reactor.Readable)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", ch.RemoteAddr(), err)
	}

	conn := &Connection{
		key:     key,
		channel: ch,
		addr:    ch.RemoteAddr(),
		alive:   true,
	}
	r.peers[key.Token()] = conn
	return conn, nil
}

// Lookup returns the connection behind a registration.
func (r *Registry) Lookup(key *reactor.Key) (*Connection, bool) {
	conn, ok := r.peers[key.Token()]
	return conn, ok
}

// Buffer returns the connection's read buffer, allocating it on first use.
// The same Buffer is returned for the lifetime of the connection.
func (r *Registry) Buffer(c *Connection) *bytebuf.Buffer {
	if buf, ok := r.buffers[c.Token()]; ok {
		return buf
	}

	buf := bytebuf.New(r.bufferSize)
	r.buffers[c.Token()] = buf
	r.allocated++
	return buf
}

// Remove cancels the connection's registration, then closes its channel and
// drops its buffer. Removing an already removed connection is a no-op.
func (r *Registry) Remove(c *Connection) error {
	if !c.alive {
		return nil
	}

	c.alive = false
	delete(r.peers, c.Token())
	delete(r.buffers, c.Token())

	return errors.Join(r.poller.Cancel(c.key), c.channel.Close())
}

// Peers returns the registered connections in registration order.
func (r *Registry) Peers() []*Connection {
	keys := r.poller.Keys()
	out := make([]*Connection, 0, len(r.peers))
	for _, k := range keys {
		if conn, ok := r.peers[k.Token()]; ok {
			out = append(out, conn)
		}
	}

	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int { return len(r.peers) }

// CloseAll removes every connection without notifying anyone. It works from
// the registry's own table, so peers are released even after the multiplexer
// has been closed.
func (r *Registry) CloseAll() error {
	tokens := slices.Sorted(maps.Keys(r.peers))

	var errs []error
	for _, token := range tokens {
		errs = append(errs, r.Remove(r.peers[token]))
	}

	return errors.Join(errs...)
}
