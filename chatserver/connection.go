package chatserver

import (
	"github.com/cyberinferno/groupchat/nbio"
	"github.com/cyberinferno/groupchat/reactor"
)

// Connection is one accepted peer. It is owned by the Registry from
// admission until removal.
type Connection struct {
	key     *reactor.Key
	channel *nbio.StreamChannel
	addr    string
	alive   bool
}

// Token returns the identity of the connection's registration.
func (c *Connection) Token() reactor.Token { return c.key.Token() }

// RemoteAddr returns the peer address captured at accept time.
func (c *Connection) RemoteAddr() string { return c.addr }

// Write sends p to the peer with a single non-blocking write.
func (c *Connection) Write(p []byte) (int, error) {
	return c.channel.Write(p)
}
