package chatserver

import (
	"github.com/cyberinferno/groupchat/logger"
	"github.com/cyberinferno/groupchat/nbio"
	"github.com/cyberinferno/groupchat/reactor"
)

// handle performs the accept or read action for one ready registration.
// Registrations cancelled earlier in the same batch are skipped.
func (s *Server) handle(key *reactor.Key) {
	if !key.Valid() {
		return
	}

	switch {
	case key == s.listenerKey && key.IsAcceptable():
		s.accept()
	case key.IsReadable():
		if conn, ok := s.registry.Lookup(key); ok {
			s.read(conn)
		}
	}
}

// accept admits exactly one pending connection and announces it to the
// other peers.
func (s *Server) accept() {
	ch, err := s.listener.Accept()
	if err != nil {
		if !nbio.IsWouldBlock(err) {
			s.log.Warn("accept failed", logger.Field{Key: "error", Value: err})
		}
		return
	}

	if err := ch.SetBlocking(false); err != nil {
		s.log.Warn("configure peer failed", logger.Field{Key: "addr", Value: ch.RemoteAddr()}, logger.Field{Key: "error", Value: err})
		_ = ch.Close()
		return
	}

	conn, err := s.registry.Admit(ch)
	if err != nil {
		s.log.Warn("admit peer failed", logger.Field{Key: "addr", Value: ch.RemoteAddr()}, logger.Field{Key: "error", Value: err})
		_ = ch.Close()
		return
	}

	s.online.Add(conn.RemoteAddr())
	notice := JoinNotice(conn.RemoteAddr())
	s.log.Info(notice, logger.Field{Key: "peers", Value: s.registry.Len()})
	s.broadcast(conn, notice)
}

// read performs one read into the peer's buffer. Whatever it yields, zero
// bytes included, is broadcast as one message; end-of-stream or a read error
// disconnects the peer.
func (s *Server) read(conn *Connection) {
	buf := s.registry.Buffer(conn)
	buf.Clear()

	_, err := buf.Fill(conn.channel)
	switch nbio.Classify(err) {
	case nbio.OutcomeOK, nbio.OutcomeWouldBlock:
		buf.Flip()
		msg := ChatMessage(conn.RemoteAddr(), buf.String())
		s.log.Info(msg)
		s.broadcast(conn, msg)
	default:
		s.disconnect(conn, err)
	}
}

// disconnect deregisters and closes the peer, then announces its departure.
func (s *Server) disconnect(conn *Connection, cause error) {
	if err := s.registry.Remove(conn); err != nil {
		s.log.Warn("closing peer", logger.Field{Key: "addr", Value: conn.RemoteAddr()}, logger.Field{Key: "error", Value: err})
	}

	s.online.Remove(conn.RemoteAddr())
	notice := LeaveNotice(conn.RemoteAddr())
	s.log.Info(notice,
		logger.Field{Key: "reason", Value: nbio.Classify(cause).String()},
		logger.Field{Key: "error", Value: cause},
		logger.Field{Key: "peers", Value: s.registry.Len()},
	)
	s.broadcast(conn, notice)
}
