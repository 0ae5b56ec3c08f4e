package chatserver

import "github.com/cyberinferno/groupchat/logger"

// broadcast writes payload to every registered peer except excluded, in
// registration order. A failed write is logged and skipped; it never stops
// delivery to the remaining peers and is not retried.
//
// Returns:
//   - The number of peers the payload was fully written to
func (s *Server) broadcast(excluded *Connection, payload string) int {
	data := []byte(payload)
	delivered := 0

	for _, peer := range s.registry.Peers() {
		if peer == excluded {
			continue
		}

		if _, err := peer.Write(data); err != nil {
			s.log.Warn("broadcast write failed",
				logger.Field{Key: "addr", Value: peer.RemoteAddr()},
				logger.Field{Key: "error", Value: err},
			)
			continue
		}

		delivered++
	}

	return delivered
}
