package chatserver

import "fmt"

// The wire carries no framing: each notice is written as-is and a peer's
// single read is taken as one chat message.

// JoinNotice announces a newly accepted peer.
func JoinNotice(addr string) string {
	return fmt.Sprintf("new user '%s' online", addr)
}

// ChatMessage attributes text read from a peer.
func ChatMessage(addr, text string) string {
	return fmt.Sprintf("user '%s' said: %s", addr, text)
}

// LeaveNotice announces a disconnected peer.
func LeaveNotice(addr string) string {
	return fmt.Sprintf("user '%s' offline", addr)
}
