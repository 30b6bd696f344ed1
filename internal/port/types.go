package port

import "fmt"

// Protocol represents a network protocol.
type Protocol string

const (
	TCP Protocol = "tcp"
	UDP Protocol = "udp"
)

// StateListen is the socket state surfaced to callers.
const StateListen = "LISTEN"

// Socket is a listening endpoint as reported by the OS, before the owning
// process has been resolved.
type Socket struct {
	Port     int
	Protocol Protocol
	Address  string // local bind address
	PID      int    // 0 when the owner is not visible
	Process  string // name hint from the backend, may be empty
	User     string // owner hint from the backend, may be empty
	State    string
}

// String returns a human-readable representation of the socket.
func (s Socket) String() string {
	return fmt.Sprintf("%d/%s (PID %d, %s)", s.Port, s.Protocol, s.PID, s.Process)
}

// Key identifies a socket binding independent of its address family.
func (s Socket) Key() string {
	return fmt.Sprintf("%d/%s/%d", s.Port, s.Protocol, s.PID)
}
