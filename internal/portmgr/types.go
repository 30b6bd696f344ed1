package portmgr

import (
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/686f6c61/linux-port-killer/internal/port"
)

// ErrNotFound is returned when no process listens on the requested port.
var ErrNotFound = errors.New("no process listening on port")

// Filter selects which ports ListPorts returns.
type Filter int

const (
	FilterAll Filter = iota
	FilterDevOnly
)

// PortProcess is a snapshot of one listening socket and its owner. It is a
// value: a refresh produces new snapshots rather than updating old ones.
type PortProcess struct {
	Port        int
	Protocol    port.Protocol
	Address     string
	PID         int // 0 when the owner is not visible
	ProcessName string
	CommandLine []string
	User        string
	StartTime   time.Time
	Status      string
	IsProtected bool
	IsDevPort   bool
	Description string
	Container   string // "name (image)" for published container ports

	// Partial marks a degraded record whose process metadata could not be
	// fully read.
	Partial bool
}

// String returns a human-readable representation of the snapshot.
func (p PortProcess) String() string {
	return fmt.Sprintf("%d/%s (PID %d, %s)", p.Port, p.Protocol, p.PID, p.ProcessName)
}

// Signal names the signal a termination attempt ended with.
type Signal string

const (
	SignalNone Signal = ""
	SignalTerm Signal = "SIGTERM"
	SignalKill Signal = "SIGKILL"
)

func (s Signal) syscall() syscall.Signal {
	if s == SignalKill {
		return syscall.SIGKILL
	}
	return syscall.SIGTERM
}

// State is the terminal state of a termination attempt.
type State string

const (
	StateTerminated       State = "terminated"
	StateFailed           State = "failed"
	StateProtectedBlocked State = "protected_blocked"
)

// Reason explains why a termination attempt did not succeed.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonNotFound             Reason = "not_found"
	ReasonPermissionDenied     Reason = "permission_denied"
	ReasonConfirmationRequired Reason = "confirmation_required"
	ReasonStillRunning         Reason = "still_running"
	ReasonRefused              Reason = "refused"
	ReasonError                Reason = "error"
)

// KillOptions control a termination attempt.
type KillOptions struct {
	// Force sends SIGKILL straight away instead of SIGTERM first.
	Force bool
	// Confirmed allows terminating protected processes.
	Confirmed bool
}

// KillResult reports the outcome of a termination attempt for one port.
type KillResult struct {
	Port        int
	PID         int
	ProcessName string
	Success     bool
	Signal      Signal
	Escalated   bool
	State       State
	Reason      Reason
	Err         error
}

// String summarizes the result for logs and CLI output.
func (r KillResult) String() string {
	if r.Success {
		if r.Signal == SignalNone {
			return fmt.Sprintf("port %d: %s (PID %d) already exited", r.Port, r.ProcessName, r.PID)
		}
		return fmt.Sprintf("port %d: terminated %s (PID %d) with %s", r.Port, r.ProcessName, r.PID, r.Signal)
	}
	msg := fmt.Sprintf("port %d: %s", r.Port, r.Reason)
	if r.PID > 0 {
		msg = fmt.Sprintf("port %d: %s (PID %d): %s", r.Port, r.ProcessName, r.PID, r.Reason)
	}
	if r.Err != nil {
		msg += ": " + r.Err.Error()
	}
	return msg
}

// Container identifies the container behind a published port.
type Container struct {
	Name  string
	Image string
}

// String returns "name (image)".
func (c Container) String() string {
	if c.Image == "" {
		return c.Name
	}
	return fmt.Sprintf("%s (%s)", c.Name, c.Image)
}
