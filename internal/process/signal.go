package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"syscall"

	"github.com/shirou/gopsutil/v4/process"
)

// ErrPermission is returned when the OS refuses to signal the process,
// typically because it belongs to another user.
var ErrPermission = errors.New("operation not permitted")

// Signaler delivers signals and checks liveness.
type Signaler interface {
	Signal(ctx context.Context, pid int, sig syscall.Signal) error
	Alive(ctx context.Context, pid int) bool
}

// PsutilSignaler implements Signaler with gopsutil.
type PsutilSignaler struct{}

// NewSignaler creates a gopsutil-backed Signaler.
func NewSignaler() *PsutilSignaler {
	return &PsutilSignaler{}
}

// Signal sends sig to pid. It returns ErrGone if the process has already
// exited and ErrPermission if the OS rejected the signal.
func (s *PsutilSignaler) Signal(ctx context.Context, pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid PID %d", pid)
	}

	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return ErrGone
		}
		return fmt.Errorf("failed to open process %d: %w", pid, err)
	}

	if err := p.SendSignalWithContext(ctx, sig); err != nil {
		return classifySignalError(pid, sig, err)
	}
	return nil
}

// classifySignalError maps OS errors onto ErrGone and ErrPermission.
func classifySignalError(pid int, sig syscall.Signal, err error) error {
	switch {
	case errors.Is(err, os.ErrProcessDone), errors.Is(err, syscall.ESRCH):
		return ErrGone
	case errors.Is(err, syscall.EPERM), errors.Is(err, os.ErrPermission):
		return fmt.Errorf("failed to send %s to PID %d: %w", SignalName(sig), pid, ErrPermission)
	default:
		return fmt.Errorf("failed to send %s to PID %d: %w", SignalName(sig), pid, err)
	}
}

// Alive reports whether pid still exists and is not a zombie.
func (s *PsutilSignaler) Alive(ctx context.Context, pid int) bool {
	if pid <= 0 {
		return false
	}
	exists, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil || !exists {
		return false
	}

	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return false
	}
	if status, err := p.StatusWithContext(ctx); err == nil && slices.Contains(status, process.Zombie) {
		return false
	}
	return true
}

// SignalName returns the conventional name of sig.
func SignalName(sig syscall.Signal) string {
	switch sig {
	case syscall.SIGTERM:
		return "SIGTERM"
	case syscall.SIGKILL:
		return "SIGKILL"
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGHUP:
		return "SIGHUP"
	default:
		return fmt.Sprintf("signal(%d)", sig)
	}
}
