package portmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/686f6c61/linux-port-killer/internal/process"
)

// KillPort terminates the process listening on portNum.
//
// A protected process is never signaled unless opts.Confirmed is set. Without
// opts.Force the process gets SIGTERM and, if it outlives the grace period,
// SIGKILL. With opts.Force it gets a single SIGKILL.
func (m *Manager) KillPort(ctx context.Context, portNum int, opts KillOptions) KillResult {
	row, err := m.GetPortInfo(ctx, portNum)
	if err != nil {
		res := KillResult{Port: portNum, State: StateFailed, Reason: ReasonNotFound}
		if !errors.Is(err, ErrNotFound) {
			res.Reason, res.Err = ReasonError, err
		}
		return res
	}
	return m.kill(ctx, row, opts)
}

// KillDevPorts terminates every process listening on a development port.
// It returns one result per development port, in port order, and keeps going
// past individual failures. Only a failure to enumerate ports is an error.
func (m *Manager) KillDevPorts(ctx context.Context, opts KillOptions) ([]KillResult, error) {
	rows, err := m.ListPorts(ctx, FilterDevOnly)
	if err != nil {
		return nil, err
	}

	results := make([]KillResult, 0, len(rows))
	for _, row := range rows {
		results = append(results, m.kill(ctx, row, opts))
	}
	return results, nil
}

// kill runs the termination policy against a snapshot.
func (m *Manager) kill(ctx context.Context, row PortProcess, opts KillOptions) KillResult {
	res := KillResult{
		Port:        row.Port,
		PID:         row.PID,
		ProcessName: row.ProcessName,
		State:       StateFailed,
	}

	if row.IsProtected && !opts.Confirmed {
		res.State = StateProtectedBlocked
		res.Reason = ReasonConfirmationRequired
		return res
	}

	// An owner we cannot see belongs to someone else.
	if row.PID <= 0 {
		res.Reason = ReasonPermissionDenied
		res.Err = fmt.Errorf("owner of port %d is not visible to this user", row.Port)
		return res
	}

	if row.PID == 1 || row.PID == m.selfPID {
		res.Reason = ReasonRefused
		res.Err = fmt.Errorf("refusing to signal PID %d", row.PID)
		return res
	}

	// Guard against the PID having been reused since the snapshot.
	current, err := m.resolver.Resolve(ctx, row.PID)
	if errors.Is(err, process.ErrGone) {
		return terminated(res, SignalNone)
	}
	if err == nil && !sameProcess(current.Name, row.ProcessName) {
		res.Reason = ReasonNotFound
		res.Err = fmt.Errorf("PID %d is now %q, expected %q", row.PID, current.Name, row.ProcessName)
		return res
	}

	sig := SignalTerm
	if opts.Force {
		sig = SignalKill
	}

	if done, failed := m.send(ctx, &res, sig); done {
		return failed
	}
	gone, err := m.waitGone(ctx, row.PID)
	if err != nil {
		res.Reason, res.Err = ReasonError, err
		return res
	}
	if gone {
		return terminated(res, sig)
	}
	if opts.Force {
		res.Reason = ReasonStillRunning
		return res
	}

	slog.Debug("process ignored SIGTERM, escalating", "port", row.Port, "pid", row.PID, "grace", m.gracePeriod)
	if done, failed := m.send(ctx, &res, SignalKill); done {
		return failed
	}
	res.Escalated = true
	gone, err = m.waitGone(ctx, row.PID)
	if err != nil {
		res.Reason, res.Err = ReasonError, err
		return res
	}
	if gone {
		return terminated(res, SignalKill)
	}
	res.Reason = ReasonStillRunning
	return res
}

// send delivers sig and records it on res. It reports done when the attempt
// is already decided, together with the final result.
func (m *Manager) send(ctx context.Context, res *KillResult, sig Signal) (bool, KillResult) {
	err := m.signaler.Signal(ctx, res.PID, sig.syscall())
	switch {
	case err == nil:
		res.Signal = sig
		return false, *res
	case errors.Is(err, process.ErrGone):
		// Another caller got there first.
		return true, terminated(*res, res.Signal)
	case errors.Is(err, process.ErrPermission):
		res.Reason, res.Err = ReasonPermissionDenied, err
		return true, *res
	default:
		res.Reason, res.Err = ReasonError, err
		return true, *res
	}
}

// waitGone polls liveness until the process exits or the grace period ends.
func (m *Manager) waitGone(ctx context.Context, pid int) (bool, error) {
	deadline := time.Now().Add(m.gracePeriod)
	timer := time.NewTimer(m.pollInterval)
	defer timer.Stop()

	for {
		if !m.signaler.Alive(ctx, pid) {
			return true, nil
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
			timer.Reset(m.pollInterval)
		}
	}
}

// sameProcess compares process names, tolerating backends that truncate them.
func sameProcess(a, b string) bool {
	if a == "" || b == "" {
		return true
	}
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

func terminated(res KillResult, sig Signal) KillResult {
	res.Success = true
	res.Signal = sig
	res.State = StateTerminated
	res.Reason = ReasonNone
	res.Err = nil
	return res
}
