// Package process resolves and signals the processes that own sockets.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sync/errgroup"
)

// ErrGone is returned when the process no longer exists.
var ErrGone = errors.New("process no longer exists")

// Info holds what could be learned about a process.
type Info struct {
	PID       int
	Name      string
	Cmdline   []string
	User      string
	StartTime time.Time

	// Partial is set when some metadata could not be read, usually because
	// the process belongs to another user.
	Partial bool
}

// Resolver looks up process metadata by PID.
type Resolver interface {
	Resolve(ctx context.Context, pid int) (Info, error)
}

// PsutilResolver resolves processes through gopsutil.
type PsutilResolver struct{}

// NewResolver creates a gopsutil-backed Resolver.
func NewResolver() *PsutilResolver {
	return &PsutilResolver{}
}

// Resolve returns the process name, command line, owner and start time.
// A process that vanished yields ErrGone; unreadable fields yield a
// partial Info and a nil error.
func (r *PsutilResolver) Resolve(ctx context.Context, pid int) (Info, error) {
	if pid <= 0 {
		return Info{PID: pid, Partial: true}, nil
	}

	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return Info{}, ErrGone
		}
		return Info{}, fmt.Errorf("failed to open process %d: %w", pid, err)
	}

	info := Info{PID: pid}
	var failed bool

	if name, err := p.NameWithContext(ctx); err == nil {
		info.Name = name
	} else {
		failed = true
	}

	if cmdline, err := p.CmdlineSliceWithContext(ctx); err == nil {
		info.Cmdline = cmdline
	} else {
		failed = true
	}

	if user, err := p.UsernameWithContext(ctx); err == nil {
		info.User = user
	}

	if ms, err := p.CreateTimeWithContext(ctx); err == nil && ms > 0 {
		info.StartTime = time.UnixMilli(ms)
	}

	if failed {
		if exists, _ := process.PidExistsWithContext(ctx, int32(pid)); !exists {
			return Info{}, ErrGone
		}
		info.Partial = true
	}

	// Kernel threads and some zombies report no name; use argv[0].
	if info.Name == "" && len(info.Cmdline) > 0 {
		info.Name = path.Base(info.Cmdline[0])
	}

	return info, nil
}

// ResolveAll resolves each distinct PID once, at most limit at a time.
// Processes that exited are left out of the result; other failures produce
// a partial entry.
func ResolveAll(ctx context.Context, r Resolver, pids []int, limit int) map[int]Info {
	if limit <= 0 {
		limit = 1
	}

	var (
		mu  sync.Mutex
		out = make(map[int]Info, len(pids))
		g   errgroup.Group
	)
	g.SetLimit(limit)

	seen := make(map[int]bool, len(pids))
	for _, pid := range pids {
		if seen[pid] {
			continue
		}
		seen[pid] = true

		g.Go(func() error {
			info, err := r.Resolve(ctx, pid)
			switch {
			case errors.Is(err, ErrGone):
				slog.Debug("process exited during resolution", "pid", pid)
				return nil
			case err != nil:
				slog.Debug("partial process resolution", "pid", pid, "error", err)
				info = Info{PID: pid, Partial: true}
			}

			mu.Lock()
			out[pid] = info
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return out
}
