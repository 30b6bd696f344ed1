// Package port enumerates listening sockets on the local host.
package port

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"syscall"

	psnet "github.com/shirou/gopsutil/v4/net"
)

// Source enumerates the host's listening sockets.
type Source interface {
	ListeningSockets(ctx context.Context) ([]Socket, error)
}

// Backend names accepted by NewSource.
const (
	BackendAuto     = "auto"
	BackendGopsutil = "gopsutil"
	BackendLsof     = "lsof"
)

// NewSource builds the Source for the named backend. "auto" reads the kernel
// tables through gopsutil and falls back to lsof when that fails; on macOS
// lsof is tried first because it reports sockets of every user.
func NewSource(backend string, includeUDP bool, runner CmdRunner) (Source, error) {
	ps := NewPsutilSource(includeUDP)
	lsof := NewLsofScanner(runner, includeUDP)

	switch backend {
	case BackendGopsutil:
		return ps, nil
	case BackendLsof:
		return lsof, nil
	case BackendAuto, "":
		if runtime.GOOS == "darwin" {
			return &FallbackSource{Primary: lsof, Secondary: ps}, nil
		}
		return &FallbackSource{Primary: ps, Secondary: lsof}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q (use auto, gopsutil or lsof)", backend)
	}
}

// PsutilSource reads the connection table through gopsutil.
type PsutilSource struct {
	includeUDP  bool
	connections func(ctx context.Context, kind string) ([]psnet.ConnectionStat, error)
}

// NewPsutilSource creates a gopsutil-backed Source.
func NewPsutilSource(includeUDP bool) *PsutilSource {
	return &PsutilSource{
		includeUDP:  includeUDP,
		connections: psnet.ConnectionsWithContext,
	}
}

// ListeningSockets returns TCP sockets in LISTEN state and, when enabled,
// unconnected UDP sockets.
func (s *PsutilSource) ListeningSockets(ctx context.Context) ([]Socket, error) {
	conns, err := s.connections(ctx, "inet")
	if err != nil {
		return nil, fmt.Errorf("failed to read connection table: %w", err)
	}
	return socketsFromConnections(conns, s.includeUDP), nil
}

// socketsFromConnections keeps only listening endpoints.
func socketsFromConnections(conns []psnet.ConnectionStat, includeUDP bool) []Socket {
	var sockets []Socket
	for _, c := range conns {
		if c.Laddr.Port == 0 {
			continue
		}

		var proto Protocol
		switch c.Type {
		case syscall.SOCK_STREAM:
			if c.Status != StateListen {
				continue
			}
			proto = TCP
		case syscall.SOCK_DGRAM:
			if !includeUDP || c.Raddr.Port != 0 {
				continue
			}
			proto = UDP
		default:
			continue
		}

		sockets = append(sockets, Socket{
			Port:     int(c.Laddr.Port),
			Protocol: proto,
			Address:  c.Laddr.IP,
			PID:      int(c.Pid),
			State:    StateListen,
		})
	}
	return sockets
}

// LsofScanner implements Source using lsof.
type LsofScanner struct {
	runner     CmdRunner
	includeUDP bool
}

// NewLsofScanner creates a new scanner backed by lsof.
func NewLsofScanner(runner CmdRunner, includeUDP bool) *LsofScanner {
	return &LsofScanner{runner: runner, includeUDP: includeUDP}
}

// ListeningSockets returns all listening sockets reported by lsof.
func (s *LsofScanner) ListeningSockets(ctx context.Context) ([]Socket, error) {
	args := []string{"-iTCP", "-sTCP:LISTEN", "-P", "-n"}
	if s.includeUDP {
		args = []string{"-iTCP", "-iUDP", "-sTCP:LISTEN", "-P", "-n"}
	}

	out, err := s.runner.Run(ctx, "lsof", args...)
	if err != nil {
		// lsof exits 1 when nothing matches.
		if len(out) == 0 && exitCode(err) == 1 {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to run lsof: %w", err)
	}

	var sockets []Socket
	for _, sock := range ParseLsofOutput(string(out)) {
		if sock.State != StateListen {
			continue
		}
		sockets = append(sockets, sock)
	}
	return sockets, nil
}

// FallbackSource queries Secondary when Primary fails.
type FallbackSource struct {
	Primary   Source
	Secondary Source
}

// ListeningSockets returns the first successful enumeration.
func (f *FallbackSource) ListeningSockets(ctx context.Context) ([]Socket, error) {
	sockets, err := f.Primary.ListeningSockets(ctx)
	if err == nil {
		return sockets, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	slog.Debug("primary socket source failed, falling back", "error", err)

	sockets, err2 := f.Secondary.ListeningSockets(ctx)
	if err2 != nil {
		return nil, errors.Join(err, err2)
	}
	return sockets, nil
}
