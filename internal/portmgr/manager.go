// Package portmgr combines socket enumeration, process resolution and
// classification into port snapshots, and terminates the processes behind
// them under a protection policy.
package portmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/686f6c61/linux-port-killer/internal/classify"
	"github.com/686f6c61/linux-port-killer/internal/port"
	"github.com/686f6c61/linux-port-killer/internal/process"
)

// Defaults for the termination policy.
const (
	DefaultGracePeriod  = 3 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
	DefaultResolveLimit = 8
)

// ContainerLookup maps published host ports to the containers behind them.
type ContainerLookup interface {
	PublishedPorts(ctx context.Context) (map[int]Container, error)
}

// Manager is the port engine. It keeps no state between calls, so one
// Manager may serve any number of concurrent callers.
type Manager struct {
	source     port.Source
	resolver   process.Resolver
	signaler   process.Signaler
	classifier *classify.Classifier
	containers ContainerLookup
	exclude    map[string]bool

	gracePeriod  time.Duration
	pollInterval time.Duration
	resolveLimit int
	selfPID      int
}

// Option configures a Manager.
type Option func(*Manager)

// WithClassifier sets the classifier used to enrich snapshots.
func WithClassifier(c *classify.Classifier) Option {
	return func(m *Manager) { m.classifier = c }
}

// WithGracePeriod sets how long to wait for a process to exit after each signal.
func WithGracePeriod(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.gracePeriod = d
		}
	}
}

// WithPollInterval sets how often liveness is checked during the grace period.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithResolveLimit bounds the number of processes resolved in parallel.
func WithResolveLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.resolveLimit = n
		}
	}
}

// WithContainerLookup enables container names for docker-proxy ports.
func WithContainerLookup(l ContainerLookup) Option {
	return func(m *Manager) { m.containers = l }
}

// WithExclude hides processes with the given names from every listing.
func WithExclude(names ...string) Option {
	return func(m *Manager) {
		for _, n := range names {
			if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
				m.exclude[n] = true
			}
		}
	}
}

// New creates a Manager.
func New(source port.Source, resolver process.Resolver, signaler process.Signaler, opts ...Option) *Manager {
	m := &Manager{
		source:       source,
		resolver:     resolver,
		signaler:     signaler,
		classifier:   classify.Default(),
		exclude:      make(map[string]bool),
		gracePeriod:  DefaultGracePeriod,
		pollInterval: DefaultPollInterval,
		resolveLimit: DefaultResolveLimit,
		selfPID:      os.Getpid(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Classifier returns the classifier the manager enriches snapshots with.
func (m *Manager) Classifier() *classify.Classifier {
	return m.classifier
}

// ListPorts returns the listening ports ordered by port number. Sockets whose
// owner exits during the call are left out; only a failure to read the
// socket table itself is returned as an error.
func (m *Manager) ListPorts(ctx context.Context, filter Filter) ([]PortProcess, error) {
	sockets, err := m.source.ListeningSockets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list listening sockets: %w", err)
	}
	sockets = dedupe(sockets)

	var pids []int
	for _, s := range sockets {
		if s.PID > 0 {
			pids = append(pids, s.PID)
		}
	}
	infos := process.ResolveAll(ctx, m.resolver, pids, m.resolveLimit)

	rows := make([]PortProcess, 0, len(sockets))
	for _, s := range sockets {
		info := process.Info{PID: s.PID, Partial: true}
		if s.PID > 0 {
			var ok bool
			if info, ok = infos[s.PID]; !ok {
				slog.Debug("dropping socket of exited process", "port", s.Port, "pid", s.PID)
				continue
			}
		}

		row := m.snapshot(s, info)
		if m.exclude[strings.ToLower(row.ProcessName)] {
			continue
		}
		if filter == FilterDevOnly && !row.IsDevPort {
			continue
		}
		rows = append(rows, row)
	}

	m.annotateContainers(ctx, rows)

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Port != rows[j].Port {
			return rows[i].Port < rows[j].Port
		}
		if rows[i].Protocol != rows[j].Protocol {
			return rows[i].Protocol < rows[j].Protocol
		}
		return rows[i].PID < rows[j].PID
	})

	return rows, nil
}

// GetPortInfo returns the snapshot of the process listening on port, or
// ErrNotFound. TCP listeners are preferred over UDP ones.
func (m *Manager) GetPortInfo(ctx context.Context, portNum int) (PortProcess, error) {
	if portNum < 1 || portNum > 65535 {
		return PortProcess{}, fmt.Errorf("%w %d", ErrNotFound, portNum)
	}

	rows, err := m.ListPorts(ctx, FilterAll)
	if err != nil {
		return PortProcess{}, err
	}
	for _, r := range rows {
		if r.Port == portNum {
			return r, nil
		}
	}
	return PortProcess{}, fmt.Errorf("%w %d", ErrNotFound, portNum)
}

// snapshot builds the enriched record for a socket.
func (m *Manager) snapshot(s port.Socket, info process.Info) PortProcess {
	name := info.Name
	if name == "" {
		name = s.Process
	}
	user := info.User
	if user == "" {
		user = s.User
	}

	var cmdline []string
	if len(info.Cmdline) > 0 {
		cmdline = append(cmdline, info.Cmdline...)
	}

	if info.Partial {
		slog.Debug("partial process metadata", "port", s.Port, "pid", s.PID)
	}

	return PortProcess{
		Port:        s.Port,
		Protocol:    s.Protocol,
		Address:     s.Address,
		PID:         s.PID,
		ProcessName: name,
		CommandLine: cmdline,
		User:        user,
		StartTime:   info.StartTime,
		Status:      port.StateListen,
		IsProtected: m.classifier.IsProtected(name, cmdline),
		IsDevPort:   m.classifier.IsDevPort(s.Port),
		Description: m.classifier.Humanize(name, cmdline),
		Partial:     info.Partial || s.PID <= 0,
	}
}

// annotateContainers names the containers behind docker-proxy rows. A
// container running a protected image makes its proxy protected too.
func (m *Manager) annotateContainers(ctx context.Context, rows []PortProcess) {
	if m.containers == nil {
		return
	}

	var proxied bool
	for _, r := range rows {
		if isDockerProxy(r) {
			proxied = true
			break
		}
	}
	if !proxied {
		return
	}

	published, err := m.containers.PublishedPorts(ctx)
	if err != nil {
		slog.Debug("container lookup failed", "error", err)
		return
	}

	for i := range rows {
		if !isDockerProxy(rows[i]) {
			continue
		}
		c, ok := published[rows[i].Port]
		if !ok {
			continue
		}
		rows[i].Container = c.String()
		rows[i].Description = "Docker Container Port Proxy -> " + c.String()
		if m.classifier.IsProtected(c.Image, nil) || m.classifier.IsProtected(c.Name, nil) {
			rows[i].IsProtected = true
		}
	}
}

func isDockerProxy(r PortProcess) bool {
	return strings.Contains(strings.ToLower(r.ProcessName), "docker-proxy")
}

// dedupe merges sockets that differ only by address family.
func dedupe(sockets []port.Socket) []port.Socket {
	seen := make(map[string]bool, len(sockets))
	out := sockets[:0:0]
	for _, s := range sockets {
		if seen[s.Key()] {
			continue
		}
		seen[s.Key()] = true
		out = append(out, s)
	}
	return out
}

// IsNotFound reports whether err signals a missing listener.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
