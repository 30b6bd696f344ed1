package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/686f6c61/linux-port-killer/internal/config"
	"github.com/686f6c61/linux-port-killer/internal/port"
	"github.com/686f6c61/linux-port-killer/internal/portmgr"
	"github.com/686f6c61/linux-port-killer/internal/process"
	"github.com/686f6c61/linux-port-killer/internal/systemd"
)

type stubProc struct {
	name    string
	cmdline []string
	alive   bool
}

// stubHost serves sockets and processes from memory.
type stubHost struct {
	mu      sync.Mutex
	sockets []port.Socket
	procs   map[int]*stubProc
}

func newStubHost() *stubHost {
	h := &stubHost{procs: map[int]*stubProc{}}
	h.add(3000, 12345, "node", "node", "node_modules/.bin/vite")
	h.add(6379, 200, "redis-server", "/usr/bin/redis-server", "127.0.0.1:6379")
	return h
}

func (h *stubHost) add(portNum, pid int, name string, cmdline ...string) {
	h.sockets = append(h.sockets, port.Socket{Port: portNum, Protocol: port.TCP, Address: "127.0.0.1", PID: pid, State: port.StateListen})
	h.procs[pid] = &stubProc{name: name, cmdline: cmdline, alive: true}
}

func (h *stubHost) ListeningSockets(context.Context) ([]port.Socket, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []port.Socket
	for _, s := range h.sockets {
		if h.procs[s.PID].alive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (h *stubHost) Resolve(_ context.Context, pid int) (process.Info, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.procs[pid]
	if !ok || !p.alive {
		return process.Info{}, process.ErrGone
	}
	return process.Info{PID: pid, Name: p.name, Cmdline: p.cmdline, User: "dev"}, nil
}

func (h *stubHost) Signal(_ context.Context, pid int, _ syscall.Signal) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.procs[pid]
	if !ok || !p.alive {
		return process.ErrGone
	}
	p.alive = false
	return nil
}

func (h *stubHost) Alive(_ context.Context, pid int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.procs[pid]
	return ok && p.alive
}

type stubUnits struct{}

func (stubUnits) UnitForPID(_ context.Context, pid int) (systemd.Unit, error) {
	if pid == 200 {
		return systemd.Unit{Name: "redis-server.service"}, nil
	}
	return systemd.Unit{}, errors.New("not a unit")
}

// execute runs the CLI against h with fresh flag state.
func execute(t *testing.T, h *stubHost, stdin string, args ...string) (string, error) {
	t.Helper()

	jsonOutput, verbose, forceKill, assumeYes = false, false, false, false
	watchDev, watchAlert, watchInterval = false, false, 0
	filterPort, filterProc, filterProto = 0, "", ""
	t.Setenv(config.EnvColor, "false")

	newEngine = func(*config.Config) (*portmgr.Manager, func(), error) {
		m := portmgr.New(h, h, h, portmgr.WithGracePeriod(20*time.Millisecond), portmgr.WithPollInterval(time.Millisecond))
		return m, func() {}, nil
	}
	units = stubUnits{}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "config.yaml")}, args...))

	err := rootCmd.Execute()
	return out.String(), err
}

func requireExitCode(t *testing.T, err error, code int) {
	t.Helper()
	var exitErr *ExitCodeError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, code, exitErr.Code)
}

func TestList(t *testing.T) {
	out, err := execute(t, newStubHost(), "", "list")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "PORT")
	assert.Contains(t, lines[1], "3000")
	assert.Contains(t, lines[1], "Vite Dev Server")
	assert.Contains(t, lines[1], "[D]")
	assert.Contains(t, lines[2], "6379")
	assert.Contains(t, lines[2], "[P]")
}

func TestListDev_JSON(t *testing.T) {
	out, err := execute(t, newStubHost(), "", "list-dev", "--json")
	require.NoError(t, err)

	var rows []jsonRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, 3000, rows[0].Port)
	assert.Equal(t, 12345, rows[0].PID)
	assert.True(t, rows[0].DevPort)
	assert.False(t, rows[0].Protected)
}

func TestList_ProcessFilter(t *testing.T) {
	out, err := execute(t, newStubHost(), "", "list", "--process", "redis")
	require.NoError(t, err)
	assert.NotContains(t, out, "3000")
	assert.Contains(t, out, "6379")
}

func TestKill(t *testing.T) {
	h := newStubHost()
	out, err := execute(t, h, "", "kill", "3000")
	require.NoError(t, err)
	assert.Contains(t, out, "terminated node (PID 12345) with SIGTERM")
	assert.False(t, h.Alive(context.Background(), 12345))
}

func TestKill_NotFound(t *testing.T) {
	out, err := execute(t, newStubHost(), "", "kill", "4000")
	requireExitCode(t, err, ExitNotFound)
	assert.Contains(t, out, "not_found")
}

func TestKill_InvalidPort(t *testing.T) {
	_, err := execute(t, newStubHost(), "", "kill", "http")
	assert.ErrorContains(t, err, "invalid port number")
}

func TestKill_ProtectedPromptDeclined(t *testing.T) {
	h := newStubHost()
	out, err := execute(t, h, "n\n", "kill", "6379")

	requireExitCode(t, err, ExitConfirmationRequired)
	assert.Contains(t, out, "protected service")
	assert.True(t, h.Alive(context.Background(), 200))
}

func TestKill_ProtectedPromptAccepted(t *testing.T) {
	h := newStubHost()
	out, err := execute(t, h, "y\n", "kill", "6379")

	require.NoError(t, err)
	assert.Contains(t, out, "terminated redis-server")
	assert.False(t, h.Alive(context.Background(), 200))
}

func TestKill_ProtectedWithYes(t *testing.T) {
	h := newStubHost()
	out, err := execute(t, h, "", "kill", "6379", "-y", "--json")
	require.NoError(t, err)

	var results []jsonResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, "terminated", results[0].State)
}

func TestKillDev(t *testing.T) {
	h := newStubHost()
	h.add(8000, 300, "python3", "python3", "manage.py", "runserver")

	out, err := execute(t, h, "", "kill-dev", "-y")
	require.NoError(t, err)
	assert.Contains(t, out, "port 3000")
	assert.Contains(t, out, "port 8000")
	assert.NotContains(t, out, "port 6379")
	assert.True(t, h.Alive(context.Background(), 200))
}

func TestKillDev_Aborted(t *testing.T) {
	h := newStubHost()
	out, err := execute(t, h, "no\n", "kill-dev")
	require.NoError(t, err)
	assert.Contains(t, out, "Aborted.")
	assert.True(t, h.Alive(context.Background(), 12345))
}

func TestKillDev_ProtectedDevPortNeedsYes(t *testing.T) {
	h := newStubHost()
	h.add(3306, 400, "mysqld", "/usr/sbin/mysqld")

	out, err := execute(t, h, "y\n", "kill-dev")
	requireExitCode(t, err, ExitConfirmationRequired)
	assert.Contains(t, out, "confirmation_required")
	assert.False(t, h.Alive(context.Background(), 12345))
	assert.True(t, h.Alive(context.Background(), 400))
}

func TestListDev_ProtectedDevPort(t *testing.T) {
	h := newStubHost()
	h.add(5432, 400, "postgres", "/usr/lib/postgresql/16/bin/postgres")

	out, err := execute(t, h, "", "list-dev", "--json")
	require.NoError(t, err)

	var rows []jsonRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, 5432, rows[1].Port)
	assert.True(t, rows[1].DevPort)
	assert.True(t, rows[1].Protected)
}

func TestInfo(t *testing.T) {
	out, err := execute(t, newStubHost(), "", "info", "6379")
	require.NoError(t, err)
	assert.Contains(t, out, "redis-server (PID 200)")
	assert.Contains(t, out, "Unit:        redis-server.service")
	assert.Contains(t, out, "Protected:   yes")
}

func TestInfo_JSON(t *testing.T) {
	out, err := execute(t, newStubHost(), "", "info", "3000", "--json")
	require.NoError(t, err)

	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "node-vite", info["rule"])
	assert.Equal(t, "Vite Dev Server", info["description"])
	assert.NotContains(t, info, "unit")
}

func TestInfo_NotFound(t *testing.T) {
	_, err := execute(t, newStubHost(), "", "info", "9999")
	requireExitCode(t, err, ExitNotFound)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		result portmgr.KillResult
		want   int
	}{
		{portmgr.KillResult{Success: true}, 0},
		{portmgr.KillResult{Reason: portmgr.ReasonNotFound}, ExitNotFound},
		{portmgr.KillResult{Reason: portmgr.ReasonPermissionDenied}, ExitPermissionDenied},
		{portmgr.KillResult{Reason: portmgr.ReasonConfirmationRequired}, ExitConfirmationRequired},
		{portmgr.KillResult{Reason: portmgr.ReasonStillRunning}, ExitStillRunning},
		{portmgr.KillResult{Reason: portmgr.ReasonRefused}, ExitError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exitCode(tt.result), string(tt.result.Reason))
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		got, err := confirm(strings.NewReader(tt.input), &out, "Continue?")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
		assert.Equal(t, "Continue? [y/N] ", out.String())
	}
}

func TestFindNewRows(t *testing.T) {
	baseline := makePortKeySet([]portmgr.PortProcess{{Port: 3000, Protocol: port.TCP}})
	current := []portmgr.PortProcess{
		{Port: 3000, Protocol: port.TCP, PID: 2},
		{Port: 8080, Protocol: port.TCP},
	}

	added := findNewRows(current, baseline)
	require.Len(t, added, 1)
	assert.Equal(t, 8080, added[0].Port)
}

func TestGenerateCompletionFlagHidden(t *testing.T) {
	f := rootCmd.Flags().Lookup("generate-completion")
	require.NotNil(t, f)
	assert.True(t, f.Hidden)
}
