package port

import (
	"context"
	"errors"
	"syscall"
	"testing"

	psnet "github.com/shirou/gopsutil/v4/net"
)

func conn(typ uint32, status string, lport, rport uint32, pid int32) psnet.ConnectionStat {
	return psnet.ConnectionStat{
		Type:   typ,
		Status: status,
		Laddr:  psnet.Addr{IP: "0.0.0.0", Port: lport},
		Raddr:  psnet.Addr{IP: "0.0.0.0", Port: rport},
		Pid:    pid,
	}
}

func TestSocketsFromConnections(t *testing.T) {
	conns := []psnet.ConnectionStat{
		conn(syscall.SOCK_STREAM, "LISTEN", 3000, 0, 100),
		conn(syscall.SOCK_STREAM, "ESTABLISHED", 51234, 443, 100),
		conn(syscall.SOCK_STREAM, "LISTEN", 0, 0, 100),
		conn(syscall.SOCK_DGRAM, "NONE", 5353, 0, 200),
		conn(syscall.SOCK_DGRAM, "NONE", 40000, 53, 200),
		conn(syscall.SOCK_STREAM, "LISTEN", 22, 0, 0),
	}

	got := socketsFromConnections(conns, false)
	if len(got) != 2 {
		t.Fatalf("expected 2 sockets, got %d: %v", len(got), got)
	}
	if got[0].Port != 3000 || got[0].Protocol != TCP || got[0].PID != 100 {
		t.Errorf("socket[0]: got %v", got[0])
	}
	if got[1].Port != 22 || got[1].PID != 0 {
		t.Errorf("socket[1]: got %v, want unowned port 22", got[1])
	}

	withUDP := socketsFromConnections(conns, true)
	if len(withUDP) != 3 {
		t.Fatalf("expected 3 sockets with UDP, got %d", len(withUDP))
	}
	if withUDP[1].Protocol != UDP || withUDP[1].Port != 5353 {
		t.Errorf("udp socket: got %v", withUDP[1])
	}
}

func TestPsutilSource_Error(t *testing.T) {
	s := NewPsutilSource(false)
	s.connections = func(context.Context, string) ([]psnet.ConnectionStat, error) {
		return nil, errors.New("boom")
	}
	if _, err := s.ListeningSockets(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestLsofScanner_FiltersNonListening(t *testing.T) {
	runner := &MockCmdRunner{Output: []byte(`COMMAND     PID      USER   FD   TYPE             DEVICE SIZE/OFF NODE NAME
node       5678     alice    8u  IPv6 0x1234567892      0t0  TCP *:3000 (LISTEN)
node       5678     alice    9u  IPv6 0x1234567893      0t0  TCP 127.0.0.1:3000->127.0.0.1:50000 (ESTABLISHED)
`)}
	s := NewLsofScanner(runner, false)

	sockets, err := s.ListeningSockets(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sockets) != 1 || sockets[0].Port != 3000 {
		t.Fatalf("expected only the listener, got %v", sockets)
	}
	if len(runner.Calls) != 1 || runner.Calls[0] != "lsof -iTCP -sTCP:LISTEN -P -n" {
		t.Errorf("calls: got %v", runner.Calls)
	}
}

func TestLsofScanner_IncludeUDP(t *testing.T) {
	runner := &MultiMockCmdRunner{Responses: map[string]MockResponse{
		"lsof -iTCP -iUDP -sTCP:LISTEN -P -n": {Output: []byte(`COMMAND     PID      USER   FD   TYPE             DEVICE SIZE/OFF NODE NAME
dnsmasq     300      root    4u  IPv4 0x1234567890      0t0  UDP *:5300
`)},
	}}
	sockets, err := NewLsofScanner(runner, true).ListeningSockets(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sockets) != 1 || sockets[0].Protocol != UDP {
		t.Fatalf("expected one udp socket, got %v", sockets)
	}
}

func TestLsofScanner_Error(t *testing.T) {
	runner := &MockCmdRunner{Err: errors.New("lsof: not found")}
	if _, err := NewLsofScanner(runner, false).ListeningSockets(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

type staticSource struct {
	sockets []Socket
	err     error
	calls   int
}

func (s *staticSource) ListeningSockets(context.Context) ([]Socket, error) {
	s.calls++
	return s.sockets, s.err
}

func TestFallbackSource(t *testing.T) {
	ctx := context.Background()
	primary := &staticSource{sockets: []Socket{{Port: 3000}}}
	secondary := &staticSource{sockets: []Socket{{Port: 4000}}}

	f := &FallbackSource{Primary: primary, Secondary: secondary}
	got, err := f.ListeningSockets(ctx)
	if err != nil || len(got) != 1 || got[0].Port != 3000 {
		t.Fatalf("primary: got %v, %v", got, err)
	}
	if secondary.calls != 0 {
		t.Error("secondary should not be queried when primary succeeds")
	}

	primary.err = errors.New("denied")
	got, err = f.ListeningSockets(ctx)
	if err != nil || len(got) != 1 || got[0].Port != 4000 {
		t.Fatalf("fallback: got %v, %v", got, err)
	}

	secondary.err = errors.New("missing")
	if _, err := f.ListeningSockets(ctx); err == nil {
		t.Fatal("expected joined error when both sources fail")
	}
}

func TestNewSource(t *testing.T) {
	for _, b := range []string{BackendAuto, "", BackendGopsutil, BackendLsof} {
		if _, err := NewSource(b, false, &MockCmdRunner{}); err != nil {
			t.Errorf("NewSource(%q): unexpected error %v", b, err)
		}
	}
	if _, err := NewSource("netstat", false, &MockCmdRunner{}); err == nil {
		t.Error("expected error for unknown backend")
	}
}
