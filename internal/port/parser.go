package port

import (
	"strconv"
	"strings"
)

// ParseLsofOutput parses the columnar output from lsof -iTCP -iUDP -P -n.
// Each line after the header has fields: COMMAND PID USER FD TYPE DEVICE SIZE/OFF NODE NAME
func ParseLsofOutput(output string) []Socket {
	lines := strings.Split(output, "\n")
	if len(lines) < 2 {
		return nil
	}

	var sockets []Socket
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		s, ok := parseLsofLine(line)
		if !ok {
			continue
		}
		sockets = append(sockets, s)
	}
	return sockets
}

// parseLsofLine parses a single lsof output line into a Socket.
// Format: COMMAND  PID  USER  FD  TYPE  DEVICE  SIZE/OFF  NODE  NAME
func parseLsofLine(line string) (Socket, bool) {
	fields := strings.Fields(line)
	if len(fields) < 9 {
		return Socket{}, false
	}

	pid, err := strconv.Atoi(fields[1])
	if err != nil {
		return Socket{}, false
	}

	proto := parseProtocol(fields[7])
	addr, port, state := parseNameField(strings.Join(fields[8:], " "))
	if port < 0 {
		return Socket{}, false
	}

	return Socket{
		Port:     port,
		Protocol: proto,
		Address:  addr,
		PID:      pid,
		Process:  unescapeLsof(fields[0]),
		User:     fields[2],
		State:    state,
	}, true
}

// parseProtocol converts the NODE field to a Protocol.
func parseProtocol(node string) Protocol {
	if strings.Contains(strings.ToUpper(node), "UDP") {
		return UDP
	}
	return TCP
}

// parseNameField extracts the local address, port number and connection
// state from the NAME field.
// NAME formats:
//   - "*:8080" or "127.0.0.1:8080" (LISTEN implied)
//   - "127.0.0.1:8080->127.0.0.1:54321" (ESTABLISHED)
//   - "*:8080 (LISTEN)" or similar with state in parentheses
//   - "[::1]:3000 (LISTEN)"
//
// For connections with "->", the local (left) side is used.
func parseNameField(name string) (string, int, string) {
	state := ""

	if idx := strings.LastIndex(name, "("); idx != -1 {
		closeParen := strings.LastIndex(name, ")")
		if closeParen > idx {
			state = name[idx+1 : closeParen]
			name = strings.TrimSpace(name[:idx])
		}
	}

	local := name
	if idx := strings.Index(name, "->"); idx != -1 {
		local = name[:idx]
		if state == "" {
			state = "ESTABLISHED"
		}
	}

	addr, portStr := "", local
	if idx := strings.LastIndex(local, ":"); idx != -1 {
		addr = strings.Trim(local[:idx], "[]")
		portStr = local[idx+1:]
	}

	if portStr == "*" {
		return "", -1, ""
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", -1, ""
	}

	if addr == "*" {
		addr = "0.0.0.0"
	}
	if state == "" {
		state = StateListen
	}

	return addr, port, state
}

// unescapeLsof decodes lsof's \x20 escapes in the COMMAND column.
func unescapeLsof(s string) string {
	if !strings.Contains(s, `\x`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if i+3 < len(s) && s[i] == '\\' && s[i+1] == 'x' {
			if v, err := strconv.ParseUint(s[i+2:i+4], 16, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
