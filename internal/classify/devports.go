package classify

import (
	"fmt"
	"strconv"
	"strings"
)

// PortRange is an inclusive range of port numbers.
type PortRange struct {
	Start int
	End   int
}

// Contains reports whether port falls inside the range.
func (r PortRange) Contains(port int) bool {
	return port >= r.Start && port <= r.End
}

// String returns the range in "start-end" form.
func (r PortRange) String() string {
	if r.Start == r.End {
		return strconv.Itoa(r.Start)
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// ParsePortRange parses "3000-3999" or a single port "5173".
func ParsePortRange(s string) (PortRange, error) {
	s = strings.TrimSpace(s)
	lo, hi, found := strings.Cut(s, "-")
	start, err := parsePort(lo)
	if err != nil {
		return PortRange{}, err
	}
	end := start
	if found {
		end, err = parsePort(hi)
		if err != nil {
			return PortRange{}, err
		}
	}
	if end < start {
		return PortRange{}, fmt.Errorf("invalid port range %q: end before start", s)
	}
	return PortRange{Start: start, End: end}, nil
}

func parsePort(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", s, err)
	}
	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("port %d out of range 1-65535", n)
	}
	return n, nil
}

// DevPortTable is the set of ports conventionally used by development tooling.
type DevPortTable struct {
	Ranges []PortRange
	Ports  []int
}

// DefaultDevPorts returns the built-in development port table.
func DefaultDevPorts() DevPortTable {
	return DevPortTable{
		Ranges: []PortRange{
			{3000, 3999}, // Node.js, React, Next.js
			{4200, 4299}, // Angular CLI
			{5000, 5999}, // Flask
			{8000, 8999}, // Django, FastAPI, Go servers
		},
		Ports: []int{
			5173, // Vite
			8080, // Tomcat, Spring Boot
		},
	}
}

// Contains reports whether port is a development port.
func (t DevPortTable) Contains(port int) bool {
	for _, r := range t.Ranges {
		if r.Contains(port) {
			return true
		}
	}
	for _, p := range t.Ports {
		if p == port {
			return true
		}
	}
	return false
}

// Extend returns a copy of t with the extra ranges and ports appended.
func (t DevPortTable) Extend(ranges []PortRange, ports []int) DevPortTable {
	out := DevPortTable{
		Ranges: make([]PortRange, 0, len(t.Ranges)+len(ranges)),
		Ports:  make([]int, 0, len(t.Ports)+len(ports)),
	}
	out.Ranges = append(append(out.Ranges, t.Ranges...), ranges...)
	out.Ports = append(append(out.Ports, t.Ports...), ports...)
	return out
}
