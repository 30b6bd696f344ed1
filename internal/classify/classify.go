// Package classify decides whether a port is a development port, whether a
// process is a protected service, and how to describe a process to a human.
// Everything here is pure: no I/O, no mutable state.
package classify

import "strings"

// Classifier bundles the classification tables. A Classifier is immutable
// once built and safe for concurrent use.
type Classifier struct {
	devPorts  DevPortTable
	protected []string
	rules     []Rule
}

// Option customizes a Classifier at construction time.
type Option func(*Classifier)

// WithDevPorts replaces the development port table.
func WithDevPorts(t DevPortTable) Option {
	return func(c *Classifier) { c.devPorts = t.Extend(nil, nil) }
}

// WithProtected adds identifiers to the protected-service table.
func WithProtected(names ...string) Option {
	return func(c *Classifier) {
		for _, n := range names {
			n = strings.ToLower(strings.TrimSpace(n))
			if n != "" {
				c.protected = append(c.protected, n)
			}
		}
	}
}

// WithRules replaces the humanization rules.
func WithRules(rules []Rule) Option {
	return func(c *Classifier) { c.rules = append([]Rule(nil), rules...) }
}

// New creates a Classifier from the built-in tables and the given options.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		devPorts:  DefaultDevPorts(),
		protected: DefaultProtected(),
		rules:     DefaultRules(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var defaultClassifier = New()

// Default returns the Classifier built from the built-in tables.
func Default() *Classifier {
	return defaultClassifier
}

// IsDevPort reports whether port belongs to the development port table.
func (c *Classifier) IsDevPort(port int) bool {
	return c.devPorts.Contains(port)
}

// IsProtected reports whether the process is a protected service.
func (c *Classifier) IsProtected(name string, cmdline []string) bool {
	return protectedMatch(c.protected, name, cmdline)
}

// Humanize returns a readable description of the process, at most
// MaxDescriptionLen runes. The first matching rule wins; otherwise the command
// line itself is returned.
func (c *Classifier) Humanize(name string, cmdline []string) string {
	cmd := NewCommand(name, cmdline)
	for _, r := range c.rules {
		if r.Match(cmd) {
			if label := strings.TrimSpace(r.Label(cmd)); label != "" {
				return Truncate(label, MaxDescriptionLen)
			}
		}
	}
	return fallback(name, cmdline)
}

// MatchRule returns the ID of the rule that labels the process, or "".
func (c *Classifier) MatchRule(name string, cmdline []string) string {
	cmd := NewCommand(name, cmdline)
	for _, r := range c.rules {
		if r.Match(cmd) {
			return r.ID
		}
	}
	return ""
}

// DevPorts returns a copy of the development port table.
func (c *Classifier) DevPorts() DevPortTable {
	return c.devPorts.Extend(nil, nil)
}

// IsDevPort reports whether port is a development port in the built-in table.
func IsDevPort(port int) bool { return defaultClassifier.IsDevPort(port) }

// IsProtected reports whether the process is protected by the built-in table.
func IsProtected(name string, cmdline []string) bool {
	return defaultClassifier.IsProtected(name, cmdline)
}

// Humanize describes the process using the built-in rules.
func Humanize(name string, cmdline []string) string {
	return defaultClassifier.Humanize(name, cmdline)
}
