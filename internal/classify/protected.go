package classify

import (
	"path"
	"strings"
)

// DefaultProtected lists services whose abrupt termination risks data or
// system integrity.
func DefaultProtected() []string {
	return []string{
		// databases
		"postgres", "postgresql", "mysqld", "mysql", "mariadbd", "mongod", "redis-server",
		// web servers
		"nginx", "apache2", "httpd",
		// container and init daemons
		"dockerd", "containerd", "systemd",
	}
}

// protectedMatch reports whether a process name or command line refers to one
// of the identifiers. The name and argv[0] match by substring to tolerate
// version suffixes; other arguments must match an identifier exactly.
func protectedMatch(identifiers []string, name string, cmdline []string) bool {
	lname := strings.ToLower(name)
	var exe string
	if len(cmdline) > 0 {
		exe = strings.ToLower(baseName(cmdline[0]))
	}

	for _, id := range identifiers {
		if lname != "" && strings.Contains(lname, id) {
			return true
		}
		if exe != "" && strings.Contains(exe, id) {
			return true
		}
	}

	if len(cmdline) < 2 {
		return false
	}
	for _, arg := range cmdline[1:] {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		tok := strings.ToLower(baseName(arg))
		for _, id := range identifiers {
			if tok == id {
				return true
			}
		}
	}
	return false
}

// baseName strips directories and a trailing colon ("postgres:" process titles).
func baseName(s string) string {
	s = strings.TrimRight(strings.TrimSpace(s), ":")
	if s == "" {
		return ""
	}
	return path.Base(s)
}
