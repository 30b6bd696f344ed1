package classify

import (
	"path"
	"strings"
)

// MaxDescriptionLen bounds the length of a description, in runes.
const MaxDescriptionLen = 150

// UnknownProcess is the description used when nothing is known about a process.
const UnknownProcess = "unknown process"

// Command is the normalized view of a process that rules match against.
type Command struct {
	Name  string   // process name as reported by the OS
	Args  []string // raw command line
	exe   string   // lower-cased base name of argv[0]
	name  string   // lower-cased process name
	line  string   // joined command line
	lower string   // lower-cased joined command line
}

// NewCommand builds the rule input for a process.
func NewCommand(name string, cmdline []string) Command {
	line := strings.Join(cmdline, " ")
	c := Command{
		Name:  name,
		Args:  cmdline,
		name:  strings.ToLower(name),
		line:  line,
		lower: strings.ToLower(line),
	}
	if len(cmdline) > 0 {
		c.exe = strings.ToLower(baseName(cmdline[0]))
	}
	return c
}

// has reports whether the joined command line contains s (case-sensitive).
func (c Command) has(s string) bool { return strings.Contains(c.line, s) }

// hasFold reports whether the joined command line contains lower-case s in any case.
func (c Command) hasFold(s string) bool { return strings.Contains(c.lower, s) }

// is reports whether the process name or executable contains s.
func (c Command) is(s string) bool {
	return strings.Contains(c.name, s) || strings.Contains(c.exe, s)
}

// lastArg returns the final argument of the command line.
func (c Command) lastArg() string {
	if len(c.Args) == 0 {
		return ""
	}
	return c.Args[len(c.Args)-1]
}

// flagValue returns the value following flag, or "" when absent.
func (c Command) flagValue(flag string) string {
	for i, a := range c.Args {
		if a == flag && i+1 < len(c.Args) {
			return c.Args[i+1]
		}
		if v, ok := strings.CutPrefix(a, flag+"="); ok {
			return v
		}
	}
	return ""
}

// Rule labels a command when Match holds.
type Rule struct {
	ID    string
	Match func(Command) bool
	Label func(Command) string
}

func static(label string) func(Command) string {
	return func(Command) string { return label }
}

func isVSCode(c Command) bool {
	return strings.Contains(c.name, "code") || c.has("/snap/code/")
}

func isElectronChild(c Command, kind string) bool {
	return c.has("/proc/self/exe") && c.has("type="+kind)
}

func isNode(c Command) bool   { return c.is("node") }
func isPython(c Command) bool { return c.is("python") }
func isJava(c Command) bool   { return c.is("java") }

// DefaultRules is the ordered humanization table. Specific framework
// invocations come before the generic runtime rules they would otherwise match.
func DefaultRules() []Rule {
	return []Rule{
		// VS Code and its helpers
		{"vscode-utility", func(c Command) bool { return isVSCode(c) && isElectronChild(c, "utility") }, static("VSCode - Utility Process")},
		{"vscode-renderer", func(c Command) bool { return isVSCode(c) && isElectronChild(c, "renderer") }, static("VSCode - Renderer Process")},
		{"vscode-pylance", func(c Command) bool { return isVSCode(c) && c.hasFold("pylance") }, static("VSCode - Pylance Language Server")},
		{"vscode-python", func(c Command) bool {
			return isVSCode(c) && c.has("extensions") && c.has(".js") && c.has("ms-python")
		}, static("VSCode - Python Extension")},
		{"vscode-extension-server", func(c Command) bool {
			return isVSCode(c) && c.has("extensions") && c.has(".js") && c.has("ms-vscode")
		}, static("VSCode - Extension Server")},
		{"vscode-extension", func(c Command) bool {
			return isVSCode(c) && c.has("extensions") && c.has(".js")
		}, static("VSCode - Extension Process")},

		// other Electron apps
		{"electron-utility", func(c Command) bool { return isElectronChild(c, "utility") }, func(c Command) string {
			return orUnknown(c.Name) + " - Utility Process"
		}},
		{"electron-renderer", func(c Command) bool { return isElectronChild(c, "renderer") }, func(c Command) string {
			return orUnknown(c.Name) + " - Renderer Process"
		}},

		// Node.js tooling
		{"node-vite", func(c Command) bool { return isNode(c) && c.hasFold("vite") }, static("Vite Dev Server")},
		{"node-webpack", func(c Command) bool { return isNode(c) && c.hasFold("webpack") }, static("Webpack Dev Server")},
		{"node-next", func(c Command) bool { return isNode(c) && c.hasFold("next") }, static("Next.js Dev Server")},
		{"node-react", func(c Command) bool { return isNode(c) && c.hasFold("react-scripts") }, static("React Dev Server")},
		{"node-vue", func(c Command) bool { return isNode(c) && c.hasFold("vue-cli-service") }, static("Vue Dev Server")},
		{"node-nodemon", func(c Command) bool { return isNode(c) && c.hasFold("nodemon") }, func(c Command) string {
			return "Nodemon - " + c.lastArg()
		}},
		{"node-ts-node", func(c Command) bool { return isNode(c) && c.hasFold("ts-node") }, func(c Command) string {
			return "TypeScript Node - " + c.lastArg()
		}},

		// Python servers
		{"python-django", func(c Command) bool { return isPython(c) && c.has("manage.py runserver") }, static("Django Dev Server")},
		{"python-flask", func(c Command) bool {
			return isPython(c) && (c.has("flask run") || c.has("app.py"))
		}, static("Flask Dev Server")},
		{"uvicorn", func(c Command) bool { return c.is("uvicorn") || (isPython(c) && c.has("uvicorn")) }, static("Uvicorn (FastAPI/Starlette)")},
		{"gunicorn", func(c Command) bool { return c.is("gunicorn") || (isPython(c) && c.has("gunicorn")) }, static("Gunicorn WSGI Server")},
		{"python-http-server", func(c Command) bool { return isPython(c) && c.has("http.server") }, static("Python HTTP Server")},

		// JVM
		{"java-spring", func(c Command) bool { return isJava(c) && c.hasFold("spring") }, static("Spring Boot Application")},
		{"java-jar", func(c Command) bool { return isJava(c) && c.has(".jar") }, func(c Command) string {
			for _, a := range c.Args {
				if strings.Contains(a, ".jar") {
					return "Java Application - " + path.Base(a)
				}
			}
			return "Java Application - jar"
		}},

		// Docker
		{"docker-proxy", func(c Command) bool { return strings.Contains(c.name, "docker-proxy") || c.exe == "docker-proxy" }, func(c Command) string {
			ip, port := c.flagValue("-container-ip"), c.flagValue("-container-port")
			if ip != "" && port != "" {
				return "Docker Container Port Proxy -> " + ip + ":" + port
			}
			return "Docker Container Port Proxy"
		}},
	}
}

// versionManagerDirs mark interpreter installs managed by version managers.
var versionManagerDirs = []string{
	"/.nvm/", "/.pyenv/", "/.rbenv/", "/.asdf/", "/.volta/", "/.fnm/", "/.sdkman/",
	"/.local/share/fnm/", "/.local/share/mise/",
}

// stripVersionManager shortens an executable path living under a version
// manager install to its base name.
func stripVersionManager(exe string) string {
	for _, dir := range versionManagerDirs {
		if strings.Contains(exe, dir) {
			return path.Base(exe)
		}
	}
	return exe
}

// fallback renders the raw command line for display.
func fallback(name string, cmdline []string) string {
	if len(cmdline) == 0 {
		return orUnknown(name)
	}
	args := make([]string, len(cmdline))
	copy(args, cmdline)
	args[0] = stripVersionManager(args[0])

	line := strings.TrimSpace(strings.Join(args, " "))
	if line == "" {
		return orUnknown(name)
	}
	return Truncate(line, MaxDescriptionLen)
}

func orUnknown(name string) string {
	if strings.TrimSpace(name) == "" {
		return UnknownProcess
	}
	return name
}

// Truncate shortens s to at most max runes, marking the cut with "...".
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
