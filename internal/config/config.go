package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/686f6c61/linux-port-killer/internal/classify"
	"github.com/686f6c61/linux-port-killer/internal/port"
)

const (
	appDir   = "portkiller"
	fileName = "config.yaml"
	envName  = "portkiller.env"
)

// Environment variables that override the config file.
const (
	EnvBackend     = "PORTKILLER_BACKEND"
	EnvGracePeriod = "PORTKILLER_GRACE_PERIOD"
	EnvIncludeUDP  = "PORTKILLER_INCLUDE_UDP"
	EnvLogLevel    = "PORTKILLER_LOG_LEVEL"
	EnvColor       = "PORTKILLER_COLOR"
)

// Config holds all portkiller configuration.
type Config struct {
	RefreshInterval int           `yaml:"refresh_interval"` // seconds
	GracePeriod     time.Duration `yaml:"grace_period"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	Backend         string        `yaml:"backend"` // auto, gopsutil or lsof
	IncludeUDP      bool          `yaml:"include_udp"`
	ColorEnabled    bool          `yaml:"color_enabled"`
	LogLevel        string        `yaml:"log_level"`
	Exclude         []string      `yaml:"exclude"` // process names to hide
	DevPorts        DevPorts      `yaml:"dev_ports"`
	Protected       []string      `yaml:"protected"` // added to the built-in list
}

// DevPorts extends the built-in development port table.
type DevPorts struct {
	Ranges []string `yaml:"ranges"` // "9000-9099"
	Ports  []int    `yaml:"ports"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		RefreshInterval: 2,
		GracePeriod:     3 * time.Second,
		PollInterval:    100 * time.Millisecond,
		Backend:         port.BackendAuto,
		IncludeUDP:      false,
		ColorEnabled:    true,
		LogLevel:        "warn",
		Exclude:         []string{},
		DevPorts:        DevPorts{Ranges: []string{}, Ports: []int{}},
		Protected:       []string{},
	}
}

// Load loads config from the given path. If path is empty, it uses the
// default location (~/.config/portkiller/config.yaml). A missing file yields
// defaults. Overrides from portkiller.env next to the config file and from
// the process environment are applied on top, and the result is validated.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if cfg, err = LoadFrom(path); err != nil {
				return nil, err
			}
		}
	}

	var envFile string
	if path != "" {
		envFile = filepath.Join(filepath.Dir(path), envName)
	}
	if err := cfg.ApplyEnv(envFile); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFrom loads and parses config from the given path. Missing fields
// keep their default values.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides fields from envFile (if it exists) and the process
// environment. Process variables win over the file.
func (c *Config) ApplyEnv(envFile string) error {
	fileVars := map[string]string{}
	if envFile != "" {
		vars, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			fileVars = vars
		case !errors.Is(err, fs.ErrNotExist):
			return fmt.Errorf("failed to read env file: %w", err)
		}
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileVars[key]
		return v, ok
	}

	if v, ok := lookup(EnvBackend); ok {
		c.Backend = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvLogLevel); ok {
		c.LogLevel = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvGracePeriod); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvGracePeriod, err)
		}
		c.GracePeriod = d
	}
	if v, ok := lookup(EnvIncludeUDP); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvIncludeUDP, err)
		}
		c.IncludeUDP = b
	}
	if v, ok := lookup(EnvColor); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvColor, err)
		}
		c.ColorEnabled = b
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.RefreshInterval < 1 {
		return fmt.Errorf("refresh_interval must be at least 1 second, got %d", c.RefreshInterval)
	}
	if c.GracePeriod <= 0 {
		return fmt.Errorf("grace_period must be positive, got %s", c.GracePeriod)
	}
	if c.PollInterval <= 0 || c.PollInterval > c.GracePeriod {
		return fmt.Errorf("poll_interval must be positive and no longer than grace_period, got %s", c.PollInterval)
	}
	switch c.Backend {
	case "", port.BackendAuto, port.BackendGopsutil, port.BackendLsof:
	default:
		return fmt.Errorf("unknown backend %q (use auto, gopsutil, or lsof)", c.Backend)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := c.DevPortTable(); err != nil {
		return err
	}
	return nil
}

// DevPortTable returns the built-in development port table extended with the
// configured ranges and ports.
func (c *Config) DevPortTable() (classify.DevPortTable, error) {
	ranges := make([]classify.PortRange, 0, len(c.DevPorts.Ranges))
	for _, s := range c.DevPorts.Ranges {
		r, err := classify.ParsePortRange(s)
		if err != nil {
			return classify.DevPortTable{}, fmt.Errorf("invalid dev_ports range: %w", err)
		}
		ranges = append(ranges, r)
	}
	for _, p := range c.DevPorts.Ports {
		if p < 1 || p > 65535 {
			return classify.DevPortTable{}, fmt.Errorf("invalid dev_ports port %d", p)
		}
	}
	return classify.DefaultDevPorts().Extend(ranges, c.DevPorts.Ports), nil
}

// Classifier builds the classifier described by the config.
func (c *Config) Classifier() (*classify.Classifier, error) {
	table, err := c.DevPortTable()
	if err != nil {
		return nil, err
	}
	return classify.New(
		classify.WithDevPorts(table),
		classify.WithProtected(c.Protected...),
	), nil
}

// Level returns the configured log level.
func (c *Config) Level() slog.Level {
	l, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelWarn
	}
	return l
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log_level %q: %w", s, err)
	}
	return l, nil
}

// Save marshals the config to YAML and writes it to the given path,
// creating parent directories as needed.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", appDir, fileName)
}
