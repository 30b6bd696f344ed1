package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 2, cfg.RefreshInterval)
	assert.Equal(t, 3*time.Second, cfg.GracePeriod)
	assert.Equal(t, 100*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, "auto", cfg.Backend)
	assert.False(t, cfg.IncludeUDP)
	assert.True(t, cfg.ColorEnabled)
	assert.Equal(t, slog.LevelWarn, cfg.Level())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFrom(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
refresh_interval: 5
grace_period: 5s
backend: lsof
include_udp: true
exclude:
  - ControlCenter
dev_ports:
  ranges: ["9000-9099"]
  ports: [1234]
protected:
  - caddy
`)

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.RefreshInterval)
	assert.Equal(t, 5*time.Second, cfg.GracePeriod)
	assert.Equal(t, 100*time.Millisecond, cfg.PollInterval, "unset fields keep defaults")
	assert.Equal(t, "lsof", cfg.Backend)
	assert.True(t, cfg.IncludeUDP)
	assert.Equal(t, []string{"ControlCenter"}, cfg.Exclude)

	c, err := cfg.Classifier()
	require.NoError(t, err)
	assert.True(t, c.IsDevPort(9050))
	assert.True(t, c.IsDevPort(1234))
	assert.True(t, c.IsDevPort(3000))
	assert.True(t, c.IsProtected("caddy", nil))
	assert.True(t, c.IsProtected("postgres", nil))
}

func TestLoadFrom_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "refresh_interval: [")

	_, err := LoadFrom(path)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestLoad_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"backend", "backend: netstat", "unknown backend"},
		{"range", "dev_ports:\n  ranges: [\"9100-9000\"]", "invalid dev_ports range"},
		{"port", "dev_ports:\n  ports: [70000]", "invalid dev_ports port"},
		{"grace", "grace_period: 0s", "grace_period"},
		{"poll", "poll_interval: 10s", "poll_interval"},
		{"refresh", "refresh_interval: 0", "refresh_interval"},
		{"level", "log_level: loud", "invalid log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			writeFile(t, path, tt.yaml)

			_, err := Load(path)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoad_EnvFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "backend: lsof\n")
	writeFile(t, filepath.Join(dir, "portkiller.env"), `
PORTKILLER_BACKEND=gopsutil
PORTKILLER_GRACE_PERIOD=1s
PORTKILLER_LOG_LEVEL=debug
`)
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvIncludeUDP, "true")
	t.Setenv(EnvColor, "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gopsutil", cfg.Backend, "env file beats YAML")
	assert.Equal(t, time.Second, cfg.GracePeriod)
	assert.Equal(t, slog.LevelError, cfg.Level(), "environment beats env file")
	assert.True(t, cfg.IncludeUDP)
	assert.False(t, cfg.ColorEnabled)
	_, set := os.LookupEnv(EnvBackend)
	assert.False(t, set, "env file does not leak into the process environment")
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	t.Setenv(EnvGracePeriod, "soon")
	assert.ErrorContains(t, Default().ApplyEnv(""), EnvGracePeriod)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.GracePeriod = 7 * time.Second
	cfg.Exclude = []string{"ControlCenter"}
	cfg.DevPorts.Ranges = []string{"9000-9099"}
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestSaveRoundTrip_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, Default().Save(path))

	loaded, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), loaded)
}
