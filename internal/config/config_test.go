package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "agentdeck.toml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadFullConfig(t *testing.T) {
	p := writeConfig(t, `
listen = "127.0.0.1:9090"
base_path = "/deck"
log_level = "debug"

[capture]
dir = "/var/log/agentdeck"
max_size_mb = 5

[history]
dsn = "sqlite:///tmp/history.db"

[supervisors.agent]
max_processes = 4
idle_timeout = "2m"
kill_grace = "3s"
allowed_roots = ["/srv/agents"]
allowed_exts = [".py"]
interpreter = ["python3", "-u"]
env = { PYTHONUNBUFFERED = "1" }

[supervisors.app]
allowed_roots = ["/srv/apps"]
allowed_exts = [".sh"]
idle_timeout = "45m"
setup_timeout = "10m"
port_min = 43000
port_max = 43099
`)
	fc, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9090", fc.Listen)
	require.Equal(t, "/deck", fc.BasePath)
	require.Equal(t, "debug", fc.LogLevel)
	require.Equal(t, "sqlite:///tmp/history.db", fc.History.DSN)

	agent := fc.Supervisors["agent"]
	require.Equal(t, "agent", agent.Name)
	require.Equal(t, 4, agent.MaxProcesses)
	require.Equal(t, 2*time.Minute, agent.IdleTimeout)
	require.Equal(t, 3*time.Second, agent.KillGrace)
	require.Equal(t, []string{"/srv/agents"}, agent.AllowedRoots)
	require.Equal(t, []string{"python3", "-u"}, agent.Interpreter)
	require.Equal(t, "1", agent.Env["PYTHONUNBUFFERED"])
	// shared capture settings flow down
	require.Equal(t, "/var/log/agentdeck", agent.Capture.Dir)
	require.Equal(t, 5, agent.Capture.MaxSizeMB)

	app := fc.Supervisors["app"]
	require.Equal(t, "app", app.Name)
	require.Equal(t, 45*time.Minute, app.IdleTimeout)
	require.Equal(t, 10*time.Minute, app.SetupTimeout)
	require.Equal(t, 43000, app.PortMin)
	require.Equal(t, 43099, app.PortMax)
}

func TestLoadMinimalConfigDefaults(t *testing.T) {
	p := writeConfig(t, `listen = ""`)
	fc, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, DefaultListen, fc.Listen)

	agent, ok := fc.Supervisors["agent"]
	require.True(t, ok)
	require.Equal(t, DefaultAgentTimeout, agent.IdleTimeout)
	require.Equal(t, []string{".py"}, agent.AllowedExts)
	require.Equal(t, []string{"python3"}, agent.Interpreter)

	app, ok := fc.Supervisors["app"]
	require.True(t, ok)
	require.Equal(t, DefaultAppTimeout, app.IdleTimeout)
	require.Equal(t, DefaultAppPortMin, app.PortMin)
	require.Equal(t, DefaultAppPortMax, app.PortMax)
}

func TestLoadExtraSupervisorKind(t *testing.T) {
	p := writeConfig(t, `
[supervisors.batch]
allowed_roots = ["/srv/batch"]
idle_timeout = "1h"
`)
	fc, err := Load(p)
	require.NoError(t, err)
	batch := fc.Supervisors["batch"]
	require.Equal(t, "batch", batch.Name)
	require.Equal(t, time.Hour, batch.IdleTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestLoadBadTOML(t *testing.T) {
	p := writeConfig(t, `listen = [unclosed`)
	_, err := Load(p)
	require.Error(t, err)
}
