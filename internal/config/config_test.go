package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	fc, err := Load("")
	require.NoError(t, err)
	require.Equal(t, time.Second, fc.TickInterval)
	require.Equal(t, "127.0.0.1:7913", fc.Server.Addr)
	require.Equal(t, 60*time.Second, fc.Server.CheckpointInterval)
	require.NotEmpty(t, fc.LockPath())
	require.NotEmpty(t, fc.MarkerPath())
	require.Equal(t, "http://127.0.0.1:7913", fc.BaseURL())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
data_dir = "/var/lib/playwarden"
tick_interval = "2s"
metrics_addr = "127.0.0.1:9300"

[server]
addr = "127.0.0.1:7000"
dsn = "postgres://user:pw@localhost/playwarden"
checkpoint_interval = "30s"

[supervisor]
ready_timeout = "5s"

[history]
sqlite_path = "/var/lib/playwarden/history.db"

[history.clickhouse]
addr = "localhost:9000"
database = "playwarden"

[log]
level = "debug"
dir = "/var/log/playwarden"
max_size_mb = 20
`)
	fc, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, fc.TickInterval)
	require.Equal(t, "127.0.0.1:7000", fc.Server.Addr)
	require.Equal(t, "postgres://user:pw@localhost/playwarden", fc.Server.DSN)
	require.Equal(t, 30*time.Second, fc.Server.CheckpointInterval)
	require.Equal(t, 5*time.Second, fc.Supervisor.ReadyTimeout)
	// Unset supervisor fields keep their defaults.
	require.Equal(t, 250*time.Millisecond, fc.Supervisor.ProbeInterval)
	require.Equal(t, "/var/lib/playwarden/history.db", fc.History.SQLitePath)
	require.Equal(t, "localhost:9000", fc.History.Clickhouse.Addr)
	require.Equal(t, "debug", fc.Log.Level)

	lc := fc.LoggerConfig()
	require.Equal(t, "/var/log/playwarden", lc.Dir)
	require.Equal(t, 20, lc.MaxSizeMB)
	require.Equal(t, filepath.Join("/var/lib/playwarden", "server.lock"), fc.LockPath())
}

func TestLoadRejectsBadValues(t *testing.T) {
	path := writeConfig(t, `tick_interval = "0s"`)
	_, err := Load(path)
	require.Error(t, err)

	path = writeConfig(t, `
[server]
addr = ""
`)
	_, err = Load(path)
	require.Error(t, err)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}
