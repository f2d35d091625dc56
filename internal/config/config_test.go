package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  name: desk
  host: 127.0.0.1
  port: 25000
  edge_threshold: 2
  velocity_threshold: 80.5
  poll_interval_ms: 10
  max_clients: 2
  panic_key: Ctrl+Shift+Escape
  jump_hotkey:
    enabled: true
    prefix_key: slash
    prefix_modifiers: [Ctrl]
    timeout_ms: 500
    west_key: "1"
    east_key: "2"
    center_key: "0"
clients:
  - {name: Office, position: west}
  - {name: laptop, position: east}
client:
  server_address: 192.168.1.10:25000
  reconnect: {enabled: true, max_attempts: 3, delay_seconds: 1.5}
backend:
  name: wayland
  wayland:
    helper_command: /usr/libexec/tx2tx-helper
    pointer_provider: gnome
logging:
  level: debug
api:
  enabled: true
  port: 25001
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	cfg, path, err := Load(writeTemp(t, sampleYAML))
	require.NoError(t, err)
	require.NotEmpty(t, path)

	assert.Equal(t, "desk", cfg.Server.Name)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 25000, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Server.EdgeThreshold)
	assert.Equal(t, 80.5, cfg.Server.VelocityThreshold)
	assert.Equal(t, 10, cfg.Server.PollIntervalMs)

	assert.Equal(t, "Escape", cfg.Server.PanicKey.Key)
	assert.Equal(t, []string{"Ctrl", "Shift"}, cfg.Server.PanicKey.Modifiers)

	assert.True(t, cfg.Server.JumpHotkey.Enabled)
	assert.Equal(t, "slash", cfg.Server.JumpHotkey.PrefixKey)
	assert.Equal(t, 500, cfg.Server.JumpHotkey.TimeoutMs)

	assert.Len(t, cfg.Clients, 2)
	assert.Equal(t, "west", cfg.Clients[0].Position)

	assert.Equal(t, "192.168.1.10:25000", cfg.Client.ServerAddress)
	assert.Equal(t, 3, cfg.Client.Reconnect.MaxAttempts)

	assert.Equal(t, "wayland", cfg.Backend.Name)
	assert.Equal(t, "gnome", cfg.Backend.Wayland.PointerProvider)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.API.Enabled)
}

func TestPanicKeyMappingForm(t *testing.T) {
	cfg, _, err := Load(writeTemp(t, `
server:
  host: 0.0.0.0
  port: 24800
  poll_interval_ms: 20
  max_clients: 1
  panic_key:
    key: F12
    modifiers: [Ctrl]
`))
	require.NoError(t, err)
	assert.Equal(t, "F12", cfg.Server.PanicKey.Key)
	assert.Equal(t, []string{"Ctrl"}, cfg.Server.PanicKey.Modifiers)
}

func TestDefaultsWhenNoFile(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 24800, cfg.Server.Port)
	assert.Equal(t, 20, cfg.Server.PollIntervalMs)
	assert.Equal(t, "Scroll_Lock", cfg.Server.PanicKey.Key)
	assert.Equal(t, "x11", cfg.Backend.Name)
}

func TestValidateRejectsDuplicatePosition(t *testing.T) {
	cfg := Default()
	cfg.Clients = []ClientEntry{
		{Name: "a", Position: "west"},
		{Name: "b", Position: "west"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "position")
}

func TestValidateRejectsDuplicateName(t *testing.T) {
	cfg := Default()
	cfg.Clients = []ClientEntry{
		{Name: "Office", Position: "west"},
		{Name: "office", Position: "east"},
	}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsBadPosition(t *testing.T) {
	cfg := Default()
	cfg.Clients = []ClientEntry{{Name: "a", Position: "up"}}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsFastPoll(t *testing.T) {
	cfg := Default()
	cfg.Server.PollIntervalMs = 1
	require.Error(t, cfg.Validate())
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	cfg.Apply(Overrides{Host: "10.0.0.1", Port: 30000, Backend: "wayland", ServerAddress: "10.0.0.2:30000"})
	assert.Equal(t, "10.0.0.1", cfg.Server.Host)
	assert.Equal(t, 30000, cfg.Server.Port)
	assert.Equal(t, "wayland", cfg.Backend.Name)
	assert.Equal(t, "10.0.0.2:30000", cfg.Client.ServerAddress)
}

func TestPositionFor(t *testing.T) {
	cfg := Default()
	cfg.Clients = []ClientEntry{{Name: "Office", Position: "west"}}
	pos, ok := cfg.PositionFor("OFFICE")
	require.True(t, ok)
	assert.Equal(t, "west", pos)

	_, ok = cfg.PositionFor("nope")
	assert.False(t, ok)
}

func TestManagerReload(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	cfg, loaded, err := Load(path)
	require.NoError(t, err)

	mgr := NewManager(cfg, loaded)
	var notified *Config
	mgr.OnChange(func(c *Config) { notified = c })

	require.NoError(t, os.WriteFile(path, []byte(`
server:
  host: 127.0.0.1
  port: 26000
  poll_interval_ms: 20
  max_clients: 1
`), 0o644))

	require.NoError(t, mgr.Reload())
	assert.Equal(t, 26000, mgr.Get().Server.Port)
	require.NotNil(t, notified)
	assert.Equal(t, 26000, notified.Server.Port)
}

func TestManagerReloadKeepsConfigOnError(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	cfg, loaded, err := Load(path)
	require.NoError(t, err)
	mgr := NewManager(cfg, loaded)

	require.NoError(t, os.WriteFile(path, []byte("server: [not a mapping"), 0o644))
	require.Error(t, mgr.Reload())
	assert.Equal(t, 25000, mgr.Get().Server.Port)
}
