// Package config provides configuration loading and management for tx2tx.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration.
type Config struct {
	// Server contains the server-role settings
	Server ServerConfig `yaml:"server"`

	// Clients binds client names to screen positions around the server
	Clients []ClientEntry `yaml:"clients"`

	// Client contains the client-role connection settings
	Client ClientConfig `yaml:"client"`

	// Backend selects and tunes the display backend
	Backend BackendConfig `yaml:"backend"`

	// Logging contains log output settings
	Logging LoggingConfig `yaml:"logging"`

	// API contains the optional status/observe HTTP server settings
	API APIConfig `yaml:"api"`

	// Tray enables the optional system tray indicator
	Tray TrayConfig `yaml:"tray"`
}

// ServerConfig contains server-role settings.
type ServerConfig struct {
	// Name identifies this server in handshakes and logs
	Name string `yaml:"name"`

	// Host is the address to bind the TCP listener to
	Host string `yaml:"host"`

	// Port is the TCP listen port
	Port int `yaml:"port"`

	// EdgeThreshold is the edge band width in pixels; 0 means the outermost row/column
	EdgeThreshold int `yaml:"edge_threshold"`

	// VelocityThreshold is the minimum pointer velocity (px/s) to cross a boundary
	VelocityThreshold float64 `yaml:"velocity_threshold"`

	// PollIntervalMs is the polling loop period in milliseconds
	PollIntervalMs int `yaml:"poll_interval_ms"`

	// MaxClients caps concurrent client connections
	MaxClients int `yaml:"max_clients"`

	// PanicKey forces an unconditional return to CENTER
	PanicKey PanicKeyConfig `yaml:"panic_key"`

	// JumpHotkey configures the prefix+action jump sequence
	JumpHotkey JumpHotkeyConfig `yaml:"jump_hotkey"`
}

// PanicKeyConfig is the panic key with optional required modifiers. In YAML
// it accepts either a plain string ("Scroll_Lock", "Ctrl+Shift+Escape") or a
// mapping {key: ..., modifiers: [...]}.
type PanicKeyConfig struct {
	Key       string   `yaml:"key"`
	Modifiers []string `yaml:"modifiers"`
}

// UnmarshalYAML accepts both the scalar and the mapping form.
func (p *PanicKeyConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var raw string
		if err := node.Decode(&raw); err != nil {
			return err
		}
		parts := strings.Split(raw, "+")
		p.Key = parts[len(parts)-1]
		p.Modifiers = parts[:len(parts)-1]
		return nil
	}

	type plain PanicKeyConfig
	var decoded plain
	if err := node.Decode(&decoded); err != nil {
		return err
	}
	*p = PanicKeyConfig(decoded)
	return nil
}

// JumpHotkeyConfig configures the jump prefix sequence (default Ctrl+/
// followed by an action key).
type JumpHotkeyConfig struct {
	// Enabled turns the jump sequence on
	Enabled bool `yaml:"enabled"`

	// PrefixKey is the prefix key name (e.g. "slash")
	PrefixKey string `yaml:"prefix_key"`

	// PrefixModifiers are the modifiers required with the prefix key
	PrefixModifiers []string `yaml:"prefix_modifiers"`

	// TimeoutMs is the window for the action key after the prefix
	TimeoutMs int `yaml:"timeout_ms"`

	// WestKey / EastKey / NorthKey / SouthKey / CenterKey are the action keys
	WestKey   string `yaml:"west_key"`
	EastKey   string `yaml:"east_key"`
	NorthKey  string `yaml:"north_key"`
	SouthKey  string `yaml:"south_key"`
	CenterKey string `yaml:"center_key"`
}

// ClientEntry binds a client name to a screen position.
type ClientEntry struct {
	// Name is the unique client identity used in handshakes
	Name string `yaml:"name"`

	// Position is one of "west", "east", "north", "south"
	Position string `yaml:"position"`
}

// ClientConfig contains client-role connection settings.
type ClientConfig struct {
	// ServerAddress is the HOST:PORT of the server
	ServerAddress string `yaml:"server_address"`

	// Reconnect controls the retry policy after a lost connection
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig is the client reconnection policy.
type ReconnectConfig struct {
	Enabled      bool    `yaml:"enabled"`
	MaxAttempts  int     `yaml:"max_attempts"`
	DelaySeconds float64 `yaml:"delay_seconds"`
}

// BackendConfig selects the display backend.
type BackendConfig struct {
	// Name is "x11" or "wayland"
	Name string `yaml:"name"`

	// Display overrides the display to connect to (e.g. ":0")
	Display string `yaml:"display"`

	// Wayland contains the helper-mediated backend settings
	Wayland WaylandConfig `yaml:"wayland"`
}

// WaylandConfig tunes the helper-mediated Wayland backend.
type WaylandConfig struct {
	// HelperCommand is the helper executable spawned for display operations
	HelperCommand string `yaml:"helper_command"`

	// PointerProvider is "helper" or "gnome" (GNOME Shell over D-Bus)
	PointerProvider string `yaml:"pointer_provider"`

	// ScreenWidth/ScreenHeight override geometry when the helper lacks it
	ScreenWidth  int `yaml:"screen_width"`
	ScreenHeight int `yaml:"screen_height"`
}

// LoggingConfig contains log output settings.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error"
	Level string `yaml:"level"`
}

// APIConfig contains the optional status server settings.
type APIConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// TrayConfig enables the system tray indicator.
type TrayConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns a new Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:              "tx2tx",
			Host:              "0.0.0.0",
			Port:              24800,
			EdgeThreshold:     0,
			VelocityThreshold: 100.0,
			PollIntervalMs:    20,
			MaxClients:        4,
			PanicKey:          PanicKeyConfig{Key: "Scroll_Lock"},
			JumpHotkey: JumpHotkeyConfig{
				Enabled:         true,
				PrefixKey:       "slash",
				PrefixModifiers: []string{"Ctrl"},
				TimeoutMs:       800,
				WestKey:         "1",
				EastKey:         "2",
				CenterKey:       "0",
			},
		},
		Client: ClientConfig{
			Reconnect: ReconnectConfig{Enabled: true, MaxAttempts: 10, DelaySeconds: 2.0},
		},
		Backend: BackendConfig{
			Name: "x11",
			Wayland: WaylandConfig{
				HelperCommand:   "tx2tx-helper",
				PointerProvider: "helper",
			},
		},
		Logging: LoggingConfig{Level: "info"},
		API:     APIConfig{Enabled: false, Port: 24801},
	}
}

// searchPaths are the config discovery locations, checked in order.
func searchPaths() []string {
	paths := []string{"config.yml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "tx2tx", "config.yml"))
	}
	paths = append(paths, "/etc/tx2tx/config.yml")
	return paths
}

// Find returns the first existing config file from the standard locations,
// or an empty string when none exists.
func Find() string {
	for _, p := range searchPaths() {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// Load reads and validates the config file at path. An empty path triggers
// discovery; when nothing is found the defaults are returned.
func Load(path string) (*Config, string, error) {
	if path == "" {
		path = Find()
		if path == "" {
			cfg := Default()
			return cfg, "", cfg.Validate()
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, path, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// Validate checks cross-field constraints the YAML schema cannot express.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if c.Server.PollIntervalMs < 5 {
		return fmt.Errorf("config: poll_interval_ms must be >= 5, got %d", c.Server.PollIntervalMs)
	}
	if c.Server.EdgeThreshold < 0 {
		return fmt.Errorf("config: edge_threshold must be >= 0, got %d", c.Server.EdgeThreshold)
	}
	if c.Server.MaxClients <= 0 {
		return fmt.Errorf("config: max_clients must be > 0, got %d", c.Server.MaxClients)
	}

	seenNames := make(map[string]bool)
	seenPositions := make(map[string]bool)
	for _, entry := range c.Clients {
		name := strings.ToLower(strings.TrimSpace(entry.Name))
		if name == "" {
			return fmt.Errorf("config: client with empty name")
		}
		if seenNames[name] {
			return fmt.Errorf("config: duplicate client name %q", entry.Name)
		}
		seenNames[name] = true

		switch entry.Position {
		case "west", "east", "north", "south":
		default:
			return fmt.Errorf("config: client %q has invalid position %q", entry.Name, entry.Position)
		}
		if seenPositions[entry.Position] {
			return fmt.Errorf("config: position %q assigned to more than one client", entry.Position)
		}
		seenPositions[entry.Position] = true
	}
	return nil
}

// Overrides carries CLI flag overrides applied on top of the loaded file.
type Overrides struct {
	Host          string
	Port          int
	Backend       string
	Display       string
	ServerAddress string
}

// Apply merges non-zero overrides into the config.
func (c *Config) Apply(o Overrides) {
	if o.Host != "" {
		c.Server.Host = o.Host
	}
	if o.Port != 0 {
		c.Server.Port = o.Port
	}
	if o.Backend != "" {
		c.Backend.Name = o.Backend
	}
	if o.Display != "" {
		c.Backend.Display = o.Display
	}
	if o.ServerAddress != "" {
		c.Client.ServerAddress = o.ServerAddress
	}
}

// PositionFor returns the configured position for a client name, using the
// same lowercase normalization as the handshake.
func (c *Config) PositionFor(name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, entry := range c.Clients {
		if strings.ToLower(entry.Name) == name {
			return entry.Position, true
		}
	}
	return "", false
}

// Manager holds the active configuration and notifies listeners on change.
type Manager struct {
	mu        sync.Mutex
	path      string
	config    *Config
	onChanged []func(*Config)
}

// NewManager wraps a loaded config and remembers its source path for
// reloads.
func NewManager(cfg *Config, path string) *Manager {
	return &Manager{path: path, config: cfg}
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Path returns the config file path, empty when running on defaults.
func (m *Manager) Path() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.path
}

// Reload re-reads the config file and notifies change listeners. Invalid
// files leave the current config in place.
func (m *Manager) Reload() error {
	m.mu.Lock()
	path := m.path
	m.mu.Unlock()
	if path == "" {
		return nil
	}

	cfg, _, err := Load(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.config = cfg
	listeners := append([]func(*Config){}, m.onChanged...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg)
	}
	return nil
}

// OnChange registers a function called after each successful reload.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChanged = append(m.onChanged, fn)
}
