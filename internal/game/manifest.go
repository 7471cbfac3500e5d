package game

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ws2dgo/server/internal/config"
)

var ErrInvalidManifest = errors.New("game: invalid manifest")

// Manifest describes a game: its browser client and its scripts.
type Manifest struct {
	Name      string    `yaml:"name"`
	ClientDir string    `yaml:"client_dir"`
	MainHTML  string    `yaml:"main_html"`
	Scripts   string    `yaml:"scripts"`
	Settings  *Settings `yaml:"server_settings"`

	// Dir is the directory holding the manifest; relative paths resolve
	// against it.
	Dir string `yaml:"-"`
}

// Settings are server settings a game may override. Unset fields keep the
// server's configured value.
type Settings struct {
	TicksPerSecond    *int `yaml:"ticks_per_second"`
	MaxConnections    *int `yaml:"max_connections"`
	HeartbeatInterval *int `yaml:"heartbeat_interval"`
}

// LoadManifest reads and checks a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	m.Dir = filepath.Dir(path)

	var missing []string
	if m.Name == "" {
		missing = append(missing, "name")
	}
	if m.ClientDir == "" {
		missing = append(missing, "client_dir")
	}
	if m.MainHTML == "" {
		missing = append(missing, "main_html")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s: missing %v", ErrInvalidManifest, path, missing)
	}
	if _, err := os.Stat(m.MainPage()); err != nil {
		return nil, fmt.Errorf("%w: main html: %w", ErrInvalidManifest, err)
	}
	return &m, nil
}

// ClientPath is the absolute-or-relative directory of the browser client.
func (m *Manifest) ClientPath() string { return m.resolve(m.ClientDir) }

// MainPage is the path of the page served for "/".
func (m *Manifest) MainPage() string { return filepath.Join(m.ClientPath(), m.MainHTML) }

// ScriptPath is the Lua script directory, empty if the game has none.
func (m *Manifest) ScriptPath() string {
	if m.Scripts == "" {
		return ""
	}
	return m.resolve(m.Scripts)
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// Apply overrides cfg with the manifest's server settings. Out-of-range
// values are skipped, leaving cfg unchanged, and reported as warnings.
func (m *Manifest) Apply(cfg *config.Config) []string {
	cfg.Network.ClientDir = m.ClientPath()
	cfg.Network.MainHTML = m.MainHTML
	if m.Settings == nil {
		return nil
	}
	var warnings []string
	s := m.Settings
	n := &cfg.Network
	if v := s.TicksPerSecond; v != nil {
		if config.ValidTicksPerSecond(*v) {
			n.TicksPerSecond = *v
		} else {
			warnings = append(warnings, fmt.Sprintf("server_settings.ticks_per_second = %d is out of range, keeping %d", *v, n.TicksPerSecond))
		}
	}
	if v := s.MaxConnections; v != nil {
		if config.ValidMaxConnections(*v) {
			n.MaxConnections = *v
		} else {
			warnings = append(warnings, fmt.Sprintf("server_settings.max_connections = %d is out of range, keeping %d", *v, n.MaxConnections))
		}
	}
	if v := s.HeartbeatInterval; v != nil {
		if config.ValidHeartbeatInterval(*v) {
			n.HeartbeatInterval = *v
		} else {
			warnings = append(warnings, fmt.Sprintf("server_settings.heartbeat_interval = %d is out of range, keeping %d", *v, n.HeartbeatInterval))
		}
	}
	return warnings
}
