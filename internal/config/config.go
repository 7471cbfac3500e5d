package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Bounds on the values the loop accepts.
const (
	MinTicksPerSecond    = 1
	MaxTicksPerSecond    = 950
	MaxConnections       = 256 // a frame carries the sender id in one byte
	MinHeartbeatInterval = 10
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Network   NetworkConfig   `toml:"network"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Database  DatabaseConfig  `toml:"database"`
	Logging   LoggingConfig   `toml:"logging"`
	Game      GameConfig      `toml:"game"`
}

type ServerConfig struct {
	Name      string `toml:"name"`
	StartTime int64  // set at boot, not from config
}

type NetworkConfig struct {
	BindAddress       string        `toml:"bind_address"`
	TicksPerSecond    int           `toml:"ticks_per_second"`
	MaxConnections    int           `toml:"max_connections"`
	HeartbeatInterval int           `toml:"heartbeat_interval"` // seconds, 0 disables
	OutQueueSize      int           `toml:"out_queue_size"`
	InboxSize         int           `toml:"inbox_size"`
	ReadLimit         int64         `toml:"read_limit"`
	MaxSockets        int           `toml:"max_sockets"` // 0 = unlimited
	WriteTimeout      time.Duration `toml:"write_timeout"`
	ClientDir         string        `toml:"client_dir"`
	MainHTML          string        `toml:"main_html"`
}

type RateLimitConfig struct {
	Enabled           bool `toml:"enabled"`
	FramesPerSecond   int  `toml:"frames_per_second"`
	ConnectsPerMinute int  `toml:"connects_per_minute"`
}

type DatabaseConfig struct {
	DSN             string        `toml:"dsn"` // empty disables the connection journal
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
	JournalQueue    int           `toml:"journal_queue"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

type GameConfig struct {
	Manifest string `toml:"manifest"` // empty runs without a game module
}

// Load reads a TOML file over the defaults. A missing file is not an error:
// the defaults are returned. Warnings list settings that were out of range
// and have been reset to their defaults.
func Load(path string) (*Config, []string, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	warnings := cfg.Validate()
	cfg.Server.StartTime = time.Now().Unix()
	return cfg, warnings, nil
}

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Name: "ws2d",
		},
		Network: NetworkConfig{
			BindAddress:       "0.0.0.0:8484",
			TicksPerSecond:    20,
			MaxConnections:    20,
			HeartbeatInterval: 60,
			OutQueueSize:      256,
			InboxSize:         1024,
			ReadLimit:         64 << 10,
			WriteTimeout:      10 * time.Second,
			MainHTML:          "index.html",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			FramesPerSecond:   120,
			ConnectsPerMinute: 30,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    4,
			MaxIdleConns:    1,
			ConnMaxLifetime: 30 * time.Minute,
			JournalQueue:    1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate resets out-of-range settings to their defaults and describes
// each reset.
func (c *Config) Validate() []string {
	def := Defaults()
	var warnings []string
	reset := func(name string, got any, want any) {
		warnings = append(warnings, fmt.Sprintf("%s = %v is out of range, using %v", name, got, want))
	}

	n := &c.Network
	if !ValidTicksPerSecond(n.TicksPerSecond) {
		reset("network.ticks_per_second", n.TicksPerSecond, def.Network.TicksPerSecond)
		n.TicksPerSecond = def.Network.TicksPerSecond
	}
	if !ValidMaxConnections(n.MaxConnections) {
		reset("network.max_connections", n.MaxConnections, def.Network.MaxConnections)
		n.MaxConnections = def.Network.MaxConnections
	}
	if !ValidHeartbeatInterval(n.HeartbeatInterval) {
		reset("network.heartbeat_interval", n.HeartbeatInterval, def.Network.HeartbeatInterval)
		n.HeartbeatInterval = def.Network.HeartbeatInterval
	}
	if n.OutQueueSize < 1 {
		reset("network.out_queue_size", n.OutQueueSize, def.Network.OutQueueSize)
		n.OutQueueSize = def.Network.OutQueueSize
	}
	if n.InboxSize < 1 {
		reset("network.inbox_size", n.InboxSize, def.Network.InboxSize)
		n.InboxSize = def.Network.InboxSize
	}
	if n.ReadLimit < 2 {
		reset("network.read_limit", n.ReadLimit, def.Network.ReadLimit)
		n.ReadLimit = def.Network.ReadLimit
	}
	if n.MaxSockets < 0 {
		reset("network.max_sockets", n.MaxSockets, def.Network.MaxSockets)
		n.MaxSockets = def.Network.MaxSockets
	}
	if n.WriteTimeout <= 0 {
		reset("network.write_timeout", n.WriteTimeout, def.Network.WriteTimeout)
		n.WriteTimeout = def.Network.WriteTimeout
	}

	r := &c.RateLimit
	if r.FramesPerSecond < 0 {
		reset("rate_limit.frames_per_second", r.FramesPerSecond, def.RateLimit.FramesPerSecond)
		r.FramesPerSecond = def.RateLimit.FramesPerSecond
	}
	if r.ConnectsPerMinute < 0 {
		reset("rate_limit.connects_per_minute", r.ConnectsPerMinute, def.RateLimit.ConnectsPerMinute)
		r.ConnectsPerMinute = def.RateLimit.ConnectsPerMinute
	}

	if c.Database.JournalQueue < 1 {
		reset("database.journal_queue", c.Database.JournalQueue, def.Database.JournalQueue)
		c.Database.JournalQueue = def.Database.JournalQueue
	}
	return warnings
}

func ValidTicksPerSecond(v int) bool {
	return v >= MinTicksPerSecond && v <= MaxTicksPerSecond
}

func ValidMaxConnections(v int) bool {
	return v >= 0 && v <= MaxConnections
}

// ValidHeartbeatInterval accepts 0 (disabled) or at least ten seconds.
func ValidHeartbeatInterval(v int) bool {
	return v == 0 || v >= MinHeartbeatInterval
}

// TickDuration is the nominal length of one tick.
func (n NetworkConfig) TickDuration() time.Duration {
	return time.Second / time.Duration(n.TicksPerSecond)
}

// HeartbeatTicks is the heartbeat cycle in ticks, 0 when disabled.
func (n NetworkConfig) HeartbeatTicks() int64 {
	return int64(n.HeartbeatInterval) * int64(n.TicksPerSecond)
}
