// Package config provides Viper-based configuration loading for the worldsync server and client.
package config

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// HTTPConfig holds the WebSocket/HTTP listener settings.
type HTTPConfig struct {
	// Host is the bind address for the HTTP listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the HTTP listener.
	Port int `mapstructure:"port"`
	// ReadTimeout is the read deadline extended on every inbound frame or pong.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the per-frame write deadline.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// HandshakeTimeout bounds how long a new connection may take to send its join frame.
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	// MaxMessageBytes is the largest inbound frame accepted from a client.
	MaxMessageBytes int64 `mapstructure:"max_message_bytes"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// PingInterval returns the keepalive ping period derived from ReadTimeout.
//
// Postcondition: Returns a duration strictly less than ReadTimeout when ReadTimeout > 0.
func (h HTTPConfig) PingInterval() time.Duration {
	return h.ReadTimeout * 9 / 10
}

// SessionConfig holds authoritative session settings.
type SessionConfig struct {
	// DefaultRoom is the session name used when a client does not request one.
	DefaultRoom string `mapstructure:"default_room"`
	// Rooms lists the other session names clients may request. Any other name is refused.
	Rooms []string `mapstructure:"rooms"`
	// DefaultMap is the map id assigned to players that join without one.
	DefaultMap string `mapstructure:"default_map"`
	// MaxPlayers caps concurrent players per session.
	MaxPlayers int `mapstructure:"max_players"`
	// TickRateHz is the fixed simulation tick rate.
	TickRateHz int `mapstructure:"tick_rate_hz"`
	// SpawnX and SpawnY are the default spawn coordinates for joining players.
	SpawnX float64 `mapstructure:"spawn_x"`
	SpawnY float64 `mapstructure:"spawn_y"`
	// ChatMaxLength is the maximum number of characters broadcast per chat message.
	ChatMaxLength int `mapstructure:"chat_max_length"`
	// MonsterRemovalDelay is the grace window between a monster's death and its removal.
	MonsterRemovalDelay time.Duration `mapstructure:"monster_removal_delay"`
	// OutboxSize is the per-connection outbound frame buffer.
	OutboxSize int `mapstructure:"outbox_size"`
	// InboxSize is the per-session inbound command buffer.
	InboxSize int `mapstructure:"inbox_size"`
	// MonstersFile is an optional YAML monster catalog seeded into every session.
	MonstersFile string `mapstructure:"monsters_file"`
}

// RoomNames returns DefaultRoom plus Rooms, deduplicated and sorted.
//
// Postcondition: The result always contains DefaultRoom.
func (s SessionConfig) RoomNames() []string {
	names := append([]string{s.DefaultRoom}, s.Rooms...)
	sort.Strings(names)
	return slices.Compact(names)
}

// TickInterval returns the duration between ticks.
//
// Precondition: TickRateHz must be > 0.
// Postcondition: Returns a positive duration.
func (s SessionConfig) TickInterval() time.Duration {
	return time.Second / time.Duration(s.TickRateHz)
}

// ClientConfig holds connection manager settings.
type ClientConfig struct {
	// ServerURL is the ws:// or wss:// endpoint the client dials.
	ServerURL string `mapstructure:"server_url"`
	// ReconnectDelay is the fixed delay before each reconnect attempt.
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	// MaxReconnectAttempts caps consecutive reconnect attempts.
	MaxReconnectAttempts int `mapstructure:"max_reconnect_attempts"`
	// PositionInterval is the minimum spacing between accepted position sends.
	PositionInterval time.Duration `mapstructure:"position_interval"`
}

// InterpolationConfig holds remote entity smoothing settings.
type InterpolationConfig struct {
	// SnapThreshold is the per-axis distance beyond which positions snap.
	SnapThreshold float64 `mapstructure:"snap_threshold"`
	// Factor is the fraction of the remaining distance covered each frame.
	Factor float64 `mapstructure:"factor"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
	// File, when set, routes output to a rolling log file instead of stderr.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Config is the top-level application configuration.
type Config struct {
	HTTP          HTTPConfig          `mapstructure:"http"`
	Session       SessionConfig       `mapstructure:"session"`
	Client        ClientConfig        `mapstructure:"client"`
	Interpolation InterpolationConfig `mapstructure:"interpolation"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateHTTP(c.HTTP); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateSession(c.Session); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateClient(c.Client); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateInterpolation(c.Interpolation); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateHTTP(h HTTPConfig) error {
	var errs []string
	if h.Port < 1 || h.Port > 65535 {
		errs = append(errs, fmt.Sprintf("http.port must be 1-65535, got %d", h.Port))
	}
	if h.ReadTimeout <= 0 {
		errs = append(errs, "http.read_timeout must be positive")
	}
	if h.WriteTimeout <= 0 {
		errs = append(errs, "http.write_timeout must be positive")
	}
	if h.HandshakeTimeout <= 0 {
		errs = append(errs, "http.handshake_timeout must be positive")
	}
	if h.MaxMessageBytes < 1 {
		errs = append(errs, fmt.Sprintf("http.max_message_bytes must be >= 1, got %d", h.MaxMessageBytes))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateSession(s SessionConfig) error {
	var errs []string
	if s.DefaultRoom == "" {
		errs = append(errs, "session.default_room must not be empty")
	}
	if s.DefaultMap == "" {
		errs = append(errs, "session.default_map must not be empty")
	}
	if slices.Contains(s.Rooms, "") {
		errs = append(errs, "session.rooms must not contain an empty name")
	}
	if s.MaxPlayers < 1 {
		errs = append(errs, fmt.Sprintf("session.max_players must be >= 1, got %d", s.MaxPlayers))
	}
	if s.TickRateHz < 1 || s.TickRateHz > 1000 {
		errs = append(errs, fmt.Sprintf("session.tick_rate_hz must be 1-1000, got %d", s.TickRateHz))
	}
	if s.ChatMaxLength < 1 {
		errs = append(errs, fmt.Sprintf("session.chat_max_length must be >= 1, got %d", s.ChatMaxLength))
	}
	if s.MonsterRemovalDelay < 0 {
		errs = append(errs, "session.monster_removal_delay must not be negative")
	}
	if s.OutboxSize < 1 {
		errs = append(errs, fmt.Sprintf("session.outbox_size must be >= 1, got %d", s.OutboxSize))
	}
	if s.InboxSize < 1 {
		errs = append(errs, fmt.Sprintf("session.inbox_size must be >= 1, got %d", s.InboxSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateClient(c ClientConfig) error {
	var errs []string
	if c.ServerURL == "" {
		errs = append(errs, "client.server_url must not be empty")
	} else if !strings.HasPrefix(c.ServerURL, "ws://") && !strings.HasPrefix(c.ServerURL, "wss://") {
		errs = append(errs, fmt.Sprintf("client.server_url must use ws:// or wss://, got %q", c.ServerURL))
	}
	if c.ReconnectDelay < 0 {
		errs = append(errs, "client.reconnect_delay must not be negative")
	}
	if c.MaxReconnectAttempts < 0 {
		errs = append(errs, fmt.Sprintf("client.max_reconnect_attempts must be >= 0, got %d", c.MaxReconnectAttempts))
	}
	if c.PositionInterval < 0 {
		errs = append(errs, "client.position_interval must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateInterpolation(i InterpolationConfig) error {
	var errs []string
	if i.SnapThreshold <= 0 {
		errs = append(errs, fmt.Sprintf("interpolation.snap_threshold must be positive, got %g", i.SnapThreshold))
	}
	if i.Factor <= 0 || i.Factor > 1 {
		errs = append(errs, fmt.Sprintf("interpolation.factor must be in (0, 1], got %g", i.Factor))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	if l.File != "" && (l.MaxSizeMB < 1 || l.MaxBackups < 0 || l.MaxAgeDays < 0) {
		return errors.New("logging rotation requires max_size_mb >= 1 and non-negative max_backups, max_age_days")
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromViper(v)
}

// Default returns the configuration produced by defaults and environment
// overrides alone, without reading a file.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Default() (Config, error) {
	return LoadFromViper(newViper())
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()

	// Environment variable overrides with WORLDSYNC_ prefix
	v.SetEnvPrefix("WORLDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "60s")
	v.SetDefault("http.write_timeout", "10s")
	v.SetDefault("http.handshake_timeout", "5s")
	v.SetDefault("http.max_message_bytes", 64*1024)

	v.SetDefault("session.default_room", "world")
	v.SetDefault("session.default_map", "town")
	v.SetDefault("session.rooms", []string{})
	v.SetDefault("session.max_players", 100)
	v.SetDefault("session.tick_rate_hz", 20)
	v.SetDefault("session.spawn_x", 400.0)
	v.SetDefault("session.spawn_y", 300.0)
	v.SetDefault("session.chat_max_length", 200)
	v.SetDefault("session.monster_removal_delay", "1s")
	v.SetDefault("session.outbox_size", 256)
	v.SetDefault("session.inbox_size", 1024)
	v.SetDefault("session.monsters_file", "")

	v.SetDefault("client.server_url", "ws://127.0.0.1:8080/ws")
	v.SetDefault("client.reconnect_delay", "2s")
	v.SetDefault("client.max_reconnect_attempts", 5)
	v.SetDefault("client.position_interval", "50ms")

	v.SetDefault("interpolation.snap_threshold", 200.0)
	v.SetDefault("interpolation.factor", 0.2)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 7)
}
