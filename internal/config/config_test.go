package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func validConfig() Config {
	return Config{
		HTTP: HTTPConfig{
			Host:             "127.0.0.1",
			Port:             8080,
			ReadTimeout:      time.Minute,
			WriteTimeout:     10 * time.Second,
			HandshakeTimeout: 5 * time.Second,
			MaxMessageBytes:  65536,
		},
		Session: SessionConfig{
			DefaultRoom:         "world",
			DefaultMap:          "town",
			MaxPlayers:          50,
			TickRateHz:          20,
			SpawnX:              400,
			SpawnY:              300,
			ChatMaxLength:       200,
			MonsterRemovalDelay: time.Second,
			OutboxSize:          64,
			InboxSize:           64,
		},
		Client: ClientConfig{
			ServerURL:            "ws://127.0.0.1:8080/ws",
			ReconnectDelay:       2 * time.Second,
			MaxReconnectAttempts: 5,
			PositionInterval:     50 * time.Millisecond,
		},
		Interpolation: InterpolationConfig{
			SnapThreshold: 200,
			Factor:        0.2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func TestValidConfig(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestDefaults(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 20, cfg.Session.TickRateHz)
	assert.Equal(t, 400.0, cfg.Session.SpawnX)
	assert.Equal(t, 300.0, cfg.Session.SpawnY)
	assert.Equal(t, 200, cfg.Session.ChatMaxLength)
	assert.Equal(t, time.Second, cfg.Session.MonsterRemovalDelay)
	assert.Equal(t, 2*time.Second, cfg.Client.ReconnectDelay)
	assert.Equal(t, 5, cfg.Client.MaxReconnectAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Client.PositionInterval)
	assert.Equal(t, 200.0, cfg.Interpolation.SnapThreshold)
	assert.Equal(t, 0.2, cfg.Interpolation.Factor)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	err := os.WriteFile(path, []byte(`
http:
  host: 127.0.0.1
  port: 9000
session:
  default_room: lobby
  default_map: forest
  tick_rate_hz: 30
  chat_max_length: 120
  monster_removal_delay: 1500ms
client:
  server_url: ws://example.test/ws
  max_reconnect_attempts: 3
logging:
  level: debug
  format: console
`), 0644)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.HTTP.Port)
	assert.Equal(t, "lobby", cfg.Session.DefaultRoom)
	assert.Equal(t, "forest", cfg.Session.DefaultMap)
	assert.Equal(t, 30, cfg.Session.TickRateHz)
	assert.Equal(t, 120, cfg.Session.ChatMaxLength)
	assert.Equal(t, 1500*time.Millisecond, cfg.Session.MonsterRemovalDelay)
	assert.Equal(t, "ws://example.test/ws", cfg.Client.ServerURL)
	assert.Equal(t, 3, cfg.Client.MaxReconnectAttempts)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Unset keys fall back to defaults.
	assert.Equal(t, 0.2, cfg.Interpolation.Factor)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("WORLDSYNC_HTTP_PORT", "9191")
	t.Setenv("WORLDSYNC_SESSION_DEFAULT_MAP", "cave")

	cfg, err := Default()
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.HTTP.Port)
	assert.Equal(t, "cave", cfg.Session.DefaultMap)
}

func TestLoadInvalidPath(t *testing.T) {
	_, err := Load("/nonexistent/path.yaml")
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("session:\n  tick_rate_hz: 0\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session.tick_rate_hz")
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.Port = 0
	cfg.Session.ChatMaxLength = 0
	cfg.Interpolation.Factor = 2

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http.port")
	assert.Contains(t, err.Error(), "session.chat_max_length")
	assert.Contains(t, err.Error(), "interpolation.factor")
}

func TestValidateLoggingLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		cfg := validConfig()
		cfg.Logging.Level = level
		assert.NoError(t, cfg.Validate(), "level %q should be valid", level)
	}
	cfg := validConfig()
	cfg.Logging.Level = "trace"
	assert.Error(t, cfg.Validate())
}

func TestValidateLoggingFormat(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		cfg := validConfig()
		cfg.Logging.Format = format
		assert.NoError(t, cfg.Validate(), "format %q should be valid", format)
	}
	cfg := validConfig()
	cfg.Logging.Format = "xml"
	assert.Error(t, cfg.Validate())
}

func TestValidateLoggingRotation(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.File = "/tmp/worldsync.log"
	cfg.Logging.MaxSizeMB = 0
	assert.Error(t, cfg.Validate())

	cfg.Logging.MaxSizeMB = 10
	assert.NoError(t, cfg.Validate())
}

func TestValidateClientURL(t *testing.T) {
	cfg := validConfig()
	cfg.Client.ServerURL = "http://example.test"
	assert.Error(t, cfg.Validate())

	cfg.Client.ServerURL = ""
	assert.Error(t, cfg.Validate())

	cfg.Client.ServerURL = "wss://example.test/ws"
	assert.NoError(t, cfg.Validate())
}

func TestValidateSessionNames(t *testing.T) {
	cfg := validConfig()
	cfg.Session.DefaultRoom = ""
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Session.DefaultMap = ""
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Session.MaxPlayers = 0
	assert.Error(t, cfg.Validate())
}

func TestRoomNames(t *testing.T) {
	s := SessionConfig{DefaultRoom: "world"}
	assert.Equal(t, []string{"world"}, s.RoomNames())

	s.Rooms = []string{"world", "arena", "arena"}
	assert.Equal(t, []string{"arena", "world"}, s.RoomNames())

	cfg := validConfig()
	cfg.Session.Rooms = []string{"arena", ""}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session.rooms")
}

func TestHTTPAddr(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "127.0.0.1:8080", cfg.HTTP.Addr())
}

func TestPingIntervalBelowReadTimeout(t *testing.T) {
	cfg := validConfig()
	assert.Less(t, cfg.HTTP.PingInterval(), cfg.HTTP.ReadTimeout)
}

func TestTickInterval(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, 50*time.Millisecond, cfg.Session.TickInterval())
}

// Property-based tests

func TestPropertyValidPortRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		port := rapid.IntRange(1, 65535).Draw(t, "port")
		cfg := validConfig()
		cfg.HTTP.Port = port
		if err := cfg.Validate(); err != nil {
			t.Fatalf("valid port %d rejected: %v", port, err)
		}
	})
}

func TestPropertyInvalidPortRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		port := rapid.OneOf(
			rapid.IntRange(-1000, 0),
			rapid.IntRange(65536, 100000),
		).Draw(t, "port")
		cfg := validConfig()
		cfg.HTTP.Port = port
		if err := cfg.Validate(); err == nil {
			t.Fatalf("invalid port %d accepted", port)
		}
	})
}

func TestPropertyFactorRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		factor := rapid.Float64Range(0.001, 1).Draw(t, "factor")
		cfg := validConfig()
		cfg.Interpolation.Factor = factor
		if err := cfg.Validate(); err != nil {
			t.Fatalf("valid factor %g rejected: %v", factor, err)
		}
	})
}

func TestPropertyTickIntervalPositive(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		hz := rapid.IntRange(1, 1000).Draw(t, "hz")
		s := SessionConfig{TickRateHz: hz}
		if s.TickInterval() <= 0 {
			t.Fatalf("tick interval for %d Hz is not positive", hz)
		}
	})
}
