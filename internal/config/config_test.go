package config

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	dbconfig "counselchat/pkg/database"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Counseling.CounselorID != "counselor123" {
		t.Errorf("counselor id = %q", cfg.Counseling.CounselorID)
	}
	if cfg.Counseling.RoomPrefix != "room_" || cfg.Counseling.CounselorGroup != "counselor_room" {
		t.Errorf("room naming defaults = %q / %q", cfg.Counseling.RoomPrefix, cfg.Counseling.CounselorGroup)
	}
	if cfg.Database.Driver != dbconfig.DriverSQLite {
		t.Errorf("driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Address() != "0.0.0.0:3001" {
		t.Errorf("Address() = %q", cfg.Address())
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing section", func(c *Config) { c.Logging = nil }, "sections are required"},
		{"empty host", func(c *Config) { c.HTTP.Host = "" }, "http.host"},
		{"port zero", func(c *Config) { c.HTTP.Port = 0 }, "http.port"},
		{"port too large", func(c *Config) { c.HTTP.Port = 70000 }, "http.port"},
		{"read timeout", func(c *Config) { c.HTTP.ReadTimeout = 0 }, "http timeouts"},
		{"shutdown timeout", func(c *Config) { c.HTTP.ShutdownTimeout = 0 }, "shutdown_timeout"},
		{"ws path", func(c *Config) { c.WebSocket.Path = "ws" }, "websocket.path"},
		{"pong not after ping", func(c *Config) { c.WebSocket.PongTimeout = c.WebSocket.PingInterval }, "pong_timeout"},
		{"send buffer", func(c *Config) { c.WebSocket.SendBuffer = 0 }, "send_buffer"},
		{"max message size", func(c *Config) { c.WebSocket.MaxMessageSize = 0 }, "max_message_size"},
		{"database driver", func(c *Config) { c.Database.Driver = "mysql" }, "database:"},
		{"counselor id", func(c *Config) { c.Counseling.CounselorID = "  " }, "counselor_id"},
		{"anonymous prefix", func(c *Config) { c.Counseling.AnonymousPrefix = "" }, "anonymous_prefix"},
		{"group shares prefix", func(c *Config) { c.Counseling.CounselorGroup = "room_counselors" }, "room prefix"},
		{"negative length", func(c *Config) { c.Counseling.MaxMessageLength = -1 }, "max_message_length"},
		{"burst", func(c *Config) { c.Counseling.MessageBurst = 0 }, "message_burst"},
		{"log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"metrics endpoint", func(c *Config) { c.Monitoring.MetricsEndpoint = "metrics" }, "metrics_endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_RateLimitDisabledAllowsZeroBurst(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Counseling.MessagesPerSecond = 0
	cfg.Counseling.MessageBurst = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled rate limit should not require a burst: %v", err)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "counselchat.yaml")
	yamlDoc := `
http:
  port: 9090
websocket:
  ping_interval: 15s
  pong_timeout: 45s
database:
  driver: memory
counseling:
  counselor_id: dr_lee
  max_message_length: 500
logging:
  level: debug
  format: text
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.HTTP.Port)
	}
	if cfg.HTTP.Host != "0.0.0.0" {
		t.Errorf("unspecified host should keep its default, got %q", cfg.HTTP.Host)
	}
	if cfg.WebSocket.PingInterval != 15*time.Second || cfg.WebSocket.PongTimeout != 45*time.Second {
		t.Errorf("heartbeat = %v / %v", cfg.WebSocket.PingInterval, cfg.WebSocket.PongTimeout)
	}
	if cfg.WebSocket.SendBuffer != 100 {
		t.Errorf("send buffer default lost: %d", cfg.WebSocket.SendBuffer)
	}
	if cfg.Database.Driver != dbconfig.DriverMemory {
		t.Errorf("driver = %q", cfg.Database.Driver)
	}
	if cfg.Counseling.CounselorID != "dr_lee" || cfg.Counseling.MaxMessageLength != 500 {
		t.Errorf("counseling = %+v", cfg.Counseling)
	}
	if cfg.Counseling.CounselorGroup != "counselor_room" {
		t.Errorf("group default lost: %q", cfg.Counseling.CounselorGroup)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "counselchat.yaml")
	if err := os.WriteFile(path, []byte("http:\n  port: 9090\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("COUNSELCHAT_HTTP_PORT", "7000")
	t.Setenv("COUNSELCHAT_DATABASE_DRIVER", "memory")
	t.Setenv("COUNSELCHAT_COUNSELING_MESSAGES_PER_SECOND", "2.5")
	t.Setenv("COUNSELCHAT_HTTP_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("COUNSELCHAT_MONITORING_METRICS_ENABLED", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Port != 7000 {
		t.Errorf("env should win over file: port = %d", cfg.HTTP.Port)
	}
	if cfg.Database.Driver != dbconfig.DriverMemory {
		t.Errorf("driver = %q", cfg.Database.Driver)
	}
	if cfg.Counseling.MessagesPerSecond != 2.5 {
		t.Errorf("messages per second = %v", cfg.Counseling.MessagesPerSecond)
	}
	if len(cfg.HTTP.AllowedOrigins) != 2 || cfg.HTTP.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("origins = %v", cfg.HTTP.AllowedOrigins)
	}
	if cfg.Monitoring.MetricsEnabled {
		t.Error("metrics should be disabled by env")
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("http: [unclosed"), 0o600)
	if _, err := Load(bad); err == nil {
		t.Error("malformed yaml should fail")
	}

	invalid := filepath.Join(t.TempDir(), "invalid.yaml")
	os.WriteFile(invalid, []byte("logging:\n  level: loud\n"), 0o600)
	if _, err := Load(invalid); err == nil || !strings.Contains(err.Error(), "validating config") {
		t.Errorf("invalid values should fail validation, got %v", err)
	}
}

func TestLoadFromEnv_IgnoresUnparseable(t *testing.T) {
	t.Setenv("COUNSELCHAT_HTTP_PORT", "not-a-port")
	t.Setenv("COUNSELCHAT_WEBSOCKET_PING_INTERVAL", "soon")

	cfg := LoadFromEnv()
	if cfg.HTTP.Port != 3001 {
		t.Errorf("port should keep default, got %d", cfg.HTTP.Port)
	}
	if cfg.WebSocket.PingInterval != 30*time.Second {
		t.Errorf("ping interval should keep default, got %v", cfg.WebSocket.PingInterval)
	}
}

func TestCheckOrigin(t *testing.T) {
	cfg := DefaultConfig()
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "https://evil.example")
	if !cfg.CheckOrigin()(req) {
		t.Error("wildcard should allow any origin")
	}

	cfg.HTTP.AllowedOrigins = []string{"https://counsel.example"}
	check := cfg.CheckOrigin()
	if check(req) {
		t.Error("unlisted origin should be rejected")
	}
	req.Header.Set("Origin", "https://counsel.example")
	if !check(req) {
		t.Error("listed origin should be allowed")
	}
	req.Header.Del("Origin")
	if !check(req) {
		t.Error("requests without an Origin header should be allowed")
	}
}
