package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	dbconfig "counselchat/pkg/database"
)

// Config is the complete server configuration
type Config struct {
	HTTP       *HTTPConfig       `yaml:"http"`
	WebSocket  *WebSocketConfig  `yaml:"websocket"`
	Database   *dbconfig.Config  `yaml:"database"`
	Counseling *CounselingConfig `yaml:"counseling"`
	Logging    *LoggingConfig    `yaml:"logging"`
	Monitoring *MonitoringConfig `yaml:"monitoring"`
}

// HTTPConfig controls the listener and CORS policy
type HTTPConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// WebSocketConfig controls heartbeat and framing
type WebSocketConfig struct {
	Path           string        `yaml:"path"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	EventTimeout   time.Duration `yaml:"event_timeout"`
	SendBuffer     int           `yaml:"send_buffer"`
	MaxMessageSize int64         `yaml:"max_message_size"`
}

// CounselingConfig holds the domain settings
type CounselingConfig struct {
	CounselorID       string        `yaml:"counselor_id"`
	RoomPrefix        string        `yaml:"room_prefix"`
	AnonymousPrefix   string        `yaml:"anonymous_prefix"`
	CounselorGroup    string        `yaml:"counselor_group"`
	MaxMessageLength  int           `yaml:"max_message_length"`
	MessagesPerSecond float64       `yaml:"messages_per_second"`
	MessageBurst      int           `yaml:"message_burst"`
	RosterTimeout     time.Duration `yaml:"roster_timeout"`
}

// LoggingConfig selects level, format and optional rotated file output
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// MonitoringConfig controls the prometheus endpoint
type MonitoringConfig struct {
	MetricsEnabled  bool   `yaml:"metrics_enabled"`
	MetricsEndpoint string `yaml:"metrics_endpoint"`
}

// DefaultConfig returns a single-node configuration listening on :3001
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            3001,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		WebSocket: &WebSocketConfig{
			Path:           "/ws",
			PingInterval:   30 * time.Second,
			PongTimeout:    60 * time.Second,
			WriteTimeout:   10 * time.Second,
			EventTimeout:   10 * time.Second,
			SendBuffer:     100,
			MaxMessageSize: 64 * 1024,
		},
		Database: dbconfig.DefaultConfig(),
		Counseling: &CounselingConfig{
			CounselorID:       "counselor123",
			RoomPrefix:        "room_",
			AnonymousPrefix:   "anon_",
			CounselorGroup:    "counselor_room",
			MaxMessageLength:  4000,
			MessagesPerSecond: 5,
			MessageBurst:      10,
			RosterTimeout:     5 * time.Second,
		},
		Logging: &LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Monitoring: &MonitoringConfig{
			MetricsEnabled:  true,
			MetricsEndpoint: "/metrics",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// COUNSELCHAT_* environment variables, in that order of precedence.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// LoadFromEnv returns defaults with environment overrides applied
func LoadFromEnv() *Config {
	cfg := DefaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// Address returns the host:port the HTTP server binds to
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	if c.HTTP == nil || c.WebSocket == nil || c.Database == nil ||
		c.Counseling == nil || c.Logging == nil || c.Monitoring == nil {
		return errors.New("all configuration sections are required")
	}

	if c.HTTP.Host == "" {
		return errors.New("http.host cannot be empty")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return errors.New("http timeouts must be positive")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return errors.New("http.shutdown_timeout must be positive")
	}

	if !strings.HasPrefix(c.WebSocket.Path, "/") {
		return errors.New("websocket.path must start with /")
	}
	if c.WebSocket.PingInterval <= 0 {
		return errors.New("websocket.ping_interval must be positive")
	}
	if c.WebSocket.PongTimeout <= c.WebSocket.PingInterval {
		return errors.New("websocket.pong_timeout must exceed websocket.ping_interval")
	}
	if c.WebSocket.WriteTimeout <= 0 || c.WebSocket.EventTimeout <= 0 {
		return errors.New("websocket timeouts must be positive")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return errors.New("websocket.send_buffer must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return errors.New("websocket.max_message_size must be positive")
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if strings.TrimSpace(c.Counseling.CounselorID) == "" {
		return errors.New("counseling.counselor_id cannot be empty")
	}
	if c.Counseling.AnonymousPrefix == "" {
		return errors.New("counseling.anonymous_prefix cannot be empty")
	}
	if c.Counseling.CounselorGroup == "" {
		return errors.New("counseling.counselor_group cannot be empty")
	}
	if c.Counseling.RoomPrefix != "" && strings.HasPrefix(c.Counseling.CounselorGroup, c.Counseling.RoomPrefix) {
		return errors.New("counseling.counselor_group must not share the room prefix")
	}
	if c.Counseling.MaxMessageLength < 0 {
		return errors.New("counseling.max_message_length cannot be negative")
	}
	if c.Counseling.MessagesPerSecond > 0 && c.Counseling.MessageBurst <= 0 {
		return errors.New("counseling.message_burst must be positive when rate limiting is enabled")
	}
	if c.Counseling.RosterTimeout <= 0 {
		return errors.New("counseling.roster_timeout must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("logging.level must be one of: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return errors.New("logging.format must be one of: json, text")
	}

	if c.Monitoring.MetricsEnabled && !strings.HasPrefix(c.Monitoring.MetricsEndpoint, "/") {
		return errors.New("monitoring.metrics_endpoint must start with /")
	}
	return nil
}

// CheckOrigin returns an origin predicate for websocket upgrades built
// from the HTTP allow-list. "*" allows everything.
func (c *Config) CheckOrigin() func(r *http.Request) bool {
	allowed := make(map[string]bool, len(c.HTTP.AllowedOrigins))
	for _, origin := range c.HTTP.AllowedOrigins {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[origin] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}

// applyEnvOverrides applies COUNSELCHAT_ prefixed environment variables.
// Convention: COUNSELCHAT_ + section + field, uppercase with underscores.
func applyEnvOverrides(cfg *Config) {
	envMap := map[string]func(string){
		"COUNSELCHAT_HTTP_HOST":             func(v string) { cfg.HTTP.Host = v },
		"COUNSELCHAT_HTTP_PORT":             func(v string) { cfg.HTTP.Port = parseInt(v, cfg.HTTP.Port) },
		"COUNSELCHAT_HTTP_READ_TIMEOUT":     func(v string) { cfg.HTTP.ReadTimeout = parseDuration(v, cfg.HTTP.ReadTimeout) },
		"COUNSELCHAT_HTTP_WRITE_TIMEOUT":    func(v string) { cfg.HTTP.WriteTimeout = parseDuration(v, cfg.HTTP.WriteTimeout) },
		"COUNSELCHAT_HTTP_SHUTDOWN_TIMEOUT": func(v string) { cfg.HTTP.ShutdownTimeout = parseDuration(v, cfg.HTTP.ShutdownTimeout) },
		"COUNSELCHAT_HTTP_ALLOWED_ORIGINS":  func(v string) { cfg.HTTP.AllowedOrigins = splitList(v) },

		"COUNSELCHAT_WEBSOCKET_PING_INTERVAL":    func(v string) { cfg.WebSocket.PingInterval = parseDuration(v, cfg.WebSocket.PingInterval) },
		"COUNSELCHAT_WEBSOCKET_PONG_TIMEOUT":     func(v string) { cfg.WebSocket.PongTimeout = parseDuration(v, cfg.WebSocket.PongTimeout) },
		"COUNSELCHAT_WEBSOCKET_WRITE_TIMEOUT":    func(v string) { cfg.WebSocket.WriteTimeout = parseDuration(v, cfg.WebSocket.WriteTimeout) },
		"COUNSELCHAT_WEBSOCKET_SEND_BUFFER":      func(v string) { cfg.WebSocket.SendBuffer = parseInt(v, cfg.WebSocket.SendBuffer) },
		"COUNSELCHAT_WEBSOCKET_MAX_MESSAGE_SIZE": func(v string) { cfg.WebSocket.MaxMessageSize = parseInt64(v, cfg.WebSocket.MaxMessageSize) },

		"COUNSELCHAT_DATABASE_DRIVER":  func(v string) { cfg.Database.Driver = v },
		"COUNSELCHAT_DATABASE_PATH":    func(v string) { cfg.Database.Path = v },
		"COUNSELCHAT_DATABASE_URL":     func(v string) { cfg.Database.URL = v },
		"COUNSELCHAT_DATABASE_TIMEOUT": func(v string) { cfg.Database.Timeout = parseDuration(v, cfg.Database.Timeout) },

		"COUNSELCHAT_COUNSELING_COUNSELOR_ID":        func(v string) { cfg.Counseling.CounselorID = v },
		"COUNSELCHAT_COUNSELING_ROOM_PREFIX":         func(v string) { cfg.Counseling.RoomPrefix = v },
		"COUNSELCHAT_COUNSELING_COUNSELOR_GROUP":     func(v string) { cfg.Counseling.CounselorGroup = v },
		"COUNSELCHAT_COUNSELING_MAX_MESSAGE_LENGTH":  func(v string) { cfg.Counseling.MaxMessageLength = parseInt(v, cfg.Counseling.MaxMessageLength) },
		"COUNSELCHAT_COUNSELING_MESSAGES_PER_SECOND": func(v string) { cfg.Counseling.MessagesPerSecond = parseFloat(v, cfg.Counseling.MessagesPerSecond) },
		"COUNSELCHAT_COUNSELING_MESSAGE_BURST":       func(v string) { cfg.Counseling.MessageBurst = parseInt(v, cfg.Counseling.MessageBurst) },

		"COUNSELCHAT_LOGGING_LEVEL":  func(v string) { cfg.Logging.Level = v },
		"COUNSELCHAT_LOGGING_FORMAT": func(v string) { cfg.Logging.Format = v },
		"COUNSELCHAT_LOGGING_FILE":   func(v string) { cfg.Logging.File = v },

		"COUNSELCHAT_MONITORING_METRICS_ENABLED": func(v string) { cfg.Monitoring.MetricsEnabled = parseBool(v, cfg.Monitoring.MetricsEnabled) },
	}

	for env, setter := range envMap {
		if v := os.Getenv(env); v != "" {
			setter(v)
		}
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return v
}

func parseInt64(s string, fallback int64) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func parseFloat(s string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fallback
	}
	return v
}

func parseBool(s string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
