// Package server provides configuration helpers that define runtime defaults,
// validation, and file/environment loading for the chat service.
package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/room"
	"github.com/Tyrowin/roomchat/internal/session"
)

// RateLimitConfig defines the parameters for per-connection line rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// Config holds the server configuration settings.
type Config struct {
	// Port is the TCP chat listen address, e.g. ":8989".
	Port string `yaml:"port"`
	// HTTPAddr is the listen address of the WebSocket/health endpoint.
	// Empty disables it.
	HTTPAddr       string   `yaml:"http_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	MaxSessions  int `yaml:"max_sessions"`
	MaxRooms     int `yaml:"max_rooms"`
	HistorySize  int `yaml:"history_size"`
	MaxLineBytes int `yaml:"max_line_bytes"`

	TickInterval     time.Duration `yaml:"tick_interval"`
	MaintenanceEvery int           `yaml:"maintenance_every"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	TypingCooldown   time.Duration `yaml:"typing_cooldown"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

const (
	defaultPort             = ":8989"
	defaultMaxLineBytes     = 4096
	defaultTickInterval     = time.Second
	defaultMaintenanceEvery = 10
	defaultIdleTimeout      = 300 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultRateBurst        = 20
	defaultRateInterval     = time.Second
)

func defaultConfig() Config {
	return Config{
		Port:             defaultPort,
		HTTPAddr:         "",
		AllowedOrigins:   []string{"http://localhost:8080"},
		MaxSessions:      session.DefaultCapacity,
		MaxRooms:         room.DefaultCapacity,
		HistorySize:      room.DefaultHistorySize,
		MaxLineBytes:     defaultMaxLineBytes,
		TickInterval:     defaultTickInterval,
		MaintenanceEvery: defaultMaintenanceEvery,
		IdleTimeout:      defaultIdleTimeout,
		TypingCooldown:   chat.DefaultTypingCooldown,
		WriteTimeout:     defaultWriteTimeout,
		RateLimit: RateLimitConfig{
			Burst:          defaultRateBurst,
			RefillInterval: defaultRateInterval,
		},
	}
}

// sanitizeConfig replaces every unset or out-of-range value with its default.
func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	cfg.Port = normalizeAddr(cfg.Port)
	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	cfg.HTTPAddr = normalizeAddr(cfg.HTTPAddr)

	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = def.MaxSessions
	}
	if cfg.MaxRooms <= 0 {
		cfg.MaxRooms = def.MaxRooms
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.MaxLineBytes < 64 {
		cfg.MaxLineBytes = def.MaxLineBytes
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.MaintenanceEvery <= 0 {
		cfg.MaintenanceEvery = def.MaintenanceEvery
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.TypingCooldown <= 0 {
		cfg.TypingCooldown = def.TypingCooldown
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// normalizeAddr turns a bare port such as "8989" into ":8989".
func normalizeAddr(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" || strings.Contains(addr, ":") {
		return addr
	}
	return ":" + addr
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// LoadConfig reads a YAML file on top of the defaults. Keys missing from the
// file keep their default values.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path) // #nosec G304 - operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv overrides cfg with any CHAT_* / rate-limit environment variables
// that are set. Unparseable values are ignored.
func ApplyEnv(cfg *Config) {
	if port := os.Getenv("CHAT_PORT"); port != "" {
		cfg.Port = port
	}
	if addr := os.Getenv("CHAT_HTTP_ADDR"); addr != "" {
		cfg.HTTPAddr = addr
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if v := os.Getenv("CHAT_MAX_SESSIONS"); v != "" {
		cfg.MaxSessions = parseIntValue(v, cfg.MaxSessions)
	}
	if v := os.Getenv("CHAT_MAX_ROOMS"); v != "" {
		cfg.MaxRooms = parseIntValue(v, cfg.MaxRooms)
	}
	if v := os.Getenv("CHAT_HISTORY_SIZE"); v != "" {
		cfg.HistorySize = parseIntValue(v, cfg.HistorySize)
	}
	if v := os.Getenv("CHAT_IDLE_TIMEOUT"); v != "" {
		cfg.IdleTimeout = parseDuration(v, cfg.IdleTimeout)
	}
	if v := os.Getenv("CHAT_TYPING_COOLDOWN"); v != "" {
		cfg.TypingCooldown = parseDuration(v, cfg.TypingCooldown)
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		cfg.RateLimit.Burst = parseIntValue(v, cfg.RateLimit.Burst)
	}
	if v := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); v != "" {
		cfg.RateLimit.RefillInterval = parseDuration(v, cfg.RateLimit.RefillInterval)
	}
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()
	ApplyEnv(&cfg)
	return &cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts Go duration syntax ("90s", "5m") or a bare number of seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
