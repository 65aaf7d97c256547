// Package config assembles runtime settings from defaults, an optional YAML
// file and the environment, in that order of precedence (lowest first).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RedisConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	Port            string          `yaml:"port"`
	CORSOrigins     []string        `yaml:"cors_origins"`
	Redis           RedisConfig     `yaml:"redis"`
	RoomTTL         time.Duration   `yaml:"room_ttl"`
	MaxMessageSize  int64           `yaml:"max_message_size"`
	MaxUploadBytes  int64           `yaml:"max_upload_bytes"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	Log             LogConfig       `yaml:"log"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
}

func Default() *Config {
	return &Config{
		Port:        "5000",
		CORSOrigins: []string{"*"},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		RoomTTL:        24 * time.Hour,
		MaxMessageSize: 512 * 1024,
		MaxUploadBytes: 10 << 20,
		RateLimit: RateLimitConfig{
			RPS:   20,
			Burst: 40,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		ShutdownTimeout: 10 * time.Second,
	}
}

// LoadDotEnv reads .env.local, falling back to .env. It returns the file it
// loaded, or "" when neither exists.
func LoadDotEnv() string {
	if err := godotenv.Load(".env.local"); err == nil {
		return ".env.local"
	}
	if err := godotenv.Load(); err == nil {
		return ".env"
	}
	return ""
}

// Load builds the configuration from defaults, CONFIG_FILE and the process
// environment. It does not read .env files; call LoadDotEnv first.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML document at path onto cfg.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides cfg with whatever lookup finds set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("PORT", &c.Port)
	str("REDIS_URL", &c.Redis.URL)
	str("REDIS_HOST", &c.Redis.Host)
	str("REDIS_USERNAME", &c.Redis.Username)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	if v, ok := lookup("CORS_ORIGIN"); ok && v != "" {
		c.CORSOrigins = splitList(v)
	}

	var errs []error
	if v, ok := lookup("REDIS_PORT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		errs = append(errs, wrapKey("REDIS_PORT", err))
		c.Redis.Port = n
	}
	if v, ok := lookup("ROOM_TTL"); ok && v != "" {
		d, err := parseDuration(v)
		errs = append(errs, wrapKey("ROOM_TTL", err))
		c.RoomTTL = d
	}
	if v, ok := lookup("SHUTDOWN_TIMEOUT"); ok && v != "" {
		d, err := parseDuration(v)
		errs = append(errs, wrapKey("SHUTDOWN_TIMEOUT", err))
		c.ShutdownTimeout = d
	}
	if v, ok := lookup("MAX_MESSAGE_SIZE"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		errs = append(errs, wrapKey("MAX_MESSAGE_SIZE", err))
		c.MaxMessageSize = n
	}
	if v, ok := lookup("MAX_UPLOAD_BYTES"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		errs = append(errs, wrapKey("MAX_UPLOAD_BYTES", err))
		c.MaxUploadBytes = n
	}
	if v, ok := lookup("RATE_LIMIT_RPS"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		errs = append(errs, wrapKey("RATE_LIMIT_RPS", err))
		c.RateLimit.RPS = f
	}
	if v, ok := lookup("RATE_LIMIT_BURST"); ok && v != "" {
		n, err := strconv.Atoi(v)
		errs = append(errs, wrapKey("RATE_LIMIT_BURST", err))
		c.RateLimit.Burst = n
	}
	return errors.Join(errs...)
}

func wrapKey(key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", key, err)
}

// parseDuration accepts Go durations ("90m") and bare seconds ("3600").
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if c.Redis.URL == "" && c.Redis.Host == "" {
		errs = append(errs, errors.New("redis url or host is required"))
	}
	if c.Redis.URL == "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("redis port %d out of range", c.Redis.Port))
	}
	if c.RoomTTL <= 0 {
		errs = append(errs, errors.New("room ttl must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}
	if c.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("max message size must be positive"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("max upload bytes must be positive"))
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("rate limit rps and burst must be positive"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}
