package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config is the service configuration.
type Config struct {
	HTTPAddr      string        `yaml:"http_addr"`
	DatabaseURL   string        `yaml:"database_url"`
	StoreBackend  string        `yaml:"store_backend"`
	RedisAddr     string        `yaml:"redis_addr"`
	StatsCacheTTL time.Duration `yaml:"stats_cache_ttl"`
	JWTSecret     string        `yaml:"jwt_secret"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	LogLevel      string        `yaml:"log_level"`
	LogFormat     string        `yaml:"log_format"`
	MailWebhook   string        `yaml:"mail_webhook_url"`
	MailRetries   int           `yaml:"mail_retries"`
	AppURL        string        `yaml:"app_url"`
	InvitationTTL time.Duration `yaml:"invitation_ttl"`
}

// Load reads the environment and then overlays the YAML file named by
// CONDO_WATER_CONFIG when set.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:      getenvDefault("HTTP_ADDR", ":8080"),
		DatabaseURL:   getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		StoreBackend:  os.Getenv("STORE_BACKEND"),
		RedisAddr:     getenvDefault("REDIS_ADDR", ""),
		StatsCacheTTL: getenvDuration("STATS_CACHE_TTL", 10*time.Minute),
		JWTSecret:     getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		SessionTTL:    getenvDuration("SESSION_TTL", 24*time.Hour),
		LogLevel:      getenvDefault("LOG_LEVEL", "info"),
		LogFormat:     getenvDefault("LOG_FORMAT", "json"),
		MailWebhook:   getenvDefault("MAIL_WEBHOOK_URL", ""),
		MailRetries:   getenvIntDefault("MAIL_RETRIES", 2),
		AppURL:        getenvDefault("APP_URL", "http://localhost:5173"),
		InvitationTTL: getenvDuration("INVITATION_TTL", 7*24*time.Hour),
	}

	if path := os.Getenv("CONDO_WATER_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, cfg.normalize()
}

func (c *Config) normalize() error {
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	if c.StoreBackend == "" {
		c.StoreBackend = StoreMemory
		if c.DatabaseURL != "" {
			c.StoreBackend = StorePostgres
		}
	}
	switch c.StoreBackend {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", c.StoreBackend)
	}
	if c.JWTSecret == "" {
		return errors.New("config: AUTH_JWT_SECRET is required")
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
