// Package config loads and exposes application configuration (TOML).
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath       = "config.toml"
	DefaultHTTPAddr         = ":8080"
	DefaultPGHost           = "127.0.0.1"
	DefaultPGPort           = 5432
	DefaultPGUser           = "postgres"
	DefaultPGDatabase       = "agrodiag"
	DefaultPGSSLMode        = "disable"
	DefaultSessionTTL       = "30m"
	DefaultSweepInterval    = "5m"
	DefaultDedupRetention   = "720h"
	DefaultWhatsAppBaseURL  = "https://gate.whapi.cloud"
	DefaultDiagnosisTimeout = "90s"
	DefaultMaxImageBytes    = 10 << 20
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Session   SessionConfig   `toml:"session"`
	WhatsApp  WhatsAppConfig  `toml:"whatsapp"`
	Telegram  TelegramConfig  `toml:"telegram"`
	Diagnosis DiagnosisConfig `toml:"diagnosis"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds the HTTP server listen address.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// SessionConfig holds conversation session expiry and sweep settings.
// TTL is the inactivity window extended on every transition; the sweep
// reclaims rows past expiry and prunes processed-message records older
// than DedupRetention.
type SessionConfig struct {
	TTL            string `toml:"ttl"`
	SweepInterval  string `toml:"sweep_interval"`
	DedupRetention string `toml:"dedup_retention"`
}

// TTLDuration returns the parsed session TTL, falling back to the default.
func (c SessionConfig) TTLDuration() time.Duration {
	return parseDurationOr(c.TTL, DefaultSessionTTL)
}

// SweepIntervalDuration returns the parsed sweep interval.
func (c SessionConfig) SweepIntervalDuration() time.Duration {
	return parseDurationOr(c.SweepInterval, DefaultSweepInterval)
}

// DedupRetentionDuration returns how long processed-message records are kept.
func (c SessionConfig) DedupRetentionDuration() time.Duration {
	return parseDurationOr(c.DedupRetention, DefaultDedupRetention)
}

// WhatsAppConfig holds the WhatsApp gateway credentials.
// WebhookSecret signs inbound webhook bodies (HMAC-SHA256); when empty,
// webhook authentication is disabled and a warning is logged.
type WhatsAppConfig struct {
	BaseURL       string `toml:"base_url"`
	Token         string `toml:"token"`
	WebhookSecret string `toml:"webhook_secret"`
}

// TelegramConfig holds the Telegram bot token and the webhook secret token
// (X-Telegram-Bot-Api-Secret-Token).
type TelegramConfig struct {
	BotToken      string `toml:"bot_token"`
	WebhookSecret string `toml:"webhook_secret"`
}

// DiagnosisConfig holds the external diagnosis engine endpoint and image limits.
type DiagnosisConfig struct {
	BaseURL       string   `toml:"base_url"`
	APIKey        string   `toml:"api_key"`
	Timeout       string   `toml:"timeout"`
	MaxImageBytes int64    `toml:"max_image_bytes"`
	AcceptedMimes []string `toml:"accepted_mimes"`
}

// TimeoutDuration returns the parsed engine call timeout.
func (c DiagnosisConfig) TimeoutDuration() time.Duration {
	return parseDurationOr(c.Timeout, DefaultDiagnosisTimeout)
}

// Load reads and parses the TOML config file at path and applies default values for missing fields.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Session: SessionConfig{
			TTL:            DefaultSessionTTL,
			SweepInterval:  DefaultSweepInterval,
			DedupRetention: DefaultDedupRetention,
		},
		WhatsApp: WhatsAppConfig{
			BaseURL: DefaultWhatsAppBaseURL,
		},
		Diagnosis: DiagnosisConfig{
			Timeout:       DefaultDiagnosisTimeout,
			MaxImageBytes: DefaultMaxImageBytes,
			AcceptedMimes: []string{"image/jpeg", "image/png", "image/webp"},
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func parseDurationOr(raw, fallback string) time.Duration {
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(fallback)
	return d
}
