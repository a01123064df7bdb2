/*
Package config loads the server configuration.

SOURCES (later wins):
  1. Defaults below
  2. .env in the working directory, if present (godotenv)
  3. Process environment (viper AutomaticEnv)
  4. Command-line flags -port and -db, applied by main

KEYS:
  PORT                       HTTP port (8080)
  DATABASE_PATH              SQLite file, ":memory:" allowed (movimientos.db)
  LOG_LEVEL                  debug, info, warn, error (info)
  BILLING_API_KEY            X-API-Key for the billing sync; empty denies all
  CORS_ALLOWED_ORIGINS       comma separated
  PEER_BASE_URL              Inkwell base URL; empty disables outbound notifications
  NOTIF_SHARED_SECRET        HMAC and JWT secret shared with the peer
  NOTIF_SOURCE_APP           our X-Source-App (app-a)
  NOTIF_ALLOWED_SOURCE_APPS  comma separated allow-list (app-a,app-b)
  NOTIF_RATE_LIMIT           inbound requests per window and source (60)
  NOTIF_RATE_WINDOW          sliding window (60s)
  NOTIF_TIMESTAMP_WINDOW     accepted X-Timestamp skew (300s)
  NOTIF_TIMEOUT              outbound request timeout (10s)
  NOTIF_RETENTION_DAYS       read notifications kept for (90)
  NOTIF_RETENTION_INTERVAL   retention sweep period (24h)
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Port         int
	DatabasePath string
	LogLevel     string

	BillingAPIKey  string
	AllowedOrigins []string

	Notifications NotificationsConfig
}

// NotificationsConfig holds both directions of the notification protocol.
type NotificationsConfig struct {
	PeerBaseURL       string
	SharedSecret      string
	SourceApp         string
	AllowedSourceApps []string
	RateLimit         int
	RateWindow        time.Duration
	TimestampWindow   time.Duration
	Timeout           time.Duration
	Retention         time.Duration
	RetentionInterval time.Duration
}

// OutboundEnabled reports whether billing notifications go to the peer.
func (c NotificationsConfig) OutboundEnabled() bool {
	return c.PeerBaseURL != "" && c.SharedSecret != ""
}

var defaults = map[string]any{
	"PORT":                      8080,
	"DATABASE_PATH":             "movimientos.db",
	"LOG_LEVEL":                 "info",
	"BILLING_API_KEY":           "",
	"CORS_ALLOWED_ORIGINS":      "",
	"PEER_BASE_URL":             "",
	"NOTIF_SHARED_SECRET":       "",
	"NOTIF_SOURCE_APP":          "app-a",
	"NOTIF_ALLOWED_SOURCE_APPS": "app-a,app-b",
	"NOTIF_RATE_LIMIT":          60,
	"NOTIF_RATE_WINDOW":         "60s",
	"NOTIF_TIMESTAMP_WINDOW":    "300s",
	"NOTIF_TIMEOUT":             "10s",
	"NOTIF_RETENTION_DAYS":      90,
	"NOTIF_RETENTION_INTERVAL":  "24h",
}

// Load reads .env (if present) and the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()
	return v
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Port:           v.GetInt("PORT"),
		DatabasePath:   strings.TrimSpace(v.GetString("DATABASE_PATH")),
		LogLevel:       strings.ToLower(strings.TrimSpace(v.GetString("LOG_LEVEL"))),
		BillingAPIKey:  strings.TrimSpace(v.GetString("BILLING_API_KEY")),
		AllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		Notifications: NotificationsConfig{
			PeerBaseURL:       strings.TrimSpace(v.GetString("PEER_BASE_URL")),
			SharedSecret:      v.GetString("NOTIF_SHARED_SECRET"),
			SourceApp:         strings.TrimSpace(v.GetString("NOTIF_SOURCE_APP")),
			AllowedSourceApps: splitList(v.GetString("NOTIF_ALLOWED_SOURCE_APPS")),
			RateLimit:         v.GetInt("NOTIF_RATE_LIMIT"),
			RateWindow:        v.GetDuration("NOTIF_RATE_WINDOW"),
			TimestampWindow:   v.GetDuration("NOTIF_TIMESTAMP_WINDOW"),
			Timeout:           v.GetDuration("NOTIF_TIMEOUT"),
			Retention:         time.Duration(v.GetInt("NOTIF_RETENTION_DAYS")) * 24 * time.Hour,
			RetentionInterval: v.GetDuration("NOTIF_RETENTION_INTERVAL"),
		},
	}
	return cfg, cfg.Validate()
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	n := c.Notifications
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("PORT %d out of range", c.Port)
	case c.DatabasePath == "":
		return errors.New("DATABASE_PATH is required")
	case n.RateLimit <= 0:
		return fmt.Errorf("NOTIF_RATE_LIMIT must be positive, got %d", n.RateLimit)
	case n.RateWindow <= 0:
		return errors.New("NOTIF_RATE_WINDOW must be positive")
	case n.TimestampWindow <= 0:
		return errors.New("NOTIF_TIMESTAMP_WINDOW must be positive")
	case n.Retention <= 0:
		return errors.New("NOTIF_RETENTION_DAYS must be positive")
	case n.RetentionInterval <= 0:
		return errors.New("NOTIF_RETENTION_INTERVAL must be positive")
	case n.PeerBaseURL != "" && n.SharedSecret == "":
		return errors.New("PEER_BASE_URL requires NOTIF_SHARED_SECRET")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
