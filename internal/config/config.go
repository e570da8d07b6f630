package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate for out-of-range or unknown values.
var ErrInvalidConfig = errors.New("invalid config")

// Supported session store dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// Config is the root gateway configuration.
type Config struct {
	Gateway  GatewayConfig  `json:"gateway" yaml:"gateway"`
	WhatsApp WhatsAppConfig `json:"whatsapp" yaml:"whatsapp"`
	Webhook  WebhookConfig  `json:"webhook" yaml:"webhook"`
	Log      LogConfig      `json:"log" yaml:"log"`
}

// GatewayConfig controls the HTTP surface.
type GatewayConfig struct {
	Host           string `json:"host" yaml:"host"`
	Port           int    `json:"port" yaml:"port"`
	Token          string `json:"token" yaml:"token"`
	DownloadsDir   string `json:"downloadsDir" yaml:"downloadsDir"`
	RateLimitRPM   int    `json:"rateLimitRpm" yaml:"rateLimitRpm"`
	RateLimitBurst int    `json:"rateLimitBurst" yaml:"rateLimitBurst"`
	MaxBodyBytes   int64  `json:"maxBodyBytes" yaml:"maxBodyBytes"`
}

// WhatsAppConfig controls the wrapped messaging client and its stores.
type WhatsAppConfig struct {
	// Dialect selects the session store driver: "sqlite" or "postgres".
	Dialect     string `json:"dialect" yaml:"dialect"`
	DSN         string `json:"dsn" yaml:"dsn"`
	HistoryPath string `json:"historyPath" yaml:"historyPath"`
	ChatLimit   int    `json:"chatLimit" yaml:"chatLimit"`
}

// WebhookConfig enables event forwarding when URL is set.
type WebhookConfig struct {
	URL            string `json:"url" yaml:"url"`
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	QueueSize      int    `json:"queueSize" yaml:"queueSize"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns a config with every field at its documented default.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:           "0.0.0.0",
			Port:           3000,
			DownloadsDir:   "./public",
			RateLimitBurst: 10,
			MaxBodyBytes:   50 << 20,
		},
		WhatsApp: WhatsAppConfig{
			Dialect:     DialectSQLite,
			DSN:         "file:data/session.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
			HistoryPath: "data/history.db",
			ChatLimit:   50,
		},
		Webhook: WebhookConfig{
			TimeoutSeconds: 10,
			QueueSize:      256,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds a config from defaults, the optional file at path, and the
// process environment, in that order. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := decode(path, data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json5.Unmarshal(data, cfg)
	}
}

// LoadDotEnv loads variables from a .env file without overriding ones
// already present in the environment. Missing files are ignored.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (c *Config) applyEnv() {
	envString("HOST", &c.Gateway.Host)
	envInt("PORT", &c.Gateway.Port)
	envString("API_TOKEN", &c.Gateway.Token)
	envString("DOWNLOADS_DIR", &c.Gateway.DownloadsDir)
	envInt("RATE_LIMIT_RPM", &c.Gateway.RateLimitRPM)
	envString("WA_DB_DIALECT", &c.WhatsApp.Dialect)
	envString("WA_DB_DSN", &c.WhatsApp.DSN)
	envString("WA_HISTORY_PATH", &c.WhatsApp.HistoryPath)
	envString("WEBHOOK_URL", &c.Webhook.URL)
	envString("LOG_LEVEL", &c.Log.Level)
	envString("LOG_FORMAT", &c.Log.Format)
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Gateway.Port)
	}
	switch c.WhatsApp.Dialect {
	case DialectSQLite, DialectPostgres:
	default:
		return fmt.Errorf("%w: unknown dialect %q", ErrInvalidConfig, c.WhatsApp.Dialect)
	}
	if c.WhatsApp.ChatLimit <= 0 {
		return fmt.Errorf("%w: chatLimit must be positive", ErrInvalidConfig)
	}
	if c.Gateway.RateLimitRPM < 0 {
		return fmt.Errorf("%w: rateLimitRpm must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Gateway.Host, c.Gateway.Port)
}

// Hash returns a short content hash, used to tell reloads apart in logs.
func (c *Config) Hash() string {
	data, _ := json.Marshal(c)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

// MaskedCopy returns a copy with secrets replaced, safe for display.
func (c *Config) MaskedCopy() *Config {
	cp := *c
	cp.Gateway.Token = maskSecret(c.Gateway.Token)
	cp.WhatsApp.DSN = maskDSN(c.WhatsApp.DSN)
	return &cp
}

func maskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) > 8:
		return s[:4] + "****" + s[len(s)-4:]
	default:
		return "****"
	}
}

// maskDSN hides the password part of a postgres URL-style DSN.
func maskDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	userinfo := dsn[scheme+3 : at]
	if user, _, ok := strings.Cut(userinfo, ":"); ok {
		return dsn[:scheme+3] + user + ":****" + dsn[at:]
	}
	return dsn
}
