// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

// Package config loads ThinkGreen settings from defaults, a YAML file,
// dotenv files, the environment and command-line flags, in that order of
// increasing precedence.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/thinkgreen/thinkgreen/internal/auth"
	"github.com/thinkgreen/thinkgreen/internal/logging"
	"github.com/thinkgreen/thinkgreen/internal/web"
	"github.com/thinkgreen/thinkgreen/internal/xdg"
)

// Mail drivers.
const (
	MailDriverSMTP = "smtp"
	MailDriverLog  = "log"
)

// Config is the full service configuration.
type Config struct {
	HTTP     HTTPConfig     `koanf:"http"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
	Database DatabaseConfig `koanf:"database"`
	Session  SessionConfig  `koanf:"session"`
	Mail     MailConfig     `koanf:"mail"`
	OTP      OTPConfig      `koanf:"otp"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string        `koanf:"addr" jsonschema:"description=HTTP listen address"`
	BaseURL         string        `koanf:"base_url" jsonschema:"description=Public URL used in email links"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// RateLimit is the per-IP requests per minute allowed on auth POSTs.
	// Zero disables limiting.
	RateLimit int `koanf:"rate_limit" jsonschema:"minimum=0"`
	// TrustedProxies lists CIDRs or addresses whose X-Forwarded-For and
	// X-Real-IP headers are honoured. Empty means the socket peer is the
	// client.
	TrustedProxies []string `koanf:"trusted_proxies"`
}

// MetricsConfig configures the observability listener. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// DatabaseConfig configures PostgreSQL.
type DatabaseConfig struct {
	URL         string `koanf:"url"`
	MaxConns    int32  `koanf:"max_conns" jsonschema:"minimum=1"`
	AutoMigrate bool   `koanf:"auto_migrate"`
}

// SessionConfig configures session tokens and the cookie that carries them.
type SessionConfig struct {
	Key          string        `koanf:"key" jsonschema:"minLength=32"`
	TTL          time.Duration `koanf:"ttl"`
	CookieSecure bool          `koanf:"cookie_secure"`
}

// MailConfig configures outbound mail.
type MailConfig struct {
	Driver   string `koanf:"driver" jsonschema:"enum=smtp,enum=log"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port" jsonschema:"minimum=1,maximum=65535"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
}

// OTPConfig configures code housekeeping.
type OTPConfig struct {
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

var defaults = map[string]any{
	"http.addr":             ":3000",
	"http.base_url":         "http://localhost:3000",
	"http.shutdown_timeout": "15s",
	"http.rate_limit":       30,
	"metrics.addr":          "127.0.0.1:9100",
	"log.format":            "json",
	"log.level":             "info",
	"database.max_conns":    10,
	"database.auto_migrate": true,
	"session.ttl":           auth.SessionTTL.String(),
	"session.cookie_secure": true,
	"mail.driver":           MailDriverSMTP,
	"mail.host":             "smtp.gmail.com",
	"mail.port":             587,
	"otp.sweep_interval":    auth.DefaultSweepInterval.String(),
}

// envKeys maps environment variables onto config keys. Later entries win
// when several are set for one key.
var envKeys = []struct {
	env  string
	key  string
	list bool
}{
	{"JWT_SECRET", "session.key", false},
	{"SESSION_SECRET", "session.key", false},
	{"DATABASE_URL", "database.url", false},
	{"SMTP_HOST", "mail.host", false},
	{"SMTP_PORT", "mail.port", false},
	{"HOST_EMAIL", "mail.username", false},
	{"HOST_EMAIL_PASSWORD", "mail.password", false},
	{"MAIL_FROM", "mail.from", false},
	{"MAIL_DRIVER", "mail.driver", false},
	{"BASE_URL", "http.base_url", false},
	{"LOG_LEVEL", "log.level", false},
	{"TRUSTED_PROXIES", "http.trusted_proxies", true},
}

// flagKeys maps command-line flag names onto config keys. Flags not listed
// here are not configuration.
var flagKeys = map[string]string{
	"addr":           "http.addr",
	"metrics-addr":   "metrics.addr",
	"log-format":     "log.format",
	"log-level":      "log.level",
	"mail-driver":    "mail.driver",
	"auto-migrate":   "database.auto_migrate",
	"sweep-interval": "otp.sweep_interval",
}

// Load builds a Config. path names a YAML file; when empty the XDG default
// is used if it exists. flags may be nil.
func Load(flags *pflag.FlagSet, path string) (*Config, error) {
	k := koanf.New(".")

	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("key", key).Wrap(err)
		}
	}

	if err := loadFile(k, path); err != nil {
		return nil, err
	}

	if err := loadDotenv(); err != nil {
		return nil, err
	}
	for _, m := range envKeys {
		if val, ok := os.LookupEnv(m.env); ok && val != "" {
			var v any = val
			if m.list {
				v = strings.Split(val, ",")
			}
			if err := k.Set(m.key, v); err != nil {
				return nil, oops.Code("CONFIG_LOAD_FAILED").With("env", m.env).Wrap(err)
			}
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "unmarshal config").Wrap(err)
	}
	return &cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	explicit := path != ""
	if !explicit {
		path = xdg.ConfigFile()
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is operator supplied
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
	}
	if err := ValidateFile(data); err != nil {
		return oops.With("path", path).Wrap(err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
	}
	return nil
}

// loadDotenv loads ./.env, then the per-user file. Variables already in the
// environment are never overridden.
func loadDotenv() error {
	for _, path := range []string{".env", xdg.EnvFile()} {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}
	return nil
}

// Validate refuses configurations the service cannot run with.
func (c *Config) Validate() error {
	invalid := func(field, format string, args ...any) error {
		return oops.Code("CONFIG_INVALID").With("field", field).Errorf(format, args...)
	}

	if c.HTTP.Addr == "" {
		return invalid("http.addr", "http address is required")
	}
	if c.HTTP.RateLimit < 0 {
		return invalid("http.rate_limit", "rate limit cannot be negative")
	}
	if _, err := web.ParseTrustedProxies(c.HTTP.TrustedProxies); err != nil {
		return invalid("http.trusted_proxies", "invalid trusted proxy: %v", err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "log format must be json or text, got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "unknown log level %q", c.Log.Level)
	}
	if c.Database.URL == "" {
		return invalid("database.url", "database url is required (DATABASE_URL)")
	}
	if len(c.Session.Key) < auth.MinSessionKeyLength {
		return invalid("session.key", "session key must be at least %d bytes (SESSION_SECRET)", auth.MinSessionKeyLength)
	}
	if c.Session.TTL <= 0 {
		return invalid("session.ttl", "session ttl must be positive")
	}
	if c.OTP.SweepInterval <= 0 {
		return invalid("otp.sweep_interval", "sweep interval must be positive")
	}

	switch c.Mail.Driver {
	case MailDriverLog:
	case MailDriverSMTP:
		if c.Mail.Host == "" || c.Mail.Port <= 0 {
			return invalid("mail.host", "smtp host and port are required (SMTP_HOST, SMTP_PORT)")
		}
		if c.Mail.Username == "" || c.Mail.Password == "" {
			return invalid("mail.username", "smtp credentials are required (HOST_EMAIL, HOST_EMAIL_PASSWORD)")
		}
	default:
		return invalid("mail.driver", "mail driver must be smtp or log, got %q", c.Mail.Driver)
	}
	return nil
}

// MailConfigured reports whether outbound mail has what it needs.
func (c *Config) MailConfigured() bool {
	if c.Mail.Driver == MailDriverLog {
		return true
	}
	return c.Mail.Host != "" && c.Mail.Username != "" && c.Mail.Password != ""
}

// SessionConfigured reports whether a usable session key is present.
func (c *Config) SessionConfigured() bool {
	return len(c.Session.Key) >= auth.MinSessionKeyLength
}
