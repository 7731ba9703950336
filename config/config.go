// Package config loads application configuration from environment variables.
// No other package reads the environment directly.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Env is the runtime environment: "development" or "production".
	Env string

	HTTP      HTTPConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Reset     ResetConfig
	Payment   PaymentConfig
	Mail      MailConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Log       LogConfig

	// SelfServiceSubscribe lets approved clients pick a plan without paying.
	SelfServiceSubscribe bool

	// TeamName signs outgoing mail.
	TeamName string
}

type HTTPConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// TrustedProxies are the CIDRs whose forwarding headers name the client.
	TrustedProxies []string
}

// Addr is the listen address derived from Port.
func (h HTTPConfig) Addr() string {
	return ":" + strconv.Itoa(h.Port)
}

type DatabaseConfig struct {
	URL             string
	MaxConns        int
	MaxConnIdleTime time.Duration
	MaxConnLifetime time.Duration
}

type AuthConfig struct {
	// SecretKey signs session credentials.
	SecretKey string
	// TokenTTL is the credential lifetime (JWT_EXP_SECONDS).
	TokenTTL time.Duration

	// AdminEmail and AdminPassword provision a bootstrap administrator when both are set.
	AdminEmail    string
	AdminPassword string
	// AdminSeedFile points at an optional YAML list of administrators.
	AdminSeedFile string
}

type ResetConfig struct {
	// URLBase is the front-end page that receives ?token=.
	URLBase       string
	TTL           time.Duration
	PurgeInterval time.Duration
}

type PaymentConfig struct {
	Provider        string
	SiteCode        string
	APIKey          string
	PrivateKey      string
	RedirectURL     string
	ReferencePrefix string
	AllowTest       bool
}

type MailConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	FromName   string
	Encryption string
	Timeout    time.Duration
	Workers    int
}

// Enabled reports whether an SMTP relay is configured.
func (m MailConfig) Enabled() bool {
	return m.Host != ""
}

type RedisConfig struct {
	// URL selects the shared rate limiter when set (e.g. "redis://localhost:6379/0").
	URL string
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

const devSecret = "dev-secret-key-do-not-use-in-production!!"

// Load reads configuration from the process environment.
func Load() (*Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom reads configuration through lookup. Malformed values are reported
// together instead of silently falling back to defaults.
func LoadFrom(lookup func(string) (string, bool)) (*Config, error) {
	env := &reader{lookup: lookup}

	cfg := &Config{
		Env: env.str("ENV", "development"),

		HTTP: HTTPConfig{
			Port:            env.integer("PORT", 8080),
			ReadTimeout:     env.duration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    env.duration("HTTP_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     env.duration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: env.duration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
			TrustedProxies:  env.cidrs("TRUSTED_PROXIES"),
		},

		Database: DatabaseConfig{
			URL:             env.str("DATABASE_URL", ""),
			MaxConns:        env.integer("DB_MAX_CONNS", 10),
			MaxConnIdleTime: env.duration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			MaxConnLifetime: env.duration("DB_MAX_CONN_LIFETIME", time.Hour),
		},

		Auth: AuthConfig{
			SecretKey:     env.str("SECRET_KEY", ""),
			TokenTTL:      time.Duration(env.integer("JWT_EXP_SECONDS", 86400)) * time.Second,
			AdminEmail:    env.str("ADMIN_EMAIL", ""),
			AdminPassword: env.str("ADMIN_PASSWORD", ""),
			AdminSeedFile: env.str("ADMIN_SEED_FILE", ""),
		},

		Reset: ResetConfig{
			URLBase:       env.str("RESET_URL_BASE", "http://localhost:3000/reset-password"),
			TTL:           env.duration("RESET_TOKEN_TTL", 30*time.Minute),
			PurgeInterval: env.duration("RESET_PURGE_INTERVAL", 15*time.Minute),
		},

		Payment: PaymentConfig{
			Provider:        env.str("PAYMENT_PROVIDER", "ozow"),
			SiteCode:        env.str("OZOW_SITE_CODE", ""),
			APIKey:          env.str("OZOW_API_KEY", ""),
			PrivateKey:      env.str("OZOW_PRIVATE_KEY", ""),
			RedirectURL:     env.str("OZOW_BASE_URL", "https://pay.ozow.com"),
			ReferencePrefix: env.str("PAYMENT_REFERENCE_PREFIX", "NARI"),
			AllowTest:       env.boolean("OZOW_ALLOW_TEST", false),
		},

		Mail: MailConfig{
			Host:       env.str("SMTP_HOST", ""),
			Port:       env.integer("SMTP_PORT", 587),
			Username:   env.str("SMTP_USER", ""),
			Password:   env.str("SMTP_PASS", ""),
			From:       env.str("MAIL_FROM", "no-reply@localhost"),
			FromName:   env.str("MAIL_FROM_NAME", "NARI"),
			Encryption: env.str("SMTP_ENCRYPTION", ""),
			Timeout:    env.duration("SMTP_TIMEOUT", 10*time.Second),
			Workers:    env.integer("MAIL_WORKERS", 4),
		},

		Redis: RedisConfig{
			URL: env.str("REDIS_URL", ""),
		},

		RateLimit: RateLimitConfig{
			Requests: env.integer("RATE_LIMIT_REQUESTS", 10),
			Window:   env.duration("RATE_LIMIT_WINDOW", time.Minute),
		},

		Log: LogConfig{
			Level:  env.str("LOG_LEVEL", "info"),
			Format: env.str("LOG_FORMAT", "text"),
		},

		SelfServiceSubscribe: env.boolean("SELF_SERVICE_SUBSCRIBE", true),
		TeamName:             env.str("TEAM_NAME", "NARI"),
	}

	if err := errors.Join(env.errs...); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if cfg.Auth.TokenTTL <= 0 {
		return nil, fmt.Errorf("config: JWT_EXP_SECONDS must be positive")
	}
	if cfg.RateLimit.Requests <= 0 || cfg.RateLimit.Window <= 0 {
		return nil, fmt.Errorf("config: rate limit must be positive")
	}

	if cfg.IsProduction() {
		if cfg.Auth.SecretKey == "" {
			return nil, fmt.Errorf("config: SECRET_KEY is required in production")
		}
		if len(cfg.Auth.SecretKey) < 32 {
			return nil, fmt.Errorf("config: SECRET_KEY must be at least 32 characters in production")
		}
		if cfg.Database.URL == "" {
			return nil, fmt.Errorf("config: DATABASE_URL is required in production")
		}
	}

	if cfg.Auth.SecretKey == "" {
		cfg.Auth.SecretKey = devSecret
	}

	return cfg, nil
}

// IsProduction accepts the common spellings of production.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Env)
	return env == "production" || env == "prod"
}

// reader collects parse failures so every bad variable is reported at once.
type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) str(key, def string) string {
	if v, ok := r.lookup(key); ok {
		return v
	}
	return def
}

func (r *reader) integer(key string, def int) int {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func (r *reader) boolean(key string, def bool) bool {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return def
	}
	return b
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return def
	}
	return d
}

// cidrs reads a comma separated CIDR list.
func (r *reader) cidrs(key string) []string {
	v, ok := r.lookup(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, _, err := net.ParseCIDR(part); err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: invalid CIDR %q", key, part))
			continue
		}
		out = append(out, part)
	}
	return out
}
