// Package config loads the portal's settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ggoodman/recordsportal/monitor"
	"github.com/ggoodman/recordsportal/sessions"
	"github.com/ggoodman/recordsportal/sessions/redisstore"
	"github.com/joeshaw/envdecode"
)

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config holds every setting the server and CLI read from the environment.
type Config struct {
	// Addr is the listen address. ENV: PORTAL_ADDR
	Addr string `env:"PORTAL_ADDR,default=:8080"`

	InactivityTimeout time.Duration `env:"PORTAL_INACTIVITY_TIMEOUT,default=30m"`
	MaxDuration       time.Duration `env:"PORTAL_MAX_DURATION,default=8h"`
	WarningTime       time.Duration `env:"PORTAL_WARNING_TIME,default=2m"`
	PollInterval      time.Duration `env:"PORTAL_POLL_INTERVAL,default=30s"`

	// Credentials: either a username with a password or bcrypt hash, or a
	// credentials file, which takes precedence and is reloaded on change.
	Username        string `env:"PORTAL_USERNAME"`
	Password        string `env:"PORTAL_PASSWORD"`
	PasswordHash    string `env:"PORTAL_PASSWORD_HASH"`
	CredentialsFile string `env:"PORTAL_CREDENTIALS_FILE"`

	CookieName      string `env:"PORTAL_COOKIE_NAME,default=portal_session"`
	Realm           string `env:"PORTAL_REALM,default=records"`
	InsecureCookies bool   `env:"PORTAL_INSECURE_COOKIES,default=false"`

	// Store selects the session backend: memory, redis or postgres.
	Store         string        `env:"PORTAL_STORE,default=memory"`
	SweepInterval time.Duration `env:"PORTAL_SWEEP_INTERVAL,default=1m"`
	DatabaseURL   string        `env:"DATABASE_URL"`
	Redis         redisstore.Config

	LoginRate  float64 `env:"PORTAL_LOGIN_RATE,default=1"`
	LoginBurst int     `env:"PORTAL_LOGIN_BURST,default=5"`

	LogLevel  string `env:"PORTAL_LOG_LEVEL,default=info"`
	LogFormat string `env:"PORTAL_LOG_FORMAT,default=json"`
}

// Load decodes the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects inconsistent timings, an unknown store and missing
// credentials.
func (c Config) Validate() error {
	if err := c.Policy().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.MonitorConfig().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.SweepInterval < 0 {
		return errors.New("config: PORTAL_SWEEP_INTERVAL must not be negative")
	}
	switch c.Store {
	case StoreMemory, StoreRedis:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("config: unknown PORTAL_STORE %q", c.Store)
	}
	if c.CredentialsFile == "" {
		if c.Username == "" {
			return errors.New("config: PORTAL_USERNAME or PORTAL_CREDENTIALS_FILE is required")
		}
		if c.Password == "" && c.PasswordHash == "" {
			return errors.New("config: PORTAL_PASSWORD or PORTAL_PASSWORD_HASH is required")
		}
	}
	if c.LoginRate <= 0 || c.LoginBurst <= 0 {
		return errors.New("config: login rate and burst must be positive")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if f := strings.ToLower(c.LogFormat); f != "json" && f != "text" {
		return fmt.Errorf("config: unknown PORTAL_LOG_FORMAT %q", c.LogFormat)
	}
	return nil
}

// Policy returns the server-side validity policy.
func (c Config) Policy() sessions.Policy {
	return sessions.Policy{InactivityTimeout: c.InactivityTimeout, MaxDuration: c.MaxDuration}
}

// MonitorConfig returns the timings published to client monitors.
func (c Config) MonitorConfig() monitor.Config {
	m := monitor.DefaultConfig()
	m.InactivityTimeout = c.InactivityTimeout
	m.WarningTime = c.WarningTime
	m.PollInterval = c.PollInterval
	return m
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: PORTAL_LOG_LEVEL: %w", err)
	}
	return l, nil
}
