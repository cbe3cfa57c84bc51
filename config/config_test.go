package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORTAL_USERNAME", "portal")
	t.Setenv("PORTAL_PASSWORD", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.Store != StoreMemory || cfg.CookieName != "portal_session" || cfg.Realm != "records" {
		t.Fatalf("defaults = %+v", cfg)
	}
	p := cfg.Policy()
	if p.InactivityTimeout != 30*time.Minute || p.MaxDuration != 8*time.Hour {
		t.Fatalf("policy = %+v", p)
	}
	m := cfg.MonitorConfig()
	if m.WarningTime != 2*time.Minute || m.PollInterval != 30*time.Second || m.InactivityTimeout != 30*time.Minute {
		t.Fatalf("monitor config = %+v", m)
	}
	if cfg.Redis.KeyPrefix != "portal:" {
		t.Fatalf("redis prefix = %q", cfg.Redis.KeyPrefix)
	}
	if l, _ := cfg.Level(); l != slog.LevelInfo {
		t.Fatalf("level = %v", l)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORTAL_CREDENTIALS_FILE", "/etc/portal/credentials")
	t.Setenv("PORTAL_INACTIVITY_TIMEOUT", "10m")
	t.Setenv("PORTAL_WARNING_TIME", "1m")
	t.Setenv("PORTAL_STORE", "redis")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("PORTAL_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.InactivityTimeout != 10*time.Minute || cfg.WarningTime != time.Minute {
		t.Fatalf("timings = %+v", cfg)
	}
	if cfg.Redis.RedisAddr != "redis:6379" {
		t.Fatalf("redis addr = %q", cfg.Redis.RedisAddr)
	}
	if l, _ := cfg.Level(); l != slog.LevelDebug {
		t.Fatalf("level = %v", l)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			InactivityTimeout: 30 * time.Minute,
			MaxDuration:       8 * time.Hour,
			WarningTime:       2 * time.Minute,
			PollInterval:      30 * time.Second,
			Username:          "portal",
			Password:          "secret",
			Store:             StoreMemory,
			LoginRate:         1,
			LoginBurst:        5,
			LogLevel:          "info",
			LogFormat:         "json",
		}
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("base config rejected: %v", err)
	}

	cases := map[string]func(*Config){
		"warning >= inactivity":  func(c *Config) { c.WarningTime = c.InactivityTimeout },
		"inactivity > max":       func(c *Config) { c.MaxDuration = time.Minute },
		"zero poll":              func(c *Config) { c.PollInterval = 0 },
		"negative sweep":         func(c *Config) { c.SweepInterval = -time.Second },
		"unknown store":          func(c *Config) { c.Store = "etcd" },
		"postgres without url":   func(c *Config) { c.Store = StorePostgres },
		"no username":            func(c *Config) { c.Username = "" },
		"no secret":              func(c *Config) { c.Password = "" },
		"zero burst":             func(c *Config) { c.LoginBurst = 0 },
		"bad level":              func(c *Config) { c.LogLevel = "loud" },
		"bad format":             func(c *Config) { c.LogFormat = "xml" },
		"negative max duration":  func(c *Config) { c.MaxDuration = -time.Hour },
		"zero inactivity window": func(c *Config) { c.InactivityTimeout = 0 },
	}
	for name, mutate := range cases {
		c := base()
		mutate(&c)
		err := c.Validate()
		if err == nil {
			t.Fatalf("%s: accepted", name)
		}
		if !strings.HasPrefix(err.Error(), "config: ") {
			t.Fatalf("%s: error %q lacks prefix", name, err)
		}
	}

	c := base()
	c.Password = ""
	c.PasswordHash = "$2a$10$abcdefghijklmnopqrstuv"
	if err := c.Validate(); err != nil {
		t.Fatalf("hash-only credentials rejected: %v", err)
	}
}
