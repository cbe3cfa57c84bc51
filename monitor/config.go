package monitor

import (
	"errors"
	"time"
)

// Config holds the monitor's timings. InactivityTimeout must match the
// server's inactivity timeout.
type Config struct {
	InactivityTimeout time.Duration
	WarningTime       time.Duration
	PollInterval      time.Duration
	CountdownInterval time.Duration
	RequestTimeout    time.Duration
}

// DefaultConfig returns the portal defaults.
func DefaultConfig() Config {
	return Config{
		InactivityTimeout: 30 * time.Minute,
		WarningTime:       2 * time.Minute,
		PollInterval:      30 * time.Second,
		CountdownInterval: time.Second,
		RequestTimeout:    10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CountdownInterval == 0 {
		c.CountdownInterval = d.CountdownInterval
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	return c
}

// Validate rejects timings the state machine cannot honour.
func (c Config) Validate() error {
	switch {
	case c.InactivityTimeout <= 0:
		return errors.New("monitor: inactivity timeout must be positive")
	case c.WarningTime <= 0:
		return errors.New("monitor: warning time must be positive")
	case c.WarningTime >= c.InactivityTimeout:
		return errors.New("monitor: warning time must be shorter than the inactivity timeout")
	case c.PollInterval <= 0:
		return errors.New("monitor: poll interval must be positive")
	case c.CountdownInterval < 0 || c.RequestTimeout < 0:
		return errors.New("monitor: negative interval")
	}
	return nil
}

// WireConfig is the JSON form served to clients. Durations are milliseconds.
type WireConfig struct {
	InactivityTimeoutMS int64 `json:"inactivityTimeoutMs"`
	WarningTimeMS       int64 `json:"warningTimeMs"`
	PollIntervalMS      int64 `json:"pollIntervalMs"`
	CountdownIntervalMS int64 `json:"countdownIntervalMs,omitempty"`
}

func (c Config) Wire() WireConfig {
	return WireConfig{
		InactivityTimeoutMS: c.InactivityTimeout.Milliseconds(),
		WarningTimeMS:       c.WarningTime.Milliseconds(),
		PollIntervalMS:      c.PollInterval.Milliseconds(),
		CountdownIntervalMS: c.CountdownInterval.Milliseconds(),
	}
}

// Config converts back to durations. RequestTimeout is left unset.
func (w WireConfig) Config() Config {
	return Config{
		InactivityTimeout: time.Duration(w.InactivityTimeoutMS) * time.Millisecond,
		WarningTime:       time.Duration(w.WarningTimeMS) * time.Millisecond,
		PollInterval:      time.Duration(w.PollIntervalMS) * time.Millisecond,
		CountdownInterval: time.Duration(w.CountdownIntervalMS) * time.Millisecond,
	}
}
