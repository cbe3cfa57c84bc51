package sessions

import (
	"errors"
	"time"
)

const (
	// DefaultInactivityTimeout is the longest allowed gap between touches.
	DefaultInactivityTimeout = 30 * time.Minute
	// DefaultMaxDuration is the absolute session lifetime.
	DefaultMaxDuration = 8 * time.Hour
)

// ExpiryReason says why a record failed the policy.
type ExpiryReason string

const (
	ReasonNone        ExpiryReason = ""
	ReasonInactivity  ExpiryReason = "inactivity"
	ReasonMaxDuration ExpiryReason = "max_duration"
)

// Policy holds the two timeouts that bound a session's life.
type Policy struct {
	InactivityTimeout time.Duration
	MaxDuration       time.Duration
}

// DefaultPolicy returns the portal defaults: 30 minutes idle, 8 hours total.
func DefaultPolicy() Policy {
	return Policy{
		InactivityTimeout: DefaultInactivityTimeout,
		MaxDuration:       DefaultMaxDuration,
	}
}

// Validate rejects non-positive timeouts and an inactivity window longer than
// the absolute lifetime.
func (p Policy) Validate() error {
	if p.InactivityTimeout <= 0 {
		return errors.New("sessions: inactivity timeout must be positive")
	}
	if p.MaxDuration <= 0 {
		return errors.New("sessions: max duration must be positive")
	}
	if p.InactivityTimeout > p.MaxDuration {
		return errors.New("sessions: inactivity timeout exceeds max duration")
	}
	return nil
}

// ExpiryReason returns ReasonNone if s is valid at now. The absolute ceiling
// is checked first and wins when both have lapsed.
func (p Policy) ExpiryReason(s Session, now time.Time) ExpiryReason {
	if now.Sub(s.CreatedAt) >= p.MaxDuration {
		return ReasonMaxDuration
	}
	if now.Sub(s.LastActivityAt) > p.InactivityTimeout {
		return ReasonInactivity
	}
	return ReasonNone
}

// Valid reports whether s is valid at now.
func (p Policy) Valid(s Session, now time.Time) bool {
	return p.ExpiryReason(s, now) == ReasonNone
}

// ExpiresAt returns the earliest instant at which s stops being valid if it
// is not touched again.
func (p Policy) ExpiresAt(s Session) time.Time {
	idle := s.LastActivityAt.Add(p.InactivityTimeout)
	ceiling := s.CreatedAt.Add(p.MaxDuration)
	if ceiling.Before(idle) {
		return ceiling
	}
	return idle
}

// Remaining returns how long s stays valid from now, or zero.
func (p Policy) Remaining(s Session, now time.Time) time.Duration {
	d := p.ExpiresAt(s).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
