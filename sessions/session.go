package sessions

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates the token is not in the store: never issued, or
	// already evicted.
	ErrNotFound = errors.New("session not found")
	// ErrExpired indicates the token was found but failed the validity policy.
	// The record has been removed by the time this is returned.
	ErrExpired = errors.New("session expired")
)

// tokenBytes is the amount of randomness in a token: 256 bits.
const tokenBytes = 32

// Session is the canonical session record.
type Session struct {
	Token          string    `json:"token"`
	Principal      string    `json:"principal"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// New creates a record for principal with a fresh token. CreatedAt and
// LastActivityAt are both set to now.
func New(principal string, now time.Time) (Session, error) {
	tok, err := GenerateToken()
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:          tok,
		Principal:      principal,
		CreatedAt:      now,
		LastActivityAt: now,
	}, nil
}

// Touch advances LastActivityAt to now. It never moves the timestamp
// backwards, so LastActivityAt >= CreatedAt survives wall clock steps.
func (s *Session) Touch(now time.Time) {
	if now.After(s.LastActivityAt) {
		s.LastActivityAt = now
	}
}

// GenerateToken returns an unguessable, URL-safe session token.
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session: failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Fingerprint returns a short, non-reversible identifier for a token that is
// safe to write to logs.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:4])
}
