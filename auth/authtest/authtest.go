// Package authtest provides a Verifier for tests that need to count or
// script credential checks.
package authtest

import (
	"context"
	"sync/atomic"

	"github.com/ggoodman/recordsportal/auth"
)

// Verifier accepts a single username and password and counts calls.
type Verifier struct {
	Username string
	Password string

	calls atomic.Int64
}

// New returns a Verifier for username and password. An empty username
// defaults to "portal".
func New(username, password string) *Verifier {
	if username == "" {
		username = "portal"
	}
	return &Verifier{Username: username, Password: password}
}

func (v *Verifier) Verify(_ context.Context, username, password string) (string, error) {
	v.calls.Add(1)
	if username != v.Username || password != v.Password {
		return "", auth.ErrUnauthorized
	}
	return v.Username, nil
}

// Calls reports how many times Verify has run.
func (v *Verifier) Calls() int {
	return int(v.calls.Load())
}

// Header returns a valid Authorization header for this verifier.
func (v *Verifier) Header() string {
	return auth.EncodeBasic(v.Username, v.Password)
}
