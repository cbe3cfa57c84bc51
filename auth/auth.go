package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrUnauthorized indicates authentication failed or no valid credentials were supplied.
var ErrUnauthorized = errors.New("unauthorized")

// ErrMalformedHeader indicates the Authorization header is not a well-formed
// Basic credential. It matches ErrUnauthorized under errors.Is.
var ErrMalformedHeader = fmt.Errorf("malformed basic credentials: %w", ErrUnauthorized)

// Verifier checks a username and password and returns the principal they
// authenticate. It should return ErrUnauthorized for invalid credentials.
// Implementations must be safe for concurrent use.
type Verifier interface {
	Verify(ctx context.Context, username, password string) (principal string, err error)
}

// ParseBasic extracts the credentials from an Authorization header value.
// The scheme is matched case-insensitively.
func ParseBasic(header string) (username, password string, err error) {
	const prefix = "basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", ErrMalformedHeader
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		return "", "", ErrMalformedHeader
	}
	username, password, ok := strings.Cut(string(raw), ":")
	if !ok || username == "" {
		return "", "", ErrMalformedHeader
	}
	return username, password, nil
}

// BasicChallenge returns the WWW-Authenticate value that asks a client for
// Basic credentials in realm.
func BasicChallenge(realm string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(realm)
	return fmt.Sprintf(`Basic realm="%s", charset="UTF-8"`, r)
}

// EncodeBasic builds an Authorization header value for username and password.
func EncodeBasic(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}
