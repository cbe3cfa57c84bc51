package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// StaticVerifier accepts exactly one username and password held in memory.
type StaticVerifier struct {
	Username string
	Password string
}

// Verify compares both fields in constant time and always evaluates both, so
// response timing does not reveal which one was wrong.
func (v StaticVerifier) Verify(_ context.Context, username, password string) (string, error) {
	if v.Username == "" {
		return "", ErrUnauthorized
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(v.Username))
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(v.Password))
	if userOK&passOK != 1 {
		return "", ErrUnauthorized
	}
	return v.Username, nil
}

// BcryptVerifier accepts one username whose password is stored as a bcrypt hash.
type BcryptVerifier struct {
	Username string
	Hash     string
}

func (v BcryptVerifier) Verify(_ context.Context, username, password string) (string, error) {
	if v.Username == "" || v.Hash == "" {
		return "", ErrUnauthorized
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(v.Username)) == 1
	// Hash is compared even on a username mismatch to keep timing flat.
	err := bcrypt.CompareHashAndPassword([]byte(v.Hash), []byte(password))
	if !userOK || err != nil {
		return "", ErrUnauthorized
	}
	return v.Username, nil
}

// HashPassword hashes a plaintext password with bcrypt at the default cost.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("auth: empty password")
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// IsBcryptHash reports whether secret looks like a bcrypt hash.
func IsBcryptHash(secret string) bool {
	return strings.HasPrefix(secret, "$2")
}

// NewVerifier returns a BcryptVerifier when secret is a bcrypt hash and a
// StaticVerifier otherwise.
func NewVerifier(username, secret string) Verifier {
	if IsBcryptHash(secret) {
		return BcryptVerifier{Username: username, Hash: secret}
	}
	return StaticVerifier{Username: username, Password: secret}
}
