// Package auth verifies the portal's shared HTTP Basic credentials.
//
// The surface is small: ParseBasic extracts a username and password from an
// Authorization header, and a Verifier decides whether they are acceptable,
// returning the authenticated principal. Callers map ErrUnauthorized to a 401
// carrying the value built by BasicChallenge.
//
// # Verifiers
//
// StaticVerifier compares against a plaintext pair held in memory.
// BcryptVerifier compares the password against a bcrypt hash. FileVerifier
// reads "username:secret" from a file, where the secret is either plaintext
// or a bcrypt hash, and reloads it when the file changes:
//
//	v, err := auth.NewFileVerifier("/etc/portal/credentials", logger)
//	if err != nil { log.Fatal(err) }
//	go v.Watch(ctx)
//
// # Errors
//
// Every rejection is reported as ErrUnauthorized. Verifiers never say whether
// the username or the password was wrong. ErrMalformedHeader wraps
// ErrUnauthorized so callers that only check the latter still reject.
package auth
