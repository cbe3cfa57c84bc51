package sessions

import (
	"encoding/base64"
	"testing"
	"time"
)

func TestNewSession(t *testing.T) {
	s, err := New("portal", t0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Principal != "portal" {
		t.Fatalf("principal = %q", s.Principal)
	}
	if !s.CreatedAt.Equal(t0) || !s.LastActivityAt.Equal(t0) {
		t.Fatalf("timestamps not initialised to now: %+v", s)
	}
	raw, err := base64.RawURLEncoding.DecodeString(s.Token)
	if err != nil {
		t.Fatalf("token not base64url: %v", err)
	}
	if len(raw)*8 < 128 {
		t.Fatalf("token carries only %d bits", len(raw)*8)
	}
}

func TestGenerateTokenUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		tok, err := GenerateToken()
		if err != nil {
			t.Fatalf("GenerateToken: %v", err)
		}
		if _, dup := seen[tok]; dup {
			t.Fatalf("duplicate token after %d draws", i)
		}
		seen[tok] = struct{}{}
	}
}

func TestTouchNeverMovesBackwards(t *testing.T) {
	s := Session{CreatedAt: t0, LastActivityAt: t0}
	s.Touch(t0.Add(time.Minute))
	if !s.LastActivityAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("touch did not advance: %v", s.LastActivityAt)
	}
	s.Touch(t0.Add(-time.Hour))
	if s.LastActivityAt.Before(s.CreatedAt) || !s.LastActivityAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("touch moved backwards: %v", s.LastActivityAt)
	}
}

func TestFingerprint(t *testing.T) {
	if Fingerprint("") != "" {
		t.Fatal("empty token should have empty fingerprint")
	}
	a, b := Fingerprint("abc"), Fingerprint("abd")
	if len(a) != 8 || a == b {
		t.Fatalf("unexpected fingerprints %q %q", a, b)
	}
}
