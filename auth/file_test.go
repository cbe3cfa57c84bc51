package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeCreds(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestFileVerifierLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials")
	writeCreds(t, path, "# portal login\n\nportal:secret\n")

	v, err := NewFileVerifier(path, nil)
	if err != nil {
		t.Fatalf("NewFileVerifier: %v", err)
	}
	if p, err := v.Verify(context.Background(), "portal", "secret"); err != nil || p != "portal" {
		t.Fatalf("Verify: %q %v", p, err)
	}
}

func TestFileVerifierRejectsBadFile(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"empty":     "",
		"comments":  "# nothing\n",
		"no secret": "portal:\n",
		"no colon":  "portal\n",
	} {
		path := filepath.Join(dir, "creds")
		writeCreds(t, path, body)
		if _, err := NewFileVerifier(path, nil); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := NewFileVerifier(filepath.Join(dir, "missing"), nil); err == nil {
		t.Fatal("missing file: expected error")
	}
}

func TestFileVerifierFailedReloadKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials")
	writeCreds(t, path, "portal:secret\n")
	v, err := NewFileVerifier(path, nil)
	if err != nil {
		t.Fatal(err)
	}

	writeCreds(t, path, "garbage\n")
	if err := v.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if _, err := v.Verify(context.Background(), "portal", "secret"); err != nil {
		t.Fatalf("previous credentials lost: %v", err)
	}
}

func TestFileVerifierWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials")
	writeCreds(t, path, "portal:old\n")
	v, err := NewFileVerifier(path, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- v.Watch(ctx) }()

	// The watcher registers asynchronously, so keep rewriting until the
	// change is observed.
	deadline := time.Now().Add(5 * time.Second)
	for {
		writeCreds(t, path, "portal:new\n")
		if _, err := v.Verify(context.Background(), "portal", "new"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("credentials were not reloaded")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if _, err := v.Verify(context.Background(), "portal", "old"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("old password still accepted: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Watch returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not stop")
	}
}
