package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileVerifier reads its credentials from a file holding a single
// "username:secret" line. Blank lines and lines starting with # are ignored.
// The secret may be plaintext or a bcrypt hash.
type FileVerifier struct {
	path string
	log  *slog.Logger

	mu      sync.RWMutex
	current Verifier
}

// NewFileVerifier loads path and fails if it cannot be parsed.
func NewFileVerifier(path string, log *slog.Logger) (*FileVerifier, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	v := &FileVerifier{path: path, log: log}
	if err := v.Reload(); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *FileVerifier) Verify(ctx context.Context, username, password string) (string, error) {
	v.mu.RLock()
	cur := v.current
	v.mu.RUnlock()
	return cur.Verify(ctx, username, password)
}

// Reload re-reads the file. On error the previously loaded credentials stay
// in force.
func (v *FileVerifier) Reload() error {
	b, err := os.ReadFile(v.path)
	if err != nil {
		return fmt.Errorf("auth: read credentials: %w", err)
	}
	next, err := parseCredentials(string(b))
	if err != nil {
		return fmt.Errorf("auth: %s: %w", v.path, err)
	}
	v.mu.Lock()
	v.current = next
	v.mu.Unlock()
	return nil
}

func parseCredentials(text string) (Verifier, error) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		user, secret, ok := strings.Cut(line, ":")
		if !ok || user == "" || secret == "" {
			return nil, errors.New("expected username:secret")
		}
		return NewVerifier(user, secret), nil
	}
	return nil, errors.New("no credentials found")
}

// Watch reloads the credentials whenever the file changes until ctx ends.
// The parent directory is watched so editors that replace the file by rename
// are picked up too.
func (v *FileVerifier) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("auth: watcher: %w", err)
	}
	defer func() {
		_ = w.Close()
	}()

	abs, err := filepath.Abs(v.path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("auth: watch %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Chmod) == 0 {
				continue
			}
			if err := v.Reload(); err != nil {
				v.log.WarnContext(ctx, "auth.reload_failed", slog.String("path", v.path), slog.String("err", err.Error()))
				continue
			}
			v.log.InfoContext(ctx, "auth.reloaded", slog.String("path", v.path))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			v.log.WarnContext(ctx, "auth.watch_error", slog.String("err", err.Error()))
		}
	}
}
