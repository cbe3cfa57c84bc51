package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ggoodman/recordsportal/auth"
	"github.com/ggoodman/recordsportal/config"
	"github.com/ggoodman/recordsportal/internal/logctx"
	"github.com/ggoodman/recordsportal/sessions"
	"github.com/ggoodman/recordsportal/sessions/memorystore"
	"github.com/ggoodman/recordsportal/sessions/pgstore"
	"github.com/ggoodman/recordsportal/sessions/redisstore"
)

// NewLogger builds the process logger from the configured level and format,
// wrapped so request and session context reach every record.
func NewLogger(cfg config.Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level, err := cfg.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(cfg.LogFormat, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(logctx.New(h))
}

// OpenStore connects the configured session backend. The returned function
// releases it.
func OpenStore(ctx context.Context, cfg config.Config, log *slog.Logger) (sessions.Store, func() error, error) {
	switch cfg.Store {
	case config.StoreRedis:
		st, err := redisstore.New(cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("app: redis store: %w", err)
		}
		log.Info("store.ready", slog.String("kind", cfg.Store), slog.String("addr", cfg.Redis.RedisAddr))
		return st, st.Close, nil
	case config.StorePostgres:
		st, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("app: postgres store: %w", err)
		}
		log.Info("store.ready", slog.String("kind", cfg.Store))
		return st, st.Close, nil
	case config.StoreMemory, "":
		log.Info("store.ready", slog.String("kind", config.StoreMemory))
		return memorystore.New(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("app: unknown store %q", cfg.Store)
	}
}

// newVerifier picks the credential source. A credentials file wins over the
// environment and is watched for changes until ctx ends.
func newVerifier(ctx context.Context, cfg config.Config, log *slog.Logger) (auth.Verifier, error) {
	if cfg.CredentialsFile != "" {
		v, err := auth.NewFileVerifier(cfg.CredentialsFile, log)
		if err != nil {
			return nil, err
		}
		go func() {
			if err := v.Watch(ctx); err != nil && ctx.Err() == nil {
				log.Warn("auth.watch.stop", slog.String("err", err.Error()))
			}
		}()
		return v, nil
	}
	if cfg.PasswordHash != "" {
		return auth.BcryptVerifier{Username: cfg.Username, Hash: cfg.PasswordHash}, nil
	}
	return auth.StaticVerifier{Username: cfg.Username, Password: cfg.Password}, nil
}
