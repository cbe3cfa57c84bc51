// Package app wires configuration, storage and HTTP into a runnable server.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ggoodman/recordsportal/authority"
	"github.com/ggoodman/recordsportal/config"
	"github.com/ggoodman/recordsportal/portalhttp"
	"golang.org/x/time/rate"
)

type App struct {
	httpServer *http.Server
	authority  *authority.Authority
	log        *slog.Logger
	cleanup    func() error
}

// New builds the server. Background work such as credential file watching
// is bound to ctx.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	store, cleanup, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	verifier, err := newVerifier(ctx, cfg, log)
	if err != nil {
		_ = cleanup()
		return nil, err
	}

	a, err := authority.New(store, verifier,
		authority.WithPolicy(cfg.Policy()),
		authority.WithLogger(log),
		authority.WithSweepInterval(cfg.SweepInterval),
	)
	if err != nil {
		_ = cleanup()
		return nil, err
	}

	h := portalhttp.New(a,
		portalhttp.WithLogger(log),
		portalhttp.WithCookieName(cfg.CookieName),
		portalhttp.WithRealm(cfg.Realm),
		portalhttp.WithInsecureCookies(cfg.InsecureCookies),
		portalhttp.WithLoginRateLimit(rate.Limit(cfg.LoginRate), cfg.LoginBurst),
		portalhttp.WithMonitorConfig(cfg.MonitorConfig()),
	)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(h, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		httpServer: server,
		authority:  a,
		log:        log,
		cleanup:    cleanup,
	}, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run serves until Shutdown is called.
func (a *App) Run() error {
	a.log.Info("http.listen", slog.String("addr", a.httpServer.Addr))
	if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and releases the session store.
func (a *App) Shutdown(ctx context.Context) error {
	if err := a.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	if a.cleanup != nil {
		return a.cleanup()
	}
	return nil
}
