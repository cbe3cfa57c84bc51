// Package portalhttp exposes the session authority over HTTP: a middleware
// that guards protected routes, the session status/extend/logout endpoints,
// and the cookie policy that carries the token.
package portalhttp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/recordsportal/clock"
	"github.com/ggoodman/recordsportal/internal/logctx"
	"github.com/ggoodman/recordsportal/monitor"
	"github.com/ggoodman/recordsportal/sessions"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var _ http.Handler = (*Handler)(nil)

var (
	jsonMediaType  = contenttype.NewMediaType("application/json")
	jsonMediaTypes = []contenttype.MediaType{jsonMediaType}
)

const (
	StatusPath        = "/session/status"
	ExtendPath        = "/session/extend"
	LogoutPath        = "/session/logout"
	MonitorConfigPath = "/api/monitor-config"

	DefaultCookieName = "portal_session"
	DefaultRealm      = "records"

	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "WWW-Authenticate"
	requestIDHeader       = "X-Request-Id"
)

// Authority is the subset of *authority.Authority the HTTP layer needs.
type Authority interface {
	Authenticate(ctx context.Context, header string) (*sessions.Session, error)
	Validate(ctx context.Context, token string) (*sessions.Session, error)
	Status(ctx context.Context, token string) (*sessions.Session, error)
	Extend(ctx context.Context, token string) (*sessions.Session, error)
	Logout(ctx context.Context, token string) error
	MaybeSweep(ctx context.Context)
	Policy() sessions.Policy
}

// writeJSONError emits the body used for every HTTP-level rejection.
// Shape: {"error":{"code":<httpStatus>,"message":"<reason>"}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Option configures the Handler.
type Option func(*Handler)

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// WithCookieName overrides the session cookie name.
func WithCookieName(name string) Option {
	return func(h *Handler) {
		if name = strings.TrimSpace(name); name != "" {
			h.cookieName = name
		}
	}
}

// WithRealm sets the realm advertised in Basic challenges.
func WithRealm(realm string) Option {
	return func(h *Handler) { h.realm = strings.TrimSpace(realm) }
}

// WithInsecureCookies drops the Secure attribute so the cookie works over
// plain HTTP during local development.
func WithInsecureCookies(insecure bool) Option {
	return func(h *Handler) { h.insecure = insecure }
}

// WithLoginRateLimit bounds how often Basic credentials are checked for each
// client host. A limit of rate.Inf disables throttling.
func WithLoginRateLimit(limit rate.Limit, burst int) Option {
	return func(h *Handler) { h.limiter = newLoginLimiter(limit, burst) }
}

// WithClock sets the time source used for cookie expiry and timestamps.
func WithClock(c clock.Clock) Option {
	return func(h *Handler) { h.clock = c }
}

// WithMonitorConfig publishes the client monitor's timings at
// MonitorConfigPath behind RequireSession.
func WithMonitorConfig(cfg monitor.Config) Option {
	return func(h *Handler) { h.monitorConfig = &cfg }
}

// Handler serves the session endpoints and provides RequireSession for
// protected routes.
type Handler struct {
	mux        *http.ServeMux
	auth       Authority
	log        *slog.Logger
	clock      clock.Clock
	limiter    *loginLimiter
	cookieName string
	realm      string
	insecure   bool

	monitorConfig *monitor.Config
}

// New builds a Handler on top of a.
func New(a Authority, opts ...Option) *Handler {
	h := &Handler{
		auth:       a,
		clock:      clock.Real(),
		limiter:    newLoginLimiter(rate.Limit(1), 5),
		cookieName: DefaultCookieName,
		realm:      DefaultRealm,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.log == nil {
		h.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	h.log = slog.New(logctx.New(h.log.Handler()))

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+StatusPath, h.handleStatus)
	mux.HandleFunc("POST "+ExtendPath, h.handleExtend)
	mux.HandleFunc("POST "+LogoutPath, h.handleLogout)
	if h.monitorConfig != nil {
		mux.Handle("GET "+MonitorConfigPath, h.RequireSession(http.HandlerFunc(h.handleMonitorConfig)))
	}
	h.mux = mux
	return h
}

// ServeHTTP serves the session endpoints.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	WithRequestData(h.mux).ServeHTTP(w, r)
}

// WithRequestData assigns a request ID, echoing a well-formed X-Request-Id
// from the client or generating one, and attaches request attributes to the
// log context. Requests that already carry request data pass through.
func WithRequestData(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := logctx.RequestDataFrom(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
			RequestID:  id,
			Method:     r.Method,
			Path:       r.URL.Path,
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		})))
	})
}

// acceptsJSON rejects the request with 406 when the client refuses JSON.
func (h *Handler) acceptsJSON(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("Accept") == "" {
		return true
	}
	if _, _, err := contenttype.GetAcceptableMediaType(r, jsonMediaTypes); err != nil {
		h.log.WarnContext(r.Context(), "accept.unsupported", slog.String("accept", r.Header.Get("Accept")))
		writeJSONError(w, http.StatusNotAcceptable, "application/json required")
		return false
	}
	return true
}

func (h *Handler) expiresAt(s *sessions.Session) time.Time {
	return h.auth.Policy().ExpiresAt(*s)
}
