package portalhttp

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/ggoodman/recordsportal/auth"
	"github.com/ggoodman/recordsportal/internal/logctx"
	"github.com/ggoodman/recordsportal/sessions"
)

type principalKey struct{}

// PrincipalFromContext returns the principal attached by RequireSession.
func PrincipalFromContext(ctx context.Context) (string, bool) {
	p, ok := ctx.Value(principalKey{}).(string)
	return p, ok
}

// RequireSession lets a request through when it carries a valid session
// cookie, or when it carries valid Basic credentials and no cookie, in which
// case a new session is issued. A cookie that no longer maps to a live
// session is cleared and answered with a Basic challenge, so the client must
// authenticate afresh even if it would resend cached credentials.
func (h *Handler) RequireSession(next http.Handler) http.Handler {
	return WithRequestData(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		h.auth.MaybeSweep(ctx)

		if tok := h.tokenFrom(r); tok != "" {
			s, err := h.auth.Validate(ctx, tok)
			switch {
			case err == nil:
				h.setCookie(w, s)
				h.serveWithSession(w, r, next, s)
			case errors.Is(err, sessions.ErrExpired):
				h.challenge(w, r, true, "session expired")
			case errors.Is(err, sessions.ErrNotFound):
				h.challenge(w, r, true, "session not found")
			default:
				h.log.ErrorContext(ctx, "session.validate.fail", slog.String("err", err.Error()))
				writeJSONError(w, http.StatusInternalServerError, "internal error")
			}
			return
		}

		header := r.Header.Get(authorizationHeader)
		if header == "" {
			h.challenge(w, r, false, "authentication required")
			return
		}
		if !h.allowLogin(w, r) {
			return
		}
		s, err := h.auth.Authenticate(ctx, header)
		if errors.Is(err, auth.ErrUnauthorized) {
			h.challenge(w, r, false, "invalid credentials")
			return
		}
		if err != nil {
			h.log.ErrorContext(ctx, "session.create.fail", slog.String("err", err.Error()))
			writeJSONError(w, http.StatusInternalServerError, "internal error")
			return
		}
		h.setCookie(w, s)
		h.serveWithSession(w, r, next, s)
	}))
}

func (h *Handler) serveWithSession(w http.ResponseWriter, r *http.Request, next http.Handler, s *sessions.Session) {
	ctx := context.WithValue(r.Context(), principalKey{}, s.Principal)
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		Principal:        s.Principal,
		TokenFingerprint: sessions.Fingerprint(s.Token),
	})
	next.ServeHTTP(w, r.WithContext(ctx))
}

// challenge answers 401 with a Basic challenge, clearing the session cookie
// when the client presented one.
func (h *Handler) challenge(w http.ResponseWriter, r *http.Request, clear bool, msg string) {
	if clear {
		h.clearCookie(w)
	}
	h.log.InfoContext(r.Context(), "auth.challenge", slog.String("reason", msg))
	w.Header().Set(wwwAuthenticateHeader, auth.BasicChallenge(h.realm))
	writeJSONError(w, http.StatusUnauthorized, msg)
}

// allowLogin consumes one credential check from the caller's bucket,
// answering 429 when none is available.
func (h *Handler) allowLogin(w http.ResponseWriter, r *http.Request) bool {
	now := h.clock.Now()
	res := h.limiter.reserve(clientKey(r), now)
	if res == nil {
		return true
	}
	if !res.OK() {
		writeJSONError(w, http.StatusTooManyRequests, "too many login attempts")
		return false
	}
	delay := res.DelayFrom(now)
	if delay <= 0 {
		return true
	}
	res.CancelAt(now)
	secs := int(math.Ceil(delay.Seconds()))
	h.log.WarnContext(r.Context(), "auth.throttled", slog.Int("retry_after", secs))
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeJSONError(w, http.StatusTooManyRequests, "too many login attempts")
	return false
}
