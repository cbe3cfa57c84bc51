package portalhttp

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ggoodman/recordsportal/sessions"
)

type sessionResponse struct {
	Valid     bool      `json:"valid"`
	Timestamp time.Time `json:"timestamp"`
	ExpiresAt time.Time `json:"expiresAt"`
	Principal string    `json:"principal,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// handleStatus reports whether the caller's session is live without counting
// the call as activity. Failures carry no Basic challenge so background
// polling never triggers a browser credential prompt.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.acceptsJSON(w, r) {
		return
	}
	h.auth.MaybeSweep(ctx)

	s, err := h.auth.Status(ctx, h.tokenFrom(r))
	if err != nil {
		h.sessionFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		Valid:     true,
		Timestamp: h.clock.Now().UTC(),
		ExpiresAt: h.expiresAt(s).UTC(),
		Principal: s.Principal,
	})
}

func (h *Handler) handleExtend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.acceptsJSON(w, r) {
		return
	}
	h.auth.MaybeSweep(ctx)

	s, err := h.auth.Extend(ctx, h.tokenFrom(r))
	if err != nil {
		h.sessionFailure(w, r, err)
		return
	}
	h.setCookie(w, s)
	writeJSON(w, http.StatusOK, sessionResponse{
		Valid:     true,
		Timestamp: h.clock.Now().UTC(),
		ExpiresAt: h.expiresAt(s).UTC(),
		Message:   "session extended",
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	err := h.auth.Logout(ctx, h.tokenFrom(r))
	h.clearCookie(w)
	if err != nil {
		h.log.ErrorContext(ctx, "session.logout.fail", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMonitorConfig(w http.ResponseWriter, r *http.Request) {
	if !h.acceptsJSON(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, h.monitorConfig.Wire())
}

func (h *Handler) sessionFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, sessions.ErrExpired):
		h.clearCookie(w)
		writeJSONError(w, http.StatusUnauthorized, "session expired")
	case errors.Is(err, sessions.ErrNotFound):
		h.clearCookie(w)
		writeJSONError(w, http.StatusUnauthorized, "session not found")
	default:
		h.log.ErrorContext(r.Context(), "session.check.fail", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}
