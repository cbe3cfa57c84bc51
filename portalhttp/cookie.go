package portalhttp

import (
	"math"
	"net/http"
	"time"

	"github.com/ggoodman/recordsportal/sessions"
)

// setCookie issues the session cookie. Its lifetime is the session's minimum
// remaining validity, so the browser never holds it past the point the
// server would refuse it.
func (h *Handler) setCookie(w http.ResponseWriter, s *sessions.Session) {
	expires := h.expiresAt(s)
	maxAge := int(math.Ceil(expires.Sub(h.clock.Now()).Seconds()))
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    s.Token,
		Path:     "/",
		Expires:  expires.UTC(),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   !h.insecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// clearCookie tells the client to drop the session cookie.
func (h *Handler) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   !h.insecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// tokenFrom returns the session token carried by r, if any.
func (h *Handler) tokenFrom(r *http.Request) string {
	c, err := r.Cookie(h.cookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
