package portalhttp

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GinRequireSession adapts RequireSession to gin. The gin chain continues only
// if the middleware let the request through; otherwise the response it wrote
// stands and the chain is aborted.
func GinRequireSession(h *Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		passed := false
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			passed = true
			c.Request = r
			c.Next()
		})
		h.RequireSession(next).ServeHTTP(c.Writer, c.Request)
		if !passed {
			c.Abort()
		}
	}
}
