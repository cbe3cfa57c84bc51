package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ggoodman/recordsportal/portalhttp"
	"github.com/gin-gonic/gin"
)

func newRouter(h *portalhttp.Handler, log *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), accessLog(log))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Session endpoints authenticate themselves and never challenge.
	session := gin.WrapH(h)
	router.GET(portalhttp.StatusPath, session)
	router.POST(portalhttp.ExtendPath, session)
	router.POST(portalhttp.LogoutPath, session)
	router.GET(portalhttp.MonitorConfigPath, session)

	api := router.Group("/api")
	api.Use(portalhttp.GinRequireSession(h))
	api.GET("/me", func(c *gin.Context) {
		principal, _ := portalhttp.PrincipalFromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"principal": principal})
	})

	return router
}

func accessLog(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.InfoContext(c.Request.Context(), "http.request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("took", time.Since(start)),
		)
	}
}
