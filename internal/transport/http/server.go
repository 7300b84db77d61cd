package http

import (
	"context"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/serverbot/internal/config"
	"github.com/vovakirdan/serverbot/internal/core"
)

// StatusSource provides agent snapshots.
type StatusSource interface {
	Snapshot(ctx context.Context) (core.Snapshot, error)
}

// NewServer builds the read-only status API.
func NewServer(src StatusSource, cfg config.HTTPConfig, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))
	router.Use(RateLimitMiddleware(newRateLimiter(cfg.RequestsPerMinute)))

	router.GET("/health", healthHandler)

	handlers := NewStatusHandlers(src, logger)
	api := router.Group("/api")
	{
		api.GET("/status", handlers.Status)
	}

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
