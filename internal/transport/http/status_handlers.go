package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/serverbot/internal/core"
)

const snapshotTimeout = 2 * time.Second

// StatusHandlers serves the agent state.
type StatusHandlers struct {
	src StatusSource
	log *zerolog.Logger
}

// NewStatusHandlers creates the status handlers.
func NewStatusHandlers(src StatusSource, logger *zerolog.Logger) *StatusHandlers {
	return &StatusHandlers{src: src, log: logger}
}

// Status returns the bot and server state.
// GET /api/status
func (h *StatusHandlers) Status(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), snapshotTimeout)
	defer cancel()

	snap, err := h.src.Snapshot(ctx)
	if err != nil {
		if errors.Is(err, core.ErrStopped) {
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "bot is shutting down"})
			return
		}
		h.log.Warn().Err(err).Msg("failed to get snapshot")
		c.JSON(http.StatusGatewayTimeout, ErrorResponse{Error: "bot is busy"})
		return
	}

	c.JSON(http.StatusOK, statusFromSnapshot(snap))
}
