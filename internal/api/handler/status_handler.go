package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Mmmuuieddd/gamblefi-backend/internal/service"
)

// SettlerStatus is the slice of the settler facade the health and status
// endpoints read from.
type SettlerStatus interface {
	Healthy(ctx context.Context) bool
	StoreLive(ctx context.Context) bool
	StreamSnapshot() service.StreamSnapshot
	Status(ctx context.Context) service.StatusSnapshot
}

// StatusHandler serves the operational surface.
type StatusHandler struct {
	settler SettlerStatus
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(settler SettlerStatus) *StatusHandler {
	return &StatusHandler{settler: settler}
}

// Health godoc
// GET /health
//
// Readiness probe: 200 while the store answers and the stream has delivered
// a block recently, 503 otherwise.  The body carries both verdicts so a
// failing probe tells the operator which half is sick.
func (h *StatusHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()

	healthy := h.settler.Healthy(ctx)
	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status": status,
		"database": gin.H{
			"connected": h.settler.StoreLive(ctx),
		},
		"websocket": h.settler.StreamSnapshot(),
	})
}

// Status godoc
// GET /status
//
// Full operational snapshot: lifecycle, pending-bet count, store liveness,
// stream state, and the ingest/dispatch counters.
func (h *StatusHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.settler.Status(c.Request.Context()))
}
