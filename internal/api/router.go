// Package api builds the HTTP surface: the health and status probes, the
// settled-bet query endpoints, and the live WebSocket feed.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Mmmuuieddd/gamblefi-backend/internal/api/handler"
	"github.com/Mmmuuieddd/gamblefi-backend/internal/api/middleware"
	"github.com/Mmmuuieddd/gamblefi-backend/internal/config"
	"github.com/Mmmuuieddd/gamblefi-backend/internal/ws"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	Settler handler.SettlerStatus
	Store   handler.HistoryStore
	Hub     *ws.Hub
	Cfg     *config.Config
}

// SetupRouter creates and configures the Gin engine with all routes,
// middleware, CORS, and rate limiting rules.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware())

	// ── Handlers ─────────────────────────────────────────────────────────────
	statusH := handler.NewStatusHandler(deps.Settler)
	historyH := handler.NewHistoryHandler(deps.Store)

	// ── Probes ───────────────────────────────────────────────────────────────
	r.GET("/health", statusH.Health)
	r.GET("/status", statusH.Status)

	// ── Query API (public, rate limited) ─────────────────────────────────────
	queryRL := middleware.RateLimitMiddleware(30) // 30 req/s per IP

	api := r.Group("/api")
	api.Use(queryRL)
	{
		bets := api.Group("/bets")
		{
			bets.GET("/player/:address", historyH.ByPlayer)
			bets.GET("/room/:id", historyH.ByRoom)
		}
	}

	// ── WebSocket ─────────────────────────────────────────────────────────────
	if deps.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			deps.Hub.ServeWs(c.Writer, c.Request)
		})
	}

	return r
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware returns a gin middleware that sets appropriate CORS headers.
// The surface is read-only and public, so every origin is allowed; the
// preflight answer is cached for a day.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
