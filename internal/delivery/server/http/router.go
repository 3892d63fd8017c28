// Package http exposes streaming sessions over SSE and WebSocket.
package http

import (
	"net/http"
	"time"

	"taskstream/internal/app/session"
	"taskstream/internal/infra/auth"
	"taskstream/internal/infra/observability"
	"taskstream/internal/shared/logging"

	"github.com/gin-gonic/gin"
)

const defaultMaxBodyBytes = 1 << 20

// RouterDeps are the services the routes call into.
type RouterDeps struct {
	Runner    *session.Runner
	Canceller *session.Canceller
	Auth      *auth.Authenticator
	Obs       *observability.Observability
	// Degraded reports optional components running on a fallback.
	Degraded  func() map[string]string
}

// RouterConfig tunes the HTTP surface.
type RouterConfig struct {
	Environment    string
	AllowedOrigins []string
	RateLimit      RateLimitConfig
	MaxBodyBytes   int64
	// DisableWebSocket removes the /api/chat/ws route.
	DisableWebSocket bool
}

// NewRouter builds the gin engine with all endpoints and middleware.
func NewRouter(deps RouterDeps, cfg RouterConfig) *gin.Engine {
	logger := logging.NewComponentLogger("Router")
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	engine := gin.New()
	engine.Use(RecoveryMiddleware(logger))
	engine.Use(LoggingMiddleware(logger))
	engine.Use(TracingMiddleware(deps.Obs))
	engine.Use(CORSMiddleware(cfg.Environment, cfg.AllowedOrigins))

	var tracer *observability.TracerProvider
	if deps.Obs != nil {
		tracer = deps.Obs.Tracer
	}
	chat := NewChatHandler(deps.Runner, deps.Canceller, cfg.MaxBodyBytes, tracer)
	started := time.Now()

	engine.GET("/health", func(c *gin.Context) {
		body := gin.H{
			"status":       "ok",
			"active_tasks": len(deps.Canceller.Active()),
			"uptime":       time.Since(started).Round(time.Second).String(),
		}
		if deps.Degraded != nil {
			if degraded := deps.Degraded(); len(degraded) > 0 {
				body["status"] = "degraded"
				body["degraded"] = degraded
			}
		}
		c.JSON(http.StatusOK, body)
	})
	if deps.Obs != nil && deps.Obs.Metrics.Enabled() {
		engine.GET("/metrics", gin.WrapH(deps.Obs.Metrics.Handler()))
	}

	api := engine.Group("/api/chat")
	api.Use(IdentityMiddleware(deps.Auth))
	// Stop is never rate limited: it must reach a busy caller's token.
	api.POST("/stop", chat.HandleStop)

	limited := api.Group("")
	limited.Use(RateLimitMiddleware(cfg.RateLimit))
	{
		limited.POST("/stream", chat.HandleStream)
		limited.GET("/tasks", chat.HandleTasks)
		if !cfg.DisableWebSocket {
			limited.GET("/ws", chat.HandleWebSocket)
		}
	}

	engine.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, "route not found")
	})
	return engine
}
