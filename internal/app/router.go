// internal/app/router.go
package app

import (
	authHandler "quantumbulls-session/internal/handlers/auth"
	sessionHandler "quantumbulls-session/internal/handlers/session"
	wsHandler "quantumbulls-session/internal/handlers/websocket"
	"quantumbulls-session/internal/middleware"
	"quantumbulls-session/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	AuthHandler    *authHandler.AuthHandler
	SessionHandler *sessionHandler.SessionHandler
	WSHandler      *wsHandler.WebSocketHandler
	AuthMiddleware *middleware.AuthMiddleware
	Metrics        *metrics.Metrics
	ReauthPath     string
}

func SetupRouter(r *gin.Engine, h *Handlers) {
	api := r.Group("/api/v1")

	// ==================== Health Check ====================
	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "version": "1.0.0"})
	})
	r.GET("/metrics", gin.WrapH(h.Metrics.Handler()))

	// ==================== WebSocket ====================
	r.GET("/ws", h.AuthMiddleware.Auth(), h.WSHandler.HandleConnection)

	// ==================== Public Auth Routes ====================
	authPublic := api.Group("/auth")
	{
		authPublic.POST("/login", h.AuthHandler.Login)
	}
	r.GET(h.ReauthPath, h.AuthHandler.Reauth)

	// ==================== Authenticated Auth Routes ====================
	authProtected := api.Group("/auth")
	authProtected.Use(h.AuthMiddleware.Auth())
	{
		authProtected.POST("/logout", h.AuthHandler.Logout)
		authProtected.GET("/me", h.AuthMiddleware.RequireActiveSession(), h.AuthHandler.Me)
	}

	// ==================== Session Authority ====================
	sessions := api.Group("/session")
	sessions.Use(h.AuthMiddleware.Auth())
	{
		sessions.GET("/authority", h.SessionHandler.Authority)
		sessions.GET("/push/stats", h.WSHandler.GetStats)
	}
}
