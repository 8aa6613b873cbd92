// internal/handlers/websocket/websocket.go
package handlers

import (
	"net/http"
	"time"

	"quantumbulls-session/internal/middleware"
	"quantumbulls-session/internal/pkg/response"
	ws "quantumbulls-session/internal/websocket"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type WebSocketHandler struct {
	hub      *ws.Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewWebSocketHandler accepts upgrades from the listed origins; "*" or an
// empty list accepts any origin.
func NewWebSocketHandler(hub *ws.Hub, origins []string, logger *zap.Logger) *WebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}

	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowed) == 0 || allowed["*"] || allowed[origin]
			},
		},
		logger: logger,
	}
}

// HandleConnection upgrades an authenticated request and hands the
// connection to the hub. Routed behind Auth().
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	accountID := middleware.MustGetAccountID(c)
	jti, _ := middleware.GetJTI(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed",
			zap.Error(err),
			zap.String("ip", c.ClientIP()),
		)
		return
	}

	client := ws.NewClient(h.hub, conn, &ws.ClientAuth{
		AccountID: accountID,
		JTI:       jti,
		DeviceID:  middleware.GetDeviceID(c),
	})

	h.hub.Register <- client

	go client.WritePump()
	go client.ReadPump()
}

// GetStats returns websocket connection statistics
func (h *WebSocketHandler) GetStats(c *gin.Context) {
	response.Success(c, http.StatusOK, "websocket stats", gin.H{
		"total_connections": h.hub.TotalClients(),
		"timestamp":         time.Now(),
	})
}
