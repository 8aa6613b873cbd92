// internal/middleware/auth_middleware.go
package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	xerrors "quantumbulls-session/internal/pkg/errors"
	"quantumbulls-session/internal/pkg/metrics"
	"quantumbulls-session/internal/pkg/response"
	"quantumbulls-session/internal/pkg/session"
	"quantumbulls-session/internal/service/auth"

	"github.com/gin-gonic/gin"
)

// SessionTokenHeader carries the device's copy of the session token.
const SessionTokenHeader = "X-Session-Token"

type AuthMiddleware struct {
	authService *auth.AuthService
	metrics     *metrics.Metrics
}

func NewAuthMiddleware(authService *auth.AuthService, m *metrics.Metrics) *AuthMiddleware {
	return &AuthMiddleware{
		authService: authService,
		metrics:     m,
	}
}

// Auth is the base authentication middleware that validates JWT tokens
func (m *AuthMiddleware) Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			response.Error(c, http.StatusUnauthorized, "missing authorization token", nil)
			return
		}

		claims, err := m.authService.ValidateToken(c.Request.Context(), token)
		if err != nil {
			response.Error(c, http.StatusUnauthorized, "invalid or expired token", err)
			return
		}

		// Set user context
		c.Set("account_id", claims.AccountID)
		c.Set("jti", claims.ID)
		c.Set("device_id", claims.DeviceID)
		c.Set("session_purpose", claims.SessionPurpose)
		if claims.ExpiresAt != nil {
			c.Set("token_exp", claims.ExpiresAt.Time)
		}

		c.Next()
	}
}

// RequireActiveSession rejects requests whose X-Session-Token is not the
// account's active session token. MUST be used after Auth() middleware.
func (m *AuthMiddleware) RequireActiveSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID, ok := GetAccountID(c)
		if !ok {
			response.Unauthorized(c, "authentication required")
			return
		}

		local := session.Token(c.GetHeader(SessionTokenHeader))
		err := m.authService.CheckActiveSession(c.Request.Context(), accountID, local)
		switch {
		case err == nil:
			c.Next()
		case errors.Is(err, xerrors.ErrSessionExpired):
			response.Error(c, http.StatusUnauthorized, "session token missing", err, gin.H{
				"reason": session.ReasonExpired,
			})
		case errors.Is(err, xerrors.ErrSessionSuperseded):
			if m.metrics != nil {
				m.metrics.Superseded.Inc()
			}
			response.Error(c, http.StatusUnauthorized, "signed in on another device", err, gin.H{
				"reason": session.ReasonConflict,
			})
		default:
			response.ServiceUnavailable(c, "session authority unavailable", err)
		}
	}
}

// extractToken extracts Bearer token from Authorization header
func extractToken(c *gin.Context) string {
	// Try header first
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}

	// Browsers cannot set headers on a websocket handshake
	return c.Query("token")
}

// GetAccountID returns the authenticated account id from context
func GetAccountID(c *gin.Context) (int64, bool) {
	accountID, exists := c.Get("account_id")
	if !exists {
		return 0, false
	}

	id, ok := accountID.(int64)
	return id, ok
}

// GetJTI returns the credential id from context
func GetJTI(c *gin.Context) (string, bool) {
	jti, exists := c.Get("jti")
	if !exists {
		return "", false
	}

	jtiStr, ok := jti.(string)
	return jtiStr, ok
}

// GetTokenExpiry returns when the presented credential expires
func GetTokenExpiry(c *gin.Context) (time.Time, bool) {
	exp, exists := c.Get("token_exp")
	if !exists {
		return time.Time{}, false
	}

	t, ok := exp.(time.Time)
	return t, ok
}
