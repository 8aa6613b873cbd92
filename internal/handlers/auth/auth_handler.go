// internal/handlers/auth/auth_handler.go
package auth

import (
	"errors"
	"net/http"

	"quantumbulls-session/internal/domain/auth"
	"quantumbulls-session/internal/middleware"
	xerrors "quantumbulls-session/internal/pkg/errors"
	"quantumbulls-session/internal/pkg/response"
	"quantumbulls-session/internal/pkg/session"
	authUsecase "quantumbulls-session/internal/service/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AuthHandler struct {
	authService *authUsecase.AuthService
	logger      *zap.Logger
}

func NewAuthHandler(authService *authUsecase.AuthService, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

// ========== Login ==========

// Login handles user login. A 409 carries the prior holder so the device can
// ask its user whether to take over the session.
func (h *AuthHandler) Login(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	// Set IP and User-Agent
	req.IPAddress = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	loginResp, err := h.authService.Login(c.Request.Context(), &req)
	if err != nil {
		var conflict *authUsecase.ConflictError
		switch {
		case errors.As(err, &conflict):
			response.Conflict(c, "account is active on another device", err, auth.ConflictResponse{
				Prior: conflict.Prior,
			})
			return
		case errors.Is(err, xerrors.ErrRateLimited):
			response.TooManyRequests(c, "too many login attempts, please try again later")
			return
		case errors.Is(err, xerrors.ErrUnauthorized):
			response.Error(c, http.StatusUnauthorized, "invalid credentials", nil)
			return
		case errors.Is(err, xerrors.ErrAccountBlocked):
			response.Error(c, http.StatusForbidden, "account is inactive or suspended", nil)
			return
		case errors.Is(err, xerrors.ErrRecordRead), errors.Is(err, xerrors.ErrRecordWrite):
			h.logger.Error("session authority unavailable during login",
				zap.String("email", req.Email),
				zap.Error(err),
			)
			response.ServiceUnavailable(c, "login failed, please try again", nil)
			return
		}

		h.logger.Error("login failed",
			zap.String("email", req.Email),
			zap.String("ip", req.IPAddress),
			zap.Error(err),
		)
		response.Error(c, http.StatusInternalServerError, "login failed", nil)
		return
	}

	h.logger.Info("user logged in",
		zap.Int64("account_id", loginResp.User.IdentityID),
		zap.String("device_id", loginResp.User.DeviceID),
		zap.Bool("override", req.Override),
	)

	response.Success(c, http.StatusOK, "login successful", loginResp)
}

// ========== Logout ==========

// Logout handles user logout (requires auth)
func (h *AuthHandler) Logout(c *gin.Context) {
	accountID := middleware.MustGetAccountID(c)
	jti, _ := middleware.GetJTI(c)
	exp, _ := middleware.GetTokenExpiry(c)

	if err := h.authService.Logout(c.Request.Context(), jti, exp); err != nil {
		h.logger.Error("logout failed",
			zap.Int64("account_id", accountID),
			zap.Error(err),
		)
		response.Error(c, http.StatusInternalServerError, "logout failed", err)
		return
	}

	response.Success(c, http.StatusOK, "logout successful", nil)
}

// ========== Re-authentication ==========

var reauthMessages = map[session.Reason]string{
	session.ReasonConflict: "You were signed out because your account was signed in on another device.",
	session.ReasonExpired:  "Your session has expired. Please sign in again.",
}

// Reauth is where revoked devices are sent; it explains why.
func (h *AuthHandler) Reauth(c *gin.Context) {
	reason := session.Reason(c.Query("reason"))
	if !reason.Valid() {
		reason = session.ReasonExpired
	}

	response.Success(c, http.StatusOK, "please sign in", auth.ReauthResponse{
		Reason:  string(reason),
		Message: reauthMessages[reason],
	})
}

// Me returns who the caller is. Routed behind RequireActiveSession.
func (h *AuthHandler) Me(c *gin.Context) {
	response.Success(c, http.StatusOK, "session active", auth.UserInfo{
		IdentityID: middleware.MustGetAccountID(c),
		DeviceID:   middleware.GetDeviceID(c),
	})
}
