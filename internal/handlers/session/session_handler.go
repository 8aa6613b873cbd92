// internal/handlers/session/session_handler.go
package session

import (
	"errors"
	"net/http"

	"quantumbulls-session/internal/middleware"
	xerrors "quantumbulls-session/internal/pkg/errors"
	"quantumbulls-session/internal/pkg/response"
	authUsecase "quantumbulls-session/internal/service/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type SessionHandler struct {
	authService *authUsecase.AuthService
	logger      *zap.Logger
}

func NewSessionHandler(authService *authUsecase.AuthService, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{
		authService: authService,
		logger:      logger,
	}
}

// Authority serves the poll path: the caller's current authority record,
// with the active token replaced by its digest.
func (h *SessionHandler) Authority(c *gin.Context) {
	accountID := middleware.MustGetAccountID(c)

	view, err := h.authService.Authority(c.Request.Context(), accountID)
	if errors.Is(err, xerrors.ErrRecordNotFound) {
		response.NotFound(c, "no active session for account")
		return
	}
	if err != nil {
		h.logger.Warn("authority read failed",
			zap.Int64("account_id", accountID),
			zap.Error(err),
		)
		response.ServiceUnavailable(c, "session authority unavailable", nil)
		return
	}

	response.Success(c, http.StatusOK, "session authority", view)
}
