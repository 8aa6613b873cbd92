// internal/domain/auth/dto.go
package auth

import (
	"time"

	"quantumbulls-session/internal/pkg/session"
)

// LoginRequest for user login
type LoginRequest struct {
	Email      string             `json:"email" binding:"required,email"`
	Password   string             `json:"password" binding:"required"`
	Override   bool               `json:"override"`
	RememberMe bool               `json:"remember_me"`
	Device     session.DeviceInfo `json:"device"`
	IPAddress  string             `json:"-"`
	UserAgent  string             `json:"-"`
}

// LoginResponse successful login response. SessionToken is the device's
// copy of the authority token and must be kept in local storage.
type LoginResponse struct {
	AccessToken  string             `json:"access_token"`
	SessionToken string             `json:"session_token"`
	TokenType    string             `json:"token_type"`
	ExpiresIn    int                `json:"expires_in"`
	ExpiresAt    time.Time          `json:"expires_at"`
	Record       session.RecordView `json:"record"`
	User         UserInfo           `json:"user"`
}

// ConflictResponse is returned with 409 when another device holds the session.
type ConflictResponse struct {
	Prior session.RecordView `json:"prior"`
}

// UserInfo minimal user information
type UserInfo struct {
	IdentityID int64  `json:"identity_id"`
	Email      string `json:"email"`
	DeviceID   string `json:"device_id,omitempty"`
}

// ReauthResponse tells the re-authentication page why the device was signed out.
type ReauthResponse struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}
