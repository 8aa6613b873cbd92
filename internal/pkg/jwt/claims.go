// internal/pkg/jwt/claims.go
package jwt

import (
	"github.com/golang-jwt/jwt/v5"
)

const PurposeAccess = "access"

// Claims represents the identity credential handed to a signed-in device.
type Claims struct {
	AccountID      int64  `json:"account_id"`
	DeviceID       string `json:"device_id,omitempty"`
	RememberMe     bool   `json:"remember_me,omitempty"`
	SessionPurpose string `json:"session_purpose"`
	jwt.RegisteredClaims
}

// VerifyAudience checks if the expected audience is listed in the claims.
func (c *Claims) VerifyAudience(audience string, required bool) bool {
	if len(c.Audience) == 0 {
		return !required
	}

	for _, aud := range c.Audience {
		if aud == audience {
			return true
		}
	}

	return false
}
