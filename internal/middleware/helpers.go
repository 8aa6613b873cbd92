// internal/middleware/helpers.go
package middleware

import "github.com/gin-gonic/gin"

// MustGetAccountID gets account ID from context or panics
func MustGetAccountID(c *gin.Context) int64 {
	accountID, exists := GetAccountID(c)
	if !exists {
		panic("account_id not found in context")
	}
	return accountID
}

// GetDeviceID gets the device id the credential was issued to
func GetDeviceID(c *gin.Context) string {
	return c.GetString("device_id")
}

// IsAuthenticated checks if request is authenticated
func IsAuthenticated(c *gin.Context) bool {
	_, exists := c.Get("account_id")
	return exists
}
