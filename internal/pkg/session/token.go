package session

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// tokenBytes is the amount of entropy in a session token (128 bits).
const tokenBytes = 16

// Token is an opaque session token. Equality is the only meaningful
// operation on it.
type Token string

// NewToken mints a fresh random token.
func NewToken() (Token, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return Token(hex.EncodeToString(b)), nil
}

// IsZero reports whether the token is absent.
func (t Token) IsZero() bool {
	return t == ""
}

// Equal compares two tokens in constant time. Absent tokens never match.
func (t Token) Equal(other Token) bool {
	if t.IsZero() || other.IsZero() {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(t), []byte(other)) == 1
}

// Digest returns the hex SHA-256 of the token, or "" for an absent token.
func (t Token) Digest() string {
	if t.IsZero() {
		return ""
	}
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}

func digestEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
