// internal/pkg/jwt/generator.go
package jwt

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

type Generator struct {
	priv        *rsa.PrivateKey
	issuer      string
	audience    string
	kid         string // key id for rotation
	Ttl         time.Duration
	RememberTtl time.Duration
}

func NewGenerator(priv *rsa.PrivateKey, issuer, audience, kid string, ttl, rememberTTL time.Duration) *Generator {
	if rememberTTL < ttl {
		rememberTTL = ttl
	}
	return &Generator{
		priv:        priv,
		issuer:      issuer,
		audience:    audience,
		kid:         kid,
		Ttl:         ttl,
		RememberTtl: rememberTTL,
	}
}

// Issued is a signed credential and the facts needed to revoke it later.
type Issued struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// GenerateAccessToken signs an access credential for a device.
func (g *Generator) GenerateAccessToken(accountID int64, deviceID string, rememberMe bool) (*Issued, error) {
	if g.priv == nil {
		return nil, fmt.Errorf("jwt generator has nil private key")
	}

	now := time.Now()
	jti := ulid.Make().String()
	expiresIn := g.Ttl
	if rememberMe {
		expiresIn = g.RememberTtl
	}
	expiresAt := now.Add(expiresIn)

	claims := &Claims{
		AccountID:      accountID,
		DeviceID:       deviceID,
		RememberMe:     rememberMe,
		SessionPurpose: PurposeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    g.issuer,
			Subject:   fmt.Sprintf("%d", accountID),
			Audience:  []string{g.audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        jti,
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if g.kid != "" {
		tok.Header["kid"] = g.kid
	}

	signed, err := tok.SignedString(g.priv)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &Issued{Token: signed, JTI: jti, ExpiresAt: expiresAt}, nil
}
