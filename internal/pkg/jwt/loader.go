// internal/pkg/jwt/loader.go
package jwt

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"time"
)

type Config struct {
	PrivPath string
	PubPath  string
	Issuer   string
	Audience string
	TTL      time.Duration
	// RememberTTL applies to credentials issued with remember-me.
	RememberTTL time.Duration
	KID         string
}

type Manager struct {
	Generator *Generator
	Verifier  *Verifier
}

// LoadAndBuild reads the PEM key pair named in cfg. With no private key path
// it signs with an ephemeral key, which only suits single-instance development.
func LoadAndBuild(cfg Config) (*Manager, error) {
	if cfg.PrivPath == "" {
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
		}
		return NewManager(priv, cfg), nil
	}

	// Load private key
	priv, err := LoadRSAPrivateKeyFromPEM(cfg.PrivPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load private key from %s: %w", cfg.PrivPath, err)
	}

	// Load public key
	pub, err := LoadRSAPublicKeyFromPEM(cfg.PubPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load public key from %s: %w", cfg.PubPath, err)
	}

	gen := NewGenerator(priv, cfg.Issuer, cfg.Audience, cfg.KID, cfg.TTL, cfg.RememberTTL)
	ver := NewVerifier(pub, cfg.Issuer, cfg.Audience)

	return &Manager{
		Generator: gen,
		Verifier:  ver,
	}, nil
}

// NewManager builds a manager from an in-memory key pair.
func NewManager(priv *rsa.PrivateKey, cfg Config) *Manager {
	return &Manager{
		Generator: NewGenerator(priv, cfg.Issuer, cfg.Audience, cfg.KID, cfg.TTL, cfg.RememberTTL),
		Verifier:  NewVerifier(&priv.PublicKey, cfg.Issuer, cfg.Audience),
	}
}