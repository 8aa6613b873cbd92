package jwt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Issuer:      "quantumbulls",
		Audience:    "quantumbulls-devices",
		TTL:         time.Hour,
		RememberTTL: 24 * time.Hour,
		KID:         "test",
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return NewManager(priv, testConfig())
}

func TestAccessTokenRoundTrip(t *testing.T) {
	m := newTestManager(t)

	issued, err := m.Generator.GenerateAccessToken(42, "dev-1", false)
	require.NoError(t, err)
	assert.NotEmpty(t, issued.JTI)
	assert.WithinDuration(t, time.Now().Add(time.Hour), issued.ExpiresAt, 5*time.Second)

	claims, err := m.Verifier.VerifyAccessToken(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.AccountID)
	assert.Equal(t, "dev-1", claims.DeviceID)
	assert.Equal(t, issued.JTI, claims.ID)
}

func TestRememberMeUsesLongerTTL(t *testing.T) {
	m := newTestManager(t)

	issued, err := m.Generator.GenerateAccessToken(1, "", true)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), issued.ExpiresAt, 5*time.Second)

	claims, err := m.Verifier.VerifyAccessToken(issued.Token)
	require.NoError(t, err)
	assert.True(t, claims.RememberMe)
}

func TestVerifyRejectsForeignKeyAndAudience(t *testing.T) {
	a := newTestManager(t)
	b := newTestManager(t)

	issued, err := a.Generator.GenerateAccessToken(1, "", false)
	require.NoError(t, err)

	_, err = b.Verifier.VerifyAccessToken(issued.Token)
	assert.Error(t, err)

	other := NewVerifier(&a.Generator.priv.PublicKey, "quantumbulls", "someone-else")
	_, err = other.VerifyAccessToken(issued.Token)
	assert.Error(t, err)
}

func TestLoadAndBuildFromPEM(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	dir := t.TempDir()
	privPath := filepath.Join(dir, "priv.pem")
	pubPath := filepath.Join(dir, "pub.pem")

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}), 0o600))

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), 0o600))

	cfg := testConfig()
	cfg.PrivPath = privPath
	cfg.PubPath = pubPath

	m, err := LoadAndBuild(cfg)
	require.NoError(t, err)

	issued, err := m.Generator.GenerateAccessToken(5, "", false)
	require.NoError(t, err)
	_, err = m.Verifier.VerifyAccessToken(issued.Token)
	require.NoError(t, err)
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(path, []byte("not pem"), 0o600))

	_, err := LoadRSAPrivateKeyFromPEM(path)
	assert.Error(t, err)
	_, err = LoadRSAPublicKeyFromPEM(path)
	assert.Error(t, err)
}

func TestLoadAndBuildWithoutKeysIsEphemeral(t *testing.T) {
	m, err := LoadAndBuild(testConfig())
	require.NoError(t, err)

	issued, err := m.Generator.GenerateAccessToken(1, "", false)
	require.NoError(t, err)
	_, err = m.Verifier.VerifyAccessToken(issued.Token)
	require.NoError(t, err)
}
