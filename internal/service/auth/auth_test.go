package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"quantumbulls-session/internal/domain/auth"
	xerrors "quantumbulls-session/internal/pkg/errors"
	"quantumbulls-session/internal/pkg/jwt"
	"quantumbulls-session/internal/pkg/session"
	sessionsvc "quantumbulls-session/internal/service/session"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeRepo struct {
	mu         sync.Mutex
	identities map[string]*auth.Identity
	hashes     map[int64]string
	nextID     int64
	lastLogin  map[int64]int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		identities: make(map[string]*auth.Identity),
		hashes:     make(map[int64]string),
		lastLogin:  make(map[int64]int),
	}
}

func (r *fakeRepo) add(t *testing.T, email, password, status string) *auth.Identity {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	identity := &auth.Identity{Email: sql.NullString{String: email, Valid: true}, Status: status}
	require.NoError(t, r.CreateLocalAccount(context.Background(), identity, string(hash)))
	return identity
}

func (r *fakeRepo) FindIdentityByEmail(_ context.Context, email string) (*auth.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	identity, ok := r.identities[strings.ToLower(email)]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return identity, nil
}

func (r *fakeRepo) FindProviderByIdentityAndType(_ context.Context, identityID int64, providerType string) (*auth.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hash, ok := r.hashes[identityID]
	if !ok || providerType != auth.ProviderLocal {
		return nil, xerrors.ErrNotFound
	}
	return &auth.Provider{
		IdentityID:   identityID,
		Provider:     auth.ProviderLocal,
		PasswordHash: sql.NullString{String: hash, Valid: true},
	}, nil
}

func (r *fakeRepo) UpdateIdentityLastLogin(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastLogin[id]++
	return nil
}

func (r *fakeRepo) ExistsByEmail(_ context.Context, email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.identities[strings.ToLower(email)]
	return ok, nil
}

func (r *fakeRepo) CreateLocalAccount(_ context.Context, identity *auth.Identity, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	identity.ID = r.nextID
	r.identities[strings.ToLower(identity.Email.String)] = identity
	r.hashes[identity.ID] = passwordHash
	return nil
}

type testEnv struct {
	svc   *AuthService
	repo  *fakeRepo
	store *session.MemoryStore
	mr    *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	jwtManager := jwt.NewManager(priv, jwt.Config{
		Issuer:      "quantumbulls",
		Audience:    "quantumbulls-devices",
		TTL:         time.Hour,
		RememberTTL: 30 * 24 * time.Hour,
	})

	repo := newFakeRepo()
	store := session.NewMemoryStore()
	svc := NewAuthService(
		repo,
		jwtManager,
		sessionsvc.NewIssuer(store, nil, nil),
		session.NewRateLimiter(rdb, 3, time.Minute),
		session.NewBlacklist(rdb),
		nil,
	)
	return &testEnv{svc: svc, repo: repo, store: store, mr: mr}
}

func loginReq(device string, override bool) *auth.LoginRequest {
	return &auth.LoginRequest{
		Email:     "trader@example.com",
		Password:  "correct horse",
		Override:  override,
		Device:    session.DeviceInfo{ID: device, Type: "desktop", Name: device},
		IPAddress: "10.0.0.1",
	}
}

func TestLoginIssuesSession(t *testing.T) {
	env := newTestEnv(t)
	identity := env.repo.add(t, "trader@example.com", "correct horse", auth.StatusActive)
	ctx := context.Background()

	resp, err := env.svc.Login(ctx, loginReq("laptop", false))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.SessionToken)
	assert.Equal(t, identity.ID, resp.User.IdentityID)
	assert.True(t, resp.Record.OwnedBy(session.Token(resp.SessionToken)))
	assert.Equal(t, 1, env.repo.lastLogin[identity.ID])

	claims, err := env.svc.ValidateToken(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, identity.ID, claims.AccountID)
	assert.Equal(t, "laptop", claims.DeviceID)

	require.NoError(t, env.svc.CheckActiveSession(ctx, identity.ID, session.Token(resp.SessionToken)))
}

func TestLoginWithoutDeviceIDAssignsOne(t *testing.T) {
	env := newTestEnv(t)
	env.repo.add(t, "trader@example.com", "correct horse", auth.StatusActive)

	resp, err := env.svc.Login(context.Background(), loginReq("", false))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.User.DeviceID)
	assert.Equal(t, resp.User.DeviceID, resp.Record.Device.ID)
}

func TestLoginConflictThenOverride(t *testing.T) {
	env := newTestEnv(t)
	identity := env.repo.add(t, "trader@example.com", "correct horse", auth.StatusActive)
	ctx := context.Background()

	first, err := env.svc.Login(ctx, loginReq("laptop", false))
	require.NoError(t, err)

	_, err = env.svc.Login(ctx, loginReq("phone", false))
	require.ErrorIs(t, err, xerrors.ErrSessionConflict)
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "laptop", conflict.Prior.Device.Name)
	assert.Equal(t, "10.0.0.1", conflict.Prior.Location.IP)

	require.NoError(t, env.svc.CheckActiveSession(ctx, identity.ID, session.Token(first.SessionToken)))

	second, err := env.svc.Login(ctx, loginReq("phone", true))
	require.NoError(t, err)

	err = env.svc.CheckActiveSession(ctx, identity.ID, session.Token(first.SessionToken))
	require.ErrorIs(t, err, xerrors.ErrSessionSuperseded)
	require.NoError(t, env.svc.CheckActiveSession(ctx, identity.ID, session.Token(second.SessionToken)))
}

func TestSigningFailureLeavesHolderInPlace(t *testing.T) {
	env := newTestEnv(t)
	identity := env.repo.add(t, "trader@example.com", "correct horse", auth.StatusActive)
	ctx := context.Background()

	first, err := env.svc.Login(ctx, loginReq("laptop", false))
	require.NoError(t, err)

	env.svc.jwtManager = &jwt.Manager{
		Generator: jwt.NewGenerator(nil, "quantumbulls", "quantumbulls-devices", "", time.Hour, time.Hour),
		Verifier:  env.svc.jwtManager.Verifier,
	}
	_, err = env.svc.Login(ctx, loginReq("phone", true))
	require.Error(t, err)

	require.NoError(t, env.svc.CheckActiveSession(ctx, identity.ID, session.Token(first.SessionToken)))
	record, err := env.store.Get(ctx, identity.ID)
	require.NoError(t, err)
	assert.Equal(t, "laptop", record.Device.ID)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.repo.add(t, "trader@example.com", "correct horse", auth.StatusActive)

	req := loginReq("laptop", false)
	req.Password = "wrong"
	_, err := env.svc.Login(context.Background(), req)
	require.ErrorIs(t, err, xerrors.ErrUnauthorized)

	req = loginReq("laptop", false)
	req.Email = "nobody@example.com"
	_, err = env.svc.Login(context.Background(), req)
	require.ErrorIs(t, err, xerrors.ErrUnauthorized)

	_, err = env.store.Get(context.Background(), 1)
	require.ErrorIs(t, err, xerrors.ErrRecordNotFound)
}

func TestLoginRejectsBlockedAccount(t *testing.T) {
	env := newTestEnv(t)
	env.repo.add(t, "trader@example.com", "correct horse", auth.StatusSuspended)

	_, err := env.svc.Login(context.Background(), loginReq("laptop", false))
	require.ErrorIs(t, err, xerrors.ErrAccountBlocked)
}

func TestLoginIsRateLimited(t *testing.T) {
	env := newTestEnv(t)
	env.repo.add(t, "trader@example.com", "correct horse", auth.StatusActive)

	req := loginReq("laptop", false)
	req.Password = "wrong"
	for i := 0; i < 3; i++ {
		_, err := env.svc.Login(context.Background(), req)
		require.ErrorIs(t, err, xerrors.ErrUnauthorized)
	}

	_, err := env.svc.Login(context.Background(), loginReq("laptop", false))
	require.ErrorIs(t, err, xerrors.ErrRateLimited)
}

func TestLogoutRevokesCredentialButKeepsRecord(t *testing.T) {
	env := newTestEnv(t)
	identity := env.repo.add(t, "trader@example.com", "correct horse", auth.StatusActive)
	ctx := context.Background()

	resp, err := env.svc.Login(ctx, loginReq("laptop", false))
	require.NoError(t, err)
	claims, err := env.svc.ValidateToken(ctx, resp.AccessToken)
	require.NoError(t, err)

	require.NoError(t, env.svc.Logout(ctx, claims.ID, claims.ExpiresAt.Time))

	_, err = env.svc.ValidateToken(ctx, resp.AccessToken)
	require.ErrorIs(t, err, xerrors.ErrSessionExpired)

	view, err := env.svc.Authority(ctx, identity.ID)
	require.NoError(t, err)
	assert.True(t, view.OwnedBy(session.Token(resp.SessionToken)))
}

func TestCheckActiveSessionWithoutToken(t *testing.T) {
	env := newTestEnv(t)
	err := env.svc.CheckActiveSession(context.Background(), 1, "")
	require.ErrorIs(t, err, xerrors.ErrSessionExpired)
}

func TestEnsureDemoAccountIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.svc.EnsureDemoAccount(ctx, "demo@example.com", "demo-pass"))
	require.NoError(t, env.svc.EnsureDemoAccount(ctx, "demo@example.com", "demo-pass"))
	assert.Len(t, env.repo.identities, 1)

	require.NoError(t, env.svc.EnsureDemoAccount(ctx, "", ""))
	assert.Len(t, env.repo.identities, 1)
}
