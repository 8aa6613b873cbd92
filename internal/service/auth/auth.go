// internal/service/auth/auth.go
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"quantumbulls-session/internal/domain/auth"
	xerrors "quantumbulls-session/internal/pkg/errors"
	"quantumbulls-session/internal/pkg/jwt"
	"quantumbulls-session/internal/pkg/session"
	sessionsvc "quantumbulls-session/internal/service/session"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// IdentityRepository is the part of the Postgres auth repository the service uses.
type IdentityRepository interface {
	FindIdentityByEmail(ctx context.Context, email string) (*auth.Identity, error)
	FindProviderByIdentityAndType(ctx context.Context, identityID int64, providerType string) (*auth.Provider, error)
	UpdateIdentityLastLogin(ctx context.Context, id int64) error
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	CreateLocalAccount(ctx context.Context, identity *auth.Identity, passwordHash string) error
}

// ConflictError is returned by Login when another device holds the session
// and the request did not ask to override it.
type ConflictError struct {
	Prior session.RecordView
}

func (e *ConflictError) Error() string {
	return xerrors.ErrSessionConflict.Error()
}

func (e *ConflictError) Unwrap() error {
	return xerrors.ErrSessionConflict
}

type AuthService struct {
	authRepo    IdentityRepository
	jwtManager  *jwt.Manager
	issuer      *sessionsvc.Issuer
	rateLimiter *session.RateLimiter
	blacklist   *session.Blacklist
	logger      *zap.Logger
}

func NewAuthService(
	authRepo IdentityRepository,
	jwtManager *jwt.Manager,
	issuer *sessionsvc.Issuer,
	rateLimiter *session.RateLimiter,
	blacklist *session.Blacklist,
	logger *zap.Logger,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		authRepo:    authRepo,
		jwtManager:  jwtManager,
		issuer:      issuer,
		rateLimiter: rateLimiter,
		blacklist:   blacklist,
		logger:      logger,
	}
}

// ========== Login ==========

// Login authenticates a user with email/password and makes the calling
// device the account's session holder.
func (s *AuthService) Login(ctx context.Context, req *auth.LoginRequest) (*auth.LoginResponse, error) {
	// Rate limiting
	allowed, remaining, err := s.rateLimiter.CheckLoginAttempt(ctx, req.IPAddress, req.Email)
	if err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}
	if !allowed {
		return nil, xerrors.ErrRateLimited
	}

	identity, err := s.authRepo.FindIdentityByEmail(ctx, req.Email)
	if errors.Is(err, xerrors.ErrNotFound) {
		return nil, xerrors.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	if identity.Blocked() {
		return nil, xerrors.ErrAccountBlocked
	}

	provider, err := s.authRepo.FindProviderByIdentityAndType(ctx, identity.ID, auth.ProviderLocal)
	if errors.Is(err, xerrors.ErrNotFound) {
		return nil, xerrors.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find provider: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(provider.PasswordHash.String), []byte(req.Password)); err != nil {
		s.logger.Info("invalid credentials",
			zap.String("email", req.Email),
			zap.Int64("attempts_remaining", remaining),
		)
		return nil, xerrors.ErrUnauthorized
	}

	// Credentials are good; a conflict below is not a failed attempt.
	if err := s.rateLimiter.ResetLoginAttempts(ctx, req.IPAddress, req.Email); err != nil {
		s.logger.Warn("failed to reset login attempts", zap.Error(err))
	}

	device := req.Device
	if device.ID == "" {
		device.ID = uuid.NewString()
	}
	if device.UserAgent == "" {
		device.UserAgent = req.UserAgent
	}

	// Mint the credential before touching the record so a signing failure
	// cannot evict the current holder.
	issued, err := s.jwtManager.Generator.GenerateAccessToken(identity.ID, device.ID, req.RememberMe)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	result, err := s.issuer.Issue(ctx, identity.ID, sessionsvc.IssueOptions{
		Override: req.Override,
		Device:   device,
		Location: session.LocationInfo{IP: req.IPAddress},
	})
	if err != nil {
		return nil, err
	}
	if result.Conflict() {
		return nil, &ConflictError{Prior: *result.Prior}
	}

	if err := s.authRepo.UpdateIdentityLastLogin(ctx, identity.ID); err != nil {
		s.logger.Error("failed to update last login", zap.Error(err))
	}

	return &auth.LoginResponse{
		AccessToken:  issued.Token,
		SessionToken: string(result.Token),
		TokenType:    "Bearer",
		ExpiresIn:    int(time.Until(issued.ExpiresAt).Seconds()),
		ExpiresAt:    issued.ExpiresAt,
		Record:       result.Record.View(),
		User: auth.UserInfo{
			IdentityID: identity.ID,
			Email:      identity.Email.String,
			DeviceID:   device.ID,
		},
	}, nil
}

// ========== Logout ==========

// Logout revokes the access credential until it would have expired anyway.
// The authority record is left alone; only a new login replaces it.
func (s *AuthService) Logout(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return xerrors.ErrInvalidInput
	}
	if err := s.blacklist.BlacklistToken(ctx, jti, time.Until(expiresAt)); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	return nil
}

// ValidateToken verifies an access credential and checks it was not revoked.
func (s *AuthService) ValidateToken(ctx context.Context, token string) (*jwt.Claims, error) {
	claims, err := s.jwtManager.Verifier.VerifyAccessToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrUnauthorized, err)
	}

	blacklisted, err := s.blacklist.IsTokenBlacklisted(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check blacklist: %w", err)
	}
	if blacklisted {
		return nil, xerrors.ErrSessionExpired
	}

	return claims, nil
}

// ========== Session Authority ==========

// Authority returns the account's current record as seen by clients.
func (s *AuthService) Authority(ctx context.Context, accountID int64) (*session.RecordView, error) {
	return s.issuer.Authority(ctx, accountID)
}

// CheckActiveSession fails with ErrSessionSuperseded unless token is the
// account's active session token.
func (s *AuthService) CheckActiveSession(ctx context.Context, accountID int64, token session.Token) error {
	if token.IsZero() {
		return xerrors.ErrSessionExpired
	}
	active, err := s.issuer.IsActive(ctx, accountID, token)
	if err != nil {
		return err
	}
	if !active {
		return xerrors.ErrSessionSuperseded
	}
	return nil
}

// ========== Seeding ==========

// EnsureDemoAccount creates an active local account if none exists for email.
func (s *AuthService) EnsureDemoAccount(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return nil
	}

	exists, err := s.authRepo.ExistsByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to check email: %w", err)
	}
	if exists {
		return nil
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	identity := &auth.Identity{
		Email:  sql.NullString{String: email, Valid: true},
		Status: auth.StatusActive,
	}
	if err := s.authRepo.CreateLocalAccount(ctx, identity, string(hashedPassword)); err != nil {
		return err
	}

	s.logger.Info("demo account created", zap.String("email", email), zap.Int64("account_id", identity.ID))
	return nil
}
