package client

import (
	"context"
	"fmt"
	"sync"

	xerrors "quantumbulls-session/internal/pkg/errors"
	"quantumbulls-session/internal/pkg/session"

	"go.uber.org/zap"
)

// IdentityClient signs a device out of the identity service.
type IdentityClient interface {
	SignOut(ctx context.Context, accessToken string) error
}

// RedirectFunc sends the device to the re-authentication page for reason.
type RedirectFunc func(reason session.Reason)

// Revoker tears down a device's session once it has lost ownership.
type Revoker struct {
	storage  Storage
	identity IdentityClient
	redirect RedirectFunc
	logger   *zap.Logger

	mu      sync.Mutex
	revoked bool
	reason  session.Reason
}

func NewRevoker(storage Storage, identity IdentityClient, redirect RedirectFunc, logger *zap.Logger) *Revoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if redirect == nil {
		redirect = func(session.Reason) {}
	}
	return &Revoker{
		storage:  storage,
		identity: identity,
		redirect: redirect,
		logger:   logger,
	}
}

// Revoke clears the local token, signs out and redirects with reason. Only
// the first call does anything; later and concurrent calls return nil.
func (r *Revoker) Revoke(ctx context.Context, reason session.Reason) error {
	if !reason.Valid() {
		return fmt.Errorf("%w: unknown revocation reason %q", xerrors.ErrInvalidInput, reason)
	}

	r.mu.Lock()
	if r.revoked {
		r.mu.Unlock()
		return nil
	}
	r.revoked = true
	r.reason = reason
	r.mu.Unlock()

	log := r.logger.With(zap.String("reason", string(reason)))

	st, loadErr := r.storage.Load()
	clearErr := r.storage.ClearSession()
	if clearErr != nil {
		log.Error("failed to clear local session", zap.Error(clearErr))
	}

	// The decision is final; a failed sign-out only leaves a credential that
	// no longer owns the session.
	if loadErr == nil && r.identity != nil {
		if err := r.identity.SignOut(ctx, st.AccessToken); err != nil {
			log.Warn("sign out failed", zap.Error(err))
		}
	}

	log.Info("session revoked", zap.Int64("account_id", st.AccountID))
	r.redirect(reason)

	if clearErr != nil {
		return fmt.Errorf("failed to clear local session: %w", clearErr)
	}
	return nil
}

// Revoked reports whether Revoke has run, and with which reason.
func (r *Revoker) Revoked() (bool, session.Reason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revoked, r.reason
}
