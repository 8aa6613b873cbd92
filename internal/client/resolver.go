package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"quantumbulls-session/internal/domain/auth"
	xerrors "quantumbulls-session/internal/pkg/errors"
	"quantumbulls-session/internal/pkg/session"

	"go.uber.org/zap"
)

// ResolverState is where a login attempt is in the hand-off flow.
type ResolverState int

const (
	ResolverIdle ResolverState = iota
	// ResolverPrompting: another device holds the session; waiting on the user.
	ResolverPrompting
	ResolverAuthorized
	ResolverCancelled
	ResolverFailed
)

func (s ResolverState) String() string {
	switch s {
	case ResolverIdle:
		return "idle"
	case ResolverPrompting:
		return "prompting"
	case ResolverAuthorized:
		return "authorized"
	case ResolverCancelled:
		return "cancelled"
	case ResolverFailed:
		return "failed"
	}
	return "unknown"
}

// Prompter asks the user whether to take over a session held elsewhere.
type Prompter interface {
	Confirm(ctx context.Context, prior session.RecordView) (bool, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, prior session.RecordView) (bool, error)

func (f PrompterFunc) Confirm(ctx context.Context, prior session.RecordView) (bool, error) {
	return f(ctx, prior)
}

// LoginClient submits credentials to the identity service.
type LoginClient interface {
	Login(ctx context.Context, req *auth.LoginRequest) (*auth.LoginResponse, error)
}

// Resolver runs a device login, including the hand-off prompt when another
// device holds the session.
type Resolver struct {
	api      LoginClient
	storage  Storage
	prompter Prompter
	logger   *zap.Logger

	mu    sync.Mutex
	state ResolverState
}

func NewResolver(api LoginClient, storage Storage, prompter Prompter, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		api:      api,
		storage:  storage,
		prompter: prompter,
		logger:   logger,
	}
}

func (r *Resolver) State() ResolverState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Resolver) setState(s ResolverState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Login signs the device in. The session token is persisted before Login
// returns. Declining the prompt returns ErrLoginCancelled and changes nothing.
func (r *Resolver) Login(ctx context.Context, req auth.LoginRequest) (*auth.LoginResponse, error) {
	r.setState(ResolverIdle)

	deviceID, err := DeviceID(r.storage)
	if err != nil {
		r.setState(ResolverFailed)
		return nil, fmt.Errorf("failed to read device id: %w", err)
	}
	req.Device.ID = deviceID

	resp, err := r.api.Login(ctx, &req)
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		r.setState(ResolverPrompting)
		r.logger.Info("session held by another device",
			zap.String("device", conflict.Prior.Device.Name),
			zap.String("location", conflict.Prior.Location.City),
			zap.Time("since", conflict.Prior.UpdatedAt),
		)

		proceed, perr := r.prompter.Confirm(ctx, conflict.Prior)
		if perr != nil {
			r.setState(ResolverFailed)
			return nil, fmt.Errorf("prompt failed: %w", perr)
		}
		if !proceed {
			r.setState(ResolverCancelled)
			return nil, xerrors.ErrLoginCancelled
		}

		// Whoever holds the session now, this write lands last and wins.
		req.Override = true
		resp, err = r.api.Login(ctx, &req)
	}
	if err != nil {
		r.setState(ResolverFailed)
		return nil, err
	}

	if err := r.storage.Save(State{
		AccountID:   resp.User.IdentityID,
		Token:       session.Token(resp.SessionToken),
		AccessToken: resp.AccessToken,
		DeviceID:    deviceID,
	}); err != nil {
		r.setState(ResolverFailed)
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	r.setState(ResolverAuthorized)
	return resp, nil
}
