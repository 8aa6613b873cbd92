package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"quantumbulls-session/internal/domain/auth"
	xerrors "quantumbulls-session/internal/pkg/errors"
	"quantumbulls-session/internal/pkg/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedLogin answers each Login call with the next scripted result.
type scriptedLogin struct {
	requests []auth.LoginRequest
	results  []func() (*auth.LoginResponse, error)
}

func (s *scriptedLogin) Login(_ context.Context, req *auth.LoginRequest) (*auth.LoginResponse, error) {
	s.requests = append(s.requests, *req)
	next := s.results[0]
	s.results = s.results[1:]
	return next()
}

func granted(token string) func() (*auth.LoginResponse, error) {
	return func() (*auth.LoginResponse, error) {
		return &auth.LoginResponse{
			AccessToken:  "jwt",
			SessionToken: token,
			User:         auth.UserInfo{IdentityID: 9},
		}, nil
	}
}

func held() func() (*auth.LoginResponse, error) {
	return func() (*auth.LoginResponse, error) {
		return nil, &ConflictError{Prior: session.RecordView{
			AccountID: 9,
			UpdatedAt: time.Now(),
			Device:    session.DeviceInfo{Name: "phone"},
		}}
	}
}

func answer(proceed bool, asked *int) Prompter {
	return PrompterFunc(func(_ context.Context, prior session.RecordView) (bool, error) {
		*asked++
		return proceed, nil
	})
}

func TestLoginWithoutConflict(t *testing.T) {
	api := &scriptedLogin{results: []func() (*auth.LoginResponse, error){granted("tok-1")}}
	storage := NewMemoryStorage(State{})
	asked := 0
	r := NewResolver(api, storage, answer(true, &asked), nil)

	resp, err := r.Login(context.Background(), auth.LoginRequest{Email: "a@b.c", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "tok-1", resp.SessionToken)
	assert.Equal(t, ResolverAuthorized, r.State())
	assert.Zero(t, asked)

	st, err := storage.Load()
	require.NoError(t, err)
	assert.Equal(t, session.Token("tok-1"), st.Token)
	assert.Equal(t, int64(9), st.AccountID)
	assert.NotEmpty(t, st.DeviceID)
	require.Len(t, api.requests, 1)
	assert.Equal(t, st.DeviceID, api.requests[0].Device.ID)
	assert.False(t, api.requests[0].Override)
}

func TestLoginProceedOverrides(t *testing.T) {
	api := &scriptedLogin{results: []func() (*auth.LoginResponse, error){held(), granted("tok-2")}}
	storage := NewMemoryStorage(State{})
	asked := 0
	r := NewResolver(api, storage, answer(true, &asked), nil)

	_, err := r.Login(context.Background(), auth.LoginRequest{Email: "a@b.c", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, 1, asked)
	assert.Equal(t, ResolverAuthorized, r.State())

	require.Len(t, api.requests, 2)
	assert.True(t, api.requests[1].Override)
	assert.Equal(t, session.Token("tok-2"), LocalToken(storage))
}

func TestLoginAbortLeavesNothingBehind(t *testing.T) {
	api := &scriptedLogin{results: []func() (*auth.LoginResponse, error){held()}}
	storage := NewMemoryStorage(State{DeviceID: "dev"})
	asked := 0
	r := NewResolver(api, storage, answer(false, &asked), nil)

	_, err := r.Login(context.Background(), auth.LoginRequest{Email: "a@b.c", Password: "pw"})
	require.ErrorIs(t, err, xerrors.ErrLoginCancelled)
	assert.Equal(t, ResolverCancelled, r.State())
	assert.Len(t, api.requests, 1)

	st, _ := storage.Load()
	assert.Equal(t, State{DeviceID: "dev"}, st)
}

func TestLoginFailure(t *testing.T) {
	api := &scriptedLogin{results: []func() (*auth.LoginResponse, error){
		func() (*auth.LoginResponse, error) { return nil, xerrors.ErrUnauthorized },
	}}
	r := NewResolver(api, NewMemoryStorage(State{}), answer(true, new(int)), nil)

	_, err := r.Login(context.Background(), auth.LoginRequest{Email: "a@b.c", Password: "bad"})
	require.ErrorIs(t, err, xerrors.ErrUnauthorized)
	assert.Equal(t, ResolverFailed, r.State())
}

func TestPromptErrorFails(t *testing.T) {
	api := &scriptedLogin{results: []func() (*auth.LoginResponse, error){held()}}
	prompter := PrompterFunc(func(context.Context, session.RecordView) (bool, error) {
		return false, errors.New("stdin closed")
	})
	r := NewResolver(api, NewMemoryStorage(State{}), prompter, nil)

	_, err := r.Login(context.Background(), auth.LoginRequest{Email: "a@b.c", Password: "pw"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, xerrors.ErrLoginCancelled)
	assert.Equal(t, ResolverFailed, r.State())
}
