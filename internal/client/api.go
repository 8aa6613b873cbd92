package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"quantumbulls-session/internal/domain/auth"
	xerrors "quantumbulls-session/internal/pkg/errors"
	"quantumbulls-session/internal/pkg/session"
)

// ConflictError is returned by Login when another device holds the session.
type ConflictError struct {
	Prior session.RecordView
}

func (e *ConflictError) Error() string {
	return xerrors.ErrSessionConflict.Error()
}

func (e *ConflictError) Unwrap() error {
	return xerrors.ErrSessionConflict
}

// envelope mirrors the server's response body.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// API talks to the session server's HTTP endpoints.
type API struct {
	baseURL string
	http    *http.Client
}

func NewAPI(baseURL string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &API{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Login submits credentials. A held session comes back as *ConflictError.
func (a *API) Login(ctx context.Context, req *auth.LoginRequest) (*auth.LoginResponse, error) {
	body, err := json.Marshal(map[string]interface{}{
		"email":       req.Email,
		"password":    req.Password,
		"override":    req.Override,
		"remember_me": req.RememberMe,
		"device":      req.Device,
	})
	if err != nil {
		return nil, err
	}

	status, env, err := a.do(ctx, http.MethodPost, "/api/v1/auth/login", "", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
		var resp auth.LoginResponse
		if err := json.Unmarshal(env.Data, &resp); err != nil {
			return nil, fmt.Errorf("failed to decode login response: %w", err)
		}
		return &resp, nil
	case http.StatusConflict:
		var conflict auth.ConflictResponse
		if err := json.Unmarshal(env.Data, &conflict); err != nil {
			return nil, fmt.Errorf("failed to decode conflict response: %w", err)
		}
		return nil, &ConflictError{Prior: conflict.Prior}
	case http.StatusUnauthorized:
		return nil, xerrors.ErrUnauthorized
	case http.StatusForbidden:
		return nil, xerrors.ErrAccountBlocked
	case http.StatusTooManyRequests:
		return nil, xerrors.ErrRateLimited
	case http.StatusServiceUnavailable:
		return nil, fmt.Errorf("%w: %s", xerrors.ErrRecordWrite, env.Message)
	default:
		return nil, fmt.Errorf("login failed with status %d: %s", status, env.Message)
	}
}

// Authority fetches the account's current record view.
func (a *API) Authority(ctx context.Context, accessToken string) (*session.RecordView, error) {
	status, env, err := a.do(ctx, http.MethodGet, "/api/v1/session/authority", accessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrRecordRead, err)
	}

	switch status {
	case http.StatusOK:
		var view session.RecordView
		if err := json.Unmarshal(env.Data, &view); err != nil {
			return nil, fmt.Errorf("%w: %v", xerrors.ErrRecordRead, err)
		}
		return &view, nil
	case http.StatusNotFound:
		return nil, xerrors.ErrRecordNotFound
	case http.StatusUnauthorized:
		// The credential itself was refused; retrying cannot succeed.
		return nil, xerrors.ErrUnauthorized
	default:
		return nil, fmt.Errorf("%w: status %d", xerrors.ErrRecordRead, status)
	}
}

// SignOut revokes the access credential on the server.
func (a *API) SignOut(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	status, env, err := a.do(ctx, http.MethodPost, "/api/v1/auth/logout", accessToken, nil)
	if err != nil {
		return err
	}
	// Already revoked or expired is as good as signed out.
	if status == http.StatusOK || status == http.StatusUnauthorized {
		return nil
	}
	return fmt.Errorf("logout failed with status %d: %s", status, env.Message)
}

// ReauthURL is where a revoked device is sent.
func (a *API) ReauthURL(reason session.Reason) string {
	return a.baseURL + "/api/v1/auth/reauth?reason=" + url.QueryEscape(string(reason))
}

// PushURL is the websocket endpoint for change notifications.
func (a *API) PushURL(accessToken string) string {
	u := a.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws?token=" + url.QueryEscape(accessToken)
}

func (a *API) do(ctx context.Context, method, path, accessToken string, body io.Reader) (int, *envelope, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		return resp.StatusCode, nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, &env, nil
}

// APIAuthority reads the record over HTTP with the credential in storage.
type APIAuthority struct {
	api     *API
	storage Storage
}

func NewAPIAuthority(api *API, storage Storage) *APIAuthority {
	return &APIAuthority{api: api, storage: storage}
}

func (s *APIAuthority) Authority(ctx context.Context) (*session.RecordView, error) {
	st, err := s.storage.Load()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrRecordRead, err)
	}
	return s.api.Authority(ctx, st.AccessToken)
}
