package client

import (
	"context"
	"errors"
	"sync"
	"time"

	xerrors "quantumbulls-session/internal/pkg/errors"
	"quantumbulls-session/internal/pkg/session"

	"go.uber.org/zap"
)

// ValidatorState is where a validator is in its lifecycle.
type ValidatorState int

const (
	StateIdle ValidatorState = iota
	// StateWatching: the device owned the session at the last comparison.
	StateWatching
	// StateDetected: ownership is lost; the grace timer is running.
	StateDetected
	// StateRedirecting: the grace period ended and revocation is under way.
	StateRedirecting
	StateRevoked
	StateStopped
)

func (s ValidatorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWatching:
		return "watching"
	case StateDetected:
		return "detected"
	case StateRedirecting:
		return "redirecting"
	case StateRevoked:
		return "revoked"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Event reports a validator state transition.
type Event struct {
	State   ValidatorState
	Reason  session.Reason
	Message string
	At      time.Time
}

// Revocation is what the validator calls once the grace period is over.
type Revocation interface {
	Revoke(ctx context.Context, reason session.Reason) error
}

type ValidatorConfig struct {
	PollInterval     time.Duration
	GracePeriod      time.Duration
	ResubscribeDelay time.Duration
}

func (c *ValidatorConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.GracePeriod < 0 {
		c.GracePeriod = 0
	}
	if c.ResubscribeDelay <= 0 {
		c.ResubscribeDelay = 2 * time.Second
	}
}

var warnings = map[session.Reason]string{
	session.ReasonConflict: "Your account was signed in on another device. You will be signed out.",
	session.ReasonExpired:  "Your session is no longer available. You will be signed out.",
}

// Validator watches one authenticated session and revokes it once the
// device's local token stops matching the authority record. Polling and the
// push feed both trigger the same comparison; the feed is optional.
type Validator struct {
	source  AuthoritySource
	feed    ChangeFeed
	storage Storage
	revoker Revocation
	cfg     ValidatorConfig
	logger  *zap.Logger

	mu      sync.Mutex
	state   ValidatorState
	reason  session.Reason
	lastErr error
	cancel  context.CancelFunc
	done    chan struct{}

	events chan Event
}

func NewValidator(source AuthoritySource, feed ChangeFeed, storage Storage, revoker Revocation, cfg ValidatorConfig, logger *zap.Logger) *Validator {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		source:  source,
		feed:    feed,
		storage: storage,
		revoker: revoker,
		cfg:     cfg,
		logger:  logger,
		events:  make(chan Event, 16),
	}
}

// Events delivers state transitions. Slow readers miss events; State is
// always current.
func (v *Validator) Events() <-chan Event {
	return v.events
}

func (v *Validator) State() ValidatorState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Reason is set once ownership is lost.
func (v *Validator) Reason() session.Reason {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.reason
}

// LastError is the most recent read failure, cleared by a successful read.
func (v *Validator) LastError() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastErr
}

// Start runs the validator in its own goroutine.
func (v *Validator) Start(ctx context.Context) {
	ready := make(chan struct{})
	go func() {
		_ = v.run(ctx, ready)
	}()
	<-ready
}

// Run blocks until the session is revoked, Stop is called or ctx ends.
func (v *Validator) Run(ctx context.Context) error {
	return v.run(ctx, nil)
}

// Stop cancels polling, the push subscription and any pending grace timer,
// then waits for the validator to finish. Nothing fires after Stop returns.
func (v *Validator) Stop() {
	v.mu.Lock()
	cancel, done := v.cancel, v.done
	v.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (v *Validator) run(parent context.Context, ready chan<- struct{}) error {
	v.mu.Lock()
	if v.state != StateIdle {
		v.mu.Unlock()
		if ready != nil {
			close(ready)
		}
		return errors.New("validator already started")
	}
	ctx, cancel := context.WithCancel(parent)
	v.cancel = cancel
	v.done = make(chan struct{})
	v.mu.Unlock()
	defer close(v.done)
	defer cancel()

	v.transition(StateWatching, "", "")
	if ready != nil {
		close(ready)
	}

	var wg sync.WaitGroup
	pokes := make(chan struct{}, 1)
	feedCtx, stopFeed := context.WithCancel(ctx)
	defer stopFeed()
	if v.feed != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v.follow(feedCtx, pokes)
		}()
	}
	defer wg.Wait()

	ticker := time.NewTicker(v.cfg.PollInterval)
	defer ticker.Stop()

	// Ownership is decided from local storage before the first tick.
	reason, lost := v.check(ctx)
	for !lost {
		select {
		case <-ctx.Done():
			v.transition(StateStopped, "", "")
			return nil
		case <-ticker.C:
		case <-pokes:
		}
		reason, lost = v.check(ctx)
	}

	// The security decision is made; what follows only delays the redirect.
	ticker.Stop()
	stopFeed()
	v.transition(StateDetected, reason, warnings[reason])

	grace := time.NewTimer(v.cfg.GracePeriod)
	defer grace.Stop()
	select {
	case <-ctx.Done():
		v.transition(StateStopped, reason, "")
		return nil
	case <-grace.C:
	}

	v.transition(StateRedirecting, reason, "")
	err := v.revoker.Revoke(context.WithoutCancel(parent), reason)
	if err != nil {
		v.logger.Error("revocation incomplete", zap.Error(err))
	}
	v.transition(StateRevoked, reason, "")
	return err
}

// check compares the local token with the authority record. A read failure
// is never a mismatch; a refused credential is.
func (v *Validator) check(ctx context.Context) (session.Reason, bool) {
	local := LocalToken(v.storage)
	if local.IsZero() {
		return session.ReasonExpired, true
	}

	readCtx, cancel := context.WithTimeout(ctx, v.cfg.PollInterval)
	defer cancel()

	view, err := v.source.Authority(readCtx)
	switch {
	case err == nil:
	case errors.Is(err, xerrors.ErrRecordNotFound):
		// Local token without a record: the account was reset under us.
		return session.ReasonConflict, true
	case errors.Is(err, xerrors.ErrUnauthorized):
		// The server no longer accepts our credential, so ownership can
		// never be confirmed again.
		return session.ReasonExpired, true
	default:
		if ctx.Err() == nil {
			v.logger.Warn("authority read failed, retrying next tick", zap.Error(err))
			v.setLastErr(err)
		}
		return "", false
	}
	v.setLastErr(nil)

	if !view.OwnedBy(local) {
		return session.ReasonConflict, true
	}
	return "", false
}

// follow keeps a feed subscription open and turns each change into a poke.
// A dropped subscription is reopened after ResubscribeDelay.
func (v *Validator) follow(ctx context.Context, pokes chan<- struct{}) {
	for {
		sub, err := v.feed.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			v.logger.Warn("push subscribe failed, polling only", zap.Error(err))
		} else {
			// A change may have landed while we were not subscribed.
			poke(pokes)
			if v.drain(ctx, sub, pokes) {
				return
			}
			v.logger.Warn("push subscription dropped, polling only",
				zap.Error(xerrors.ErrSubscriptionDrop),
				zap.Duration("resubscribe_in", v.cfg.ResubscribeDelay))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(v.cfg.ResubscribeDelay):
		}
	}
}

// drain reports whether ctx ended; false means the subscription dropped.
func (v *Validator) drain(ctx context.Context, sub session.Subscription, pokes chan<- struct{}) bool {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return true
		case _, ok := <-sub.C():
			if !ok {
				return ctx.Err() != nil
			}
			poke(pokes)
		}
	}
}

func poke(pokes chan<- struct{}) {
	select {
	case pokes <- struct{}{}:
	default:
	}
}

func (v *Validator) setLastErr(err error) {
	v.mu.Lock()
	v.lastErr = err
	v.mu.Unlock()
}

func (v *Validator) transition(state ValidatorState, reason session.Reason, message string) {
	v.mu.Lock()
	v.state = state
	if reason != "" {
		v.reason = reason
	}
	v.mu.Unlock()

	if state == StateDetected {
		v.logger.Warn("session ownership lost", zap.String("reason", string(reason)))
	} else {
		v.logger.Debug("validator state", zap.Stringer("state", state))
	}

	select {
	case v.events <- Event{State: state, Reason: reason, Message: message, At: time.Now()}:
	default:
	}
}
