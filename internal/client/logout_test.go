package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"quantumbulls-session/internal/pkg/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogoutIsNotMistakenForLostSession(t *testing.T) {
	store := session.NewMemoryStore()
	token := signIn(t, store, 1, "laptop")
	a := newDevice(1, token)

	v := a.validator(NewStoreAuthority(store, 1), NewStoreFeed(store, 1),
		ValidatorConfig{PollInterval: 2 * time.Millisecond, ResubscribeDelay: tick})
	v.Start(context.Background())
	require.Eventually(t, func() bool { return store.SubscriberCount(1) == 1 }, waitFor, tick)

	require.NoError(t, Logout(context.Background(), v, a.storage, a.identity))

	assert.Equal(t, StateStopped, v.State())
	assert.True(t, LocalToken(a.storage).IsZero())
	assert.Equal(t, "jwt-"+string(token), <-a.identity.tokens)
	assert.Equal(t, int32(1), a.identity.calls.Load())
	assert.Empty(t, a.redirect.all())
	assert.Eventually(t, func() bool { return store.SubscriberCount(1) == 0 }, waitFor, tick)

	// Give a stray tick the chance to misfire before inspecting events.
	time.Sleep(20 * time.Millisecond)
	for drained := false; !drained; {
		select {
		case ev := <-v.Events():
			assert.NotEqual(t, StateDetected, ev.State)
			assert.NotEqual(t, StateRedirecting, ev.State)
		default:
			drained = true
		}
	}
	assert.Empty(t, a.redirect.all())
}

func TestLogoutWithoutValidator(t *testing.T) {
	storage := NewMemoryStorage(State{AccountID: 1, Token: "tok", AccessToken: "jwt", DeviceID: "dev"})
	identity := newFakeIdentity()
	identity.err = errors.New("identity service down")

	err := Logout(context.Background(), nil, storage, identity)
	require.Error(t, err)

	st, _ := storage.Load()
	assert.Equal(t, State{DeviceID: "dev"}, st)
	assert.Equal(t, "jwt", <-identity.tokens)
}
