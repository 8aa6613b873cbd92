package session

import (
	"context"
	"runtime"
	"testing"
	"time"

	xerrors "quantumbulls-session/internal/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreGetPut(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Get(ctx, 1)
	require.ErrorIs(t, err, xerrors.ErrRecordNotFound)

	tok, _ := NewToken()
	require.NoError(t, store.Put(ctx, &AuthorityRecord{AccountID: 1, ActiveToken: tok, UpdatedAt: time.Now()}))

	got, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, got.ActiveToken.Equal(tok))

	got.ActiveToken = "mutated"
	again, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, again.ActiveToken.Equal(tok), "Get must return a copy")
}

func TestMemoryStoreNotifiesOnlyThatAccount(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	subA, err := store.Subscribe(ctx, 1)
	require.NoError(t, err)
	defer subA.Close()
	subB, err := store.Subscribe(ctx, 2)
	require.NoError(t, err)
	defer subB.Close()

	require.NoError(t, store.Put(ctx, &AuthorityRecord{AccountID: 1, ActiveToken: "t"}))

	select {
	case change := <-subA.C():
		assert.Equal(t, int64(1), change.AccountID)
	case <-time.After(time.Second):
		t.Fatal("expected change for account 1")
	}

	select {
	case change := <-subB.C():
		t.Fatalf("unexpected change for account 2: %+v", change)
	default:
	}
}

func TestMemoryStoreDropClosesSubscriptions(t *testing.T) {
	store := NewMemoryStore()
	sub, err := store.Subscribe(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, 1, store.SubscriberCount(5))

	store.DropSubscriptions(5)

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.Equal(t, 0, store.SubscriberCount(5))
	assert.NoError(t, sub.Close())
}

func TestMemoryStoreContextEndsSubscription(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := store.Subscribe(ctx, 9)
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-sub.C():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after context cancel")
	}
	assert.Eventually(t, func() bool { return store.SubscriberCount(9) == 0 }, time.Second, 10*time.Millisecond)
}

func TestMemoryStoreCloseReleasesWatcher(t *testing.T) {
	store := NewMemoryStore()
	before := runtime.NumGoroutine()

	for i := 0; i < 50; i++ {
		sub, err := store.Subscribe(context.Background(), 11)
		require.NoError(t, err)
		require.NoError(t, sub.Close())
	}

	assert.Equal(t, 0, store.SubscriberCount(11))
	assert.Eventually(t, func() bool { return runtime.NumGoroutine() <= before }, time.Second, 10*time.Millisecond)
}
