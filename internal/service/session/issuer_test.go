package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	xerrors "quantumbulls-session/internal/pkg/errors"
	"quantumbulls-session/internal/pkg/metrics"
	sess "quantumbulls-session/internal/pkg/session"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore fails reads or writes on demand and otherwise delegates.
type failingStore struct {
	sess.Store
	getErr error
	putErr error
}

func (f *failingStore) Get(ctx context.Context, accountID int64) (*sess.AuthorityRecord, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.Store.Get(ctx, accountID)
}

func (f *failingStore) Put(ctx context.Context, record *sess.AuthorityRecord) error {
	if f.putErr != nil {
		return f.putErr
	}
	return f.Store.Put(ctx, record)
}

var laptop = IssueOptions{
	Device:   sess.DeviceInfo{ID: "dev-a", Type: "desktop", Name: "Laptop"},
	Location: sess.LocationInfo{IP: "10.0.0.1", City: "Nairobi", Country: "KE"},
}

func TestIssueWritesFirstRecord(t *testing.T) {
	store := sess.NewMemoryStore()
	m := metrics.New()
	issuer := NewIssuer(store, m, nil)
	ctx := context.Background()

	res, err := issuer.Issue(ctx, 7, laptop)
	require.NoError(t, err)
	require.False(t, res.Conflict())
	require.False(t, res.Token.IsZero())

	got, err := store.Get(ctx, 7)
	require.NoError(t, err)
	assert.True(t, got.ActiveToken.Equal(res.Token))
	assert.Equal(t, "Laptop", got.Device.Name)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SessionsIssued.WithLabelValues("false")))
}

func TestIssueReportsPriorWithoutWriting(t *testing.T) {
	store := sess.NewMemoryStore()
	m := metrics.New()
	issuer := NewIssuer(store, m, nil)
	ctx := context.Background()

	first, err := issuer.Issue(ctx, 7, laptop)
	require.NoError(t, err)

	phone := IssueOptions{Device: sess.DeviceInfo{ID: "dev-b", Type: "mobile", Name: "Phone"}}
	res, err := issuer.Issue(ctx, 7, phone)
	require.NoError(t, err)
	require.True(t, res.Conflict())
	assert.Equal(t, "Laptop", res.Prior.Device.Name)
	assert.Equal(t, "Nairobi", res.Prior.Location.City)
	assert.True(t, res.Prior.OwnedBy(first.Token))

	got, err := store.Get(ctx, 7)
	require.NoError(t, err)
	assert.True(t, got.ActiveToken.Equal(first.Token), "conflict must not touch the record")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SessionConflicts))
}

func TestIssueOverrideReplacesHolder(t *testing.T) {
	store := sess.NewMemoryStore()
	issuer := NewIssuer(store, nil, nil)
	ctx := context.Background()

	first, err := issuer.Issue(ctx, 7, laptop)
	require.NoError(t, err)

	second, err := issuer.Issue(ctx, 7, IssueOptions{Override: true})
	require.NoError(t, err)
	require.False(t, second.Conflict())
	assert.False(t, second.Token.Equal(first.Token))

	active, err := issuer.IsActive(ctx, 7, first.Token)
	require.NoError(t, err)
	assert.False(t, active)

	active, err = issuer.IsActive(ctx, 7, second.Token)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestIssueReadFailureLeavesRecord(t *testing.T) {
	base := sess.NewMemoryStore()
	m := metrics.New()
	ctx := context.Background()

	first, err := NewIssuer(base, nil, nil).Issue(ctx, 7, laptop)
	require.NoError(t, err)

	issuer := NewIssuer(&failingStore{Store: base, getErr: xerrors.ErrRecordRead}, m, nil)
	_, err = issuer.Issue(ctx, 7, IssueOptions{})
	require.ErrorIs(t, err, xerrors.ErrRecordRead)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.IssueFailures.WithLabelValues("read")))

	got, err := base.Get(ctx, 7)
	require.NoError(t, err)
	assert.True(t, got.ActiveToken.Equal(first.Token))
}

func TestIssueWriteFailureIsRecordWrite(t *testing.T) {
	base := sess.NewMemoryStore()
	ctx := context.Background()

	first, err := NewIssuer(base, nil, nil).Issue(ctx, 7, laptop)
	require.NoError(t, err)

	issuer := NewIssuer(&failingStore{Store: base, putErr: errors.New("disk full")}, nil, nil)
	_, err = issuer.Issue(ctx, 7, IssueOptions{Override: true})
	require.ErrorIs(t, err, xerrors.ErrRecordWrite)

	got, err := base.Get(ctx, 7)
	require.NoError(t, err)
	assert.True(t, got.ActiveToken.Equal(first.Token), "prior record stays authoritative")
}

func TestIssueRejectsUnknownAccount(t *testing.T) {
	_, err := NewIssuer(sess.NewMemoryStore(), nil, nil).Issue(context.Background(), 0, laptop)
	require.ErrorIs(t, err, xerrors.ErrInvalidInput)
}

func TestAuthorityView(t *testing.T) {
	store := sess.NewMemoryStore()
	issuer := NewIssuer(store, nil, nil)
	ctx := context.Background()

	_, err := issuer.Authority(ctx, 7)
	require.ErrorIs(t, err, xerrors.ErrRecordNotFound)

	res, err := issuer.Issue(ctx, 7, laptop)
	require.NoError(t, err)

	view, err := issuer.Authority(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, res.Token.Digest(), view.TokenDigest)
	assert.NotContains(t, view.TokenDigest, string(res.Token))
}

// Two overrides racing on the same account: exactly one token survives and
// the other holder finds itself inactive.
func TestConcurrentOverridesLastWriterWins(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	issuer := NewIssuer(sess.NewRedisStore(rdb, "authority", nil), nil, nil)
	ctx := context.Background()

	const racers = 2
	tokens := make([]sess.Token, racers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for n := 0; n < racers; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			<-start
			res, err := issuer.Issue(ctx, 99, IssueOptions{Override: true})
			if assert.NoError(t, err) {
				tokens[n] = res.Token
			}
		}(n)
	}
	close(start)
	wg.Wait()

	owners := 0
	for _, tok := range tokens {
		active, err := issuer.IsActive(ctx, 99, tok)
		require.NoError(t, err)
		if active {
			owners++
		}
	}
	assert.Equal(t, 1, owners)
}
