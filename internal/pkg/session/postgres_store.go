package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	xerrors "quantumbulls-session/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// NotifyChannel is the LISTEN/NOTIFY channel that carries authority changes.
const NotifyChannel = "session_authority_changed"

// PostgresStore keeps authority records in the session_authority table, one
// row per account, and announces writes with pg_notify.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger

	mu       sync.Mutex
	subs     map[int64]map[*postgresSubscription]struct{}
	listener *pgListener
}

func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{
		pool:   pool,
		logger: logger,
		subs:   make(map[int64]map[*postgresSubscription]struct{}),
	}
}

func (s *PostgresStore) Get(ctx context.Context, accountID int64) (*AuthorityRecord, error) {
	query := `
		SELECT account_id, active_token, updated_at, device, location
		FROM session_authority
		WHERE account_id = $1
	`

	var (
		record   AuthorityRecord
		token    string
		device   []byte
		location []byte
	)
	err := s.pool.QueryRow(ctx, query, accountID).Scan(
		&record.AccountID, &token, &record.UpdatedAt, &device, &location,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrRecordRead, err)
	}

	record.ActiveToken = Token(token)
	if len(device) > 0 {
		if err := json.Unmarshal(device, &record.Device); err != nil {
			return nil, fmt.Errorf("%w: bad device column: %v", xerrors.ErrRecordRead, err)
		}
	}
	if len(location) > 0 {
		if err := json.Unmarshal(location, &record.Location); err != nil {
			return nil, fmt.Errorf("%w: bad location column: %v", xerrors.ErrRecordRead, err)
		}
	}
	return &record, nil
}

// Put upserts the row and notifies listeners in a single statement.
func (s *PostgresStore) Put(ctx context.Context, record *AuthorityRecord) error {
	device, err := json.Marshal(record.Device)
	if err != nil {
		return fmt.Errorf("%w: %v", xerrors.ErrRecordWrite, err)
	}
	location, err := json.Marshal(record.Location)
	if err != nil {
		return fmt.Errorf("%w: %v", xerrors.ErrRecordWrite, err)
	}
	payload, err := json.Marshal(Change{AccountID: record.AccountID, UpdatedAt: record.UpdatedAt})
	if err != nil {
		return fmt.Errorf("%w: %v", xerrors.ErrRecordWrite, err)
	}

	query := `
		WITH up AS (
			INSERT INTO session_authority (account_id, active_token, updated_at, device, location)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (account_id) DO UPDATE
			SET active_token = EXCLUDED.active_token,
			    updated_at   = EXCLUDED.updated_at,
			    device       = EXCLUDED.device,
			    location     = EXCLUDED.location
			RETURNING account_id
		)
		SELECT pg_notify($6, $7) FROM up
	`
	_, err = s.pool.Exec(ctx, query,
		record.AccountID, string(record.ActiveToken), record.UpdatedAt, device, location,
		NotifyChannel, string(payload),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", xerrors.ErrRecordWrite, err)
	}
	return nil
}

// Subscribe registers interest in one account. All subscriptions share a
// single LISTEN connection that is opened by the first subscriber and
// released when the last one closes.
func (s *PostgresStore) Subscribe(ctx context.Context, accountID int64) (Subscription, error) {
	sub := &postgresSubscription{
		store:     s,
		accountID: accountID,
		out:       make(chan Change, subscriptionBuffer),
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	if s.subs[accountID] == nil {
		s.subs[accountID] = make(map[*postgresSubscription]struct{})
	}
	s.subs[accountID][sub] = struct{}{}
	l := s.listener
	if l == nil {
		l = newPgListener()
		s.listener = l
		go s.listen(l)
	}
	s.mu.Unlock()

	select {
	case <-l.ready:
		if l.err != nil {
			_ = sub.Close()
			return nil, l.err
		}
	case <-ctx.Done():
		_ = sub.Close()
		return nil, fmt.Errorf("failed to listen for authority changes: %w", ctx.Err())
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Close stops the listener and closes every open subscription.
func (s *PostgresStore) Close() error {
	s.mu.Lock()
	l := s.listener
	s.listener = nil
	subs := s.subs
	s.subs = make(map[int64]map[*postgresSubscription]struct{})
	s.mu.Unlock()

	for _, set := range subs {
		for sub := range set {
			sub.closeChannel()
		}
	}
	if l != nil {
		l.stop()
	}
	return nil
}

// pgListener is one LISTEN connection's lifetime.
type pgListener struct {
	ctx    context.Context
	cancel context.CancelFunc
	ready  chan struct{}
	done   chan struct{}
	err    error
}

func newPgListener() *pgListener {
	ctx, cancel := context.WithCancel(context.Background())
	return &pgListener{
		ctx:    ctx,
		cancel: cancel,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (l *pgListener) stop() {
	l.cancel()
	<-l.done
}

func (s *PostgresStore) listen(l *pgListener) {
	defer close(l.done)

	conn, err := s.pool.Acquire(l.ctx)
	if err == nil {
		if _, err = conn.Exec(l.ctx, "LISTEN "+pq.QuoteIdentifier(NotifyChannel)); err != nil {
			conn.Release()
		}
	}
	if err != nil {
		l.err = fmt.Errorf("failed to listen for authority changes: %w", err)
		close(l.ready)
		s.drop(l)
		return
	}
	close(l.ready)

	for {
		n, err := conn.Conn().WaitForNotification(l.ctx)
		if err != nil {
			if l.ctx.Err() != nil {
				// Stopped: leave the connection clean for the pool.
				_, _ = conn.Exec(context.Background(), "UNLISTEN "+pq.QuoteIdentifier(NotifyChannel))
				conn.Release()
				return
			}
			s.logger.Warn("authority listen connection dropped", zap.Error(err))
			_ = conn.Conn().Close(context.Background())
			conn.Release()
			s.drop(l)
			return
		}

		var change Change
		if err := json.Unmarshal([]byte(n.Payload), &change); err != nil {
			s.logger.Warn("malformed authority notification", zap.String("payload", n.Payload), zap.Error(err))
			continue
		}
		s.deliver(change)
	}
}

func (s *PostgresStore) deliver(change Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs[change.AccountID] {
		offer(sub.out, change)
	}
}

// drop closes every subscription served by a failed listener so their owners
// resubscribe, which opens a fresh one.
func (s *PostgresStore) drop(l *pgListener) {
	s.mu.Lock()
	if s.listener != l {
		s.mu.Unlock()
		return
	}
	s.listener = nil
	subs := s.subs
	s.subs = make(map[int64]map[*postgresSubscription]struct{})
	s.mu.Unlock()

	for _, set := range subs {
		for sub := range set {
			sub.closeChannel()
		}
	}
}

type postgresSubscription struct {
	store     *PostgresStore
	accountID int64
	out       chan Change
	done      chan struct{}
	once      sync.Once
}

func (s *postgresSubscription) C() <-chan Change {
	return s.out
}

func (s *postgresSubscription) Close() error {
	store := s.store
	var idle *pgListener

	store.mu.Lock()
	if subs, ok := store.subs[s.accountID]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(store.subs, s.accountID)
		}
	}
	if len(store.subs) == 0 && store.listener != nil {
		idle = store.listener
		store.listener = nil
	}
	store.mu.Unlock()

	s.closeChannel()
	if idle != nil {
		idle.stop()
	}
	return nil
}

func (s *postgresSubscription) closeChannel() {
	s.once.Do(func() {
		close(s.out)
		close(s.done)
	})
}
