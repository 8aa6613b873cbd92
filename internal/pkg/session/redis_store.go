package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	xerrors "quantumbulls-session/internal/pkg/errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore keeps authority records as JSON strings and announces writes
// on a per-account pub/sub channel.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

func NewRedisStore(client *redis.Client, prefix string, logger *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = "authority"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, prefix: prefix, logger: logger}
}

// Get returns the account's record or ErrRecordNotFound.
func (s *RedisStore) Get(ctx context.Context, accountID int64) (*AuthorityRecord, error) {
	data, err := s.client.Get(ctx, s.recordKey(accountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, xerrors.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrRecordRead, err)
	}

	var record AuthorityRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal record: %v", xerrors.ErrRecordRead, err)
	}
	return &record, nil
}

// Put overwrites the record and publishes the change in one MULTI/EXEC, so a
// subscriber that hears about the change always reads the new value.
func (s *RedisStore) Put(ctx context.Context, record *AuthorityRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal record: %v", xerrors.ErrRecordWrite, err)
	}
	change, err := json.Marshal(Change{AccountID: record.AccountID, UpdatedAt: record.UpdatedAt})
	if err != nil {
		return fmt.Errorf("%w: failed to marshal change: %v", xerrors.ErrRecordWrite, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(record.AccountID), data, 0)
		pipe.Publish(ctx, s.channel(record.AccountID), change)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", xerrors.ErrRecordWrite, err)
	}
	return nil
}

// Subscribe listens on the account's channel. The subscription is confirmed
// before Subscribe returns, so no write issued afterwards is missed.
func (s *RedisStore) Subscribe(ctx context.Context, accountID int64) (Subscription, error) {
	pubsub := s.client.Subscribe(ctx, s.channel(accountID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to authority changes: %w", err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan Change, subscriptionBuffer),
		done:   make(chan struct{}),
	}
	go sub.pump(accountID, s.logger)
	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

func (s *RedisStore) recordKey(accountID int64) string {
	return fmt.Sprintf("%s:%d", s.prefix, accountID)
}

func (s *RedisStore) channel(accountID int64) string {
	return fmt.Sprintf("%s:changed:%d", s.prefix, accountID)
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan Change
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) C() <-chan Change {
	return s.out
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}

func (s *redisSubscription) pump(accountID int64, logger *zap.Logger) {
	defer close(s.out)
	for msg := range s.pubsub.Channel() {
		var change Change
		if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
			logger.Warn("malformed authority change payload",
				zap.Int64("account_id", accountID),
				zap.Error(err),
			)
			change = Change{AccountID: accountID}
		}
		offer(s.out, change)
	}
}
