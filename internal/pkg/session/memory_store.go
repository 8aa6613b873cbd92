package session

import (
	"context"
	"fmt"
	"sync"

	xerrors "quantumbulls-session/internal/pkg/errors"
)

// MemoryStore is a process-local Store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[int64]AuthorityRecord
	subs    map[int64]map[*memorySubscription]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[int64]AuthorityRecord),
		subs:    make(map[int64]map[*memorySubscription]struct{}),
	}
}

func (s *MemoryStore) Get(_ context.Context, accountID int64) (*AuthorityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[accountID]
	if !ok {
		return nil, xerrors.ErrRecordNotFound
	}
	return &record, nil
}

func (s *MemoryStore) Put(ctx context.Context, record *AuthorityRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", xerrors.ErrRecordWrite, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[record.AccountID] = *record
	change := Change{AccountID: record.AccountID, UpdatedAt: record.UpdatedAt}
	for sub := range s.subs[record.AccountID] {
		offer(sub.out, change)
	}
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, accountID int64) (Subscription, error) {
	sub := &memorySubscription{
		store:     s,
		accountID: accountID,
		out:       make(chan Change, subscriptionBuffer),
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	if s.subs[accountID] == nil {
		s.subs[accountID] = make(map[*memorySubscription]struct{})
	}
	s.subs[accountID][sub] = struct{}{}
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Delete removes the account's record without notifying anyone, the way an
// out-of-band account reset would.
func (s *MemoryStore) Delete(accountID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, accountID)
}

// DropSubscriptions closes every open subscription for the account as if the
// transport had disconnected.
func (s *MemoryStore) DropSubscriptions(accountID int64) {
	s.mu.Lock()
	subs := s.subs[accountID]
	delete(s.subs, accountID)
	s.mu.Unlock()

	for sub := range subs {
		sub.closeChannel()
	}
}

// SubscriberCount reports how many subscriptions are open for the account.
func (s *MemoryStore) SubscriberCount(accountID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs[accountID])
}

type memorySubscription struct {
	store     *MemoryStore
	accountID int64
	out       chan Change
	done      chan struct{}
	once      sync.Once
}

func (s *memorySubscription) C() <-chan Change {
	return s.out
}

func (s *memorySubscription) Close() error {
	s.store.mu.Lock()
	if subs, ok := s.store.subs[s.accountID]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.store.subs, s.accountID)
		}
	}
	s.store.mu.Unlock()

	s.closeChannel()
	return nil
}

func (s *memorySubscription) closeChannel() {
	s.once.Do(func() {
		close(s.out)
		close(s.done)
	})
}
