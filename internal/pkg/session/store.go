package session

import (
	"context"
)

// Store holds one AuthorityRecord per account.
//
// Put is an unconditional overwrite that becomes visible to every Get issued
// after it returns, and it notifies subscribers of that account.
type Store interface {
	Get(ctx context.Context, accountID int64) (*AuthorityRecord, error)
	Put(ctx context.Context, record *AuthorityRecord) error
	Subscribe(ctx context.Context, accountID int64) (Subscription, error)
}

// Subscription delivers change notifications for one account. C is closed
// when the subscription ends, either through Close or because the underlying
// transport dropped.
type Subscription interface {
	C() <-chan Change
	Close() error
}

// subscriptionBuffer bounds how many undelivered changes a slow subscriber
// can accumulate. A change only means "re-fetch", so dropping extras is fine.
const subscriptionBuffer = 8

// offer delivers c without blocking; a full buffer already has a pending
// re-fetch signal.
func offer(ch chan Change, c Change) {
	select {
	case ch <- c:
	default:
	}
}
