package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	wstypes "quantumbulls-session/internal/domain/websocket"
	xerrors "quantumbulls-session/internal/pkg/errors"
	"quantumbulls-session/internal/pkg/session"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// AuthoritySource reads the current record view for the validated account.
type AuthoritySource interface {
	Authority(ctx context.Context) (*session.RecordView, error)
}

// ChangeFeed opens a change subscription for the validated account. The
// subscription's channel closes when the feed drops.
type ChangeFeed interface {
	Subscribe(ctx context.Context) (session.Subscription, error)
}

// StoreAuthority reads straight from a record store, for devices running
// in the same process as the store.
type StoreAuthority struct {
	store     session.Store
	accountID int64
}

func NewStoreAuthority(store session.Store, accountID int64) *StoreAuthority {
	return &StoreAuthority{store: store, accountID: accountID}
}

func (s *StoreAuthority) Authority(ctx context.Context) (*session.RecordView, error) {
	record, err := s.store.Get(ctx, s.accountID)
	if err != nil {
		return nil, err
	}
	view := record.View()
	return &view, nil
}

// StoreFeed subscribes straight to a record store.
type StoreFeed struct {
	store     session.Store
	accountID int64
}

func NewStoreFeed(store session.Store, accountID int64) *StoreFeed {
	return &StoreFeed{store: store, accountID: accountID}
}

func (s *StoreFeed) Subscribe(ctx context.Context) (session.Subscription, error) {
	return s.store.Subscribe(ctx, s.accountID)
}

// PushFeed subscribes through the server's websocket endpoint.
type PushFeed struct {
	api     *API
	storage Storage
	dialer  *websocket.Dialer
	logger  *zap.Logger
}

func NewPushFeed(api *API, storage Storage, logger *zap.Logger) *PushFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PushFeed{
		api:     api,
		storage: storage,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:  logger,
	}
}

func (p *PushFeed) Subscribe(ctx context.Context) (session.Subscription, error) {
	st, err := p.storage.Load()
	if err != nil {
		return nil, err
	}
	if st.AccessToken == "" {
		return nil, fmt.Errorf("%w: no access token", xerrors.ErrUnauthorized)
	}

	conn, _, err := p.dialer.DialContext(ctx, p.api.PushURL(st.AccessToken), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open push channel: %w", err)
	}

	sub := &pushSubscription{
		conn: conn,
		out:  make(chan session.Change, 8),
		done: make(chan struct{}),
	}
	go sub.read(p.logger)
	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

type pushSubscription struct {
	conn *websocket.Conn
	out  chan session.Change
	done chan struct{}
	once sync.Once
}

func (s *pushSubscription) C() <-chan session.Change {
	return s.out
}

func (s *pushSubscription) Close() error {
	var err error
	s.once.Do(func() {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	<-s.done
	return err
}

func (s *pushSubscription) read(logger *zap.Logger) {
	defer close(s.done)
	defer close(s.out)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) &&
				websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("push channel closed", zap.Error(err))
			}
			return
		}

		msg, err := wstypes.ParseMessage(data)
		if err != nil {
			logger.Warn("malformed push message", zap.Error(err))
			continue
		}
		if msg.Type != wstypes.EventTypeSessionChanged {
			continue
		}

		var changed wstypes.SessionChangedData
		if err := msg.Decode(&changed); err != nil {
			logger.Warn("malformed session:changed payload", zap.Error(err))
			continue
		}
		select {
		case s.out <- session.Change{AccountID: changed.AccountID, UpdatedAt: changed.UpdatedAt}:
		default:
		}
	}
}
