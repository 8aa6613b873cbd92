// internal/websocket/hub.go
package websocket

import (
	"context"
	"sync"
	"time"

	wstypes "quantumbulls-session/internal/domain/websocket"
	"quantumbulls-session/internal/pkg/metrics"
	"quantumbulls-session/internal/pkg/session"

	"go.uber.org/zap"
)

const defaultResubscribeDelay = 2 * time.Second

type Hub struct {
	// Registered clients by account ID
	clients map[int64]map[*Client]bool
	mu      sync.RWMutex

	// One store subscription per account with at least one client
	relays map[int64]context.CancelFunc

	// Registration/unregistration
	Register   chan *Client
	unregister chan *Client

	// Broadcasting
	broadcast chan *BroadcastMessage

	// Handler registry for modular message handling
	handlerRegistry *HandlerRegistry

	store            session.Store
	resubscribeDelay time.Duration
	metrics          *metrics.Metrics
	logger           *zap.Logger

	ctx  context.Context
	done chan struct{}
}

type BroadcastMessage struct {
	AccountIDs []int64
	Message    *wstypes.WSMessage
}

func NewHub(store session.Store, m *metrics.Metrics, logger *zap.Logger, resubscribeDelay time.Duration) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	if resubscribeDelay <= 0 {
		resubscribeDelay = defaultResubscribeDelay
	}
	return &Hub{
		clients:          make(map[int64]map[*Client]bool),
		relays:           make(map[int64]context.CancelFunc),
		Register:         make(chan *Client),
		unregister:       make(chan *Client),
		broadcast:        make(chan *BroadcastMessage, 256),
		handlerRegistry:  NewHandlerRegistry(),
		store:            store,
		resubscribeDelay: resubscribeDelay,
		metrics:          m,
		logger:           logger,
		ctx:              context.Background(),
		done:             make(chan struct{}),
	}
}

// RegisterHandler registers a message handler
func (h *Hub) RegisterHandler(handler MessageHandler) error {
	return h.handlerRegistry.Register(handler)
}

// HandleClientMessage processes a message from a client using registered handlers.
// It reports whether a handler took the message.
func (h *Hub) HandleClientMessage(ctx context.Context, client *Client, msg *wstypes.WSMessage) (bool, error) {
	handler, exists := h.handlerRegistry.GetHandler(msg.Type)
	if !exists {
		return false, nil
	}
	return true, handler.HandleMessage(ctx, client, msg)
}

func (h *Hub) Run(ctx context.Context) {
	h.mu.Lock()
	h.ctx = ctx
	h.mu.Unlock()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.BroadcastMessage(msg)
		}
	}
}

// remove asks the hub to drop client without blocking once the hub stopped.
func (h *Hub) remove(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.accountID] == nil {
		h.clients[client.accountID] = make(map[*Client]bool)
		h.startRelay(client.accountID)
	}
	h.clients[client.accountID][client] = true
	h.metrics.PushConnections.Inc()

	h.logger.Info("websocket client connected",
		zap.Int64("account_id", client.accountID),
		zap.String("device_id", client.deviceID),
		zap.Int("total", h.totalClients()),
	)

	client.SendMessage(wstypes.NewMessage(wstypes.EventTypeConnected, wstypes.ConnectedData{
		AccountID: client.accountID,
		DeviceID:  client.deviceID,
	}))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.clients[client.accountID]; ok {
		if _, exists := clients[client]; exists {
			delete(clients, client)
			client.Close()
			h.metrics.PushConnections.Dec()

			if len(clients) == 0 {
				delete(h.clients, client.accountID)
				h.stopRelay(client.accountID)
			}

			h.logger.Info("websocket client disconnected",
				zap.Int64("account_id", client.accountID),
				zap.String("device_id", client.deviceID),
				zap.Int("total", h.totalClients()),
			)
		}
	}
}

// startRelay must be called with h.mu held.
func (h *Hub) startRelay(accountID int64) {
	if _, running := h.relays[accountID]; running {
		return
	}
	ctx, cancel := context.WithCancel(h.ctx)
	h.relays[accountID] = cancel
	h.metrics.PushSubscribed.Inc()
	go h.relay(ctx, accountID)
}

// stopRelay must be called with h.mu held.
func (h *Hub) stopRelay(accountID int64) {
	if cancel, running := h.relays[accountID]; running {
		cancel()
		delete(h.relays, accountID)
		h.metrics.PushSubscribed.Dec()
	}
}

// relay forwards store change notifications for one account to its clients,
// resubscribing after a drop until ctx ends.
func (h *Hub) relay(ctx context.Context, accountID int64) {
	log := h.logger.With(zap.Int64("account_id", accountID))

	for {
		sub, err := h.store.Subscribe(ctx, accountID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("authority subscribe failed", zap.Error(err))
		} else if h.pump(ctx, sub, accountID) {
			return
		} else {
			log.Warn("authority subscription dropped, resubscribing",
				zap.Duration("delay", h.resubscribeDelay))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(h.resubscribeDelay):
		}
	}
}

// pump drains sub until it closes or ctx ends; it reports whether ctx ended.
func (h *Hub) pump(ctx context.Context, sub session.Subscription, accountID int64) bool {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return true
		case change, ok := <-sub.C():
			if !ok {
				return ctx.Err() != nil
			}
			h.metrics.ChangesRelayed.Inc()
			h.SessionChanged(change)
		}
	}
}

func (h *Hub) BroadcastMessage(msg *BroadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, accountID := range msg.AccountIDs {
		for client := range h.clients[accountID] {
			client.SendMessage(msg.Message)
		}
	}
}

// SessionChanged queues a session:changed event for the account's clients.
func (h *Hub) SessionChanged(change session.Change) {
	msg := wstypes.NewMessage(wstypes.EventTypeSessionChanged, wstypes.SessionChangedData{
		AccountID: change.AccountID,
		UpdatedAt: change.UpdatedAt,
	})
	select {
	case h.broadcast <- &BroadcastMessage{AccountIDs: []int64{change.AccountID}, Message: msg}:
	case <-h.done:
	}
}

func (h *Hub) GetConnectedClients(accountID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[accountID])
}

func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.totalClients()
}

// IsRelaying reports whether the hub holds a store subscription for the account.
func (h *Hub) IsRelaying(accountID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.relays[accountID]
	return ok
}

func (h *Hub) totalClients() int {
	total := 0
	for _, clients := range h.clients {
		total += len(clients)
	}
	return total
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for accountID, clients := range h.clients {
		for client := range clients {
			client.SendMessage(wstypes.NewMessage(wstypes.EventTypeDisconnected, nil))
			client.Close()
		}
		h.stopRelay(accountID)
	}
	h.clients = make(map[int64]map[*Client]bool)
}
