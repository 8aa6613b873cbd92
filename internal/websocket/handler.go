// internal/websocket/handler.go
package websocket

import (
	"context"
	"fmt"
	"sync"

	wstypes "quantumbulls-session/internal/domain/websocket"
)

// MessageHandler is implemented by each module that answers client events
type MessageHandler interface {
	// HandleMessage processes messages for this handler's domain
	HandleMessage(ctx context.Context, client *Client, msg *wstypes.WSMessage) error

	// SupportedEvents returns the list of event types this handler supports
	SupportedEvents() []wstypes.EventType
}

// HandlerRegistry maps client events to their handler
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[wstypes.EventType]MessageHandler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[wstypes.EventType]MessageHandler),
	}
}

// Register claims the handler's events. An event already claimed by another
// handler is an error and nothing is registered.
func (r *HandlerRegistry) Register(handler MessageHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := handler.SupportedEvents()
	for _, eventType := range events {
		if _, taken := r.handlers[eventType]; taken {
			return fmt.Errorf("event %q already has a handler", eventType)
		}
	}
	for _, eventType := range events {
		r.handlers[eventType] = handler
	}
	return nil
}

// GetHandler returns the handler for a given event type
func (r *HandlerRegistry) GetHandler(eventType wstypes.EventType) (MessageHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, exists := r.handlers[eventType]
	return handler, exists
}
