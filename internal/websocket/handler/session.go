// internal/websocket/handler/session.go
package handlers

import (
	"context"
	"errors"
	"fmt"

	wstypes "quantumbulls-session/internal/domain/websocket"
	xerrors "quantumbulls-session/internal/pkg/errors"
	"quantumbulls-session/internal/pkg/session"
	ws "quantumbulls-session/internal/websocket"
)

// AuthorityReader returns the client view of an account's authority record.
type AuthorityReader interface {
	Authority(ctx context.Context, accountID int64) (*session.RecordView, error)
}

type SessionHandler struct {
	authority AuthorityReader
}

func NewSessionHandler(authority AuthorityReader) *SessionHandler {
	return &SessionHandler{authority: authority}
}

// SupportedEvents returns events this handler supports
func (h *SessionHandler) SupportedEvents() []wstypes.EventType {
	return []wstypes.EventType{
		wstypes.EventTypeSessionCheck,
	}
}

// HandleMessage answers session:check with the caller's current record.
func (h *SessionHandler) HandleMessage(ctx context.Context, client *ws.Client, msg *wstypes.WSMessage) error {
	if msg.Type != wstypes.EventTypeSessionCheck {
		return fmt.Errorf("%w: %s", ws.ErrUnsupportedEvent, msg.Type)
	}

	status := wstypes.SessionStatusData{}
	view, err := h.authority.Authority(ctx, client.GetAccountID())
	switch {
	case err == nil:
		status.Found = true
		status.Record = view
	case errors.Is(err, xerrors.ErrRecordNotFound):
	default:
		return err
	}

	reply := wstypes.NewMessage(wstypes.EventTypeSessionStatus, status)
	reply.Metadata = map[string]interface{}{"reply_to": msg.ID}
	client.SendMessage(reply)
	return nil
}
