// internal/websocket/errors.go
package websocket

import "errors"

var (
	ErrUnsupportedEvent = errors.New("unsupported event type")
)
