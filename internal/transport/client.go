package transport

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
)

// Dial connects to a baby device at url (ws://<host>:<port>) and returns
// the connection.
func Dial(ctx context.Context, url string) (*Conn, error) {
	dialer := websocket.DefaultDialer
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WS server %s: %w", url, err)
	}
	return newConn(ws), nil
}
