package transport

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/babymonitor/internal/util"
)

// sender is a goroutine-based frame writer that serializes all writes to a
// single WebSocket and keeps it alive with pings.
type sender struct {
	conn  *Conn
	inbox chan Frame
}

func newSender(conn *Conn) *sender {
	return &sender{
		conn:  conn,
		inbox: make(chan Frame, outboxSize),
	}
}

// loop is the single-writer goroutine. It exits when the connection closes
// or a write fails.
func (s *sender) loop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	ws := s.conn.ws
	for {
		select {
		case f := <-s.inbox:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(f.Type, f.Data); err != nil {
				util.LogWarning("[%s] write failed: %v", s.conn.id, err)
				s.conn.fail(err)
				return
			}
			util.Stats.AddSent()

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.conn.fail(err)
				return
			}

		case <-s.conn.done:
			return
		}
	}
}

// send enqueues a frame. It blocks while the inbox is full and returns
// ErrConnectionClosed once the connection is done.
func (s *sender) send(f Frame) error {
	select {
	case <-s.conn.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case s.inbox <- f:
		return nil
	case <-s.conn.done:
		return ErrConnectionClosed
	}
}
