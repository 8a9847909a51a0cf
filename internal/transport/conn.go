// Package transport is the WebSocket signaling transport: a server that
// accepts many parent connections and a client that dials one baby device.
// Both sides expose the same duplex Conn.
package transport

import (
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/babymonitor/internal/util"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP blobs stay well below this.
	maxMessageSize = 64 * 1024

	outboxSize = 64 // outgoing frame channel capacity
	framesSize = 64 // incoming frame channel capacity
)

// Frame is one WebSocket message.
type Frame struct {
	Type int // websocket.TextMessage or websocket.BinaryMessage
	Data []byte
}

// TextFrame wraps data as a text frame.
func TextFrame(data []byte) Frame {
	return Frame{Type: websocket.TextMessage, Data: data}
}

// BinaryFrame wraps data as a binary frame.
func BinaryFrame(data []byte) Frame {
	return Frame{Type: websocket.BinaryMessage, Data: data}
}

// Conn is one signaling connection. Frames are delivered in the order the
// peer sent them; a closed Conn cannot be reopened.
type Conn struct {
	id     string
	ws     *websocket.Conn
	sender *sender
	frames chan Frame

	done      chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

func newConn(ws *websocket.Conn) *Conn {
	c := &Conn{
		id:     util.ConnIDFromAddrs(ws.LocalAddr(), ws.RemoteAddr()),
		ws:     ws,
		frames: make(chan Frame, framesSize),
		done:   make(chan struct{}),
	}
	c.sender = newSender(c)

	util.Stats.AddConn()

	go c.readLoop()
	go c.sender.loop()

	return c
}

// ID identifies the connection by its address 4-tuple.
func (c *Conn) ID() string { return c.id }

// RemoteAddr returns the peer's network address.
func (c *Conn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

// Frames returns the inbound frame stream. It is closed when the connection closes.
func (c *Conn) Frames() <-chan Frame { return c.frames }

// Done returns a channel that is closed when the connection is shut down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the error that closed the connection, if any.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Send enqueues a frame for transmission. It returns ErrConnectionClosed
// once the connection is closed and never blocks past that point.
func (c *Conn) Send(f Frame) error {
	return c.sender.send(f)
}

// SendText enqueues a text frame.
func (c *Conn) SendText(data []byte) error {
	return c.Send(TextFrame(data))
}

// Close sends a close frame and shuts the connection down. Safe to call
// multiple times.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		// WriteControl may run concurrently with the sender loop.
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		err = c.ws.Close()
		util.Stats.RemoveConn()
	})
	return err
}

// fail records the first error and closes the connection.
func (c *Conn) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.Close()
}

// readLoop is the single reader of the WebSocket. It exits when the
// connection errors or is closed, closing the frame stream.
func (c *Conn) readLoop() {
	defer close(c.frames)

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					util.LogWarning("[%s] read failed: %v", c.id, err)
				}
				c.fail(err)
			}
			return
		}
		util.Stats.AddRecv()

		select {
		case c.frames <- Frame{Type: typ, Data: data}:
		case <-c.done:
			return
		}
	}
}
