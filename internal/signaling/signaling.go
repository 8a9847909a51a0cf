// Package signaling runs the SDP/ICE exchange for both roles: the baby
// device answers offers from any number of parents, the parent offers to
// one baby. Negotiation state lives in one session per connection.
package signaling

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/babymonitor/internal/transport"
)

var (
	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("signaling: session closed")

	// ErrNotConnected is returned when the parent has no signaling connection.
	ErrNotConnected = errors.New("signaling: not connected")
)

// Conn is the signaling connection a session owns. *transport.Conn
// satisfies it.
type Conn interface {
	ID() string
	Frames() <-chan transport.Frame
	SendText(data []byte) error
	Done() <-chan struct{}
	Close() error
}

var _ Conn = (*transport.Conn)(nil)

// State is the negotiation state of one session.
type State int

const (
	StateNew State = iota
	StateNegotiating
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// stateFromPeer maps the connectivity states a session reacts to.
func stateFromPeer(ps webrtc.PeerConnectionState) (State, bool) {
	switch ps {
	case webrtc.PeerConnectionStateConnected:
		return StateConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return StateDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return StateFailed, true
	default:
		return 0, false
	}
}
