package signaling

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/babymonitor/internal/protocol"
	"github.com/1ureka/babymonitor/internal/util"
	rtc "github.com/1ureka/babymonitor/internal/webrtc"
)

// sender serializes outgoing signaling messages onto one connection.
// Local candidates are held back until the local description has been
// sent, and candidates from a replaced peer connection are dropped.
type sender struct {
	conn Conn

	mu      sync.Mutex
	owner   rtc.PeerConnection
	ready   bool
	pending []protocol.Message
}

func newSender(conn Conn) *sender {
	return &sender{conn: conn}
}

// reset binds the sender to a new peer connection.
func (s *sender) reset(owner rtc.PeerConnection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owner = owner
	s.ready = false
	s.pending = nil
}

func (s *sender) send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return s.conn.SendText(data)
}

// sendDescription sends the local offer or answer, then any candidates
// gathered while it was being created.
func (s *sender) sendDescription(owner rtc.PeerConnection, desc webrtc.SessionDescription) error {
	msg, err := protocol.FromSessionDescription(desc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if owner != s.owner {
		return nil
	}
	if err := s.send(msg); err != nil {
		return err
	}

	s.ready = true
	for _, c := range s.pending {
		if err := s.send(c); err != nil {
			util.LogDebug("[%s] dropping candidate: %v", s.conn.ID(), err)
		}
	}
	s.pending = nil
	return nil
}

// sendCandidate trickles one local candidate. A nil candidate marks the
// end of gathering and is not sent.
func (s *sender) sendCandidate(owner rtc.PeerConnection, c *webrtc.ICECandidate) {
	if c == nil {
		return
	}
	msg := protocol.NewCandidate(c.ToJSON())

	s.mu.Lock()
	defer s.mu.Unlock()
	if owner != s.owner {
		return
	}
	if !s.ready {
		s.pending = append(s.pending, msg)
		return
	}
	if err := s.send(msg); err != nil {
		util.LogDebug("[%s] dropping candidate: %v", s.conn.ID(), err)
	}
}
