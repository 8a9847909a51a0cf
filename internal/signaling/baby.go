package signaling

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/babymonitor/internal/protocol"
	"github.com/1ureka/babymonitor/internal/transport"
	"github.com/1ureka/babymonitor/internal/util"
	rtc "github.com/1ureka/babymonitor/internal/webrtc"
)

// BabyConfig configures the baby-side session registry.
type BabyConfig struct {
	// Factory creates one PeerConnection per negotiation.
	Factory rtc.Factory

	// Source supplies the local tracks attached before every answer.
	Source rtc.MediaSource

	// Codec decodes inbound frames. Nil uses protocol.NewCodec().
	Codec *protocol.Codec

	// OnStateChange, if set, observes every session state transition.
	OnStateChange func(id string, state State)
}

// Baby keeps one independent BabySession per parent connection, keyed by
// connection id.
type Baby struct {
	config BabyConfig

	mu       sync.Mutex
	sessions map[string]*BabySession
	closed   bool
	wg       sync.WaitGroup
}

// NewBaby creates an empty registry.
func NewBaby(config BabyConfig) *Baby {
	if config.Codec == nil {
		config.Codec = protocol.NewCodec()
	}
	return &Baby{
		config:   config,
		sessions: make(map[string]*BabySession),
	}
}

// Serve attaches a session to every connected event and closes it on the
// matching disconnect. It returns when events is closed or ctx is done.
func (b *Baby) Serve(ctx context.Context, events <-chan transport.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case transport.EventConnected:
				if _, err := b.Attach(ev.Conn); err != nil {
					util.LogWarning("[%s] rejecting connection: %v", ev.Conn.ID(), err)
					ev.Conn.Close()
				}
			case transport.EventDisconnected:
				if s, ok := b.Session(ev.Conn.ID()); ok {
					s.Close()
				}
			}
		}
	}
}

// Attach creates a session owning conn and starts reading from it. The
// session closes itself when the connection's frame stream ends.
func (b *Baby) Attach(conn Conn) (*BabySession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrSessionClosed
	}
	if _, dup := b.sessions[conn.ID()]; dup {
		return nil, fmt.Errorf("signaling: duplicate connection id %s", conn.ID())
	}

	s := &BabySession{
		id:       conn.ID(),
		conn:     conn,
		out:      newSender(conn),
		factory:  b.config.Factory,
		source:   b.config.Source,
		onChange: b.config.OnStateChange,
	}
	s.onClose = func() { b.remove(s.id) }
	b.sessions[s.id] = s
	util.Stats.OpenSession()
	util.LogInfo("[%s] parent connected", s.id)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		receive(conn, b.config.Codec, s.HandleMessage)
		s.Close()
	}()
	return s, nil
}

// Session looks a session up by connection id.
func (b *Baby) Session(id string) (*BabySession, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	return s, ok
}

// Sessions returns the live sessions ordered by id.
func (b *Baby) Sessions() []*BabySession {
	b.mu.Lock()
	out := make([]*BabySession, 0, len(b.sessions))
	for _, s := range b.sessions {
		out = append(out, s)
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Close closes every session and waits for their readers to exit.
func (b *Baby) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	for _, s := range b.Sessions() {
		s.Close()
	}
	b.wg.Wait()
}

func (b *Baby) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, id)
}

// BabySession answers offers from one parent connection.
type BabySession struct {
	id       string
	conn     Conn
	out      *sender
	factory  rtc.Factory
	source   rtc.MediaSource
	onChange func(string, State)
	onClose  func()

	// mu guards pc and state. HandleMessage is only called from the
	// connection's reader, so messages are applied in arrival order.
	mu     sync.Mutex
	pc     rtc.PeerConnection
	state  State
	closed bool
}

// ID returns the owning connection's id.
func (s *BabySession) ID() string { return s.id }

// State returns the current negotiation state.
func (s *BabySession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HandleMessage applies one inbound signaling message.
func (s *BabySession) HandleMessage(msg protocol.Message) error {
	switch msg.Kind {
	case protocol.KindSDPOffer:
		return s.handleOffer(msg)
	case protocol.KindICECandidate:
		return s.handleCandidate(msg)
	default:
		return fmt.Errorf("unexpected %s on the answering side", msg.Kind)
	}
}

func (s *BabySession) handleOffer(msg protocol.Message) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}

	// Every offer starts a fresh negotiation on a new peer connection.
	// This is also the only way out of failed.
	if old := s.pc; old != nil {
		util.LogDebug("[%s] renegotiating from %s", s.id, s.state)
		s.pc = nil
		s.mu.Unlock()
		old.Close()
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrSessionClosed
		}
	}
	pc, err := s.newPeerConnection()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.pc = pc
	s.state = StateNew

	answer, err := s.answer(pc, msg.SessionDescription())
	if err != nil {
		s.mu.Unlock()
		return err
	}
	changed := s.setStateLocked(StateNegotiating)
	s.mu.Unlock()

	s.notify(changed, StateNegotiating)
	if err := s.out.sendDescription(pc, answer); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}
	return nil
}

// answer applies the offer, attaches local media and sets the local
// answer. Called with mu held.
func (s *BabySession) answer(pc rtc.PeerConnection, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("SetRemoteDescription: %w", err)
	}
	if s.source != nil {
		for _, track := range s.source.Tracks() {
			if _, err := pc.AddTrack(track); err != nil {
				return webrtc.SessionDescription{}, fmt.Errorf("AddTrack %s: %w", track.Kind(), err)
			}
		}
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("CreateAnswer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("SetLocalDescription: %w", err)
	}
	return answer, nil
}

func (s *BabySession) handleCandidate(msg protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateNegotiating && s.state != StateConnected {
		util.LogDebug("[%s] dropping candidate in state %s", s.id, s.state)
		return nil
	}
	if err := s.pc.AddICECandidate(msg.CandidateInit()); err != nil {
		return fmt.Errorf("AddICECandidate: %w", err)
	}
	return nil
}

func (s *BabySession) newPeerConnection() (rtc.PeerConnection, error) {
	if s.factory == nil {
		return nil, fmt.Errorf("signaling: no peer connection factory")
	}
	pc, err := s.factory.NewPeerConnection()
	if err != nil {
		return nil, err
	}
	s.out.reset(pc)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		s.out.sendCandidate(pc, c)
	})
	pc.OnConnectionStateChange(func(ps webrtc.PeerConnectionState) {
		next, ok := stateFromPeer(ps)
		if !ok {
			return
		}
		s.mu.Lock()
		if s.pc != pc || s.closed {
			s.mu.Unlock()
			return
		}
		changed := s.setStateLocked(next)
		s.mu.Unlock()
		s.notify(changed, next)
	})
	return pc, nil
}

func (s *BabySession) setStateLocked(next State) bool {
	if s.state == next {
		return false
	}
	util.LogDebug("[%s] %s -> %s", s.id, s.state, next)
	s.state = next
	return true
}

func (s *BabySession) notify(changed bool, state State) {
	if changed && s.onChange != nil {
		s.onChange(s.id, state)
	}
}

// Close tears the peer connection down and closes the signaling
// connection. Safe to call multiple times.
func (s *BabySession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pc := s.pc
	s.pc = nil
	changed := s.setStateLocked(StateClosed)
	s.mu.Unlock()

	if pc != nil {
		if err := pc.Close(); err != nil {
			util.LogDebug("[%s] closing peer connection: %v", s.id, err)
		}
	}
	s.conn.Close()
	if s.onClose != nil {
		s.onClose()
	}
	util.Stats.CloseSession()
	util.LogInfo("[%s] parent disconnected", s.id)
	s.notify(changed, StateClosed)
}
