package signaling

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/babymonitor/internal/protocol"
	"github.com/1ureka/babymonitor/internal/util"
	rtc "github.com/1ureka/babymonitor/internal/webrtc"
)

// ParentConfig configures the offering side.
type ParentConfig struct {
	// Factory creates the PeerConnection for each Connect.
	Factory rtc.Factory

	// Constraints selects which media kinds are requested.
	Constraints rtc.Constraints

	// Codec decodes inbound frames. Nil uses protocol.NewCodec().
	Codec *protocol.Codec

	// OnTrack, if set, is called for every remote track. The callee owns
	// reading RTP from it.
	OnTrack func(*webrtc.TrackRemote)

	// OnStateChange, if set, observes every state transition.
	OnStateChange func(State)
}

// Parent negotiates one media session with a baby device over a single
// signaling connection.
type Parent struct {
	config ParentConfig
	errs   chan error

	mu       sync.Mutex
	conn     Conn
	pc       rtc.PeerConnection
	out      *sender
	state    State
	started  bool
	stopped  bool
	stream   *rtc.MediaStream
	onStream []func(*rtc.MediaStream)
	wg       sync.WaitGroup
}

// NewParent creates a Parent with no connection.
func NewParent(config ParentConfig) *Parent {
	if config.Codec == nil {
		config.Codec = protocol.NewCodec()
	}
	return &Parent{
		config: config,
		errs:   make(chan error, 8),
	}
}

// Connect binds the parent to conn with a fresh peer connection, tearing
// down any previous connection first. The offer is sent by StartIfNeeded.
// Connect owns conn from the call on: it is closed if Connect fails.
func (p *Parent) Connect(conn Conn) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		conn.Close()
		return ErrSessionClosed
	}
	oldConn, oldPC := p.detachLocked()
	p.mu.Unlock()
	p.teardown(oldConn, oldPC)

	if p.config.Factory == nil {
		conn.Close()
		return fmt.Errorf("signaling: no peer connection factory")
	}
	pc, err := p.config.Factory.NewPeerConnection()
	if err != nil {
		conn.Close()
		return err
	}

	out := newSender(conn)
	out.reset(pc)
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		out.sendCandidate(pc, c)
	})
	pc.OnConnectionStateChange(func(ps webrtc.PeerConnectionState) {
		if next, ok := stateFromPeer(ps); ok {
			p.transition(pc, next)
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.attachTrack(pc, track)
	})

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		pc.Close()
		conn.Close()
		return ErrSessionClosed
	}
	p.conn, p.pc, p.out = conn, pc, out
	p.started = false
	p.stream = nil
	p.mu.Unlock()

	util.Stats.OpenSession()
	p.transition(pc, StateNew)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		receive(conn, p.config.Codec, func(msg protocol.Message) error {
			return p.handleMessage(pc, msg)
		})
	}()
	return nil
}

// StartIfNeeded requests the constrained media kinds, sets the local offer
// and sends it. It is a no-op once the current connection has an offer.
func (p *Parent) StartIfNeeded() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrSessionClosed
	}
	if p.pc == nil {
		p.mu.Unlock()
		return ErrNotConnected
	}
	if p.started {
		p.mu.Unlock()
		return nil
	}

	pc, out := p.pc, p.out
	offer, err := p.offerLocked(pc)
	if err != nil {
		p.mu.Unlock()
		p.report(err)
		return err
	}
	p.started = true
	p.mu.Unlock()

	p.transition(pc, StateNegotiating)
	if err := out.sendDescription(pc, offer); err != nil {
		err = fmt.Errorf("send offer: %w", err)
		p.report(err)
		return err
	}
	return nil
}

func (p *Parent) offerLocked(pc rtc.PeerConnection) (webrtc.SessionDescription, error) {
	for _, kind := range p.config.Constraints.Kinds() {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return webrtc.SessionDescription{}, fmt.Errorf("AddTransceiverFromKind %s: %w", kind, err)
		}
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("CreateOffer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("SetLocalDescription: %w", err)
	}
	return offer, nil
}

// SetAnswerSDP applies the baby's answer. Failures are reported on Errors
// and leave the session in place so the caller can restart.
func (p *Parent) SetAnswerSDP(sdp string) error {
	p.mu.Lock()
	pc := p.pc
	p.mu.Unlock()
	return p.setAnswer(pc, sdp)
}

func (p *Parent) setAnswer(pc rtc.PeerConnection, sdp string) error {
	if pc == nil {
		return ErrNotConnected
	}
	err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
	if err != nil {
		err = fmt.Errorf("SetRemoteDescription: %w", err)
		p.report(err)
		return err
	}
	return nil
}

// SetICECandidate applies one remote candidate. It is attempted even
// before the answer arrives; a failure is logged and returned.
func (p *Parent) SetICECandidate(init webrtc.ICECandidateInit) error {
	p.mu.Lock()
	pc := p.pc
	p.mu.Unlock()
	return p.setCandidate(pc, init)
}

func (p *Parent) setCandidate(pc rtc.PeerConnection, init webrtc.ICECandidateInit) error {
	if pc == nil {
		return ErrNotConnected
	}
	if err := pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("AddICECandidate: %w", err)
	}
	return nil
}

func (p *Parent) handleMessage(pc rtc.PeerConnection, msg protocol.Message) error {
	if !p.current(pc) {
		return nil
	}
	switch msg.Kind {
	case protocol.KindSDPAnswer:
		return p.setAnswer(pc, msg.SDP)
	case protocol.KindICECandidate:
		return p.setCandidate(pc, msg.CandidateInit())
	default:
		return fmt.Errorf("unexpected %s on the offering side", msg.Kind)
	}
}

// MediaStream returns the remote stream, or nil until a track arrives.
func (p *Parent) MediaStream() *rtc.MediaStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream
}

// OnMediaStream registers fn to be called once the remote stream
// attaches. If it already has, fn is called immediately.
func (p *Parent) OnMediaStream(fn func(*rtc.MediaStream)) {
	p.mu.Lock()
	stream := p.stream
	p.onStream = append(p.onStream, fn)
	p.mu.Unlock()

	if stream != nil {
		fn(stream)
	}
}

func (p *Parent) attachTrack(pc rtc.PeerConnection, track *webrtc.TrackRemote) {
	p.mu.Lock()
	if p.pc != pc {
		p.mu.Unlock()
		return
	}
	first := p.stream == nil
	if first {
		p.stream = rtc.NewMediaStream(track.StreamID())
	}
	stream := p.stream
	stream.AddTrack(track)
	handlers := append([]func(*rtc.MediaStream){}, p.onStream...)
	p.mu.Unlock()

	util.LogInfo("remote %s track attached (%s)", track.Kind(), track.Codec().MimeType)
	if p.config.OnTrack != nil {
		p.config.OnTrack(track)
	}
	if first {
		for _, fn := range handlers {
			fn(stream)
		}
	}
}

// State returns the current negotiation state.
func (p *Parent) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Errors returns the channel carrying negotiation failures.
func (p *Parent) Errors() <-chan error {
	return p.errs
}

// Stop tears the session down. Safe to call multiple times.
func (p *Parent) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	conn, pc := p.detachLocked()
	changed := p.state != StateClosed
	p.state = StateClosed
	p.mu.Unlock()

	p.teardown(conn, pc)
	p.wg.Wait()
	if changed && p.config.OnStateChange != nil {
		p.config.OnStateChange(StateClosed)
	}
}

func (p *Parent) current(pc rtc.PeerConnection) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pc == pc
}

func (p *Parent) transition(pc rtc.PeerConnection, next State) {
	p.mu.Lock()
	if p.pc != pc || p.state == next {
		p.mu.Unlock()
		return
	}
	util.LogDebug("parent session %s -> %s", p.state, next)
	p.state = next
	p.mu.Unlock()

	if p.config.OnStateChange != nil {
		p.config.OnStateChange(next)
	}
}

func (p *Parent) detachLocked() (Conn, rtc.PeerConnection) {
	conn, pc := p.conn, p.pc
	p.conn, p.pc, p.out = nil, nil, nil
	p.started = false
	return conn, pc
}

func (p *Parent) teardown(conn Conn, pc rtc.PeerConnection) {
	if pc != nil {
		if err := pc.Close(); err != nil {
			util.LogDebug("closing peer connection: %v", err)
		}
	}
	if conn != nil {
		conn.Close()
		util.Stats.CloseSession()
	}
}

func (p *Parent) report(err error) {
	util.LogWarning("parent session: %v", err)
	select {
	case p.errs <- err:
	default:
	}
}
