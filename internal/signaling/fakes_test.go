package signaling

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/babymonitor/internal/protocol"
	"github.com/1ureka/babymonitor/internal/transport"
	rtc "github.com/1ureka/babymonitor/internal/webrtc"
)

const waitTimeout = 3 * time.Second

func strPtr(s string) *string { return &s }

// fakePC records the calls a session makes, mimicking pion's ordering
// rules closely enough to catch misuse.
type fakePC struct {
	mu         sync.Mutex
	calls      []string
	remote     *webrtc.SessionDescription
	local      *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	kinds      []webrtc.RTPCodecType
	directions []webrtc.RTPTransceiverDirection
	closed     bool

	failRemote      bool
	rejectCandidate string
	afterSetLocal   func(pc *fakePC)

	onICE   func(*webrtc.ICECandidate)
	onState func(webrtc.PeerConnectionState)
	onTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
}

var _ rtc.PeerConnection = (*fakePC)(nil)

func (f *fakePC) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakePC) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateOffer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (f *fakePC) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateAnswer")
	if f.remote == nil {
		return webrtc.SessionDescription{}, errors.New("no remote description")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (f *fakePC) SetLocalDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	f.record("SetLocalDescription")
	f.local = &desc
	hook := f.afterSetLocal
	f.mu.Unlock()

	if hook != nil {
		hook(f)
	}
	return nil
}

func (f *fakePC) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SetRemoteDescription")
	if f.failRemote {
		return errors.New("malformed sdp")
	}
	f.remote = &desc
	return nil
}

func (f *fakePC) AddICECandidate(init webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AddICECandidate")
	if f.remote == nil {
		return errors.New("remote description not set")
	}
	if f.rejectCandidate != "" && init.Candidate == f.rejectCandidate {
		return errors.New("bad candidate")
	}
	f.candidates = append(f.candidates, init)
	return nil
}

func (f *fakePC) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AddTrack")
	return nil, nil
}

func (f *fakePC) AddTransceiverFromKind(kind webrtc.RTPCodecType, init ...webrtc.RTPTransceiverInit) (*webrtc.RTPTransceiver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AddTransceiverFromKind")
	f.kinds = append(f.kinds, kind)
	for _, i := range init {
		f.directions = append(f.directions, i.Direction)
	}
	return nil, nil
}

func (f *fakePC) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onICE = fn
}

func (f *fakePC) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = fn
}

func (f *fakePC) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onTrack = fn
}

func (f *fakePC) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// emitCandidate simulates a locally gathered candidate.
func (f *fakePC) emitCandidate(c *webrtc.ICECandidate) {
	f.mu.Lock()
	fn := f.onICE
	f.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

// setState simulates a connectivity change.
func (f *fakePC) setState(st webrtc.PeerConnectionState) {
	f.mu.Lock()
	fn := f.onState
	f.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (f *fakePC) addRemoteTrack(track *webrtc.TrackRemote) {
	f.mu.Lock()
	fn := f.onTrack
	f.mu.Unlock()
	if fn != nil {
		fn(track, nil)
	}
}

func (f *fakePC) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakePC) applied() []webrtc.ICECandidateInit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), f.candidates...)
}

func (f *fakePC) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakePC) hasRemote() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remote != nil
}

type fakeFactory struct {
	mu    sync.Mutex
	pcs   []*fakePC
	setup func(*fakePC)
	fail  error
}

func (f *fakeFactory) NewPeerConnection() (rtc.PeerConnection, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	pc := &fakePC{}
	if f.setup != nil {
		f.setup(pc)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pcs = append(f.pcs, pc)
	return pc, nil
}

func (f *fakeFactory) created() []*fakePC {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakePC(nil), f.pcs...)
}

// fakeConn is an in-memory signaling connection.
type fakeConn struct {
	id     string
	frames chan transport.Frame
	sent   chan []byte
	done   chan struct{}
	once   sync.Once
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{
		id:     id,
		frames: make(chan transport.Frame, 16),
		sent:   make(chan []byte, 64),
		done:   make(chan struct{}),
	}
}

func (c *fakeConn) ID() string                     { return c.id }
func (c *fakeConn) Frames() <-chan transport.Frame { return c.frames }
func (c *fakeConn) Done() <-chan struct{}          { return c.done }

func (c *fakeConn) SendText(data []byte) error {
	select {
	case <-c.done:
		return transport.ErrConnectionClosed
	default:
	}
	c.sent <- data
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() {
		close(c.done)
		close(c.frames)
	})
	return nil
}

func (c *fakeConn) deliver(t *testing.T, msg protocol.Message) {
	t.Helper()
	data, err := protocol.Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	c.frames <- transport.TextFrame(data)
}

func (c *fakeConn) nextSent(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case data := <-c.sent:
		msg, err := protocol.Decode(data)
		if err != nil {
			t.Fatalf("sent frame is undecodable: %v", err)
		}
		return msg
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for outbound message")
	}
	return protocol.Message{}
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func hostCandidate(port uint16) *webrtc.ICECandidate {
	return &webrtc.ICECandidate{
		Foundation: "1",
		Priority:   2130706431,
		Address:    "192.168.1.20",
		Protocol:   webrtc.ICEProtocolUDP,
		Port:       port,
		Typ:        webrtc.ICECandidateTypeHost,
		Component:  1,
	}
}

func remoteCandidate(sdp string) protocol.Message {
	return protocol.Message{Kind: protocol.KindICECandidate, SDP: sdp, SDPMid: strPtr("0")}
}

func mediaSource(t *testing.T) rtc.MediaSource {
	t.Helper()
	src, err := rtc.NewStaticMediaSource("baby", rtc.DefaultConstraints())
	if err != nil {
		t.Fatal(err)
	}
	return src
}
