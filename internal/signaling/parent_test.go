package signaling

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/babymonitor/internal/protocol"
	rtc "github.com/1ureka/babymonitor/internal/webrtc"
)

func connectParent(t *testing.T, factory *fakeFactory, cfg ParentConfig) (*Parent, *fakeConn, *fakePC) {
	t.Helper()
	cfg.Factory = factory
	p := NewParent(cfg)
	t.Cleanup(p.Stop)

	conn := newFakeConn("baby")
	if err := p.Connect(conn); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	pcs := factory.created()
	return p, conn, pcs[len(pcs)-1]
}

func TestParent_StartIfNeededOnce(t *testing.T) {
	factory := &fakeFactory{}
	p, conn, pc := connectParent(t, factory, ParentConfig{Constraints: rtc.DefaultConstraints()})

	if err := p.StartIfNeeded(); err != nil {
		t.Fatal(err)
	}
	if err := p.StartIfNeeded(); err != nil {
		t.Fatal(err)
	}

	if msg := conn.nextSent(t); msg.Kind != protocol.KindSDPOffer || msg.SDP != "v=0 offer" {
		t.Fatalf("outbound: %+v", msg)
	}
	if n := len(conn.sent); n != 0 {
		t.Errorf("%d extra messages after the offer", n)
	}

	wantKinds := []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo}
	if !reflect.DeepEqual(pc.kinds, wantKinds) {
		t.Errorf("transceivers: got %v, want %v", pc.kinds, wantKinds)
	}
	for _, d := range pc.directions {
		if d != webrtc.RTPTransceiverDirectionRecvonly {
			t.Errorf("direction: got %s, want recvonly", d)
		}
	}
	if p.State() != StateNegotiating {
		t.Errorf("state: got %s", p.State())
	}
}

func TestParent_AudioOnlyConstraints(t *testing.T) {
	factory := &fakeFactory{}
	p, _, pc := connectParent(t, factory, ParentConfig{Constraints: rtc.Constraints{Audio: true}})

	if err := p.StartIfNeeded(); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(pc.kinds, []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio}) {
		t.Errorf("transceivers: got %v", pc.kinds)
	}
}

func TestParent_NotConnected(t *testing.T) {
	p := NewParent(ParentConfig{Factory: &fakeFactory{}})
	defer p.Stop()

	if err := p.StartIfNeeded(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("StartIfNeeded: got %v", err)
	}
	if err := p.SetAnswerSDP("v=0"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SetAnswerSDP: got %v", err)
	}
	if err := p.SetICECandidate(webrtc.ICECandidateInit{Candidate: "candidate:1"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SetICECandidate: got %v", err)
	}
}

func TestParent_AnswerAndCandidates(t *testing.T) {
	factory := &fakeFactory{}
	p, conn, pc := connectParent(t, factory, ParentConfig{Constraints: rtc.DefaultConstraints()})
	if err := p.StartIfNeeded(); err != nil {
		t.Fatal(err)
	}
	conn.nextSent(t)

	conn.deliver(t, protocol.NewAnswer("v=0 answer"))
	conn.deliver(t, remoteCandidate("candidate:1 1 UDP 1 10.0.0.2 5000 typ host"))

	waitFor(t, "candidate apply", func() bool { return len(pc.applied()) == 1 })
	if !pc.hasRemote() {
		t.Error("answer not applied")
	}
	if got := *pc.applied()[0].SDPMid; got != "0" {
		t.Errorf("sdpMid: got %q", got)
	}

	pc.setState(webrtc.PeerConnectionStateConnected)
	if p.State() != StateConnected {
		t.Errorf("state: got %s", p.State())
	}
}

// TestParent_EarlyCandidate verifies that a candidate arriving before the
// answer is attempted, and that its failure is neither fatal nor reported.
func TestParent_EarlyCandidate(t *testing.T) {
	factory := &fakeFactory{}
	p, conn, pc := connectParent(t, factory, ParentConfig{Constraints: rtc.DefaultConstraints()})

	conn.deliver(t, remoteCandidate("candidate:1"))
	waitFor(t, "candidate attempt", func() bool {
		for _, c := range pc.callLog() {
			if c == "AddICECandidate" {
				return true
			}
		}
		return false
	})

	if err := p.StartIfNeeded(); err != nil {
		t.Fatalf("StartIfNeeded after early candidate: %v", err)
	}
	select {
	case err := <-p.Errors():
		t.Errorf("unexpected error report: %v", err)
	default:
	}
}

func TestParent_AnswerFailureReported(t *testing.T) {
	factory := &fakeFactory{setup: func(pc *fakePC) { pc.failRemote = true }}
	p, conn, _ := connectParent(t, factory, ParentConfig{Constraints: rtc.DefaultConstraints()})
	if err := p.StartIfNeeded(); err != nil {
		t.Fatal(err)
	}
	conn.nextSent(t)

	conn.deliver(t, protocol.NewAnswer("v=0 answer"))

	select {
	case err := <-p.Errors():
		if err == nil {
			t.Error("expected non-nil error")
		}
	case <-time.After(waitTimeout):
		t.Fatal("answer failure not reported")
	}
	if p.State() != StateNegotiating {
		t.Errorf("state after failed answer: got %s", p.State())
	}
}

func TestParent_LocalCandidatesFollowOffer(t *testing.T) {
	factory := &fakeFactory{setup: func(pc *fakePC) {
		pc.afterSetLocal = func(pc *fakePC) { pc.emitCandidate(hostCandidate(6000)) }
	}}
	p, conn, _ := connectParent(t, factory, ParentConfig{Constraints: rtc.DefaultConstraints()})

	if err := p.StartIfNeeded(); err != nil {
		t.Fatal(err)
	}
	if msg := conn.nextSent(t); msg.Kind != protocol.KindSDPOffer {
		t.Fatalf("first outbound: got %s", msg.Kind)
	}
	if msg := conn.nextSent(t); msg.Kind != protocol.KindICECandidate {
		t.Fatalf("second outbound: got %s", msg.Kind)
	}
}

func TestParent_ConnectReplacesPrevious(t *testing.T) {
	factory := &fakeFactory{}
	p, first, firstPC := connectParent(t, factory, ParentConfig{Constraints: rtc.DefaultConstraints()})
	if err := p.StartIfNeeded(); err != nil {
		t.Fatal(err)
	}
	first.nextSent(t)

	second := newFakeConn("baby-2")
	if err := p.Connect(second); err != nil {
		t.Fatal(err)
	}
	if !first.isClosed() || !firstPC.isClosed() {
		t.Error("previous connection not torn down")
	}

	if err := p.StartIfNeeded(); err != nil {
		t.Fatal(err)
	}
	if msg := second.nextSent(t); msg.Kind != protocol.KindSDPOffer {
		t.Fatalf("outbound on new connection: got %s", msg.Kind)
	}

	// The old peer connection no longer moves the session.
	firstPC.setState(webrtc.PeerConnectionStateConnected)
	if p.State() != StateNegotiating {
		t.Errorf("state: got %s", p.State())
	}
}

func TestParent_MediaStream(t *testing.T) {
	factory := &fakeFactory{}
	var tracks int
	p, _, pc := connectParent(t, factory, ParentConfig{
		Constraints: rtc.DefaultConstraints(),
		OnTrack:     func(*webrtc.TrackRemote) { tracks++ },
	})

	if p.MediaStream() != nil {
		t.Fatal("stream before any track")
	}

	var early []*rtc.MediaStream
	p.OnMediaStream(func(s *rtc.MediaStream) { early = append(early, s) })

	pc.addRemoteTrack(&webrtc.TrackRemote{})
	pc.addRemoteTrack(&webrtc.TrackRemote{})

	stream := p.MediaStream()
	if stream == nil || len(stream.Tracks()) != 2 {
		t.Fatalf("stream: %+v", stream)
	}
	if len(early) != 1 || early[0] != stream {
		t.Errorf("OnMediaStream fired %d times", len(early))
	}
	if tracks != 2 {
		t.Errorf("OnTrack called %d times, want 2", tracks)
	}

	var late *rtc.MediaStream
	p.OnMediaStream(func(s *rtc.MediaStream) { late = s })
	if late != stream {
		t.Error("late subscriber not called with the attached stream")
	}
}

func TestParent_StopIdempotent(t *testing.T) {
	factory := &fakeFactory{}
	var closedEvents int
	p, conn, pc := connectParent(t, factory, ParentConfig{
		Constraints: rtc.DefaultConstraints(),
		OnStateChange: func(st State) {
			if st == StateClosed {
				closedEvents++
			}
		},
	})

	p.Stop()
	p.Stop()

	if !conn.isClosed() || !pc.isClosed() {
		t.Error("resources not released")
	}
	if p.State() != StateClosed {
		t.Errorf("state: got %s", p.State())
	}
	if closedEvents != 1 {
		t.Errorf("closed reported %d times", closedEvents)
	}
	if err := p.StartIfNeeded(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("StartIfNeeded after Stop: got %v", err)
	}
	if err := p.Connect(newFakeConn("late")); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Connect after Stop: got %v", err)
	}
}

// TestParent_ConnectFailureClosesConn verifies that a connection handed to
// a failing Connect is closed rather than leaked.
func TestParent_ConnectFailureClosesConn(t *testing.T) {
	errFactory := errors.New("no ICE agent")

	stopped := NewParent(ParentConfig{Factory: &fakeFactory{}})
	stopped.Stop()

	testCases := []struct {
		name    string
		parent  *Parent
		wantErr error
	}{
		{"nil factory", NewParent(ParentConfig{}), nil},
		{"factory error", NewParent(ParentConfig{Factory: &fakeFactory{fail: errFactory}}), errFactory},
		{"stopped", stopped, ErrSessionClosed},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			defer tc.parent.Stop()

			conn := newFakeConn("baby")
			err := tc.parent.Connect(conn)
			if err == nil {
				t.Fatal("Connect succeeded")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("error: got %v, want %v", err, tc.wantErr)
			}
			if !conn.isClosed() {
				t.Error("connection left open")
			}
			if tc.parent.State() == StateNegotiating {
				t.Errorf("state: got %s", tc.parent.State())
			}
		})
	}
}
