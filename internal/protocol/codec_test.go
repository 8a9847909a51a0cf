package protocol

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
)

func strPtr(s string) *string { return &s }

const sampleSDP = "v=0\r\no=- 4215775240449105457 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

// TestEncodeDecodeRoundTrip verifies that decode(encode(m)) == m for every
// message kind.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		msg  Message
	}{
		{"offer", NewOffer(sampleSDP)},
		{"answer", NewAnswer(sampleSDP)},
		{
			name: "candidate with mid",
			msg: Message{
				Kind:          KindICECandidate,
				SDP:           "candidate:1 1 UDP 2130706431 192.168.1.5 54321 typ host",
				SDPMLineIndex: 1,
				SDPMid:        strPtr("audio"),
			},
		},
		{
			name: "candidate without mid",
			msg: Message{
				Kind: KindICECandidate,
				SDP:  "candidate:2 1 TCP 1518280447 10.0.0.3 9 typ host tcptype active",
			},
		},
		{
			name: "candidate with max mline index",
			msg: Message{
				Kind:          KindICECandidate,
				SDP:           "candidate:3 1 UDP 1 1.2.3.4 5 typ relay",
				SDPMLineIndex: 0xFFFF,
				SDPMid:        strPtr(""),
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := Encode(tc.msg)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			if !reflect.DeepEqual(decoded, tc.msg) {
				t.Errorf("round trip mismatch:\n got  %+v\n want %+v", decoded, tc.msg)
			}
		})
	}
}

// TestEncodeWireShape pins the JSON keys each kind is written under.
func TestEncodeWireShape(t *testing.T) {
	testCases := []struct {
		msg Message
		key string
	}{
		{NewOffer("x"), "offerSDP"},
		{NewAnswer("x"), "answerSDP"},
		{Message{Kind: KindICECandidate, SDP: "x"}, "iceCandidate"},
	}

	for _, tc := range testCases {
		t.Run(tc.msg.Kind.String(), func(t *testing.T) {
			encoded, err := Encode(tc.msg)
			if err != nil {
				t.Fatal(err)
			}

			var obj map[string]json.RawMessage
			if err := json.Unmarshal(encoded, &obj); err != nil {
				t.Fatal(err)
			}
			if len(obj) != 1 {
				t.Fatalf("expected exactly one key, got %s", encoded)
			}
			if _, ok := obj[tc.key]; !ok {
				t.Errorf("expected key %q, got %s", tc.key, encoded)
			}
		})
	}
}

// TestDecodeRejects verifies that frames no decoder accepts yield ErrUndecodable.
func TestDecodeRejects(t *testing.T) {
	testCases := []struct {
		name  string
		frame string
	}{
		{"empty", ""},
		{"not json", "hello"},
		{"json array", `[1,2,3]`},
		{"unknown key", `{"bye":{}}`},
		{"offer without sdp", `{"offerSDP":{"type":"offer"}}`},
		{"offer with answer type", `{"offerSDP":{"type":"answer","sdp":"v=0"}}`},
		{"candidate without mline index", `{"iceCandidate":{"sdp":"candidate:1"}}`},
		{"candidate with negative index", `{"iceCandidate":{"sdp":"candidate:1","sdpMLineIndex":-1}}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.frame))
			if !errors.Is(err, ErrUndecodable) {
				t.Fatalf("expected ErrUndecodable, got %v", err)
			}
		})
	}
}

// TestDecodeOrder verifies that decoders are tried in order: a frame
// carrying both an offer and a candidate decodes as the offer.
func TestDecodeOrder(t *testing.T) {
	frame := `{"iceCandidate":{"sdp":"candidate:1","sdpMLineIndex":0},"offerSDP":{"type":"offer","sdp":"v=0"}}`

	msg, err := NewCodec().Decode([]byte(frame))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.Kind != KindSDPOffer {
		t.Errorf("Kind: got %s, want %s", msg.Kind, KindSDPOffer)
	}
}

// TestEncodeInvalid verifies that malformed messages are not encoded.
func TestEncodeInvalid(t *testing.T) {
	testCases := []struct {
		name string
		msg  Message
	}{
		{"zero value", Message{}},
		{"unknown kind", Message{Kind: 42, SDP: "x"}},
		{"empty offer", NewOffer("")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Encode(tc.msg); !errors.Is(err, ErrInvalidMessage) {
				t.Fatalf("expected ErrInvalidMessage, got %v", err)
			}
		})
	}
}

// TestPionConversions verifies the conversions to and from pion types.
func TestPionConversions(t *testing.T) {
	idx := uint16(2)
	init := webrtc.ICECandidateInit{
		Candidate:     "candidate:9 1 UDP 1 1.1.1.1 1 typ host",
		SDPMid:        strPtr("video"),
		SDPMLineIndex: &idx,
	}

	msg := NewCandidate(init)
	back := msg.CandidateInit()
	if back.Candidate != init.Candidate || *back.SDPMid != "video" || *back.SDPMLineIndex != 2 {
		t.Errorf("candidate conversion mismatch: %+v", back)
	}

	// The message owns its mid; mutating the source must not leak in.
	*init.SDPMid = "changed"
	if *msg.SDPMid != "video" {
		t.Errorf("SDPMid aliased to the source init")
	}

	offer, err := FromSessionDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sampleSDP})
	if err != nil {
		t.Fatal(err)
	}
	if got := offer.SessionDescription(); got.Type != webrtc.SDPTypeOffer || got.SDP != sampleSDP {
		t.Errorf("offer conversion mismatch: %+v", got)
	}

	if _, err := FromSessionDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err == nil {
		t.Error("expected error for rollback description")
	}

	if !strings.Contains(Kind(9).String(), "9") {
		t.Errorf("unknown kind string: %s", Kind(9))
	}
}
