// Package protocol defines the signaling messages exchanged between the baby
// and parent devices and their JSON wire encoding.
package protocol

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Kind tags which variant a Message holds.
type Kind uint8

// Message kinds. The set is closed: every switch over Kind handles all three.
const (
	KindSDPOffer Kind = iota + 1
	KindSDPAnswer
	KindICECandidate
)

func (k Kind) String() string {
	switch k {
	case KindSDPOffer:
		return "sdpOffer"
	case KindSDPAnswer:
		return "sdpAnswer"
	case KindICECandidate:
		return "iceCandidate"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Message is one signaling message.
//
// For KindSDPOffer and KindSDPAnswer, SDP holds the session description.
// For KindICECandidate, SDP holds the candidate line and SDPMLineIndex /
// SDPMid identify the media section it belongs to.
type Message struct {
	Kind          Kind
	SDP           string
	SDPMLineIndex uint16  // ICE only
	SDPMid        *string // ICE only, optional
}

// NewOffer builds an SDP offer message.
func NewOffer(sdp string) Message {
	return Message{Kind: KindSDPOffer, SDP: sdp}
}

// NewAnswer builds an SDP answer message.
func NewAnswer(sdp string) Message {
	return Message{Kind: KindSDPAnswer, SDP: sdp}
}

// NewCandidate builds an ICE candidate message from pion's candidate init.
// A missing SDPMLineIndex is encoded as 0.
func NewCandidate(init webrtc.ICECandidateInit) Message {
	msg := Message{Kind: KindICECandidate, SDP: init.Candidate}
	if init.SDPMLineIndex != nil {
		msg.SDPMLineIndex = *init.SDPMLineIndex
	}
	if init.SDPMid != nil {
		mid := *init.SDPMid
		msg.SDPMid = &mid
	}
	return msg
}

// FromSessionDescription converts a local offer or answer into a Message.
func FromSessionDescription(desc webrtc.SessionDescription) (Message, error) {
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		return NewOffer(desc.SDP), nil
	case webrtc.SDPTypeAnswer:
		return NewAnswer(desc.SDP), nil
	default:
		return Message{}, fmt.Errorf("%w: unsupported SDP type %s", ErrInvalidMessage, desc.Type)
	}
}

// SDPType returns the webrtc SDP type matching an offer or answer kind.
func (m Message) SDPType() webrtc.SDPType {
	switch m.Kind {
	case KindSDPOffer:
		return webrtc.SDPTypeOffer
	case KindSDPAnswer:
		return webrtc.SDPTypeAnswer
	default:
		return webrtc.SDPTypeUnknown
	}
}

// SessionDescription returns the pion session description of an offer or answer.
func (m Message) SessionDescription() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: m.SDPType(), SDP: m.SDP}
}

// CandidateInit returns the pion candidate init of an ICE candidate message.
func (m Message) CandidateInit() webrtc.ICECandidateInit {
	idx := m.SDPMLineIndex
	init := webrtc.ICECandidateInit{
		Candidate:     m.SDP,
		SDPMLineIndex: &idx,
	}
	if m.SDPMid != nil {
		mid := *m.SDPMid
		init.SDPMid = &mid
	}
	return init
}

// Validate reports whether m is a well-formed message of a known kind.
func (m Message) Validate() error {
	switch m.Kind {
	case KindSDPOffer, KindSDPAnswer, KindICECandidate:
	default:
		return fmt.Errorf("%w: unknown kind %s", ErrInvalidMessage, m.Kind)
	}
	if m.SDP == "" {
		return fmt.Errorf("%w: empty sdp in %s", ErrInvalidMessage, m.Kind)
	}
	return nil
}
