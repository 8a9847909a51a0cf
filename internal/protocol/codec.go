package protocol

import (
	"encoding/json"
	"fmt"
)

// Wire format: one JSON object per WebSocket text frame, keyed by the
// message kind.
//
//	{"offerSDP":     {"type": "offer",  "sdp": "v=0..."}}
//	{"answerSDP":    {"type": "answer", "sdp": "v=0..."}}
//	{"iceCandidate": {"sdp": "candidate:...", "sdpMLineIndex": 0, "sdpMid": "0"}}
const (
	keyOffer     = "offerSDP"
	keyAnswer    = "answerSDP"
	keyCandidate = "iceCandidate"
)

type sessionDescriptionJSON struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type candidateJSON struct {
	SDP           string  `json:"sdp"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
	SDPMid        *string `json:"sdpMid,omitempty"`
}

type offerEnvelope struct {
	Offer *sessionDescriptionJSON `json:"offerSDP,omitempty"`
}

type answerEnvelope struct {
	Answer *sessionDescriptionJSON `json:"answerSDP,omitempty"`
}

type candidateEnvelope struct {
	Candidate *candidateJSON `json:"iceCandidate,omitempty"`
}

// Encode serializes a Message into its wire representation.
func Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	switch m.Kind {
	case KindSDPOffer:
		return json.Marshal(offerEnvelope{Offer: &sessionDescriptionJSON{Type: "offer", SDP: m.SDP}})
	case KindSDPAnswer:
		return json.Marshal(answerEnvelope{Answer: &sessionDescriptionJSON{Type: "answer", SDP: m.SDP}})
	case KindICECandidate:
		idx := m.SDPMLineIndex
		return json.Marshal(candidateEnvelope{Candidate: &candidateJSON{
			SDP:           m.SDP,
			SDPMLineIndex: &idx,
			SDPMid:        m.SDPMid,
		}})
	default:
		return nil, fmt.Errorf("%w: unknown kind %s", ErrInvalidMessage, m.Kind)
	}
}

// decoder tries to read one message kind from a raw frame.
type decoder func(raw []byte) (Message, bool)

// Codec decodes inbound frames by trying each decoder in order.
type Codec struct {
	decoders []decoder
}

// NewCodec returns a Codec with the offer, answer and ICE candidate
// decoders, in that order.
func NewCodec() *Codec {
	return &Codec{decoders: []decoder{decodeOffer, decodeAnswer, decodeCandidate}}
}

var defaultCodec = NewCodec()

// Decode parses a frame with the default codec.
func Decode(frame []byte) (Message, error) {
	return defaultCodec.Decode(frame)
}

// Decode returns the first decoder's result that accepts the frame, or
// ErrUndecodable when none does.
func (c *Codec) Decode(frame []byte) (Message, error) {
	for _, dec := range c.decoders {
		if msg, ok := dec(frame); ok {
			return msg, nil
		}
	}
	return Message{}, fmt.Errorf("%w (%d bytes)", ErrUndecodable, len(frame))
}

// Encode is the inverse of Decode.
func (c *Codec) Encode(m Message) ([]byte, error) {
	return Encode(m)
}

func decodeOffer(raw []byte) (Message, bool) {
	var env offerEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Offer == nil {
		return Message{}, false
	}
	if env.Offer.SDP == "" || (env.Offer.Type != "" && env.Offer.Type != "offer") {
		return Message{}, false
	}
	return NewOffer(env.Offer.SDP), true
}

func decodeAnswer(raw []byte) (Message, bool) {
	var env answerEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Answer == nil {
		return Message{}, false
	}
	if env.Answer.SDP == "" || (env.Answer.Type != "" && env.Answer.Type != "answer") {
		return Message{}, false
	}
	return NewAnswer(env.Answer.SDP), true
}

func decodeCandidate(raw []byte) (Message, bool) {
	var env candidateEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Candidate == nil {
		return Message{}, false
	}
	c := env.Candidate
	if c.SDP == "" || c.SDPMLineIndex == nil {
		return Message{}, false
	}
	return Message{
		Kind:          KindICECandidate,
		SDP:           c.SDP,
		SDPMLineIndex: *c.SDPMLineIndex,
		SDPMid:        c.SDPMid,
	}, true
}
