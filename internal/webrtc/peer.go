// Package webrtc provides the PeerConnection factory and media types shared
// by the baby and parent session managers.
package webrtc

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// PeerConnection is the subset of *webrtc.PeerConnection the session
// managers drive. Tests substitute a fake.
type PeerConnection interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	AddTransceiverFromKind(kind webrtc.RTPCodecType, init ...webrtc.RTPTransceiverInit) (*webrtc.RTPTransceiver, error)
	OnICECandidate(fn func(*webrtc.ICECandidate))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))
	OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	Close() error
}

// Compile-time interface check.
var _ PeerConnection = (*webrtc.PeerConnection)(nil)

// Factory creates PeerConnections.
type Factory interface {
	NewPeerConnection() (PeerConnection, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func() (PeerConnection, error)

func (f FactoryFunc) NewPeerConnection() (PeerConnection, error) { return f() }

// Config configures the pion API.
type Config struct {
	// STUNServers for ICE candidate gathering. On a home LAN host candidates
	// are enough, so an empty list is valid.
	STUNServers []string

	// LoggerFactory routes pion's internal logs. Nil keeps pion's default.
	LoggerFactory logging.LoggerFactory
}

// PionFactory builds real pion PeerConnections sharing one API instance.
type PionFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

// NewFactory creates a PionFactory with the default codecs and interceptors.
func NewFactory(cfg Config) (*PionFactory, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	if cfg.LoggerFactory != nil {
		se.LoggerFactory = cfg.LoggerFactory
	}

	var iceServers []webrtc.ICEServer
	if len(cfg.STUNServers) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: cfg.STUNServers}}
	}

	return &PionFactory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(me),
			webrtc.WithInterceptorRegistry(ir),
			webrtc.WithSettingEngine(se),
		),
		config: webrtc.Configuration{ICEServers: iceServers},
	}, nil
}

// NewPeerConnection creates a PeerConnection with the factory's ICE servers.
func (f *PionFactory) NewPeerConnection() (PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create PeerConnection: %w", err)
	}
	return pc, nil
}
