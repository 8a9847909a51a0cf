package webrtc

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// Constraints selects which media kinds are negotiated.
type Constraints struct {
	Audio bool
	Video bool
}

// DefaultConstraints asks for audio and video.
func DefaultConstraints() Constraints {
	return Constraints{Audio: true, Video: true}
}

// Kinds lists the codec types selected by c, audio first.
func (c Constraints) Kinds() []webrtc.RTPCodecType {
	var kinds []webrtc.RTPCodecType
	if c.Audio {
		kinds = append(kinds, webrtc.RTPCodecTypeAudio)
	}
	if c.Video {
		kinds = append(kinds, webrtc.RTPCodecTypeVideo)
	}
	return kinds
}

// MediaSource supplies the local tracks the baby attaches to every
// outgoing session. Capture itself happens elsewhere.
type MediaSource interface {
	Tracks() []webrtc.TrackLocal
}

// StaticMediaSource exposes one Opus and/or one VP8 sample track. The
// capture layer feeds them with WriteAudio/WriteVideo; every parent session
// the tracks are bound to receives the same samples.
type StaticMediaSource struct {
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample
}

// NewStaticMediaSource creates the tracks selected by c under streamID.
func NewStaticMediaSource(streamID string, c Constraints) (*StaticMediaSource, error) {
	s := &StaticMediaSource{}

	if c.Audio {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
		if err != nil {
			return nil, fmt.Errorf("failed to create audio track: %w", err)
		}
		s.audio = track
	}

	if c.Video {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
		if err != nil {
			return nil, fmt.Errorf("failed to create video track: %w", err)
		}
		s.video = track
	}

	return s, nil
}

func (s *StaticMediaSource) Tracks() []webrtc.TrackLocal {
	var tracks []webrtc.TrackLocal
	if s.audio != nil {
		tracks = append(tracks, s.audio)
	}
	if s.video != nil {
		tracks = append(tracks, s.video)
	}
	return tracks
}

// WriteAudio forwards one captured audio sample to every bound session.
func (s *StaticMediaSource) WriteAudio(sample media.Sample) error {
	if s.audio == nil {
		return fmt.Errorf("audio track not configured")
	}
	return s.audio.WriteSample(sample)
}

// WriteVideo forwards one captured video frame to every bound session.
func (s *StaticMediaSource) WriteVideo(sample media.Sample) error {
	if s.video == nil {
		return fmt.Errorf("video track not configured")
	}
	return s.video.WriteSample(sample)
}

// MediaStream is the remote stream a parent receives once negotiation
// completes. Tracks grows as the baby's tracks attach.
type MediaStream struct {
	ID string

	mu     sync.RWMutex
	tracks []*webrtc.TrackRemote
}

// NewMediaStream creates an empty stream.
func NewMediaStream(id string) *MediaStream {
	return &MediaStream{ID: id}
}

// AddTrack appends a remote track.
func (m *MediaStream) AddTrack(t *webrtc.TrackRemote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracks = append(m.tracks, t)
}

// Tracks returns a snapshot of the attached tracks.
func (m *MediaStream) Tracks() []*webrtc.TrackRemote {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*webrtc.TrackRemote(nil), m.tracks...)
}
