// Package media stands in for camera, microphone and video elements: a
// synthetic local source and a remote sink that drains inbound RTP.
package media

import (
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/1ureka/p2pcall/internal/negotiation"
	"github.com/1ureka/p2pcall/internal/util"
)

// Compile-time interface check.
var _ negotiation.MediaSource = (*Source)(nil)

// ErrNoMedia is returned when both audio and video are disabled.
var ErrNoMedia = errors.New("neither audio nor video is enabled")

const (
	streamID      = "p2pcall"
	frameDuration = 20 * time.Millisecond
)

// opusSilence is a single Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// vp8Frame is a placeholder payload packetized as VP8 so the remote side
// sees RTP on the video track.
var vp8Frame = []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x02, 0x00, 0x02, 0x00}

// Source produces synthetic audio and video tracks. Tracks are created on
// first use and shared by every peer connection the source is attached to.
type Source struct {
	audio, video bool

	once   sync.Once
	tracks []webrtc.TrackLocal
	err    error

	stopOnce sync.Once
	stop     chan struct{}
}

// NewSource creates a source with the requested kinds enabled.
func NewSource(audio, video bool) *Source {
	return &Source{audio: audio, video: video, stop: make(chan struct{})}
}

// Tracks returns the local tracks, creating them and starting the sample
// writer on the first call.
func (s *Source) Tracks() ([]webrtc.TrackLocal, error) {
	s.once.Do(func() {
		s.tracks, s.err = s.open()
	})
	return s.tracks, s.err
}

func (s *Source) open() ([]webrtc.TrackLocal, error) {
	if !s.audio && !s.video {
		return nil, ErrNoMedia
	}

	var (
		tracks []webrtc.TrackLocal
		audio  *webrtc.TrackLocalStaticSample
		video  *webrtc.TrackLocalStaticSample
		err    error
	)
	if s.audio {
		audio, err = webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", streamID)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, audio)
	}
	if s.video {
		video, err = webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", streamID)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, video)
	}

	go s.pump(audio, video)
	util.LogDebug("synthetic media source started (audio=%v video=%v)", s.audio, s.video)
	return tracks, nil
}

// pump writes one sample per frame to each enabled track until Close.
// Writes before a track is bound to a peer are no-ops.
func (s *Source) pump(audio, video *webrtc.TrackLocalStaticSample) {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if audio != nil {
				_ = audio.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: frameDuration})
			}
			if video != nil {
				_ = video.WriteSample(pionmedia.Sample{Data: vp8Frame, Duration: frameDuration})
			}
		case <-s.stop:
			return
		}
	}
}

// Close stops the sample writer. Safe to call more than once.
func (s *Source) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}
