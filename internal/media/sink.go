package media

import (
	"sync/atomic"

	"github.com/pion/interceptor"

	"github.com/1ureka/p2pcall/internal/negotiation"
	"github.com/1ureka/p2pcall/internal/util"
)

// Compile-time interface check.
var _ negotiation.RemoteSink = (*Sink)(nil)

// packetReader is satisfied by *webrtc.TrackRemote.
type packetReader interface {
	Read(b []byte) (int, interceptor.Attributes, error)
}

// Sink consumes remote tracks. It has no renderer: packets are read and
// counted so the transport keeps flowing.
type Sink struct {
	tracks  atomic.Int64
	packets atomic.Int64
	bytes   atomic.Int64
}

// NewSink creates an empty sink.
func NewSink() *Sink {
	return &Sink{}
}

// Attach starts draining track in the background.
func (s *Sink) Attach(track negotiation.RemoteTrack) {
	s.tracks.Add(1)
	util.LogSuccess("receiving remote %s (%s)", track.Kind(), track.ID())

	r, ok := track.(packetReader)
	if !ok {
		return
	}
	go s.drain(track, r)
}

func (s *Sink) drain(track negotiation.RemoteTrack, r packetReader) {
	buf := make([]byte, 1500)
	for {
		n, _, err := r.Read(buf)
		if err != nil {
			util.LogDebug("remote %s track ended: %v", track.Kind(), err)
			return
		}
		s.packets.Add(1)
		s.bytes.Add(int64(n))
	}
}

// Stats returns the number of tracks attached and packets and bytes read.
func (s *Sink) Stats() (tracks, packets, bytes int64) {
	return s.tracks.Load(), s.packets.Load(), s.bytes.Load()
}
