package negotiation

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/p2pcall/internal/signaling"
)

// PeerConnection is the subset of a WebRTC peer connection the machine
// drives. internal/transport provides the pion-backed implementation.
type PeerConnection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	SignalingState() webrtc.SignalingState
	AddTrack(webrtc.TrackLocal) error
	Close() error
}

// PeerHooks receives the asynchronous events of a peer connection. Hooks
// may be called from any goroutine and must not block.
type PeerHooks struct {
	OnLocalCandidate  func(webrtc.ICECandidateInit)
	OnRemoteTrack     func(RemoteTrack)
	OnConnectionState func(webrtc.PeerConnectionState)
}

// PeerFactory creates peer connections wired to the given hooks.
type PeerFactory interface {
	NewPeer(hooks PeerHooks) (PeerConnection, error)
}

// RemoteTrack is an inbound media track. *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// MediaSource supplies the local tracks attached to a new peer connection.
type MediaSource interface {
	Tracks() ([]webrtc.TrackLocal, error)
}

// RemoteSink consumes the remote peer's tracks.
type RemoteSink interface {
	Attach(track RemoteTrack)
}

// Outbound delivers signaling messages to the relay.
type Outbound interface {
	Send(msg signaling.Message) error
}
