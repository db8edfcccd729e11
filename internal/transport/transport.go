// Package transport provides the pion-backed peer connections driven by the
// negotiation machine.
package transport

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/p2pcall/internal/negotiation"
	"github.com/1ureka/p2pcall/internal/util"
)

// Compile-time interface checks.
var (
	_ negotiation.PeerFactory    = (*Factory)(nil)
	_ negotiation.PeerConnection = (*Peer)(nil)
)

// Factory creates peer connections that share one pion API.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

// NewFactory prepares a factory for opts.
func NewFactory(opts Options) (*Factory, error) {
	api, err := newAPI(opts)
	if err != nil {
		return nil, err
	}
	return &Factory{api: api, config: configuration(opts)}, nil
}

// Peer wraps a single pion PeerConnection. Its state is reported through the
// hooks given at creation; the negotiation machine decides what to do with it.
type Peer struct {
	pc *webrtc.PeerConnection
}

// NewPeer creates a PeerConnection wired to hooks. Nil hooks are skipped.
func (f *Factory) NewPeer(hooks negotiation.PeerHooks) (negotiation.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, err
	}

	p := &Peer{pc: pc}

	// A nil candidate marks the end of gathering and is not forwarded.
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			util.LogDebug("ICE gathering complete")
			return
		}
		if hooks.OnLocalCandidate != nil {
			hooks.OnLocalCandidate(c.ToJSON())
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if hooks.OnRemoteTrack != nil {
			hooks.OnRemoteTrack(track)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if hooks.OnConnectionState != nil {
			hooks.OnConnectionState(state)
		}
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		util.LogDebug("ICE connection state: %s", state)
	})

	return p, nil
}

// CreateOffer generates an SDP offer.
func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP and starts candidate gathering.
func (p *Peer) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (p *Peer) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(sdp)
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

// SignalingState returns pion's view of the offer/answer exchange.
func (p *Peer) SignalingState() webrtc.SignalingState {
	return p.pc.SignalingState()
}

// AddTrack attaches a local track. RTCP from the remote side is drained in
// the background so interceptors keep running.
func (p *Peer) AddTrack(track webrtc.TrackLocal) error {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return err
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

// Close shuts down the PeerConnection.
func (p *Peer) Close() error {
	return p.pc.Close()
}
