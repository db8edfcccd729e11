package transport

import (
	"sync"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/p2pcall/internal/negotiation"
)

// newVNetFactories returns two factories whose peers live on a shared
// virtual LAN, so the test does not depend on the host's interfaces.
func newVNetFactories(t *testing.T) (*Factory, *Factory) {
	t.Helper()

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() { _ = router.Stop() })

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.1"}})
	if err != nil {
		t.Fatalf("new net A: %v", err)
	}
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.2"}})
	if err != nil {
		t.Fatalf("new net B: %v", err)
	}
	if err := router.AddNet(netA); err != nil {
		t.Fatalf("add net A: %v", err)
	}
	if err := router.AddNet(netB); err != nil {
		t.Fatalf("add net B: %v", err)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}

	fa, err := NewFactory(Options{Net: netA})
	if err != nil {
		t.Fatalf("factory A: %v", err)
	}
	fb, err := NewFactory(Options{Net: netB})
	if err != nil {
		t.Fatalf("factory B: %v", err)
	}
	return fa, fb
}

type peerEvents struct {
	candidates chan webrtc.ICECandidateInit
	connected  chan struct{}
	once       sync.Once
}

func newPeerEvents() *peerEvents {
	return &peerEvents{
		candidates: make(chan webrtc.ICECandidateInit, 64),
		connected:  make(chan struct{}),
	}
}

func (e *peerEvents) hooks() negotiation.PeerHooks {
	return negotiation.PeerHooks{
		OnLocalCandidate: func(c webrtc.ICECandidateInit) { e.candidates <- c },
		OnConnectionState: func(s webrtc.PeerConnectionState) {
			if s == webrtc.PeerConnectionStateConnected {
				e.once.Do(func() { close(e.connected) })
			}
		},
	}
}

func forward(from chan webrtc.ICECandidateInit, to negotiation.PeerConnection, done <-chan struct{}) {
	for {
		select {
		case c := <-from:
			_ = to.AddICECandidate(c)
		case <-done:
			return
		}
	}
}

func TestPeers_Connect(t *testing.T) {
	fa, fb := newVNetFactories(t)

	evA, evB := newPeerEvents(), newPeerEvents()
	a, err := fa.NewPeer(evA.hooks())
	if err != nil {
		t.Fatalf("NewPeer A: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	b, err := fb.NewPeer(evB.hooks())
	if err != nil {
		t.Fatalf("NewPeer B: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "test")
	if err != nil {
		t.Fatalf("new track: %v", err)
	}
	if err := a.AddTrack(track); err != nil {
		t.Fatalf("AddTrack: %v", err)
	}

	offer, err := a.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if err := a.SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription(offer): %v", err)
	}
	if got := a.SignalingState(); got != webrtc.SignalingStateHaveLocalOffer {
		t.Fatalf("A signaling state = %s, want have-local-offer", got)
	}
	if err := b.SetRemoteDescription(offer); err != nil {
		t.Fatalf("SetRemoteDescription(offer): %v", err)
	}
	answer, err := b.CreateAnswer()
	if err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	if err := b.SetLocalDescription(answer); err != nil {
		t.Fatalf("SetLocalDescription(answer): %v", err)
	}
	if err := a.SetRemoteDescription(answer); err != nil {
		t.Fatalf("SetRemoteDescription(answer): %v", err)
	}

	done := make(chan struct{})
	defer close(done)
	go forward(evA.candidates, b, done)
	go forward(evB.candidates, a, done)

	timeout := time.After(15 * time.Second)
	for _, ch := range []chan struct{}{evA.connected, evB.connected} {
		select {
		case <-ch:
		case <-timeout:
			t.Fatalf("peers did not connect")
		}
	}

	if got := a.(*Peer).pc.ConnectionState(); got != webrtc.PeerConnectionStateConnected {
		t.Fatalf("A connection state = %s, want connected", got)
	}
	if got := a.SignalingState(); got != webrtc.SignalingStateStable {
		t.Fatalf("A signaling state = %s, want stable", got)
	}
}

func TestConfiguration(t *testing.T) {
	cfg := configuration(Options{STUNServers: []string{"stun:a.example:3478", "stun:b.example:3478"}})
	if len(cfg.ICEServers) != 1 || len(cfg.ICEServers[0].URLs) != 2 {
		t.Fatalf("ICEServers = %+v, want one entry with two URLs", cfg.ICEServers)
	}

	if cfg := configuration(Options{}); len(cfg.ICEServers) != 0 {
		t.Fatalf("ICEServers = %+v, want none", cfg.ICEServers)
	}
}
