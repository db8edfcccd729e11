package negotiation

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/p2pcall/internal/signaling"
)

// Compile-time interface checks.
var (
	_ PeerConnection = (*fakePeer)(nil)
	_ PeerFactory    = (*fakeFactory)(nil)
	_ Outbound       = (*fakeOutbound)(nil)
	_ MediaSource    = (*fakeMedia)(nil)
	_ RemoteSink     = (*fakeSink)(nil)
)

// fakePeer follows the JSEP signaling-state rules closely enough for the
// machine's purposes: descriptions move it between stable, have-local-offer
// and have-remote-offer, and candidates need a remote description.
type fakePeer struct {
	mu sync.Mutex

	hooks      PeerHooks
	state      webrtc.SignalingState
	remote     *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	tracks     []webrtc.TrackLocal
	closed     bool

	failSetRemote error
	failAddTrack  error
}

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (p *fakePeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		p.state = webrtc.SignalingStateHaveLocalOffer
	case webrtc.SDPTypeAnswer:
		p.state = webrtc.SignalingStateStable
	}
	return nil
}

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSetRemote != nil {
		return p.failSetRemote
	}
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		if p.state == webrtc.SignalingStateHaveLocalOffer {
			return errors.New("offer in have-local-offer")
		}
		p.state = webrtc.SignalingStateHaveRemoteOffer
	case webrtc.SDPTypeAnswer:
		if p.state != webrtc.SignalingStateHaveLocalOffer {
			return errors.New("answer without local offer")
		}
		p.state = webrtc.SignalingStateStable
	}
	p.remote = &desc
	return nil
}

func (p *fakePeer) AddICECandidate(init webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return errors.New("remote description not set")
	}
	p.candidates = append(p.candidates, init)
	return nil
}

func (p *fakePeer) SignalingState() webrtc.SignalingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePeer) AddTrack(track webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failAddTrack != nil {
		return p.failAddTrack
	}
	p.tracks = append(p.tracks, track)
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) setState(s webrtc.SignalingState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *fakePeer) snapshot() (candidates []webrtc.ICECandidateInit, tracks int, closed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.candidates...), len(p.tracks), p.closed
}

type fakeFactory struct {
	mu    sync.Mutex
	peers []*fakePeer
	err   error

	failSetRemote error

	// failNextAddTrack makes only the next peer reject its tracks.
	failNextAddTrack error
}

func (f *fakeFactory) NewPeer(hooks PeerHooks) (PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p := &fakePeer{
		hooks:         hooks,
		state:         webrtc.SignalingStateStable,
		failSetRemote: f.failSetRemote,
		failAddTrack:  f.failNextAddTrack,
	}
	f.failNextAddTrack = nil
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

func (f *fakeFactory) last() *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peers) == 0 {
		return nil
	}
	return f.peers[len(f.peers)-1]
}

type fakeOutbound struct {
	mu   sync.Mutex
	sent []signaling.Message
	err  error
}

func (o *fakeOutbound) Send(msg signaling.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.sent = append(o.sent, msg)
	return nil
}

func (o *fakeOutbound) messages() []signaling.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]signaling.Message(nil), o.sent...)
}

func (o *fakeOutbound) types() []signaling.MessageType {
	var types []signaling.MessageType
	for _, msg := range o.messages() {
		types = append(types, msg.Type)
	}
	return types
}

type fakeMedia struct {
	tracks []webrtc.TrackLocal
	err    error
	calls  int
}

func (m *fakeMedia) Tracks() ([]webrtc.TrackLocal, error) {
	m.calls++
	return m.tracks, m.err
}

type fakeSink struct {
	mu       sync.Mutex
	attached []RemoteTrack
}

func (s *fakeSink) Attach(track RemoteTrack) {
	s.mu.Lock()
	s.attached = append(s.attached, track)
	s.mu.Unlock()
}

type fakeRemoteTrack struct{ kind webrtc.RTPCodecType }

func (t fakeRemoteTrack) ID() string                { return "track-" + t.kind.String() }
func (t fakeRemoteTrack) StreamID() string          { return "stream" }
func (t fakeRemoteTrack) Kind() webrtc.RTPCodecType { return t.kind }

// errRecorder collects errors reported through Options.OnError.
type errRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (r *errRecorder) record(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *errRecorder) has(target error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, err := range r.errs {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (r *errRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}
