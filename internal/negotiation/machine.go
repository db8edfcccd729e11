// Package negotiation implements the per-client offer/answer state machine.
//
// A Machine owns at most one peer connection. Every input (inbound signaling,
// user actions, peer callbacks, timers) becomes an event on an unbounded
// queue drained by a single goroutine, so negotiation state is never touched
// concurrently.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/p2pcall/internal/signaling"
	"github.com/1ureka/p2pcall/internal/util"
)

// Options configures a Machine. All callbacks run on the event loop.
type Options struct {
	Media MediaSource
	Sink  RemoteSink

	// NegotiationTimeout bounds the wait for an answer. Zero disables it.
	NegotiationTimeout time.Duration

	OnStateChange func(from, to State)
	OnError       func(err error)
}

// maxPendingCandidates bounds the candidates buffered before a remote
// description exists.
const maxPendingCandidates = 64

type event interface{}

type (
	startCallEvent      struct{ result chan error }
	messageEvent        struct{ msg signaling.Message }
	connectionLostEvent struct{}
	timeoutEvent        struct{ gen uint64 }

	localCandidateEvent struct {
		gen  uint64
		init webrtc.ICECandidateInit
	}
	remoteTrackEvent struct {
		gen   uint64
		track RemoteTrack
	}
	peerStateEvent struct {
		gen   uint64
		state webrtc.PeerConnectionState
	}
)

// Machine is the negotiation state machine of one client.
type Machine struct {
	factory PeerFactory
	out     Outbound
	opts    Options

	q       *eventQueue
	mirror  atomic.Int32
	done    chan struct{}
	running atomic.Bool

	// Owned by the event loop.
	state     State
	peer      PeerConnection
	peerGen   uint64
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	timer     *time.Timer
	timerGen  uint64
}

// New creates an idle machine. Call Run to start processing events.
func New(factory PeerFactory, out Outbound, opts Options) *Machine {
	return &Machine{
		factory: factory,
		out:     out,
		opts:    opts,
		q:       newEventQueue(),
		done:    make(chan struct{}),
		state:   Idle,
	}
}

// State returns the most recently published state. Safe from any goroutine.
func (m *Machine) State() State {
	return State(m.mirror.Load())
}

// Done is closed when Run returns.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// Deliver queues an inbound signaling message.
func (m *Machine) Deliver(msg signaling.Message) {
	m.q.push(messageEvent{msg: msg})
}

// ConnectionLost tells the machine the relay connection is gone. The peer is
// torn down and Run returns.
func (m *Machine) ConnectionLost() {
	m.q.push(connectionLostEvent{})
}

// StartCall acquires local media and sends an offer. It blocks until the
// event loop has processed the request.
func (m *Machine) StartCall(ctx context.Context) error {
	result := make(chan error, 1)
	m.q.push(startCallEvent{result: result})

	select {
	case err := <-result:
		return err
	case <-m.done:
		select {
		case err := <-result:
			return err
		default:
			return ErrConnectionLost
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the event queue until ctx is cancelled or ConnectionLost is
// processed. The peer connection is closed on return.
func (m *Machine) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return fmt.Errorf("negotiation machine already running")
	}
	defer close(m.done)

	for {
		for _, ev := range m.q.drain() {
			if stop := m.handle(ev); stop {
				return nil
			}
		}

		select {
		case <-m.q.ready:
		case <-ctx.Done():
			m.teardown(nil)
			return ctx.Err()
		}
	}
}

// handle processes one event and reports whether the loop should stop.
func (m *Machine) handle(ev event) bool {
	switch ev := ev.(type) {
	case startCallEvent:
		ev.result <- m.startCall()

	case messageEvent:
		m.onMessage(ev.msg)

	case localCandidateEvent:
		if ev.gen == m.peerGen && m.peer != nil {
			m.sendCandidate(ev.init)
		}

	case remoteTrackEvent:
		if ev.gen == m.peerGen && m.peer != nil {
			m.onRemoteTrack(ev.track)
		}

	case peerStateEvent:
		if ev.gen == m.peerGen && m.peer != nil {
			m.onPeerState(ev.state)
		}

	case timeoutEvent:
		if ev.gen == m.timerGen && m.state == HaveLocalOffer {
			m.teardown(ErrNegotiationTimeout)
		}

	case connectionLostEvent:
		m.teardown(ErrConnectionLost)
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Transitions
// ---------------------------------------------------------------------------

func (m *Machine) startCall() error {
	if m.state != Idle {
		return fmt.Errorf("%w (state %s)", ErrCallInProgress, m.state)
	}

	tracks, err := m.acquireMedia()
	if err != nil {
		m.report(err)
		return err
	}
	if err := m.initPeer(tracks); err != nil {
		m.report(err)
		return err
	}

	offer, err := m.peer.CreateOffer()
	if err != nil {
		return m.abortOffer(stepError("create offer", err))
	}
	if err := m.peer.SetLocalDescription(offer); err != nil {
		return m.abortOffer(stepError("set local description", err))
	}
	if err := m.sendDescription(offer); err != nil {
		return m.abortOffer(err)
	}

	m.setState(HaveLocalOffer)
	m.armTimeout()
	return nil
}

// abortOffer releases the peer created for a call attempt that failed before
// the offer went out, leaving the machine idle.
func (m *Machine) abortOffer(err error) error {
	m.closePeer()
	m.report(err)
	return err
}

func (m *Machine) onMessage(msg signaling.Message) {
	switch msg.Type {
	case signaling.MsgTypeOffer:
		m.onOffer(msg)
	case signaling.MsgTypeAnswer:
		m.onAnswer(msg)
	case signaling.MsgTypeCandidate:
		m.onRemoteCandidate(msg)
	case signaling.MsgTypePeerLeft:
		m.onPeerLeft()
	default:
		m.report(fmt.Errorf("%w: unexpected type %q", signaling.ErrMalformedMessage, msg.Type))
	}
}

func (m *Machine) onOffer(msg signaling.Message) {
	if m.state == HaveLocalOffer {
		m.report(fmt.Errorf("%w: offer received while our own offer is pending", ErrStaleMessage))
		return
	}

	desc, err := msg.Description()
	if err != nil {
		m.report(err)
		return
	}

	if m.peer == nil {
		tracks, err := m.acquireMedia()
		if err != nil {
			// Answer receive-only rather than refuse the call.
			m.report(err)
		}
		if err := m.initPeer(tracks); err != nil {
			m.report(err)
			return
		}
	}

	if err := m.peer.SetRemoteDescription(desc); err != nil {
		m.report(stepError("set remote description", err))
		return
	}
	m.remoteSet = true
	m.setState(HaveRemoteOffer)
	m.flushPending()

	answer, err := m.peer.CreateAnswer()
	if err != nil {
		m.report(stepError("create answer", err))
		return
	}
	if err := m.peer.SetLocalDescription(answer); err != nil {
		m.report(stepError("set local description", err))
		return
	}
	if err := m.sendDescription(answer); err != nil {
		m.report(err)
		return
	}
	m.setState(Stable)
}

func (m *Machine) onAnswer(msg signaling.Message) {
	if m.state != HaveLocalOffer {
		m.report(fmt.Errorf("%w: answer received in state %s", ErrStaleMessage, m.state))
		return
	}
	if ss := m.peer.SignalingState(); ss != webrtc.SignalingStateHaveLocalOffer {
		m.report(fmt.Errorf("%w: answer received with peer in %s", ErrStaleMessage, ss))
		return
	}

	desc, err := msg.Description()
	if err != nil {
		m.report(err)
		return
	}
	if err := m.peer.SetRemoteDescription(desc); err != nil {
		m.report(stepError("set remote description", err))
		return
	}
	m.remoteSet = true
	m.flushPending()
	m.disarmTimeout()
	m.setState(Stable)
}

func (m *Machine) onRemoteCandidate(msg signaling.Message) {
	init, err := msg.Candidate()
	if err != nil {
		m.report(err)
		return
	}
	if m.peer == nil || !m.remoteSet {
		if len(m.pending) >= maxPendingCandidates {
			m.pending = m.pending[1:]
			util.LogWarning("pending candidate buffer full, dropping the oldest")
		}
		m.pending = append(m.pending, init)
		util.LogDebug("buffered remote candidate (%d pending)", len(m.pending))
		return
	}
	if err := m.peer.AddICECandidate(init); err != nil {
		m.report(stepError("add ice candidate", err))
	}
}

func (m *Machine) onPeerLeft() {
	if m.state == Idle && m.peer == nil {
		m.pending = nil
		return
	}
	m.teardown(ErrPeerLeft)
}

func (m *Machine) onRemoteTrack(track RemoteTrack) {
	util.LogInfo("remote %s track %s (stream %s)", track.Kind(), track.ID(), track.StreamID())
	if m.opts.Sink != nil {
		m.opts.Sink.Attach(track)
	}
}

func (m *Machine) onPeerState(state webrtc.PeerConnectionState) {
	util.LogDebug("peer connection state: %s", state)
	switch state {
	case webrtc.PeerConnectionStateConnected:
		util.LogSuccess("media connection established")
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		m.teardown(fmt.Errorf("%w: %s", ErrPeerFailed, state))
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (m *Machine) acquireMedia() ([]webrtc.TrackLocal, error) {
	if m.opts.Media == nil {
		return nil, nil
	}
	tracks, err := m.opts.Media.Tracks()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMediaAcquisition, err)
	}
	return tracks, nil
}

// initPeer creates the peer connection and attaches tracks. A no-op when a
// peer already exists.
func (m *Machine) initPeer(tracks []webrtc.TrackLocal) error {
	if m.peer != nil {
		return nil
	}

	gen := m.peerGen + 1
	peer, err := m.factory.NewPeer(PeerHooks{
		OnLocalCandidate: func(init webrtc.ICECandidateInit) {
			m.q.push(localCandidateEvent{gen: gen, init: init})
		},
		OnRemoteTrack: func(track RemoteTrack) {
			m.q.push(remoteTrackEvent{gen: gen, track: track})
		},
		OnConnectionState: func(state webrtc.PeerConnectionState) {
			m.q.push(peerStateEvent{gen: gen, state: state})
		},
	})
	if err != nil {
		return stepError("create peer connection", err)
	}
	// The generation is spent even if the peer is discarded below, so its
	// late callbacks never match a later peer.
	m.peerGen = gen

	for _, track := range tracks {
		if err := peer.AddTrack(track); err != nil {
			_ = peer.Close()
			return stepError("add track", err)
		}
	}

	m.peer = peer
	m.remoteSet = false
	return nil
}

// flushPending applies buffered candidates in arrival order.
func (m *Machine) flushPending() {
	pending := m.pending
	m.pending = nil
	for _, init := range pending {
		if err := m.peer.AddICECandidate(init); err != nil {
			m.report(stepError("add buffered ice candidate", err))
		}
	}
	if len(pending) > 0 {
		util.LogDebug("applied %d buffered candidate(s)", len(pending))
	}
}

func (m *Machine) sendDescription(desc webrtc.SessionDescription) error {
	msg, err := signaling.NewDescription(desc)
	if err != nil {
		return stepError("encode "+desc.Type.String(), err)
	}
	if err := m.out.Send(msg); err != nil {
		return stepError("send "+desc.Type.String(), err)
	}
	util.LogDebug("sent %s", msg.Type)
	return nil
}

func (m *Machine) sendCandidate(init webrtc.ICECandidateInit) {
	msg, err := signaling.NewCandidate(init)
	if err != nil {
		m.report(stepError("encode ice candidate", err))
		return
	}
	if err := m.out.Send(msg); err != nil {
		m.report(stepError("send ice candidate", err))
	}
}

func (m *Machine) armTimeout() {
	if m.opts.NegotiationTimeout <= 0 {
		return
	}
	m.disarmTimeout()
	gen := m.timerGen
	m.timer = time.AfterFunc(m.opts.NegotiationTimeout, func() {
		m.q.push(timeoutEvent{gen: gen})
	})
}

// disarmTimeout stops the timer and invalidates any timeout already queued.
func (m *Machine) disarmTimeout() {
	m.timerGen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Machine) closePeer() {
	if m.peer == nil {
		return
	}
	if err := m.peer.Close(); err != nil {
		util.LogDebug("close peer connection: %v", err)
	}
	m.peer = nil
	m.peerGen++
	m.remoteSet = false
}

// teardown closes the peer, clears buffered candidates and returns to Idle.
// reason is reported when a peer was actually torn down.
func (m *Machine) teardown(reason error) {
	hadPeer := m.peer != nil
	m.disarmTimeout()
	m.closePeer()
	m.pending = nil
	m.setState(Idle)

	if reason != nil && hadPeer {
		m.report(reason)
	}
}

func (m *Machine) setState(s State) {
	if s == m.state {
		return
	}
	from := m.state
	m.state = s
	m.mirror.Store(int32(s))
	util.LogDebug("negotiation: %s -> %s", from, s)
	if m.opts.OnStateChange != nil {
		m.opts.OnStateChange(from, s)
	}
}

func (m *Machine) report(err error) {
	switch {
	case errors.Is(err, ErrStaleMessage), errors.Is(err, ErrPeerLeft):
		util.LogWarning("%v", err)
	default:
		util.LogError("%v", err)
	}
	if m.opts.OnError != nil {
		m.opts.OnError(err)
	}
}
