// Package signaling defines the JSON envelope exchanged through the relay and
// the client side of the relay connection.
package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/pion/webrtc/v4"
)

// MessageType identifies the kind of signaling message.
type MessageType string

const (
	MsgTypeOffer     MessageType = "offer"
	MsgTypeAnswer    MessageType = "answer"
	MsgTypeCandidate MessageType = "ice-candidate"

	// MsgTypePeerLeft is produced by the relay only, never by a client.
	MsgTypePeerLeft MessageType = "peer-left"
)

// ClientOriginated reports whether clients may send this type through the relay.
func (t MessageType) ClientOriginated() bool {
	switch t {
	case MsgTypeOffer, MsgTypeAnswer, MsgTypeCandidate:
		return true
	}
	return false
}

func (t MessageType) known() bool {
	return t.ClientOriginated() || t == MsgTypePeerLeft
}

// ErrMalformedMessage is returned for payloads that are not valid UTF-8 JSON
// or carry no recognized type. Callers drop the message and keep the connection.
var ErrMalformedMessage = errors.New("malformed signaling message")

// Message is the JSON envelope exchanged over the WebSocket. Data is kept
// raw: the relay forwards it untouched and only the receiving peer decodes it.
type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Parse decodes raw into a Message. Any recognized type is accepted; the relay
// additionally checks ClientOriginated before forwarding.
func Parse(raw []byte) (Message, error) {
	// encoding/json would replace bad bytes with U+FFFD, but the relay forwards
	// raw and a browser must close on an invalid UTF-8 text frame.
	if !utf8.Valid(raw) {
		return Message{}, fmt.Errorf("%w: invalid UTF-8", ErrMalformedMessage)
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	if !msg.Type.known() {
		return Message{}, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, msg.Type)
	}
	if msg.Type != MsgTypePeerLeft && isNull(msg.Data) {
		return Message{}, fmt.Errorf("%w: %s without data", ErrMalformedMessage, msg.Type)
	}
	return msg, nil
}

func isNull(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// NewDescription wraps an offer or answer. The message type follows desc.Type.
func NewDescription(desc webrtc.SessionDescription) (Message, error) {
	var t MessageType
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		t = MsgTypeOffer
	case webrtc.SDPTypeAnswer:
		t = MsgTypeAnswer
	default:
		return Message{}, fmt.Errorf("unsupported session description type %q", desc.Type.String())
	}
	data, err := json.Marshal(desc)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: t, Data: data}, nil
}

// NewCandidate wraps a locally gathered ICE candidate.
func NewCandidate(init webrtc.ICECandidateInit) (Message, error) {
	data, err := json.Marshal(init)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: MsgTypeCandidate, Data: data}, nil
}

// PeerLeft is the notification the relay sends to the remaining room members.
func PeerLeft() Message {
	return Message{Type: MsgTypePeerLeft}
}

// ---------------------------------------------------------------------------
// Payload accessors
// ---------------------------------------------------------------------------

// Description decodes the session description of an offer or answer. The
// embedded type must agree with the envelope type.
func (m Message) Description() (webrtc.SessionDescription, error) {
	var want webrtc.SDPType
	switch m.Type {
	case MsgTypeOffer:
		want = webrtc.SDPTypeOffer
	case MsgTypeAnswer:
		want = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %s carries no session description", ErrMalformedMessage, m.Type)
	}

	var desc webrtc.SessionDescription
	if err := json.Unmarshal(m.Data, &desc); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: session description: %v", ErrMalformedMessage, err)
	}
	if desc.Type != want {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %s envelope holds %q description", ErrMalformedMessage, m.Type, desc.Type.String())
	}
	if desc.SDP == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: empty sdp", ErrMalformedMessage)
	}
	return desc, nil
}

// Candidate decodes the ICE candidate descriptor of an ice-candidate message.
func (m Message) Candidate() (webrtc.ICECandidateInit, error) {
	if m.Type != MsgTypeCandidate {
		return webrtc.ICECandidateInit{}, fmt.Errorf("%w: %s carries no candidate", ErrMalformedMessage, m.Type)
	}
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(m.Data, &init); err != nil {
		return webrtc.ICECandidateInit{}, fmt.Errorf("%w: candidate: %v", ErrMalformedMessage, err)
	}
	return init, nil
}
