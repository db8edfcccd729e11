package signaling

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		raw  string
		want MessageType
	}{
		{`{"type":"offer","data":{"type":"offer","sdp":"v=0"}}`, MsgTypeOffer},
		{`{"type":"answer","data":{"type":"answer","sdp":"v=0"}}`, MsgTypeAnswer},
		{`{"type":"ice-candidate","data":{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host"}}`, MsgTypeCandidate},
		{`{"type":"peer-left"}`, MsgTypePeerLeft},
	}
	for _, tt := range tests {
		msg, err := Parse([]byte(tt.raw))
		if err != nil {
			t.Fatalf("Parse(%s): %v", tt.raw, err)
		}
		if msg.Type != tt.want {
			t.Fatalf("Parse(%s).Type = %q, want %q", tt.raw, msg.Type, tt.want)
		}
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		``,
		`[]`,
		`{"data":{}}`,
		`{"type":""}`,
		`{"type":"hello","data":{}}`,
		`{"type":"offer"}`,
		`{"type":"ice-candidate","data":null}`,
		"{\"type\":\"offer\",\"data\":{\"type\":\"offer\",\"sdp\":\"v=0\xff\xfe\"}}",
	} {
		_, err := Parse([]byte(raw))
		if !errors.Is(err, ErrMalformedMessage) {
			t.Errorf("Parse(%q) err = %v, want ErrMalformedMessage", raw, err)
		}
	}
}

func TestClientOriginated(t *testing.T) {
	for _, typ := range []MessageType{MsgTypeOffer, MsgTypeAnswer, MsgTypeCandidate} {
		if !typ.ClientOriginated() {
			t.Errorf("%s should be client originated", typ)
		}
	}
	if MsgTypePeerLeft.ClientOriginated() {
		t.Errorf("peer-left must only come from the relay")
	}
}

func TestDataStaysRaw(t *testing.T) {
	raw := `{"type":"offer","data":{"type":"offer","sdp":"v=0\r\n","extra":[1,2,3]}}`

	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := `{"type":"offer","sdp":"v=0\r\n","extra":[1,2,3]}`
	if string(msg.Data) != want {
		t.Fatalf("Data = %s, want %s", msg.Data, want)
	}
}

func TestDescriptionRoundTrip(t *testing.T) {
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\n"}

	msg, err := NewDescription(desc)
	if err != nil {
		t.Fatalf("NewDescription: %v", err)
	}
	if msg.Type != MsgTypeAnswer {
		t.Fatalf("Type = %q, want answer", msg.Type)
	}

	wire, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	parsed, err := Parse(wire)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got, err := parsed.Description()
	if err != nil {
		t.Fatalf("Description: %v", err)
	}
	if got.Type != desc.Type || got.SDP != desc.SDP {
		t.Fatalf("Description = %+v, want %+v", got, desc)
	}
}

func TestDescription_Mismatch(t *testing.T) {
	msg := Message{Type: MsgTypeOffer, Data: json.RawMessage(`{"type":"answer","sdp":"v=0"}`)}
	if _, err := msg.Description(); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("err = %v, want ErrMalformedMessage", err)
	}

	msg = Message{Type: MsgTypeAnswer, Data: json.RawMessage(`{"type":"answer","sdp":""}`)}
	if _, err := msg.Description(); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("empty sdp err = %v, want ErrMalformedMessage", err)
	}
}

func TestCandidate(t *testing.T) {
	mid := "0"
	idx := uint16(0)
	init := webrtc.ICECandidateInit{
		Candidate:     "candidate:1 1 udp 2130706431 192.168.1.2 54400 typ host",
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}

	msg, err := NewCandidate(init)
	if err != nil {
		t.Fatalf("NewCandidate: %v", err)
	}
	got, err := msg.Candidate()
	if err != nil {
		t.Fatalf("Candidate: %v", err)
	}
	if got.Candidate != init.Candidate || got.SDPMid == nil || *got.SDPMid != "0" {
		t.Fatalf("Candidate = %+v", got)
	}

	if _, err := (Message{Type: MsgTypeOffer, Data: msg.Data}).Candidate(); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("offer.Candidate err = %v, want ErrMalformedMessage", err)
	}
}

func TestRoomURL(t *testing.T) {
	got, err := RoomURL("ws://localhost:8080", "kitchen")
	if err != nil {
		t.Fatalf("RoomURL: %v", err)
	}
	if got != "ws://localhost:8080?room=kitchen" {
		t.Fatalf("RoomURL = %q", got)
	}

	got, err = RoomURL("wss://relay.example/ws", "")
	if err != nil || got != "wss://relay.example/ws" {
		t.Fatalf("RoomURL without room = %q, %v", got, err)
	}

	if _, err := RoomURL("http://relay.example", "x"); err == nil {
		t.Fatalf("expected error for http scheme")
	}
	if _, err := RoomURL("not a url", "x"); err == nil {
		t.Fatalf("expected error for missing host")
	}
}
