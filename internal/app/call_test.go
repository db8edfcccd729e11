package app

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/1ureka/p2pcall/internal/config"
	"github.com/1ureka/p2pcall/internal/negotiation"
	"github.com/1ureka/p2pcall/internal/relay"
)

func startRelay(t *testing.T) (string, *relay.Registry) {
	t.Helper()
	cfg := config.DefaultRelay()
	reg := relay.NewRegistry(cfg.RoomCapacity)
	ts := httptest.NewServer(relay.NewServer(cfg, reg).Handler())
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http"), reg
}

func callConfig(relayURL string) config.Call {
	cfg := config.DefaultCall()
	cfg.RelayURL = relayURL
	cfg.Room = "e2e"
	cfg.STUNServers = nil
	cfg.LoopbackCandidates = true
	cfg.Video = false
	cfg.NegotiationTimeout = 5 * time.Second
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCall_NegotiatesThroughRelay(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	relayURL, reg := startRelay(t)

	callee, err := DialCall(ctx, callConfig(relayURL))
	if err != nil {
		t.Fatalf("DialCall callee: %v", err)
	}
	calleeDone := make(chan error, 1)
	go func() { calleeDone <- callee.Run(ctx) }()

	caller, err := DialCall(ctx, callConfig(relayURL))
	if err != nil {
		t.Fatalf("DialCall caller: %v", err)
	}
	callerDone := make(chan error, 1)
	go func() { callerDone <- caller.Run(ctx) }()

	waitFor(t, "both clients in the room", func() bool { return reg.Len("e2e") == 2 })

	if err := caller.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "caller stable", func() bool { return caller.State() == negotiation.Stable })
	waitFor(t, "callee stable", func() bool { return callee.State() == negotiation.Stable })

	// Hanging up reaches the callee as peer-left.
	if err := caller.Close(); err != nil {
		t.Fatalf("Close caller: %v", err)
	}
	waitFor(t, "callee reset", func() bool { return callee.State() == negotiation.Idle })

	select {
	case err := <-callerDone:
		if err != nil && !errors.Is(err, negotiation.ErrConnectionLost) {
			t.Fatalf("caller Run: %v", err)
		}
	case <-ctx.Done():
		t.Fatalf("caller Run did not return after Close")
	}

	cancel()
	select {
	case <-calleeDone:
	case <-time.After(5 * time.Second):
		t.Fatalf("callee Run did not return after cancel")
	}
	_ = callee.Close()
}

func TestDialCall_BadURL(t *testing.T) {
	cfg := callConfig("http://localhost:1")
	if _, err := DialCall(context.Background(), cfg); err == nil {
		t.Fatalf("expected error for non-websocket URL")
	}
}
