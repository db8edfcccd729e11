package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/1ureka/p2pcall/internal/config"
	"github.com/1ureka/p2pcall/internal/media"
	"github.com/1ureka/p2pcall/internal/negotiation"
	"github.com/1ureka/p2pcall/internal/signaling"
	"github.com/1ureka/p2pcall/internal/transport"
	"github.com/1ureka/p2pcall/internal/util"
)

// Call is one client: a relay connection, a negotiation machine and the
// synthetic media attached to it.
type Call struct {
	client  *signaling.Client
	machine *negotiation.Machine
	source  *media.Source
	sink    *media.Sink
}

// DialCall connects to the relay room named by cfg and prepares the
// negotiation machine. Nothing is negotiated until Run is called.
func DialCall(ctx context.Context, cfg config.Call) (*Call, error) {
	wsURL, err := signaling.RoomURL(cfg.RelayURL, cfg.Room)
	if err != nil {
		return nil, err
	}

	factory, err := transport.NewFactory(transport.Options{
		STUNServers:     cfg.STUNServers,
		IncludeLoopback: cfg.LoopbackCandidates,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to prepare WebRTC: %w", err)
	}

	client, err := signaling.Dial(ctx, wsURL)
	if err != nil {
		return nil, err
	}
	util.LogDebug("relay connected: %s", wsURL)

	c := &Call{
		client: client,
		source: media.NewSource(cfg.Audio, cfg.Video),
		sink:   media.NewSink(),
	}
	c.machine = negotiation.New(factory, client, negotiation.Options{
		Media:              c.source,
		Sink:               c.sink,
		NegotiationTimeout: cfg.NegotiationTimeout,
		OnStateChange:      onStateChange,
	})
	return c, nil
}

func onStateChange(from, to negotiation.State) {
	switch {
	case to == negotiation.Stable:
		util.LogSuccess("call negotiated")
	case to == negotiation.Idle && from != negotiation.Idle:
		util.LogInfo("call ended, waiting for a new offer")
	}
}

// State returns the current negotiation state.
func (c *Call) State() negotiation.State {
	return c.machine.State()
}

// Start sends an offer to the other member of the room.
func (c *Call) Start(ctx context.Context) error {
	return c.machine.StartCall(ctx)
}

// Run feeds relay messages to the machine until ctx is cancelled or the
// relay connection ends. A relay that closes normally yields nil.
func (c *Call) Run(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	loopErr := make(chan error, 1)
	go func() {
		loopErr <- c.machine.Run(loopCtx)
	}()

	recvErr := make(chan error, 1)
	go func() {
		err := c.client.Receive(c.machine.Deliver)
		c.machine.ConnectionLost()
		recvErr <- err
	}()

	select {
	case <-ctx.Done():
		cancel()
		<-loopErr
		return nil

	case err := <-recvErr:
		<-loopErr
		if err != nil {
			return fmt.Errorf("%w: %v", negotiation.ErrConnectionLost, err)
		}
		util.LogInfo("relay closed the connection")
		return nil
	}
}

// Close hangs up: the relay connection is closed, which the other side sees
// as peer-left, and local media stops.
func (c *Call) Close() error {
	c.source.Close()
	tracks, packets, bytes := c.sink.Stats()
	if tracks > 0 {
		util.LogInfo("received %d packets (%d bytes) on %d remote track(s)", packets, bytes, tracks)
	}
	return c.client.Close()
}

// RunCall orchestrates a call client:
//  1. Connect to the relay room
//  2. Start the negotiation loop
//  3. Send an offer when initiate is set
//  4. Keep answering offers until ctx is cancelled or the relay goes away
func RunCall(ctx context.Context, cfg config.Call, initiate bool) error {
	c, err := DialCall(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	room := cfg.Room
	if room == "" {
		room = "(default)"
	}
	util.LogSuccess("joined room %s on %s", room, cfg.RelayURL)

	runErr := make(chan error, 1)
	go func() {
		runErr <- c.Run(ctx)
	}()

	if initiate {
		if err := c.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("failed to start call: %w", err)
		}
		util.LogInfo("offer sent, waiting for an answer...")
	} else {
		util.LogInfo("waiting for an offer...")
	}

	return <-runErr
}
