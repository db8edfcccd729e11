package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pion/randutil"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/p2pcall/internal/app"
	"github.com/1ureka/p2pcall/internal/config"
	"github.com/1ureka/p2pcall/internal/util"
)

const (
	roomNameLength = 10
	roomNameRunes  = "abcdefghijklmnopqrstuvwxyz0123456789"
)

type callFlags struct {
	configPath string
	url        string
	room       string
	newRoom    bool
	offer      bool
	stun       []string
	timeout    time.Duration
	noAudio    bool
	noVideo    bool
	loopback   bool
	debug      bool
}

func newCallCmd() *cobra.Command {
	var f callFlags

	cmd := &cobra.Command{
		Use:   "call",
		Short: "Join a relay room and negotiate a call",
		Long: `Join a room on a signaling relay and negotiate a direct audio/video
session with the other member of the room.

One side waits for an offer; the other starts the call with --offer once
its peer has joined. Without --url the command asks interactively.

Examples:
  p2pcall call --url ws://relay.example:8080 --room kitchen
  p2pcall call --url ws://relay.example:8080 --room kitchen --offer
  p2pcall call --url ws://localhost:8080 --new-room --no-video
  p2pcall call`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadCall(f.configPath)
			if err != nil {
				return err
			}
			if err := applyCallFlags(&cfg, f, cmd.Flags().Changed); err != nil {
				return err
			}
			if cfg.Debug {
				util.EnableDebug()
			}

			pterm.Info.Println("p2pcall " + version)
			pterm.Println()

			initiate := f.offer
			if !cmd.Flags().Changed("url") {
				initiate = runInteractive(&cfg, cmd.Flags().Changed("offer"), f.offer)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			return app.RunCall(cmd.Context(), cfg, initiate)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.configPath, "config", "", "YAML config file")
	flags.StringVar(&f.url, "url", "", "relay WebSocket URL (prompted when omitted)")
	flags.StringVar(&f.room, "room", "", "room to join (default room when empty)")
	flags.BoolVar(&f.newRoom, "new-room", false, "join a freshly generated room and print its name")
	flags.BoolVar(&f.offer, "offer", false, "send an offer as soon as the room is joined")
	flags.StringSliceVar(&f.stun, "stun", nil, "STUN server URL (repeatable)")
	flags.DurationVar(&f.timeout, "timeout", config.DefaultNegotiationTimeout, "negotiation timeout, 0 disables it")
	flags.BoolVar(&f.noAudio, "no-audio", false, "do not send audio")
	flags.BoolVar(&f.noVideo, "no-video", false, "do not send video")
	flags.BoolVar(&f.loopback, "loopback", false, "gather loopback candidates (both clients on one machine)")
	flags.BoolVar(&f.debug, "debug", false, "enable debug logging")
	cmd.MarkFlagsMutuallyExclusive("room", "new-room")
	return cmd
}

// applyCallFlags overlays the flags the user actually set onto cfg.
func applyCallFlags(cfg *config.Call, f callFlags, changed func(string) bool) error {
	if changed("url") {
		wsURL, err := normalizeWSURL(f.url)
		if err != nil {
			return err
		}
		cfg.RelayURL = wsURL
	}
	if changed("room") {
		cfg.Room = f.room
	}
	if f.newRoom {
		room, err := newRoomName()
		if err != nil {
			return err
		}
		cfg.Room = room
		util.LogInfo("created room %s, share it with the other side", room)
	}
	if changed("stun") {
		cfg.STUNServers = f.stun
	}
	if changed("timeout") {
		cfg.NegotiationTimeout = f.timeout
	}
	if changed("no-audio") {
		cfg.Audio = !f.noAudio
	}
	if changed("no-video") {
		cfg.Video = !f.noVideo
	}
	if changed("loopback") {
		cfg.LoopbackCandidates = f.loopback
	}
	if changed("debug") {
		cfg.Debug = f.debug
	}
	return nil
}

// ---------------------------------------------------------------------------
// Interactive mode
// ---------------------------------------------------------------------------

// runInteractive asks for whatever the flags left open and returns whether
// this side should send the offer.
func runInteractive(cfg *config.Call, offerSet, offer bool) bool {
	cfg.RelayURL = askURL(cfg.RelayURL)

	if cfg.Room == "" {
		room, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Room to join (empty for the default room)").
			Show()
		cfg.Room = strings.TrimSpace(room)
		pterm.Println()
	}

	if offerSet {
		return offer
	}

	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Wait: answer an incoming call", "Call: send an offer to the room"}).
		WithDefaultText("Select your role").
		Show()
	pterm.Println()

	if !strings.HasPrefix(role, "Call") {
		return false
	}

	// The relay only forwards to members already in the room.
	ready, _ := pterm.DefaultInteractiveConfirm.
		WithDefaultText("Has the other side joined the room?").
		WithDefaultValue(true).
		Show()
	pterm.Println()
	if !ready {
		util.LogWarning("waiting for an offer instead")
	}
	return ready
}

// askURL prompts for a relay URL until a valid one is entered. An empty
// answer keeps fallback.
func askURL(fallback string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(fmt.Sprintf("Relay URL (empty for %s)", fallback)).
			Show()

		if strings.TrimSpace(raw) == "" {
			raw = fallback
		}

		wsURL, err := normalizeWSURL(raw)
		if err == nil {
			pterm.Println()
			return wsURL
		}

		util.LogWarning("%v", err)
		pterm.Println()
	}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// normalizeWSURL validates a relay URL and maps it onto a WebSocket scheme.
// A bare host:port is taken as ws://; http and https become ws and wss. The
// path is kept, while any query is dropped because the room is set separately.
func normalizeWSURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay URL: %s", raw)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported relay URL scheme %q", u.Scheme)
	}

	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

func newRoomName() (string, error) {
	name, err := randutil.GenerateCryptoRandomString(roomNameLength, roomNameRunes)
	if err != nil {
		return "", fmt.Errorf("failed to generate room name: %w", err)
	}
	return name, nil
}
