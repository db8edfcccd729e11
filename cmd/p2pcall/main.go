// p2pcall: CLI entry point.
//
// Two subcommands share one binary: `relay` runs the WebSocket signaling
// relay, and `call` joins a relay room and negotiates a direct WebRTC
// audio/video session with the other member of the room.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/1ureka/p2pcall/internal/util"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "p2pcall",
	Short:   "Peer-to-peer audio/video calls with a minimal signaling relay",
	Version: version,
}

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	rootCmd.AddCommand(newRelayCmd(), newCallCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		stop()
		os.Exit(1)
	}
}
