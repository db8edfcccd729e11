// Package app contains the top-level orchestration for the relay and call
// roles.
package app

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"

	"github.com/1ureka/p2pcall/internal/config"
	"github.com/1ureka/p2pcall/internal/relay"
	"github.com/1ureka/p2pcall/internal/util"
)

// RunRelay orchestrates the relay lifecycle:
//  1. Print the listening banner
//  2. Start the periodic stats reporter
//  3. Serve clients until ctx is cancelled
func RunRelay(ctx context.Context, cfg config.Relay) error {
	printRelayBanner(cfg)

	util.StartStatsReporter(ctx, cfg.StatsInterval)

	srv := relay.NewServer(cfg, relay.NewRegistry(cfg.RoomCapacity))
	if err := srv.Run(ctx); err != nil {
		return err
	}

	util.LogInfo("relay stopped (%d connections served)", util.Stats.TotalConns.Load())
	return nil
}

func printRelayBanner(cfg config.Relay) {
	rows := [][]string{
		{"Listen", cfg.ListenAddr},
		{"Room capacity", fmt.Sprintf("%d", cfg.RoomCapacity)},
		{"Send queue", fmt.Sprintf("%d frames (%s when full)", cfg.SendQueueSize, cfg.SlowConsumerPolicy)},
		{"Max message", fmt.Sprintf("%d bytes", cfg.MaxMessageBytes)},
		{"Peer-left notice", fmt.Sprintf("%v", cfg.NotifyPeerLeft)},
	}
	pterm.Println()
	_ = pterm.DefaultTable.WithData(rows).WithLeftAlignment().Render()
	pterm.Println()
}
