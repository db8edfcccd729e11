package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/p2pcall/internal/app"
	"github.com/1ureka/p2pcall/internal/config"
	"github.com/1ureka/p2pcall/internal/util"
)

func newRelayCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the signaling relay",
		Long: `Run the WebSocket signaling relay.

Clients connect to ws://host:port/?room=<id>; every message is forwarded
unchanged to the other member of the same room. GET /health answers
liveness probes.

Examples:
  p2pcall relay
  p2pcall relay --addr :9000
  P2PCALL_ROOM_CAPACITY=4 p2pcall relay --config relay.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadRelay(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.ListenAddr = addr
			}
			if cmd.Flags().Changed("debug") {
				cfg.Debug = debug
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if cfg.Debug {
				util.EnableDebug()
			}

			pterm.Info.Println("p2pcall relay " + version)
			return app.RunRelay(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "YAML config file")
	cmd.Flags().StringVar(&addr, "addr", config.DefaultListenAddr, "listen address")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return cmd
}
