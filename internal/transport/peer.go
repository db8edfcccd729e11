package transport

import (
	"fmt"

	"github.com/pion/interceptor"
	piontransport "github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/p2pcall/internal/util"
)

// Options configures the peer connections a Factory creates.
type Options struct {
	// STUNServers are used for ICE candidate gathering. No TURN: media flows
	// directly between the peers or not at all.
	STUNServers []string

	// IncludeLoopback adds 127.0.0.1 host candidates, which lets two
	// clients on the same machine connect without any other interface.
	IncludeLoopback bool

	// Net replaces the OS network stack, e.g. with a vnet in tests.
	Net piontransport.Net
}

// newAPI builds a pion API with the default codecs and interceptors and with
// pion's internal logging routed through our logger.
func newAPI(opts Options) (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	settingEngine := webrtc.SettingEngine{
		LoggerFactory: util.PionLoggerFactory(),
	}
	if opts.IncludeLoopback {
		settingEngine.SetIncludeLoopbackCandidate(true)
	}
	if opts.Net != nil {
		settingEngine.SetNet(opts.Net)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settingEngine),
	), nil
}

// configuration returns the peer connection configuration for opts.
func configuration(opts Options) webrtc.Configuration {
	var config webrtc.Configuration
	if len(opts.STUNServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{
			{URLs: opts.STUNServers},
		}
	}
	return config
}
