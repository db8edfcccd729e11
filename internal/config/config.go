// Package config holds the relay and call configuration types.
//
// Values are resolved in this order, later sources winning:
//  1. Hardcoded defaults
//  2. YAML config file (optional)
//  3. Environment variables (P2PCALL_*)
//  4. CLI flags that were explicitly set (applied by the caller)
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultListenAddr         = ":8080"
	DefaultRelayURL           = "ws://localhost:8080"
	DefaultSTUN               = "stun:stun.l.google.com:19302"
	DefaultMaxMessageBytes    = 64 * 1024 // enough for SDP with trickled candidates
	DefaultSendQueueSize      = 64
	DefaultRoomCapacity       = 2
	DefaultWriteWait          = 10 * time.Second
	DefaultPongWait           = 60 * time.Second
	DefaultStatsInterval      = 10 * time.Second
	DefaultNegotiationTimeout = 30 * time.Second
	DefaultShutdownTimeout    = 5 * time.Second
)

// SlowConsumerPolicy decides what happens when a connection's send queue is full.
type SlowConsumerPolicy string

const (
	PolicyDrop       SlowConsumerPolicy = "drop"
	PolicyDisconnect SlowConsumerPolicy = "disconnect"
)

func parsePolicy(raw string) (SlowConsumerPolicy, error) {
	switch p := SlowConsumerPolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case PolicyDrop, PolicyDisconnect:
		return p, nil
	default:
		return "", fmt.Errorf("invalid slow consumer policy %q (expected drop or disconnect)", raw)
	}
}

// Relay configures the signaling relay server.
type Relay struct {
	ListenAddr         string             `yaml:"listen_addr"`
	MaxMessageBytes    int64              `yaml:"max_message_bytes"`
	SendQueueSize      int                `yaml:"send_queue_size"`
	SlowConsumerPolicy SlowConsumerPolicy `yaml:"slow_consumer_policy"`
	RoomCapacity       int                `yaml:"room_capacity"`
	NotifyPeerLeft     bool               `yaml:"notify_peer_left"`
	WriteWait          time.Duration      `yaml:"write_wait"`
	PongWait           time.Duration      `yaml:"pong_wait"`
	StatsInterval      time.Duration      `yaml:"stats_interval"`
	ShutdownTimeout    time.Duration      `yaml:"shutdown_timeout"`
	Debug              bool               `yaml:"debug"`
}

// DefaultRelay returns the relay configuration used when nothing is overridden.
func DefaultRelay() Relay {
	return Relay{
		ListenAddr:         DefaultListenAddr,
		MaxMessageBytes:    DefaultMaxMessageBytes,
		SendQueueSize:      DefaultSendQueueSize,
		SlowConsumerPolicy: PolicyDrop,
		RoomCapacity:       DefaultRoomCapacity,
		NotifyPeerLeft:     true,
		WriteWait:          DefaultWriteWait,
		PongWait:           DefaultPongWait,
		StatsInterval:      DefaultStatsInterval,
		ShutdownTimeout:    DefaultShutdownTimeout,
	}
}

// PingPeriod is how often the relay pings a connection. Must be less than PongWait.
func (c Relay) PingPeriod() time.Duration {
	return (c.PongWait * 9) / 10
}

// Validate reports the first invalid field.
func (c Relay) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("max message bytes must be positive, got %d", c.MaxMessageBytes)
	}
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("send queue size must be positive, got %d", c.SendQueueSize)
	}
	if c.RoomCapacity < 2 {
		return fmt.Errorf("room capacity must be at least 2, got %d", c.RoomCapacity)
	}
	if _, err := parsePolicy(string(c.SlowConsumerPolicy)); err != nil {
		return err
	}
	if c.WriteWait <= 0 || c.PongWait <= 0 {
		return fmt.Errorf("write wait and pong wait must be positive")
	}
	return nil
}

// Call configures one call client.
type Call struct {
	RelayURL           string        `yaml:"relay_url"`
	Room               string        `yaml:"room"`
	STUNServers        []string      `yaml:"stun_servers"`
	NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`
	Audio              bool          `yaml:"audio"`
	Video              bool          `yaml:"video"`
	LoopbackCandidates bool          `yaml:"loopback_candidates"`
	Debug              bool          `yaml:"debug"`
}

// DefaultCall returns the call configuration used when nothing is overridden.
func DefaultCall() Call {
	return Call{
		RelayURL:           DefaultRelayURL,
		STUNServers:        []string{DefaultSTUN},
		NegotiationTimeout: DefaultNegotiationTimeout,
		Audio:              true,
		Video:              true,
	}
}

// Validate reports the first invalid field.
func (c Call) Validate() error {
	if c.RelayURL == "" {
		return fmt.Errorf("relay URL must not be empty")
	}
	if c.NegotiationTimeout < 0 {
		return fmt.Errorf("negotiation timeout must not be negative")
	}
	return nil
}

// LookupFunc mirrors os.LookupEnv so tests can inject an environment.
type LookupFunc func(string) (string, bool)

// LoadRelay resolves the relay configuration from defaults, the optional
// YAML file at path and the process environment.
func LoadRelay(path string) (Relay, error) {
	return loadRelay(path, os.LookupEnv)
}

func loadRelay(path string, lookup LookupFunc) (Relay, error) {
	cfg := DefaultRelay()
	if err := readFile(path, &cfg); err != nil {
		return Relay{}, err
	}

	var err error
	if v, ok := lookup("P2PCALL_LISTEN_ADDR"); ok && v != "" {
		cfg.ListenAddr = v
	}
	if cfg.MaxMessageBytes, err = envInt64(lookup, "P2PCALL_MAX_MESSAGE_BYTES", cfg.MaxMessageBytes); err != nil {
		return Relay{}, err
	}
	var n int64
	if n, err = envInt64(lookup, "P2PCALL_SEND_QUEUE_SIZE", int64(cfg.SendQueueSize)); err != nil {
		return Relay{}, err
	}
	cfg.SendQueueSize = int(n)
	if n, err = envInt64(lookup, "P2PCALL_ROOM_CAPACITY", int64(cfg.RoomCapacity)); err != nil {
		return Relay{}, err
	}
	cfg.RoomCapacity = int(n)
	if v, ok := lookup("P2PCALL_SLOW_CONSUMER_POLICY"); ok && v != "" {
		cfg.SlowConsumerPolicy = SlowConsumerPolicy(v)
	}
	if cfg.SlowConsumerPolicy, err = parsePolicy(string(cfg.SlowConsumerPolicy)); err != nil {
		return Relay{}, err
	}
	if cfg.NotifyPeerLeft, err = envBool(lookup, "P2PCALL_NOTIFY_PEER_LEFT", cfg.NotifyPeerLeft); err != nil {
		return Relay{}, err
	}
	if cfg.StatsInterval, err = envDuration(lookup, "P2PCALL_STATS_INTERVAL", cfg.StatsInterval); err != nil {
		return Relay{}, err
	}
	if cfg.Debug, err = envBool(lookup, "P2PCALL_DEBUG", cfg.Debug); err != nil {
		return Relay{}, err
	}

	return cfg, cfg.Validate()
}

// LoadCall resolves the call configuration from defaults, the optional YAML
// file at path and the process environment.
func LoadCall(path string) (Call, error) {
	return loadCall(path, os.LookupEnv)
}

func loadCall(path string, lookup LookupFunc) (Call, error) {
	cfg := DefaultCall()
	if err := readFile(path, &cfg); err != nil {
		return Call{}, err
	}

	var err error
	if v, ok := lookup("P2PCALL_RELAY_URL"); ok && v != "" {
		cfg.RelayURL = v
	}
	if v, ok := lookup("P2PCALL_ROOM"); ok && v != "" {
		cfg.Room = v
	}
	if v, ok := lookup("P2PCALL_STUN_SERVERS"); ok && v != "" {
		cfg.STUNServers = splitList(v)
	}
	if cfg.NegotiationTimeout, err = envDuration(lookup, "P2PCALL_NEGOTIATION_TIMEOUT", cfg.NegotiationTimeout); err != nil {
		return Call{}, err
	}
	if cfg.LoopbackCandidates, err = envBool(lookup, "P2PCALL_LOOPBACK_CANDIDATES", cfg.LoopbackCandidates); err != nil {
		return Call{}, err
	}
	if cfg.Debug, err = envBool(lookup, "P2PCALL_DEBUG", cfg.Debug); err != nil {
		return Call{}, err
	}

	return cfg, cfg.Validate()
}

// readFile overlays the YAML document at path onto out. An empty path is a no-op.
func readFile(path string, out any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func envInt64(lookup LookupFunc, key string, fallback int64) (int64, error) {
	v, ok := lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	return n, nil
}

func envBool(lookup LookupFunc, key string, fallback bool) (bool, error) {
	v, ok := lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	return b, nil
}

func envDuration(lookup LookupFunc, key string, fallback time.Duration) (time.Duration, error) {
	v, ok := lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
