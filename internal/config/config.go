package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Default configuration values (production)
const (
	DefaultDomain    = "pairline.qzz.io"
	DefaultTransport = TransportWebSocket

	DefaultMatchRetryInterval = 2 * time.Second
	DefaultSettleDelay        = 1500 * time.Millisecond
	DefaultResponderDelay     = 500 * time.Millisecond
	DefaultPresenceInterval   = 5 * time.Second
	DefaultRoomPollInterval   = 2 * time.Second
)

// DefaultSTUNServers are used when no STUN server is configured.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Signaling transports.
const (
	TransportWebSocket = "ws"
	TransportAMQP      = "amqp"
)

var ErrUnknownTransport = errors.New("unknown signaling transport")

// Config holds client configuration
type Config struct {
	// Domain is the pairline-server host, optionally with a port
	Domain   string
	Insecure bool

	// APIURL and WebSocketURL are constructed from domain
	APIURL       string
	WebSocketURL string

	Transport string
	AMQPURL   string

	// ICE servers for WebRTC
	STUNServers []string
	TURNServer  string
	TURNUser    string
	TURNPass    string
	ForceRelay  bool

	MatchRetryInterval time.Duration
	SettleDelay        time.Duration
	ResponderDelay     time.Duration
	PresenceInterval   time.Duration
	RoomPollInterval   time.Duration
}

// Options for loading config with CLI flag overrides. Zero values mean
// "not set".
type Options struct {
	Domain      string
	Insecure    bool
	Transport   string
	AMQPURL     string
	STUNServers []string
	TURNServer  string
	TURNUser    string
	TURNPass    string
	ForceRelay  bool
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	cfg := &Config{
		Domain:     pick(opts.Domain, "DOMAIN", DefaultDomain),
		Insecure:   opts.Insecure || envBool("PAIRLINE_INSECURE"),
		Transport:  strings.ToLower(pick(opts.Transport, "PAIRLINE_TRANSPORT", DefaultTransport)),
		AMQPURL:    pick(opts.AMQPURL, "AMQP_URL", ""),
		TURNServer: pick(opts.TURNServer, "TURN_SERVER", ""),
		TURNUser:   pick(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:   pick(opts.TURNPass, "TURN_PASSWORD", ""),
		ForceRelay: opts.ForceRelay || envBool("PAIRLINE_FORCE_RELAY"),

		MatchRetryInterval: DefaultMatchRetryInterval,
		SettleDelay:        DefaultSettleDelay,
		ResponderDelay:     DefaultResponderDelay,
		PresenceInterval:   DefaultPresenceInterval,
		RoomPollInterval:   DefaultRoomPollInterval,
	}

	// STUN servers: CLI flag > env (comma-separated) > default
	cfg.STUNServers = opts.STUNServers
	if len(cfg.STUNServers) == 0 {
		cfg.STUNServers = splitList(os.Getenv("STUN_SERVERS"))
	}
	if len(cfg.STUNServers) == 0 {
		cfg.STUNServers = append([]string(nil), DefaultSTUNServers...)
	}

	switch cfg.Transport {
	case TransportWebSocket:
	case TransportAMQP:
		if cfg.AMQPURL == "" {
			return nil, fmt.Errorf("%w: amqp requires AMQP_URL or --amqp", ErrUnknownTransport)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, cfg.Transport)
	}

	httpScheme, wsScheme := "https", "wss"
	if cfg.Insecure {
		httpScheme, wsScheme = "http", "ws"
	}
	cfg.APIURL = fmt.Sprintf("%s://%s", httpScheme, cfg.Domain)
	cfg.WebSocketURL = fmt.Sprintf("%s://%s/ws", wsScheme, cfg.Domain)

	return cfg, nil
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(strings.TrimPrefix(c.TURNServer, "turn:"), "turns:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

func pick(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
