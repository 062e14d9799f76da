package tether

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// BinaryType selects the frame type used for payloads passed to Send.
type BinaryType int

const (
	// BinaryTypeBlob sends payloads as text frames. This is the default.
	BinaryTypeBlob BinaryType = iota

	// BinaryTypeArrayBuffer sends payloads as binary frames.
	BinaryTypeArrayBuffer
)

// Option configures a Socket at construction.
type Option func(*config)

type config struct {
	debug             bool
	automaticOpen     bool
	heartbeat         bool
	heartbeatInterval time.Duration
	binaryType        BinaryType
	policy            ReconnectPolicy
	subprotocols      []string
	requestHeader     http.Header
	connectTimeout    time.Duration
	logger            Logger
	dialer            *websocket.Dialer
	factory           TransportFactory
}

func defaultConfig() config {
	return config{
		automaticOpen:     true,
		heartbeat:         true,
		heartbeatInterval: defaultHeartbeatInterval,
		binaryType:        BinaryTypeBlob,
		policy:            DefaultBackoff(),
		connectTimeout:    defaultConnectTimeout,
	}
}

func (c *config) validate() error {
	if c.heartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %v", c.heartbeatInterval)
	}
	if c.policy == nil {
		return errors.New("reconnect policy must not be nil")
	}
	if c.binaryType != BinaryTypeBlob && c.binaryType != BinaryTypeArrayBuffer {
		return fmt.Errorf("unknown binary type %d", c.binaryType)
	}
	return nil
}

// WithDebug enables debug logging. If no logger is injected, the socket
// logs everything through the standard log package.
func WithDebug(debug bool) Option {
	return func(c *config) { c.debug = debug }
}

// WithAutomaticOpen controls whether NewSocket starts connecting before it
// returns. Default true. Disable it to register listeners first, then call
// Open.
func WithAutomaticOpen(open bool) Option {
	return func(c *config) { c.automaticOpen = open }
}

// WithHeartbeat controls the liveness probe. Default true.
func WithHeartbeat(enabled bool) Option {
	return func(c *config) { c.heartbeat = enabled }
}

// WithHeartbeatInterval sets the time between liveness probes. Default one
// minute. Non-positive intervals are a construction error.
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(c *config) { c.heartbeatInterval = interval }
}

// WithBinaryType selects the frame type for outbound payloads.
func WithBinaryType(t BinaryType) Option {
	return func(c *config) { c.binaryType = t }
}

// WithReconnectPolicy replaces the default exponential backoff. See
// ReconnectFunc, FixedDelay, Never, Backoff and BackOffPolicy.
func WithReconnectPolicy(policy ReconnectPolicy) Option {
	return func(c *config) { c.policy = policy }
}

// WithSubprotocols sets the subprotocols offered during the handshake, in
// preference order. The server's pick is available from Subprotocol once
// the socket is open.
func WithSubprotocols(protocols ...string) Option {
	return func(c *config) { c.subprotocols = protocols }
}

// WithRequestHeader sets extra headers sent with the handshake request,
// such as cookies or authorization tokens.
func WithRequestHeader(header http.Header) Option {
	return func(c *config) { c.requestHeader = header }
}

// WithConnectTimeout bounds the handshake of each connection attempt.
// Default 10s.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *config) { c.connectTimeout = timeout }
}

// WithLogger injects a logger. It takes precedence over WithDebug.
func WithLogger(logger Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithDialer supplies the dialer used for every connection attempt, for
// proxy, TLS or custom network setups. The socket overwrites the dialer's
// HandshakeTimeout and Subprotocols from its own configuration.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(c *config) { c.dialer = dialer }
}

// WithTransportFactory replaces the websocket transport entirely. The
// factory is invoked once per connection attempt.
func WithTransportFactory(factory TransportFactory) Option {
	return func(c *config) { c.factory = factory }
}

func resolveLogger(cfg config) Logger {
	if cfg.logger != nil {
		return cfg.logger
	}
	if cfg.debug {
		return NewSimpleLogger(LogDebug)
	}
	return NewNoopLogger()
}

func resolveDialer(cfg config) *websocket.Dialer {
	base := cfg.dialer
	if base == nil {
		base = websocket.DefaultDialer
	}
	dialer := *base
	dialer.HandshakeTimeout = cfg.connectTimeout
	dialer.Subprotocols = cfg.subprotocols
	return &dialer
}

// normalizeEndpoint validates the endpoint URL, rewriting http/https
// schemes to their websocket equivalents.
func normalizeEndpoint(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("endpoint %q has no host", raw)
	}
	return u.String(), nil
}
