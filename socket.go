package tether

import (
	"fmt"
	"sync"

	"go.uber.org/atomic"
)

// Socket supervises one logical connection to an endpoint. It owns at most
// one live transport at a time, re-dials through the configured reconnect
// policy when the connection drops, and reports everything through the
// event facade.
type Socket struct {
	// Endpoint is the address the socket connects to. Immutable after
	// construction; http and https schemes are normalized to ws and wss.
	Endpoint string

	// Handler fields, one per event kind, invoked before registered
	// listeners. They exist for drop-in compatibility with the underlying
	// connection's callback properties. Assign them before the socket
	// first connects; they are read without synchronization.
	ConnectingHandler func(Event)
	OpenHandler       func(Event)
	MessageHandler    func(Event)
	ErrorHandler      func(Event)
	CloseHandler      func(Event)

	cfg       config
	logger    Logger
	factory   TransportFactory
	listeners *listenerRegistry
	retry     *retryTimer
	closed    atomic.Bool

	mu          sync.Mutex
	state       State
	transport   Transport
	subprotocol string
	attempts    int
	heart       *heartbeat
}

// NewSocket builds a socket for the given endpoint. Unless automatic open
// is disabled, it starts connecting before returning; connecting is
// asynchronous either way.
func NewSocket(endpoint string, opts ...Option) (*Socket, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("tether: %w", err)
	}
	endpoint, err := normalizeEndpoint(endpoint)
	if err != nil {
		return nil, fmt.Errorf("tether: %w", err)
	}

	s := &Socket{
		Endpoint:  endpoint,
		cfg:       cfg,
		logger:    resolveLogger(cfg),
		state:     StateConnecting,
		listeners: newListenerRegistry(),
		retry:     newRetryTimer(),
	}
	if cfg.factory != nil {
		s.factory = cfg.factory
	} else {
		dialer := resolveDialer(cfg)
		s.factory = func(handler TransportHandler) Transport {
			return NewWebsocket(s.Endpoint, dialer, cfg.requestHeader, handler)
		}
	}

	if cfg.automaticOpen {
		if err := s.Open(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// State returns the current lifecycle state. Note that it reads
// StateConnecting from construction until the first transport settles,
// even when automatic open is disabled and nothing is dialing yet.
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// IsConnected reports whether the connection is established.
func (s *Socket) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state == StateOpen
}

// Subprotocol returns the subprotocol negotiated with the server, or ""
// while the socket is not open.
func (s *Socket) Subprotocol() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.subprotocol
}

// ReconnectAttempts returns the number of consecutive failed reconnect
// cycles since the last successful open.
func (s *Socket) ReconnectAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.attempts
}

// Open starts a connection attempt. It returns ErrClosed after an explicit
// close and ErrAlreadyConnected while a transport exists. It does not
// block; the outcome arrives as an open event or error/close events.
func (s *Socket) Open() error {
	return s.openTransport(nil)
}

// openTransport builds and starts a fresh transport. prior carries the
// close event that triggered a reconnect, nil on direct opens.
func (s *Socket) openTransport(prior *CloseEvent) error {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.transport != nil {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.state = StateConnecting
	t := s.factory(s)
	s.transport = t
	s.mu.Unlock()

	s.logger.Printf(LogInfo, "socket", "Connecting to %v", s.Endpoint)
	s.Dispatch(Event{Kind: EventConnecting, State: StateConnecting, Close: prior})
	t.Connect()
	return nil
}

// Close requests a normal closure (code 1000). See CloseWith.
func (s *Socket) Close() error {
	return s.CloseWith(CloseNormalClosure, "")
}

// CloseWith closes the socket for good: the close flag is set permanently,
// any pending reconnect is canceled, and no transport will ever be created
// again. If a connection exists its shutdown is requested with the given
// code and the close event arrives once it completes. With no live
// transport there is nothing to signal and no close event is emitted.
// Calling it again is a no-op.
func (s *Socket) CloseWith(code int, reason string) error {
	s.mu.Lock()
	s.closed.Store(true)
	t := s.transport
	if t != nil {
		s.state = StateClosing
	} else {
		s.state = StateClosed
	}
	s.mu.Unlock()

	s.retry.Stop()

	if t == nil {
		return nil
	}
	s.logger.Printf(LogInfo, "socket", "Closing connection to %v", s.Endpoint)
	return t.Close(code, reason)
}

// Send writes the payload over the current connection, framed according to
// the configured binary type. It fails immediately with ErrInvalidState
// when the socket is not open; payloads are never queued.
func (s *Socket) Send(data []byte) error {
	return s.SendMessage(Message{Data: data, Binary: s.cfg.binaryType == BinaryTypeArrayBuffer})
}

// SendMessage is Send with explicit control over the frame type.
func (s *Socket) SendMessage(msg Message) error {
	s.mu.Lock()
	t := s.transport
	st := s.state
	s.mu.Unlock()

	if t == nil || st != StateOpen {
		return ErrInvalidState
	}
	return t.Send(msg)
}

// Reconnect discards the current connection, if any, and dials fresh,
// bypassing the reconnect policy and resetting the attempt counter. The
// replaced connection is torn down silently: no close event is emitted for
// it.
func (s *Socket) Reconnect() error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	t := s.transport
	s.transport = nil
	s.subprotocol = ""
	s.attempts = 0
	if s.heart != nil {
		s.heart.stop()
		s.heart = nil
	}
	s.mu.Unlock()

	s.retry.Stop()
	if t != nil {
		_ = t.Close(CloseGoingAway, "reconnect")
	}
	return s.openTransport(nil)
}

// OnConnOpen implements TransportHandler.
func (s *Socket) OnConnOpen(t Transport, subprotocol string) {
	s.mu.Lock()
	if t != s.transport {
		s.mu.Unlock()
		return
	}
	s.state = StateOpen
	s.subprotocol = subprotocol
	s.attempts = 0
	if s.cfg.heartbeat {
		s.heart = newHeartbeat(t, s.cfg.heartbeatInterval, s.logger)
		s.heart.start()
	}
	s.mu.Unlock()

	s.logger.Printf(LogInfo, "socket", "Connected to %v", s.Endpoint)
	s.Dispatch(Event{Kind: EventOpen, State: StateOpen})
}

// OnConnMessage implements TransportHandler.
func (s *Socket) OnConnMessage(t Transport, msg Message) {
	s.mu.Lock()
	if t != s.transport {
		s.mu.Unlock()
		return
	}
	st := s.state
	s.mu.Unlock()

	s.logger.Printf(LogDebug, "socket", "Received %d bytes", len(msg.Data))
	s.Dispatch(Event{Kind: EventMessage, State: st, Message: msg})
}

// OnConnError implements TransportHandler. Errors never change the
// lifecycle state themselves; if the connection is dying, its close
// arrives separately.
func (s *Socket) OnConnError(t Transport, err error) {
	s.mu.Lock()
	if t != s.transport {
		s.mu.Unlock()
		return
	}
	st := s.state
	s.mu.Unlock()

	s.logger.Printf(LogError, "socket", "Connection error: %s", err)
	s.Dispatch(Event{Kind: EventError, State: st, Err: err})
}

// OnConnClose implements TransportHandler. This is where every connection
// ends up, and where the reconnect decision is made.
func (s *Socket) OnConnClose(t Transport, ev CloseEvent) {
	s.mu.Lock()
	if t != s.transport {
		s.mu.Unlock()
		return
	}
	if s.heart != nil {
		s.heart.stop()
		s.heart = nil
	}
	s.transport = nil
	s.subprotocol = ""
	s.state = StateClosed
	attempts := s.attempts
	closed := s.closed.Load()
	s.mu.Unlock()

	if closed {
		s.logger.Printf(LogInfo, "socket", "Disconnected from %v", s.Endpoint)
		s.Dispatch(Event{Kind: EventClose, State: StateClosed, Close: &ev})
		return
	}

	delay, retry := s.cfg.policy.NextDelay(ev, attempts)
	if !retry || delay <= 0 {
		s.logger.Printf(LogInfo, "socket", "Not reconnecting to %v after close (code %d)", s.Endpoint, ev.Code)
		s.Dispatch(Event{Kind: EventClose, State: StateClosed, Close: &ev})
		return
	}

	s.logger.Printf(LogInfo, "socket", "Reconnecting to %v in %v", s.Endpoint, delay)
	prior := ev
	s.retry.Schedule(delay, func() {
		// The close flag may have been set during the delay window.
		if s.closed.Load() {
			return
		}
		s.mu.Lock()
		s.attempts++
		s.mu.Unlock()
		_ = s.openTransport(&prior)
	})
}
