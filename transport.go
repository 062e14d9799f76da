package tether

// Transport is one connection attempt's underlying connection. A fresh
// instance is created for every attempt and discarded once it closes;
// instances are never reused.
type Transport interface {
	// Connect starts the connection attempt and returns without blocking.
	// Progress is reported through the TransportHandler.
	Connect()

	// Send writes one message to the peer.
	Send(msg Message) error

	// Close requests shutdown with the given close code and reason. It is
	// safe to call at any point in the transport's life, including while
	// the connection attempt is still in flight.
	Close(code int, reason string) error

	// IsOpen reports whether the connection is established and usable.
	IsOpen() bool

	// Subprotocol returns the negotiated subprotocol, or "" if none.
	Subprotocol() string
}

// TransportHandler receives lifecycle callbacks from a transport. Every
// callback identifies the reporting transport so that events from a
// replaced instance can be recognized and dropped.
//
// For a single transport the callbacks arrive in order: OnConnOpen, then
// any number of OnConnMessage and OnConnError, then exactly one
// OnConnClose. A transport that never connects skips straight to
// OnConnError and OnConnClose.
type TransportHandler interface {
	OnConnOpen(t Transport, subprotocol string)
	OnConnMessage(t Transport, msg Message)
	OnConnError(t Transport, err error)
	OnConnClose(t Transport, ev CloseEvent)
}

// TransportFactory builds the transport for one connection attempt, wired
// to the given handler.
type TransportFactory func(handler TransportHandler) Transport
