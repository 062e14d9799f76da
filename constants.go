package tether

import "time"

// State is the lifecycle state of a Socket. The values mirror the four
// canonical readyState values of a websocket connection.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Close codes from RFC 6455 that the socket itself needs. Policies that
// want to branch on other codes can compare CloseEvent.Code directly.
const (
	CloseNormalClosure   = 1000
	CloseGoingAway       = 1001
	CloseAbnormalClosure = 1006
)

const (
	// defaultConnectTimeout is the handshake timeout for each connection attempt.
	defaultConnectTimeout = 10 * time.Second

	// defaultHeartbeatInterval is the default time between liveness probes.
	defaultHeartbeatInterval = 60 * time.Second

	// heartbeatPayload is the in-band probe a cooperating server recognizes.
	// It rides a regular text frame, not a protocol-level ping.
	heartbeatPayload = "hb"

	// closeGrace is how long the reader waits for the peer to answer a
	// close frame before giving up on the handshake.
	closeGrace = 5 * time.Second

	// writeWait is the deadline applied to a single frame write.
	writeWait = 10 * time.Second
)

// Default reconnect backoff: 500ms growing by 1.5x per attempt, with the
// exponent capped so the delay plateaus (~28.8s) instead of growing forever.
const (
	defaultBackoffBase   = 500 * time.Millisecond
	defaultBackoffFactor = 1.5
	defaultBackoffCap    = 10
)
