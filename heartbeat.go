package tether

import (
	"sync"
	"time"
)

// heartbeat periodically sends a liveness probe over one transport. One
// instance is created per successful open and bound to that transport; it
// never outlives it.
//
// Probes are fire-and-forget: nothing tracks an answer, so a silently dead
// connection is detected by the transport's own read failure, not here.
type heartbeat struct {
	transport Transport
	interval  time.Duration
	logger    Logger
	done      chan struct{}

	mu      sync.Mutex
	stopped bool
}

func newHeartbeat(transport Transport, interval time.Duration, logger Logger) *heartbeat {
	return &heartbeat{
		transport: transport,
		interval:  interval,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

func (h *heartbeat) start() {
	go h.loop()
}

func (h *heartbeat) loop() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.probe()
		}
	}
}

func (h *heartbeat) probe() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped || !h.transport.IsOpen() {
		return
	}
	h.logger.Println(LogDebug, "heartbeat", "Sending heartbeat")
	if err := h.transport.Send(Message{Data: []byte(heartbeatPayload)}); err != nil {
		h.logger.Printf(LogWarning, "heartbeat", "Probe failed: %s", err)
	}
}

// stop is synchronous: once it returns, no further probe will be sent,
// even if a tick was already due.
func (h *heartbeat) stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return
	}
	h.stopped = true
	close(h.done)
}
