package tether

import "errors"

var (
	// ErrInvalidState is returned by Send when the socket has no open
	// connection. Payloads are never queued for later delivery.
	ErrInvalidState = errors.New("tether: socket is not open")

	// ErrClosed is returned when an operation requires a socket that has
	// not been explicitly closed.
	ErrClosed = errors.New("tether: socket closed")

	// ErrAlreadyConnected is returned by Open while a connection attempt
	// or an established connection already exists.
	ErrAlreadyConnected = errors.New("tether: already connected")
)
