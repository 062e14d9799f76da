package tether

// Message is a single payload sent or received over the transport. The
// socket relays Data unmodified in both directions.
type Message struct {
	Data []byte

	// Binary reports whether the payload rides a binary frame rather than
	// a text frame.
	Binary bool
}

// CloseEvent describes why a connection ended. It is handed to close
// listeners and to the reconnect policy, which may branch on the code.
type CloseEvent struct {
	Code   int
	Reason string

	// WasClean is true when the connection ended with a completed close
	// handshake rather than a dropped or failed connection.
	WasClean bool
}
