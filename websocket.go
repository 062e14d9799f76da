package tether

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Websocket is the production Transport over a gorilla websocket
// connection. One instance serves exactly one connection attempt.
type Websocket struct {
	endpoint string
	dialer   *websocket.Dialer
	header   http.Header
	handler  TransportHandler

	mu       sync.Mutex
	conn     *websocket.Conn
	open     bool
	closed   bool
	cancel   context.CancelFunc
	subproto string

	// writeMu serializes data frame writes; gorilla allows one writer.
	writeMu sync.Mutex

	once sync.Once
}

func NewWebsocket(endpoint string, dialer *websocket.Dialer, header http.Header, handler TransportHandler) *Websocket {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Websocket{
		endpoint: endpoint,
		dialer:   dialer,
		header:   header,
		handler:  handler,
	}
}

func (w *Websocket) Connect() {
	w.mu.Lock()
	if w.closed {
		// Closed before the dial ever started. Still report the close so
		// the handler sees the attempt settle.
		w.mu.Unlock()
		w.finish(CloseEvent{Code: CloseAbnormalClosure})
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.mu.Unlock()

	go w.run(ctx)
}

// run dials and then reads until the connection ends. It is the only
// goroutine that delivers handler callbacks, so they arrive in order.
func (w *Websocket) run(ctx context.Context) {
	conn, resp, err := w.dialer.DialContext(ctx, w.endpoint, w.header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		if !w.isClosed() {
			w.handler.OnConnError(w, err)
		}
		w.finish(CloseEvent{Code: CloseAbnormalClosure})
		return
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		conn.Close()
		w.finish(CloseEvent{Code: CloseAbnormalClosure})
		return
	}
	w.conn = conn
	w.open = true
	w.subproto = conn.Subprotocol()
	w.mu.Unlock()

	w.handler.OnConnOpen(w, conn.Subprotocol())

	for {
		frame, data, err := conn.ReadMessage()
		if err != nil {
			w.readFailed(err)
			return
		}
		w.handler.OnConnMessage(w, Message{Data: data, Binary: frame == websocket.BinaryMessage})
	}
}

func (w *Websocket) readFailed(err error) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		// The peer completed the close handshake, whether it initiated the
		// close or answered ours.
		w.finish(CloseEvent{Code: ce.Code, Reason: ce.Text, WasClean: true})
		return
	}

	if !w.isClosed() {
		w.handler.OnConnError(w, err)
	}
	w.finish(CloseEvent{Code: CloseAbnormalClosure})
}

// finish tears the connection down and reports the close exactly once.
func (w *Websocket) finish(ev CloseEvent) {
	w.once.Do(func() {
		w.mu.Lock()
		w.open = false
		w.closed = true
		conn := w.conn
		w.conn = nil
		if w.cancel != nil {
			w.cancel()
		}
		w.mu.Unlock()

		if conn != nil {
			conn.Close()
		}
		w.handler.OnConnClose(w, ev)
	})
}

func (w *Websocket) Send(msg Message) error {
	w.mu.Lock()
	conn := w.conn
	usable := w.open && !w.closed
	w.mu.Unlock()

	if !usable || conn == nil {
		return ErrInvalidState
	}

	frame := websocket.TextMessage
	if msg.Binary {
		frame = websocket.BinaryMessage
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(frame, msg.Data)
}

func (w *Websocket) Close(code int, reason string) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	conn := w.conn
	cancel := w.cancel
	w.mu.Unlock()

	if conn == nil {
		// Dial still in flight, or Connect not called yet. Cancel the dial
		// and let run (or Connect) report the close.
		if cancel != nil {
			cancel()
		}
		return nil
	}

	// Ask the peer to close, then bound how long the reader waits for the
	// answering close frame.
	err := conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	if err != nil {
		conn.Close()
		return err
	}
	return conn.SetReadDeadline(time.Now().Add(closeGrace))
}

func (w *Websocket) IsOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.open && !w.closed && w.conn != nil
}

func (w *Websocket) Subprotocol() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.subproto
}

func (w *Websocket) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.closed
}
