package tether

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

// fakeTransport is a hand-driven Transport. Connect does nothing; tests
// fire the lifecycle callbacks themselves, so every sequence of opens,
// messages and closes can be produced deterministically.
type fakeTransport struct {
	handler TransportHandler

	mu          sync.Mutex
	open        bool
	closed      bool
	closeCode   int
	closeReason string
	proto       string
	sent        []Message
	connects    int
}

func (f *fakeTransport) Connect() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.connects++
}

func (f *fakeTransport) Send(msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.open || f.closed {
		return ErrInvalidState
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	f.open = false
	f.closeCode = code
	f.closeReason = reason
	return nil
}

func (f *fakeTransport) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.open && !f.closed
}

func (f *fakeTransport) Subprotocol() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.proto
}

func (f *fakeTransport) fireOpen(proto string) {
	f.mu.Lock()
	f.open = true
	f.proto = proto
	f.mu.Unlock()

	f.handler.OnConnOpen(f, proto)
}

func (f *fakeTransport) fireMessage(msg Message) {
	f.handler.OnConnMessage(f, msg)
}

func (f *fakeTransport) fireError(err error) {
	f.handler.OnConnError(f, err)
}

func (f *fakeTransport) fireClose(ev CloseEvent) {
	f.mu.Lock()
	f.open = false
	f.mu.Unlock()

	f.handler.OnConnClose(f, ev)
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.connects
}

func (f *fakeTransport) closedWith() (int, string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closeCode, f.closeReason, f.closed
}

func (f *fakeTransport) sentMessages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]Message(nil), f.sent...)
}

// fakeFactory hands out fakeTransports and remembers them in creation
// order.
type fakeFactory struct {
	mu         sync.Mutex
	transports []*fakeTransport
}

func (f *fakeFactory) build(handler TransportHandler) Transport {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := &fakeTransport{handler: handler}
	f.transports = append(f.transports, t)
	return t
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.transports)
}

func (f *fakeFactory) last() *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.transports[len(f.transports)-1]
}

// policyCapture records every attempt count the supervisor consults the
// policy with.
type policyCapture struct {
	delay time.Duration

	mu    sync.Mutex
	calls []int
}

func (p *policyCapture) NextDelay(_ CloseEvent, attempts int) (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, attempts)
	return p.delay, p.delay > 0
}

func (p *policyCapture) seen() []int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]int(nil), p.calls...)
}

func newFakeSocket(t *testing.T, opts ...Option) (*Socket, *fakeFactory) {
	t.Helper()

	f := &fakeFactory{}
	base := []Option{
		WithAutomaticOpen(false),
		WithHeartbeat(false),
		WithTransportFactory(f.build),
	}
	s, err := NewSocket("ws://example.test/stream", append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, f
}

func waitForTransports(t *testing.T, f *fakeFactory, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return f.count() >= n }, 2*time.Second, time.Millisecond,
		"expected transport %d to be created", n)
}

func await[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		var zero T
		return zero
	}
}

func TestInitialStateIsConnecting(t *testing.T) {
	s, f := newFakeSocket(t)

	// The state claims "connecting" from construction on, even though
	// nothing is dialing until Open is called.
	require.Equal(t, StateConnecting, s.State())
	require.False(t, s.IsConnected())
	require.Equal(t, 0, f.count())
}

func TestAutomaticOpenDialsAtConstruction(t *testing.T) {
	f := &fakeFactory{}
	s, err := NewSocket("ws://example.test/stream",
		WithHeartbeat(false),
		WithTransportFactory(f.build))
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, 1, f.count())
	require.Equal(t, 1, f.last().connectCount())
}

func TestOpenEmitsConnectingAndDials(t *testing.T) {
	s, f := newFakeSocket(t)

	var kinds []EventKind
	s.On(EventConnecting, func(ev Event) {
		kinds = append(kinds, ev.Kind)
		require.Equal(t, StateConnecting, ev.State)
		require.Nil(t, ev.Close)
	})

	require.NoError(t, s.Open())
	require.Equal(t, []EventKind{EventConnecting}, kinds)
	require.Equal(t, 1, f.count())
	require.Equal(t, 1, f.last().connectCount())
	require.Equal(t, StateConnecting, s.State())
}

func TestOpenWhileTransportExists(t *testing.T) {
	s, f := newFakeSocket(t)

	require.NoError(t, s.Open())
	require.ErrorIs(t, s.Open(), ErrAlreadyConnected)

	f.last().fireOpen("")
	require.ErrorIs(t, s.Open(), ErrAlreadyConnected)
	require.Equal(t, 1, f.count())
}

func TestTransportOpenUpdatesSocket(t *testing.T) {
	s, f := newFakeSocket(t)

	var opened bool
	s.OnOpen(func() { opened = true })

	require.NoError(t, s.Open())
	f.last().fireOpen("chat.v2")

	require.True(t, opened)
	require.Equal(t, StateOpen, s.State())
	require.True(t, s.IsConnected())
	require.Equal(t, "chat.v2", s.Subprotocol())
	require.Equal(t, 0, s.ReconnectAttempts())
}

func TestMessagePassthrough(t *testing.T) {
	s, f := newFakeSocket(t)

	var got []Message
	s.OnMessage(func(msg Message) { got = append(got, msg) })

	require.NoError(t, s.Open())
	f.last().fireOpen("")
	f.last().fireMessage(Message{Data: []byte("payload"), Binary: true})

	require.Len(t, got, 1)
	require.Equal(t, []byte("payload"), got[0].Data)
	require.True(t, got[0].Binary)
}

func TestErrorEventLeavesStateAlone(t *testing.T) {
	s, f := newFakeSocket(t)

	var errs []error
	s.OnError(func(err error) { errs = append(errs, err) })

	require.NoError(t, s.Open())
	f.last().fireOpen("")
	f.last().fireError(errors.New("boom"))

	require.Len(t, errs, 1)
	require.EqualError(t, errs[0], "boom")
	require.Equal(t, StateOpen, s.State())
}

func TestSendRequiresOpenConnection(t *testing.T) {
	s, f := newFakeSocket(t)

	for _, payload := range [][]byte{nil, {}, []byte("data")} {
		require.ErrorIs(t, s.Send(payload), ErrInvalidState)
	}

	require.NoError(t, s.Open())
	require.ErrorIs(t, s.Send([]byte("still connecting")), ErrInvalidState)

	f.last().fireOpen("")
	require.NoError(t, s.Send([]byte("now open")))
	require.Len(t, f.last().sentMessages(), 1)
}

func TestSendFraming(t *testing.T) {
	s, f := newFakeSocket(t)
	require.NoError(t, s.Open())
	f.last().fireOpen("")

	require.NoError(t, s.Send([]byte("text")))
	require.NoError(t, s.SendMessage(Message{Data: []byte{0x01}, Binary: true}))

	sent := f.last().sentMessages()
	require.Len(t, sent, 2)
	require.False(t, sent[0].Binary)
	require.True(t, sent[1].Binary)

	raw, rf := newFakeSocket(t, WithBinaryType(BinaryTypeArrayBuffer))
	require.NoError(t, raw.Open())
	rf.last().fireOpen("")
	require.NoError(t, raw.Send([]byte("bytes")))
	require.True(t, rf.last().sentMessages()[0].Binary)
}

func TestExplicitClose(t *testing.T) {
	s, f := newFakeSocket(t, WithReconnectPolicy(FixedDelay(time.Millisecond)))

	var closeEvents []Event
	s.On(EventClose, func(ev Event) { closeEvents = append(closeEvents, ev) })

	require.NoError(t, s.Open())
	tr := f.last()
	tr.fireOpen("")

	require.NoError(t, s.Close())
	require.Equal(t, StateClosing, s.State())
	code, _, closed := tr.closedWith()
	require.True(t, closed)
	require.Equal(t, CloseNormalClosure, code)

	tr.fireClose(CloseEvent{Code: CloseNormalClosure, WasClean: true})
	require.Equal(t, StateClosed, s.State())
	require.Len(t, closeEvents, 1)
	require.Equal(t, StateClosed, closeEvents[0].State)
	require.NotNil(t, closeEvents[0].Close)
	require.True(t, closeEvents[0].Close.WasClean)

	// Terminal: the permissive policy never gets a say.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, f.count())
	require.ErrorIs(t, s.Open(), ErrClosed)
	require.ErrorIs(t, s.Send([]byte("x")), ErrInvalidState)
}

func TestCloseIsIdempotent(t *testing.T) {
	s, f := newFakeSocket(t)

	require.NoError(t, s.Open())
	f.last().fireOpen("")
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	f.last().fireClose(CloseEvent{Code: CloseNormalClosure, WasClean: true})
	require.NoError(t, s.Close())
	require.Equal(t, StateClosed, s.State())
}

func TestCloseWithoutTransportEmitsNothing(t *testing.T) {
	s, _ := newFakeSocket(t)

	var closes int
	s.OnClose(func(CloseEvent) { closes++ })

	require.NoError(t, s.Close())
	require.Equal(t, StateClosed, s.State())
	// Listeners waiting for a close event never hear one in this case.
	require.Equal(t, 0, closes)
}

func TestCloseCancelsPendingReconnect(t *testing.T) {
	s, f := newFakeSocket(t, WithReconnectPolicy(FixedDelay(30*time.Millisecond)))

	require.NoError(t, s.Open())
	f.last().fireOpen("")
	f.last().fireClose(CloseEvent{Code: CloseAbnormalClosure})

	// A reconnect timer is pending now; closing must not error and must
	// keep the timer from ever creating a transport.
	require.NoError(t, s.Close())
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, f.count())
	require.Equal(t, StateClosed, s.State())
}

func TestAttemptCounterResetsOnOpen(t *testing.T) {
	capture := &policyCapture{delay: time.Millisecond}
	s, f := newFakeSocket(t, WithReconnectPolicy(capture))

	require.NoError(t, s.Open())
	f.last().fireOpen("")
	require.Equal(t, 0, s.ReconnectAttempts())

	f.last().fireClose(CloseEvent{Code: CloseAbnormalClosure})
	waitForTransports(t, f, 2)
	require.Equal(t, 1, s.ReconnectAttempts())

	f.last().fireClose(CloseEvent{Code: CloseAbnormalClosure})
	waitForTransports(t, f, 3)
	require.Equal(t, 2, s.ReconnectAttempts())

	f.last().fireOpen("")
	require.Equal(t, 0, s.ReconnectAttempts())
	f.last().fireClose(CloseEvent{Code: CloseAbnormalClosure})

	require.Equal(t, []int{0, 1, 0}, capture.seen())
}

func TestPolicyDeclineIsTerminal(t *testing.T) {
	s, f := newFakeSocket(t, WithReconnectPolicy(Never))

	var closeEvents []Event
	s.On(EventClose, func(ev Event) { closeEvents = append(closeEvents, ev) })

	require.NoError(t, s.Open())
	f.last().fireOpen("")
	f.last().fireClose(CloseEvent{Code: CloseAbnormalClosure})

	require.Len(t, closeEvents, 1)
	require.Equal(t, StateClosed, closeEvents[0].State)
	require.Equal(t, StateClosed, s.State())

	time.Sleep(30 * time.Millisecond)
	require.Equal(t, 1, f.count())

	// Not an explicit close, so the caller may still open manually.
	require.NoError(t, s.Open())
	require.Equal(t, 2, f.count())
}

func TestZeroDelayMeansDecline(t *testing.T) {
	// A policy answering 0 reads like "retry immediately" but is treated
	// as a refusal, same as any non-positive answer.
	s, f := newFakeSocket(t, WithReconnectPolicy(ReconnectFunc(func(CloseEvent, int) time.Duration {
		return 0
	})))

	var closes int
	s.OnClose(func(CloseEvent) { closes++ })

	require.NoError(t, s.Open())
	f.last().fireOpen("")
	f.last().fireClose(CloseEvent{Code: CloseAbnormalClosure})

	require.Equal(t, 1, closes)
	require.Equal(t, StateClosed, s.State())
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, 1, f.count())
}

func TestFixedDelayBetweenAttempts(t *testing.T) {
	const delay = 40 * time.Millisecond
	s, f := newFakeSocket(t, WithReconnectPolicy(FixedDelay(delay)))

	require.NoError(t, s.Open())
	f.last().fireOpen("")

	for cycle := 2; cycle <= 4; cycle++ {
		start := time.Now()
		f.last().fireClose(CloseEvent{Code: CloseAbnormalClosure})
		waitForTransports(t, f, cycle)
		elapsed := time.Since(start)
		require.GreaterOrEqual(t, elapsed, delay)
		require.Less(t, elapsed, 10*delay)
	}
}

func TestConnectingEventCarriesPriorClose(t *testing.T) {
	s, f := newFakeSocket(t, WithReconnectPolicy(FixedDelay(5*time.Millisecond)))

	priors := make(chan *CloseEvent, 4)
	s.On(EventConnecting, func(ev Event) { priors <- ev.Close })

	require.NoError(t, s.Open())
	require.Nil(t, await(t, priors))

	f.last().fireOpen("")
	f.last().fireClose(CloseEvent{Code: CloseGoingAway, Reason: "maintenance"})

	prior := await(t, priors)
	require.NotNil(t, prior)
	require.Equal(t, CloseGoingAway, prior.Code)
	require.Equal(t, "maintenance", prior.Reason)
}

func TestStaleTransportEventsIgnored(t *testing.T) {
	s, f := newFakeSocket(t, WithReconnectPolicy(FixedDelay(time.Millisecond)))

	var msgs, closes atomic.Int32
	s.OnMessage(func(Message) { msgs.Add(1) })
	s.OnClose(func(CloseEvent) { closes.Add(1) })

	require.NoError(t, s.Open())
	first := f.last()
	first.fireOpen("")
	first.fireClose(CloseEvent{Code: CloseAbnormalClosure})
	waitForTransports(t, f, 2)

	second := f.last()
	second.fireOpen("proto.b")
	require.Equal(t, StateOpen, s.State())

	// The replaced transport keeps talking; none of it may reach the
	// socket or schedule anything.
	first.fireOpen("stale")
	first.fireMessage(Message{Data: []byte("late")})
	first.fireClose(CloseEvent{Code: CloseAbnormalClosure})

	require.Equal(t, StateOpen, s.State())
	require.Equal(t, "proto.b", s.Subprotocol())
	require.EqualValues(t, 0, msgs.Load())
	require.EqualValues(t, 0, closes.Load())
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 2, f.count())
}

func TestReconnectDialsFresh(t *testing.T) {
	capture := &policyCapture{delay: time.Millisecond}
	s, f := newFakeSocket(t, WithReconnectPolicy(capture))

	require.NoError(t, s.Open())
	first := f.last()
	first.fireOpen("")

	require.NoError(t, s.Reconnect())
	require.Equal(t, 2, f.count())
	_, _, closed := first.closedWith()
	require.True(t, closed)

	// The old transport's close report is stale and consults no policy.
	first.fireClose(CloseEvent{Code: CloseGoingAway})
	require.Empty(t, capture.seen())
	require.Equal(t, 0, s.ReconnectAttempts())

	f.last().fireOpen("")
	require.Equal(t, StateOpen, s.State())
	require.Equal(t, 2, f.count())
}

func TestReconnectAfterCloseFails(t *testing.T) {
	s, _ := newFakeSocket(t)

	require.NoError(t, s.Close())
	require.ErrorIs(t, s.Reconnect(), ErrClosed)
}

func TestPolicyPanicPropagates(t *testing.T) {
	s, f := newFakeSocket(t, WithReconnectPolicy(ReconnectFunc(func(CloseEvent, int) time.Duration {
		panic("bad policy")
	})))

	require.NoError(t, s.Open())
	f.last().fireOpen("")

	require.PanicsWithValue(t, "bad policy", func() {
		f.last().fireClose(CloseEvent{Code: CloseAbnormalClosure})
	})
}

func TestHandlerFieldFiresBeforeListeners(t *testing.T) {
	s, f := newFakeSocket(t)

	var order []string
	s.OpenHandler = func(Event) { order = append(order, "handler") }
	s.OnOpen(func() { order = append(order, "listener1") })
	s.OnOpen(func() { order = append(order, "listener2") })

	require.NoError(t, s.Open())
	f.last().fireOpen("")

	require.Equal(t, []string{"handler", "listener1", "listener2"}, order)
}
