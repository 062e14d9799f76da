package tether

import (
	"sync"

	"go.uber.org/atomic"
)

// EventKind names the five socket notifications.
type EventKind string

const (
	EventConnecting EventKind = "connecting"
	EventOpen       EventKind = "open"
	EventMessage    EventKind = "message"
	EventError      EventKind = "error"
	EventClose      EventKind = "close"
)

// Event is one socket notification. Kind says which fields are meaningful:
// Message for message events, Err for error events, Close for close events.
// Connecting events that follow a dropped connection also carry the Close
// that triggered the retry; on a first connect it is nil.
//
// State is the socket's lifecycle state observed when the event fired.
type Event struct {
	Kind    EventKind
	State   State
	Message Message
	Err     error
	Close   *CloseEvent
}

// Ref identifies a registered listener so it can be removed later.
type Ref uint64

type listenerBinding struct {
	ref Ref
	fn  func(Event)
}

type listenerRegistry struct {
	refs atomic.Uint64

	mu       sync.RWMutex
	bindings map[EventKind][]listenerBinding
}

func newListenerRegistry() *listenerRegistry {
	return &listenerRegistry{
		bindings: make(map[EventKind][]listenerBinding),
	}
}

func (r *listenerRegistry) add(kind EventKind, fn func(Event)) Ref {
	ref := Ref(r.refs.Add(1))

	r.mu.Lock()
	defer r.mu.Unlock()

	r.bindings[kind] = append(r.bindings[kind], listenerBinding{ref: ref, fn: fn})
	return ref
}

func (r *listenerRegistry) remove(ref Ref) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for kind, list := range r.bindings {
		for i, binding := range list {
			if binding.ref == ref {
				r.bindings[kind] = append(list[:i], list[i+1:]...)
				return
			}
		}
	}
}

func (r *listenerRegistry) clear(kind EventKind) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.bindings, kind)
}

// snapshot copies the listeners for kind so they can be invoked without
// holding the lock.
func (r *listenerRegistry) snapshot(kind EventKind) []func(Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.bindings[kind]
	if len(list) == 0 {
		return nil
	}
	fns := make([]func(Event), len(list))
	for i, binding := range list {
		fns[i] = binding.fn
	}
	return fns
}

// On registers a listener for the given event kind and returns a Ref that
// removes it again via Off. Listeners run in registration order, after the
// socket's handler field for that kind.
func (s *Socket) On(kind EventKind, fn func(Event)) Ref {
	return s.listeners.add(kind, fn)
}

// Off removes the listener registered under ref.
func (s *Socket) Off(ref Ref) {
	s.listeners.remove(ref)
}

// Clear removes all listeners for the given event kind.
func (s *Socket) Clear(kind EventKind) {
	s.listeners.clear(kind)
}

// OnConnecting registers a listener for connecting events.
func (s *Socket) OnConnecting(fn func()) Ref {
	return s.On(EventConnecting, func(Event) { fn() })
}

// OnOpen registers a listener for open events.
func (s *Socket) OnOpen(fn func()) Ref {
	return s.On(EventOpen, func(Event) { fn() })
}

// OnMessage registers a listener for received messages.
func (s *Socket) OnMessage(fn func(msg Message)) Ref {
	return s.On(EventMessage, func(ev Event) { fn(ev.Message) })
}

// OnError registers a listener for connection errors.
func (s *Socket) OnError(fn func(err error)) Ref {
	return s.On(EventError, func(ev Event) { fn(ev.Err) })
}

// OnClose registers a listener for close events.
func (s *Socket) OnClose(fn func(ev CloseEvent)) Ref {
	return s.On(EventClose, func(ev Event) {
		if ev.Close != nil {
			fn(*ev.Close)
			return
		}
		fn(CloseEvent{})
	})
}

// Dispatch delivers an event to the handler field for its kind and then to
// every registered listener, in registration order. The socket's own
// notifications go through this same path, so both views always agree.
func (s *Socket) Dispatch(ev Event) {
	if slot := s.slotFor(ev.Kind); slot != nil {
		slot(ev)
	}
	for _, fn := range s.listeners.snapshot(ev.Kind) {
		fn(ev)
	}
}

func (s *Socket) slotFor(kind EventKind) func(Event) {
	switch kind {
	case EventConnecting:
		return s.ConnectingHandler
	case EventOpen:
		return s.OpenHandler
	case EventMessage:
		return s.MessageHandler
	case EventError:
		return s.ErrorHandler
	case EventClose:
		return s.CloseHandler
	}
	return nil
}
