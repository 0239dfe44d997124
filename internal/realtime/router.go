package realtime

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Handler receives the payload of every frame dispatched under the event it
// was subscribed to. Handlers run on the transport's read goroutine; a handler
// that needs to Emit must do so from another goroutine, since the ack it waits
// for is read by the goroutine it is blocking.
type Handler interface {
	HandleEvent(payload json.RawMessage) error
}

// HandlerFunc adapts a function to Handler. Function values are not
// comparable, so each Subscribe with a HandlerFunc is its own registration.
type HandlerFunc func(payload json.RawMessage) error

func (f HandlerFunc) HandleEvent(payload json.RawMessage) error { return f(payload) }

type subscription struct {
	event   string
	handler Handler
	active  atomic.Bool
}

// Router maps event names to handlers and dispatches inbound payloads.
type Router struct {
	mu   sync.RWMutex
	subs map[string][]*subscription

	log     zerolog.Logger
	onError func(*HandlerError)
}

// NewRouter creates an empty router. onError, if non-nil, is called for
// every handler failure after it has been logged.
func NewRouter(log zerolog.Logger, onError func(*HandlerError)) *Router {
	return &Router{
		subs:    make(map[string][]*subscription),
		log:     log.With().Str("component", "router").Logger(),
		onError: onError,
	}
}

// Subscribe registers h under event and returns a function that removes that
// registration. Subscribing an equal, comparable handler twice under the same
// event keeps a single registration. HandlerFunc values and other handlers
// that cannot be compared are registered, and invoked, once per call.
func (r *Router) Subscribe(event string, h Handler) (unsubscribe func()) {
	if h == nil {
		return func() {}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.subs[event] {
		if sameHandler(s.handler, h) {
			return r.unsubscriber(s)
		}
	}

	s := &subscription{event: event, handler: h}
	s.active.Store(true)
	r.subs[event] = append(r.subs[event], s)
	return r.unsubscriber(s)
}

func (r *Router) unsubscriber(s *subscription) func() {
	return func() {
		if !s.active.Swap(false) {
			return
		}
		r.remove(s)
	}
}

func (r *Router) remove(target *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.subs[target.event]
	for i, s := range list {
		if s != target {
			continue
		}
		next := make([]*subscription, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(r.subs, target.event)
		} else {
			r.subs[target.event] = next
		}
		return
	}
}

// Dispatch delivers payload to every handler registered under event, in
// registration order, and returns how many were invoked. Handlers run outside
// the registry lock, so they may subscribe or unsubscribe freely.
func (r *Router) Dispatch(event string, payload json.RawMessage) int {
	r.mu.RLock()
	snapshot := r.subs[event]
	r.mu.RUnlock()

	delivered := 0
	for _, s := range snapshot {
		// An unsubscribe that returned before this check wins. One racing
		// with it from another goroutine may return while this delivery is
		// under way; every later Dispatch skips the subscription.
		if !s.active.Load() {
			continue
		}
		r.invoke(s, payload)
		delivered++
	}
	return delivered
}

func (r *Router) invoke(s *subscription, payload json.RawMessage) {
	var herr *HandlerError
	func() {
		defer func() {
			if p := recover(); p != nil {
				herr = &HandlerError{Event: s.event, Panic: p, Err: fmt.Errorf("panic: %v", p)}
			}
		}()
		if err := s.handler.HandleEvent(payload); err != nil {
			herr = &HandlerError{Event: s.event, Err: err}
		}
	}()
	if herr == nil {
		return
	}
	r.log.Warn().Str("event", s.event).Err(herr).Msg("handler failed")
	if r.onError != nil {
		r.onError(herr)
	}
}

// Handlers returns the number of registrations under event.
func (r *Router) Handlers(event string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[event])
}

// Events returns the number of event names with at least one registration.
func (r *Router) Events() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// DisconnectAll drops every registration.
func (r *Router) DisconnectAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, list := range r.subs {
		for _, s := range list {
			s.active.Store(false)
		}
	}
	r.subs = make(map[string][]*subscription)
}

// sameHandler reports whether a and b are equal handler values. Values that
// cannot be compared, such as structs holding a func in an interface field,
// are never equal.
func sameHandler(a, b Handler) (same bool) {
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}
