// Package events implements the observer registry owned by every Server and
// Client: a table from event name to an ordered list of handlers.
//
// Topic-specific events use the name "message.<topic>", built with
// TopicEvent, so a handler can subscribe to a single topic without
// inspecting every message.
package events

import (
	"fmt"
	"sync"

	errspkg "github.com/drblury/ipcflow/internal/runtime/errors"
	"github.com/drblury/ipcflow/internal/runtime/jsoncodec"
)

// Event names emitted by servers and clients.
const (
	Listening       = "listening"
	Connection      = "connection"
	ConnectionClose = "connectionClose"
	Message         = "message"
	MessageError    = "messageError"
	Error           = "error"
	Close           = "close"

	Connect      = "connect"
	Reconnect    = "reconnect"
	ConnectError = "connectError"
	Disconnect   = "disconnect"

	topicPrefix = Message + "."
)

// TopicEvent returns the event name used for messages on topic.
func TopicEvent(topic string) string {
	return topicPrefix + topic
}

// Event is passed to every handler. Fields that do not apply to an event
// are left zero; ClientID is only set on the server side.
type Event struct {
	Name     string
	Topic    string
	Message  any
	ClientID string
	Err      error
}

// Bind decodes the message payload into v.
func (e Event) Bind(v any) error {
	return jsoncodec.Bind(e.Message, v)
}

// Handler observes one event. A returned error (or a panic) stops delivery
// of that event to later handlers and is reported back by Emit.
type Handler func(Event) error

// Subscription identifies a registered handler so it can be removed.
type Subscription struct {
	name string
	id   uint64
}

// Name returns the event name the subscription listens to.
func (s Subscription) Name() string { return s.name }

type entry struct {
	id      uint64
	handler Handler
}

// Registry maps event names to ordered handler lists. It is safe for
// concurrent use; handlers run on the goroutine that calls Emit.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]entry
	nextID   uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string][]entry)}
}

// On appends handler to the list for name.
func (r *Registry) On(name string, handler Handler) Subscription {
	if handler == nil {
		panic(errspkg.ErrHandlerRequired)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.handlers[name] = append(r.handlers[name], entry{id: r.nextID, handler: handler})
	return Subscription{name: name, id: r.nextID}
}

// Off removes a subscription. It reports whether the handler was registered.
func (r *Registry) Off(sub Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.handlers[sub.name]
	for i, e := range list {
		if e.id != sub.id {
			continue
		}
		next := make([]entry, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(r.handlers, sub.name)
		} else {
			r.handlers[sub.name] = next
		}
		return true
	}
	return false
}

// Count returns the number of handlers registered for name.
func (r *Registry) Count(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[name])
}

// Emit delivers ev to the handlers registered for ev.Name, in subscription
// order, against a snapshot taken before the first call. The first failing
// handler stops delivery; its error is returned wrapped in a HandlerError.
func (r *Registry) Emit(ev Event) error {
	r.mu.RLock()
	list := r.handlers[ev.Name]
	r.mu.RUnlock()

	for _, e := range list {
		if err := invoke(e.handler, ev); err != nil {
			return &errspkg.HandlerError{Event: ev.Name, ClientID: ev.ClientID, Err: err}
		}
	}
	return nil
}

func invoke(handler Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if rerr, ok := r.(error); ok {
				err = fmt.Errorf("panic: %w", rerr)
				return
			}
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(ev)
}
