package vitals

import (
	"fmt"
	"sync"

	"github.com/Thejuampi/vitals-client-go/vitals/logging"
)

// Listener receives events. A panicking listener is recovered and logged; it never
// stops delivery to the listeners registered after it.
type Listener func(Event)

// Subscription identifies one registered listener.
type Subscription struct {
	registry *ListenerRegistry
	kind     EventKind
	id       uint64
}

// Kind returns the event kind the subscription listens to.
func (subscription Subscription) Kind() EventKind { return subscription.kind }

// Unsubscribe removes the listener. It is safe to call more than once and on the zero
// Subscription.
func (subscription Subscription) Unsubscribe() {
	if subscription.registry != nil {
		subscription.registry.Off(subscription)
	}
}

type listenerEntry struct {
	id       uint64
	listener Listener
}

// ListenerRegistry maps event kinds to ordered listeners. Registration order is
// invocation order.
type ListenerRegistry struct {
	lock      sync.Mutex
	nextID    uint64
	listeners map[EventKind][]listenerEntry
	logger    *logging.Logger
}

// NewListenerRegistry returns an empty registry logging listener failures to logger.
func NewListenerRegistry(logger *logging.Logger) *ListenerRegistry {
	if logger == nil {
		logger = logging.Nop()
	}
	return &ListenerRegistry{
		listeners: make(map[EventKind][]listenerEntry),
		logger:    logger,
	}
}

// On registers listener for kind. A nil listener is ignored and yields the zero
// Subscription.
func (registry *ListenerRegistry) On(kind EventKind, listener Listener) Subscription {
	if listener == nil {
		return Subscription{}
	}
	registry.lock.Lock()
	defer registry.lock.Unlock()
	registry.nextID++
	registry.listeners[kind] = append(registry.listeners[kind], listenerEntry{id: registry.nextID, listener: listener})
	return Subscription{registry: registry, kind: kind, id: registry.nextID}
}

// Off removes the listener behind subscription and reports whether it was registered.
func (registry *ListenerRegistry) Off(subscription Subscription) bool {
	if subscription.registry != registry {
		return false
	}
	registry.lock.Lock()
	defer registry.lock.Unlock()
	entries := registry.listeners[subscription.kind]
	for index, entry := range entries {
		if entry.id != subscription.id {
			continue
		}
		remaining := make([]listenerEntry, 0, len(entries)-1)
		remaining = append(remaining, entries[:index]...)
		remaining = append(remaining, entries[index+1:]...)
		if len(remaining) == 0 {
			delete(registry.listeners, subscription.kind)
		} else {
			registry.listeners[subscription.kind] = remaining
		}
		return true
	}
	return false
}

// Emit delivers event to every listener of event.Kind registered at the time of the
// call and returns how many completed without panicking.
func (registry *ListenerRegistry) Emit(event Event) int {
	registry.lock.Lock()
	entries := registry.listeners[event.Kind]
	registry.lock.Unlock()

	delivered := 0
	for _, entry := range entries {
		if registry.invoke(entry, event) {
			delivered++
		}
	}
	return delivered
}

func (registry *ListenerRegistry) invoke(entry listenerEntry, event Event) (ok bool) {
	defer func() {
		if recovered := recover(); recovered != nil {
			ok = false
			registry.logger.Error("listener failed",
				"event", event.Kind.String(),
				"listener", entry.id,
				"error", NewError(ListenerPanicError, fmt.Sprint(recovered)),
			)
		}
	}()
	entry.listener(event)
	return true
}

// Count returns how many listeners are registered for kind.
func (registry *ListenerRegistry) Count(kind EventKind) int {
	registry.lock.Lock()
	defer registry.lock.Unlock()
	return len(registry.listeners[kind])
}

// Clear removes every listener.
func (registry *ListenerRegistry) Clear() {
	registry.lock.Lock()
	registry.listeners = make(map[EventKind][]listenerEntry)
	registry.lock.Unlock()
}
