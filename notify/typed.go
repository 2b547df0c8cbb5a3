package notify

import (
	"reflect"

	"github.com/maxpert/ripple/change"
)

// Changes attaches a handler for every event whose entity is assignable to T
func Changes[T any](h *Hub, handler func(change.Of[T]) error) *Subscription {
	return subscribeTyped(h, 0, handler)
}

// Inserts attaches a handler for insert events of T
func Inserts[T any](h *Hub, handler func(change.Of[T]) error) *Subscription {
	return subscribeTyped(h, change.KindsOf(change.Insert), handler)
}

// Updates attaches a handler for update events of T
func Updates[T any](h *Hub, handler func(change.Of[T]) error) *Subscription {
	return subscribeTyped(h, change.KindsOf(change.Update), handler)
}

// Deletes attaches a handler for delete events of T
func Deletes[T any](h *Hub, handler func(change.Of[T]) error) *Subscription {
	return subscribeTyped(h, change.KindsOf(change.Delete), handler)
}

// On attaches a per-kind handler for events of T
func On[T any](h *Hub, handler change.Handler[T]) *Subscription {
	return subscribeTyped(h, 0, handler.Handle)
}

func subscribeTyped[T any](h *Hub, kinds change.KindSet, handler func(change.Of[T]) error) *Subscription {
	m := matcher{typ: reflect.TypeFor[T](), kinds: kinds}
	return h.attach(m, func(ev change.Event) error {
		typed, ok := change.As[T](ev)
		if !ok {
			return nil
		}
		return handler(typed)
	})
}
