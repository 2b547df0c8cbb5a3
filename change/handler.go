package change

// Handler dispatches typed events to per-kind callbacks. Nil callbacks
// ignore their kind.
type Handler[T any] struct {
	OnInsert func(T) error
	OnUpdate func(T) error
	OnDelete func(T) error
}

// Handle calls the callback matching the event kind
func (h Handler[T]) Handle(ev Of[T]) error {
	var fn func(T) error
	switch ev.Kind() {
	case Insert:
		fn = h.OnInsert
	case Update:
		fn = h.OnUpdate
	case Delete:
		fn = h.OnDelete
	default:
		return ErrUnknownKind
	}

	if fn == nil {
		return nil
	}
	return fn(ev.Entity())
}

// Visitor receives untyped events by kind
type Visitor interface {
	VisitInsert(Event) error
	VisitUpdate(Event) error
	VisitDelete(Event) error
}

// Visit dispatches e to the visitor method for its kind
func (e Event) Visit(v Visitor) error {
	switch e.kind {
	case Insert:
		return v.VisitInsert(e)
	case Update:
		return v.VisitUpdate(e)
	case Delete:
		return v.VisitDelete(e)
	default:
		return ErrUnknownKind
	}
}
