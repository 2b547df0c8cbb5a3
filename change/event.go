// Package change models database change events: one insert, update or
// delete of one entity instance.
//
// Events are values. Every field is unexported and fixed by the
// constructors, so an event placed on the bus cannot be altered by any
// receiver. The entity itself is carried by reference; its runtime type is
// captured once at construction so later mutation of the entity by the
// caller never changes how the event is routed.
package change

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	// ErrNilEntity is returned when an event is constructed without an entity
	ErrNilEntity = errors.New("change: entity must not be nil")
	// ErrUnknownKind is returned when dispatching an event of an unrecognized kind
	ErrUnknownKind = errors.New("change: unknown event kind")
)

// Kind identifies the mutation an event describes
type Kind uint8

const (
	Insert Kind = iota + 1
	Update
	Delete
)

// Kinds lists every kind in declaration order
var Kinds = [...]Kind{Insert, Update, Delete}

func (k Kind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid reports whether k is one of Insert, Update or Delete
func (k Kind) Valid() bool {
	return k >= Insert && k <= Delete
}

// ParseKind parses "insert", "update" or "delete" (case-insensitive)
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "insert":
		return Insert, nil
	case "update":
		return Update, nil
	case "delete":
		return Delete, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// KindSet is a bitmask of kinds. The zero value matches every kind.
type KindSet uint8

// KindsOf builds a set from the given kinds
func KindsOf(kinds ...Kind) KindSet {
	var s KindSet
	for _, k := range kinds {
		if k.Valid() {
			s |= 1 << k
		}
	}
	return s
}

// Has reports whether the set matches k. An empty set matches everything.
func (s KindSet) Has(k Kind) bool {
	if s == 0 {
		return true
	}
	return s&(1<<k) != 0
}

// Event is an immutable record of one mutation to one entity
type Event struct {
	kind       Kind
	entity     any
	entityType reflect.Type
	table      string
	id         int64
	hasID      bool
}

// Option decorates an event at construction time
type Option func(*Event)

// WithTable records the table the entity was written to
func WithTable(table string) Option {
	return func(e *Event) { e.table = table }
}

// WithID records the row identifier affected by the mutation
func WithID(id int64) Option {
	return func(e *Event) {
		e.id = id
		e.hasID = true
	}
}

// NewInsert creates an insert event for entity
func NewInsert(entity any, opts ...Option) (Event, error) {
	return newEvent(Insert, entity, opts)
}

// NewUpdate creates an update event for entity
func NewUpdate(entity any, opts ...Option) (Event, error) {
	return newEvent(Update, entity, opts)
}

// NewDelete creates a delete event for entity
func NewDelete(entity any, opts ...Option) (Event, error) {
	return newEvent(Delete, entity, opts)
}

// New creates an event of the given kind
func New(kind Kind, entity any, opts ...Option) (Event, error) {
	if !kind.Valid() {
		return Event{}, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(kind))
	}
	return newEvent(kind, entity, opts)
}

func newEvent(kind Kind, entity any, opts []Option) (Event, error) {
	if isNil(entity) {
		return Event{}, ErrNilEntity
	}

	e := Event{
		kind:       kind,
		entity:     entity,
		entityType: reflect.TypeOf(entity),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// Kind returns the mutation kind
func (e Event) Kind() Kind { return e.kind }

// Entity returns the entity instance carried by the event
func (e Event) Entity() any { return e.entity }

// EntityType returns the runtime type of the entity, captured at construction
func (e Event) EntityType() reflect.Type { return e.entityType }

// Table returns the table name, empty when not recorded
func (e Event) Table() string { return e.table }

// ID returns the affected row identifier when recorded
func (e Event) ID() (int64, bool) { return e.id, e.hasID }

// IsZero reports whether e was never constructed
func (e Event) IsZero() bool { return e.entity == nil }

func (e Event) String() string {
	if e.hasID {
		return fmt.Sprintf("%s %s(%s#%d)", e.kind, e.entityType, e.table, e.id)
	}
	return fmt.Sprintf("%s %s", e.kind, e.entityType)
}

// Of is a typed view of an event whose entity is assignable to T
type Of[T any] struct {
	Event
}

// Entity returns the carried entity as T
func (o Of[T]) Entity() T {
	return o.Event.entity.(T)
}

// As returns the typed view of e when its entity type is assignable to T.
// T may be an interface, in which case any implementing entity matches.
func As[T any](e Event) (Of[T], bool) {
	if e.entityType == nil || !e.entityType.AssignableTo(reflect.TypeFor[T]()) {
		return Of[T]{}, false
	}
	return Of[T]{Event: e}, true
}
