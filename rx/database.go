// Package rx is the typed data gateway. Mutations go to the store and, when
// anyone is listening, announce themselves on the store's change hub.
// Results are deferred: nothing touches the store until they are awaited.
package rx

import (
	"fmt"
	"sync"

	"github.com/maxpert/ripple/change"
	"github.com/maxpert/ripple/db"
	"github.com/maxpert/ripple/entity"
	"github.com/maxpert/ripple/notify"
	"github.com/maxpert/ripple/telemetry"
	"github.com/rs/zerolog/log"
)

// BulkMode selects how DeleteWhere behaves while observers are attached
type BulkMode uint8

const (
	// BulkPerRow deletes matching rows one by one and publishes each
	BulkPerRow BulkMode = iota
	// BulkStatement issues a single DELETE and publishes nothing
	BulkStatement
)

func (m BulkMode) String() string {
	if m == BulkStatement {
		return "statement"
	}
	return "per_row"
}

// Option configures a Database
type Option func(*Database)

// WithSerializedWrites serializes writes and publishes their events in
// write order. Observers may write through the Database from inside their
// handler; those events are published immediately, nested in the delivery
// that caused them. A handler must not block on a write made by another
// goroutine.
func WithSerializedWrites(on bool) Option {
	return func(d *Database) {
		d.serialize = on
	}
}

// WithBulkDeletes sets the DeleteWhere strategy used while observers exist
func WithBulkDeletes(mode BulkMode) Option {
	return func(d *Database) {
		d.bulk = mode
	}
}

// Database is the gateway over one store
type Database struct {
	store    db.Accessor
	registry *entity.Registry
	hub      *notify.Hub

	serialize bool
	bulk      BulkMode
	mu        sync.Mutex
	seq       *notify.Sequencer
}

// New creates a gateway. Gateways over the same store share its hub.
func New(store db.Accessor, registry *entity.Registry, opts ...Option) *Database {
	d := &Database{
		store:     store,
		registry:  registry,
		hub:       store.Hub(),
		serialize: true,
		bulk:      BulkPerRow,
		seq:       notify.NewSequencer(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Hub returns the change hub mutations are published on
func (d *Database) Hub() *notify.Hub {
	return d.hub
}

// Registry returns the entity registry used for conversions
func (d *Database) Registry() *entity.Registry {
	return d.registry
}

// Store returns the underlying accessor
func (d *Database) Store() db.Accessor {
	return d.store
}

// writeScope is one write section. Events recorded in it are published
// when it ends, after the write lock is released.
type writeScope struct {
	d      *Database
	events []change.Event
}

func (d *Database) begin() *writeScope {
	if d.serialize {
		d.mu.Lock()
	}
	return &writeScope{d: d}
}

func (w *writeScope) end() {
	d := w.d
	if !d.serialize {
		w.publishAll()
		return
	}
	if len(w.events) == 0 {
		d.mu.Unlock()
		return
	}

	ticket := d.seq.Take()
	d.mu.Unlock()
	d.seq.Publish(ticket, w.publishAll)
}

func (w *writeScope) publishAll() {
	for _, ev := range w.events {
		w.d.hub.Publish(ev)
	}
}

func (d *Database) converterFor(e any) (entity.Converter, error) {
	if e == nil {
		return nil, change.ErrNilEntity
	}
	conv, err := d.registry.For(e)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// publish records a completed mutation for announcement when w ends.
// Events are only built when someone is listening.
func (w *writeScope) publish(kind change.Kind, e any, table string, id int64) {
	if !w.d.hub.HasObservers() {
		telemetry.ChangesSkippedTotal.With(kind.String()).Inc()
		return
	}

	ev, err := change.New(kind, e, change.WithTable(table), change.WithID(id))
	if err != nil {
		log.Error().Err(err).Str("table", table).Int64("id", id).Msg("Unable to build change event")
		return
	}
	w.events = append(w.events, ev)
}

func (d *Database) decode(conv entity.Converter, row entity.Row) (any, error) {
	e, err := conv.FromRow(row)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", conv.Table(), err)
	}
	return e, nil
}
