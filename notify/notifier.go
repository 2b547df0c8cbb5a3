package notify

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gobwas/glob"
	"github.com/maxpert/ripple/change"
	"github.com/maxpert/ripple/telemetry"
	"github.com/rs/zerolog/log"
)

// ErrClosed is reported by subscriptions created on, or detached by, a closed hub
var ErrClosed = errors.New("notify: hub closed")

// Handler receives events. Returning an error terminates the subscription.
type Handler func(change.Event) error

// Filter selects the events a subscription receives. Zero fields match everything.
type Filter struct {
	// Type matches events whose entity type is assignable to it, so an
	// interface type matches every implementing entity.
	Type reflect.Type
	// Kinds restricts delivery to the listed kinds.
	Kinds change.KindSet
	// Tables are glob patterns matched against the event table.
	Tables []string
}

type matcher struct {
	typ    reflect.Type
	kinds  change.KindSet
	tables []glob.Glob
}

func compileFilter(f Filter) (matcher, error) {
	m := matcher{typ: f.Type, kinds: f.Kinds}
	for _, pattern := range f.Tables {
		g, err := glob.Compile(pattern)
		if err != nil {
			return matcher{}, fmt.Errorf("invalid table pattern %q: %w", pattern, err)
		}
		m.tables = append(m.tables, g)
	}
	return m, nil
}

func (m matcher) matches(ev change.Event) bool {
	if !m.kinds.Has(ev.Kind()) {
		return false
	}
	if m.typ != nil && !ev.EntityType().AssignableTo(m.typ) {
		return false
	}
	if len(m.tables) == 0 {
		return true
	}
	for _, g := range m.tables {
		if g.Match(ev.Table()) {
			return true
		}
	}
	return false
}

// Subscription is one attached observer. It starts attached and detaches
// exactly once, on Cancel or when its handler fails.
type Subscription struct {
	id      uint64
	hub     *Hub
	match   matcher
	handler Handler

	mu       sync.Mutex
	idle     *sync.Cond // signalled when a delivery returns or a detach starts waiting
	attached bool
	err      error
	done     chan struct{}

	// Deliveries past the attached check, and detaches waiting on them,
	// keyed by goroutine.
	inflight map[uint64]int
	waiting  map[uint64]int
}

func newSubscription(h *Hub, m matcher, handler Handler) *Subscription {
	sub := &Subscription{
		id:       h.nextID.Add(1),
		hub:      h,
		match:    m,
		handler:  handler,
		attached: true,
		done:     make(chan struct{}),
		inflight: make(map[uint64]int),
		waiting:  make(map[uint64]int),
	}
	sub.idle = sync.NewCond(&sub.mu)
	return sub
}

// Cancel detaches the subscription. No delivery starts after Cancel
// returns: a delivery already running on another goroutine is waited for.
// Safe to call more than once and from inside the handler.
func (s *Subscription) Cancel() {
	s.detach(nil)
}

// Attached reports whether the subscription still receives events
func (s *Subscription) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

// Done is closed when the subscription detaches
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the handler failure that detached the subscription, if any
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) detach(cause error) {
	s.mu.Lock()
	removed := s.attached
	if s.attached {
		s.attached = false
		s.err = cause
		close(s.done)
	}
	s.mu.Unlock()

	if removed {
		s.hub.remove(s.id)
	}
	s.awaitDeliveries(goroutineID())
}

// awaitDeliveries blocks until every delivery on another goroutine has
// returned. Deliveries whose handler is itself waiting in a detach have
// already entered the handler and are skipped, as is the caller's own.
func (s *Subscription) awaitDeliveries(gid uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.waiting[gid]++
	s.idle.Broadcast()
	for s.busyElsewhere(gid) {
		s.idle.Wait()
	}
	if s.waiting[gid]--; s.waiting[gid] == 0 {
		delete(s.waiting, gid)
	}
}

func (s *Subscription) busyElsewhere(gid uint64) bool {
	for g := range s.inflight {
		if g != gid && s.waiting[g] == 0 {
			return true
		}
	}
	return false
}

func (s *Subscription) deliver(ev change.Event, gid uint64) bool {
	if !s.match.matches(ev) {
		return false
	}

	// The attached check and the registration of the delivery happen under
	// s.mu, so a detach either stops it here or waits for it to return.
	s.mu.Lock()
	if !s.attached {
		s.mu.Unlock()
		return false
	}
	s.inflight[gid]++
	s.mu.Unlock()

	err := s.invoke(ev)

	s.mu.Lock()
	if s.inflight[gid]--; s.inflight[gid] == 0 {
		delete(s.inflight, gid)
	}
	s.idle.Broadcast()
	s.mu.Unlock()

	if err != nil {
		telemetry.ObserverFailuresTotal.Inc()
		log.Warn().
			Err(err).
			Uint64("subscription", s.id).
			Str("event", ev.String()).
			Msg("Change observer failed, detaching subscription")
		s.detach(err)
	}
	return true
}

func (s *Subscription) invoke(ev change.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panic: %v", r)
		}
	}()
	return s.handler(ev)
}

// Hub is the change bus for one store connection. Publish delivers
// synchronously on the caller's goroutine to every subscription attached
// at the time of the call; nothing is buffered or replayed.
type Hub struct {
	mu            sync.Mutex
	subscriptions map[uint64]*Subscription
	snapshot      atomic.Pointer[[]*Subscription]
	nextID        atomic.Uint64
	closed        bool
}

// NewHub creates a new change hub
func NewHub() *Hub {
	h := &Hub{
		subscriptions: make(map[uint64]*Subscription),
	}
	h.snapshot.Store(&[]*Subscription{})
	return h
}

// Publish delivers ev to every matching attached subscription in
// subscription order and returns how many received it.
func (h *Hub) Publish(ev change.Event) int {
	if ev.IsZero() {
		log.Warn().Msg("Ignoring publish of empty change event")
		return 0
	}

	telemetry.ChangesPublishedTotal.With(ev.Kind().String()).Inc()

	subs := *h.snapshot.Load()
	if len(subs) == 0 {
		return 0
	}

	gid := goroutineID()
	delivered := 0
	for _, sub := range subs {
		if sub.deliver(ev, gid) {
			delivered++
		}
	}
	return delivered
}

// HasObservers reports whether any subscription is attached
func (h *Hub) HasObservers() bool {
	return len(*h.snapshot.Load()) > 0
}

// Observers returns the number of attached subscriptions
func (h *Hub) Observers() int {
	return len(*h.snapshot.Load())
}

// SubscribeAll attaches a handler for every future event
func (h *Hub) SubscribeAll(handler Handler) *Subscription {
	return h.attach(matcher{}, handler)
}

// Subscribe attaches a handler for events matching filter
func (h *Hub) Subscribe(filter Filter, handler Handler) (*Subscription, error) {
	m, err := compileFilter(filter)
	if err != nil {
		return nil, err
	}
	return h.attach(m, handler), nil
}

// Inserts attaches a handler for insert events of any type
func (h *Hub) Inserts(handler Handler) *Subscription {
	return h.attach(matcher{kinds: change.KindsOf(change.Insert)}, handler)
}

// Updates attaches a handler for update events of any type
func (h *Hub) Updates(handler Handler) *Subscription {
	return h.attach(matcher{kinds: change.KindsOf(change.Update)}, handler)
}

// Deletes attaches a handler for delete events of any type
func (h *Hub) Deletes(handler Handler) *Subscription {
	return h.attach(matcher{kinds: change.KindsOf(change.Delete)}, handler)
}

// Close detaches every subscription. Later subscriptions start detached
// with ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subscriptions))
	for _, sub := range h.subscriptions {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.detach(ErrClosed)
	}
}

func (h *Hub) attach(m matcher, handler Handler) *Subscription {
	sub := newSubscription(h, m, handler)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.attached = false
		sub.err = ErrClosed
		close(sub.done)
		return sub
	}
	h.subscriptions[sub.id] = sub
	h.publishSnapshotLocked()
	h.mu.Unlock()

	telemetry.ObserversAttached.Inc()
	return sub
}

// remove drops a detached subscription from the delivery snapshot
func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	_, ok := h.subscriptions[id]
	if ok {
		delete(h.subscriptions, id)
		h.publishSnapshotLocked()
	}
	h.mu.Unlock()

	if ok {
		telemetry.ObserversAttached.Dec()
	}
}

func (h *Hub) publishSnapshotLocked() {
	subs := make([]*Subscription, 0, len(h.subscriptions))
	for _, sub := range h.subscriptions {
		subs = append(subs, sub)
	}
	slices.SortFunc(subs, func(a, b *Subscription) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
	h.snapshot.Store(&subs)
}
