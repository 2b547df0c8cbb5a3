package notify

import (
	"errors"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maxpert/ripple/change"
)

type note struct {
	Title string
}

func (n *note) Label() string { return n.Title }

type photo struct {
	Path string
}

type labeled interface {
	Label() string
}

func mustEvent(t *testing.T, kind change.Kind, entity any, opts ...change.Option) change.Event {
	t.Helper()
	ev, err := change.New(kind, entity, opts...)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	return ev
}

func TestHub_BasicSubscribePublish(t *testing.T) {
	hub := NewHub()

	var got []change.Event
	sub := hub.SubscribeAll(func(ev change.Event) error {
		got = append(got, ev)
		return nil
	})
	defer sub.Cancel()

	n := &note{Title: "Test"}
	delivered := hub.Publish(mustEvent(t, change.Insert, n))

	if delivered != 1 {
		t.Fatalf("expected 1 delivery, got %d", delivered)
	}
	if len(got) != 1 || got[0].Entity() != n || got[0].Kind() != change.Insert {
		t.Errorf("unexpected events: %v", got)
	}
}

func TestHub_PublishOrder(t *testing.T) {
	hub := NewHub()

	var kinds []change.Kind
	sub := hub.SubscribeAll(func(ev change.Event) error {
		kinds = append(kinds, ev.Kind())
		return nil
	})
	defer sub.Cancel()

	n := &note{}
	hub.Publish(mustEvent(t, change.Insert, n))
	hub.Publish(mustEvent(t, change.Update, n))
	hub.Publish(mustEvent(t, change.Update, n))
	hub.Publish(mustEvent(t, change.Delete, n))

	want := []change.Kind{change.Insert, change.Update, change.Update, change.Delete}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("expected %v, got %v", want, kinds)
	}
}

func TestHub_SubscriptionIsolation(t *testing.T) {
	hub := NewHub()

	var all, notes atomic.Int32
	allSub := hub.SubscribeAll(func(change.Event) error {
		all.Add(1)
		return nil
	})
	defer allSub.Cancel()

	noteSub := Changes(hub, func(ev change.Of[*note]) error {
		if ev.Entity() == nil {
			t.Error("typed entity should not be nil")
		}
		notes.Add(1)
		return nil
	})
	defer noteSub.Cancel()

	hub.Publish(mustEvent(t, change.Insert, &note{}))
	hub.Publish(mustEvent(t, change.Insert, &photo{}))

	if all.Load() != 2 {
		t.Errorf("expected 2 unfiltered deliveries, got %d", all.Load())
	}
	if notes.Load() != 1 {
		t.Errorf("expected 1 note delivery, got %d", notes.Load())
	}
}

func TestHub_InterfaceTypeMatchesImplementations(t *testing.T) {
	hub := NewHub()

	var count int
	sub := Changes(hub, func(ev change.Of[labeled]) error {
		if ev.Entity().Label() != "x" {
			t.Errorf("unexpected label %q", ev.Entity().Label())
		}
		count++
		return nil
	})
	defer sub.Cancel()

	hub.Publish(mustEvent(t, change.Update, &note{Title: "x"}))
	hub.Publish(mustEvent(t, change.Update, &photo{}))

	if count != 1 {
		t.Errorf("expected 1 delivery for interface filter, got %d", count)
	}
}

func TestHub_KindFilteredViews(t *testing.T) {
	hub := NewHub()

	var inserts, updates, deletes, anyUpdates atomic.Int32
	subs := []*Subscription{
		Inserts(hub, func(change.Of[*note]) error { inserts.Add(1); return nil }),
		Updates(hub, func(change.Of[*note]) error { updates.Add(1); return nil }),
		Deletes(hub, func(change.Of[*note]) error { deletes.Add(1); return nil }),
		hub.Updates(func(change.Event) error { anyUpdates.Add(1); return nil }),
	}
	defer func() {
		for _, s := range subs {
			s.Cancel()
		}
	}()

	n := &note{}
	hub.Publish(mustEvent(t, change.Insert, n))
	hub.Publish(mustEvent(t, change.Update, n))
	hub.Publish(mustEvent(t, change.Update, &photo{}))

	if inserts.Load() != 1 || updates.Load() != 1 || deletes.Load() != 0 {
		t.Errorf("typed counts insert=%d update=%d delete=%d", inserts.Load(), updates.Load(), deletes.Load())
	}
	if anyUpdates.Load() != 2 {
		t.Errorf("expected 2 untyped updates, got %d", anyUpdates.Load())
	}
}

func TestHub_OnDispatchesPerKind(t *testing.T) {
	hub := NewHub()

	counts := map[change.Kind]int{}
	sub := On(hub, change.Handler[*note]{
		OnInsert: func(*note) error { counts[change.Insert]++; return nil },
		OnUpdate: func(*note) error { counts[change.Update]++; return nil },
		OnDelete: func(*note) error { counts[change.Delete]++; return nil },
	})
	defer sub.Cancel()

	n := &note{}
	for _, k := range change.Kinds {
		hub.Publish(mustEvent(t, k, n))
	}
	hub.Publish(mustEvent(t, change.Insert, &photo{}))

	want := map[change.Kind]int{change.Insert: 1, change.Update: 1, change.Delete: 1}
	if !reflect.DeepEqual(counts, want) {
		t.Errorf("expected %v, got %v", want, counts)
	}
}

func TestHub_TableFilter(t *testing.T) {
	hub := NewHub()

	var count int
	sub, err := hub.Subscribe(Filter{Tables: []string{"note*"}, Kinds: change.KindsOf(change.Insert, change.Delete)}, func(change.Event) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Cancel()

	hub.Publish(mustEvent(t, change.Insert, &note{}, change.WithTable("notes")))
	hub.Publish(mustEvent(t, change.Update, &note{}, change.WithTable("notes")))
	hub.Publish(mustEvent(t, change.Insert, &photo{}, change.WithTable("photos")))
	hub.Publish(mustEvent(t, change.Delete, &note{}, change.WithTable("note_archive")))

	if count != 2 {
		t.Errorf("expected 2 deliveries, got %d", count)
	}

	if _, err := hub.Subscribe(Filter{Tables: []string{"[unclosed"}}, func(change.Event) error { return nil }); err == nil {
		t.Error("expected error for invalid glob")
	}
}

func TestHub_TypeFilterWithReflectType(t *testing.T) {
	hub := NewHub()

	var count int
	sub, err := hub.Subscribe(Filter{Type: reflect.TypeFor[*photo]()}, func(change.Event) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Cancel()

	hub.Publish(mustEvent(t, change.Insert, &note{}))
	hub.Publish(mustEvent(t, change.Insert, &photo{}))

	if count != 1 {
		t.Errorf("expected 1 delivery, got %d", count)
	}
}

func TestHub_NoReplay(t *testing.T) {
	hub := NewHub()

	// Published with nobody listening
	for i := 0; i < 5; i++ {
		if n := hub.Publish(mustEvent(t, change.Insert, &note{})); n != 0 {
			t.Fatalf("expected no deliveries, got %d", n)
		}
	}

	var count int
	sub := hub.SubscribeAll(func(change.Event) error {
		count++
		return nil
	})
	defer sub.Cancel()

	if count != 0 {
		t.Fatalf("late subscriber received %d replayed events", count)
	}

	hub.Publish(mustEvent(t, change.Delete, &note{}))
	if count != 1 {
		t.Errorf("expected only the new event, got %d", count)
	}
}

func TestHub_CancelStopsDelivery(t *testing.T) {
	hub := NewHub()

	var cancelled, live int
	sub := hub.SubscribeAll(func(change.Event) error {
		cancelled++
		return nil
	})
	other := hub.SubscribeAll(func(change.Event) error {
		live++
		return nil
	})
	defer other.Cancel()

	hub.Publish(mustEvent(t, change.Insert, &note{}))
	sub.Cancel()
	sub.Cancel() // idempotent

	for i := 0; i < 10; i++ {
		hub.Publish(mustEvent(t, change.Update, &note{}))
	}

	if cancelled != 1 {
		t.Errorf("cancelled subscription received %d events, expected 1", cancelled)
	}
	if live != 11 {
		t.Errorf("live subscription received %d events, expected 11", live)
	}
	if sub.Attached() {
		t.Error("cancelled subscription still attached")
	}
	select {
	case <-sub.Done():
	default:
		t.Error("done channel not closed after cancel")
	}
	if sub.Err() != nil {
		t.Errorf("cancel should not record an error, got %v", sub.Err())
	}
}

func TestHub_CancelFromHandler(t *testing.T) {
	hub := NewHub()

	var count int
	var sub *Subscription
	sub = hub.SubscribeAll(func(change.Event) error {
		count++
		sub.Cancel()
		return nil
	})

	hub.Publish(mustEvent(t, change.Insert, &note{}))
	hub.Publish(mustEvent(t, change.Insert, &note{}))

	if count != 1 {
		t.Errorf("expected 1 delivery, got %d", count)
	}
	if hub.HasObservers() {
		t.Error("hub should have no observers")
	}
}

func TestHub_SubscribeFromHandlerSeesOnlyLaterEvents(t *testing.T) {
	hub := NewHub()

	var inner int
	var once sync.Once
	outer := hub.SubscribeAll(func(change.Event) error {
		once.Do(func() {
			hub.SubscribeAll(func(change.Event) error {
				inner++
				return nil
			})
		})
		return nil
	})
	defer outer.Cancel()

	hub.Publish(mustEvent(t, change.Insert, &note{}))
	if inner != 0 {
		t.Fatalf("subscription created during publish received the in-flight event")
	}

	hub.Publish(mustEvent(t, change.Insert, &note{}))
	if inner != 1 {
		t.Errorf("expected 1 delivery to inner subscription, got %d", inner)
	}
}

func TestHub_ObserverErrorIsolated(t *testing.T) {
	hub := NewHub()

	boom := errors.New("boom")
	var failing, healthy int
	bad := hub.SubscribeAll(func(change.Event) error {
		failing++
		return boom
	})
	good := hub.SubscribeAll(func(change.Event) error {
		healthy++
		return nil
	})
	defer good.Cancel()

	delivered := hub.Publish(mustEvent(t, change.Insert, &note{}))
	hub.Publish(mustEvent(t, change.Insert, &note{}))

	if delivered != 2 {
		t.Errorf("expected both observers to receive the first event, got %d", delivered)
	}
	if failing != 1 {
		t.Errorf("failed subscription should stop after its error, got %d deliveries", failing)
	}
	if healthy != 2 {
		t.Errorf("healthy subscription should keep receiving, got %d", healthy)
	}
	if !errors.Is(bad.Err(), boom) {
		t.Errorf("expected failure to be surfaced, got %v", bad.Err())
	}
	if bad.Attached() {
		t.Error("failed subscription should be detached")
	}
}

func TestHub_ObserverPanicIsolated(t *testing.T) {
	hub := NewHub()

	bad := hub.SubscribeAll(func(change.Event) error {
		panic("observer exploded")
	})
	var healthy int
	good := hub.SubscribeAll(func(change.Event) error {
		healthy++
		return nil
	})
	defer good.Cancel()

	hub.Publish(mustEvent(t, change.Insert, &note{}))

	if healthy != 1 {
		t.Errorf("expected healthy delivery, got %d", healthy)
	}
	if bad.Err() == nil {
		t.Error("expected panic to be reported as an error")
	}
	if hub.Observers() != 1 {
		t.Errorf("expected 1 remaining observer, got %d", hub.Observers())
	}
}

func TestHub_HasObservers(t *testing.T) {
	hub := NewHub()

	if hub.HasObservers() {
		t.Fatal("new hub should have no observers")
	}

	a := hub.SubscribeAll(func(change.Event) error { return nil })
	b := Deletes(hub, func(change.Of[*note]) error { return nil })
	if !hub.HasObservers() || hub.Observers() != 2 {
		t.Fatalf("expected 2 observers, got %d", hub.Observers())
	}

	a.Cancel()
	if !hub.HasObservers() {
		t.Fatal("filtered subscription still counts as an observer")
	}
	b.Cancel()
	if hub.HasObservers() {
		t.Error("hub should have no observers after cancelling all")
	}
}

func TestHub_Close(t *testing.T) {
	hub := NewHub()

	sub := hub.SubscribeAll(func(change.Event) error { return nil })
	hub.Close()
	hub.Close()

	if sub.Attached() || !errors.Is(sub.Err(), ErrClosed) {
		t.Errorf("expected subscription detached with ErrClosed, got %v", sub.Err())
	}

	late := hub.SubscribeAll(func(change.Event) error {
		t.Error("late subscription should never receive")
		return nil
	})
	if late.Attached() || !errors.Is(late.Err(), ErrClosed) {
		t.Errorf("expected late subscription detached with ErrClosed, got %v", late.Err())
	}

	hub.Publish(mustEvent(t, change.Insert, &note{}))
}

func TestHub_IgnoresZeroEvent(t *testing.T) {
	hub := NewHub()
	sub := hub.SubscribeAll(func(change.Event) error {
		t.Error("zero event should not be delivered")
		return nil
	})
	defer sub.Cancel()

	if n := hub.Publish(change.Event{}); n != 0 {
		t.Errorf("expected 0 deliveries, got %d", n)
	}
}

func TestHub_ConcurrentSubscribePublish(t *testing.T) {
	hub := NewHub()

	var wg sync.WaitGroup
	var total atomic.Int64

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sub := hub.SubscribeAll(func(change.Event) error {
					total.Add(1)
					return nil
				})
				hub.Publish(mustEvent(t, change.Update, &note{}))
				sub.Cancel()
			}
		}()
	}
	wg.Wait()

	if hub.HasObservers() {
		t.Errorf("expected all subscriptions detached, %d remain", hub.Observers())
	}
	// Each publish is seen at least by the subscription created just before it
	if total.Load() < 800 {
		t.Errorf("expected at least 800 deliveries, got %d", total.Load())
	}
}

func TestHub_NoDeliveryAfterCancelReturns(t *testing.T) {
	for trial := 0; trial < 500; trial++ {
		hub := NewHub()

		var entered atomic.Int64
		sub := hub.SubscribeAll(func(change.Event) error {
			entered.Add(1)
			return nil
		})

		ev := mustEvent(t, change.Insert, &note{})
		stop := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					hub.Publish(ev)
				}
			}
		}()

		runtime.Gosched()
		sub.Cancel()
		seen := entered.Load()

		runtime.Gosched()
		time.Sleep(100 * time.Microsecond)
		after := entered.Load()

		close(stop)
		wg.Wait()

		if after != seen {
			t.Fatalf("trial %d: handler entered %d times after Cancel returned", trial, after-seen)
		}
	}
}

func TestHub_CancelWaitsForRunningDelivery(t *testing.T) {
	hub := NewHub()

	inHandler := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	sub := hub.SubscribeAll(func(change.Event) error {
		close(inHandler)
		<-release
		finished.Store(true)
		return nil
	})

	go hub.Publish(mustEvent(t, change.Insert, &note{}))
	<-inHandler

	cancelled := make(chan struct{})
	go func() {
		sub.Cancel()
		close(cancelled)
	}()

	select {
	case <-cancelled:
		t.Fatal("Cancel returned while a delivery was still running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("Cancel did not return after the delivery finished")
	}
	if !finished.Load() {
		t.Error("delivery should have completed before Cancel returned")
	}
}

func TestHub_ConcurrentCancelFromHandlers(t *testing.T) {
	hub := NewHub()

	var arrived sync.WaitGroup
	arrived.Add(2)
	var sub *Subscription
	sub = hub.SubscribeAll(func(change.Event) error {
		arrived.Done()
		arrived.Wait()
		sub.Cancel()
		return nil
	})

	ev := mustEvent(t, change.Insert, &note{})
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.Publish(ev)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handlers cancelling the same subscription deadlocked")
	}
	if hub.HasObservers() {
		t.Error("hub should have no observers")
	}
}
