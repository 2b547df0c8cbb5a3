package notify

import (
	"sync"
	"testing"
	"time"
)

func TestSequencer_PublishesInTicketOrder(t *testing.T) {
	seq := NewSequencer()

	first := seq.Take()
	second := seq.Take()

	var mu sync.Mutex
	var order []Ticket
	record := func(tk Ticket) func() {
		return func() {
			mu.Lock()
			order = append(order, tk)
			mu.Unlock()
		}
	}

	done := make(chan struct{})
	go func() {
		seq.Publish(second, record(second))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second ticket published before the first")
	case <-time.After(20 * time.Millisecond):
	}

	seq.Publish(first, record(first))
	<-done

	if len(order) != 2 || order[0] != first || order[1] != second {
		t.Fatalf("unexpected publish order %v", order)
	}
}

func TestSequencer_NestedPublishRunsImmediately(t *testing.T) {
	seq := NewSequencer()

	outer := seq.Take()
	var order []string
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		seq.Publish(outer, func() {
			order = append(order, "outer")
			inner := seq.Take()
			seq.Publish(inner, func() { order = append(order, "inner") })
		})
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("nested publish deadlocked")
	}
	if len(order) != 2 || order[1] != "inner" {
		t.Fatalf("unexpected order %v", order)
	}

	// The turn moved past the ticket redeemed early
	last := seq.Take()
	ran := false
	seq.Publish(last, func() { ran = true })
	if !ran {
		t.Fatal("ticket after a nested publish was not released")
	}
}
