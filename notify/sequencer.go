package notify

import "sync"

// Ticket is a place in a Sequencer's publish order
type Ticket uint64

// Sequencer releases publishes in the order their tickets were taken, so
// writers can take a ticket while holding their write lock and publish
// after releasing it.
//
// A ticket redeemed on the goroutine currently running another ticket's
// publish runs immediately: that is an observer writing from inside its
// handler, and waiting would never end.
type Sequencer struct {
	mu      sync.Mutex
	ready   *sync.Cond
	next    Ticket
	turn    Ticket
	owner   uint64 // goroutine running the current turn
	running bool
	early   map[Ticket]struct{} // redeemed out of turn by the owner
}

// NewSequencer creates an empty sequencer
func NewSequencer() *Sequencer {
	s := &Sequencer{early: make(map[Ticket]struct{})}
	s.ready = sync.NewCond(&s.mu)
	return s
}

// Take reserves the next place in publish order. Every ticket taken must
// be redeemed with Publish.
func (s *Sequencer) Take() Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.next
	s.next++
	return t
}

// Publish runs fn once every earlier ticket has been published
func (s *Sequencer) Publish(t Ticket, fn func()) {
	gid := goroutineID()

	s.mu.Lock()
	if s.running && s.owner == gid && t > s.turn {
		s.early[t] = struct{}{}
		s.mu.Unlock()
		fn()
		return
	}
	for s.turn != t {
		s.ready.Wait()
	}
	s.running = true
	s.owner = gid
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.turn++
		for {
			if _, ok := s.early[s.turn]; !ok {
				break
			}
			delete(s.early, s.turn)
			s.turn++
		}
		s.ready.Broadcast()
		s.mu.Unlock()
	}()
	fn()
}
