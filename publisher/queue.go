package publisher

// DefaultQueueSize is the number of messages buffered per sink
const DefaultQueueSize = 1024

// Queue is a bounded buffer of messages awaiting publication
type Queue struct {
	ch chan Message
}

// NewQueue creates a queue holding up to size messages
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan Message, size)}
}

// Offer enqueues msg without blocking. It returns false when the queue is full.
func (q *Queue) Offer(msg Message) bool {
	select {
	case q.ch <- msg:
		return true
	default:
		return false
	}
}

// Len returns the number of pending messages
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity
func (q *Queue) Cap() int {
	return cap(q.ch)
}

func (q *Queue) messages() <-chan Message {
	return q.ch
}
