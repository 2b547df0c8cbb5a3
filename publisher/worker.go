package publisher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/ripple/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	// Default initial retry delay for failed publish operations
	DefaultRetryInitial = 100 * time.Millisecond
	// Default maximum retry delay (exponential backoff cap)
	DefaultRetryMax = 30 * time.Second
	// Default exponential backoff multiplier
	DefaultRetryMultiplier = 2.0
	// Maximum number of retry attempts before giving up on a message
	DefaultMaxRetries = 100
)

// WorkerConfig configures the sink worker
type WorkerConfig struct {
	Name            string        // Sink name (for logs and metrics)
	Queue           *Queue        // Queue to drain
	Sink            Sink          // Destination sink
	RetryInitial    time.Duration // Initial retry delay
	RetryMax        time.Duration // Max retry delay
	RetryMultiplier float64       // Backoff multiplier
	MaxRetries      int           // Maximum retry attempts
}

// Worker drains a Queue into a sink
type Worker struct {
	config      WorkerConfig
	stopCh      chan struct{} // Stop signal
	doneCh      chan struct{} // Done signal
	running     atomic.Bool
	published   atomic.Uint64
	failed      atomic.Uint64
	lifecycleMu sync.Mutex // Protects Start/Stop lifecycle operations
}

// NewWorker creates a new sink worker
func NewWorker(config WorkerConfig) (*Worker, error) {
	// Validate config
	if config.Name == "" {
		return nil, fmt.Errorf("worker name is required")
	}
	if config.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if config.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}

	// Set defaults
	if config.RetryInitial <= 0 {
		config.RetryInitial = DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMultiplier <= 1 {
		config.RetryMultiplier = DefaultRetryMultiplier
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}

	return &Worker{
		config: config,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start starts the worker goroutine
func (w *Worker) Start() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.running.Load() {
		return // Already running
	}

	w.running.Store(true)
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	log.Info().
		Str("worker", w.config.Name).
		Int("queue_size", w.config.Queue.Cap()).
		Msg("Starting sink worker")

	go w.drainLoop()
}

// Stop stops the worker. Messages still queued are abandoned.
func (w *Worker) Stop() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if !w.running.Load() {
		return // Not running
	}

	log.Info().Str("worker", w.config.Name).Msg("Stopping sink worker")

	close(w.stopCh)
	<-w.doneCh // Wait for goroutine to finish
	w.running.Store(false)

	evt := log.Info()
	if pending := w.config.Queue.Len(); pending > 0 {
		evt = log.Warn().Int("abandoned", pending)
	}
	evt.Str("worker", w.config.Name).
		Uint64("published", w.published.Load()).
		Uint64("failed", w.failed.Load()).
		Msg("Sink worker stopped")
}

// Published returns the number of messages delivered to the sink
func (w *Worker) Published() uint64 {
	return w.published.Load()
}

// Failed returns the number of messages given up on after retries
func (w *Worker) Failed() uint64 {
	return w.failed.Load()
}

// drainLoop is the main worker loop
func (w *Worker) drainLoop() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case msg := <-w.config.Queue.messages():
			if err := w.publishWithRetry(msg); err != nil {
				w.failed.Add(1)
				telemetry.ForwardedTotal.With(w.config.Name, "error").Inc()
				log.Error().
					Err(err).
					Str("worker", w.config.Name).
					Str("topic", msg.Topic).
					Str("key", msg.Key).
					Msg("Dropping message after failed publish")
				continue
			}
			w.published.Add(1)
			telemetry.ForwardedTotal.With(w.config.Name, "ok").Inc()
		}
	}
}

// publishWithRetry publishes a message with exponential backoff retry
// Returns error if max retries exhausted or worker stopped
func (w *Worker) publishWithRetry(msg Message) error {
	delay := w.config.RetryInitial
	attempts := 0

	for {
		err := w.config.Sink.Publish(msg.Topic, msg.Key, msg.Value)
		if err == nil {
			return nil
		}

		attempts++

		if attempts >= w.config.MaxRetries {
			return fmt.Errorf("exhausted max retries (%d) for topic %s: %w", w.config.MaxRetries, msg.Topic, err)
		}

		log.Warn().
			Err(err).
			Str("worker", w.config.Name).
			Str("topic", msg.Topic).
			Int("attempt", attempts).
			Dur("retry_delay", delay).
			Msg("Failed to publish message, retrying")

		// Sleep with stop check
		if !w.sleep(delay) {
			return fmt.Errorf("worker stopped during retry")
		}

		// Exponential backoff
		delay = time.Duration(float64(delay) * w.config.RetryMultiplier)
		if delay > w.config.RetryMax {
			delay = w.config.RetryMax
		}
	}
}

// sleep sleeps for the given duration, checking stopCh
// Returns true if sleep completed, false if stopped
func (w *Worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
