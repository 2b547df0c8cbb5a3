package publisher

import (
	"strconv"
	"sync/atomic"

	"github.com/maxpert/ripple/change"
	"github.com/maxpert/ripple/hlc"
	"github.com/maxpert/ripple/notify"
	"github.com/maxpert/ripple/telemetry"
	"github.com/rs/zerolog/log"
)

// Forwarder observes a hub and enqueues encoded events for one sink
type Forwarder struct {
	name        string
	filter      notify.Filter
	transformer Transformer
	topicPrefix string
	clock       *hlc.Clock
	queue       *Queue

	sub     atomic.Pointer[notify.Subscription]
	dropped atomic.Uint64
}

// ForwarderConfig configures a Forwarder
type ForwarderConfig struct {
	Name        string
	Filter      notify.Filter
	Transformer Transformer
	TopicPrefix string
	Clock       *hlc.Clock // Stamps records; defaults to a clock for node 0
	Queue       *Queue
}

// NewForwarder creates a forwarder. It receives nothing until Attach.
func NewForwarder(config ForwarderConfig) *Forwarder {
	if config.Clock == nil {
		config.Clock = hlc.NewClock(0)
	}
	return &Forwarder{
		name:        config.Name,
		filter:      config.Filter,
		transformer: config.Transformer,
		topicPrefix: config.TopicPrefix,
		clock:       config.Clock,
		queue:       config.Queue,
	}
}

// Attach subscribes the forwarder to hub
func (f *Forwarder) Attach(hub *notify.Hub) error {
	sub, err := hub.Subscribe(f.filter, f.handle)
	if err != nil {
		return err
	}
	if old := f.sub.Swap(sub); old != nil {
		old.Cancel()
	}
	return nil
}

// Detach cancels the hub subscription
func (f *Forwarder) Detach() {
	if sub := f.sub.Swap(nil); sub != nil {
		sub.Cancel()
	}
}

// Dropped returns the number of messages rejected by a full queue
func (f *Forwarder) Dropped() uint64 {
	return f.dropped.Load()
}

// handle runs on the publishing goroutine. It never returns an error so a
// bad event or a full queue does not detach the forwarder.
func (f *Forwarder) handle(ev change.Event) error {
	rec := NewRecord(ev, f.clock.Now())
	data, err := f.transformer.Transform(rec)
	if err != nil {
		telemetry.ForwardedTotal.With(f.name, "error").Inc()
		log.Error().
			Err(err).
			Str("sink", f.name).
			Str("table", rec.Table).
			Int64("id", rec.ID).
			Msg("Failed to encode change event")
		return nil
	}

	topic := buildTopic(f.topicPrefix, rec.Table)
	key := strconv.FormatInt(rec.ID, 10)

	f.offer(Message{Topic: topic, Key: key, Value: data})

	// For DELETE operations, also send tombstone
	if ev.Kind() == change.Delete {
		f.offer(Message{Topic: topic, Key: key, Value: f.transformer.Tombstone(key)})
	}
	return nil
}

func (f *Forwarder) offer(msg Message) {
	if f.queue.Offer(msg) {
		return
	}

	f.dropped.Add(1)
	telemetry.ForwardDroppedTotal.With(f.name).Inc()
	log.Warn().
		Str("sink", f.name).
		Str("topic", msg.Topic).
		Str("key", msg.Key).
		Msg("Sink queue full, dropping message")
}
