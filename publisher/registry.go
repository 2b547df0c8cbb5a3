package publisher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/ripple/cfg"
	"github.com/maxpert/ripple/hlc"
	"github.com/maxpert/ripple/notify"
	"github.com/rs/zerolog/log"
)

// DefaultFormat is used when a sink does not name one
const DefaultFormat = "msgpack"

// RegistryConfig configures the forwarding registry
type RegistryConfig struct {
	Hub         *notify.Hub             // Hub to observe
	NodeID      uint64                  // Stamped on every record
	SinkConfigs []cfg.SinkConfiguration // From config
}

// pipeline is one configured sink: forwarder, queue and worker
type pipeline struct {
	name      string
	sink      Sink
	forwarder *Forwarder
	worker    *Worker
}

// Registry manages the lifecycle of every sink pipeline
type Registry struct {
	hub       *notify.Hub
	clock     *hlc.Clock // Shared by every forwarder
	pipelines []*pipeline
	running   atomic.Bool
	closed    bool // sinks closed by Stop
	mu        sync.Mutex
}

// NewRegistry creates a registry with one pipeline per sink configuration
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.Hub == nil {
		return nil, fmt.Errorf("hub is required")
	}

	registry := &Registry{
		hub:       config.Hub,
		clock:     hlc.NewClock(config.NodeID),
		pipelines: make([]*pipeline, 0, len(config.SinkConfigs)),
	}

	for _, sinkCfg := range config.SinkConfigs {
		if err := registry.AddSink(sinkCfg); err != nil {
			// Cleanup on error: close all sinks created so far
			registry.closeSinks()
			return nil, fmt.Errorf("failed to add sink %q: %w", sinkCfg.Name, err)
		}
	}

	log.Info().
		Int("sinks", len(registry.pipelines)).
		Msg("Change forwarding registry initialized")

	return registry, nil
}

// AddSink creates the pipeline for a sink configuration. When the registry
// is already running the pipeline starts immediately.
func (r *Registry) AddSink(config cfg.SinkConfiguration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("registry stopped")
	}
	for _, p := range r.pipelines {
		if p.name == config.Name {
			return fmt.Errorf("duplicate sink name: %s", config.Name)
		}
	}

	filter, err := NewFilter(config.FilterTables, config.FilterKinds)
	if err != nil {
		return fmt.Errorf("failed to create filter: %w", err)
	}

	format := config.Format
	if format == "" {
		format = DefaultFormat
	}
	// Transformers are stateless, no cleanup needed
	trans, err := createTransformer(format)
	if err != nil {
		return fmt.Errorf("failed to create transformer: %w", err)
	}
	if config.Compress {
		trans = Compressed(trans)
	}

	snk, err := createSink(config)
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}

	queue := NewQueue(config.QueueSize)
	worker, err := NewWorker(WorkerConfig{
		Name:            config.Name,
		Queue:           queue,
		Sink:            snk,
		RetryInitial:    time.Duration(config.RetryInitialMS) * time.Millisecond,
		RetryMax:        time.Duration(config.RetryMaxMS) * time.Millisecond,
		RetryMultiplier: config.RetryMultiplier,
		MaxRetries:      config.MaxRetries,
	})
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create worker: %w", err)
	}

	p := &pipeline{
		name: config.Name,
		sink: snk,
		forwarder: NewForwarder(ForwarderConfig{
			Name:        config.Name,
			Filter:      filter,
			Transformer: trans,
			TopicPrefix: config.TopicPrefix,
			Clock:       r.clock,
			Queue:       queue,
		}),
		worker: worker,
	}

	if r.running.Load() {
		if err := r.startPipeline(p); err != nil {
			snk.Close()
			return err
		}
	}
	r.pipelines = append(r.pipelines, p)

	log.Info().
		Str("sink", config.Name).
		Str("type", config.Type).
		Str("format", format).
		Bool("compress", config.Compress).
		Msg("Added change sink")

	return nil
}

// Start starts every worker and attaches every forwarder to the hub
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return fmt.Errorf("registry already running")
	}
	if r.closed {
		return fmt.Errorf("registry stopped")
	}

	log.Info().Int("sinks", len(r.pipelines)).Msg("Starting change forwarding registry")

	for i, p := range r.pipelines {
		if err := r.startPipeline(p); err != nil {
			for _, started := range r.pipelines[:i] {
				stopPipeline(started)
			}
			return err
		}
	}

	r.running.Store(true)
	return nil
}

// Stop detaches every forwarder, stops the workers and closes the sinks.
// Sinks are closed even when the registry was never started.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return // Already stopped
	}
	r.closed = true

	log.Info().Msg("Stopping change forwarding registry")

	if r.running.Swap(false) {
		for _, p := range r.pipelines {
			stopPipeline(p)
		}
	}
	r.closeSinks()

	log.Info().Msg("Change forwarding registry stopped")
}

// Forwarder returns the forwarder for a sink name
func (r *Registry) Forwarder(name string) (*Forwarder, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pipelines {
		if p.name == name {
			return p.forwarder, true
		}
	}
	return nil, false
}

// Worker returns the worker for a sink name
func (r *Registry) Worker(name string) (*Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pipelines {
		if p.name == name {
			return p.worker, true
		}
	}
	return nil, false
}

func (r *Registry) startPipeline(p *pipeline) error {
	p.worker.Start()
	if err := p.forwarder.Attach(r.hub); err != nil {
		p.worker.Stop()
		return fmt.Errorf("failed to attach sink %q: %w", p.name, err)
	}
	return nil
}

func stopPipeline(p *pipeline) {
	p.forwarder.Detach()
	p.worker.Stop()
}

func (r *Registry) closeSinks() {
	for _, p := range r.pipelines {
		if err := p.sink.Close(); err != nil {
			log.Warn().Err(err).Str("sink", p.name).Msg("Failed to close sink")
		}
	}
}

// createSink creates a sink based on the configuration
func createSink(config cfg.SinkConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[config.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}

	return factory(config)
}

// SinkFactory is a function that creates a Sink from a configuration
type SinkFactory func(cfg.SinkConfiguration) (Sink, error)

// TransformerFactory is a function that creates a Transformer
type TransformerFactory func() Transformer

var (
	sinkFactories        = make(map[string]SinkFactory)
	transformerFactories = make(map[string]TransformerFactory)
	factoryMu            sync.RWMutex
)

// RegisterSink registers a sink factory for a type
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

// RegisterTransformer registers a transformer factory for a format
func RegisterTransformer(format string, factory TransformerFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	transformerFactories[format] = factory
}

// createTransformer creates a transformer based on the format
func createTransformer(format string) (Transformer, error) {
	factoryMu.RLock()
	factory, exists := transformerFactories[format]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown format: %s", format)
	}

	return factory(), nil
}
