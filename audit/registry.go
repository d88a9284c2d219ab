package audit

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/pgstrict/pgstrict/cfg"
)

// RegistryConfig configures the audit publisher registry
type RegistryConfig struct {
	SpoolPath         string                  // Directory for the Pebble spool
	CompressThreshold int                     // Query texts above this are compressed at rest
	SinkConfigs       []cfg.SinkConfiguration // From config
}

// Registry manages the spool and the lifecycle of all sink workers
type Registry struct {
	spool   *Log
	workers []*Worker
	running atomic.Bool
	mu      sync.Mutex
}

// NewRegistry creates a new audit publisher registry
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.SpoolPath == "" {
		return nil, fmt.Errorf("spool path is required")
	}

	spool, err := NewLog(config.SpoolPath, config.CompressThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit spool: %w", err)
	}

	registry := &Registry{
		spool:   spool,
		workers: make([]*Worker, 0, len(config.SinkConfigs)),
	}

	// Create workers for each sink configuration
	for _, sinkCfg := range config.SinkConfigs {
		if err := registry.AddSink(sinkCfg); err != nil {
			// Cleanup on error: close all worker sinks and the spool
			for _, worker := range registry.workers {
				if worker.config.Sink != nil {
					worker.config.Sink.Close()
				}
			}
			spool.Close()
			return nil, fmt.Errorf("failed to add %s sink: %w", sinkCfg.Type, err)
		}
	}

	log.Info().
		Int("workers", len(registry.workers)).
		Msg("Audit publisher registry initialized")

	return registry, nil
}

// AddSink creates and adds a new worker for the given sink configuration
func (r *Registry) AddSink(config cfg.SinkConfiguration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snk, err := createSink(config)
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}

	filter, err := NewGlobFilter(config.Filter)
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create filter: %w", err)
	}

	topic := topicFor(config)

	workerConfig := WorkerConfig{
		// Type plus topic keys the cursor, so renaming a topic restarts
		// consumption from the earliest retained event
		Name:   fmt.Sprintf("%s:%s", config.Type, topic),
		Log:    r.spool,
		Sink:   snk,
		Filter: filter,
		Topic:  topic,
	}

	worker, err := NewWorker(workerConfig)
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create worker: %w", err)
	}

	r.workers = append(r.workers, worker)

	log.Info().
		Str("sink", string(config.Type)).
		Str("topic", topic).
		Str("filter", config.Filter).
		Msg("Added audit sink")

	return nil
}

// topicFor returns the destination topic or subject for a sink configuration
func topicFor(config cfg.SinkConfiguration) string {
	if config.Type == cfg.SinkNATS {
		return config.Subject
	}
	return config.Topic
}

// Start starts all workers
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return fmt.Errorf("registry already running")
	}

	log.Info().Int("workers", len(r.workers)).Msg("Starting audit publisher registry")

	for _, worker := range r.workers {
		worker.Start()
	}

	r.running.Store(true)

	return nil
}

// Stop stops all workers and closes the spool
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running.Swap(false) {
		return // Already stopped
	}

	log.Info().Msg("Stopping audit publisher registry")

	for _, worker := range r.workers {
		worker.Stop()
	}

	for _, worker := range r.workers {
		if err := worker.config.Sink.Close(); err != nil {
			log.Warn().Err(err).Str("worker", worker.config.Name).Msg("Failed to close sink")
		}
	}

	if err := r.spool.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close audit spool")
	}

	log.Info().Msg("Audit publisher registry stopped")
}

// Append adds audit events to the spool.
// Note: Log.Append is thread-safe (Pebble handles concurrency).
func (r *Registry) Append(events []Event) error {
	if !r.running.Load() {
		return fmt.Errorf("registry not running")
	}
	return r.spool.Append(events)
}

// Spool returns the underlying audit spool, for the admin surface and
// telemetry sampling
func (r *Registry) Spool() *Log {
	return r.spool
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

var (
	sinkFactories = make(map[cfg.SinkType]SinkFactory)
	factoryMu     sync.RWMutex
)

// RegisterSink registers a sink factory for a type
func RegisterSink(sinkType cfg.SinkType, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}
