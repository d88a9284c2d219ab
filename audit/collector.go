package audit

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pgstrict/pgstrict/id"
	"github.com/pgstrict/pgstrict/notify"
)

// Maximum signals folded into one spool batch
const collectorMaxBatch = 64

// Collector subscribes to violation signals and spools them as audit events
type Collector struct {
	registry   *Registry
	ids        id.Generator
	instanceID uint64

	cancel func()
	done   chan struct{}
}

// NewCollector creates a collector writing through registry. Event IDs come
// from gen and carry instanceID so merged streams stay attributable.
func NewCollector(registry *Registry, gen id.Generator, instanceID uint64) *Collector {
	return &Collector{
		registry:   registry,
		ids:        gen,
		instanceID: instanceID,
		done:       make(chan struct{}),
	}
}

// Start subscribes to every signal on hub and begins spooling
func (c *Collector) Start(hub *notify.Hub) {
	ch, cancel := hub.Subscribe(notify.Filter{})
	c.cancel = cancel

	log.Info().Msg("Starting audit collector")
	go c.run(ch)
}

// Stop unsubscribes and waits for the last batch to be spooled
func (c *Collector) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done

	log.Info().Msg("Audit collector stopped")
}

// run drains the signal channel, folding bursts into batched appends to
// keep fsync pressure down
func (c *Collector) run(ch <-chan notify.ViolationSignal) {
	defer close(c.done)

	for {
		sig, ok := <-ch
		if !ok {
			return
		}

		batch := []Event{c.event(sig)}
	drain:
		for len(batch) < collectorMaxBatch {
			select {
			case more, ok := <-ch:
				if !ok {
					c.flush(batch)
					return
				}
				batch = append(batch, c.event(more))
			default:
				break drain
			}
		}

		c.flush(batch)
	}
}

// event converts a violation signal into a spool-ready audit event
func (c *Collector) event(sig notify.ViolationSignal) Event {
	return Event{
		ID:         c.ids.NextID(),
		Time:       time.Now().UnixMilli(),
		Operation:  sig.Operation,
		Mode:       sig.Mode,
		Message:    sig.Message,
		Query:      sig.Query,
		Client:     sig.Client,
		InstanceID: c.instanceID,
	}
}

func (c *Collector) flush(batch []Event) {
	if err := c.registry.Append(batch); err != nil {
		log.Error().Err(err).Int("events", len(batch)).Msg("Failed to spool audit events")
	}
}
