package id

import (
	"sync"
	"time"
)

// Generator provides unique IDs for audit events.
// IDs are unique per instance and roughly time-ordered.
type Generator interface {
	NextID() uint64
}

const (
	// Bit allocation: 42 bits wall-clock ms | 6 bits instance | 16 bits sequence
	instanceShift = 16
	physicalShift = 22
	instanceMask  = 0x3F
	maxSequence   = 0xFFFF // ~65k IDs/ms before spilling to the next millisecond
)

// EventIDGenerator packs wall-clock milliseconds, an instance tag, and a
// per-millisecond sequence into 64 bits. The instance tag is the low 6 bits
// of the configured instance ID, enough to keep IDs from a handful of
// proxies in front of the same backend distinct.
// Thread-safe.
type EventIDGenerator struct {
	instance uint64
	mu       sync.Mutex
	lastMS   int64
	sequence uint32
}

// NewEventIDGenerator creates an ID generator tagged with instance.
func NewEventIDGenerator(instance uint64) *EventIDGenerator {
	return &EventIDGenerator{
		instance: instance,
		lastMS:   time.Now().UnixMilli(),
	}
}

// NextID generates a unique 64-bit ID.
// Format: (physical_ms << 22) | (instance << 16) | sequence
func (g *EventIDGenerator) NextID() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	// Reset the sequence when the millisecond advances. A clock that runs
	// backwards keeps the last millisecond, preserving monotonic IDs.
	nowMS := time.Now().UnixMilli()
	if nowMS > g.lastMS {
		g.lastMS = nowMS
		g.sequence = 0
	}

	// Sequence exhausted for this millisecond: spin until the next one.
	for g.sequence >= maxSequence {
		time.Sleep(100 * time.Microsecond)
		now := time.Now().UnixMilli()
		if now > g.lastMS {
			g.lastMS = now
			g.sequence = 0
			break
		}
	}

	g.sequence++
	return (uint64(g.lastMS) << physicalShift) |
		((g.instance & instanceMask) << instanceShift) |
		uint64(g.sequence)
}
