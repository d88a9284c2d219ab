// Package audit records enforcement violations and delivers them to
// external systems.
//
// Violations observed by the decision engine are published as signals,
// collected into a durable Pebble-backed spool, and drained by per-sink
// workers that publish to NATS JetStream or Kafka. The spool tracks a
// consumption cursor per sink, so delivery survives restarts and slow or
// unreachable brokers without losing events.
//
// # Architecture
//
// The package consists of four main components:
//
// 1. Collector: subscribes to violation signals and appends them as events
// 2. Log: Pebble-backed append-only spool with cursor tracking
// 3. Worker: per-sink poll loop with retry and backoff
// 4. Registry: wires spool, filters, sinks, and workers from configuration
//
// # Spool
//
// Log stores events with monotonically increasing sequence numbers. Each
// sink tracks its consumption progress via cursors, enabling:
//
//   - Crash recovery (cursors persisted to Pebble)
//   - Multiple independent sinks consuming at different rates
//   - Automatic cleanup of events every sink has published
//
// Key prefixes:
//
//	/auditlog/{seq:016x}      -> msgpack(Event)
//	/auditcursor/{sinkName}   -> uint64 (cursor)
//	/auditseq                 -> uint64 (next sequence)
//
// Query texts above the configured threshold are zstd-compressed at rest
// and restored on read, so sinks and the admin surface always see the
// plain SQL.
//
// # Filters
//
// Each sink can carry a glob pattern matched against "OPERATION:client",
// selecting which violations it receives:
//
//	filter, err := NewGlobFilter("DELETE:*")
//
//	if filter.Match("DELETE", "proxy") {
//		// Publish event
//	}
//
// # Thread Safety
//
// All operations are safe for concurrent use:
//
//   - Log uses atomic operations for sequence numbers
//   - Cursor map protected by RWMutex
//   - Pebble handles concurrent reads/writes internally
//
// # Cleanup
//
// Log automatically triggers cleanup every 128 sequence numbers, deleting
// all events below the minimum cursor across all sinks. This prevents
// unbounded spool growth while ensuring no sink loses data.
package audit
