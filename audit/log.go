package audit

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog/log"

	"github.com/pgstrict/pgstrict/encoding"
	"github.com/pgstrict/pgstrict/telemetry"
)

// Key prefixes for Pebble storage
const (
	prefixAuditLog    = "/auditlog/"    // /auditlog/{16-digit-zero-padded-seq}
	prefixAuditCursor = "/auditcursor/" // /auditcursor/{sinkName}
	prefixAuditSeq    = "/auditseq"     // /auditseq -> uint64 (next sequence)
)

// Pebble configuration constants. The spool sees violation events, not bulk
// traffic, so the write path is tuned well below a general-purpose store.
const (
	memTableSize                = 8 << 20 // 8MB
	memTableStopWritesThreshold = 4
	l0CompactionThreshold       = 2
	l0StopWritesThreshold       = 12
	lBaseMaxBytes               = 64 << 20 // 64MB
	maxConcurrentCompactions    = 2
)

// Read and cleanup constants
const (
	defaultReadLimit    = 100  // Default limit for ReadFrom and ReadLatest
	cleanupIntervalMask = 0x7F // Cleanup every 128 sequences (newSeq & cleanupIntervalMask == 0)
)

// Log is a Pebble-backed append-only spool for audit events. Events are
// retained until every configured sink has published them.
type Log struct {
	db    *pebble.DB
	path  string
	codec *Codec

	// In-memory cursor map for fast lookups
	cursors   map[string]uint64
	cursorsMu sync.RWMutex

	// Next sequence number (atomic)
	nextSeq atomic.Uint64

	// Cleanup tracking
	cleanupMu      sync.Mutex
	cleanupRunning atomic.Bool
	cleanupWg      sync.WaitGroup

	// Closed state
	closed atomic.Bool
}

// NewLog creates or opens a Pebble-backed audit spool under dataDir.
// Query texts longer than compressThreshold bytes are compressed at rest.
func NewLog(dataDir string, compressThreshold int) (*Log, error) {
	spoolPath := filepath.Join(dataDir, "audit_spool")

	opts := &pebble.Options{
		MemTableSize:                memTableSize,
		MemTableStopWritesThreshold: memTableStopWritesThreshold,
		L0CompactionThreshold:       l0CompactionThreshold,
		L0StopWritesThreshold:       l0StopWritesThreshold,
		LBaseMaxBytes:               lBaseMaxBytes,
		MaxConcurrentCompactions:    func() int { return maxConcurrentCompactions },
		DisableWAL:                  false,
	}

	db, err := pebble.Open(spoolPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit spool at %s: %w", spoolPath, err)
	}

	codec, err := NewCodec(compressThreshold)
	if err != nil {
		db.Close()
		return nil, err
	}

	l := &Log{
		db:      db,
		path:    spoolPath,
		codec:   codec,
		cursors: make(map[string]uint64),
	}

	// Load next sequence number from Pebble
	if err := l.loadNextSeq(); err != nil {
		codec.Close()
		db.Close()
		return nil, fmt.Errorf("failed to load sequence number: %w", err)
	}

	// Load all cursors from Pebble into memory
	if err := l.loadCursors(); err != nil {
		codec.Close()
		db.Close()
		return nil, fmt.Errorf("failed to load cursors: %w", err)
	}

	return l, nil
}

// loadNextSeq loads the next sequence number from Pebble
func (l *Log) loadNextSeq() error {
	val, closer, err := l.db.Get([]byte(prefixAuditSeq))
	if err == pebble.ErrNotFound {
		// First run - start at 0 (first append will assign sequence 1)
		l.nextSeq.Store(0)
		return nil
	}
	if err != nil {
		return err
	}
	defer closer.Close()

	if len(val) != 8 {
		return fmt.Errorf("invalid sequence value length: %d", len(val))
	}

	seq := binary.LittleEndian.Uint64(val)
	l.nextSeq.Store(seq)
	return nil
}

// loadCursors loads all cursors from Pebble into the in-memory map
func (l *Log) loadCursors() error {
	prefix := []byte(prefixAuditCursor)
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	count := 0
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		key := string(iter.Key()[len(prefixAuditCursor):])
		val, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		if len(val) != 8 {
			return fmt.Errorf("corrupted cursor data for sink %s: invalid length %d", key, len(val))
		}

		cursor := binary.LittleEndian.Uint64(val)
		l.cursors[key] = cursor
		count++
	}

	if err := iter.Error(); err != nil {
		return err
	}

	if count > 0 {
		log.Info().Int("cursors", count).Msg("Loaded audit spool cursors")
	}

	return nil
}

// Append adds audit events to the spool and assigns sequence numbers.
// Note: This function modifies the input slice by setting SeqNum on each
// event and compressing oversized query texts.
func (l *Log) Append(events []Event) error {
	if len(events) == 0 {
		return nil
	}

	if l.closed.Load() {
		return fmt.Errorf("audit spool is closed")
	}

	// Reserve sequence numbers locally first (before commit)
	startSeq := l.nextSeq.Load()
	localSeq := startSeq

	batch := l.db.NewBatch()
	defer batch.Close()

	for i := range events {
		// Assign monotonic sequence number locally
		localSeq++
		events[i].SeqNum = localSeq

		l.codec.Pack(&events[i])

		val, err := encoding.Marshal(&events[i])
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}

		// Key: /auditlog/{16-digit-zero-padded-seq}
		key := formatLogKey(localSeq)
		if err := batch.Set([]byte(key), val, pebble.Sync); err != nil {
			return fmt.Errorf("failed to write event: %w", err)
		}
	}

	// Update next sequence number in Pebble
	seqBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(seqBuf, localSeq)
	if err := batch.Set([]byte(prefixAuditSeq), seqBuf, pebble.Sync); err != nil {
		return fmt.Errorf("failed to update sequence: %w", err)
	}

	// Commit the batch
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	// Only update in-memory nextSeq AFTER successful commit
	l.nextSeq.Store(localSeq)

	telemetry.AuditEventsTotal.Add(float64(len(events)))

	return nil
}

// ReadFrom reads audit events starting after the given cursor, up to limit
// events. Compressed query texts are restored before return.
func (l *Log) ReadFrom(cursor uint64, limit int) ([]Event, error) {
	if l.closed.Load() {
		return nil, fmt.Errorf("audit spool is closed")
	}

	if limit <= 0 {
		limit = defaultReadLimit
	}

	// Start from cursor + 1 (cursor is the last processed event)
	startKey := formatLogKey(cursor + 1)
	prefix := []byte(prefixAuditLog)

	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(startKey),
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	events := make([]Event, 0, limit)
	for iter.SeekGE([]byte(startKey)); iter.Valid() && len(events) < limit; iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}

		event, ok := l.decodeEvent(iter.Key(), val)
		if !ok {
			continue
		}

		events = append(events, event)
	}

	if err := iter.Error(); err != nil {
		return nil, err
	}

	return events, nil
}

// ReadLatest reads the most recent events, newest first. Used by the admin
// surface to show recent violations.
func (l *Log) ReadLatest(limit int) ([]Event, error) {
	if l.closed.Load() {
		return nil, fmt.Errorf("audit spool is closed")
	}

	if limit <= 0 {
		limit = defaultReadLimit
	}

	prefix := []byte(prefixAuditLog)
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	events := make([]Event, 0, limit)
	for valid := iter.Last(); valid && len(events) < limit; valid = iter.Prev() {
		val, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}

		event, ok := l.decodeEvent(iter.Key(), val)
		if !ok {
			continue
		}

		events = append(events, event)
	}

	if err := iter.Error(); err != nil {
		return nil, err
	}

	return events, nil
}

// decodeEvent unmarshals and unpacks a stored event. Corrupted entries are
// logged and skipped; a failed decompression keeps the event with its
// metadata intact since the trail itself is the point.
func (l *Log) decodeEvent(key, val []byte) (Event, bool) {
	var event Event
	if err := encoding.Unmarshal(val, &event); err != nil {
		log.Warn().Err(err).Str("key", string(key)).Msg("Failed to unmarshal audit event")
		return Event{}, false
	}

	if err := l.codec.Unpack(&event); err != nil {
		log.Warn().Err(err).Uint64("seq", event.SeqNum).Msg("Failed to restore query text")
		event.Compressed = nil
	}

	return event, true
}

// GetCursor returns the current cursor for a sink
func (l *Log) GetCursor(sinkName string) (uint64, error) {
	if l.closed.Load() {
		return 0, fmt.Errorf("audit spool is closed")
	}

	l.cursorsMu.RLock()
	cursor, exists := l.cursors[sinkName]
	l.cursorsMu.RUnlock()

	if exists {
		return cursor, nil
	}

	// Not in memory - check Pebble
	key := prefixAuditCursor + sinkName
	val, closer, err := l.db.Get([]byte(key))
	if err == pebble.ErrNotFound {
		return 0, nil // New sink - start from beginning
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()

	if len(val) != 8 {
		return 0, fmt.Errorf("invalid cursor value length: %d", len(val))
	}

	cursor = binary.LittleEndian.Uint64(val)

	// Cache in memory with proper double-check locking
	l.cursorsMu.Lock()
	// Recheck after acquiring write lock - another goroutine might have populated it
	if existingCursor, exists := l.cursors[sinkName]; exists {
		l.cursorsMu.Unlock()
		return existingCursor, nil
	}
	l.cursors[sinkName] = cursor
	l.cursorsMu.Unlock()

	return cursor, nil
}

// AdvanceCursor updates the cursor for a sink and triggers cleanup periodically
func (l *Log) AdvanceCursor(sinkName string, newSeq uint64) error {
	if l.closed.Load() {
		return fmt.Errorf("audit spool is closed")
	}

	// Update in-memory map
	l.cursorsMu.Lock()
	l.cursors[sinkName] = newSeq
	l.cursorsMu.Unlock()

	// Persist to Pebble
	key := prefixAuditCursor + sinkName
	val := make([]byte, 8)
	binary.LittleEndian.PutUint64(val, newSeq)

	if err := l.db.Set([]byte(key), val, pebble.Sync); err != nil {
		return fmt.Errorf("failed to update cursor: %w", err)
	}

	// Trigger cleanup every 128 sequence numbers, at most one at a time
	if newSeq&cleanupIntervalMask == 0 {
		if l.cleanupRunning.CompareAndSwap(false, true) {
			l.cleanupWg.Add(1)
			go l.cleanupAsync()
		}
	}

	return nil
}

// PendingEvents returns the number of spooled events the slowest sink has
// not yet published. No cursors means nothing has been consumed.
func (l *Log) PendingEvents() (int, error) {
	if l.closed.Load() {
		return 0, fmt.Errorf("audit spool is closed")
	}

	next := l.nextSeq.Load()

	l.cursorsMu.RLock()
	defer l.cursorsMu.RUnlock()

	if len(l.cursors) == 0 {
		return int(next), nil
	}

	minCursor := uint64(^uint64(0))
	for _, cursor := range l.cursors {
		if cursor < minCursor {
			minCursor = cursor
		}
	}

	if minCursor >= next {
		return 0, nil
	}
	return int(next - minCursor), nil
}

// cleanup deletes spooled events below the minimum cursor.
// Safe to call directly (e.g., from tests); does not use WaitGroup tracking.
func (l *Log) cleanup() {
	l.cleanupMu.Lock()
	defer l.cleanupMu.Unlock()

	// Check if closed before accessing db
	if l.closed.Load() {
		return
	}

	// Find minimum cursor across all sinks
	l.cursorsMu.RLock()
	if len(l.cursors) == 0 {
		l.cursorsMu.RUnlock()
		return
	}

	minCursor := uint64(^uint64(0)) // Max uint64
	for _, cursor := range l.cursors {
		if cursor < minCursor {
			minCursor = cursor
		}
	}
	l.cursorsMu.RUnlock()

	if minCursor == 0 {
		return // Nothing to cleanup
	}

	// Delete all entries with seq < minCursor
	startKey := []byte(prefixAuditLog)
	endKey := []byte(formatLogKey(minCursor))

	if err := l.db.DeleteRange(startKey, endKey, pebble.Sync); err != nil {
		log.Warn().Err(err).Uint64("min_cursor", minCursor).Msg("Failed to cleanup audit spool")
		return
	}

	log.Debug().Uint64("min_cursor", minCursor).Msg("Cleaned up audit spool entries")
}

// cleanupAsync wraps cleanup with WaitGroup tracking for async execution
func (l *Log) cleanupAsync() {
	defer l.cleanupWg.Done()
	defer l.cleanupRunning.Store(false)
	l.cleanup()
}

// Close closes the Pebble database and waits for in-flight cleanup goroutines
func (l *Log) Close() error {
	// Mark as closed to prevent new operations
	if !l.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("audit spool already closed")
	}

	// Wait for any in-flight cleanup goroutines to finish
	l.cleanupWg.Wait()

	l.codec.Close()

	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// formatLogKey formats a sequence number as a 16-digit zero-padded key
func formatLogKey(seq uint64) string {
	return fmt.Sprintf("%s%016x", prefixAuditLog, seq)
}

// prefixUpperBound returns the upper bound for a prefix scan
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end
		}
	}
	return nil // Prefix is all 0xff
}
