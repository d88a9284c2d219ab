package guard

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
	cuckoo "github.com/linvon/cuckoo-filter"

	"github.com/pgstrict/pgstrict/analyzer"
	"github.com/pgstrict/pgstrict/telemetry"
)

const (
	// Cuckoo filter configuration
	// capacity = bucketSize × numBuckets = 4 × 65536 = 256K entries
	cuckooBucketSize      = 4
	cuckooFingerprintSize = 16 // 16-bit fingerprint, plenty for dedupe
	cuckooNumBuckets      = 65536

	// resetThreshold bounds filter growth; once this many warnings have
	// been recorded, the filter is rebuilt empty and dedupe starts over.
	resetThreshold = 200000
)

// hashBufPool reduces allocations for hash-to-bytes conversion.
var hashBufPool = sync.Pool{
	New: func() any { return make([]byte, 8) },
}

// WarnDedupe suppresses repeated warn-mode diagnostics for query texts
// already warned about.
//
// Design:
//   - Hash = XXH64(operation:query) per missing-filter statement
//   - Filter MISS = first sighting → emit the diagnostic, record it
//   - Filter HIT = maybe seen before → suppress
//
// A cuckoo filter hit can be a false positive, so an occasional fresh
// violation is silently suppressed. That is acceptable for a warn-mode
// noise reducer; blocking decisions never consult this filter.
//
// Thread-safe for concurrent access.
type WarnDedupe struct {
	mu       sync.Mutex
	filter   *cuckoo.Filter
	recorded uint64
}

// NewWarnDedupe creates a cuckoo-backed warn diagnostic deduplicator.
func NewWarnDedupe() *WarnDedupe {
	return &WarnDedupe{filter: newDedupeFilter()}
}

func newDedupeFilter() *cuckoo.Filter {
	return cuckoo.NewFilter(cuckooBucketSize, cuckooFingerprintSize,
		cuckooNumBuckets, cuckoo.TableTypePacked)
}

// Seen reports whether a warning for this operation and query text has
// already been emitted, recording it as seen when it has not.
func (d *WarnDedupe) Seen(op analyzer.Operation, query string) bool {
	key := computeWarnHash(op, query)

	d.mu.Lock()
	buf := hashBufPool.Get().([]byte)
	binary.LittleEndian.PutUint64(buf, key)
	hit := d.filter.Contain(buf)
	if !hit {
		d.filter.Add(buf)
		d.recorded++
		if d.recorded >= resetThreshold {
			d.filter = newDedupeFilter()
			d.recorded = 0
		}
	}
	hashBufPool.Put(buf)
	size := d.filter.Size()
	d.mu.Unlock()

	telemetry.WarnDedupeSize.Set(float64(size))
	return hit
}

// Reset discards all recorded sightings.
func (d *WarnDedupe) Reset() {
	d.mu.Lock()
	d.filter = newDedupeFilter()
	d.recorded = 0
	d.mu.Unlock()

	telemetry.WarnDedupeSize.Set(0)
}

// Size returns the current number of recorded query hashes.
func (d *WarnDedupe) Size() uint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.filter.Size()
}

// computeWarnHash keys the filter by operation and query text.
// The operation prefix avoids cross-operation collisions for
// multi-statement texts that miss filters on both.
func computeWarnHash(op analyzer.Operation, query string) uint64 {
	h := xxhash.New()
	h.WriteString(op.String())
	h.WriteString(":")
	h.WriteString(query)
	return h.Sum64()
}
