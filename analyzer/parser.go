package analyzer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pgstrict/pgstrict/telemetry"
)

// cachedAnalysis is the memoized outcome for one source text: either the
// classified statements or the parse error text. Parse failures are cached
// too, so repeated bad texts skip the parser as well.
type cachedAnalysis struct {
	statements []ParsedStatement
	failed     bool
	errText    string
}

// Cache memoizes classification results for hot query texts. The zero value
// and NewCache(0) both analyze without memoization.
type Cache struct {
	entries *lru.Cache[string, cachedAnalysis]
}

// NewCache creates an analysis cache holding up to size entries. size <= 0
// disables memoization.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		return &Cache{}, nil
	}

	entries, err := lru.New[string, cachedAnalysis](size)
	if err != nil {
		return nil, err
	}

	return &Cache{entries: entries}, nil
}

// Analyze returns the analyzer for source, consulting the cache first.
func (c *Cache) Analyze(source string) (*QueryAnalyzer, error) {
	if c.entries == nil {
		return c.analyze(source)
	}

	key := hashSQL(source)
	if cached, ok := c.entries.Get(key); ok {
		telemetry.AnalysisCacheTotal.With("hit").Inc()
		if cached.failed {
			return nil, fmt.Errorf("%w: %s", ErrParseFailure, cached.errText)
		}
		return &QueryAnalyzer{statements: cached.statements}, nil
	}

	telemetry.AnalysisCacheTotal.With("miss").Inc()
	qa, err := c.analyze(source)
	if err != nil {
		c.entries.Add(key, cachedAnalysis{failed: true, errText: parseErrText(err)})
		return nil, err
	}

	c.entries.Add(key, cachedAnalysis{statements: qa.statements})
	return qa, nil
}

// Entries returns the current cache occupancy.
func (c *Cache) Entries() int {
	if c.entries == nil {
		return 0
	}
	return c.entries.Len()
}

func (c *Cache) analyze(source string) (*QueryAnalyzer, error) {
	start := time.Now()
	qa, err := Analyze(source)
	telemetry.AnalysisSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.ParseFailuresTotal.Inc()
		return nil, err
	}
	return qa, nil
}

// parseErrText strips the ErrParseFailure prefix so cached errors do not
// stack it twice on replay.
func parseErrText(err error) string {
	text := err.Error()
	prefix := ErrParseFailure.Error() + ": "
	if len(text) > len(prefix) && text[:len(prefix)] == prefix {
		return text[len(prefix):]
	}
	return text
}

func hashSQL(sql string) string {
	h := sha256.New()
	h.Write([]byte(sql))
	return hex.EncodeToString(h.Sum(nil))
}
