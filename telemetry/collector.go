package telemetry

import (
	"sync"
	"time"
)

// SpoolStats reports audit spool depth
type SpoolStats interface {
	PendingEvents() (int, error)
}

// SignalStats reports violation signals lost to full buffers
type SignalStats interface {
	Dropped() uint64
}

// CacheStats reports analysis cache occupancy
type CacheStats interface {
	Entries() int
}

// BackendStats reports backend pool connection counts
type BackendStats interface {
	TotalConns() int32
	AcquiredConns() int32
	IdleConns() int32
}

// MetricsCollector periodically samples component stats and updates telemetry gauges
type MetricsCollector struct {
	spool    SpoolStats
	signals  SignalStats
	cache    CacheStats
	backend  BackendStats
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// WithSpool samples audit spool depth into AuditSpoolPending
func (mc *MetricsCollector) WithSpool(s SpoolStats) *MetricsCollector {
	mc.spool = s
	return mc
}

// WithSignals samples dropped signal counts into AuditSignalsDropped
func (mc *MetricsCollector) WithSignals(s SignalStats) *MetricsCollector {
	mc.signals = s
	return mc
}

// WithCache samples analysis cache occupancy into AnalysisCacheEntries
func (mc *MetricsCollector) WithCache(c CacheStats) *MetricsCollector {
	mc.cache = c
	return mc
}

// WithBackend samples backend pool connection counts into BackendPoolConns
func (mc *MetricsCollector) WithBackend(b BackendStats) *MetricsCollector {
	mc.backend = b
	return mc
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.spool != nil {
		if pending, err := mc.spool.PendingEvents(); err == nil {
			AuditSpoolPending.Set(float64(pending))
		}
	}

	if mc.signals != nil {
		AuditSignalsDropped.Set(float64(mc.signals.Dropped()))
	}

	if mc.cache != nil {
		AnalysisCacheEntries.Set(float64(mc.cache.Entries()))
	}

	if mc.backend != nil {
		BackendPoolConns.With("total").Set(float64(mc.backend.TotalConns()))
		BackendPoolConns.With("acquired").Set(float64(mc.backend.AcquiredConns()))
		BackendPoolConns.With("idle").Set(float64(mc.backend.IdleConns()))
	}
}
