package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// AnalysisBuckets for in-process query parsing and classification
	AnalysisBuckets = []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05}

	// QueryBuckets for proxied query round trips (parse + backend)
	QueryBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

	// PublishBuckets for audit sink publish latencies (network)
	PublishBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

	// BatchBuckets for events per audit publish batch
	BatchBuckets = []float64{1, 2, 5, 10, 25, 50, 100, 250}
)

// Enforcement Metrics
var (
	// DecisionsTotal counts engine decisions by outcome
	// (bypass, allow, warn, block, fail_open, fail_closed)
	DecisionsTotal CounterVec = noopCounterVec{}

	// ViolationsTotal counts missing-filter statements by operation and mode
	ViolationsTotal CounterVec = noopCounterVec{}

	// WarnSuppressedTotal counts warn diagnostics suppressed by dedupe
	WarnSuppressedTotal Counter = NoopStat{}

	// WarnDedupeSize tracks entries in the warn dedupe filter
	WarnDedupeSize Gauge = NoopStat{}

	// StrictModeValue tracks each setting's mode (0=off, 1=warn, 2=on)
	StrictModeValue GaugeVec = noopGaugeVec{}
)

// Analyzer Metrics
var (
	// AnalysisSeconds measures parse + classification latency
	AnalysisSeconds Histogram = NoopStat{}

	// AnalysisCacheTotal counts analysis cache lookups by result (hit, miss)
	AnalysisCacheTotal CounterVec = noopCounterVec{}

	// AnalysisCacheEntries tracks current analysis cache occupancy
	AnalysisCacheEntries Gauge = NoopStat{}

	// ParseFailuresTotal counts queries the parser rejected
	ParseFailuresTotal Counter = NoopStat{}
)

// Proxy Metrics
var (
	// QueriesInFlight tracks queries currently executing through the proxy
	QueriesInFlight Gauge = NoopStat{}

	// QueriesTotal counts queries by kind (local, forwarded) and result (success, error)
	QueriesTotal CounterVec = noopCounterVec{}

	// QueryDurationSeconds measures query latency by kind
	QueryDurationSeconds HistogramVec = noopHistogramVec{}

	// BackendErrorsTotal counts errors returned by the backend pool
	BackendErrorsTotal Counter = NoopStat{}

	// BackendPoolConns tracks backend pool connections by state (total, acquired, idle)
	BackendPoolConns GaugeVec = noopGaugeVec{}
)

// Policy Metrics
var (
	// JournalFlushesTotal counts mode journal flushes by result (success, error)
	JournalFlushesTotal CounterVec = noopCounterVec{}
)

// Audit Metrics
var (
	// AuditEventsTotal counts violation events appended to the spool
	AuditEventsTotal Counter = NoopStat{}

	// AuditSignalsDropped tracks violation signals lost to full subscriber buffers
	AuditSignalsDropped Gauge = NoopStat{}

	// AuditSpoolPending tracks spooled events not yet published by the slowest sink
	AuditSpoolPending Gauge = NoopStat{}

	// AuditPublishTotal counts publish attempts by sink and result (success, error)
	AuditPublishTotal CounterVec = noopCounterVec{}

	// AuditPublishSeconds measures publish latency by sink
	AuditPublishSeconds HistogramVec = noopHistogramVec{}

	// AuditBatchEvents measures events per publish batch
	AuditBatchEvents Histogram = NoopStat{}

	// AuditCompressedTotal counts events whose query text was compressed
	AuditCompressedTotal Counter = NoopStat{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	// Enforcement Metrics
	DecisionsTotal = NewCounterVec(
		"decisions_total",
		"Engine decisions by outcome",
		[]string{"outcome"},
	)
	ViolationsTotal = NewCounterVec(
		"violations_total",
		"Missing-filter statements by operation and mode",
		[]string{"operation", "mode"},
	)
	WarnSuppressedTotal = NewCounter(
		"warn_suppressed_total",
		"Warn diagnostics suppressed by dedupe",
	)
	WarnDedupeSize = NewGauge(
		"warn_dedupe_size",
		"Current number of entries in the warn dedupe filter",
	)
	StrictModeValue = NewGaugeVec(
		"strict_mode_value",
		"Enforcement mode per setting (0=off, 1=warn, 2=on)",
		[]string{"setting"},
	)

	// Analyzer Metrics
	AnalysisSeconds = NewHistogramWithBuckets(
		"analysis_seconds",
		"Query parse and classification duration in seconds",
		AnalysisBuckets,
	)
	AnalysisCacheTotal = NewCounterVec(
		"analysis_cache_total",
		"Analysis cache lookups by result",
		[]string{"result"},
	)
	AnalysisCacheEntries = NewGauge(
		"analysis_cache_entries",
		"Current analysis cache occupancy",
	)
	ParseFailuresTotal = NewCounter(
		"parse_failures_total",
		"Queries the parser rejected",
	)

	// Proxy Metrics
	QueriesInFlight = NewGauge(
		"queries_in_flight",
		"Queries currently executing through the proxy",
	)
	QueriesTotal = NewCounterVec(
		"queries_total",
		"Total queries by kind and result",
		[]string{"kind", "result"},
	)
	QueryDurationSeconds = NewHistogramVec(
		"query_duration_seconds",
		"Query duration in seconds",
		[]string{"kind"},
		QueryBuckets,
	)
	BackendErrorsTotal = NewCounter(
		"backend_errors_total",
		"Errors returned by the backend pool",
	)
	BackendPoolConns = NewGaugeVec(
		"backend_pool_conns",
		"Backend pool connections by state",
		[]string{"state"},
	)

	// Policy Metrics
	JournalFlushesTotal = NewCounterVec(
		"journal_flushes_total",
		"Mode journal flushes by result",
		[]string{"result"},
	)

	// Audit Metrics
	AuditEventsTotal = NewCounter(
		"audit_events_total",
		"Violation events appended to the spool",
	)
	AuditSignalsDropped = NewGauge(
		"audit_signals_dropped",
		"Violation signals lost to full subscriber buffers",
	)
	AuditSpoolPending = NewGauge(
		"audit_spool_pending",
		"Spooled events not yet published by the slowest sink",
	)
	AuditPublishTotal = NewCounterVec(
		"audit_publish_total",
		"Audit publish attempts by sink and result",
		[]string{"sink", "result"},
	)
	AuditPublishSeconds = NewHistogramVec(
		"audit_publish_seconds",
		"Audit publish duration in seconds",
		[]string{"sink"},
		PublishBuckets,
	)
	AuditBatchEvents = NewHistogramWithBuckets(
		"audit_batch_events",
		"Events per audit publish batch",
		BatchBuckets,
	)
	AuditCompressedTotal = NewCounter(
		"audit_compressed_total",
		"Events whose query text was compressed",
	)
}
