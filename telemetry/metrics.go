package telemetry

// StoreBuckets for local SQLite statements
var StoreBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25}

// Change bus metrics
var (
	// ChangesPublishedTotal counts events handed to the bus by kind (insert, update, delete)
	ChangesPublishedTotal CounterVec = noopCounterVec{}

	// ChangesSkippedTotal counts mutations whose event was not built because nobody listened
	ChangesSkippedTotal CounterVec = noopCounterVec{}

	// ObserversAttached tracks currently attached subscriptions
	ObserversAttached Gauge = NoopStat{}

	// ObserverFailuresTotal counts subscriptions terminated by handler errors or panics
	ObserverFailuresTotal Counter = NoopStat{}
)

// Store metrics
var (
	// StoreOpsTotal counts store operations by op and result (ok, error)
	StoreOpsTotal CounterVec = noopCounterVec{}

	// StoreOpSeconds measures store operation latency by op
	StoreOpSeconds HistogramVec = noopHistogramVec{}

	// RowsConvertedTotal counts rows converted into entities by cursors
	RowsConvertedTotal Counter = NoopStat{}

	// CursorsOpen tracks store iterators that have not been closed yet
	CursorsOpen Gauge = NoopStat{}

	// StatementCacheSize tracks prepared statements held by the store
	StatementCacheSize Gauge = NoopStat{}

	// PoolConnections tracks sql.DB connections by state (open, in_use, idle)
	PoolConnections GaugeVec = noopGaugeVec{}
)

// Forwarder metrics
var (
	// ForwardedTotal counts sink publishes by sink and result (ok, error)
	ForwardedTotal CounterVec = noopCounterVec{}

	// ForwardDroppedTotal counts events dropped because a sink queue was full
	ForwardDroppedTotal CounterVec = noopCounterVec{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after the registry exists; InitializeTelemetry does it.
func InitMetrics() {
	ChangesPublishedTotal = NewCounterVec("changes_published_total", "Change events published on the bus", []string{"kind"})
	ChangesSkippedTotal = NewCounterVec("changes_skipped_total", "Mutations that skipped event construction for lack of observers", []string{"kind"})
	ObserversAttached = NewGauge("observers_attached", "Subscriptions currently attached to the change bus")
	ObserverFailuresTotal = NewCounter("observer_failures_total", "Subscriptions terminated by a failing handler")

	StoreOpsTotal = NewCounterVec("store_ops_total", "Store operations by op and result", []string{"op", "result"})
	StoreOpSeconds = NewHistogramVec("store_op_seconds", "Store operation latency", []string{"op"}, StoreBuckets)
	RowsConvertedTotal = NewCounter("rows_converted_total", "Rows converted into entities")
	CursorsOpen = NewGauge("cursors_open", "Store iterators not yet closed")
	StatementCacheSize = NewGauge("statement_cache_size", "Prepared statements cached by the store")
	PoolConnections = NewGaugeVec("pool_connections", "SQLite pool connections by state", []string{"state"})

	ForwardedTotal = NewCounterVec("forwarded_total", "Change events published to sinks", []string{"sink", "result"})
	ForwardDroppedTotal = NewCounterVec("forward_dropped_total", "Change events dropped by full sink queues", []string{"sink"})
}
