package telemetry

import (
	"database/sql"
	"sync"
	"time"
)

// StatsProvider is implemented by stores that expose pool and cache stats
type StatsProvider interface {
	PoolStats() sql.DBStats
	CachedStatements() int
}

// MetricsCollector periodically collects stats and updates telemetry gauges
type MetricsCollector struct {
	provider StatsProvider
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(provider StatsProvider, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		provider: provider,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	mc.stopOnce.Do(func() { close(mc.stopCh) })
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
	if mc.provider == nil {
		return
	}

	stats := mc.provider.PoolStats()
	PoolConnections.With("open").Set(float64(stats.OpenConnections))
	PoolConnections.With("in_use").Set(float64(stats.InUse))
	PoolConnections.With("idle").Set(float64(stats.Idle))
	StatementCacheSize.Set(float64(mc.provider.CachedStatements()))
}
