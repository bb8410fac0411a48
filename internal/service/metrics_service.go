package service

import (
	"database/sql"
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/coaching-rank-api/internal/models"
)

const (
	bulkOutcomeAccepted = "accepted"
	bulkOutcomeRejected = "rejected"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestDuration   *prometheus.HistogramVec
	requestTotal      *prometheus.CounterVec
	cacheLatency      prometheus.Observer
	cacheWrite        prometheus.Observer
	cacheHitRatio     prometheus.Gauge
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
	recomputeTotal    prometheus.Counter
	recomputeDuration prometheus.Histogram
	rankedStudents    prometheus.Gauge
	bulkRows          *prometheus.CounterVec

	startedAt time.Time
	db        *sql.DB

	cacheHitCount     uint64
	cacheMissCount    uint64
	requestCount      uint64
	recomputeCount    uint64
	lastRecomputeNs   int64
	bulkAcceptedCount uint64
	bulkRejectedCount uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	recomputeTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ranking_recompute_total",
		Help: "Number of completed population recomputes",
	})

	recomputeDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ranking_recompute_duration_seconds",
		Help:    "Duration of population recomputes",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	rankedStudents := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ranking_students",
		Help: "Students ranked by the last recompute",
	})

	bulkRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bulk_upload_rows_total",
		Help: "Bulk upload rows by outcome",
	}, []string{"outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		recomputeTotal, recomputeDuration, rankedStudents, bulkRows, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:          registry,
		handler:           handler,
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		cacheLatency:      cacheLatency,
		cacheWrite:        cacheWrite,
		cacheHitRatio:     cacheHitRatio,
		cacheHits:         cacheHits,
		cacheMisses:       cacheMisses,
		recomputeTotal:    recomputeTotal,
		recomputeDuration: recomputeDuration,
		rankedStudents:    rankedStudents,
		bulkRows:          bulkRows,
		startedAt:         time.Now(),
	}
}

// RegisterDB exports connection pool statistics for db.
func (m *MetricsService) RegisterDB(db *sql.DB, name string) {
	if m == nil || db == nil {
		return
	}
	m.db = db
	m.registry.MustRegister(collectors.NewDBStatsCollector(db, name))
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveRecompute records one finished population recompute.
func (m *MetricsService) ObserveRecompute(students int, duration time.Duration) {
	if m == nil {
		return
	}
	m.recomputeTotal.Inc()
	m.recomputeDuration.Observe(duration.Seconds())
	m.rankedStudents.Set(float64(students))
	atomic.AddUint64(&m.recomputeCount, 1)
	atomic.StoreInt64(&m.lastRecomputeNs, duration.Nanoseconds())
}

// RecordBulkRows counts the outcome of one bulk upload.
func (m *MetricsService) RecordBulkRows(accepted, rejected int) {
	if m == nil {
		return
	}
	if accepted > 0 {
		m.bulkRows.WithLabelValues(bulkOutcomeAccepted).Add(float64(accepted))
		atomic.AddUint64(&m.bulkAcceptedCount, uint64(accepted))
	}
	if rejected > 0 {
		m.bulkRows.WithLabelValues(bulkOutcomeRejected).Add(float64(rejected))
		atomic.AddUint64(&m.bulkRejectedCount, uint64(rejected))
	}
}

// Snapshot returns aggregated metrics for the JSON metrics endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)

	var cacheRatio float64
	if total := hits + misses; total > 0 {
		cacheRatio = float64(hits) / float64(total)
	}

	snapshot := models.SystemMetrics{
		UptimeSeconds:    time.Since(m.startedAt).Seconds(),
		Goroutines:       runtime.NumGoroutine(),
		TotalRequests:    atomic.LoadUint64(&m.requestCount),
		CacheHits:        hits,
		CacheMisses:      misses,
		CacheHitRatio:    cacheRatio,
		Recomputes:       atomic.LoadUint64(&m.recomputeCount),
		LastRecomputeMs:  float64(atomic.LoadInt64(&m.lastRecomputeNs)) / float64(time.Millisecond),
		BulkRowsAccepted: atomic.LoadUint64(&m.bulkAcceptedCount),
		BulkRowsRejected: atomic.LoadUint64(&m.bulkRejectedCount),
	}
	if m.db != nil {
		stats := m.db.Stats()
		snapshot.DBOpenConnections = stats.OpenConnections
		snapshot.DBInUse = stats.InUse
	}
	return snapshot
}
