package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "condo_water_"

	resultSuccess  = "success"
	resultError    = "error"
	resultConflict = "conflict"

	cacheHit  = "hit"
	cacheMiss = "miss"
)

var (
	registerOnce sync.Once

	periodCreateTotal   *prometheus.CounterVec
	periodCreateLatency *prometheus.HistogramVec
	periodCloseTotal    *prometheus.CounterVec
	periodCloseLatency  *prometheus.HistogramVec
	unitReadingTotal    *prometheus.CounterVec

	historyQueryLatency *prometheus.HistogramVec
	historyRebuildTotal *prometheus.CounterVec
	statsCacheTotal     *prometheus.CounterVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec

	invitationEventsTotal *prometheus.CounterVec
)

// Init registers metrics and, when db is set, document-store gauges.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		periodCreateTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "period_create_total",
				Help: "Total billing period creations by result",
			},
			[]string{"result"},
		)
		periodCreateLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "period_create_latency_seconds",
				Help:    "Billing period creation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		periodCloseTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "period_close_total",
				Help: "Total billing period closes by result",
			},
			[]string{"result"},
		)
		periodCloseLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "period_close_latency_seconds",
				Help:    "Billing period close latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		unitReadingTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "unit_reading_submit_total",
				Help: "Total unit reading submissions by result",
			},
			[]string{"result"},
		)

		historyQueryLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "history_query_latency_seconds",
				Help:    "History query latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"query", "result"},
		)
		historyRebuildTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "history_rebuild_total",
				Help: "Total history rebuilds by result",
			},
			[]string{"result"},
		)
		statsCacheTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "stats_cache_total",
				Help: "Stats cache lookups by outcome",
			},
			[]string{"outcome"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reading_export_total",
				Help: "Total reading exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "reading_export_latency_seconds",
				Help:    "Reading export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		invitationEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "invitation_events_total",
				Help: "Total invitation lifecycle events by type",
			},
			[]string{"event"},
		)

		prometheus.MustRegister(
			periodCreateTotal,
			periodCreateLatency,
			periodCloseTotal,
			periodCloseLatency,
			unitReadingTotal,
			historyQueryLatency,
			historyRebuildTotal,
			statsCacheTotal,
			exportTotal,
			exportLatency,
			invitationEventsTotal,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObservePeriodCreate records period creation latency and result.
func ObservePeriodCreate(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if periodCreateTotal != nil {
		periodCreateTotal.WithLabelValues(result).Inc()
	}
	if periodCreateLatency != nil {
		periodCreateLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObservePeriodClose records period close latency and result.
func ObservePeriodClose(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if periodCloseTotal != nil {
		periodCloseTotal.WithLabelValues(result).Inc()
	}
	if periodCloseLatency != nil {
		periodCloseLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncUnitReading increments the unit reading submission counter.
func IncUnitReading(result string) {
	if result == "" {
		result = resultSuccess
	}
	if unitReadingTotal != nil {
		unitReadingTotal.WithLabelValues(result).Inc()
	}
}

// ObserveHistoryQuery records history query latency.
func ObserveHistoryQuery(query, result string, duration time.Duration) {
	if query == "" {
		query = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if historyQueryLatency != nil {
		historyQueryLatency.WithLabelValues(query, result).Observe(duration.Seconds())
	}
}

// IncHistoryRebuild increments the history rebuild counter.
func IncHistoryRebuild(result string) {
	if result == "" {
		result = resultSuccess
	}
	if historyRebuildTotal != nil {
		historyRebuildTotal.WithLabelValues(result).Inc()
	}
}

// IncStatsCache records a stats cache hit or miss.
func IncStatsCache(hit bool) {
	outcome := cacheMiss
	if hit {
		outcome = cacheHit
	}
	if statsCacheTotal != nil {
		statsCacheTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// IncInvitationEvent increments invitation lifecycle counters.
func IncInvitationEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if invitationEventsTotal != nil {
		invitationEventsTotal.WithLabelValues(event).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess  = resultSuccess
	ResultError    = resultError
	ResultConflict = resultConflict
)
