package metrics

import (
	"database/sql"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	metricPrefix = "greenhouse_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	detectLatency   prometheus.Histogram
	ruleEvaluations *prometheus.CounterVec
	alertsFired     *prometheus.CounterVec
	alertErrors     *prometheus.CounterVec

	notificationsTotal *prometheus.CounterVec
	notificationQueue  prometheus.Gauge

	stateEntries *prometheus.GaugeVec
	stateSwept   *prometheus.CounterVec

	panicsRecovered *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
)

// Init registers alerting metrics and DB-backed gauges.
func Init(db *sql.DB, logger zerolog.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_readings_total",
				Help: "Total ingested sensor readings by result",
			},
			[]string{"result"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Reading ingest request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		detectLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "alert_detect_latency_seconds",
			Help:    "Alert detection latency per reading in seconds",
			Buckets: prometheus.DefBuckets,
		})
		ruleEvaluations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_rule_evaluations_total",
				Help: "Total rule evaluations by outcome",
			},
			[]string{"outcome"},
		)
		alertsFired = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_fired_total",
				Help: "Total dispatched alerts by severity",
			},
			[]string{"severity"},
		)
		alertErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_errors_total",
				Help: "Total swallowed alerting errors by kind",
			},
			[]string{"kind"},
		)

		notificationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_notifications_total",
				Help: "Total notification deliveries by channel and result",
			},
			[]string{"channel", "result"},
		)
		notificationQueue = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "alert_notification_queue_depth",
			Help: "Notifications waiting for delivery",
		})

		stateEntries = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "alert_state_entries",
				Help: "Live per-rule state entries by store",
			},
			[]string{"store"},
		)
		stateSwept = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_state_swept_total",
				Help: "Per-rule state entries removed by the cleanup sweep",
			},
			[]string{"store"},
		)

		panicsRecovered = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "panics_recovered_total",
				Help: "Recovered panics by component",
			},
			[]string{"component"},
		)

		httpRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "Total HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		)
		httpLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestLatency,
			detectLatency,
			ruleEvaluations,
			alertsFired,
			alertErrors,
			notificationsTotal,
			notificationQueue,
			stateEntries,
			stateSwept,
			panicsRecovered,
			httpRequests,
			httpLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveDetect records how long one DetectAlerts pass took.
func ObserveDetect(duration time.Duration) {
	if detectLatency != nil {
		detectLatency.Observe(duration.Seconds())
	}
}

// IncRuleEvaluation counts a rule evaluation outcome.
func IncRuleEvaluation(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if ruleEvaluations != nil {
		ruleEvaluations.WithLabelValues(outcome).Inc()
	}
}

// IncAlertFired counts a dispatched alert.
func IncAlertFired(severity string) {
	if severity == "" {
		severity = "unknown"
	}
	if alertsFired != nil {
		alertsFired.WithLabelValues(severity).Inc()
	}
}

// IncAlertError counts a swallowed error.
func IncAlertError(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if alertErrors != nil {
		alertErrors.WithLabelValues(kind).Inc()
	}
}

// IncNotification counts a notification delivery attempt outcome.
func IncNotification(channel, result string) {
	if channel == "" {
		channel = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if notificationsTotal != nil {
		notificationsTotal.WithLabelValues(channel, result).Inc()
	}
}

// SetNotificationQueueDepth sets the pending notification gauge.
func SetNotificationQueueDepth(depth int) {
	if notificationQueue != nil {
		notificationQueue.Set(float64(depth))
	}
}

// SetStateEntries sets the live entry gauge for a state store.
func SetStateEntries(store string, count int) {
	if stateEntries != nil {
		stateEntries.WithLabelValues(store).Set(float64(count))
	}
}

// AddStateSwept counts entries removed by the cleanup sweep.
func AddStateSwept(store string, count int) {
	if count <= 0 {
		return
	}
	if stateSwept != nil {
		stateSwept.WithLabelValues(store).Add(float64(count))
	}
}

// IncPanicRecovered counts a recovered panic.
func IncPanicRecovered(component string) {
	if panicsRecovered != nil {
		panicsRecovered.WithLabelValues(component).Inc()
	}
}

// ObserveHTTP records one served request.
func ObserveHTTP(method, route string, status int, duration time.Duration) {
	if httpRequests != nil {
		httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	}
	if httpLatency != nil {
		httpLatency.WithLabelValues(method, route).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess  = resultSuccess
	ResultError    = resultError
	ResultRejected = "rejected"
)
