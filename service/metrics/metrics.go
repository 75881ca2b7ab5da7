package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Ledger RPC Metrics
	ledgerCallsTotal   *prometheus.CounterVec
	ledgerCallDuration *prometheus.HistogramVec
	ledgerReadWait     *prometheus.HistogramVec

	// Operation Metrics
	operationsTotal     *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec
	busyRejectionsTotal *prometheus.CounterVec

	// Reconciliation Metrics
	rebuildPassesTotal   *prometheus.CounterVec
	rebuildPassDuration  *prometheus.HistogramVec
	viewSize             *prometheus.GaugeVec
	metadataFetchesTotal *prometheus.CounterVec

	// Workflow Metrics
	resyncActivityDuration *prometheus.HistogramVec

	// Journal Metrics
	journalWriteDuration *prometheus.HistogramVec
	journalWritesTotal   *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections prometheus.Gauge
	sseEventsSent        *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Ledger RPC Metrics
		ledgerCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_calls_total",
				Help: "Total number of ledger RPC calls by contract method and status",
			},
			[]string{"method", "status"},
		),
		ledgerCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_call_duration_seconds",
				Help:    "Duration of ledger RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),
		ledgerReadWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_read_wait_seconds",
				Help:    "Time ledger reads spent waiting on the read pacer",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"method"},
		),

		// Operation Metrics
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "operations_total",
				Help: "Total number of submitted operations by kind and outcome",
			},
			[]string{"tag", "status"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "operation_duration_seconds",
				Help:    "Duration from submission to settlement of operations in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"tag", "status"},
		),
		busyRejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "operation_busy_rejections_total",
				Help: "Total number of operations rejected because another was pending",
			},
			[]string{"tag"},
		),

		// Reconciliation Metrics
		rebuildPassesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rebuild_passes_total",
				Help: "Total number of view rebuild passes by view and outcome",
			},
			[]string{"view", "status"},
		),
		rebuildPassDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rebuild_pass_duration_seconds",
				Help:    "Duration of view rebuild passes in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"view"},
		),
		viewSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "view_size",
				Help: "Number of rows in the last published view",
			},
			[]string{"view"},
		),
		metadataFetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metadata_fetches_total",
				Help: "Total number of token metadata fetches by outcome",
			},
			[]string{"status"},
		),

		// Workflow Metrics
		resyncActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "resync_activity_duration_seconds",
				Help:    "Duration of resync workflow activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity", "status"},
		),

		// Journal Metrics
		journalWriteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "journal_write_duration_seconds",
				Help:    "Duration of operation journal writes in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"backend"},
		),
		journalWritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "journal_writes_total",
				Help: "Total number of operation journal writes",
			},
			[]string{"backend", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 10, 60},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"event_type"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"kind", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"kind"},
		),
	}
}

// Ledger metric helpers

// RecordLedgerCall records a ledger RPC call with duration.
func (m *Metrics) RecordLedgerCall(method string, duration float64, err error) {
	m.ledgerCallsTotal.WithLabelValues(method, errorStatus(err)).Inc()
	m.ledgerCallDuration.WithLabelValues(method).Observe(duration)
}

// RecordLedgerReadWait records time spent waiting for the read pacer.
func (m *Metrics) RecordLedgerReadWait(method string, duration float64) {
	m.ledgerReadWait.WithLabelValues(method).Observe(duration)
}

// Operation metric helpers

// RecordOperation records a settled operation.
func (m *Metrics) RecordOperation(tag, status string, duration float64) {
	m.operationsTotal.WithLabelValues(tag, status).Inc()
	m.operationDuration.WithLabelValues(tag, status).Observe(duration)
}

// RecordBusyRejection records an operation refused because another was pending.
func (m *Metrics) RecordBusyRejection(tag string) {
	m.busyRejectionsTotal.WithLabelValues(tag).Inc()
}

// Reconciliation metric helpers

// RecordRebuildPass records a completed or failed view rebuild pass.
// status is one of "published", "superseded" or "error".
func (m *Metrics) RecordRebuildPass(view, status string, duration float64) {
	m.rebuildPassesTotal.WithLabelValues(view, status).Inc()
	m.rebuildPassDuration.WithLabelValues(view).Observe(duration)
}

// RecordViewSize records the size of a published view.
func (m *Metrics) RecordViewSize(view string, size int) {
	m.viewSize.WithLabelValues(view).Set(float64(size))
}

// RecordMetadataFetch records a metadata fetch attempt.
// status is one of "success", "cached" or "error".
func (m *Metrics) RecordMetadataFetch(status string) {
	m.metadataFetchesTotal.WithLabelValues(status).Inc()
}

// Workflow metric helpers

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, duration float64, err error) {
	m.resyncActivityDuration.WithLabelValues(activity, errorStatus(err)).Observe(duration)
}

// Journal metric helpers

// RecordJournalWrite records an operation journal write with duration.
func (m *Metrics) RecordJournalWrite(backend string, duration float64, err error) {
	m.journalWriteDuration.WithLabelValues(backend).Observe(duration)
	m.journalWritesTotal.WithLabelValues(backend, errorStatus(err)).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(delta float64) {
	m.sseActiveConnections.Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(eventType string) {
	m.sseEventsSent.WithLabelValues(eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(kind string, duration float64, err error) {
	m.natsMessagesPublished.WithLabelValues(kind, errorStatus(err)).Inc()
	m.natsPublishDuration.WithLabelValues(kind).Observe(duration)
}

// Helper functions

func errorStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
