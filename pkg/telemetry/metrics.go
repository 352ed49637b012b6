package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the attribute engine. A nil *Metrics and a
// disabled instance are both valid no-op recorders.
type Metrics struct {
	config MetricsConfig

	// Function execution metrics
	bindingsExecuted *prometheus.CounterVec
	bindingDuration  *prometheus.HistogramVec

	// Attribute graph metrics
	attributeWrites *prometheus.CounterVec
	cascadeDepth    prometheus.Histogram
	proxiesCreated  prometheus.Counter

	// Pass metrics
	passesRun *prometheus.CounterVec

	// Edge metrics
	edgesCreated *prometheus.CounterVec

	// Change notification metrics
	busPublished *prometheus.CounterVec
	busSkipped   prometheus.Counter

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		bindingsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "func_bindings_executed_total",
				Help:      "Total number of function binding executions",
			},
			[]string{"backend", "status"},
		),
		bindingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "func_binding_duration_seconds",
				Help:      "Duration of function binding execution in seconds",
				Buckets:   buckets,
			},
			[]string{"backend"},
		),

		attributeWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attribute_writes_total",
				Help:      "Total number of attribute value writes",
			},
			[]string{"operation"},
		),
		cascadeDepth: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attribute_cascade_depth",
				Help:      "Number of parent values adjusted by one write",
				Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
			},
		),
		proxiesCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attribute_proxies_created_total",
				Help:      "Total number of intermediate proxy values created",
			},
		),

		passesRun: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "passes_run_total",
				Help:      "Total number of validation, qualification and code generation runs",
			},
			[]string{"pass", "status"},
		),

		edgesCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "edges_created_total",
				Help:      "Total number of edges created",
			},
			[]string{"kind"},
		),

		busPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bus_messages_published_total",
				Help:      "Total number of change notifications published",
			},
			[]string{"driver"},
		),
		busSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bus_messages_skipped_total",
				Help:      "Total number of change notifications skipped for lack of a tenancy",
			},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.bindingsExecuted,
		m.bindingDuration,
		m.attributeWrites,
		m.cascadeDepth,
		m.proxiesCreated,
		m.passesRun,
		m.edgesCreated,
		m.busPublished,
		m.busSkipped,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RecordBindingExecution records one function binding execution.
func (m *Metrics) RecordBindingExecution(backend, status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.bindingsExecuted.WithLabelValues(backend, status).Inc()
	m.bindingDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordAttributeWrite records a set or unset of an attribute value.
func (m *Metrics) RecordAttributeWrite(operation string) {
	if !m.enabled() {
		return
	}
	m.attributeWrites.WithLabelValues(operation).Inc()
}

// ObserveCascadeDepth records how many ancestors one write adjusted.
func (m *Metrics) ObserveCascadeDepth(depth int) {
	if !m.enabled() {
		return
	}
	m.cascadeDepth.Observe(float64(depth))
}

// RecordProxyCreated records an intermediate proxy value.
func (m *Metrics) RecordProxyCreated() {
	if !m.enabled() {
		return
	}
	m.proxiesCreated.Inc()
}

// RecordPass records one pass run for a component.
func (m *Metrics) RecordPass(pass, status string) {
	if !m.enabled() {
		return
	}
	m.passesRun.WithLabelValues(pass, status).Inc()
}

// RecordEdgeCreated records a new edge.
func (m *Metrics) RecordEdgeCreated(kind string) {
	if !m.enabled() {
		return
	}
	m.edgesCreated.WithLabelValues(kind).Inc()
}

// RecordBusPublished records a delivered change notification.
func (m *Metrics) RecordBusPublished(driver string) {
	if !m.enabled() {
		return
	}
	m.busPublished.WithLabelValues(driver).Inc()
}

// RecordBusSkipped records a change notification dropped for lack of a tenancy.
func (m *Metrics) RecordBusSkipped() {
	if !m.enabled() {
		return
	}
	m.busSkipped.Inc()
}

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Registry exposes the underlying registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server exposing metrics. Listen errors are sent to
// errCh when it is not nil.
func (m *Metrics) StartMetricsServer(errCh chan<- error) *http.Server {
	if !m.enabled() || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed && errCh != nil {
			errCh <- err
		}
	}()

	return server
}
