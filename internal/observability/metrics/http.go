package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPServerMetrics covers the API surface: generic HTTP server metrics plus
// question-answering run outcomes. Each process owns its registry, so tests
// can build throwaway instances without label collisions.
type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	qaRunsTotal       *prometheus.CounterVec
	qaDegradedTotal   *prometheus.CounterVec
	qaStageFailures   *prometheus.CounterVec
	qaCitationsPerRun *prometheus.HistogramVec
	qaDuration        *prometheus.HistogramVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fdqa",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fdqa",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fdqa",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	qaRunsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fdqa",
			Subsystem: "qa",
			Name:      "runs_total",
			Help:      "Total question-answering runs by retrieval mode and outcome.",
		},
		[]string{"service", "mode", "status"},
	)
	qaDegradedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fdqa",
			Subsystem: "qa",
			Name:      "degraded_total",
			Help:      "Total completed runs that skipped reranking after judge failure.",
		},
		[]string{"service", "mode"},
	)
	qaStageFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fdqa",
			Subsystem: "qa",
			Name:      "stage_failures_total",
			Help:      "Total failed runs by pipeline stage.",
		},
		[]string{"service", "stage"},
	)
	qaCitationsPerRun := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fdqa",
			Subsystem: "qa",
			Name:      "citations",
			Help:      "Distribution of citations per completed run.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		},
		[]string{"service"},
	)
	qaDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fdqa",
			Subsystem: "qa",
			Name:      "duration_seconds",
			Help:      "Question-answering run duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "mode"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		qaRunsTotal,
		qaDegradedTotal,
		qaStageFailures,
		qaCitationsPerRun,
		qaDuration,
	)

	return &HTTPServerMetrics{
		registry:          registry,
		requestTotal:      requestTotal,
		requestDuration:   requestDuration,
		requestInFlight:   requestInFlight,
		qaRunsTotal:       qaRunsTotal,
		qaDegradedTotal:   qaDegradedTotal,
		qaStageFailures:   qaStageFailures,
		qaCitationsPerRun: qaCitationsPerRun,
		qaDuration:        qaDuration,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			r.URL.Path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

func (m *HTTPServerMetrics) RecordQuerySuccess(service, mode string, degraded bool, citations int, duration time.Duration) {
	if mode == "" {
		mode = "unknown"
	}
	m.qaRunsTotal.WithLabelValues(service, mode, "success").Inc()
	m.qaCitationsPerRun.WithLabelValues(service).Observe(float64(citations))
	m.qaDuration.WithLabelValues(service, mode).Observe(duration.Seconds())
	if degraded {
		m.qaDegradedTotal.WithLabelValues(service, mode).Inc()
	}
}

func (m *HTTPServerMetrics) RecordQueryFailure(service, mode, stage string, duration time.Duration) {
	if mode == "" {
		mode = "unknown"
	}
	if stage == "" {
		stage = "unknown"
	}
	m.qaRunsTotal.WithLabelValues(service, mode, "error").Inc()
	m.qaStageFailures.WithLabelValues(service, stage).Inc()
	m.qaDuration.WithLabelValues(service, mode).Observe(duration.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
