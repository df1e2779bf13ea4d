package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all the application metrics. Every method is safe on a nil
// receiver so packages can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP request metrics
	HTTPRequestTotal    *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Upload metrics
	SessionsCreated    prometheus.Counter
	ChunksStored       *prometheus.CounterVec
	ChunkBytes         prometheus.Counter
	AssembliesTotal    *prometheus.CounterVec
	AssemblyDuration   prometheus.Histogram
	AssembledBytes     prometheus.Counter
	SessionsSwept      *prometheus.CounterVec
	StorageOpsDuration *prometheus.HistogramVec
}

// New creates the metrics on their own registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,

		HTTPRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),

		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upload_sessions_created_total",
			Help: "Total number of initialized upload sessions",
		}),

		ChunksStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upload_chunks_total",
			Help: "Chunks received, by outcome",
		}, []string{"result"}),

		ChunkBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upload_chunk_bytes_total",
			Help: "Bytes persisted as chunk artifacts",
		}),

		AssembliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upload_assemblies_total",
			Help: "Assembly attempts, by outcome",
		}, []string{"result"}),

		AssemblyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "upload_assembly_duration_seconds",
			Help:    "Time spent concatenating chunks",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),

		AssembledBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upload_assembled_bytes_total",
			Help: "Bytes written to permanent storage by successful assemblies",
		}),

		SessionsSwept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upload_sessions_swept_total",
			Help: "Sessions or namespaces removed by maintenance sweeps",
		}, []string{"kind"}),

		StorageOpsDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	reg.MustRegister(
		m.HTTPRequestTotal,
		m.HTTPRequestDuration,
		m.SessionsCreated,
		m.ChunksStored,
		m.ChunkBytes,
		m.AssembliesTotal,
		m.AssemblyDuration,
		m.AssembledBytes,
		m.SessionsSwept,
		m.StorageOpsDuration,
	)

	return m
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

// ChunkStored records a chunk outcome: stored, duplicate or rejected
func (m *Metrics) ChunkStored(result string, bytes int) {
	if m == nil {
		return
	}
	m.ChunksStored.WithLabelValues(result).Inc()
	if result == "stored" {
		m.ChunkBytes.Add(float64(bytes))
	}
}

// Assembly records an assembly outcome: success, incomplete, size_mismatch or error
func (m *Metrics) Assembly(result string, bytes int64, d time.Duration) {
	if m == nil {
		return
	}
	m.AssembliesTotal.WithLabelValues(result).Inc()
	if result == "success" {
		m.AssemblyDuration.Observe(d.Seconds())
		m.AssembledBytes.Add(float64(bytes))
	}
}

// Swept counts sessions removed by kind: expired, cancelled or orphaned
func (m *Metrics) Swept(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.SessionsSwept.WithLabelValues(kind).Add(float64(n))
}

// ObserveStorage times a single storage operation
func (m *Metrics) ObserveStorage(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.StorageOpsDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Middleware records request count and latency labelled by route pattern
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := strconv.Itoa(ww.Status())
		m.HTTPRequestTotal.WithLabelValues(r.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
	})
}
