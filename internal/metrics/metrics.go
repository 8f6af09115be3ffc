package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphummel/smartmine/internal/models"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartmine_http_requests_total",
			Help: "Total number of console HTTP requests by method, route, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smartmine_http_request_duration_seconds",
			Help:    "Console HTTP request latency in seconds by method and route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "smartmine_http_requests_in_flight",
		Help: "Current number of console HTTP requests being processed.",
	})

	backendRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartmine_backend_requests_total",
			Help: "Calls to the SmartMine backend by method, endpoint, and outcome.",
		},
		[]string{"method", "endpoint", "outcome"},
	)

	backendRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smartmine_backend_request_duration_seconds",
			Help:    "Backend call latency in seconds by method and endpoint.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	fallbackLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartmine_fallback_loads_total",
			Help: "Equipment loads served from the bundled snapshot, by result.",
		},
		[]string{"result"},
	)

	refreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartmine_refreshes_total",
			Help: "Equipment list refreshes by result (accepted, stale, error).",
		},
		[]string{"result"},
	)
)

// EquipmentSource is the subset of store.Store needed to collect equipment
// metrics.
type EquipmentSource interface {
	CountByStatus() map[models.Status]int
	UsingFallback() bool
}

// equipmentCollector reads the store on each scrape and reports unit counts
// by derived status.
type equipmentCollector struct {
	src          EquipmentSource
	unitsDesc    *prometheus.Desc
	fallbackDesc *prometheus.Desc
}

func (c *equipmentCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.unitsDesc
	ch <- c.fallbackDesc
}

func (c *equipmentCollector) Collect(ch chan<- prometheus.Metric) {
	counts := c.src.CountByStatus()
	for _, s := range []models.Status{models.StatusGood, models.StatusWarning, models.StatusCritical} {
		ch <- prometheus.MustNewConstMetric(c.unitsDesc, prometheus.GaugeValue, float64(counts[s]), string(s))
	}
	fallback := 0.0
	if c.src.UsingFallback() {
		fallback = 1
	}
	ch <- prometheus.MustNewConstMetric(c.fallbackDesc, prometheus.GaugeValue, fallback)
}

// Register registers all metrics with reg, including the Go runtime and
// process collectors, so reg must be a fresh registry rather than the
// default one.
func Register(reg prometheus.Registerer, src EquipmentSource) {
	reg.MustRegister(
		// Standard Go runtime and process metrics
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),

		// Console HTTP metrics
		httpRequestsTotal,
		httpRequestDuration,
		httpRequestsInFlight,

		// Backend client metrics
		backendRequestsTotal,
		backendRequestDuration,
		fallbackLoadsTotal,
		refreshesTotal,

		// Application metrics
		&equipmentCollector{
			src: src,
			unitsDesc: prometheus.NewDesc(
				"smartmine_equipment",
				"Number of equipment units in the console's store, partitioned by derived status.",
				[]string{"status"},
				nil,
			),
			fallbackDesc: prometheus.NewDesc(
				"smartmine_equipment_fallback",
				"1 when the store holds the bundled snapshot instead of live data.",
				nil,
				nil,
			),
		},
	)
}

// Handler serves the metrics gathered by g for the /metrics endpoint.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ObserveBackendCall records one backend call. endpoint is the route
// pattern (e.g. "/api/equipment/{id}") so cardinality stays bounded.
func ObserveBackendCall(method, endpoint, outcome string, d time.Duration) {
	backendRequestsTotal.WithLabelValues(method, endpoint, outcome).Inc()
	backendRequestDuration.WithLabelValues(method, endpoint).Observe(d.Seconds())
}

// ObserveFallback records a load served from the snapshot; ok is false when
// the snapshot could not be read either.
func ObserveFallback(ok bool) {
	result := "served"
	if !ok {
		result = "unavailable"
	}
	fallbackLoadsTotal.WithLabelValues(result).Inc()
}

// ObserveRefresh records the result of a list refresh.
func ObserveRefresh(result string) {
	refreshesTotal.WithLabelValues(result).Inc()
}

// responseWriter wraps http.ResponseWriter to capture the response status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records HTTP metrics for the console. The path label is the
// chi route pattern resolved after routing, so it has bounded cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			httpRequestsInFlight.Dec()
			pattern := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				pattern = rctx.RoutePattern()
			}
			status := strconv.Itoa(rw.status)
			httpRequestsTotal.WithLabelValues(r.Method, pattern, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
		}()

		next.ServeHTTP(rw, r)
	})
}
