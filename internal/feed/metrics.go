package feed

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type httpMetrics struct {
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	subscribers prometheus.GaugeFunc
}

func newHTTPMetrics(reg prometheus.Registerer, h *hub) *httpMetrics {
	f := promauto.With(reg)

	return &httpMetrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clipcloud_feed_http_requests_total",
			Help: "HTTP requests served by the progress feed.",
		}, []string{"method", "route", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clipcloud_feed_http_request_duration_seconds",
			Help:    "Duration of progress feed HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		subscribers: f.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "clipcloud_feed_subscribers",
			Help: "Connected websocket subscribers.",
		}, func() float64 { return float64(h.count()) }),
	}
}

// middleware records request counts and durations labelled by the chi route
// pattern, so ids in paths do not explode cardinality.
func (m *httpMetrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}

		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
		m.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack is needed for the websocket upgrade on /events.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(w.ResponseWriter).Hijack()
}
