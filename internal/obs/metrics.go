package obs

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	wsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bazaar_ws_connections",
		Help: "Open real-time connections.",
	})

	wsHandshakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bazaar_ws_handshakes_total",
			Help: "Real-time handshake attempts by outcome and reason.",
		},
		[]string{"outcome", "reason"},
	)

	wsFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bazaar_ws_frames_total",
			Help: "Inbound real-time frames by destination and result.",
		},
		[]string{"destination", "result"},
	)

	broadcastFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bazaar_broadcast_failures_total",
			Help: "Events persisted but not delivered to the topic hub.",
		},
		[]string{"kind"},
	)

	droppedEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bazaar_stream_dropped_events_total",
		Help: "Events dropped because a subscriber was too slow.",
	})

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bazaar_ready",
		Help: "1 when the last readiness check succeeded.",
	})

	initOnce sync.Once
)

// Init registers metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			wsConnections, wsHandshakes, wsFrames,
			broadcastFailures, droppedEvents, ready,
		)
	})
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records RPS, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses identifiers so label cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	switch {
	case len(parts) >= 3 && parts[0] == "v1" && parts[1] == "conversations":
		parts[2] = ":id"
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "admin" && parts[2] == "users":
		parts[3] = ":id"
	}
	return "/" + strings.Join(parts, "/")
}

// WSConnectionOpened and WSConnectionClosed track the open connection gauge.
func WSConnectionOpened() { wsConnections.Inc() }
func WSConnectionClosed() { wsConnections.Dec() }

// WSHandshake counts handshake outcomes ("allowed"/"denied") with a short reason.
func WSHandshake(outcome, reason string) {
	wsHandshakes.WithLabelValues(outcome, reason).Inc()
}

// WSFrame counts inbound frames.
func WSFrame(destination, result string) {
	wsFrames.WithLabelValues(destination, result).Inc()
}

// BroadcastFailed counts events that were stored but not published.
func BroadcastFailed(kind string) {
	broadcastFailures.WithLabelValues(kind).Inc()
}

// EventDropped counts events dropped for slow subscribers.
func EventDropped() { droppedEvents.Inc() }

// SetReady records the outcome of the last readiness check.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer (hijack for ws).
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Hijack passes WebSocket upgrades through to the server connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	return h.Hijack()
}
