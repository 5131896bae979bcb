package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the counseling server.
// It satisfies the recorder hooks of the websocket handler, the
// coordinator and the roster hub.
type Metrics struct {
	ConnectionsTotal        prometheus.Counter
	ActiveConnections       prometheus.Gauge
	EventsTotal             *prometheus.CounterVec
	RosterBroadcasts        *prometheus.CounterVec
	RosterBroadcastDuration prometheus.Histogram
	RosterRecipients        prometheus.Gauge
	HTTPRequestsTotal       *prometheus.CounterVec
	HTTPRequestDuration     *prometheus.HistogramVec
}

// New creates the metrics and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "counselchat_connections_total",
			Help: "Total websocket connections accepted",
		}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "counselchat_active_connections",
			Help: "Current open websocket connections",
		}),
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "counselchat_events_total",
			Help: "Inbound events by name and outcome",
		}, []string{"event", "outcome"}),
		RosterBroadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "counselchat_roster_broadcasts_total",
			Help: "Roster broadcasts by result",
		}, []string{"result"}),
		RosterBroadcastDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "counselchat_roster_broadcast_duration_seconds",
			Help:    "Time to project and publish the roster",
			Buckets: prometheus.DefBuckets,
		}),
		RosterRecipients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "counselchat_roster_recipients",
			Help: "Counselor connections reached by the last roster broadcast",
		}),
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "counselchat_http_requests_total",
			Help: "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "counselchat_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// ConnectionOpened records an accepted websocket
func (m *Metrics) ConnectionOpened() {
	m.ConnectionsTotal.Inc()
	m.ActiveConnections.Inc()
}

// ConnectionClosed records a finished websocket
func (m *Metrics) ConnectionClosed() {
	m.ActiveConnections.Dec()
}

// RecordEvent counts one handled inbound event
func (m *Metrics) RecordEvent(event, outcome string) {
	m.EventsTotal.WithLabelValues(event, outcome).Inc()
}

// RecordRosterBroadcast records one hub publication attempt
func (m *Metrics) RecordRosterBroadcast(elapsed time.Duration, recipients int, err error) {
	m.RosterBroadcastDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.RosterBroadcasts.WithLabelValues("error").Inc()
		return
	}
	m.RosterBroadcasts.WithLabelValues("ok").Inc()
	m.RosterRecipients.Set(float64(recipients))
}

// statusWriter wraps http.ResponseWriter to capture status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack lets websocket upgrades pass through the middleware
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

// Middleware records request counts and latency labelled by chi route pattern
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
