// Package metrics provides Prometheus instrumentation for the race engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BetsTotal counts accepted bets.
	BetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "race_bets_total",
		Help: "Total number of bets accepted",
	})

	// BetsRejected counts rejected bets, partitioned by reason.
	BetsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "race_bets_rejected_total",
		Help: "Bets rejected by a guard condition",
	}, []string{"reason"})

	// RaceTransitions counts lifecycle transitions by kind.
	RaceTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "race_transitions_total",
		Help: "Race lifecycle transitions applied",
	}, []string{"transition"}) // created, started, cancelled, finished

	// Revocations counts completed bet refunds.
	Revocations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "race_revocations_total",
		Help: "Bet refunds completed after cancellation",
	})

	// SettlementPaid accumulates reward amounts paid to winners.
	SettlementPaid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "race_settlement_paid_units_total",
		Help: "Cumulative winner payouts in currency units",
	})

	// SettlementCommission accumulates commission swept to the treasury.
	SettlementCommission = promauto.NewCounter(prometheus.CounterOpts{
		Name: "race_settlement_commission_units_total",
		Help: "Cumulative commission in currency units",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "race_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "race_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "race_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
