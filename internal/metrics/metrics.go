package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/layer-3/usdcpay/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Auth metrics

	AuthAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "usdcpay",
		Name:      "auth_attempts_total",
		Help:      "Wallet login attempts, by outcome.",
	}, []string{"outcome"})

	NoncesIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "usdcpay",
		Name:      "nonces_issued_total",
		Help:      "Login nonces handed out.",
	})

	// Ledger metrics

	TransactionsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "usdcpay",
		Name:      "transactions_created_total",
		Help:      "PENDING transactions recorded.",
	})

	// Settlement metrics

	SettlementsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "usdcpay",
		Name:      "settlements_total",
		Help:      "Settlement attempts that reached the chain, by outcome.",
	}, []string{"outcome"})

	SettlementDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "usdcpay",
		Name:      "settlement_duration_seconds",
		Help:      "Time from claim to finalization of a settlement.",
		Buckets:   []float64{.5, 1, 2.5, 5, 10, 15, 30, 60, 120, 180, 300},
	}, []string{"outcome"})

	StaleSettlements = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "usdcpay",
		Name:      "stale_settlements",
		Help:      "Transactions found stuck in PROCESSING at the last check.",
	})

	EventPublishFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "usdcpay",
		Name:      "event_publish_failures_total",
		Help:      "Lifecycle events that could not be published.",
	}, []string{"event"})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "usdcpay",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 30, 120},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "usdcpay",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})

	RateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "usdcpay",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the per-client rate limiter.",
	}, []string{"path"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		AuthAttemptsTotal,
		NoncesIssuedTotal,
		TransactionsCreatedTotal,
		SettlementsTotal,
		SettlementDuration,
		StaleSettlements,
		EventPublishFailuresTotal,
		HTTPRequestDuration,
		HTTPRequestsTotal,
		RateLimitedTotal,
	)
}

// NewServer serves /metrics, /livez and /readyz.
func NewServer(addr string, gatherer prometheus.Gatherer, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Readiness(r.Context()))
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealth(w http.ResponseWriter, result health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	if result.Status != "up" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(result)
}
