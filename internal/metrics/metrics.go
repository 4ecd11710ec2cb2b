package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters. A nil *Metrics is a valid no-op.
type Metrics struct {
	feedFailures   *prometheus.CounterVec
	feeQuotes      *prometheus.CounterVec
	userOps        *prometheus.CounterVec
	eoaTransfers   *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	historyActions prometheus.Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// Init initializes global metrics (idempotent).
func Init() *Metrics {
	once.Do(func() {
		metrics = &Metrics{
			feedFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "semi_history_feed_failures_total",
				Help: "Explorer feed fetches that failed and were treated as empty",
			}, []string{"feed"}),
			feeQuotes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "semi_fee_quotes_total",
				Help: "Fee quotes resolved, by source (oracle or fallback)",
			}, []string{"source"}),
			userOps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "semi_user_operations_total",
				Help: "User operations by outcome",
			}, []string{"outcome"}),
			eoaTransfers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "semi_eoa_transfers_total",
				Help: "Plain account transfers by outcome",
			}, []string{"outcome"}),
			httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "semi_http_requests_total",
				Help: "HTTP API requests by route and status",
			}, []string{"route", "status"}),
			historyActions: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "semi_history_actions_total",
				Help: "Normalized history actions returned",
			}),
		}
		prometheus.MustRegister(
			metrics.feedFailures,
			metrics.feeQuotes,
			metrics.userOps,
			metrics.eoaTransfers,
			metrics.httpRequests,
			metrics.historyActions,
		)
	})
	return metrics
}

func (m *Metrics) FeedFailure(feed string) {
	if m != nil {
		m.feedFailures.WithLabelValues(feed).Inc()
	}
}

func (m *Metrics) FeeQuote(source string) {
	if m != nil {
		m.feeQuotes.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) UserOp(outcome string) {
	if m != nil {
		m.userOps.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) EOATransfer(outcome string) {
	if m != nil {
		m.eoaTransfers.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) HTTPRequest(route string, status int) {
	if m != nil {
		m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	}
}

func (m *Metrics) HistoryActions(n int) {
	if m != nil && n > 0 {
		m.historyActions.Add(float64(n))
	}
}

// Handler returns an HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
