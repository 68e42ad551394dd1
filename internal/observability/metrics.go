// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Purchase metrics
	PurchasesAccepted prometheus.Counter
	PurchasesRejected *prometheus.CounterVec
	USDRaised         prometheus.Counter
	TokensAllocated   prometheus.Counter

	// Claim metrics
	ClaimsProcessed prometheus.Counter
	TokensClaimed   prometheus.Counter

	// Admin metrics
	WalletResets prometheus.Counter

	// Round metrics
	RoundTokensSold *prometheus.GaugeVec

	// Latency metrics
	PurchaseLatency prometheus.Histogram
	ClaimLatency    prometheus.Histogram

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Stream metrics
	StreamClients       prometheus.Gauge
	StreamEventsDropped prometheus.Counter

	// Health metrics
	LastAcceptedPurchase prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "presale_engine"
	}

	return &Metrics{
		// Purchase metrics
		PurchasesAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "purchases",
			Name:      "accepted_total",
			Help:      "Total number of accepted purchases",
		}),
		PurchasesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "purchases",
			Name:      "rejected_total",
			Help:      "Total number of rejected purchases by reason",
		}, []string{"reason"}),
		USDRaised: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "purchases",
			Name:      "usd_raised_total",
			Help:      "Total USD raised across accepted purchases",
		}),
		TokensAllocated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "purchases",
			Name:      "tokens_allocated_total",
			Help:      "Total tokens allocated across accepted purchases",
		}),

		// Claim metrics
		ClaimsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "claims",
			Name:      "processed_total",
			Help:      "Total number of successful claims",
		}),
		TokensClaimed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "claims",
			Name:      "tokens_claimed_total",
			Help:      "Total vested tokens marked claimed",
		}),

		// Admin metrics
		WalletResets: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admin",
			Name:      "wallet_resets_total",
			Help:      "Total number of wallet limit resets",
		}),

		// Round metrics
		RoundTokensSold: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rounds",
			Name:      "tokens_sold",
			Help:      "Tokens sold per round",
		}, []string{"round"}),

		// Latency metrics
		PurchaseLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "purchases",
			Name:      "latency_seconds",
			Help:      "Purchase processing latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		ClaimLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "claims",
			Name:      "latency_seconds",
			Help:      "Claim processing latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Stream metrics
		StreamClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "clients",
			Help:      "Number of connected WebSocket clients",
		}),
		StreamEventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "events_dropped_total",
			Help:      "Total events dropped on slow WebSocket clients",
		}),

		// Health metrics
		LastAcceptedPurchase: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_accepted_purchase_timestamp",
			Help:      "Unix timestamp of the last accepted purchase",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordPurchaseAccepted records one accepted purchase.
func RecordPurchaseAccepted(usdDollars float64, tokens int64, seconds float64) {
	DefaultMetrics.PurchasesAccepted.Inc()
	DefaultMetrics.USDRaised.Add(usdDollars)
	DefaultMetrics.TokensAllocated.Add(float64(tokens))
	DefaultMetrics.PurchaseLatency.Observe(seconds)
	DefaultMetrics.LastAcceptedPurchase.SetToCurrentTime()
}

// RecordPurchaseRejected records one rejected purchase by reason.
func RecordPurchaseRejected(reason string) {
	DefaultMetrics.PurchasesRejected.WithLabelValues(reason).Inc()
}

// RecordClaim records one successful claim.
func RecordClaim(tokens int64, seconds float64) {
	DefaultMetrics.ClaimsProcessed.Inc()
	DefaultMetrics.TokensClaimed.Add(float64(tokens))
	DefaultMetrics.ClaimLatency.Observe(seconds)
}

// RecordWalletReset increments the wallet reset counter.
func RecordWalletReset() {
	DefaultMetrics.WalletResets.Inc()
}

// UpdateRoundSold updates the tokens-sold gauge for a round.
func UpdateRoundSold(roundID string, sold int64) {
	DefaultMetrics.RoundTokensSold.WithLabelValues(roundID).Set(float64(sold))
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// UpdateStreamClients sets the connected WebSocket client gauge.
func UpdateStreamClients(n int) {
	DefaultMetrics.StreamClients.Set(float64(n))
}

// RecordStreamEventDropped counts one event lost to a slow client.
func RecordStreamEventDropped() {
	DefaultMetrics.StreamEventsDropped.Inc()
}
