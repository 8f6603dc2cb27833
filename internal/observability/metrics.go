// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Protocol metrics
	MarketsCreated   prometheus.Counter
	BetsPlaced       *prometheus.CounterVec
	BetVolume        *prometheus.CounterVec
	ProposalsCreated prometheus.Counter
	VotesCast        *prometheus.CounterVec
	Resolutions      *prometheus.CounterVec
	Redemptions      prometheus.Counter
	RedeemedAmount   prometheus.Counter
	OperationErrors  *prometheus.CounterVec

	// Latency metrics
	OperationLatency *prometheus.HistogramVec
	HTTPLatency      *prometheus.HistogramVec

	// Event metrics
	EventsDispatched *prometheus.CounterVec
	EventSinkErrors  *prometheus.CounterVec
	WSClients        prometheus.Gauge

	// HTTP metrics
	HTTPRequests    *prometheus.CounterVec
	RateLimited     prometheus.Counter
	ReplaysRejected prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Keeper metrics
	KeeperRuns prometheus.Counter
	KeeperJobs *prometheus.CounterVec

	// Health metrics
	LastKeeperRun prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "oraculo"
	}

	return &Metrics{
		// Protocol metrics
		MarketsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "markets_created_total",
			Help:      "Total number of markets created",
		}),
		BetsPlaced: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "bets_placed_total",
			Help:      "Total number of bets placed by side",
		}, []string{"side"}),
		BetVolume: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "bet_volume_total",
			Help:      "Total collateral wagered by side, in smallest units",
		}, []string{"side"}),
		ProposalsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "proposals_created_total",
			Help:      "Total number of resolution proposals",
		}),
		VotesCast: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "votes_cast_total",
			Help:      "Total number of votes cast by support",
		}, []string{"support"}),
		Resolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "resolutions_total",
			Help:      "Total number of finalized proposals by result",
		}, []string{"result"}),
		Redemptions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "redemptions_total",
			Help:      "Total number of winning share redemptions",
		}),
		RedeemedAmount: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "redeemed_amount_total",
			Help:      "Total collateral paid out to winners, in smallest units",
		}),
		OperationErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "operation_errors_total",
			Help:      "Total number of failed operations by operation and error kind",
		}, []string{"operation", "kind"}),

		// Latency metrics
		OperationLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "operation_latency_seconds",
			Help:      "Protocol operation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		HTTPLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_latency_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		// Event metrics
		EventsDispatched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dispatched_total",
			Help:      "Total number of events dispatched by type",
		}, []string{"event_type"}),
		EventSinkErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "sink_errors_total",
			Help:      "Total number of failed event deliveries by sink",
		}, []string{"sink"}),
		WSClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "ws_clients",
			Help:      "Current number of connected WebSocket clients",
		}),

		// HTTP metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status",
		}, []string{"route", "status"}),
		RateLimited: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by the rate limiter",
		}),
		ReplaysRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "replays_rejected_total",
			Help:      "Total number of signed requests rejected for a reused nonce",
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

		// Keeper metrics
		KeeperRuns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "runs_total",
			Help:      "Total number of keeper ticks",
		}),
		KeeperJobs: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "jobs_total",
			Help:      "Total number of keeper jobs by job and status",
		}, []string{"job", "status"}),

		// Health metrics
		LastKeeperRun: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_keeper_run_timestamp",
			Help:      "Unix timestamp of the last keeper tick",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordOperation records the latency and, on failure, the error kind of
// a protocol operation. kind is empty on success.
func RecordOperation(operation, kind string, seconds float64) {
	DefaultMetrics.OperationLatency.WithLabelValues(operation).Observe(seconds)
	if kind != "" {
		DefaultMetrics.OperationErrors.WithLabelValues(operation, kind).Inc()
	}
}

// RecordMarketCreated increments the markets created counter.
func RecordMarketCreated() {
	DefaultMetrics.MarketsCreated.Inc()
}

// RecordBet records a placed bet.
func RecordBet(side string, amount uint64) {
	DefaultMetrics.BetsPlaced.WithLabelValues(side).Inc()
	DefaultMetrics.BetVolume.WithLabelValues(side).Add(float64(amount))
}

// RecordProposal increments the proposals counter.
func RecordProposal() {
	DefaultMetrics.ProposalsCreated.Inc()
}

// RecordVote records a cast vote.
func RecordVote(support bool) {
	DefaultMetrics.VotesCast.WithLabelValues(strconv.FormatBool(support)).Inc()
}

// RecordResolution records a finalized proposal: "executed" or the rejection reason.
func RecordResolution(result string) {
	DefaultMetrics.Resolutions.WithLabelValues(result).Inc()
}

// RecordRedemption records a winnings claim.
func RecordRedemption(amount uint64) {
	DefaultMetrics.Redemptions.Inc()
	DefaultMetrics.RedeemedAmount.Add(float64(amount))
}

// RecordEventDispatched increments the dispatched events counter.
func RecordEventDispatched(eventType string) {
	DefaultMetrics.EventsDispatched.WithLabelValues(eventType).Inc()
}

// RecordSinkError records a failed event delivery.
func RecordSinkError(sink string) {
	DefaultMetrics.EventSinkErrors.WithLabelValues(sink).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(route string, status int, seconds float64) {
	DefaultMetrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	DefaultMetrics.HTTPLatency.WithLabelValues(route).Observe(seconds)
}

// RecordRateLimited increments the rate limited counter.
func RecordRateLimited() {
	DefaultMetrics.RateLimited.Inc()
}

// RecordReplayRejected increments the rejected replay counter.
func RecordReplayRejected() {
	DefaultMetrics.ReplaysRejected.Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordKeeperJob records one keeper job outcome.
func RecordKeeperJob(job, status string) {
	DefaultMetrics.KeeperJobs.WithLabelValues(job, status).Inc()
}

// RecordKeeperRun records a keeper tick at unix time ts.
func RecordKeeperRun(ts int64) {
	DefaultMetrics.KeeperRuns.Inc()
	DefaultMetrics.LastKeeperRun.Set(float64(ts))
}

// SetWSClients sets the connected WebSocket clients gauge.
func SetWSClients(n int) {
	DefaultMetrics.WSClients.Set(float64(n))
}
