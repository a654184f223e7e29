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
	// Trading metrics
	TradesTotal      *prometheus.CounterVec
	TradeVolume      *prometheus.CounterVec
	TradeConflicts   prometheus.Counter
	TradeLatency     *prometheus.HistogramVec
	TokensRegistered prometheus.Counter

	// Staking metrics
	StakingOpsTotal *prometheus.CounterVec
	OracleFailures  prometheus.Counter

	// Distribution metrics
	DistributionTicksTotal *prometheus.CounterVec
	DistributionDuration   prometheus.Histogram
	RewardsDistributed     prometheus.Counter
	PoolSize               prometheus.Gauge
	ActiveStakers          prometheus.Gauge

	// Latency metrics
	RPCCallLatency *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Feed metrics
	FeedSubscribers prometheus.Gauge

	// Health metrics
	LastSuccessfulDistribution prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "launchpad_ledger"
	}

	return &Metrics{
		// Trading metrics
		TradesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "trades_total",
			Help:      "Total number of trade attempts by direction and result kind",
		}, []string{"direction", "result"}),
		TradeVolume: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "volume_total",
			Help:      "Total committed trade value by direction",
		}, []string{"direction"}),
		TradeConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "conflict_retries_total",
			Help:      "Total number of optimistic-lock retries in the trade processor",
		}),
		TradeLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "trade_duration_seconds",
			Help:      "Trade execution latency including retries",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"direction"}),
		TokensRegistered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "tokens_registered_total",
			Help:      "Total number of tokens registered",
		}),

		// Staking metrics
		StakingOpsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "staking",
			Name:      "operations_total",
			Help:      "Total number of staking operations by type and result kind",
		}, []string{"op", "result"}),
		OracleFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "staking",
			Name:      "oracle_failures_total",
			Help:      "Total number of failed external balance lookups",
		}),

		// Distribution metrics
		DistributionTicksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rewards",
			Name:      "ticks_total",
			Help:      "Total number of distribution ticks by outcome",
		}, []string{"outcome"}),
		DistributionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rewards",
			Name:      "tick_duration_seconds",
			Help:      "Distribution tick duration",
			Buckets:   prometheus.DefBuckets,
		}),
		RewardsDistributed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rewards",
			Name:      "distributed_total",
			Help:      "Total reward amount credited to stakers",
		}),
		PoolSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rewards",
			Name:      "pool_size",
			Help:      "Reward pool size after the last committed tick",
		}),
		ActiveStakers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rewards",
			Name:      "active_stakers",
			Help:      "Number of stakers credited by the last committed tick",
		}),

		// Latency metrics
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "RPC call latency by method",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database query duration by database and operation",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// HTTP metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of API requests by route and status code",
		}, []string{"route", "code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		// Feed metrics
		FeedSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "subscribers",
			Help:      "Current number of live feed subscribers",
		}),

		// Health metrics
		LastSuccessfulDistribution: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_distribution_timestamp",
			Help:      "Unix timestamp of last committed distribution tick",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordTrade records one trade attempt. result is the error kind, or "ok".
func RecordTrade(direction, result string, seconds float64, value float64) {
	DefaultMetrics.TradesTotal.WithLabelValues(direction, result).Inc()
	DefaultMetrics.TradeLatency.WithLabelValues(direction).Observe(seconds)
	if result == "ok" {
		DefaultMetrics.TradeVolume.WithLabelValues(direction).Add(value)
	}
}

// RecordTradeConflict increments the trade conflict retry counter.
func RecordTradeConflict() {
	DefaultMetrics.TradeConflicts.Inc()
}

// RecordTokenRegistered increments the registered tokens counter.
func RecordTokenRegistered() {
	DefaultMetrics.TokensRegistered.Inc()
}

// RecordStakingOp records one staking operation.
func RecordStakingOp(op, result string) {
	DefaultMetrics.StakingOpsTotal.WithLabelValues(op, result).Inc()
}

// RecordOracleFailure increments the oracle failure counter.
func RecordOracleFailure() {
	DefaultMetrics.OracleFailures.Inc()
}

// RecordDistributionTick records a tick outcome and its duration.
func RecordDistributionTick(outcome string, seconds float64) {
	DefaultMetrics.DistributionTicksTotal.WithLabelValues(outcome).Inc()
	DefaultMetrics.DistributionDuration.Observe(seconds)
}

// RecordDistributionCommitted updates pool gauges after a committed tick.
func RecordDistributionCommitted(distributed, poolAfter float64, stakers int, unixSeconds int64) {
	DefaultMetrics.RewardsDistributed.Add(distributed)
	DefaultMetrics.PoolSize.Set(poolAfter)
	DefaultMetrics.ActiveStakers.Set(float64(stakers))
	DefaultMetrics.LastSuccessfulDistribution.Set(float64(unixSeconds))
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordHTTPRequest records one API request. route is the matched pattern,
// never the raw path.
func RecordHTTPRequest(route string, code int, seconds float64) {
	DefaultMetrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	DefaultMetrics.HTTPRequestDuration.WithLabelValues(route).Observe(seconds)
}

// SetFeedSubscribers updates the live feed subscriber gauge.
func SetFeedSubscribers(n int) {
	DefaultMetrics.FeedSubscribers.Set(float64(n))
}
