// Package metrics exposes the driver's operational counters on a private
// Prometheus registry: pool occupancy, query/transaction latency, retry
// outcomes, and handshake/reconnect activity. There is no per-tenant
// dimension here (a gelclient.Client owns exactly one pool), so labels are
// by operation/condition/status rather than by tenant.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds every Prometheus metric this driver reports.
type Collector struct {
	Registry *prometheus.Registry

	connectionsActive  prometheus.Gauge
	connectionsIdle    prometheus.Gauge
	connectionsTotal   prometheus.Gauge
	connectionsWaiting prometheus.Gauge
	poolExhaustedTotal prometheus.Counter

	acquireDuration  prometheus.Histogram
	queryDuration    *prometheus.HistogramVec
	handshakeDuration prometheus.Histogram

	retriesTotal        *prometheus.CounterVec
	transactionsTotal   *prometheus.CounterVec
	idleTimeoutsTotal   prometheus.Counter
	reconnectsTotal     prometheus.Counter
}

// New creates and registers every metric on a fresh private registry. Safe
// to call more than once (e.g. once per Client, or in tests) since each
// call owns its own registry rather than the global default one.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gelclient_connections_active",
			Help: "Number of connections currently leased out of the pool",
		}),
		connectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gelclient_connections_idle",
			Help: "Number of idle connections sitting in the pool",
		}),
		connectionsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gelclient_connections_total",
			Help: "Total connections owned by the pool (active + idle)",
		}),
		connectionsWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gelclient_connections_waiting",
			Help: "Number of goroutines currently blocked in Acquire",
		}),
		poolExhaustedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gelclient_pool_exhausted_total",
			Help: "Total number of times Acquire had to wait for a free connection",
		}),
		acquireDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gelclient_acquire_duration_seconds",
			Help:    "Time spent waiting in pool.Acquire",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gelclient_query_duration_seconds",
				Help:    "Duration of a full Parse+Execute round trip, by declared cardinality",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"cardinality"},
		),
		handshakeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gelclient_handshake_duration_seconds",
			Help:    "Time spent dialing and authenticating a new connection",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gelclient_retries_total",
				Help: "Retry attempts issued by the retrying transaction driver, by condition",
			},
			[]string{"condition"},
		),
		transactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gelclient_transactions_total",
				Help: "Completed retry.Run invocations, by outcome",
			},
			[]string{"outcome"},
		),
		idleTimeoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gelclient_idle_session_timeouts_total",
			Help: "Connections discarded after the server reported IdleSessionTimeout",
		}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gelclient_reconnects_total",
			Help: "Connections torn down and re-dialed after a SHOULD_RECONNECT error",
		}),
	}

	reg.MustRegister(
		c.connectionsActive,
		c.connectionsIdle,
		c.connectionsTotal,
		c.connectionsWaiting,
		c.poolExhaustedTotal,
		c.acquireDuration,
		c.queryDuration,
		c.handshakeDuration,
		c.retriesTotal,
		c.transactionsTotal,
		c.idleTimeoutsTotal,
		c.reconnectsTotal,
	)

	return c
}

// UpdatePoolStats sets the connection gauges from a pool.Stats snapshot.
func (c *Collector) UpdatePoolStats(active, idle, total, waiting int) {
	c.connectionsActive.Set(float64(active))
	c.connectionsIdle.Set(float64(idle))
	c.connectionsTotal.Set(float64(total))
	c.connectionsWaiting.Set(float64(waiting))
}

// PoolExhausted increments the Acquire-had-to-wait counter.
func (c *Collector) PoolExhausted() {
	c.poolExhaustedTotal.Inc()
}

// AcquireDuration observes time spent waiting for a pool connection.
func (c *Collector) AcquireDuration(d time.Duration) {
	c.acquireDuration.Observe(d.Seconds())
}

// QueryDuration observes one Parse+Execute round trip's wall time, labeled
// by the query's declared cardinality (spec.md §4.3.3/§4.3.4).
func (c *Collector) QueryDuration(cardinality string, d time.Duration) {
	c.queryDuration.WithLabelValues(cardinality).Observe(d.Seconds())
}

// HandshakeDuration observes the time from Dial to ReadyForCommand.
func (c *Collector) HandshakeDuration(d time.Duration) {
	c.handshakeDuration.Observe(d.Seconds())
}

// RetryAttempted increments the retry counter for the given condition name
// ("default", "transaction_conflict", "network_error", "idle_session_timeout").
func (c *Collector) RetryAttempted(condition string) {
	c.retriesTotal.WithLabelValues(condition).Inc()
}

// TransactionCompleted records a retry.Run invocation's terminal outcome
// ("committed", "failed").
func (c *Collector) TransactionCompleted(outcome string) {
	c.transactionsTotal.WithLabelValues(outcome).Inc()
}

// IdleSessionTimeout increments the idle-timeout discard counter, spec.md
// §4.3.5.
func (c *Collector) IdleSessionTimeout() {
	c.idleTimeoutsTotal.Inc()
}

// Reconnected increments the SHOULD_RECONNECT counter.
func (c *Collector) Reconnected() {
	c.reconnectsTotal.Inc()
}
