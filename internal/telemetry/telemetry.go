// Package telemetry wires the client's internal counters and gauges into
// Prometheus, following the donor's promauto style
// (internal/metrics/metrics.go) but packaged behind an injectable struct
// instead of package-level globals, so a process embedding more than one
// Client does not collide on metric names or registries.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the full set of collectors a Client instance reports to. It
// satisfies rpcmux.Metrics and router.Metrics by structural typing; those
// packages declare narrow interfaces rather than importing this one, to
// keep telemetry an optional leaf dependency.
type Metrics struct {
	roundTripDuration  *prometheus.HistogramVec
	roundTripFailures  *prometheus.CounterVec
	pendingRequests    prometheus.Gauge
	notificationDrops  prometheus.Counter
	otherDrops         prometheus.Counter
	sessionEventDrops  prometheus.Counter
	activeSessions     prometheus.Gauge
	processRestarts    prometheus.Counter
	journalWriteErrors prometheus.Counter
}

// New registers a fresh set of collectors against reg. Pass
// prometheus.NewRegistry() for an isolated registry, or
// prometheus.DefaultRegisterer to publish alongside the rest of a host
// process's metrics.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		roundTripDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentcli_rpc_round_trip_seconds",
			Help:    "Latency of client->server JSON-RPC calls, by method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		roundTripFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcli_rpc_round_trip_failures_total",
			Help: "JSON-RPC calls that completed with an error response, by method.",
		}, []string{"method"}),
		pendingRequests: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agentcli_rpc_pending_requests",
			Help: "Number of outstanding client->server requests awaiting a response.",
		}),
		notificationDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentcli_notifications_dropped_total",
			Help: "Notifications dropped because the multiplexer's notification queue was full.",
		}),
		otherDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentcli_other_notifications_dropped_total",
			Help: "Unclassified notifications dropped because the router's overflow queue was full.",
		}),
		sessionEventDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentcli_session_events_dropped_total",
			Help: "Session events dropped because no subscriber could be resolved for the session.",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agentcli_active_sessions",
			Help: "Number of sessions currently tracked by the registry.",
		}),
		processRestarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentcli_process_restarts_total",
			Help: "Times the supervised assistant CLI process was restarted after an unexpected exit.",
		}),
		journalWriteErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "agentcli_journal_write_errors_total",
			Help: "Errors writing an event to the optional diagnostic journal.",
		}),
	}
}

// ObserveRoundTrip implements rpcmux.Metrics.
func (m *Metrics) ObserveRoundTrip(method string, d time.Duration, failed bool) {
	m.roundTripDuration.WithLabelValues(method).Observe(d.Seconds())
	if failed {
		m.roundTripFailures.WithLabelValues(method).Inc()
	}
}

// SetPendingCount implements rpcmux.Metrics.
func (m *Metrics) SetPendingCount(n int) { m.pendingRequests.Set(float64(n)) }

// IncNotificationDropped implements rpcmux.Metrics.
func (m *Metrics) IncNotificationDropped() { m.notificationDrops.Inc() }

// IncOtherDropped implements router.Metrics.
func (m *Metrics) IncOtherDropped() { m.otherDrops.Inc() }

// IncSessionEventDropped implements router.Metrics.
func (m *Metrics) IncSessionEventDropped() { m.sessionEventDrops.Inc() }

// SetActiveSessions records the registry's current session count.
func (m *Metrics) SetActiveSessions(n int) { m.activeSessions.Set(float64(n)) }

// IncProcessRestart records a supervisor-initiated restart.
func (m *Metrics) IncProcessRestart() { m.processRestarts.Inc() }

// IncJournalWriteError records a failed journal write.
func (m *Metrics) IncJournalWriteError() { m.journalWriteErrors.Inc() }
