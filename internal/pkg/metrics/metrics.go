// Package metrics holds the Prometheus collectors for session arbitration.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	SessionsIssued   *prometheus.CounterVec
	SessionConflicts prometheus.Counter
	IssueFailures    *prometheus.CounterVec
	AuthorityReads   *prometheus.CounterVec
	Superseded       prometheus.Counter
	PushConnections  prometheus.Gauge
	PushSubscribed   prometheus.Gauge
	ChangesRelayed   prometheus.Counter
}

// New registers every collector on a private registry so tests can build
// as many instances as they like.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		SessionsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_issued_total",
			Help: "Session tokens written to the authority record.",
		}, []string{"override"}),
		SessionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "session_conflicts_total",
			Help: "Logins that found another device holding the session.",
		}),
		IssueFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_issue_failures_total",
			Help: "Issue attempts that failed, by stage.",
		}, []string{"stage"}),
		AuthorityReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_authority_reads_total",
			Help: "Authority record reads served to clients, by outcome.",
		}, []string{"outcome"}),
		Superseded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "session_superseded_requests_total",
			Help: "Requests rejected because their session token was no longer active.",
		}),
		PushConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "session_push_connections",
			Help: "Open websocket connections.",
		}),
		PushSubscribed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "session_push_subscribed_accounts",
			Help: "Accounts with an open authority change subscription.",
		}),
		ChangesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "session_changes_relayed_total",
			Help: "Authority change notifications relayed to websocket clients.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SessionsIssued,
		m.SessionConflicts,
		m.IssueFailures,
		m.AuthorityReads,
		m.Superseded,
		m.PushConnections,
		m.PushSubscribed,
		m.ChangesRelayed,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
