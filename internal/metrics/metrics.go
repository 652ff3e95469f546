// Package metrics defines the Prometheus collectors exported by the service.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "realfolio_http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realfolio_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "realfolio_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	AccessChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realfolio_access_checks_total",
			Help: "Property permission checks by result.",
		},
		[]string{"result"},
	)

	MembershipMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realfolio_membership_mutations_total",
			Help: "Membership ledger operations by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	InvitationEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realfolio_invitation_events_total",
			Help: "Invitation lifecycle events.",
		},
		[]string{"event", "outcome"},
	)

	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realfolio_invitation_notifications_total",
			Help: "Invitation e-mails by delivery outcome.",
		},
		[]string{"outcome"},
	)

	RepairedMemberships = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "realfolio_repaired_owner_memberships_total",
		Help: "Owner memberships inserted or promoted by the repair routine.",
	})
)

var registerOnce sync.Once

// Init registers every collector with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPInFlight,
			HTTPRequestsTotal,
			HTTPRequestDuration,
			AccessChecks,
			MembershipMutations,
			InvitationEvents,
			Notifications,
			RepairedMemberships,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
