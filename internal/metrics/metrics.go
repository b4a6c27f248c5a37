// Package metrics holds the process-wide Prometheus collectors of the sync engine.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EventsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "events_emitted_total",
			Help:      "Domain events handed to the router, by type.",
		},
		[]string{"type"},
	)
	EventsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "events_delivered_total",
			Help:      "Per-session deliveries accepted into a send buffer.",
		},
		[]string{"type"},
	)
	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "events_dropped_total",
			Help:      "Per-session deliveries lost to a full buffer or closed session.",
		},
		[]string{"type"},
	)
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chatsync",
			Name:      "sessions_active",
			Help:      "Registered transport sessions.",
		},
	)
	MutationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "mutation_errors_total",
			Help:      "Rejected mutations, by operation and error kind.",
		},
		[]string{"op", "kind"},
	)
	SweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "pin_sweep_runs_total",
			Help:      "Expiry sweeper runs, by result (ok, skipped, error).",
		},
		[]string{"result"},
	)
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "http_requests_total",
			Help:      "REST requests, by method, route pattern and status.",
		},
		[]string{"method", "route", "status"},
	)
	RateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "http_rate_limited_total",
			Help:      "Requests rejected with 429.",
		},
	)
	PinsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "pins_expired_total",
			Help:      "Pins removed by the expiry sweeper.",
		},
	)
)

func init() {
	prometheus.MustRegister(EventsEmitted, EventsDelivered, EventsDropped, SessionsActive, MutationErrors, SweepRuns, PinsExpired, HTTPRequests, RateLimited)
}
