package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// HTTP
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnos_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "turnos_http_request_duration_seconds",
			Help: "Duration of HTTP requests in seconds",
		},
		[]string{"method", "path"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "turnos_http_requests_in_flight",
			Help: "Current number of HTTP requests in flight",
		},
	)

	// Turn lifecycle
	TurnsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnos_turns_created_total",
			Help: "Tickets issued, by venue",
		},
		[]string{"venue_id"},
	)
	TurnRequestsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnos_turn_requests_rejected_total",
			Help: "Ticket requests refused, by reason",
		},
		[]string{"reason"},
	)
	TurnTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnos_turn_transitions_total",
			Help: "Ticket state transitions, by target state",
		},
		[]string{"to"},
	)
	PenaltiesRecorded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "turnos_penalties_recorded_total",
			Help: "Penalties inserted by the sweeper",
		},
	)

	// Sweeper
	SweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnos_sweep_runs_total",
			Help: "Expiry sweeps, by outcome",
		},
		[]string{"outcome"},
	)
	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "turnos_sweep_duration_seconds",
			Help: "Duration of expiry sweeps in seconds",
		},
	)

	// Rotating codes
	RotatingCodesIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnos_rotating_codes_issued_total",
			Help: "Rotating QR codes created, by venue",
		},
		[]string{"venue_id"},
	)

	// Notifications
	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "turnos_events_dropped_total",
			Help: "Change notifications dropped because the bus was full",
		},
	)
	SSEClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "turnos_sse_clients",
			Help: "Connected live-display clients",
		},
	)
)

var registerOnce sync.Once

// InitMetrics registers every collector with the default registry. Safe to call more than once.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			HTTPRequestsInFlight,
			TurnsCreated,
			TurnRequestsRejected,
			TurnTransitions,
			PenaltiesRecorded,
			SweepRuns,
			SweepDuration,
			RotatingCodesIssued,
			EventsDropped,
			SSEClients,
		)
		// The default registry already carries the Go and process collectors.
		prometheus.MustRegister(collectors.NewBuildInfoCollector())
	})
}
