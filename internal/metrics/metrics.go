package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	remindersScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "careplus",
			Name:      "reminders_scheduled_total",
			Help:      "Count of alarm registrations issued.",
		},
	)

	remindersCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "careplus",
			Name:      "reminders_cancelled_total",
			Help:      "Count of alarm cancellations issued.",
		},
	)

	alertsShown = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "careplus",
			Name:      "alerts_shown_total",
			Help:      "Count of reminder alerts shown by reminder type.",
		},
		[]string{"type"},
	)

	alertsResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "careplus",
			Name:      "alerts_resolved_total",
			Help:      "Count of alerts resolved by outcome (dismissed, snoozed, displaced).",
		},
		[]string{"outcome"},
	)

	defaultSeeds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "careplus",
			Name:      "default_seeds_total",
			Help:      "Count of first-run default reminder seedings.",
		},
	)

	activeRegistrations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "careplus",
			Name:      "active_registrations",
			Help:      "Number of reminders with an active alarm registration.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "careplus",
			Name:      "http_requests_total",
			Help:      "Count of HTTP API requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(remindersScheduled, remindersCancelled,
			alertsShown, alertsResolved, defaultSeeds, activeRegistrations,
			httpRequests)
	})
}

func IncScheduled() {
	remindersScheduled.Inc()
}

func IncCancelled() {
	remindersCancelled.Inc()
}

func IncAlertShown(reminderType string) {
	alertsShown.WithLabelValues(reminderType).Inc()
}

func IncAlertResolved(outcome string) {
	alertsResolved.WithLabelValues(outcome).Inc()
}

func IncDefaultSeed() {
	defaultSeeds.Inc()
}

func SetActiveRegistrations(n int) {
	activeRegistrations.Set(float64(n))
}

func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
