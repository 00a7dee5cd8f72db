package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	CallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "malipo",
			Name:      "callbacks_total",
			Help:      "Gateway callbacks processed, by gateway and result",
		},
		[]string{"gateway", "result"},
	)

	InitiationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "malipo",
			Name:      "initiations_total",
			Help:      "Payment initiations, by gateway and status",
		},
		[]string{"gateway", "status"},
	)

	RemindersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "malipo",
			Name:      "reminders_total",
			Help:      "Payment link reminders sent, by tier and status",
		},
		[]string{"tier", "status"},
	)

	SideEffectFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "malipo",
			Name:      "side_effect_failures_total",
			Help:      "Best-effort side effect failures, by kind",
		},
		[]string{"kind"},
	)

	CallbackDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "malipo",
			Name:      "callback_duration_seconds",
			Help:      "Callback handling duration, by gateway",
			Buckets: []float64{
				0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 2, 5,
			},
		},
		[]string{"gateway"},
	)
)

func init() {
	prometheus.MustRegister(
		CallbacksTotal, InitiationsTotal, RemindersTotal,
		SideEffectFailures, CallbackDuration,
	)
}

func IncCallback(gateway, result string) {
	CallbacksTotal.WithLabelValues(gateway, result).Inc()
}

func IncInitiation(gateway, status string) {
	InitiationsTotal.WithLabelValues(gateway, status).Inc()
}

func IncReminder(tier, status string) {
	RemindersTotal.WithLabelValues(tier, status).Inc()
}

func IncSideEffectFailure(kind string) {
	SideEffectFailures.WithLabelValues(kind).Inc()
}

func ObserveCallback(gateway string, seconds float64) {
	CallbackDuration.WithLabelValues(gateway).Observe(seconds)
}
