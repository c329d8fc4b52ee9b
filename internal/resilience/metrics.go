package resilience

import "github.com/prometheus/client_golang/prometheus"

var (
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "remote_breaker_state",
			Help: "Current breaker state per remote API target: 0=closed,1=open,2=half-open",
		},
		[]string{"target"},
	)
	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remote_breaker_transition_total",
			Help: "Count of breaker state transitions per remote API target",
		},
		[]string{"target", "from", "to"},
	)
	RemoteAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remote_request_attempts_total",
			Help: "Outbound remote API attempts by method and outcome",
		},
		[]string{"target", "method", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(BreakerState, BreakerTransitions, RemoteAttempts)
}
