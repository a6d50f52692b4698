package issuer

import "github.com/prometheus/client_golang/prometheus"

var outcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "habitcoin_reward_outcomes_total",
	Help: "Reward evaluations by operation and outcome.",
}, []string{"operation", "kind", "reason"})

var awardedCoins = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "habitcoin_awarded_coins_total",
	Help: "Coins moved by awarded operations.",
}, []string{"operation"})

func init() {
	prometheus.MustRegister(outcomes, awardedCoins)
}

func observe(operation string, o Outcome) {
	outcomes.WithLabelValues(operation, string(o.Kind), string(o.Reason)).Inc()
	if o.Kind == Awarded {
		awardedCoins.WithLabelValues(operation).Add(float64(o.Amount))
	}
}
