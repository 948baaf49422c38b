package auth

import "github.com/prometheus/client_golang/prometheus"

var (
	refreshSuccess = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gohome_auth_refresh_success_total",
			Help: "Successful token refreshes or logins",
		},
		[]string{"provider"},
	)
	refreshFailure = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gohome_auth_refresh_failure_total",
			Help: "Failed token refreshes or logins",
		},
		[]string{"provider"},
	)
	tokenValid = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gohome_auth_token_valid",
			Help: "Access token validity (1=valid, 0=invalid)",
		},
		[]string{"provider"},
	)
	remotePersistOK = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gohome_auth_remote_persist_ok",
			Help: "Remote blob persistence health (1=ok, 0=error)",
		},
		[]string{"provider"},
	)
)

// MetricsCollectors returns collectors for the shared auth module.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		refreshSuccess,
		refreshFailure,
		tokenValid,
		remotePersistOK,
	}
}
