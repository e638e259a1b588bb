package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "authrelay",
		Name:      "sessions_active",
		Help:      "Number of live remote login sessions.",
	})
	metricSessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "authrelay",
		Name:      "sessions_started_total",
		Help:      "Sessions fully provisioned and handed to a caller.",
	})
	metricStartFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "authrelay",
		Name:      "session_start_failures_total",
		Help:      "Session start failures by stage.",
	}, []string{"stage"})
	metricTeardowns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "authrelay",
		Name:      "session_teardowns_total",
		Help:      "Session teardowns by reason.",
	}, []string{"reason"})
	metricCaptureAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "authrelay",
		Name:      "capture_attempts_total",
		Help:      "Token capture polls by outcome.",
	}, []string{"outcome"})
	metricTunnelProvision = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "authrelay",
		Name:      "tunnel_provision_seconds",
		Help:      "Time from tunnel spawn to a reported public URL.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30},
	})
)

// Capture outcomes
const (
	outcomeCaptured    = "captured"
	outcomeMiss        = "miss"
	outcomeRateLimited = "rate_limited"
)
