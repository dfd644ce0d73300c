// Package metrics defines the Prometheus collectors exported by storyloop.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "storyloop"

var (
	// PhaseTransitions counts entered phases.
	// Labels: phase
	PhaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "phase_transitions_total",
		Help:      "Total workflow phase transitions by target phase",
	}, []string{"phase"})

	// AgentSpawns counts agent process spawns.
	// Labels: provider, result (ok, error)
	AgentSpawns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "agent_spawns_total",
		Help:      "Total agent process spawns by provider and result",
	}, []string{"provider", "result"})

	// Verifications counts verification runs.
	// Labels: result (passed, failed, error)
	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "verifications_total",
		Help:      "Total verification runs by result",
	}, []string{"result"})

	// VerificationDuration measures verification command wall time.
	VerificationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "verification_duration_seconds",
		Help:      "Verification command duration in seconds",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	// LoopDetections counts failure loops flagged by the detector.
	LoopDetections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "loop_detections_total",
		Help:      "Total repeated-failure loops detected",
	})

	// DroppedEvents counts session events an observer missed because its
	// backlog was full.
	// Labels: type
	DroppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dropped_events_total",
		Help:      "Total session events dropped for slow observers by event type",
	}, []string{"type"})

	// ActiveSessions tracks sessions held by the registry.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Number of sessions currently held by the registry",
	})

	// Workspaces counts workspace operations.
	// Labels: op (create, remove), result (ok, error)
	Workspaces = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "workspace_operations_total",
		Help:      "Total workspace operations by kind and result",
	}, []string{"op", "result"})
)

// Result returns "ok" or "error" for err.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveVerification records a verification outcome.
func ObserveVerification(passed bool, err error, d time.Duration) {
	switch {
	case err != nil:
		Verifications.WithLabelValues("error").Inc()
	case passed:
		Verifications.WithLabelValues("passed").Inc()
	default:
		Verifications.WithLabelValues("failed").Inc()
	}
	VerificationDuration.Observe(d.Seconds())
}
