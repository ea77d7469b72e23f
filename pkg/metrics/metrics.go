// Package metrics exports prometheus counters for runs, steps and sessions.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/entrhq/webpilot/pkg/session"
	"github.com/entrhq/webpilot/pkg/types"
)

var (
	metricRunsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "webpilot",
		Name:      "runs_started_total",
		Help:      "Number of agent runs started.",
	})
	metricRunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "webpilot",
		Name:      "runs_finished_total",
		Help:      "Number of agent runs that reached a terminal status.",
	}, []string{"status"})
	metricRunErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "webpilot",
		Name:      "run_errors_total",
		Help:      "Number of failed runs by error kind.",
	}, []string{"kind"})
	metricSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "webpilot",
		Name:      "steps_total",
		Help:      "Number of recorded steps by tool.",
	}, []string{"tool"})
	metricStepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "webpilot",
		Name:      "step_duration_seconds",
		Help:      "Time to decide and execute one step.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 120},
	}, []string{"tool"})
	metricSessionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "webpilot",
		Name:      "sessions_opened_total",
		Help:      "Number of browser sessions created.",
	})
	metricSessionsReleased = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "webpilot",
		Name:      "sessions_released_total",
		Help:      "Number of browser sessions released.",
	})
)

// Observer records run lifecycle metrics. The zero value is ready to use.
type Observer struct{}

// RunStarted counts a new run.
func (Observer) RunStarted() {
	metricRunsStarted.Inc()
}

// StepRecorded counts a step and its duration.
func (Observer) StepRecorded(tool types.ToolKind, elapsed time.Duration) {
	metricSteps.WithLabelValues(string(tool)).Inc()
	metricStepDuration.WithLabelValues(string(tool)).Observe(elapsed.Seconds())
}

// RunFinished counts a terminal run and, for failures, the error kind.
func (Observer) RunFinished(status types.RunStatus, err error) {
	metricRunsFinished.WithLabelValues(string(status)).Inc()
	if status != types.RunStatusFailed {
		return
	}
	kind := types.KindOf(err)
	if kind == "" {
		kind = "unknown"
	}
	metricRunErrors.WithLabelValues(string(kind)).Inc()
}

// SessionHook counts sessions as the gateway hands them out and releases
// them.
type SessionHook struct{}

var _ session.Hook = SessionHook{}

// Opened counts a newly created session. Resumed leases were counted
// when they were first opened.
func (SessionHook) Opened(info *session.Info) {
	if info.Resumed {
		return
	}
	metricSessionsOpened.Inc()
}

// Closed counts a released session.
func (SessionHook) Closed(ctx context.Context, id string) error {
	metricSessionsReleased.Inc()
	return nil
}

// Handler serves the default registry in the prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
