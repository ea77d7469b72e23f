package metrics

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/webpilot/pkg/session"
	"github.com/entrhq/webpilot/pkg/types"
)

func TestObserver_RunLifecycle(t *testing.T) {
	var o Observer

	started := testutil.ToFloat64(metricRunsStarted)
	completed := testutil.ToFloat64(metricRunsFinished.WithLabelValues("completed"))
	failed := testutil.ToFloat64(metricRunsFinished.WithLabelValues("failed"))
	budget := testutil.ToFloat64(metricRunErrors.WithLabelValues("step_budget_exceeded"))
	unknown := testutil.ToFloat64(metricRunErrors.WithLabelValues("unknown"))
	closes := testutil.ToFloat64(metricSteps.WithLabelValues("CLOSE"))

	o.RunStarted()
	o.StepRecorded(types.ToolClose, 1500*time.Millisecond)
	o.RunFinished(types.RunStatusCompleted, nil)
	o.RunFinished(types.RunStatusFailed, &types.RunError{Kind: types.KindStepBudgetExceeded})
	o.RunFinished(types.RunStatusFailed, errors.New("plain"))

	assert.Equal(t, started+1, testutil.ToFloat64(metricRunsStarted))
	assert.Equal(t, completed+1, testutil.ToFloat64(metricRunsFinished.WithLabelValues("completed")))
	assert.Equal(t, failed+2, testutil.ToFloat64(metricRunsFinished.WithLabelValues("failed")))
	assert.Equal(t, budget+1, testutil.ToFloat64(metricRunErrors.WithLabelValues("step_budget_exceeded")))
	assert.Equal(t, unknown+1, testutil.ToFloat64(metricRunErrors.WithLabelValues("unknown")))
	assert.Equal(t, closes+1, testutil.ToFloat64(metricSteps.WithLabelValues("CLOSE")))
}

func TestSessionHook(t *testing.T) {
	var h SessionHook
	opened := testutil.ToFloat64(metricSessionsOpened)
	released := testutil.ToFloat64(metricSessionsReleased)

	h.Opened(&session.Info{ID: "s"})
	for i := 0; i < 3; i++ {
		h.Opened(&session.Info{ID: "s", Resumed: true})
	}
	require.NoError(t, h.Closed(context.Background(), "s"))

	assert.Equal(t, opened+1, testutil.ToFloat64(metricSessionsOpened))
	assert.Equal(t, released+1, testutil.ToFloat64(metricSessionsReleased))
}

func TestHandler(t *testing.T) {
	Observer{}.RunStarted()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "webpilot_runs_started_total")
}
