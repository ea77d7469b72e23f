// Package agent drives a browser session toward a goal, one decided and
// executed step at a time.
//
// A Loop is stateless between calls: everything about a run lives in its
// RunState, so the same Loop serves batch runs (Run, Stream) and
// interactive callers that carry their history between requests (Resume
// followed by Advance).
package agent

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/webpilot/pkg/decision"
	"github.com/entrhq/webpilot/pkg/history"
	"github.com/entrhq/webpilot/pkg/logging"
	"github.com/entrhq/webpilot/pkg/session"
	"github.com/entrhq/webpilot/pkg/types"
)

var agentDebugLog *logging.Logger

func init() {
	var err error
	agentDebugLog, err = logging.NewLogger("agent")
	if err != nil {
		// Logger fell back to stderr due to initialization failure
		agentDebugLog.Warnf("Failed to initialize agent logger, using stderr fallback: %v", err)
	}
}

// DefaultMaxSteps is the step budget when none is configured.
const DefaultMaxSteps = 25

const releaseTimeout = 30 * time.Second

// Decider picks the next step.
type Decider interface {
	Decide(ctx context.Context, req *decision.Request) (*types.Decision, error)
}

// Executor runs one tool against a leased session and releases the lease
// itself when the tool fails.
type Executor interface {
	Execute(ctx context.Context, lease *session.Lease, tool types.ToolKind, instruction string) (*types.ActionResult, error)
}

// Sessions hands out session leases.
type Sessions interface {
	Open(ctx context.Context) (*session.Lease, error)
	Resume(id string) *session.Lease
}

// Observer is notified of run lifecycle transitions.
type Observer interface {
	RunStarted()
	StepRecorded(tool types.ToolKind, elapsed time.Duration)
	RunFinished(status types.RunStatus, err error)
}

// RunState is everything known about one run. It is owned by a single
// goroutine at a time.
type RunState struct {
	ID             string
	Goal           types.Goal
	SessionID      string
	LiveURL        string
	History        *history.StepHistory
	LastExtraction *types.Extraction
	Status         types.RunStatus
	Err            error

	lease *session.Lease
}

// Steps returns a snapshot of the recorded steps.
func (s *RunState) Steps() []types.Step {
	return s.History.Steps()
}

// Loop runs the observe, decide, execute cycle.
type Loop struct {
	decider  Decider
	executor Executor
	sessions Sessions
	observer Observer
	maxSteps int
}

// LoopOption is a function that configures a Loop.
type LoopOption func(*Loop)

// WithMaxSteps sets the step budget per run.
func WithMaxSteps(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.maxSteps = n
		}
	}
}

// WithObserver sets the lifecycle observer, typically the metrics recorder.
func WithObserver(o Observer) LoopOption {
	return func(l *Loop) {
		l.observer = o
	}
}

// NewLoop creates a Loop.
func NewLoop(decider Decider, executor Executor, sessions Sessions, opts ...LoopOption) *Loop {
	l := &Loop{
		decider:  decider,
		executor: executor,
		sessions: sessions,
		observer: nopObserver{},
		maxSteps: DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// MaxSteps returns the configured step budget.
func (l *Loop) MaxSteps() int {
	return l.maxSteps
}

// Start opens a new session and returns a running state with empty history.
func (l *Loop) Start(ctx context.Context, goal types.Goal) (*RunState, error) {
	if goal == "" {
		return nil, &types.RunError{Kind: types.KindInvalidState, Op: "start", Err: errors.New("goal must not be empty")}
	}
	lease, err := l.sessions.Open(ctx)
	if err != nil {
		return nil, err
	}

	st := newRunState(goal, lease, history.New(), nil)
	l.observer.RunStarted()
	agentDebugLog.Infof("Run %s started on session %s: %q", st.ID, st.SessionID, goal)
	return st, nil
}

// Resume rebuilds a running state for an existing session from history
// carried by the caller. Ordinals must run 1..n and a history ending in
// CLOSE belongs to a completed run. The extraction fed to the next decision
// is taken from the last carried step; lastExtraction is used only when that
// step is an EXTRACT or OBSERVE carried without its value.
func (l *Loop) Resume(sessionID string, goal types.Goal, steps []types.Step, lastExtraction *types.Extraction) (*RunState, error) {
	if sessionID == "" {
		return nil, &types.RunError{Kind: types.KindInvalidState, Op: "resume", Err: errors.New("session id must not be empty")}
	}
	if goal == "" {
		return nil, &types.RunError{Kind: types.KindInvalidState, Op: "resume", Err: errors.New("goal must not be empty")}
	}
	h, err := history.FromSteps(steps)
	if err != nil {
		return nil, &types.RunError{Kind: types.KindInvalidState, Op: "resume", Err: err}
	}
	if h.Closed() {
		return nil, &types.RunError{Kind: types.KindInvalidState, Op: "resume", Err: errors.New("run is completed")}
	}

	st := newRunState(goal, l.sessions.Resume(sessionID), h, resumedExtraction(h, lastExtraction))
	if h.Len() == 0 {
		l.observer.RunStarted()
	}
	return st, nil
}

func resumedExtraction(h *history.StepHistory, supplied *types.Extraction) *types.Extraction {
	last, ok := h.Last()
	if !ok || !last.Tool.ProducesExtraction() {
		return nil
	}
	if last.Extraction != nil {
		return last.Extraction
	}
	if supplied == nil || supplied.Kind != extractionKind(last.Tool) {
		return nil
	}
	return supplied.Clone()
}

func extractionKind(tool types.ToolKind) types.ExtractionKind {
	if tool == types.ToolObserve {
		return types.ExtractionObservation
	}
	return types.ExtractionText
}

func newRunState(goal types.Goal, lease *session.Lease, h *history.StepHistory, last *types.Extraction) *RunState {
	return &RunState{
		ID:             uuid.New().String(),
		Goal:           goal,
		SessionID:      lease.ID,
		LiveURL:        lease.LiveURL,
		History:        h,
		LastExtraction: last,
		Status:         types.RunStatusRunning,
		lease:          lease,
	}
}

// Advance performs exactly one step. On any error the run is failed and its
// session released; a terminal run is left untouched and yields an
// invalid_state error.
func (l *Loop) Advance(ctx context.Context, st *RunState) (*types.Step, error) {
	if st.Status != types.RunStatusRunning {
		return nil, types.NewInvalidStateError(st.Status)
	}
	if st.History.Len() >= l.maxSteps {
		return nil, l.fail(st, types.NewStepBudgetExceededError(l.maxSteps))
	}

	started := time.Now()
	d, err := l.decider.Decide(ctx, &decision.Request{
		Goal:           st.Goal,
		History:        st.History.Steps(),
		LastExtraction: st.LastExtraction,
		Session:        st.lease,
	})
	if err != nil {
		return nil, l.fail(st, err)
	}

	result, err := l.executor.Execute(ctx, st.lease, d.Tool, d.Instruction)
	if err != nil {
		return nil, l.fail(st, err)
	}

	step := types.NewStep(st.History.NextOrdinal(), d, result)
	if err := st.History.Append(step); err != nil {
		return nil, l.fail(st, &types.RunError{Kind: types.KindInvalidState, Op: "record", Err: err})
	}
	st.LastExtraction = step.Extraction
	l.observer.StepRecorded(step.Tool, time.Since(started))
	agentDebugLog.Infof("Run %s step %d: %s %q", st.ID, step.Ordinal, step.Tool, step.Instruction)

	if step.Tool == types.ToolClose {
		st.Status = types.RunStatusCompleted
		l.release(st)
		l.observer.RunFinished(st.Status, nil)
		agentDebugLog.Infof("Run %s completed after %d steps", st.ID, st.History.Len())
	}
	return &step, nil
}

// Run advances st until it is terminal, calling onStep after every recorded
// step. Cancellation of ctx is honoured between steps; a step already in
// flight runs to completion.
func (l *Loop) Run(ctx context.Context, st *RunState, onStep func(types.Step)) error {
	stepCtx := context.WithoutCancel(ctx)
	for i, n := 0, l.maxSteps+1; i < n; i++ {
		if st.Status.Terminal() {
			break
		}
		if err := ctx.Err(); err != nil {
			return l.fail(st, types.NewCancelledError(err))
		}
		step, err := l.Advance(stepCtx, st)
		if err != nil {
			return err
		}
		if onStep != nil {
			onStep(*step)
		}
	}
	if st.Status == types.RunStatusRunning {
		return l.fail(st, types.NewStepBudgetExceededError(l.maxSteps))
	}
	return st.Err
}

// Stream runs st in a new goroutine and reports its progress: a session
// event, one step event per step, then a done or error event. The channel
// is closed after the terminal event and never blocks the run.
func (l *Loop) Stream(ctx context.Context, st *RunState) <-chan *types.RunEvent {
	events := make(chan *types.RunEvent, l.maxSteps+3)
	go func() {
		defer close(events)
		events <- types.NewSessionEvent(st.ID, st.SessionID, st.LiveURL)

		err := l.Run(ctx, st, func(step types.Step) {
			events <- types.NewStepEvent(st.ID, step)
		})
		if err != nil {
			events <- types.NewErrorEvent(st.ID, err)
			return
		}
		events <- types.NewDoneEvent(st.ID)
	}()
	return events
}

// Abandon fails a running state and releases its session. It is a no-op on
// terminal states.
func (l *Loop) Abandon(st *RunState, cause error) {
	if st.Status != types.RunStatusRunning {
		return
	}
	l.fail(st, types.NewCancelledError(cause))
}

func (l *Loop) fail(st *RunState, err error) error {
	st.Status = types.RunStatusFailed
	st.Err = err
	l.release(st)
	l.observer.RunFinished(st.Status, err)
	agentDebugLog.Warnf("Run %s failed after %d steps: %v", st.ID, st.History.Len(), err)
	return err
}

func (l *Loop) release(st *RunState) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := st.lease.Release(ctx); err != nil {
		agentDebugLog.Warnf("Failed to release session %s for run %s: %v", st.SessionID, st.ID, err)
	}
}

type nopObserver struct{}

func (nopObserver) RunStarted()                                {}
func (nopObserver) StepRecorded(types.ToolKind, time.Duration) {}
func (nopObserver) RunFinished(types.RunStatus, error)         {}
