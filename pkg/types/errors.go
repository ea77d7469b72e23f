package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies run-level failures.
type ErrorKind string

const (
	KindTransport          ErrorKind = "transport"
	KindSchemaViolation    ErrorKind = "schema_violation"
	KindActionExecution    ErrorKind = "action_execution"
	KindInvalidState       ErrorKind = "invalid_state"
	KindStepBudgetExceeded ErrorKind = "step_budget_exceeded"
	KindCancelled          ErrorKind = "cancelled"
)

var (
	ErrTransport          = errors.New("transport error")
	ErrSchemaViolation    = errors.New("schema violation")
	ErrActionExecution    = errors.New("action execution failed")
	ErrInvalidState       = errors.New("invalid run state")
	ErrStepBudgetExceeded = errors.New("step budget exceeded")
	ErrCancelled          = errors.New("run cancelled")
)

var sentinels = map[ErrorKind]error{
	KindTransport:          ErrTransport,
	KindSchemaViolation:    ErrSchemaViolation,
	KindActionExecution:    ErrActionExecution,
	KindInvalidState:       ErrInvalidState,
	KindStepBudgetExceeded: ErrStepBudgetExceeded,
	KindCancelled:          ErrCancelled,
}

// RunError is the typed error surfaced by the decision client, the executor
// and the agent loop. errors.Is matches it against the sentinel of its Kind.
type RunError struct {
	Kind ErrorKind
	Op   string
	Tool ToolKind
	Err  error
}

func (e *RunError) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Tool != "" {
		msg += fmt.Sprintf(" [%s]", e.Tool)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for e.Kind.
func (e *RunError) Is(target error) bool {
	sentinel, ok := sentinels[e.Kind]
	return ok && target == sentinel
}

// NewTransportError wraps a network or timeout failure talking to a collaborator.
func NewTransportError(op string, err error) *RunError {
	return &RunError{Kind: KindTransport, Op: op, Err: err}
}

// NewSchemaViolationError reports model output that does not fit the decision schema.
func NewSchemaViolationError(op string, err error) *RunError {
	return &RunError{Kind: KindSchemaViolation, Op: op, Err: err}
}

// NewActionExecutionError reports a failed automation primitive.
func NewActionExecutionError(tool ToolKind, err error) *RunError {
	return &RunError{Kind: KindActionExecution, Op: "execute", Tool: tool, Err: err}
}

// NewInvalidStateError reports an attempt to advance a terminal run.
func NewInvalidStateError(status RunStatus) *RunError {
	return &RunError{Kind: KindInvalidState, Op: "advance", Err: fmt.Errorf("run is %s", status)}
}

// NewStepBudgetExceededError reports that a run reached its maximum step count.
func NewStepBudgetExceededError(maxSteps int) *RunError {
	return &RunError{Kind: KindStepBudgetExceeded, Op: "advance", Err: fmt.Errorf("limit of %d steps reached", maxSteps)}
}

// NewCancelledError reports external cancellation between steps.
func NewCancelledError(cause error) *RunError {
	return &RunError{Kind: KindCancelled, Op: "run", Err: cause}
}

// KindOf returns the ErrorKind carried by err, or "" when err is not a RunError.
func KindOf(err error) ErrorKind {
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr.Kind
	}
	return ""
}

// IsRetryable returns true if the error might succeed on retry. Only
// transport failures qualify.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport)
}
