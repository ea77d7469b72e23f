// Package history records the ordered steps of a single run.
//
// A StepHistory is append-only: steps are never edited, removed or
// reordered, and every appended step must carry the next ordinal. The same
// history feeds the decision prompt and the trace shown to the user.
package history

import (
	"errors"
	"fmt"

	"github.com/entrhq/webpilot/pkg/types"
)

// ErrClosed is returned when a step is appended after CLOSE.
var ErrClosed = errors.New("history already ends with CLOSE")

// StepHistory is the append-only step log of one run. It is owned by a
// single run and is not safe for concurrent mutation.
type StepHistory struct {
	steps []types.Step
}

// New creates an empty history.
func New() *StepHistory {
	return &StepHistory{}
}

// FromSteps rebuilds a history from steps carried by a caller, validating
// that ordinals start at 1 and increase by one and that nothing follows a
// CLOSE.
func FromSteps(steps []types.Step) (*StepHistory, error) {
	h := &StepHistory{steps: make([]types.Step, 0, len(steps))}
	for _, s := range steps {
		if err := h.Append(s); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Append adds a step. The step's ordinal must equal Len()+1 and the history
// must not already be closed.
func (h *StepHistory) Append(step types.Step) error {
	if h.Closed() {
		return fmt.Errorf("step %d: %w", step.Ordinal, ErrClosed)
	}
	if want := h.NextOrdinal(); step.Ordinal != want {
		return fmt.Errorf("step ordinal %d out of order: expected %d", step.Ordinal, want)
	}
	if !step.Tool.Selectable() {
		return fmt.Errorf("step %d has unknown tool %q", step.Ordinal, step.Tool)
	}
	step.Extraction = step.Extraction.Clone()
	h.steps = append(h.steps, step)
	return nil
}

// Closed reports whether the last step is CLOSE.
func (h *StepHistory) Closed() bool {
	return len(h.steps) > 0 && h.steps[len(h.steps)-1].Tool == types.ToolClose
}

// Len returns the number of recorded steps.
func (h *StepHistory) Len() int {
	return len(h.steps)
}

// NextOrdinal returns the ordinal the next appended step must carry.
func (h *StepHistory) NextOrdinal() int {
	return len(h.steps) + 1
}

// Last returns a copy of the most recent step.
func (h *StepHistory) Last() (types.Step, bool) {
	if len(h.steps) == 0 {
		return types.Step{}, false
	}
	return snapshot(h.steps[len(h.steps)-1]), true
}

// Steps returns a snapshot of the history in causal order. Steps and their
// extractions are copied; mutating them does not affect the history.
func (h *StepHistory) Steps() []types.Step {
	out := make([]types.Step, len(h.steps))
	for i, s := range h.steps {
		out[i] = snapshot(s)
	}
	return out
}

func snapshot(s types.Step) types.Step {
	s.Extraction = s.Extraction.Clone()
	return s
}

// Contains reports whether any recorded step used tool.
func (h *StepHistory) Contains(tool types.ToolKind) bool {
	for _, s := range h.steps {
		if s.Tool == tool {
			return true
		}
	}
	return false
}
