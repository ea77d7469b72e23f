package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Goal is the natural-language end state a run works toward.
type Goal string

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"   // RunStatusRunning is the only non-terminal status.
	RunStatusCompleted RunStatus = "completed" // RunStatusCompleted means the model chose CLOSE.
	RunStatusFailed    RunStatus = "failed"    // RunStatusFailed covers errors, budget exhaustion and cancellation.
)

// Terminal reports whether no further steps can be taken.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// ObservedAction is one candidate action returned by an OBSERVE call.
type ObservedAction struct {
	Description string `json:"description"`
	Selector    string `json:"selector"`
}

// ExtractionKind tags the variant held by an Extraction.
type ExtractionKind string

const (
	ExtractionText        ExtractionKind = "text"
	ExtractionObservation ExtractionKind = "observation"
)

// Extraction is the value produced by EXTRACT (text) or OBSERVE (a list of
// observed actions). On the wire it is either a JSON string or a JSON array.
type Extraction struct {
	Kind         ExtractionKind
	Text         string
	Observations []ObservedAction
}

// NewTextExtraction wraps an EXTRACT result.
func NewTextExtraction(text string) *Extraction {
	return &Extraction{Kind: ExtractionText, Text: text}
}

// NewObservationExtraction wraps an OBSERVE result.
func NewObservationExtraction(actions []ObservedAction) *Extraction {
	if actions == nil {
		actions = []ObservedAction{}
	}
	return &Extraction{Kind: ExtractionObservation, Observations: actions}
}

// Clone returns a deep copy of e.
func (e *Extraction) Clone() *Extraction {
	if e == nil {
		return nil
	}
	c := *e
	if e.Observations != nil {
		c.Observations = append([]ObservedAction(nil), e.Observations...)
		if c.Observations == nil {
			c.Observations = []ObservedAction{}
		}
	}
	return &c
}

// Render formats the extraction for inclusion in a prompt.
func (e *Extraction) Render() string {
	if e == nil {
		return ""
	}
	if e.Kind == ExtractionText {
		return e.Text
	}
	if len(e.Observations) == 0 {
		return "(no actions found)"
	}
	var b strings.Builder
	for i, a := range e.Observations {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, a.Description)
		if a.Selector != "" {
			fmt.Fprintf(&b, " [%s]", a.Selector)
		}
	}
	return b.String()
}

// MarshalJSON emits a bare string or array depending on Kind.
func (e Extraction) MarshalJSON() ([]byte, error) {
	if e.Kind == ExtractionObservation {
		obs := e.Observations
		if obs == nil {
			obs = []ObservedAction{}
		}
		return json.Marshal(obs)
	}
	return json.Marshal(e.Text)
}

// UnmarshalJSON accepts either a string or an array of observed actions.
func (e *Extraction) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty extraction")
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*e = Extraction{Kind: ExtractionText, Text: s}
		return nil
	case '[':
		var obs []ObservedAction
		if err := json.Unmarshal(trimmed, &obs); err != nil {
			return fmt.Errorf("invalid observation list: %w", err)
		}
		*e = *NewObservationExtraction(obs)
		return nil
	default:
		return fmt.Errorf("extraction must be a string or an array, got %q", string(trimmed[:1]))
	}
}

// Decision is the reasoning model's structured choice of the next action.
type Decision struct {
	Text        string   `json:"text"`
	Reasoning   string   `json:"reasoning"`
	Tool        ToolKind `json:"tool"`
	Instruction string   `json:"instruction"`
}

// ActionResult is the tool-shaped value returned by the executor. Only
// EXTRACT and OBSERVE populate Extraction.
type ActionResult struct {
	Tool       ToolKind
	Extraction *Extraction
}

// Step is one recorded decide/execute cycle. Steps are immutable once
// appended to a history.
type Step struct {
	Ordinal     int         `json:"stepNumber"`
	Text        string      `json:"text"`
	Reasoning   string      `json:"reasoning"`
	Tool        ToolKind    `json:"tool"`
	Instruction string      `json:"instruction"`
	Extraction  *Extraction `json:"extraction,omitempty"`
}

// Decision returns the decision this step was built from.
func (s Step) Decision() Decision {
	return Decision{
		Text:        s.Text,
		Reasoning:   s.Reasoning,
		Tool:        s.Tool,
		Instruction: s.Instruction,
	}
}

// NewStep builds the step for ordinal from a decision and its execution result.
func NewStep(ordinal int, d *Decision, result *ActionResult) Step {
	step := Step{
		Ordinal:     ordinal,
		Text:        d.Text,
		Reasoning:   d.Reasoning,
		Tool:        d.Tool,
		Instruction: d.Instruction,
	}
	if result != nil {
		step.Extraction = result.Extraction
	}
	return step
}
