package types

import (
	"encoding/json"
	"fmt"
)

// ToolKind identifies an abstract browser action the reasoning model can select.
type ToolKind string

const (
	ToolNavigate     ToolKind = "NAVIGATE"      // ToolNavigate loads a URL; the instruction is the URL.
	ToolAct          ToolKind = "ACT"           // ToolAct performs one natural-language action on the page.
	ToolExtract      ToolKind = "EXTRACT"       // ToolExtract pulls data from the page; the instruction is the query.
	ToolObserve      ToolKind = "OBSERVE"       // ToolObserve lists candidate actions; the instruction is an optional hint.
	ToolWait         ToolKind = "WAIT"          // ToolWait pauses; the instruction is a duration in milliseconds.
	ToolNavigateBack ToolKind = "NAVIGATE_BACK" // ToolNavigateBack returns to the previous page.
	ToolClose        ToolKind = "CLOSE"         // ToolClose ends the run and releases the session.

	// ToolScreenshot is the executor's internal capture operation. It is never
	// offered to the model and never appears in a recorded step.
	ToolScreenshot ToolKind = "SCREENSHOT"
)

// SelectableTools lists, in prompt order, the tools the model may choose from.
var SelectableTools = []ToolKind{
	ToolNavigate,
	ToolAct,
	ToolExtract,
	ToolObserve,
	ToolWait,
	ToolNavigateBack,
	ToolClose,
}

// Selectable reports whether the model may choose this tool.
func (k ToolKind) Selectable() bool {
	switch k {
	case ToolNavigate, ToolAct, ToolExtract, ToolObserve, ToolWait, ToolNavigateBack, ToolClose:
		return true
	default:
		return false
	}
}

// ProducesExtraction reports whether a successful execution of this tool
// yields a value that is fed back to the next decision.
func (k ToolKind) ProducesExtraction() bool {
	return k == ToolExtract || k == ToolObserve
}

func (k ToolKind) String() string {
	return string(k)
}

// ParseToolKind converts a wire value into a selectable ToolKind. Matching is
// exact: no case folding and no aliases.
func ParseToolKind(s string) (ToolKind, error) {
	k := ToolKind(s)
	if !k.Selectable() {
		return "", fmt.Errorf("unknown tool %q", s)
	}
	return k, nil
}

// UnmarshalJSON rejects values outside the selectable set.
func (k *ToolKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("tool must be a string: %w", err)
	}
	parsed, err := ParseToolKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
