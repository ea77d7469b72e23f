package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseToolKind(t *testing.T) {
	for _, k := range SelectableTools {
		parsed, err := ParseToolKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	invalid := []string{"", "GOTO", "NAVBACK", "navigate", "SCREENSHOT", "CLICK"}
	for _, s := range invalid {
		_, err := ParseToolKind(s)
		assert.Error(t, err, "expected %q to be rejected", s)
	}
}

func TestToolKind_UnmarshalJSON(t *testing.T) {
	var k ToolKind
	require.NoError(t, json.Unmarshal([]byte(`"EXTRACT"`), &k))
	assert.Equal(t, ToolExtract, k)

	assert.Error(t, json.Unmarshal([]byte(`"SCROLL"`), &k))
	assert.Error(t, json.Unmarshal([]byte(`42`), &k))
}

func TestToolKind_ProducesExtraction(t *testing.T) {
	assert.True(t, ToolExtract.ProducesExtraction())
	assert.True(t, ToolObserve.ProducesExtraction())
	assert.False(t, ToolNavigate.ProducesExtraction())
	assert.False(t, ToolWait.ProducesExtraction())
	assert.False(t, ToolScreenshot.Selectable())
}

func TestExtraction_JSON(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		var e Extraction
		require.NoError(t, json.Unmarshal([]byte(`"Example Domain"`), &e))
		assert.Equal(t, ExtractionText, e.Kind)
		assert.Equal(t, "Example Domain", e.Text)

		out, err := json.Marshal(&e)
		require.NoError(t, err)
		assert.JSONEq(t, `"Example Domain"`, string(out))
	})

	t.Run("observation", func(t *testing.T) {
		var e Extraction
		raw := `[{"description":"Sign in button","selector":"#login"}]`
		require.NoError(t, json.Unmarshal([]byte(raw), &e))
		assert.Equal(t, ExtractionObservation, e.Kind)
		require.Len(t, e.Observations, 1)
		assert.Equal(t, "#login", e.Observations[0].Selector)

		out, err := json.Marshal(&e)
		require.NoError(t, err)
		assert.JSONEq(t, raw, string(out))
	})

	t.Run("rejects objects", func(t *testing.T) {
		var e Extraction
		assert.Error(t, json.Unmarshal([]byte(`{"text":"x"}`), &e))
	})
}

func TestExtraction_Render(t *testing.T) {
	assert.Equal(t, "", (*Extraction)(nil).Render())
	assert.Equal(t, "42 stars", NewTextExtraction("42 stars").Render())
	assert.Equal(t, "(no actions found)", NewObservationExtraction(nil).Render())

	obs := NewObservationExtraction([]ObservedAction{
		{Description: "Search box", Selector: "input[name=q]"},
		{Description: "Submit"},
	})
	assert.Equal(t, "1. Search box [input[name=q]]\n2. Submit", obs.Render())
}

func TestNewStep(t *testing.T) {
	d := &Decision{Text: "Reading title", Reasoning: "need it", Tool: ToolExtract, Instruction: "page title"}
	step := NewStep(2, d, &ActionResult{Tool: ToolExtract, Extraction: NewTextExtraction("Example Domain")})

	assert.Equal(t, 2, step.Ordinal)
	assert.Equal(t, *d, step.Decision())
	require.NotNil(t, step.Extraction)
	assert.Equal(t, "Example Domain", step.Extraction.Text)

	bare := NewStep(1, &Decision{Tool: ToolClose}, nil)
	assert.Nil(t, bare.Extraction)
}

func TestRunError_Is(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := fmt.Errorf("decide: %w", NewTransportError("llm", cause))

	assert.True(t, errors.Is(err, ErrTransport))
	assert.False(t, errors.Is(err, ErrSchemaViolation))
	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsRetryable(err))
	assert.Equal(t, KindTransport, KindOf(err))

	schemaErr := NewSchemaViolationError("decide", errors.New("bad tool"))
	assert.False(t, IsRetryable(schemaErr))
	assert.True(t, errors.Is(schemaErr, ErrSchemaViolation))

	actionErr := NewActionExecutionError(ToolAct, errors.New("no element"))
	assert.Contains(t, actionErr.Error(), "[ACT]")
	assert.True(t, errors.Is(actionErr, ErrActionExecution))

	assert.True(t, errors.Is(NewInvalidStateError(RunStatusCompleted), ErrInvalidState))
	assert.True(t, errors.Is(NewStepBudgetExceededError(5), ErrStepBudgetExceeded))
	assert.True(t, errors.Is(NewCancelledError(nil), ErrCancelled))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
}
