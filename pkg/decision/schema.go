package decision

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/entrhq/webpilot/pkg/llm"
	"github.com/entrhq/webpilot/pkg/types"
)

// SchemaName is the structured-output name sent to the provider.
const SchemaName = "browser_step"

// Schema returns the JSON schema every decision must satisfy.
func Schema() map[string]any {
	tools := make([]any, 0, len(types.SelectableTools))
	for _, k := range types.SelectableTools {
		tools = append(tools, string(k))
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{
				"type":        "string",
				"description": textDescription,
			},
			"reasoning": map[string]any{
				"type":        "string",
				"description": reasoningDescription,
			},
			"tool": map[string]any{
				"type":        "string",
				"enum":        tools,
				"description": toolGuidelines,
			},
			"instruction": map[string]any{
				"type":        "string",
				"description": instructionDescription,
			},
		},
		"required":             []any{"text", "reasoning", "tool", "instruction"},
		"additionalProperties": false,
	}
}

func responseSchema() *llm.ResponseSchema {
	return &llm.ResponseSchema{Name: SchemaName, Schema: Schema(), Strict: true}
}

// compileSchema compiles Schema for local validation of model output.
func compileSchema() (*jsonschema.Schema, error) {
	raw, err := json.Marshal(Schema())
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("decision.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("decision.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// parseDecision turns raw model output into a Decision. The content must be
// a single JSON object matching the schema exactly; nothing is coerced.
func parseDecision(schema *jsonschema.Schema, content string) (*types.Decision, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New("empty model output")
	}

	instance, err := jsonschema.UnmarshalJSON(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("model output is not JSON: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("model output does not match schema: %w", err)
	}

	dec := json.NewDecoder(strings.NewReader(content))
	dec.DisallowUnknownFields()
	var d types.Decision
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("decode decision: %w", err)
	}
	if err := validateInstruction(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

// validateInstruction checks the tool-dependent meaning of the instruction.
func validateInstruction(d *types.Decision) error {
	switch d.Tool {
	case types.ToolNavigate:
		u, err := url.Parse(strings.TrimSpace(d.Instruction))
		if err != nil {
			return fmt.Errorf("NAVIGATE instruction is not a URL: %w", err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("NAVIGATE instruction must be an absolute http(s) URL, got %q", d.Instruction)
		}
	case types.ToolAct, types.ToolExtract:
		if strings.TrimSpace(d.Instruction) == "" {
			return fmt.Errorf("%s instruction must not be empty", d.Tool)
		}
	case types.ToolWait:
		if _, err := ParseWait(d.Instruction); err != nil {
			return err
		}
	case types.ToolObserve, types.ToolNavigateBack, types.ToolClose:
	default:
		return fmt.Errorf("unknown tool %q", d.Tool)
	}
	return nil
}

// ParseWait parses a WAIT instruction as a non-negative number of
// milliseconds.
func ParseWait(instruction string) (int64, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(instruction), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("WAIT instruction must be an integer number of milliseconds, got %q", instruction)
	}
	if ms < 0 {
		return 0, fmt.Errorf("WAIT instruction must not be negative, got %d", ms)
	}
	return ms, nil
}
