package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/entrhq/webpilot/pkg/llm"
	"github.com/entrhq/webpilot/pkg/types"
)

// structuredCall is one model call whose answer must match a JSON schema.
type structuredCall struct {
	name     string
	system   string
	schema   map[string]any
	compiled *jsonschema.Schema
}

func newStructuredCall(name, system string, schema map[string]any) (*structuredCall, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal %s schema: %w", name, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s schema: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name+".json", doc); err != nil {
		return nil, fmt.Errorf("add %s schema: %w", name, err)
	}
	compiled, err := c.Compile(name + ".json")
	if err != nil {
		return nil, fmt.Errorf("compile %s schema: %w", name, err)
	}
	return &structuredCall{name: name, system: system, schema: schema, compiled: compiled}, nil
}

// run sends prompt and decodes the validated answer into out.
func (c *structuredCall) run(ctx context.Context, provider llm.Provider, prompt string, out any) error {
	resp, err := provider.Complete(ctx, &llm.Request{
		Messages: []*types.Message{
			types.NewSystemMessage(c.system),
			types.NewUserMessage(prompt),
		},
		Schema: &llm.ResponseSchema{Name: c.name, Schema: c.schema, Strict: true},
	})
	if err != nil {
		return fmt.Errorf("%s model call failed: %w", c.name, err)
	}
	if resp.Refusal != "" {
		return fmt.Errorf("%s model call refused: %s", c.name, resp.Refusal)
	}

	content := strings.TrimSpace(resp.Content)
	instance, err := jsonschema.UnmarshalJSON(strings.NewReader(content))
	if err != nil {
		return fmt.Errorf("%s output is not JSON: %w", c.name, err)
	}
	if err := c.compiled.Validate(instance); err != nil {
		return fmt.Errorf("%s output does not match schema: %w", c.name, err)
	}
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("decode %s output: %w", c.name, err)
	}
	return nil
}

func object(properties map[string]any) map[string]any {
	required := make([]any, 0, len(properties))
	for name := range properties {
		required = append(required, name)
	}
	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func integerProp(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}

const actSystemPrompt = `You operate a web page on behalf of an agent. You are given an instruction and a numbered list of the page's interactive elements.
Pick the single element the instruction refers to and the method to apply:
- click: click the element
- fill: replace the element's value with the argument
- press: press the key named by the argument (for example "Enter") with the element focused
- select: choose the option labelled by the argument
If no element fits the instruction, return index -1.`

const extractSystemPrompt = `You extract information from a web page on behalf of an agent. You are given an extraction request, the page URL and the page's visible text.
Answer with only the requested information, taken from the page. If the page does not contain it, say so briefly.`

const observeSystemPrompt = `You survey a web page on behalf of an agent. You are given an optional focus and a numbered list of the page's interactive elements.
Return the elements worth acting on next, most relevant first, each with a short description of what acting on it would do.`

func actSchema() map[string]any {
	enum := make([]any, 0, len(methods))
	for _, m := range methods {
		enum = append(enum, string(m))
	}
	return object(map[string]any{
		"index":    integerProp("Index of the element to act on, or -1 if none fits."),
		"method":   map[string]any{"type": "string", "enum": enum, "description": "Interaction to perform."},
		"argument": stringProp("Text for fill, key for press, option label for select; empty for click."),
	})
}

func extractSchema() map[string]any {
	return object(map[string]any{
		"extraction": stringProp("The requested information."),
	})
}

func observeSchema() map[string]any {
	return object(map[string]any{
		"actions": map[string]any{
			"type": "array",
			"items": object(map[string]any{
				"index":       integerProp("Index of the element."),
				"description": stringProp("What acting on the element would do."),
			}),
		},
	})
}

type actAnswer struct {
	Index    int    `json:"index"`
	Method   Method `json:"method"`
	Argument string `json:"argument"`
}

type extractAnswer struct {
	Extraction string `json:"extraction"`
}

type observeAnswer struct {
	Actions []struct {
		Index       int    `json:"index"`
		Description string `json:"description"`
	} `json:"actions"`
}
