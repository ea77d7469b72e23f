// Package llm provides abstractions for LLM provider integration.
//
// Example usage:
//
//	provider, err := openai.NewProvider(
//	    os.Getenv("OPENAI_API_KEY"),
//	    openai.WithModel("gpt-4o"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	resp, err := provider.Complete(ctx, &llm.Request{
//	    Messages: []*types.Message{types.NewUserMessage("Hello!")},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(resp.Content)
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/entrhq/webpilot/pkg/types"
)

// ResponseSchema asks the provider for structured output matching a JSON
// schema.
type ResponseSchema struct {
	// Name identifies the schema to the provider (a-z, A-Z, 0-9, _ and -).
	Name string

	// Schema is the JSON schema document.
	Schema map[string]any

	// Strict requests exact schema adherence where the provider supports it.
	Strict bool
}

// Request is one completion call.
type Request struct {
	Messages []*types.Message

	// Schema, when set, constrains the response to a JSON document.
	Schema *ResponseSchema

	// MaxTokens caps the completion length. Zero leaves it to the provider.
	MaxTokens int

	// Temperature is passed through when non-nil.
	Temperature *float64
}

// Response is the provider's answer to a Request.
type Response struct {
	// Content is the text of the first choice.
	Content string

	// Refusal is set when the model declined to answer.
	Refusal string

	// FinishReason is the provider's stop reason, such as "stop" or "length".
	FinishReason string

	Usage types.TokenUsage
}

// ErrStatus marks a non-2xx response from the provider API.
var ErrStatus = errors.New("provider returned an error status")

// StatusError is a non-2xx response from the provider API. It matches
// ErrStatus with errors.Is.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%v: status %d", ErrStatus, e.StatusCode)
	}
	return fmt.Sprintf("%v: status %d: %s", ErrStatus, e.StatusCode, e.Body)
}

// Is reports whether target is ErrStatus.
func (e *StatusError) Is(target error) bool {
	return target == ErrStatus
}

// Temporary reports whether the same request may succeed later: rate
// limiting and server-side failures.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsTemporary returns false only for provider responses that will fail again
// unchanged, such as bad requests or rejected credentials. Network errors
// are temporary.
func IsTemporary(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return true
}

// Provider defines the interface for LLM integrations.
//
// Providers handle API communication with LLM services and nothing else:
// prompt construction, output validation and retries belong to the caller.
type Provider interface {
	// Complete sends a request to the LLM and returns the full response.
	//
	// An error means the call itself failed (network, timeout, non-2xx
	// status). A well-formed response whose content the caller cannot use is
	// not an error at this level.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// GetModelInfo returns information about the LLM model being used.
	GetModelInfo() *types.ModelInfo

	// GetModel returns the model name being used.
	GetModel() string
}
