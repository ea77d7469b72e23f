// Package decision asks the reasoning model for the next browser action.
//
// A Client turns a run's goal, step history and last extraction into a
// chat request with a strict structured-output schema, and turns the reply
// into a validated types.Decision. Output that does not fit the schema is a
// schema violation and is never coerced. Transport failures are retried here
// and nowhere else.
package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/time/rate"

	"github.com/entrhq/webpilot/pkg/llm"
	"github.com/entrhq/webpilot/pkg/logging"
	"github.com/entrhq/webpilot/pkg/session"
	"github.com/entrhq/webpilot/pkg/types"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("decision")
	if err != nil {
		// Logger fell back to stderr due to initialization failure
		debugLog.Warnf("Failed to initialize decision logger, using stderr fallback: %v", err)
	}
}

// Snapshotter captures the current page for the decision context.
type Snapshotter interface {
	Screenshot(ctx context.Context, lease *session.Lease) ([]byte, error)
}

// Request is the context for one decision.
type Request struct {
	Goal           types.Goal
	History        []types.Step
	LastExtraction *types.Extraction

	// Session is the lease screenshots are taken from.
	Session *session.Lease
}

const (
	defaultMaxRetries = 2
	defaultBackoff    = time.Second
)

// Client builds decision requests and validates the model's answers.
type Client struct {
	provider   llm.Provider
	snapshots  Snapshotter
	limiter    *rate.Limiter
	schema     *jsonschema.Schema
	maxRetries int
	backoff    time.Duration
}

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithSnapshotter sets where page screenshots come from. Without one, no
// screenshot is ever attached.
func WithSnapshotter(s Snapshotter) ClientOption {
	return func(c *Client) {
		c.snapshots = s
	}
}

// WithMaxRetries sets how many times a transport failure is retried.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithBackoff sets the base delay between retries. Attempt n waits n*d.
func WithBackoff(d time.Duration) ClientOption {
	return func(c *Client) {
		c.backoff = d
	}
}

// WithLimiter shares an outbound rate limiter across clients.
func WithLimiter(l *rate.Limiter) ClientOption {
	return func(c *Client) {
		c.limiter = l
	}
}

// NewClient creates a decision client over provider.
func NewClient(provider llm.Provider, opts ...ClientOption) (*Client, error) {
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	c := &Client{
		provider:   provider,
		schema:     schema,
		maxRetries: defaultMaxRetries,
		backoff:    defaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Decide asks the model for the next step. It never modifies req.History.
//
// Errors are *types.RunError values: transport for failed calls (after
// retries), schema_violation for unusable output, and whatever the
// snapshotter returned if the screenshot could not be taken.
func (c *Client) Decide(ctx context.Context, req *Request) (*types.Decision, error) {
	messages, err := c.buildMessages(ctx, req)
	if err != nil {
		return nil, err
	}

	llmReq := &llm.Request{Messages: messages, Schema: responseSchema()}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			debugLog.Warnf("Retrying decision (attempt %d/%d) after: %v", attempt, c.maxRetries, lastErr)
			if err := sleep(ctx, time.Duration(attempt)*c.backoff); err != nil {
				return nil, types.NewTransportError("decide", err)
			}
		}

		decision, err := c.complete(ctx, llmReq)
		if err == nil {
			debugLog.Debugf("Decision: tool=%s instruction=%q", decision.Tool, decision.Instruction)
			return decision, nil
		}
		if !types.IsRetryable(err) || !llm.IsTemporary(err) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) complete(ctx context.Context, req *llm.Request) (*types.Decision, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, types.NewTransportError("decide", fmt.Errorf("rate limit wait: %w", err))
		}
	}

	resp, err := c.provider.Complete(ctx, req)
	if err != nil {
		return nil, types.NewTransportError("decide", err)
	}
	if resp.Refusal != "" {
		return nil, types.NewSchemaViolationError("decide", fmt.Errorf("model refused: %s", resp.Refusal))
	}

	decision, err := parseDecision(c.schema, resp.Content)
	if err != nil {
		debugLog.Warnf("Rejected model output: %v", err)
		return nil, types.NewSchemaViolationError("decide", err)
	}
	return decision, nil
}

// buildMessages assembles the system prompt and the user message: goal and
// history text, a screenshot once any step has navigated, and the previous
// extraction.
func (c *Client) buildMessages(ctx context.Context, req *Request) ([]*types.Message, error) {
	parts := []types.ContentPart{types.TextPart(renderGoal(req.Goal, req.History))}

	if c.snapshots != nil && req.Session != nil && hasNavigated(req.History) {
		img, err := c.snapshots.Screenshot(ctx, req.Session)
		if err != nil {
			var runErr *types.RunError
			if errors.As(err, &runErr) {
				return nil, err
			}
			return nil, types.NewActionExecutionError(types.ToolScreenshot, err)
		}
		parts = append(parts, types.ImagePart(img, "image/png"))
	}

	if text := renderExtraction(req.LastExtraction); text != "" {
		parts = append(parts, types.TextPart(text))
	}

	return []*types.Message{
		types.NewSystemMessage(SystemPrompt),
		types.NewMultipartUserMessage(parts...),
	}, nil
}

func hasNavigated(history []types.Step) bool {
	for _, s := range history {
		if s.Tool == types.ToolNavigate {
			return true
		}
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
