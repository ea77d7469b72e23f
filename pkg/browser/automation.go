package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/entrhq/webpilot/pkg/executor"
	"github.com/entrhq/webpilot/pkg/llm"
	"github.com/entrhq/webpilot/pkg/llm/tokenizer"
	"github.com/entrhq/webpilot/pkg/types"
)

// DefaultPageTokenBudget caps the page context sent with act, extract and
// observe calls.
const DefaultPageTokenBudget = 6000

const defaultObserveFocus = "the actions most useful for making progress on this page"

// Automation performs the page-level primitives of a run on a Driver's
// sessions. Navigation and screenshots go straight to the page; act, extract
// and observe ask a model to interpret the page.
type Automation struct {
	driver   *Driver
	provider llm.Provider
	tokens   *tokenizer.Tokenizer
	budget   int
	limiter  *rate.Limiter

	act     *structuredCall
	extract *structuredCall
	observe *structuredCall
}

var _ executor.Automation = (*Automation)(nil)

// AutomationOption is a function that configures an Automation.
type AutomationOption func(*Automation)

// WithTokenizer sets the tokenizer used to fit page context into the budget.
func WithTokenizer(t *tokenizer.Tokenizer) AutomationOption {
	return func(a *Automation) {
		a.tokens = t
	}
}

// WithPageTokenBudget sets the page context budget in tokens.
func WithPageTokenBudget(tokens int) AutomationOption {
	return func(a *Automation) {
		if tokens > 0 {
			a.budget = tokens
		}
	}
}

// WithModelLimiter shares an outbound rate limiter with other model callers.
func WithModelLimiter(l *rate.Limiter) AutomationOption {
	return func(a *Automation) {
		a.limiter = l
	}
}

// NewAutomation creates an Automation over driver using provider to
// interpret pages.
func NewAutomation(driver *Driver, provider llm.Provider, opts ...AutomationOption) (*Automation, error) {
	a := &Automation{
		driver:   driver,
		provider: provider,
		budget:   DefaultPageTokenBudget,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.tokens == nil {
		a.tokens = tokenizer.New("")
	}

	var err error
	if a.act, err = newStructuredCall("page_act", actSystemPrompt, actSchema()); err != nil {
		return nil, err
	}
	if a.extract, err = newStructuredCall("page_extract", extractSystemPrompt, extractSchema()); err != nil {
		return nil, err
	}
	if a.observe, err = newStructuredCall("page_observe", observeSystemPrompt, observeSchema()); err != nil {
		return nil, err
	}
	return a, nil
}

// Navigate loads url and waits for the DOM to be ready.
func (a *Automation) Navigate(ctx context.Context, sessionID, url string, timeout time.Duration) error {
	page, err := a.driver.Page(ctx, sessionID)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	return page.Goto(url, timeout)
}

// GoBack returns to the previous page in the session's history.
func (a *Automation) GoBack(ctx context.Context, sessionID string) error {
	page, err := a.driver.Page(ctx, sessionID)
	if err != nil {
		return err
	}
	return page.GoBack(a.driver.timeout)
}

// Screenshot captures the visible viewport as PNG.
func (a *Automation) Screenshot(ctx context.Context, sessionID string) ([]byte, error) {
	page, err := a.driver.Page(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return page.Screenshot()
}

// Act performs the interaction described by instruction on the element the
// model picks from the page's interactive elements.
func (a *Automation) Act(ctx context.Context, sessionID, instruction string) error {
	page, elements, err := a.elements(ctx, sessionID)
	if err != nil {
		return err
	}

	prompt := fmt.Sprintf("Instruction: %s\n\nInteractive elements:\n%s", instruction, a.fit(renderElements(elements)))
	var answer actAnswer
	if err := a.call(ctx, a.act, prompt, &answer); err != nil {
		return err
	}
	if answer.Index < 0 || answer.Index >= len(elements) {
		return fmt.Errorf("no element on %s matches %q", page.URL(), instruction)
	}

	target := elements[answer.Index]
	debugLog.Debugf("Act on session %s: %s %s (%s)", sessionID, answer.Method, target.Selector, target.Label)
	return page.Perform(target.Selector, answer.Method, answer.Argument)
}

// Extract answers query from the page's visible text.
func (a *Automation) Extract(ctx context.Context, sessionID, query string) (string, error) {
	page, err := a.driver.Page(ctx, sessionID)
	if err != nil {
		return "", err
	}
	snap, err := a.snapshot(page)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Extraction request: %s\n\nURL: %s\n", query, page.URL())
	if snap.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", snap.Title)
	}
	if snap.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", snap.Description)
	}
	fmt.Fprintf(&b, "\nPage text:\n%s", a.fit(snap.Text))

	var answer extractAnswer
	if err := a.call(ctx, a.extract, b.String(), &answer); err != nil {
		return "", err
	}
	return strings.TrimSpace(answer.Extraction), nil
}

// Observe lists candidate actions on the page, optionally focused by hint.
func (a *Automation) Observe(ctx context.Context, sessionID, hint string) ([]types.ObservedAction, error) {
	_, elements, err := a.elements(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(elements) == 0 {
		return []types.ObservedAction{}, nil
	}

	focus := strings.TrimSpace(hint)
	if focus == "" {
		focus = defaultObserveFocus
	}
	prompt := fmt.Sprintf("Focus: %s\n\nInteractive elements:\n%s", focus, a.fit(renderElements(elements)))

	var answer observeAnswer
	if err := a.call(ctx, a.observe, prompt, &answer); err != nil {
		return nil, err
	}

	actions := make([]types.ObservedAction, 0, len(answer.Actions))
	seen := make(map[int]bool, len(answer.Actions))
	for _, act := range answer.Actions {
		if act.Index < 0 || act.Index >= len(elements) || seen[act.Index] {
			debugLog.Warnf("Dropping observed action with index %d", act.Index)
			continue
		}
		seen[act.Index] = true
		actions = append(actions, types.ObservedAction{
			Description: act.Description,
			Selector:    elements[act.Index].Selector,
		})
	}
	return actions, nil
}

func (a *Automation) elements(ctx context.Context, sessionID string) (Page, []element, error) {
	page, err := a.driver.Page(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	content, err := page.Content()
	if err != nil {
		return nil, nil, err
	}
	elements, err := interactiveElements(content)
	if err != nil {
		return nil, nil, err
	}
	return page, elements, nil
}

func (a *Automation) snapshot(page Page) (*pageSnapshot, error) {
	content, err := page.Content()
	if err != nil {
		return nil, err
	}
	return snapshotHTML(content)
}

func (a *Automation) fit(text string) string {
	fitted, truncated := a.tokens.Truncate(text, a.budget)
	if truncated {
		debugLog.Debugf("Page context truncated to %d tokens", a.budget)
		return fitted + "\n[truncated]"
	}
	return fitted
}

func (a *Automation) call(ctx context.Context, c *structuredCall, prompt string, out any) error {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	return c.run(ctx, a.provider, prompt, out)
}
