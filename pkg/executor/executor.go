// Package executor runs one abstract browser action against a session.
//
// Each ToolKind maps onto exactly one Automation primitive. Any failure
// releases the session lease before the error is returned, so a caller that
// sees an error never has to clean up the session itself.
package executor

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/entrhq/webpilot/pkg/decision"
	"github.com/entrhq/webpilot/pkg/logging"
	"github.com/entrhq/webpilot/pkg/session"
	"github.com/entrhq/webpilot/pkg/types"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("executor")
	if err != nil {
		// Logger fell back to stderr due to initialization failure
		debugLog.Warnf("Failed to initialize executor logger, using stderr fallback: %v", err)
	}
}

// Automation is the page automation collaborator, addressed by session id.
type Automation interface {
	Navigate(ctx context.Context, sessionID, url string, timeout time.Duration) error
	Act(ctx context.Context, sessionID, instruction string) error
	Extract(ctx context.Context, sessionID, query string) (string, error)
	Observe(ctx context.Context, sessionID, hint string) ([]types.ObservedAction, error)
	Screenshot(ctx context.Context, sessionID string) ([]byte, error)
	GoBack(ctx context.Context, sessionID string) error
}

const (
	// DefaultNavigationTimeout bounds a NAVIGATE step.
	DefaultNavigationTimeout = 60 * time.Second

	// DefaultMaxWait caps a WAIT step.
	DefaultMaxWait = 30 * time.Second
)

// Executor dispatches tools to an Automation.
type Executor struct {
	automation        Automation
	navigationTimeout time.Duration
	maxWait           time.Duration
	allowedHosts      []glob.Glob
}

// Option is a function that configures an Executor.
type Option func(*Executor)

// WithNavigationTimeout sets the per-call NAVIGATE timeout.
func WithNavigationTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.navigationTimeout = d
		}
	}
}

// WithMaxWait caps how long a single WAIT may sleep.
func WithMaxWait(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.maxWait = d
		}
	}
}

// WithAllowedHosts restricts NAVIGATE to hosts matching one of the compiled
// glob patterns. An empty list allows every host.
func WithAllowedHosts(patterns []glob.Glob) Option {
	return func(e *Executor) {
		e.allowedHosts = patterns
	}
}

// CompileHostPatterns compiles host globs such as "*.example.com". Dots
// separate segments, so "*" does not cross them.
func CompileHostPatterns(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		g, err := glob.Compile(p, '.')
		if err != nil {
			return nil, fmt.Errorf("invalid host pattern %q: %w", p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// New creates an Executor.
func New(automation Automation, opts ...Option) *Executor {
	e := &Executor{
		automation:        automation,
		navigationTimeout: DefaultNavigationTimeout,
		maxWait:           DefaultMaxWait,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs tool against the leased session. On failure the lease is
// released and an ActionExecutionError is returned.
func (e *Executor) Execute(ctx context.Context, lease *session.Lease, tool types.ToolKind, instruction string) (*types.ActionResult, error) {
	result, err := e.dispatch(ctx, lease, tool, instruction)
	if err != nil {
		return nil, e.fail(lease, tool, err)
	}
	return result, nil
}

func (e *Executor) dispatch(ctx context.Context, lease *session.Lease, tool types.ToolKind, instruction string) (*types.ActionResult, error) {
	result := &types.ActionResult{Tool: tool}
	id := lease.ID

	switch tool {
	case types.ToolNavigate:
		target, err := e.checkURL(instruction)
		if err != nil {
			return nil, err
		}
		navCtx, cancel := context.WithTimeout(ctx, e.navigationTimeout)
		defer cancel()
		if err := e.automation.Navigate(navCtx, id, target, e.navigationTimeout); err != nil {
			return nil, err
		}

	case types.ToolAct:
		if err := e.automation.Act(ctx, id, instruction); err != nil {
			return nil, err
		}

	case types.ToolExtract:
		text, err := e.automation.Extract(ctx, id, instruction)
		if err != nil {
			return nil, err
		}
		result.Extraction = types.NewTextExtraction(text)

	case types.ToolObserve:
		actions, err := e.automation.Observe(ctx, id, instruction)
		if err != nil {
			return nil, err
		}
		result.Extraction = types.NewObservationExtraction(actions)

	case types.ToolWait:
		if err := e.wait(ctx, instruction); err != nil {
			return nil, err
		}

	case types.ToolNavigateBack:
		if err := e.automation.GoBack(ctx, id); err != nil {
			return nil, err
		}

	case types.ToolClose:
		if err := lease.Release(ctx); err != nil {
			return nil, err
		}

	case types.ToolScreenshot:
		return nil, fmt.Errorf("%s is internal; use Screenshot", tool)

	default:
		return nil, fmt.Errorf("unknown tool %q", tool)
	}

	debugLog.Debugf("Executed %s on session %s", tool, id)
	return result, nil
}

// Screenshot captures the current page for the decision context. It is the
// internal SCREENSHOT operation and follows the same release-on-failure rule.
func (e *Executor) Screenshot(ctx context.Context, lease *session.Lease) ([]byte, error) {
	img, err := e.automation.Screenshot(ctx, lease.ID)
	if err != nil {
		return nil, e.fail(lease, types.ToolScreenshot, err)
	}
	return img, nil
}

func (e *Executor) fail(lease *session.Lease, tool types.ToolKind, cause error) error {
	debugLog.Errorf("%s failed on session %s: %v", tool, lease.ID, cause)
	// The caller's context may already be done; release must still go out.
	releaseCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := lease.Release(releaseCtx); err != nil {
		debugLog.Warnf("Failed to release session %s after %s error: %v", lease.ID, tool, err)
	}
	return types.NewActionExecutionError(tool, cause)
}

func (e *Executor) wait(ctx context.Context, instruction string) error {
	ms, err := decision.ParseWait(instruction)
	if err != nil {
		return err
	}
	d := time.Duration(ms) * time.Millisecond
	if d > e.maxWait {
		debugLog.Infof("Capping WAIT of %s to %s", d, e.maxWait)
		d = e.maxWait
	}
	if d == 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Executor) checkURL(raw string) (string, error) {
	target := strings.TrimSpace(raw)
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("URL must be absolute http(s), got %q", raw)
	}
	if len(e.allowedHosts) == 0 {
		return target, nil
	}
	host := strings.ToLower(u.Hostname())
	for _, g := range e.allowedHosts {
		if g.Match(host) {
			return target, nil
		}
	}
	return "", fmt.Errorf("host %q is not in the allowed host list", host)
}
