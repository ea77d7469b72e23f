package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/entrhq/webpilot/pkg/logging"
	"github.com/entrhq/webpilot/pkg/types"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("session")
	if err != nil {
		// Logger fell back to stderr due to initialization failure
		debugLog.Warnf("Failed to initialize session logger, using stderr fallback: %v", err)
	}
}

// Info describes a freshly created or resumed session.
type Info struct {
	ID         string
	ConnectURL string
	LiveURL    string
	// Resumed is set when the session was opened by an earlier request.
	Resumed bool
}

// Provider is the managed browser session service.
type Provider interface {
	// Create starts a new session.
	Create(ctx context.Context) (*Info, error)

	// DebugURL returns the live debugger URL for a session.
	DebugURL(ctx context.Context, id string) (string, error)

	// Release asks the provider to end a session.
	Release(ctx context.Context, id string) error

	// ConnectURL returns the automation endpoint for an existing session.
	ConnectURL(id string) string

	// ViewURL returns a dashboard URL for an existing session without a
	// network round trip.
	ViewURL(id string) string
}

// Hook observes sessions entering or leaving the gateway.
type Hook interface {
	// Opened is called after a session is created or resumed.
	Opened(info *Info)

	// Closed is called before the provider is asked to release a session.
	Closed(ctx context.Context, id string) error
}

// Gateway is a facade over a Provider that hands out Leases.
type Gateway struct {
	provider Provider
	hooks    []Hook
}

// GatewayOption is a function that configures a Gateway.
type GatewayOption func(*Gateway)

// WithHook registers a hook. The browser driver uses it to connect and
// disconnect automation for each session.
func WithHook(h Hook) GatewayOption {
	return func(g *Gateway) {
		g.hooks = append(g.hooks, h)
	}
}

// NewGateway creates a gateway over provider.
func NewGateway(provider Provider, opts ...GatewayOption) *Gateway {
	g := &Gateway{provider: provider}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Open creates a session and returns a lease on it together with its live
// debugger URL. If the live URL cannot be fetched the new session is
// released before the error is returned.
func (g *Gateway) Open(ctx context.Context) (*Lease, error) {
	info, err := g.provider.Create(ctx)
	if err != nil {
		return nil, types.NewTransportError("session.create", err)
	}
	if info.ID == "" {
		return nil, types.NewTransportError("session.create", errors.New("provider returned an empty session id"))
	}

	if info.LiveURL == "" {
		live, err := g.provider.DebugURL(ctx, info.ID)
		if err != nil {
			if relErr := g.provider.Release(ctx, info.ID); relErr != nil {
				debugLog.Warnf("Failed to release session %s after debug URL error: %v", info.ID, relErr)
			}
			return nil, types.NewTransportError("session.debug", err)
		}
		info.LiveURL = live
	}

	debugLog.Infof("Opened session %s", info.ID)
	return g.lease(info), nil
}

// Resume returns a lease on a session created by an earlier call, as carried
// by an interactive client between steps.
func (g *Gateway) Resume(id string) *Lease {
	info := &Info{
		ID:         id,
		ConnectURL: g.provider.ConnectURL(id),
		LiveURL:    g.provider.ViewURL(id),
		Resumed:    true,
	}
	debugLog.Debugf("Resumed session %s", id)
	return g.lease(info)
}

// Release ends a session by id without holding its lease.
func (g *Gateway) Release(ctx context.Context, id string) error {
	return g.Resume(id).Release(ctx)
}

func (g *Gateway) lease(info *Info) *Lease {
	for _, h := range g.hooks {
		h.Opened(info)
	}

	id := info.ID
	return NewLease(id, info.LiveURL, func(ctx context.Context) error {
		var errs []error
		for _, h := range g.hooks {
			if err := h.Closed(ctx, id); err != nil {
				errs = append(errs, err)
			}
		}
		if err := g.provider.Release(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("release session %s: %w", id, err))
		}
		if len(errs) > 0 {
			err := errors.Join(errs...)
			debugLog.Warnf("Session %s released with errors: %v", id, err)
			return err
		}
		debugLog.Infof("Released session %s", id)
		return nil
	})
}
