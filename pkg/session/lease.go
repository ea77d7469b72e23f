// Package session hands out exclusively-owned handles on remote browser
// sessions.
//
// A Lease is the only way the rest of webpilot touches a session's
// lifecycle. Whoever ends a run (CLOSE, a failed step, an exhausted budget
// or a cancellation) calls Release, and the underlying session is released
// exactly once no matter how many paths race to do so.
package session

import (
	"context"
	"sync"
	"sync/atomic"
)

// ReleaseFunc tears down the resources behind a lease.
type ReleaseFunc func(ctx context.Context) error

// Lease is an exclusively-owned handle on one remote browser session.
type Lease struct {
	// ID is the provider's session identifier.
	ID string

	// LiveURL is the human-viewable live URL for the session.
	LiveURL string

	release  ReleaseFunc
	once     sync.Once
	released atomic.Bool
	err      error
}

// NewLease creates a lease that calls release at most once.
func NewLease(id, liveURL string, release ReleaseFunc) *Lease {
	return &Lease{ID: id, LiveURL: liveURL, release: release}
}

// Release ends the session. Only the first call reaches the provider; later
// calls return the first call's result.
func (l *Lease) Release(ctx context.Context) error {
	l.once.Do(func() {
		l.released.Store(true)
		if l.release != nil {
			l.err = l.release(ctx)
		}
	})
	return l.err
}

// Released reports whether Release has been called.
func (l *Lease) Released() bool {
	return l.released.Load()
}
