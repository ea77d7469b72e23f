package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/webpilot/pkg/logging"
	"github.com/entrhq/webpilot/pkg/session"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("browser")
	if err != nil {
		// Logger fell back to stderr due to initialization failure
		debugLog.Warnf("Failed to initialize browser logger, using stderr fallback: %v", err)
	}
}

// DefaultActionTimeout bounds a single element interaction.
const DefaultActionTimeout = 30 * time.Second

// Connection is a live attachment to one remote browser.
type Connection interface {
	Page() Page
	Close() error
}

// DialFunc attaches to the remote browser behind connectURL.
type DialFunc func(ctx context.Context, connectURL string) (Connection, error)

// target is one registered session and its lazily dialed connection.
type target struct {
	mu         sync.Mutex
	connectURL string
	conn       Connection
}

// Driver keeps one CDP connection per open session. Sessions are registered
// through the session.Hook methods and dialed on first use.
type Driver struct {
	mu          sync.Mutex
	targets     map[string]*target
	playwright  *playwright.Playwright
	dial        DialFunc
	install     bool
	timeout     time.Duration
	initialized bool
}

var _ session.Hook = (*Driver)(nil)

// DriverOption is a function that configures a Driver.
type DriverOption func(*Driver)

// WithDialer replaces the playwright CDP dialer.
func WithDialer(dial DialFunc) DriverOption {
	return func(d *Driver) {
		d.dial = dial
	}
}

// WithInstall makes Initialize download the playwright driver if missing.
func WithInstall(install bool) DriverOption {
	return func(d *Driver) {
		d.install = install
	}
}

// WithActionTimeout sets the timeout for element interactions.
func WithActionTimeout(timeout time.Duration) DriverOption {
	return func(d *Driver) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewDriver creates a driver. Call Initialize before the first session is
// used unless a custom dialer was supplied.
func NewDriver(opts ...DriverOption) *Driver {
	d := &Driver{
		targets: make(map[string]*target),
		timeout: DefaultActionTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Initialize starts the playwright driver process.
func (d *Driver) Initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initialized || d.dial != nil {
		return nil
	}

	// Keep the driver quiet so it does not interleave with CLI output
	opts := &playwright.RunOptions{
		Verbose:             false,
		Stdout:              io.Discard,
		Stderr:              io.Discard,
		SkipInstallBrowsers: true,
	}

	if d.install {
		if err := playwright.Install(opts); err != nil {
			return fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	d.playwright = pw
	d.dial = d.dialCDP
	d.initialized = true
	return nil
}

// Opened registers a session so its browser can be dialed on first use.
func (d *Driver) Opened(info *session.Info) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.targets[info.ID]; exists {
		return
	}
	d.targets[info.ID] = &target{connectURL: info.ConnectURL}
	debugLog.Debugf("Registered session %s", info.ID)
}

// Closed disconnects from a session's browser and forgets it.
func (d *Driver) Closed(ctx context.Context, id string) error {
	d.mu.Lock()
	t, exists := d.targets[id]
	delete(d.targets, id)
	d.mu.Unlock()

	if !exists {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	if err != nil {
		return fmt.Errorf("failed to disconnect from session %s: %w", id, err)
	}
	debugLog.Debugf("Disconnected from session %s", id)
	return nil
}

// Page returns the active page of a registered session, dialing its browser
// if this is the first use.
func (d *Driver) Page(ctx context.Context, id string) (Page, error) {
	d.mu.Lock()
	t, exists := d.targets[id]
	dial := d.dial
	d.mu.Unlock()

	if !exists {
		return nil, fmt.Errorf("session %q is not attached", id)
	}
	if dial == nil {
		return nil, errors.New("browser driver not initialized")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return t.conn.Page(), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := dial(ctx, t.connectURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session %s: %w", id, err)
	}
	t.conn = conn
	debugLog.Infof("Connected to session %s", id)
	return conn.Page(), nil
}

// Attached reports whether a session is registered.
func (d *Driver) Attached(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, exists := d.targets[id]
	return exists
}

// Shutdown disconnects from every session and stops playwright.
func (d *Driver) Shutdown() error {
	d.mu.Lock()
	targets := d.targets
	d.targets = make(map[string]*target)
	d.mu.Unlock()

	var errs []error
	for id, t := range targets {
		t.mu.Lock()
		if t.conn != nil {
			if err := t.conn.Close(); err != nil {
				errs = append(errs, fmt.Errorf("session %s: %w", id, err))
			}
			t.conn = nil
		}
		t.mu.Unlock()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized && d.playwright != nil {
		if err := d.playwright.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
		d.playwright = nil
		d.dial = nil
		d.initialized = false
	}
	return errors.Join(errs...)
}

// cdpConnection is a playwright browser attached over CDP.
type cdpConnection struct {
	browser playwright.Browser
	page    *playwrightPage
}

func (c *cdpConnection) Page() Page { return c.page }

func (c *cdpConnection) Close() error { return c.browser.Close() }

func (d *Driver) dialCDP(ctx context.Context, connectURL string) (Connection, error) {
	browser, err := d.playwright.Chromium.ConnectOverCDP(connectURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect over CDP: %w", err)
	}

	// The live view shows the session's default page.
	var bctx playwright.BrowserContext
	if contexts := browser.Contexts(); len(contexts) > 0 {
		bctx = contexts[0]
	} else if bctx, err = browser.NewContext(); err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	var page playwright.Page
	if pages := bctx.Pages(); len(pages) > 0 {
		page = pages[0]
	} else if page, err = bctx.NewPage(); err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(float64(d.timeout.Milliseconds()))

	return &cdpConnection{browser: browser, page: &playwrightPage{page: page, timeout: d.timeout}}, nil
}
