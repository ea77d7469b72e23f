package main

import (
	"fmt"

	"golang.org/x/time/rate"

	"github.com/entrhq/webpilot/pkg/agent"
	"github.com/entrhq/webpilot/pkg/browser"
	"github.com/entrhq/webpilot/pkg/config"
	"github.com/entrhq/webpilot/pkg/decision"
	"github.com/entrhq/webpilot/pkg/executor"
	"github.com/entrhq/webpilot/pkg/llm/openai"
	"github.com/entrhq/webpilot/pkg/llm/tokenizer"
	"github.com/entrhq/webpilot/pkg/logging"
	"github.com/entrhq/webpilot/pkg/metrics"
	"github.com/entrhq/webpilot/pkg/session"
	"github.com/entrhq/webpilot/pkg/session/browserbase"
)

var appLog *logging.Logger

func init() {
	var err error
	appLog, err = logging.NewLogger("main")
	if err != nil {
		// Logger fell back to stderr due to initialization failure
		appLog.Warnf("Failed to initialize main logger, using stderr fallback: %v", err)
	}
}

// app is the wired process: sessions, browser automation and the loop.
type app struct {
	gateway *session.Gateway
	driver  *browser.Driver
	loop    *agent.Loop
}

// newGateway builds the session gateway. hooks run in order on open and
// close, after the metrics hook.
func newGateway(cfg *config.Config, hooks ...session.Hook) (*session.Gateway, error) {
	bb, err := browserbase.NewClient(cfg.Browserbase.APIKey, cfg.Browserbase.ProjectID,
		browserbase.WithBaseURL(cfg.Browserbase.BaseURL),
		browserbase.WithContextID(cfg.Browserbase.ContextID),
		browserbase.WithKeepAlive(cfg.Browserbase.KeepAlive),
		browserbase.WithConnectURL(cfg.Browserbase.ConnectURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create browserbase client: %w", err)
	}

	opts := []session.GatewayOption{session.WithHook(metrics.SessionHook{})}
	for _, h := range hooks {
		opts = append(opts, session.WithHook(h))
	}
	return session.NewGateway(bb, opts...), nil
}

// newApp wires every component from cfg. Close must be called to stop the
// browser driver.
func newApp(cfg *config.Config, install bool) (*app, error) {
	if err := cfg.RequireCredentials(); err != nil {
		return nil, err
	}

	provider, err := openai.NewProvider(cfg.LLM.APIKey,
		openai.WithModel(cfg.LLM.Model),
		openai.WithBaseURL(cfg.LLM.BaseURL),
		openai.WithTimeout(cfg.LLM.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.LLM.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.LLM.RequestsPerSecond), 1)
	}

	driver := browser.NewDriver(browser.WithInstall(install))
	if err := driver.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to start browser driver: %w", err)
	}

	gateway, err := newGateway(cfg, driver)
	if err != nil {
		shutdownDriver(driver)
		return nil, err
	}

	automation, err := browser.NewAutomation(driver, provider,
		browser.WithTokenizer(tokenizer.New("")),
		browser.WithPageTokenBudget(cfg.Agent.PageTokenBudget),
		browser.WithModelLimiter(limiter),
	)
	if err != nil {
		shutdownDriver(driver)
		return nil, err
	}

	exec := executor.New(automation,
		executor.WithNavigationTimeout(cfg.Agent.NavigationTimeout),
		executor.WithMaxWait(cfg.Agent.MaxWait),
		executor.WithAllowedHosts(cfg.AllowedHosts()),
	)

	decider, err := decision.NewClient(provider,
		decision.WithSnapshotter(exec),
		decision.WithMaxRetries(cfg.LLM.MaxRetries),
		decision.WithLimiter(limiter),
	)
	if err != nil {
		shutdownDriver(driver)
		return nil, err
	}

	loop := agent.NewLoop(decider, exec, gateway,
		agent.WithMaxSteps(cfg.Agent.MaxSteps),
		agent.WithObserver(metrics.Observer{}),
	)

	appLog.Infof("Wired model %s, max %d steps", provider.GetModel(), loop.MaxSteps())
	return &app{gateway: gateway, driver: driver, loop: loop}, nil
}

// Close disconnects every attached session and stops the driver.
func (a *app) Close() {
	shutdownDriver(a.driver)
}

func shutdownDriver(d *browser.Driver) {
	if err := d.Shutdown(); err != nil {
		appLog.Warnf("Browser driver shutdown: %v", err)
	}
}
