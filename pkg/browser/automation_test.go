package browser

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/webpilot/pkg/llm"
	"github.com/entrhq/webpilot/pkg/llm/tokenizer"
	"github.com/entrhq/webpilot/pkg/session"
	"github.com/entrhq/webpilot/pkg/types"
)

type performed struct {
	selector string
	method   Method
	argument string
}

type fakePage struct {
	mu        sync.Mutex
	url       string
	content   string
	gotoURL   string
	timeout   time.Duration
	back      int
	performed []performed
}

func (p *fakePage) Goto(url string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gotoURL, p.url, p.timeout = url, url, timeout
	return nil
}

func (p *fakePage) GoBack(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.back++
	return nil
}

func (p *fakePage) Screenshot() ([]byte, error) { return []byte("png"), nil }

func (p *fakePage) Content() (string, error) { return p.content, nil }

func (p *fakePage) URL() string { return p.url }

func (p *fakePage) Perform(selector string, method Method, argument string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.performed = append(p.performed, performed{selector, method, argument})
	return nil
}

type fakeConn struct {
	page   *fakePage
	closed int
}

func (c *fakeConn) Page() Page   { return c.page }
func (c *fakeConn) Close() error { c.closed++; return nil }

type fakeDialer struct {
	mu    sync.Mutex
	dials []string
	conns []*fakeConn
	page  *fakePage
	err   error
}

func (d *fakeDialer) dial(ctx context.Context, connectURL string) (Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, connectURL)
	if d.err != nil {
		return nil, d.err
	}
	c := &fakeConn{page: d.page}
	d.conns = append(d.conns, c)
	return c, nil
}

type cannedProvider struct {
	mu       sync.Mutex
	content  string
	requests []*llm.Request
}

func (p *cannedProvider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	return &llm.Response{Content: p.content, FinishReason: "stop"}, nil
}

func (p *cannedProvider) GetModelInfo() *types.ModelInfo { return &types.ModelInfo{Name: "fake"} }
func (p *cannedProvider) GetModel() string               { return "fake" }

func (p *cannedProvider) lastPrompt(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, p.requests)
	req := p.requests[len(p.requests)-1]
	require.Len(t, req.Messages, 2)
	return req.Messages[1].Text()
}

func setupAutomation(t *testing.T, content, reply string) (*Automation, *fakeDialer, *cannedProvider) {
	t.Helper()
	dialer := &fakeDialer{page: &fakePage{url: "https://example.com/", content: content}}
	driver := NewDriver(WithDialer(dialer.dial))
	driver.Opened(&session.Info{ID: "sess-1", ConnectURL: "wss://connect/sess-1"})

	provider := &cannedProvider{content: reply}
	a, err := NewAutomation(driver, provider, WithTokenizer(tokenizer.NewEstimator()))
	require.NoError(t, err)
	return a, dialer, provider
}

const examplePage = `<html><head><title>Example Domain</title></head><body>
	<h1>Example Domain</h1>
	<p>This domain is for use in illustrative examples in documents.</p>
	<input name="q" placeholder="Search">
	<a href="https://www.iana.org/domains/example">More information...</a>
</body></html>`

func TestAutomation_NavigateUsesTimeoutAndDialsOnce(t *testing.T) {
	a, dialer, _ := setupAutomation(t, examplePage, "")

	require.NoError(t, a.Navigate(context.Background(), "sess-1", "https://example.com", 60*time.Second))
	require.NoError(t, a.GoBack(context.Background(), "sess-1"))
	img, err := a.Screenshot(context.Background(), "sess-1")
	require.NoError(t, err)

	assert.Equal(t, []byte("png"), img)
	assert.Equal(t, "https://example.com", dialer.page.gotoURL)
	assert.Equal(t, 60*time.Second, dialer.page.timeout)
	assert.Equal(t, 1, dialer.page.back)
	assert.Equal(t, []string{"wss://connect/sess-1"}, dialer.dials)
}

func TestAutomation_NavigateRespectsDeadline(t *testing.T) {
	a, dialer, _ := setupAutomation(t, examplePage, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Navigate(ctx, "sess-1", "https://example.com", time.Minute))
	assert.LessOrEqual(t, dialer.page.timeout, 5*time.Second)
}

func TestAutomation_Act(t *testing.T) {
	a, dialer, provider := setupAutomation(t, examplePage,
		`{"index":0,"method":"fill","argument":"golang"}`)

	require.NoError(t, a.Act(context.Background(), "sess-1", "type golang into the search box"))

	require.Len(t, dialer.page.performed, 1)
	assert.Equal(t, performed{`input[name="q"]`, MethodFill, "golang"}, dialer.page.performed[0])

	prompt := provider.lastPrompt(t)
	assert.Contains(t, prompt, "Instruction: type golang into the search box")
	assert.Contains(t, prompt, "[0] <input> Search")
	assert.Contains(t, prompt, "[1] <a> More information...")
	assert.True(t, provider.requests[0].Schema.Strict)
	assert.Equal(t, "page_act", provider.requests[0].Schema.Name)
}

func TestAutomation_ActNoMatch(t *testing.T) {
	for _, reply := range []string{
		`{"index":-1,"method":"click","argument":""}`,
		`{"index":7,"method":"click","argument":""}`,
		`{"index":0,"method":"hover","argument":""}`,
		`{"index":0,"method":"click"}`,
		`click the link`,
	} {
		a, dialer, _ := setupAutomation(t, examplePage, reply)
		err := a.Act(context.Background(), "sess-1", "click the login button")
		assert.Error(t, err, reply)
		assert.Empty(t, dialer.page.performed, reply)
	}
}

func TestAutomation_Extract(t *testing.T) {
	a, _, provider := setupAutomation(t, examplePage, `{"extraction":" Example Domain "}`)

	text, err := a.Extract(context.Background(), "sess-1", "the page heading")
	require.NoError(t, err)
	assert.Equal(t, "Example Domain", text)

	prompt := provider.lastPrompt(t)
	assert.Contains(t, prompt, "Extraction request: the page heading")
	assert.Contains(t, prompt, "URL: https://example.com/")
	assert.Contains(t, prompt, "Title: Example Domain")
	assert.Contains(t, prompt, "illustrative examples")
	assert.NotContains(t, prompt, "<h1>")
}

func TestAutomation_ExtractTruncatesPage(t *testing.T) {
	long := "<html><body><p>"
	for i := 0; i < 2000; i++ {
		long += "word "
	}
	long += "</p></body></html>"

	a, _, provider := setupAutomation(t, long, `{"extraction":"ok"}`)
	a.budget = 50

	_, err := a.Extract(context.Background(), "sess-1", "anything")
	require.NoError(t, err)
	prompt := provider.lastPrompt(t)
	assert.Contains(t, prompt, "[truncated]")
	assert.Less(t, len(prompt), 1000)
}

func TestAutomation_Observe(t *testing.T) {
	a, _, provider := setupAutomation(t, examplePage,
		`{"actions":[{"index":1,"description":"Open the IANA page"},{"index":9,"description":"bogus"},{"index":1,"description":"dup"}]}`)

	actions, err := a.Observe(context.Background(), "sess-1", "")
	require.NoError(t, err)
	assert.Equal(t, []types.ObservedAction{
		{Description: "Open the IANA page", Selector: `a[href="https://www.iana.org/domains/example"]`},
	}, actions)
	assert.Contains(t, provider.lastPrompt(t), "Focus: "+defaultObserveFocus)
}

func TestAutomation_ObserveEmptyPage(t *testing.T) {
	a, _, provider := setupAutomation(t, "<html><body><p>nothing</p></body></html>", "")

	actions, err := a.Observe(context.Background(), "sess-1", "buttons")
	require.NoError(t, err)
	assert.NotNil(t, actions)
	assert.Empty(t, actions)
	assert.Empty(t, provider.requests)
}

func TestDriver_UnknownSession(t *testing.T) {
	a, _, _ := setupAutomation(t, examplePage, "")
	err := a.Navigate(context.Background(), "other", "https://example.com", time.Second)
	assert.ErrorContains(t, err, "not attached")
}

func TestDriver_ClosedDisconnects(t *testing.T) {
	a, dialer, _ := setupAutomation(t, examplePage, "")
	ctx := context.Background()

	require.NoError(t, a.Navigate(ctx, "sess-1", "https://example.com", time.Second))
	require.NoError(t, a.driver.Closed(ctx, "sess-1"))
	require.NoError(t, a.driver.Closed(ctx, "sess-1"))

	require.Len(t, dialer.conns, 1)
	assert.Equal(t, 1, dialer.conns[0].closed)
	assert.False(t, a.driver.Attached("sess-1"))

	_, err := a.Screenshot(ctx, "sess-1")
	assert.Error(t, err)
}

func TestDriver_DialFailure(t *testing.T) {
	dialer := &fakeDialer{err: errors.New("connection refused")}
	driver := NewDriver(WithDialer(dialer.dial))
	driver.Opened(&session.Info{ID: "s", ConnectURL: "wss://x"})

	_, err := driver.Page(context.Background(), "s")
	assert.ErrorContains(t, err, "connection refused")

	// A later call dials again.
	_, err = driver.Page(context.Background(), "s")
	assert.Error(t, err)
	assert.Len(t, dialer.dials, 2)
}

func TestDriver_ConcurrentSessions(t *testing.T) {
	dialer := &fakeDialer{page: &fakePage{}}
	driver := NewDriver(WithDialer(dialer.dial))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		id := string(rune('a' + i))
		driver.Opened(&session.Info{ID: id, ConnectURL: "wss://" + id})
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := driver.Page(context.Background(), id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Len(t, dialer.dials, 20)
	require.NoError(t, driver.Shutdown())
	for _, c := range dialer.conns {
		assert.Equal(t, 1, c.closed)
	}
}

func TestDriver_NotInitialized(t *testing.T) {
	driver := NewDriver()
	driver.Opened(&session.Info{ID: "s", ConnectURL: "wss://x"})
	_, err := driver.Page(context.Background(), "s")
	assert.ErrorContains(t, err, "not initialized")
}
