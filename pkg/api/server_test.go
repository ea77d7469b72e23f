package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/webpilot/pkg/agent"
	"github.com/entrhq/webpilot/pkg/decision"
	"github.com/entrhq/webpilot/pkg/executor"
	"github.com/entrhq/webpilot/pkg/llm"
	"github.com/entrhq/webpilot/pkg/session"
	"github.com/entrhq/webpilot/pkg/types"
)

// scriptProvider answers decision requests from a script, then repeats
// fallback. When gate is set every call waits for it to close.
type scriptProvider struct {
	mu       sync.Mutex
	script   []string
	fallback string
	entered  chan struct{}
	gate     chan struct{}
}

func (p *scriptProvider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if p.entered != nil {
		select {
		case p.entered <- struct{}{}:
		default:
		}
	}
	if p.gate != nil {
		<-p.gate
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	content := p.fallback
	if len(p.script) > 0 {
		content, p.script = p.script[0], p.script[1:]
	}
	if content == "" {
		return nil, errors.New("script exhausted")
	}
	return &llm.Response{Content: content, FinishReason: "stop"}, nil
}

func (p *scriptProvider) GetModelInfo() *types.ModelInfo { return &types.ModelInfo{Name: "script"} }
func (p *scriptProvider) GetModel() string               { return "script" }

// stubAutomation is an in-memory browser whose pages all read "Example Domain".
type stubAutomation struct{}

func (stubAutomation) Navigate(ctx context.Context, id, url string, timeout time.Duration) error {
	return nil
}
func (stubAutomation) Act(ctx context.Context, id, instruction string) error { return nil }
func (stubAutomation) Extract(ctx context.Context, id, query string) (string, error) {
	return "Example Domain", nil
}
func (stubAutomation) Observe(ctx context.Context, id, hint string) ([]types.ObservedAction, error) {
	return nil, nil
}
func (stubAutomation) Screenshot(ctx context.Context, id string) ([]byte, error) {
	return []byte("png"), nil
}
func (stubAutomation) GoBack(ctx context.Context, id string) error { return nil }

type countingProvider struct {
	next       atomic.Int64
	mu         sync.Mutex
	releases   map[string]int
	releaseErr error
}

func (p *countingProvider) Create(ctx context.Context) (*session.Info, error) {
	id := fmt.Sprintf("sess-%d", p.next.Add(1))
	return &session.Info{ID: id, ConnectURL: p.ConnectURL(id), LiveURL: "https://debug/" + id}, nil
}

func (p *countingProvider) DebugURL(ctx context.Context, id string) (string, error) {
	return "https://debug/" + id, nil
}

func (p *countingProvider) Release(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releases[id]++
	return p.releaseErr
}

func (p *countingProvider) ConnectURL(id string) string { return "wss://connect/" + id }
func (p *countingProvider) ViewURL(id string) string    { return "https://live/" + id }

func (p *countingProvider) released(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.releases[id]
}

func decide(tool types.ToolKind, instruction string) string {
	return fmt.Sprintf(`{"text":"%s step","reasoning":"because","tool":"%s","instruction":"%s"}`, tool, tool, instruction)
}

var (
	navigateExample = decide(types.ToolNavigate, "https://example.com")
	extractTitle    = decide(types.ToolExtract, "page title")
	closeRun        = decide(types.ToolClose, "")
	waitZero        = decide(types.ToolWait, "0")
)

type testServer struct {
	*httptest.Server
	sessions *countingProvider
	api      *Server
}

func newTestServer(t *testing.T, p *scriptProvider, opts ...agent.LoopOption) *testServer {
	t.Helper()
	sessions := &countingProvider{releases: map[string]int{}}
	exec := executor.New(stubAutomation{})
	decider, err := decision.NewClient(p, decision.WithBackoff(0), decision.WithSnapshotter(exec))
	require.NoError(t, err)

	gateway := session.NewGateway(sessions)
	srv := NewServer(ServerConfig{
		Loop:      agent.NewLoop(decider, exec, gateway, opts...),
		Sessions:  gateway,
		Heartbeat: time.Hour,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, sessions: sessions, api: srv}
}

func (ts *testServer) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader(string(data)))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestCreateAndReleaseSession(t *testing.T) {
	ts := newTestServer(t, &scriptProvider{})

	resp := ts.post(t, "/api/session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	created := decodeBody[sessionResponse](t, resp)
	assert.True(t, created.Success)
	assert.Equal(t, "sess-1", created.SessionID)
	assert.Equal(t, "https://debug/sess-1", created.SessionURL)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/session/sess-1", nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer del.Body.Close()
	assert.Equal(t, http.StatusOK, del.StatusCode)
	assert.Equal(t, 1, ts.sessions.released("sess-1"))
}

func TestReleaseSession_ProviderFailure(t *testing.T) {
	ts := newTestServer(t, &scriptProvider{})
	ts.sessions.releaseErr = errors.New("gone")

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/session/sess-9", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	failure := decodeBody[failureResponse](t, resp)
	assert.False(t, failure.Success)
	assert.Equal(t, types.KindTransport, failure.Kind)
}

func TestAgentStep_InteractiveProtocol(t *testing.T) {
	ts := newTestServer(t, &scriptProvider{script: []string{navigateExample, extractTitle, closeRun}})

	first := decodeBody[agentResponse](t, ts.post(t, "/api/agent", agentRequest{Goal: "read the title"}))
	require.True(t, first.Success)
	assert.Equal(t, types.ToolNavigate, first.Result.Tool)
	assert.Equal(t, "sess-1", first.SessionID)
	assert.Equal(t, "https://debug/sess-1", first.SessionURL)
	assert.False(t, first.Done)
	require.Len(t, first.Steps, 1)
	assert.Equal(t, 1, first.Steps[0].Ordinal)

	second := decodeBody[agentResponse](t, ts.post(t, "/api/agent", agentRequest{
		Goal:          "read the title",
		SessionID:     first.SessionID,
		PreviousSteps: first.Steps,
	}))
	require.True(t, second.Success)
	assert.Equal(t, types.ToolExtract, second.Result.Tool)
	require.NotNil(t, second.Extraction)
	assert.Equal(t, "Example Domain", second.Extraction.Text)
	require.Len(t, second.Steps, 2)

	third := decodeBody[agentResponse](t, ts.post(t, "/api/agent", agentRequest{
		Goal:               "read the title",
		SessionID:          second.SessionID,
		PreviousSteps:      second.Steps,
		PreviousExtraction: second.Extraction,
	}))
	require.True(t, third.Success)
	assert.True(t, third.Done)
	assert.Equal(t, types.ToolClose, third.Result.Tool)
	assert.Equal(t, []int{1, 2, 3}, []int{third.Steps[0].Ordinal, third.Steps[1].Ordinal, third.Steps[2].Ordinal})
	assert.Equal(t, 1, ts.sessions.released("sess-1"))
}

func TestAgentStep_MissingGoal(t *testing.T) {
	ts := newTestServer(t, &scriptProvider{})

	resp := ts.post(t, "/api/agent", agentRequest{Goal: "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	failure := decodeBody[failureResponse](t, resp)
	assert.Equal(t, "goal is required", failure.Error)
	assert.Equal(t, int64(0), ts.sessions.next.Load(), "no session is opened")
}

func TestAgentStep_MalformedBody(t *testing.T) {
	ts := newTestServer(t, &scriptProvider{})

	resp, err := http.Post(ts.URL+"/api/agent", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAgentStep_FailureCarriesHistory(t *testing.T) {
	ts := newTestServer(t, &scriptProvider{script: []string{
		navigateExample,
		`{"text":"","reasoning":"","tool":"SCROLL","instruction":"down"}`,
	}})

	first := decodeBody[agentResponse](t, ts.post(t, "/api/agent", agentRequest{Goal: "scroll"}))
	require.True(t, first.Success)

	resp := ts.post(t, "/api/agent", agentRequest{
		Goal:          "scroll",
		SessionID:     first.SessionID,
		PreviousSteps: first.Steps,
	})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	failure := decodeBody[failureResponse](t, resp)
	assert.False(t, failure.Success)
	assert.Equal(t, types.KindSchemaViolation, failure.Kind)
	assert.Equal(t, first.SessionID, failure.SessionID)
	assert.Equal(t, first.Steps, failure.Steps)
	assert.Equal(t, 1, ts.sessions.released(first.SessionID))
}

func TestAgentStep_InvalidHistory(t *testing.T) {
	ts := newTestServer(t, &scriptProvider{fallback: closeRun})

	resp := ts.post(t, "/api/agent", agentRequest{
		Goal:          "anything",
		SessionID:     "sess-7",
		PreviousSteps: []types.Step{{Ordinal: 2, Tool: types.ToolWait}},
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	failure := decodeBody[failureResponse](t, resp)
	assert.Equal(t, types.KindInvalidState, failure.Kind)
	assert.Len(t, failure.Steps, 1)
	assert.Equal(t, 0, ts.sessions.released("sess-7"), "the caller still owns the session")
}

func TestAgentStep_CompletedRunIsConflict(t *testing.T) {
	ts := newTestServer(t, &scriptProvider{script: []string{navigateExample, closeRun}, fallback: navigateExample})

	first := decodeBody[agentResponse](t, ts.post(t, "/api/agent", agentRequest{Goal: "open example.com"}))
	require.True(t, first.Success)
	done := decodeBody[agentResponse](t, ts.post(t, "/api/agent", agentRequest{
		Goal:          "open example.com",
		SessionID:     first.SessionID,
		PreviousSteps: first.Steps,
	}))
	require.True(t, done.Done)
	require.Equal(t, 1, ts.sessions.released("sess-1"))

	resp := ts.post(t, "/api/agent", agentRequest{
		Goal:          "open example.com",
		SessionID:     done.SessionID,
		PreviousSteps: done.Steps,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	failure := decodeBody[failureResponse](t, resp)
	assert.False(t, failure.Success)
	assert.Equal(t, types.KindInvalidState, failure.Kind)
	assert.Len(t, failure.Steps, 2)
	assert.Equal(t, 1, ts.sessions.released("sess-1"), "a completed run is not released twice")
}

func readEvents(t *testing.T, resp *http.Response) []*types.RunEvent {
	t.Helper()
	var events []*types.RunEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var ev types.RunEvent
		require.NoError(t, json.Unmarshal([]byte(line), &ev))
		if ev.Type == types.EventTypeHeartbeat {
			continue
		}
		events = append(events, &ev)
	}
	require.NoError(t, scanner.Err())
	return events
}

func eventTypes(events []*types.RunEvent) []types.RunEventType {
	out := make([]types.RunEventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestStream_Get(t *testing.T) {
	ts := newTestServer(t, &scriptProvider{script: []string{navigateExample, closeRun}})

	resp, err := http.Get(ts.URL + "/api/agent/start?goal=open+example.com")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readEvents(t, resp)
	assert.Equal(t, []types.RunEventType{
		types.EventTypeSession, types.EventTypeStep, types.EventTypeStep, types.EventTypeDone,
	}, eventTypes(events))
	assert.Equal(t, "https://debug/sess-1", events[0].SessionURL)
	assert.Equal(t, 2, events[2].Step.Ordinal)
	assert.Equal(t, types.RunStatusCompleted, events[3].Status)
	assert.Equal(t, 1, ts.sessions.released("sess-1"))
	assert.Equal(t, 0, ts.api.runs.len())
}

func TestStream_PostBudgetExceeded(t *testing.T) {
	ts := newTestServer(t, &scriptProvider{fallback: waitZero}, agent.WithMaxSteps(2))

	resp := ts.post(t, "/api/agent/start", agentRequest{Goal: "never done"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := readEvents(t, resp)
	require.Len(t, events, 4)
	last := events[3]
	assert.Equal(t, types.EventTypeError, last.Type)
	assert.Equal(t, types.KindStepBudgetExceeded, last.ErrorKind)
	assert.Equal(t, 1, ts.sessions.released("sess-1"))
}

func TestStream_MissingGoal(t *testing.T) {
	ts := newTestServer(t, &scriptProvider{})

	resp, err := http.Get(ts.URL + "/api/agent/start")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBatchRun(t *testing.T) {
	ts := newTestServer(t, &scriptProvider{script: []string{navigateExample, extractTitle, closeRun}})

	resp := ts.post(t, "/api/agent/run", agentRequest{Goal: "read the title"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	run := decodeBody[runResponse](t, resp)
	assert.True(t, run.Success)
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, types.RunStatusCompleted, run.Status)
	assert.Len(t, run.Steps, 3)
	assert.Empty(t, run.Kind)
}

func TestBatchRun_BudgetExceeded(t *testing.T) {
	ts := newTestServer(t, &scriptProvider{fallback: waitZero}, agent.WithMaxSteps(3))

	resp := ts.post(t, "/api/agent/run", agentRequest{Goal: "never done"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	run := decodeBody[runResponse](t, resp)
	assert.False(t, run.Success)
	assert.Equal(t, types.RunStatusFailed, run.Status)
	assert.Equal(t, types.KindStepBudgetExceeded, run.Kind)
	assert.Len(t, run.Steps, 3)
}

func TestCancelRun(t *testing.T) {
	p := &scriptProvider{
		fallback: waitZero,
		entered:  make(chan struct{}, 1),
		gate:     make(chan struct{}),
	}
	ts := newTestServer(t, p)

	results := make(chan *http.Response, 1)
	go func() {
		resp, err := http.Post(ts.URL+"/api/agent/run", "application/json", strings.NewReader(`{"goal":"wait"}`))
		if err != nil {
			close(results)
			return
		}
		results <- resp
	}()

	<-p.entered

	listResp, err := http.Get(ts.URL + "/api/runs")
	require.NoError(t, err)
	defer listResp.Body.Close()
	list := decodeBody[struct {
		Runs []runInfo `json:"runs"`
	}](t, listResp)
	require.Len(t, list.Runs, 1)
	assert.Equal(t, "batch", list.Runs[0].Mode)

	cancel := ts.post(t, "/api/runs/"+list.Runs[0].ID+"/cancel", nil)
	assert.Equal(t, http.StatusAccepted, cancel.StatusCode)
	close(p.gate)

	resp, ok := <-results
	require.True(t, ok)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	run := decodeBody[runResponse](t, resp)
	assert.Equal(t, types.KindCancelled, run.Kind)
	assert.Len(t, run.Steps, 1, "the in-flight step completes")
	assert.Equal(t, 1, ts.sessions.released(run.SessionID))
}

func TestCancelRun_Unknown(t *testing.T) {
	ts := newTestServer(t, &scriptProvider{})

	resp := ts.post(t, "/api/runs/nope/cancel", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	srv := NewServer(ServerConfig{AllowedOrigin: "https://app.example"})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/agent", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS, DELETE", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"))
}

func TestHealthAndMetrics(t *testing.T) {
	srv := NewServer(ServerConfig{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "webpilot_runs_started_total")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind types.ErrorKind
		want int
	}{
		{types.KindInvalidState, http.StatusConflict},
		{types.KindStepBudgetExceeded, http.StatusUnprocessableEntity},
		{types.KindTransport, http.StatusBadGateway},
		{types.KindSchemaViolation, http.StatusBadGateway},
		{types.KindActionExecution, http.StatusInternalServerError},
		{types.KindCancelled, http.StatusServiceUnavailable},
		{"", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.kind), string(tt.kind))
	}
}
