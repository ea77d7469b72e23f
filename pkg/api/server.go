// Package api exposes the agent loop over HTTP: session management, the
// interactive one-step protocol, streamed runs over server-sent events and
// blocking batch runs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/entrhq/webpilot/pkg/agent"
	"github.com/entrhq/webpilot/pkg/logging"
	"github.com/entrhq/webpilot/pkg/metrics"
	"github.com/entrhq/webpilot/pkg/session"
	"github.com/entrhq/webpilot/pkg/types"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("api")
	if err != nil {
		// Logger fell back to stderr due to initialization failure
		debugLog.Warnf("Failed to initialize api logger, using stderr fallback: %v", err)
	}
}

const (
	maxBodyBytes     = 1 << 20
	defaultHeartbeat = 30 * time.Second
)

// Sessions creates and releases browser sessions on behalf of clients.
type Sessions interface {
	Open(ctx context.Context) (*session.Lease, error)
	Release(ctx context.Context, id string) error
}

// ServerConfig configures the API server.
type ServerConfig struct {
	// Address to listen on (default: :3001)
	Address string

	// AllowedOrigin is sent as Access-Control-Allow-Origin (default: *)
	AllowedOrigin string

	// Heartbeat is the idle interval between keep-alive events on streams
	Heartbeat time.Duration

	// Loop drives runs
	Loop *agent.Loop

	// Sessions is used by the session endpoints
	Sessions Sessions
}

// Server is the webpilot HTTP server.
type Server struct {
	cfg        ServerConfig
	loop       *agent.Loop
	sessions   Sessions
	runs       *runRegistry
	router     chi.Router
	httpServer *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Address == "" {
		cfg.Address = ":3001"
	}
	if cfg.AllowedOrigin == "" {
		cfg.AllowedOrigin = "*"
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = defaultHeartbeat
	}

	s := &Server{
		cfg:      cfg,
		loop:     cfg.Loop,
		sessions: cfg.Sessions,
		runs:     newRunRegistry(),
	}
	s.router = s.routes()

	// Streams and batch runs lift their own write deadline.
	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(withLogging)
	r.Use(withCORS(s.cfg.AllowedOrigin))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/session", s.handleCreateSession)
		r.Delete("/session/{id}", s.handleReleaseSession)

		r.Post("/agent", s.handleAgentStep)
		r.Get("/agent/start", s.handleStream)
		r.Post("/agent/start", s.handleStream)
		r.Post("/agent/run", s.handleBatchRun)

		r.Get("/runs", s.handleListRuns)
		r.Post("/runs/{id}/cancel", s.handleCancelRun)
	})
	return r
}

// Handler returns the server's router, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	debugLog.Infof("API server listening on %s", s.cfg.Address)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown cancels active runs and gracefully stops the server. Runs stop
// after their in-flight step, so ctx should allow for one step.
func (s *Server) Shutdown(ctx context.Context) error {
	if n := s.runs.cancelAll(); n > 0 {
		debugLog.Infof("Cancelled %d active runs for shutdown", n)
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"runs":   s.runs.len(),
	})
}

// runInfo describes an active streamed or batch run.
type runInfo struct {
	ID        string     `json:"runId"`
	SessionID string     `json:"sessionId"`
	Goal      types.Goal `json:"goal"`
	Mode      string     `json:"mode"`
	StartedAt time.Time  `json:"startedAt"`

	cancel context.CancelFunc
}

type runRegistry struct {
	mu   sync.Mutex
	runs map[string]*runInfo
}

func newRunRegistry() *runRegistry {
	return &runRegistry{runs: make(map[string]*runInfo)}
}

func (r *runRegistry) add(info *runInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[info.ID] = info
}

func (r *runRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, id)
}

func (r *runRegistry) cancel(id string) bool {
	r.mu.Lock()
	info, ok := r.runs[id]
	r.mu.Unlock()
	if ok {
		info.cancel()
	}
	return ok
}

func (r *runRegistry) cancelAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, info := range r.runs {
		info.cancel()
	}
	return len(r.runs)
}

func (r *runRegistry) list() []runInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]runInfo, 0, len(r.runs))
	for _, info := range r.runs {
		out = append(out, *info)
	}
	return out
}

func (r *runRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

// Middleware
func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		debugLog.Infof("%s %s %d %v", r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}

func withCORS(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Helpers
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		debugLog.Warnf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, failureResponse{Error: message, Steps: []types.Step{}})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("invalid request body: " + err.Error())
	}
	return nil
}

// statusFor maps a run failure to an HTTP status.
func statusFor(kind types.ErrorKind) int {
	switch kind {
	case types.KindInvalidState:
		return http.StatusConflict
	case types.KindStepBudgetExceeded:
		return http.StatusUnprocessableEntity
	case types.KindTransport, types.KindSchemaViolation:
		return http.StatusBadGateway
	case types.KindCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
