package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/entrhq/webpilot/pkg/agent"
	"github.com/entrhq/webpilot/pkg/types"
)

type sessionResponse struct {
	Success    bool   `json:"success"`
	SessionID  string `json:"sessionId"`
	SessionURL string `json:"sessionUrl,omitempty"`
}

// agentRequest is the interactive protocol body. The client carries the
// run's history between calls.
type agentRequest struct {
	Goal               string            `json:"goal"`
	SessionID          string            `json:"sessionId,omitempty"`
	PreviousSteps      []types.Step      `json:"previousSteps,omitempty"`
	PreviousExtraction *types.Extraction `json:"previousExtraction,omitempty"`
}

type agentResponse struct {
	Success    bool              `json:"success"`
	Result     types.Decision    `json:"result"`
	SessionID  string            `json:"sessionId"`
	SessionURL string            `json:"sessionUrl"`
	Steps      []types.Step      `json:"steps"`
	Extraction *types.Extraction `json:"extraction,omitempty"`
	Done       bool              `json:"done"`
}

type runResponse struct {
	Success    bool              `json:"success"`
	RunID      string            `json:"runId"`
	SessionID  string            `json:"sessionId"`
	SessionURL string            `json:"sessionUrl"`
	Status     types.RunStatus   `json:"status"`
	Steps      []types.Step      `json:"steps"`
	Extraction *types.Extraction `json:"extraction,omitempty"`
	Error      string            `json:"error,omitempty"`
	Kind       types.ErrorKind   `json:"kind,omitempty"`
}

// failureResponse carries the last successful history alongside the error.
type failureResponse struct {
	Success   bool            `json:"success"`
	Error     string          `json:"error"`
	Kind      types.ErrorKind `json:"kind,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Steps     []types.Step    `json:"steps"`
}

func writeFailure(w http.ResponseWriter, err error, sessionID string, steps []types.Step) {
	if steps == nil {
		steps = []types.Step{}
	}
	kind := types.KindOf(err)
	writeJSON(w, statusFor(kind), failureResponse{
		Error:     err.Error(),
		Kind:      kind,
		SessionID: sessionID,
		Steps:     steps,
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	lease, err := s.sessions.Open(r.Context())
	if err != nil {
		writeFailure(w, err, "", nil)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		Success:    true,
		SessionID:  lease.ID,
		SessionURL: lease.LiveURL,
	})
}

func (s *Server) handleReleaseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sessions.Release(r.Context(), id); err != nil {
		writeFailure(w, types.NewTransportError("session.release", err), id, nil)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Success: true, SessionID: id})
}

// handleAgentStep performs one step of an interactive run. Without a
// sessionId a new session is opened first.
func (s *Server) handleAgentStep(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	goal := types.Goal(strings.TrimSpace(req.Goal))
	if goal == "" {
		writeError(w, http.StatusBadRequest, "goal is required")
		return
	}

	// A step in flight finishes even if the client goes away.
	ctx := context.WithoutCancel(r.Context())

	var (
		st  *agent.RunState
		err error
	)
	if req.SessionID == "" {
		st, err = s.loop.Start(ctx, goal)
	} else {
		st, err = s.loop.Resume(req.SessionID, goal, req.PreviousSteps, req.PreviousExtraction)
	}
	if err != nil {
		writeFailure(w, err, req.SessionID, req.PreviousSteps)
		return
	}

	step, err := s.loop.Advance(ctx, st)
	if err != nil {
		writeFailure(w, err, st.SessionID, st.Steps())
		return
	}

	writeJSON(w, http.StatusOK, agentResponse{
		Success:    true,
		Result:     step.Decision(),
		SessionID:  st.SessionID,
		SessionURL: st.LiveURL,
		Steps:      st.Steps(),
		Extraction: step.Extraction,
		Done:       st.Status == types.RunStatusCompleted,
	})
}

// goalFrom reads the goal from the query string or, for POST, the body.
func goalFrom(w http.ResponseWriter, r *http.Request) (types.Goal, error) {
	goal := r.URL.Query().Get("goal")
	if r.Method == http.MethodPost && goal == "" {
		var req agentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			return "", err
		}
		goal = req.Goal
	}
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return "", fmt.Errorf("goal is required")
	}
	return types.Goal(goal), nil
}

// startTracked opens a run whose context is cancellable through the run
// registry. The returned cleanup must be called when the run ends.
func (s *Server) startTracked(r *http.Request, goal types.Goal, mode string) (context.Context, *agent.RunState, func(), error) {
	ctx, cancel := context.WithCancel(r.Context())
	st, err := s.loop.Start(ctx, goal)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	s.runs.add(&runInfo{
		ID:        st.ID,
		SessionID: st.SessionID,
		Goal:      goal,
		Mode:      mode,
		StartedAt: time.Now(),
		cancel:    cancel,
	})
	return ctx, st, func() {
		s.runs.remove(st.ID)
		cancel()
	}, nil
}

// handleStream runs a goal to completion, reporting progress as
// server-sent events.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	goal, err := goalFrom(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx, st, done, err := s.startTracked(r, goal, "stream")
	if err != nil {
		writeFailure(w, err, "", nil)
		return
	}
	defer done()

	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		debugLog.Debugf("Could not lift write deadline for run %s: %v", st.ID, err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := s.loop.Stream(ctx, st)

	ticker := time.NewTicker(s.cfg.Heartbeat)
	defer ticker.Stop()

	// The event channel always closes once the run ends, so drain it even
	// after the client has gone.
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				debugLog.Debugf("Stream client for run %s gone: %v", st.ID, err)
				done()
				continue
			}
			flusher.Flush()

		case <-ticker.C:
			if err := writeEvent(w, types.NewHeartbeatEvent()); err == nil {
				flusher.Flush()
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, ev *types.RunEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// handleBatchRun runs a goal to completion and returns the final state.
func (s *Server) handleBatchRun(w http.ResponseWriter, r *http.Request) {
	goal, err := goalFrom(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, st, done, err := s.startTracked(r, goal, "batch")
	if err != nil {
		writeFailure(w, err, "", nil)
		return
	}
	defer done()

	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		debugLog.Debugf("Could not lift write deadline for run %s: %v", st.ID, err)
	}

	runErr := s.loop.Run(ctx, st, nil)

	resp := runResponse{
		Success:    runErr == nil,
		RunID:      st.ID,
		SessionID:  st.SessionID,
		SessionURL: st.LiveURL,
		Status:     st.Status,
		Steps:      st.Steps(),
		Extraction: st.LastExtraction,
	}
	status := http.StatusOK
	if runErr != nil {
		resp.Error = runErr.Error()
		resp.Kind = types.KindOf(runErr)
		status = statusFor(resp.Kind)
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"runs": s.runs.list()})
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.runs.cancel(id) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	debugLog.Infof("Cancellation requested for run %s", id)
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "runId": id})
}
