package types

import "time"

// RunEventType defines the type of event emitted while a run progresses.
type RunEventType string

const (
	EventTypeSession   RunEventType = "session"   // EventTypeSession carries the session id and live view URL.
	EventTypeStep      RunEventType = "step"      // EventTypeStep carries one completed step.
	EventTypeDone      RunEventType = "done"      // EventTypeDone indicates the run completed via CLOSE.
	EventTypeError     RunEventType = "error"     // EventTypeError indicates the run failed.
	EventTypeHeartbeat RunEventType = "heartbeat" // EventTypeHeartbeat keeps idle stream connections open.
)

// RunEvent represents an event emitted by the agent loop or the stream transport.
type RunEvent struct {
	// Type indicates the kind of event.
	Type RunEventType `json:"type"`

	// RunID identifies the run the event belongs to.
	RunID string `json:"runId,omitempty"`

	// SessionID is the external session backing the run.
	SessionID string `json:"sessionId,omitempty"`

	// SessionURL is the live view URL (session events only).
	SessionURL string `json:"sessionUrl,omitempty"`

	// Step is the step that just completed (step events only).
	Step *Step `json:"step,omitempty"`

	// Status is the run status after the event.
	Status RunStatus `json:"status,omitempty"`

	// Error holds the failure message for error events.
	Error string `json:"error,omitempty"`

	// ErrorKind classifies the failure for error events.
	ErrorKind ErrorKind `json:"kind,omitempty"`

	// Timestamp is when the event was created.
	Timestamp time.Time `json:"timestamp"`
}

// NewSessionEvent creates a session event.
func NewSessionEvent(runID, sessionID, sessionURL string) *RunEvent {
	return &RunEvent{
		Type:       EventTypeSession,
		RunID:      runID,
		SessionID:  sessionID,
		SessionURL: sessionURL,
		Status:     RunStatusRunning,
		Timestamp:  time.Now(),
	}
}

// NewStepEvent creates a step event.
func NewStepEvent(runID string, step Step) *RunEvent {
	return &RunEvent{
		Type:      EventTypeStep,
		RunID:     runID,
		Step:      &step,
		Status:    RunStatusRunning,
		Timestamp: time.Now(),
	}
}

// NewDoneEvent creates a completion event.
func NewDoneEvent(runID string) *RunEvent {
	return &RunEvent{
		Type:      EventTypeDone,
		RunID:     runID,
		Status:    RunStatusCompleted,
		Timestamp: time.Now(),
	}
}

// NewErrorEvent creates an error event.
func NewErrorEvent(runID string, err error) *RunEvent {
	e := &RunEvent{
		Type:      EventTypeError,
		RunID:     runID,
		Status:    RunStatusFailed,
		ErrorKind: KindOf(err),
		Timestamp: time.Now(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// NewHeartbeatEvent creates a heartbeat event.
func NewHeartbeatEvent() *RunEvent {
	return &RunEvent{
		Type:      EventTypeHeartbeat,
		Timestamp: time.Now(),
	}
}

// IsTerminal returns true for the last event of a run.
func (e *RunEvent) IsTerminal() bool {
	return e.Type == EventTypeDone || e.Type == EventTypeError
}
