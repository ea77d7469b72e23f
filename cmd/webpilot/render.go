package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/entrhq/webpilot/pkg/types"
)

// Color Palette
var (
	salmonPink  = lipgloss.Color("#FFB3BA") // Soft pastel salmon pink - primary accent
	mintGreen   = lipgloss.Color("#A8E6CF") // Soft mint green - success states
	mutedGray   = lipgloss.Color("#6B7280") // Muted gray - secondary text
	brightWhite = lipgloss.Color("#F9FAFB") // Bright white - primary text
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(salmonPink).
			Bold(true)

	tipsStyle = lipgloss.NewStyle().
			Foreground(mutedGray)

	thinkingStyle = lipgloss.NewStyle().
			Foreground(mutedGray).
			Italic(true)

	toolStyle = lipgloss.NewStyle().
			Foreground(mintGreen)

	resultStyle = lipgloss.NewStyle().
			Foreground(brightWhite).
			PaddingLeft(2)

	errorStyle = lipgloss.NewStyle().
			Foreground(salmonPink)
)

// stepRenderer prints a run as styled text or as JSON lines of run events.
type stepRenderer struct {
	w    io.Writer
	json *json.Encoder
}

func newStepRenderer(w io.Writer, jsonLines bool) *stepRenderer {
	r := &stepRenderer{w: w}
	if jsonLines {
		r.json = json.NewEncoder(w)
	}
	return r
}

func (r *stepRenderer) emit(ev *types.RunEvent) {
	if err := r.json.Encode(ev); err != nil {
		appLog.Warnf("Failed to encode run event: %v", err)
	}
}

// Session reports the session backing the run.
func (r *stepRenderer) Session(runID, sessionID, liveURL string) {
	if r.json != nil {
		r.emit(types.NewSessionEvent(runID, sessionID, liveURL))
		return
	}
	fmt.Fprintf(r.w, "%s %s\n", headerStyle.Render("Session"), sessionID)
	fmt.Fprintf(r.w, "%s %s\n\n", tipsStyle.Render("Live view:"), liveURL)
}

// Step reports one completed step.
func (r *stepRenderer) Step(runID string, step types.Step) {
	if r.json != nil {
		r.emit(types.NewStepEvent(runID, step))
		return
	}
	fmt.Fprint(r.w, formatStep(step))
}

// Finish reports how the run ended.
func (r *stepRenderer) Finish(runID string, status types.RunStatus, last *types.Extraction, err error) {
	if r.json != nil {
		if err != nil {
			r.emit(types.NewErrorEvent(runID, err))
		} else {
			r.emit(types.NewDoneEvent(runID))
		}
		return
	}

	if err != nil {
		fmt.Fprintf(r.w, "%s %s\n", errorStyle.Render("Run "+string(status)+":"), err)
		return
	}
	fmt.Fprintln(r.w, toolStyle.Render("Run "+string(status)))
	if last != nil {
		fmt.Fprintln(r.w, resultStyle.Render(last.Render()))
	}
}

func formatStep(step types.Step) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", headerStyle.Render(fmt.Sprintf("Step %d", step.Ordinal)), toolStyle.Render(string(step.Tool)))
	if step.Instruction != "" {
		fmt.Fprintf(&b, " %s", step.Instruction)
	}
	b.WriteString("\n")
	if step.Text != "" {
		fmt.Fprintf(&b, "  %s\n", step.Text)
	}
	if step.Reasoning != "" {
		fmt.Fprintf(&b, "  %s\n", thinkingStyle.Render(step.Reasoning))
	}
	if step.Extraction != nil {
		fmt.Fprintf(&b, "%s\n", resultStyle.Render(step.Extraction.Render()))
	}
	return b.String()
}
