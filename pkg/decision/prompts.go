package decision

import (
	"fmt"
	"strings"

	"github.com/entrhq/webpilot/pkg/types"
)

// SystemPrompt frames every decision call.
const SystemPrompt = `You are a web browsing agent. You control a remote browser one action at a time to achieve the user's goal.

Each turn you receive the goal, every step taken so far, a screenshot of the current page once a page has been loaded, and the result of the previous extraction or observation when there is one.

Respond with exactly one next step. Keep ACT instructions precise and granular: one action per step, not a whole task. Do not put search queries into URLs; type them into the page with ACT instead. Do not rely on the screenshot to read text; use EXTRACT and you will be given the result.`

// toolGuidelines is the description attached to the tool enum.
const toolGuidelines = `Tool guidelines:
NAVIGATE: Navigate to a new URL only if not accessible from current page or if you need to navigate to a page to start off
ACT: Perform a single action on the page
EXTRACT: Extract data from the page (don't rely on screenshots for text, use the EXTRACT tool and you'll be provided with the result)
OBSERVE: List available actions when unsure what to do next
WAIT: Wait for a number of milliseconds
NAVIGATE_BACK: Navigate to the previously visited URL
CLOSE: Close browser when goal is achieved`

const (
	textDescription        = "The text to display. If the goal has been achieved and has an output, share it here. Otherwise use this to provide details about your observations. If you used an extraction, share what that extraction was here."
	reasoningDescription   = "The reasoning behind the tool call. If the tool is 'CLOSE', this should explain how and why the goal has been achieved."
	instructionDescription = "The instruction to display, i.e. the url to navigate to, the action to perform, the data to extract, the observation to make, etc. If the tool is 'CLOSE', this should be an empty string. If the tool is 'WAIT', this should be the number of milliseconds to wait."
)

// renderGoal builds the text part of the user message: goal and history.
func renderGoal(goal types.Goal, history []types.Step) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Consider the following screenshot of a web page, with the goal being %q.\n", string(goal))

	if len(history) > 0 {
		b.WriteString("\nPrevious steps taken:\n")
		for i, step := range history {
			if i > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "\nStep %d:\n", step.Ordinal)
			fmt.Fprintf(&b, "- Action: %s\n", step.Text)
			fmt.Fprintf(&b, "- Reasoning: %s\n", step.Reasoning)
			fmt.Fprintf(&b, "- Tool Used: %s\n", step.Tool)
			fmt.Fprintf(&b, "- Instruction: %s\n", step.Instruction)
		}
	}

	b.WriteString("\nDetermine the immediate next step to take to achieve the goal.\n")
	b.WriteString(`If the goal has been achieved, return "CLOSE".`)
	return b.String()
}

// renderExtraction describes the previous EXTRACT or OBSERVE result.
func renderExtraction(e *types.Extraction) string {
	if e == nil || (e.Kind == types.ExtractionText && e.Text == "") {
		return ""
	}
	label := "extraction"
	if e.Kind == types.ExtractionObservation {
		label = "observation"
	}
	return fmt.Sprintf("The result of the previous %s is: %s.", label, e.Render())
}
