package voyager

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/voyager-cli/api/schemas"
)

// systemPrompt is the standing instruction for the Decision Service. It pins
// the JSON contract the decoder enforces.
const systemPrompt = `You are Voyager, an autonomous web browsing agent. You are given a goal and,
each turn, a screenshot of the current page with interactive elements marked by
numbered red boxes, plus a text digest of those elements.

Respond with a single JSON object of the form:

  {"actions": [{"type": "...", "element": N, "content": "...", "reasoning": "..."}]}

Allowed action types:
  click        - click element N
  hover        - hover over element N to reveal menus or tooltips
  type         - clear element N and type "content", then press Enter
  scroll       - scroll the window ("content" is "up" or "down"); with an
                 "element", scroll that element instead
  wait         - wait for the page to settle
  navigate     - go to the absolute URL in "content"
  search       - run a web search for "content"
  go_back      - go back one page in history
  extract_data - capture the visible text of the current page
  success      - the goal is achieved; put the final answer in "content"
  stop         - the goal cannot be achieved; explain in "content"

Every action must include "reasoning". Element numbers are only valid for the
current screenshot. Keep the action list short; prefer one action per turn.`

// goalMessage renders the opening user message for a task.
func goalMessage(task schemas.Task) string {
	return fmt.Sprintf("Goal: %s\nStarting page: %s", task.Goal, task.StartURL)
}

// reminderText closes every observation. Element indices are reassigned on
// each annotation pass, so the model must not reuse numbers from older turns.
const reminderText = "Re-verify the element number against THIS screenshot before acting; numbers from previous turns are invalid."

// buildObservation assembles the per-iteration user message: the fresh
// screenshot, the element digest listing, the previous step's execution log,
// and any loop-guard warning.
func buildObservation(screenshot []byte, digests []schemas.ElementDigest, prevLog, warning string) schemas.Message {
	var b strings.Builder

	if warning != "" {
		b.WriteString("WARNING: ")
		b.WriteString(warning)
		b.WriteString("\n\n")
	}
	if prevLog != "" {
		b.WriteString("Result of previous actions:\n")
		b.WriteString(prevLog)
		b.WriteString("\n\n")
	}

	b.WriteString("Interactive elements on the current page:\n")
	if len(digests) == 0 {
		b.WriteString("(none detected)\n")
	}
	for _, d := range digests {
		b.WriteString(formatDigest(d))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.WriteString(reminderText)

	return schemas.Message{
		Role: schemas.RoleUser,
		Parts: []schemas.Part{
			{Image: screenshot},
			{Text: b.String()},
		},
	}
}

func formatDigest(d schemas.ElementDigest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] <%s", d.Index, d.Tag)
	if d.Type != "" {
		fmt.Fprintf(&b, " type=%s", d.Type)
	}
	b.WriteString(">")
	if d.Text != "" {
		fmt.Fprintf(&b, " %q", d.Text)
	}
	if d.AriaLabel != "" {
		fmt.Fprintf(&b, " (aria: %s)", d.AriaLabel)
	}
	return b.String()
}
