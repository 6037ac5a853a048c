package voyager

import (
	"strings"

	"github.com/xkilldash9x/voyager-cli/api/schemas"
)

// guardHistoryDepth is how many serialized steps the guard remembers. Four is
// enough to see a third consecutive repeat and a full A-B-A-B cycle.
const guardHistoryDepth = 4

// loopGuard detects unproductive action repetition across iterations. When it
// fires, the step is skipped and a warning is injected into the next decision
// prompt instead of terminating the task.
type loopGuard struct {
	enabled bool
	history []string
}

func newLoopGuard(enabled bool) *loopGuard {
	return &loopGuard{enabled: enabled}
}

// Observe records the decided step and reports a non-empty warning when the
// step must be skipped. Two patterns trigger: the same step decided three
// times in a row, and a period-2 oscillation (A-B-A-B).
func (g *loopGuard) Observe(actions []schemas.Action) string {
	if !g.enabled {
		return ""
	}

	label := stepLabel(actions)
	defer func() {
		g.history = append(g.history, label)
		if len(g.history) > guardHistoryDepth {
			g.history = g.history[len(g.history)-guardHistoryDepth:]
		}
	}()

	n := len(g.history)
	if n >= 2 && g.history[n-1] == label && g.history[n-2] == label {
		return "You have decided the exact same actions three times in a row with no progress. That step was NOT executed. Choose a different approach."
	}
	if n >= 3 && g.history[n-2] == label && g.history[n-3] == g.history[n-1] && label != g.history[n-1] {
		return "You are alternating between the same two steps without progress. That step was NOT executed. Choose a different approach."
	}
	return ""
}

// stepLabel serializes a decided step for comparison. Reasoning is excluded so
// rephrasing the same action still counts as a repeat.
func stepLabel(actions []schemas.Action) string {
	labels := make([]string, len(actions))
	for i := range actions {
		labels[i] = actions[i].Label()
	}
	return strings.Join(labels, ";")
}
