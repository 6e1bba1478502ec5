package agent

import (
	"fmt"
	"strings"
)

// terminationWarning is appended only on the last permitted iteration.
const terminationWarning = "This is your FINAL iteration. You MUST call FINAL with your answer now, " +
	"or FINAL_VAR with the name of the session variable holding it. Do not start new work."

// buildPrompt renders the per-iteration prompt: the task, the iteration
// counter, summaries of recent actions, and the remaining budget. Action
// summaries stand in for full tool results to bound context growth.
func buildPrompt(task string, iteration, maxIterations int, actions []string, remainingTokens int, final bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n", task)
	fmt.Fprintf(&b, "This is iteration %d of %d.\n", iteration, maxIterations)

	if len(actions) > 0 {
		b.WriteString("\nPrevious actions:\n")
		for _, a := range actions {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}

	fmt.Fprintf(&b, "\nRemaining token budget: %d.\n", remainingTokens)

	if final {
		b.WriteString("\n" + terminationWarning + "\n")
	}
	return b.String()
}

// summarizeIteration compresses one iteration's top-level tool activity
// into a single line for the action ring.
func summarizeIteration(iteration int, toolNames []string, response string) string {
	if len(toolNames) > 0 {
		return fmt.Sprintf("iteration %d: called %s", iteration, strings.Join(toolNames, ", "))
	}
	r := strings.TrimSpace(response)
	if r == "" {
		return fmt.Sprintf("iteration %d: no tool calls, empty response", iteration)
	}
	const max = 120
	if len(r) > max {
		r = r[:max] + "..."
	}
	return fmt.Sprintf("iteration %d: responded without tools: %s", iteration, r)
}
