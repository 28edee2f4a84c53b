package multiagent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Plan is the JSON shape the planner agent is required to return.
type Plan struct {
	Strategy string        `json:"strategy"` // "single_task" or "multi_task"
	Subtasks []PlanSubtask `json:"subtasks"`
}

// PlanSubtask is one planner-proposed unit of work.
type PlanSubtask struct {
	Description string `json:"description"`
	Agent       string `json:"agent"`
}

// PlannerAgentName is the registry name reserved for the planning agent.
// The planner never receives executable tasks and is excluded from the
// unknown-agent fallback.
const PlannerAgentName = "planner"

// buildPlanningPrompt assembles the planner's input: the user request, an
// enumeration of currently loaded agents (name, description, tools), and a
// trimmed recent-conversation summary.
func buildPlanningPrompt(request string, agents []Agent, summary string) string {
	var b strings.Builder
	b.WriteString("Decompose the user request into tasks for the available agents.\n\n")
	b.WriteString("Available agents:\n")
	for _, a := range agents {
		if a.Name() == PlannerAgentName {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s", a.Name(), a.Description())
		if tools := a.Tools(); len(tools) > 0 {
			fmt.Fprintf(&b, " (tools: %s)", strings.Join(tools, ", "))
		}
		b.WriteString("\n")
	}
	if summary != "" {
		b.WriteString("\nRecent conversation:\n")
		b.WriteString(summary)
		b.WriteString("\n")
	}
	b.WriteString("\nUser request:\n")
	b.WriteString(request)
	b.WriteString("\n\nRespond with ONLY a JSON object of the form ")
	b.WriteString(`{"strategy": "single_task"|"multi_task", "subtasks": [{"description": "...", "agent": "..."}]}.`)
	return b.String()
}

// ParsePlan extracts the planner's JSON object from its raw response text.
// Planner models wrap the object in markdown fences or prose often enough
// that strict unmarshalling is useless; instead the first balanced
// top-level object is located and decoded, with a first-brace-to-last-brace
// slice as the fallback.
func ParsePlan(response string) (*Plan, error) {
	candidate := firstBalancedObject(response)
	if candidate == "" {
		start := strings.Index(response, "{")
		end := strings.LastIndex(response, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("no JSON object in planner response")
		}
		candidate = response[start : end+1]
	}

	var plan Plan
	if err := json.Unmarshal([]byte(candidate), &plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if plan.Strategy != "single_task" && plan.Strategy != "multi_task" {
		return nil, fmt.Errorf("unknown plan strategy %q", plan.Strategy)
	}
	if len(plan.Subtasks) == 0 {
		return nil, fmt.Errorf("plan has no subtasks")
	}
	return &plan, nil
}

// firstBalancedObject scans for the first '{' and returns the substring up
// to its matching '}', honoring JSON string and escape rules so braces
// inside string literals don't unbalance the scan. Returns "" when no
// balanced object exists.
func firstBalancedObject(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
