package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ayourtch/kimichat-go/pkg/models"
)

// repairSystemPrompt instructs the secondary repair model to return only
// corrected JSON arguments.
const repairSystemPrompt = "You repair malformed tool-call arguments. Given the tool name, its JSON Schema, and the malformed argument text, return ONLY a corrected JSON object matching the schema. Do not include any explanation, markdown fences, or extra text."

// vendorRejectionMarkers are the vendor-specific substrings that mark a
// rejected tool-call batch and trigger the self-repair pipeline.
var vendorRejectionMarkers = []string{
	"failed to call a function",
	"did not match schema",
}

// IsToolCallValidationFailure reports whether an upstream error indicates
// the vendor rejected the most recent assistant tool-call batch.
func IsToolCallValidationFailure(errText string) bool {
	lower := strings.ToLower(errText)
	for _, marker := range vendorRejectionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// IsHallucinatedToolName reports whether an error indicates the model
// invoked a tool name the registry does not recognize.
func IsHallucinatedToolName(errText string, registry *ToolRegistry, toolName string) bool {
	if registry == nil || toolName == "" {
		return false
	}
	if _, ok := registry.Get(toolName); ok {
		return false
	}
	lower := strings.ToLower(errText)
	return strings.Contains(lower, "unknown tool") || strings.Contains(lower, "tool not found") || strings.Contains(lower, toolName)
}

// RepairChat is the narrow interface the self-repair pipeline needs from an
// LLM client: a single non-streaming-shaped call with no tools. Providers
// satisfy this via their existing Complete method; cmd/kimichat/main.go
// adapts it by collecting the streamed chunks' text into one string.
type RepairChat func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

// SelfRepair attempts out-of-band correction of malformed tool-call
// arguments before the failure reaches the user. It is idempotent within a turn: Repair remembers which call IDs it has
// already attempted and refuses to repair the same one twice.
type SelfRepair struct {
	chat     RepairChat
	schemaOf func(name string) json.RawMessage
	repaired map[string]bool
}

// NewSelfRepair constructs a SelfRepair pipeline. chat issues the secondary,
// isolated repair request; schemaOf resolves a tool name to its JSON Schema
// (used to prompt the repair model, not to validate its output; the
// returned text only has to parse as JSON).
func NewSelfRepair(chat RepairChat, schemaOf func(name string) json.RawMessage) *SelfRepair {
	return &SelfRepair{
		chat:     chat,
		schemaOf: schemaOf,
		repaired: make(map[string]bool),
	}
}

// RepairResult reports what Repair did for one tool call.
type RepairResult struct {
	Changed bool
	Skipped bool // already repaired this call ID earlier in the turn
}

// Repair attempts an AI-assisted repair of one malformed tool call: it
// issues a secondary, isolated chat request asking
// only for corrected JSON arguments. If the returned text parses as JSON,
// the call's Arguments are overwritten in place; otherwise they are left
// unchanged. Each call ID is repaired at most once per SelfRepair instance
// (i.e. per turn, when one instance is constructed per turn).
func (s *SelfRepair) Repair(ctx context.Context, call *models.ToolCall) (RepairResult, error) {
	if s == nil || call == nil {
		return RepairResult{}, fmt.Errorf("self-repair: nil receiver or call")
	}
	if s.repaired[call.ID] {
		return RepairResult{Skipped: true}, nil
	}
	s.repaired[call.ID] = true

	if s.chat == nil {
		return RepairResult{}, fmt.Errorf("self-repair: no repair chat configured")
	}

	var schema json.RawMessage
	if s.schemaOf != nil {
		schema = s.schemaOf(call.Function.Name)
	}

	userPrompt := fmt.Sprintf("Tool: %s\nSchema: %s\nMalformed arguments: %s",
		call.Function.Name, string(schema), call.Function.Arguments)

	text, err := s.chat(ctx, repairSystemPrompt, userPrompt)
	if err != nil {
		return RepairResult{}, err
	}

	candidate := extractJSONObject(text)
	if candidate == "" {
		return RepairResult{Changed: false}, nil
	}
	var probe map[string]any
	if err := json.Unmarshal([]byte(candidate), &probe); err != nil {
		return RepairResult{Changed: false}, nil
	}

	call.Function.Arguments = candidate
	return RepairResult{Changed: true}, nil
}

// AlreadyRepaired reports whether a call ID has already been through
// Repair this turn, without attempting a repair.
func (s *SelfRepair) AlreadyRepaired(callID string) bool {
	if s == nil {
		return false
	}
	return s.repaired[callID]
}

// extractJSONObject tolerantly locates a JSON object in model output that
// may be wrapped in markdown fences or prose, using the same
// balanced-brace scan the planner output parser uses.
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
				return text[start : i+1]
			}
		}
	}
	return ""
}

// ForcedSwitchNotice renders the system message the loop appends after a
// forced switch, recording the new slot and the reason.
func ForcedSwitchNotice(newSlot, reason string) *models.Message {
	return &models.Message{
		Role:    models.RoleSystem,
		Content: fmt.Sprintf("Model switched to: %s (%s)", newSlot, reason),
	}
}
