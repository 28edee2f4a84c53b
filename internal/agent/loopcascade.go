package agent

import (
	"context"
	"encoding/json"
	"strings"

	modelslot "github.com/ayourtch/kimichat-go/internal/models"
	"github.com/ayourtch/kimichat-go/internal/progress"
	"github.com/ayourtch/kimichat-go/pkg/models"
)

// completionMessagesSize approximates the serialized transcript size the
// loop-control cascade probes against. CompletionMessage is the loop's
// in-flight transcript representation; this mirrors SerializedSize's
// canonical-JSON byte count for that type.
func completionMessagesSize(messages []CompletionMessage) int {
	b, err := json.Marshal(messages)
	if err != nil {
		return 0
	}
	return len(b)
}

// compactCompletionMessages bridges the loop's CompletionMessage transcript
// representation to the CompactionEngine, which operates on pkg/models.Message
// (the Message Store's canonical record), runs intelligent-mode compaction,
// and converts the result back.
func compactCompletionMessages(ctx context.Context, engine *CompactionEngine, messages []CompletionMessage, activeSlot modelslot.Slot, iteration int) ([]CompletionMessage, CompactionOutcome) {
	converted := toStoreMessages(messages)
	outcome := engine.IntelligentCompact(ctx, converted, activeSlot, iteration)
	return fromStoreMessages(outcome.Transcript), outcome
}

// wholeTurnCompactCompletionMessages runs the start-of-turn whole-turn
// compaction, which may switch the active slot on mutual agreement.
func wholeTurnCompactCompletionMessages(ctx context.Context, engine *CompactionEngine, messages []CompletionMessage, activeSlot modelslot.Slot) ([]CompletionMessage, CompactionOutcome) {
	converted := toStoreMessages(messages)
	outcome := engine.WholeTurnCompact(ctx, converted, activeSlot)
	return fromStoreMessages(outcome.Transcript), outcome
}

func toStoreMessages(messages []CompletionMessage) []*models.Message {
	converted := make([]*models.Message, len(messages))
	for i, m := range messages {
		converted[i] = &models.Message{
			Role:        models.Role(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			Attachments: m.Attachments,
		}
	}
	return converted
}

func fromStoreMessages(messages []*models.Message) []CompletionMessage {
	out := make([]CompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = CompletionMessage{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			Attachments: m.Attachments,
		}
	}
	return out
}

// recordProgress folds one iteration's tool calls and results into the
// turn-local Progress Evaluator summary: call history, error list, and the
// files-changed set consumed by the evaluator's completion heuristics.
func recordProgress(summary *progress.Summary, calls []models.ToolCall, results []models.ToolResult) {
	resultByID := make(map[string]models.ToolResult, len(results))
	for _, r := range results {
		resultByID[r.ToolCallID] = r
	}

	for _, call := range calls {
		result := resultByID[call.ID]
		record := progress.ToolCallRecord{
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
			Success:   !result.IsError,
			Summary:   truncateSummary(result.Content, 200),
		}
		summary.ToolCalls = append(summary.ToolCalls, record)

		if result.IsError {
			summary.Errors = append(summary.Errors, result.Content)
		}

		if path, ok := writtenFilePath(call); ok {
			summary.FilesChanged[path] = struct{}{}
		}
	}
}

func truncateSummary(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// repairAndRetry runs the tool-call self-repair policy, invoked when the
// upstream backend reports a validation failure for the most recent
// assistant tool-call batch. Step 1: a hallucinated tool name
// forces an immediate slot switch and retry. Step 2: otherwise, each
// malformed call in the last assistant message is repaired via a secondary
// isolated chat request and the main request is retried once. Step 3: if
// repair does not clear the error, force-switch to the fallback slot and
// retry once more.
func (l *AgenticLoop) repairAndRetry(ctx context.Context, state *LoopState, chunks chan<- *ResponseChunk, cause error) ([]models.ToolCall, error) {
	if l.config.SelfRepair == nil {
		return nil, cause
	}

	lastAssistant := lastAssistantToolCalls(state.Messages)
	errText := cause.Error()

	forceSwitch := func(reason string) {
		if l.config.FallbackSlot.Kind == "" || l.config.ActiveSlot == l.config.FallbackSlot {
			return
		}
		l.config.ActiveSlot = l.config.FallbackSlot
		l.config.Metrics.RecordModelSwitch("forced")
		notice := ForcedSwitchNotice(l.config.FallbackSlot.String(), reason)
		state.Messages = append(state.Messages, CompletionMessage{Role: string(notice.Role), Content: notice.Content})
	}

	if len(lastAssistant) > 0 && IsHallucinatedToolName(errText, l.executor.registry, lastAssistant[0].Function.Name) {
		forceSwitch("hallucinated tool name")
		return l.streamPhase(ctx, state, chunks)
	}

	var repairedAny bool
	for i := range lastAssistant {
		result, err := l.config.SelfRepair.Repair(ctx, &lastAssistant[i])
		if err == nil && result.Changed {
			repairedAny = true
		}
	}
	if repairedAny {
		l.config.Metrics.RecordSelfRepair("repaired")
	} else {
		l.config.Metrics.RecordSelfRepair("unchanged")
	}

	if repairedAny {
		toolCalls, err := l.streamPhase(ctx, state, chunks)
		if err == nil {
			return toolCalls, nil
		}
		cause = err
	}

	forceSwitch("tool-call repair failed: " + errText)
	return l.streamPhase(ctx, state, chunks)
}

// lastAssistantToolCalls returns a pointer-stable slice of the most recent
// assistant message's pending tool calls, or nil if there is none.
func lastAssistantToolCalls(messages []CompletionMessage) []models.ToolCall {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "assistant" {
			continue
		}
		if len(messages[i].ToolCalls) == 0 {
			return nil
		}
		return messages[i].ToolCalls
	}
	return nil
}

// writtenFilePath extracts the target path from a write_file/edit_file
// style tool call's arguments, if present.
func writtenFilePath(call models.ToolCall) (string, bool) {
	name := strings.ToLower(call.Function.Name)
	if !strings.Contains(name, "write") && !strings.Contains(name, "edit") {
		return "", false
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		return "", false
	}
	for _, key := range []string{"file_path", "path", "filename"} {
		if v, ok := args[key].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}
