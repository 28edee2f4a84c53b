package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ayourtch/kimichat-go/internal/models"
	pkgmodels "github.com/ayourtch/kimichat-go/pkg/models"
)

// CompactionMode selects which preservation strategy the Context
// Compaction Engine applies.
type CompactionMode string

const (
	// ModeIntelligent preserves the system prompt, the most recent 15
	// messages, and enough surrounding context to cover the last 10
	// tool-call sites.
	ModeIntelligent CompactionMode = "intelligent"
	// ModeWholeTurn preserves the system prompt and the last 5 messages,
	// and may trigger a mutual-agreement model switch.
	ModeWholeTurn CompactionMode = "whole_turn"
)

// ThresholdBuffer is the 25% buffer applied to the start-of-turn
// per-slot size thresholds.
const ThresholdBuffer = 1.25

// StartOfTurnThresholdBytes returns the model-dependent trigger size for
// the start-of-turn compaction check: Grn 150 KB, Blu/Custom 400 KB,
// Red 600 KB, each scaled by ThresholdBuffer.
func StartOfTurnThresholdBytes(slot models.Slot) int {
	var base int
	switch slot.Kind {
	case models.SlotGrn:
		base = 150_000
	case models.SlotRed:
		base = 600_000
	default: // Blu, Custom, Anthropic fall back to the Blu/Custom figure.
		base = 400_000
	}
	return int(float64(base) * ThresholdBuffer)
}

// SerializedSize returns the canonical-JSON byte size of a transcript,
// the metric every compaction trigger compares against.
func SerializedSize(transcript []*pkgmodels.Message) int {
	b, err := json.Marshal(transcript)
	if err != nil {
		return 0
	}
	return len(b)
}

// CompactionChat issues a single chat request used by the compaction
// engine, either to summarize discarded history or to ask a model a
// yes/no switching question. It returns the assistant's text response.
type CompactionChat func(ctx context.Context, slot models.Slot, systemPrompt, userPrompt string) (string, error)

// CompactionEngine performs size-based summarization that preserves
// recent tool context, with cross-model handoff via mutual-agreement
// switching in whole-turn mode.
type CompactionEngine struct {
	chat CompactionChat
	// OtherSlot maps a slot to the slot that should perform the
	// summarization pass: Blu<->Grn, Red->Blu.
	OtherSlot func(models.Slot) models.Slot
}

// NewCompactionEngine constructs a CompactionEngine. If otherSlot is nil,
// DefaultOtherSlot is used.
func NewCompactionEngine(chat CompactionChat, otherSlot func(models.Slot) models.Slot) *CompactionEngine {
	if otherSlot == nil {
		otherSlot = DefaultOtherSlot
	}
	return &CompactionEngine{chat: chat, OtherSlot: otherSlot}
}

// DefaultOtherSlot implements the Blu<->Grn, Red->Blu mapping for
// selecting the summarizing model.
func DefaultOtherSlot(slot models.Slot) models.Slot {
	switch slot.Kind {
	case models.SlotBlu:
		return models.Slot{Kind: models.SlotGrn}
	case models.SlotGrn:
		return models.Slot{Kind: models.SlotBlu}
	case models.SlotRed:
		return models.Slot{Kind: models.SlotBlu}
	default:
		return models.Slot{Kind: models.SlotBlu}
	}
}

// CompactionOutcome reports what a compaction pass did.
type CompactionOutcome struct {
	Transcript    []*pkgmodels.Message
	Mode          CompactionMode
	Summarized    bool // false when the fallback structural trim ran
	SwitchedSlot  bool
	NewSlot       models.Slot
}

const summarizeInstruction = "Summarize the following conversation excerpt in 200 words or fewer. Focus on: decisions made, files modified, current task status, and context needed to continue."

const recommendInstruction = " End with a line reading either \"RECOMMENDATION: STAY\" or \"RECOMMENDATION: SWITCH <reason>\" indicating whether a different model should take over."

// IntelligentCompact applies intelligent-mode compaction: the system
// prompt at index 0 and the most recent 15 messages are always kept,
// extended backward to cover the last 10 tool-call sites (windowing 5
// messages before the earliest of those). Everything between the system
// prompt and that preserved tail is summarized via the other model slot
// and replaces the discarded middle as a single system message.
func (e *CompactionEngine) IntelligentCompact(ctx context.Context, transcript []*pkgmodels.Message, activeSlot models.Slot, iteration int) CompactionOutcome {
	if len(transcript) < 2 {
		return CompactionOutcome{Transcript: transcript, Mode: ModeIntelligent}
	}
	system := transcript[0]
	preserveFrom := intelligentPreserveFrom(transcript)

	if preserveFrom <= 1 {
		return CompactionOutcome{Transcript: transcript, Mode: ModeIntelligent}
	}

	middle := transcript[1:preserveFrom]
	tail := transcript[preserveFrom:]

	summary, ok := e.summarize(ctx, middle, activeSlot)
	out := make([]*pkgmodels.Message, 0, 2+len(tail))
	out = append(out, system)
	if ok {
		out = append(out, &pkgmodels.Message{
			Role:    pkgmodels.RoleSystem,
			Content: fmt.Sprintf("[compaction at iteration %d] %s", iteration, summary),
		})
	}
	out = append(out, tail...)

	return CompactionOutcome{Transcript: out, Mode: ModeIntelligent, Summarized: ok}
}

// intelligentPreserveFrom computes the first index (exclusive of the
// system prompt at 0) that must survive intelligent compaction: the
// recent-15 tail, extended to 5 messages before the earliest of the last
// 10 tool-call sites, whichever reaches further back.
func intelligentPreserveFrom(transcript []*pkgmodels.Message) int {
	n := len(transcript)
	recentStart := n - 15
	if recentStart < 1 {
		recentStart = 1
	}

	toolSites := make([]int, 0, 10)
	for i := n - 1; i >= 1 && len(toolSites) < 10; i-- {
		if transcript[i] != nil && (len(transcript[i].ToolCalls) > 0 || transcript[i].Role == pkgmodels.RoleTool) {
			toolSites = append(toolSites, i)
		}
	}
	if len(toolSites) == 0 {
		return recentStart
	}
	earliest := toolSites[len(toolSites)-1]
	windowed := earliest - 5
	if windowed < 1 {
		windowed = 1
	}
	if windowed < recentStart {
		return windowed
	}
	return recentStart
}

// WholeTurnCompact applies whole-turn compaction: the system
// prompt and the last 5 messages are kept; the summarizer is additionally
// asked to recommend STAY or SWITCH. On SWITCH, the current model is
// asked a yes/no question and the slot changes only on mutual AGREE.
func (e *CompactionEngine) WholeTurnCompact(ctx context.Context, transcript []*pkgmodels.Message, activeSlot models.Slot) CompactionOutcome {
	if len(transcript) < 2 {
		return CompactionOutcome{Transcript: transcript, Mode: ModeWholeTurn}
	}
	system := transcript[0]
	keepFrom := len(transcript) - 5
	if keepFrom < 1 {
		keepFrom = 1
	}
	middle := transcript[1:keepFrom]
	tail := transcript[keepFrom:]

	summary, ok := e.summarizeWith(ctx, middle, activeSlot, summarizeInstruction+recommendInstruction)
	out := make([]*pkgmodels.Message, 0, 2+len(tail))
	out = append(out, system)

	outcome := CompactionOutcome{Mode: ModeWholeTurn, NewSlot: activeSlot}
	if !ok {
		out = append(out, tail...)
		outcome.Transcript = out
		return outcome
	}

	recommendation, reason := parseRecommendation(summary)
	out = append(out, &pkgmodels.Message{Role: pkgmodels.RoleSystem, Content: summary})
	out = append(out, tail...)
	outcome.Summarized = true
	outcome.Transcript = out
	outcome.NewSlot = activeSlot

	if recommendation == "SWITCH" && e.chat != nil {
		question := "A context summary recommends switching models: " + reason + ". Do you agree to switch?"
		reply, err := e.chat(ctx, activeSlot, "", question)
		if err == nil && agreesTo(reply) {
			newSlot := e.OtherSlot(activeSlot)
			outcome.Transcript = append(outcome.Transcript, &pkgmodels.Message{
				Role:    pkgmodels.RoleSystem,
				Content: fmt.Sprintf("Model switched to: %s", newSlot.String()),
			})
			outcome.SwitchedSlot = true
			outcome.NewSlot = newSlot
		}
	}

	return outcome
}

func (e *CompactionEngine) summarize(ctx context.Context, middle []*pkgmodels.Message, activeSlot models.Slot) (string, bool) {
	return e.summarizeWith(ctx, middle, activeSlot, summarizeInstruction)
}

func (e *CompactionEngine) summarizeWith(ctx context.Context, middle []*pkgmodels.Message, activeSlot models.Slot, instruction string) (string, bool) {
	if len(middle) == 0 || e.chat == nil {
		return "", false
	}
	summarizerSlot := e.OtherSlot(activeSlot)
	prompt := instruction + "\n\n" + renderExcerpt(middle)
	summary, err := e.chat(ctx, summarizerSlot, "", prompt)
	if err != nil || strings.TrimSpace(summary) == "" {
		return "", false
	}
	return summary, true
}

func renderExcerpt(messages []*pkgmodels.Message) string {
	var b strings.Builder
	for _, m := range messages {
		if m == nil {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
	}
	return b.String()
}

// parseRecommendation extracts a trailing "RECOMMENDATION: STAY" or
// "RECOMMENDATION: SWITCH <reason>" line.
func parseRecommendation(summary string) (decision, reason string) {
	idx := strings.LastIndex(summary, "RECOMMENDATION:")
	if idx < 0 {
		return "STAY", ""
	}
	line := strings.TrimSpace(summary[idx+len("RECOMMENDATION:"):])
	if strings.HasPrefix(strings.ToUpper(line), "SWITCH") {
		reason = strings.TrimSpace(line[len("SWITCH"):])
		return "SWITCH", reason
	}
	return "STAY", ""
}

// agreesTo reports whether a yes/no reply counts as AGREE (e.g.
// "AGREE, context matches my strengths").
func agreesTo(reply string) bool {
	upper := strings.ToUpper(reply)
	return strings.Contains(upper, "AGREE") || strings.HasPrefix(strings.TrimSpace(upper), "YES")
}
