package agent

import (
	"fmt"
	"strings"

	"github.com/ayourtch/kimichat-go/pkg/models"
)

// LoopControlConfig holds the tunable thresholds for the loop-control
// cascade: repeated-pattern detection, the compaction probe, evaluation
// cadence, and the hard ceiling. Retune per deployment as needed.
type LoopControlConfig struct {
	// SignatureWindow is the capacity of the trailing loop-signature
	// window used for repeated-pattern detection. Default: 8.
	SignatureWindow int

	// ConsecutiveThreshold/TotalThreshold abort a non-read-only batch.
	// Defaults: 4 consecutive, 6 total.
	ConsecutiveThreshold int
	TotalThreshold       int

	// ReadOnlyConsecutiveThreshold/ReadOnlyTotalThreshold abort a batch
	// made up entirely of read-only tools. Defaults: 6 consecutive, 8 total.
	ReadOnlyConsecutiveThreshold int
	ReadOnlyTotalThreshold       int

	// CompactionProbeEvery triggers the progressive compaction probe.
	// Default: 25 iterations.
	CompactionProbeEvery int
	// CompactionProbeBytes is the serialized-size threshold for the probe.
	// Default: 400_000 bytes.
	CompactionProbeBytes int

	// ProgressEvaluationEvery invokes the Progress Evaluator.
	// Default: 50 iterations.
	ProgressEvaluationEvery int

	// HardIterationCeiling terminates the loop unconditionally.
	// Default: 250.
	HardIterationCeiling int

	// ReadOnlyTools is the set of tool names considered read-only for the
	// purposes of loop-signature classification.
	ReadOnlyTools map[string]struct{}
}

var defaultReadOnlyTools = map[string]struct{}{
	"open_file":    {},
	"read_file":    {},
	"list_files":   {},
	"search_files": {},
	"grep_search":  {},
}

// DefaultLoopControlConfig returns the default thresholds.
func DefaultLoopControlConfig() *LoopControlConfig {
	return &LoopControlConfig{
		SignatureWindow:              8,
		ConsecutiveThreshold:         4,
		TotalThreshold:               6,
		ReadOnlyConsecutiveThreshold: 6,
		ReadOnlyTotalThreshold:       8,
		CompactionProbeEvery:         25,
		CompactionProbeBytes:         400_000,
		ProgressEvaluationEvery:      50,
		HardIterationCeiling:         250,
		ReadOnlyTools:                defaultReadOnlyTools,
	}
}

func sanitizeLoopControlConfig(cfg *LoopControlConfig) *LoopControlConfig {
	if cfg == nil {
		return DefaultLoopControlConfig()
	}
	out := *cfg
	defaults := DefaultLoopControlConfig()
	if out.SignatureWindow <= 0 {
		out.SignatureWindow = defaults.SignatureWindow
	}
	if out.ConsecutiveThreshold <= 0 {
		out.ConsecutiveThreshold = defaults.ConsecutiveThreshold
	}
	if out.TotalThreshold <= 0 {
		out.TotalThreshold = defaults.TotalThreshold
	}
	if out.ReadOnlyConsecutiveThreshold <= 0 {
		out.ReadOnlyConsecutiveThreshold = defaults.ReadOnlyConsecutiveThreshold
	}
	if out.ReadOnlyTotalThreshold <= 0 {
		out.ReadOnlyTotalThreshold = defaults.ReadOnlyTotalThreshold
	}
	if out.CompactionProbeEvery <= 0 {
		out.CompactionProbeEvery = defaults.CompactionProbeEvery
	}
	if out.CompactionProbeBytes <= 0 {
		out.CompactionProbeBytes = defaults.CompactionProbeBytes
	}
	if out.ProgressEvaluationEvery <= 0 {
		out.ProgressEvaluationEvery = defaults.ProgressEvaluationEvery
	}
	if out.HardIterationCeiling <= 0 {
		out.HardIterationCeiling = defaults.HardIterationCeiling
	}
	if out.ReadOnlyTools == nil {
		out.ReadOnlyTools = defaults.ReadOnlyTools
	}
	return &out
}

// ToolCallSignature computes the pipe-joined concatenation of
// "{tool_name}:{arguments}" across a tool-call batch.
func ToolCallSignature(calls []models.ToolCall) string {
	parts := make([]string, len(calls))
	for i, c := range calls {
		parts[i] = fmt.Sprintf("%s:%s", c.Function.Name, c.Function.Arguments)
	}
	return strings.Join(parts, "|")
}

// IsReadOnlyBatch reports whether every tool call in the batch names a
// tool in the configured read-only set.
func IsReadOnlyBatch(calls []models.ToolCall, readOnly map[string]struct{}) bool {
	if len(calls) == 0 {
		return false
	}
	if readOnly == nil {
		readOnly = defaultReadOnlyTools
	}
	for _, c := range calls {
		if _, ok := readOnly[c.Function.Name]; !ok {
			return false
		}
	}
	return true
}

// LoopSignatureWindow is a fixed-capacity sequence of the last N tool-call
// signatures for a single turn, used only for stuck-loop detection within
// that turn.
type LoopSignatureWindow struct {
	capacity   int
	signatures []string
}

// NewLoopSignatureWindow constructs a window with the given capacity.
func NewLoopSignatureWindow(capacity int) *LoopSignatureWindow {
	if capacity <= 0 {
		capacity = 8
	}
	return &LoopSignatureWindow{capacity: capacity}
}

// Push appends a signature, evicting the oldest entry once at capacity.
func (w *LoopSignatureWindow) Push(sig string) {
	w.signatures = append(w.signatures, sig)
	if len(w.signatures) > w.capacity {
		w.signatures = w.signatures[len(w.signatures)-w.capacity:]
	}
}

// ConsecutiveTrailing counts how many trailing entries equal sig.
func (w *LoopSignatureWindow) ConsecutiveTrailing(sig string) int {
	count := 0
	for i := len(w.signatures) - 1; i >= 0; i-- {
		if w.signatures[i] != sig {
			break
		}
		count++
	}
	return count
}

// TotalOccurrences counts how many entries in the window equal sig.
func (w *LoopSignatureWindow) TotalOccurrences(sig string) int {
	count := 0
	for _, s := range w.signatures {
		if s == sig {
			count++
		}
	}
	return count
}

// LoopAbortReason describes why the repeated-pattern detector fired.
type LoopAbortReason struct {
	Signature   string
	Consecutive int
	Total       int
	ReadOnly    bool
}

// CheckLoopAbort evaluates the loop-signature detector for the current
// iteration's tool-call batch: the current batch's
// signature is pushed into the window, then classified read-only or not,
// and compared against the applicable consecutive/total thresholds. It
// returns a non-nil LoopAbortReason when the loop should terminate.
func CheckLoopAbort(window *LoopSignatureWindow, calls []models.ToolCall, cfg *LoopControlConfig) *LoopAbortReason {
	cfg = sanitizeLoopControlConfig(cfg)
	if window == nil {
		window = NewLoopSignatureWindow(cfg.SignatureWindow)
	}
	sig := ToolCallSignature(calls)
	window.Push(sig)

	consecutive := window.ConsecutiveTrailing(sig)
	total := window.TotalOccurrences(sig)
	readOnly := IsReadOnlyBatch(calls, cfg.ReadOnlyTools)

	var aborts bool
	if readOnly {
		aborts = consecutive >= cfg.ReadOnlyConsecutiveThreshold || total >= cfg.ReadOnlyTotalThreshold
	} else {
		aborts = consecutive >= cfg.ConsecutiveThreshold || total >= cfg.TotalThreshold
	}
	if !aborts {
		return nil
	}
	return &LoopAbortReason{Signature: sig, Consecutive: consecutive, Total: total, ReadOnly: readOnly}
}

// LoopAbortMessage is the fixed terminal string the loop returns on a
// repeated-pattern abort.
const LoopAbortMessage = "Repeated tool call pattern detected. Please refine your request."

// ShouldProbeCompaction reports whether the progressive compaction probe
// should run this iteration: every CompactionProbeEvery
// iterations, if the transcript's serialized size exceeds the configured
// byte threshold.
func ShouldProbeCompaction(iteration int, serializedSize int, cfg *LoopControlConfig) bool {
	cfg = sanitizeLoopControlConfig(cfg)
	if iteration <= 0 || iteration%cfg.CompactionProbeEvery != 0 {
		return false
	}
	return serializedSize > cfg.CompactionProbeBytes
}

// ShouldEvaluateProgress reports whether the progress evaluator should run
// this iteration: at multiples of ProgressEvaluationEvery.
func ShouldEvaluateProgress(iteration int, cfg *LoopControlConfig) bool {
	cfg = sanitizeLoopControlConfig(cfg)
	return iteration > 0 && iteration%cfg.ProgressEvaluationEvery == 0
}

// ExceedsHardCeiling reports whether the loop must terminate regardless of
// evaluator output.
func ExceedsHardCeiling(toolIterations int, cfg *LoopControlConfig) bool {
	cfg = sanitizeLoopControlConfig(cfg)
	return toolIterations > cfg.HardIterationCeiling
}
