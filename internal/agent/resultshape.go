package agent

import (
	"fmt"
	"strings"

	"github.com/ayourtch/kimichat-go/pkg/models"
)

// cancellationMarkers are the substrings tool implementations use to report
// a user-cancelled operation. This substring match is the only cancellation
// check applied to tool results; there is no dedicated cancellation error
// type.
var cancellationMarkers = []string{
	"cancelled by user",
	"Edit cancelled",
	"Command cancelled",
}

// IsCancellationText reports whether an error or result text describes a
// user cancellation.
func IsCancellationText(s string) bool {
	for _, marker := range cancellationMarkers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// ShapeCancelledToolResult rewrites a cancellation-class tool result into
// an explicit OPERATION CANCELLED BY USER block instructing the model not
// to retry the same approach. Feedback the user attached after the first
// " - " separator is carried into the block. Non-cancellation results pass
// through unchanged.
func ShapeCancelledToolResult(result models.ToolResult) models.ToolResult {
	if !IsCancellationText(result.Content) {
		return result
	}

	feedback := ""
	if idx := strings.Index(result.Content, " - "); idx >= 0 {
		feedback = strings.TrimSpace(result.Content[idx+3:])
	}

	var b strings.Builder
	b.WriteString("OPERATION CANCELLED BY USER\n")
	b.WriteString("The user declined this operation. Do not retry the same approach.")
	if feedback != "" {
		b.WriteString("\nUser feedback: ")
		b.WriteString(feedback)
	}

	result.Content = b.String()
	result.IsError = true
	return result
}

// displayTruncateLines is how many lines of a file-read result are shown to
// the user; the model always sees the full text.
const displayTruncateLines = 10

// fileReadTools are the tools whose results get display truncation.
var fileReadTools = map[string]struct{}{
	"read_file": {},
	"open_file": {},
}

// TruncateFileReadDisplay shortens a file-read result for display. The
// returned string is what the user sees; the full content still goes into
// the transcript.
func TruncateFileReadDisplay(toolName, content string) string {
	if _, ok := fileReadTools[toolName]; !ok {
		return content
	}
	lines := strings.Split(content, "\n")
	if len(lines) <= displayTruncateLines {
		return content
	}
	shown := strings.Join(lines[:displayTruncateLines], "\n")
	return fmt.Sprintf("%s\n... (%d more lines)", shown, len(lines)-displayTruncateLines)
}
