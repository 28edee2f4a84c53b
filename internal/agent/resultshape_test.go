package agent

import (
	"strings"
	"testing"

	"github.com/ayourtch/kimichat-go/pkg/models"
)

func TestShapeCancelledToolResult(t *testing.T) {
	tests := []struct {
		name         string
		content      string
		wantShaped   bool
		wantFeedback string
	}{
		{
			name:       "edit cancelled",
			content:    "Edit cancelled",
			wantShaped: true,
		},
		{
			name:         "cancellation with feedback",
			content:      "Command cancelled by user - use the staging config instead",
			wantShaped:   true,
			wantFeedback: "use the staging config instead",
		},
		{
			name:       "ordinary failure untouched",
			content:    "file not found: foo.txt",
			wantShaped: false,
		},
		{
			name:       "ordinary success untouched",
			content:    "wrote 42 bytes",
			wantShaped: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := models.ToolResult{ToolCallID: "t1", Content: tt.content}
			out := ShapeCancelledToolResult(in)

			if !tt.wantShaped {
				if out.Content != tt.content {
					t.Errorf("content changed: %q", out.Content)
				}
				return
			}
			if !strings.HasPrefix(out.Content, "OPERATION CANCELLED BY USER") {
				t.Errorf("missing cancellation label: %q", out.Content)
			}
			if !out.IsError {
				t.Error("shaped result must be an error")
			}
			if !strings.Contains(out.Content, "Do not retry") {
				t.Errorf("missing no-retry instruction: %q", out.Content)
			}
			if tt.wantFeedback != "" && !strings.Contains(out.Content, tt.wantFeedback) {
				t.Errorf("feedback dropped: %q", out.Content)
			}
		})
	}
}

func TestTruncateFileReadDisplay(t *testing.T) {
	long := strings.Repeat("line\n", 24) + "last"

	display := TruncateFileReadDisplay("read_file", long)
	if got := strings.Count(display, "\n"); got != displayTruncateLines {
		t.Errorf("display has %d newlines, want %d", got, displayTruncateLines)
	}
	if !strings.Contains(display, "(15 more lines)") {
		t.Errorf("missing count tail: %q", display)
	}

	// Short results and non-read tools pass through.
	if got := TruncateFileReadDisplay("read_file", "a\nb"); got != "a\nb" {
		t.Errorf("short content changed: %q", got)
	}
	if got := TruncateFileReadDisplay("run_shell", long); got != long {
		t.Error("non-read tool content must not be truncated")
	}
}
