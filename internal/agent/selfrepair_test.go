package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ayourtch/kimichat-go/pkg/models"
)

func TestIsToolCallValidationFailure(t *testing.T) {
	if !IsToolCallValidationFailure("error: Failed to call a function") {
		t.Error("expected match on 'Failed to call a function'")
	}
	if !IsToolCallValidationFailure("arguments did not match schema") {
		t.Error("expected match on 'did not match schema'")
	}
	if IsToolCallValidationFailure("connection reset by peer") {
		t.Error("unexpected match on unrelated error")
	}
}

func TestSelfRepairOverwritesArgumentsOnValidJSON(t *testing.T) {
	chat := func(ctx context.Context, system, user string) (string, error) {
		return `{"file_path":"a.go","start_line":1,"end_line":10}`, nil
	}
	repairer := NewSelfRepair(chat, func(name string) json.RawMessage { return openFileSchema() })

	call := &models.ToolCall{ID: "t1", Function: models.ToolCallFunction{Name: "open_file", Arguments: `{bad json`}}
	result, err := repairer.Repair(context.Background(), call)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if !result.Changed {
		t.Fatal("expected arguments to be overwritten")
	}
	if call.Function.Arguments != `{"file_path":"a.go","start_line":1,"end_line":10}` {
		t.Errorf("unexpected arguments: %s", call.Function.Arguments)
	}
}

func TestSelfRepairLeavesArgumentsOnNonJSONResponse(t *testing.T) {
	chat := func(ctx context.Context, system, user string) (string, error) {
		return "I cannot repair this.", nil
	}
	repairer := NewSelfRepair(chat, nil)
	original := `{bad json`
	call := &models.ToolCall{ID: "t1", Function: models.ToolCallFunction{Name: "open_file", Arguments: original}}

	result, err := repairer.Repair(context.Background(), call)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if result.Changed {
		t.Error("expected no change for unparseable repair output")
	}
	if call.Function.Arguments != original {
		t.Errorf("arguments mutated unexpectedly: %s", call.Function.Arguments)
	}
}

func TestSelfRepairIsIdempotentPerCallID(t *testing.T) {
	calls := 0
	chat := func(ctx context.Context, system, user string) (string, error) {
		calls++
		return `{"fixed":true}`, nil
	}
	repairer := NewSelfRepair(chat, nil)
	call := &models.ToolCall{ID: "t1", Function: models.ToolCallFunction{Name: "x", Arguments: `{bad`}}

	first, err := repairer.Repair(context.Background(), call)
	if err != nil || !first.Changed {
		t.Fatalf("first repair failed: changed=%v err=%v", first.Changed, err)
	}

	second, err := repairer.Repair(context.Background(), call)
	if err != nil {
		t.Fatalf("second repair: %v", err)
	}
	if !second.Skipped {
		t.Error("expected second repair attempt on the same call ID to be skipped")
	}
	if calls != 1 {
		t.Errorf("expected exactly one repair chat call, got %d", calls)
	}
}

func TestExtractJSONObjectTolerantOfFencesAndProse(t *testing.T) {
	text := "Sure, here you go:\n```json\n{\"a\": {\"nested\": 1}, \"b\": 2}\n```\nHope that helps!"
	got := extractJSONObject(text)
	want := `{"a": {"nested": 1}, "b": 2}`
	if got != want {
		t.Errorf("extractJSONObject = %q, want %q", got, want)
	}
}
