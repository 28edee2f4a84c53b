package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMessageJSONRoundTrip(t *testing.T) {
	original := Message{
		ID:        "msg-1",
		SessionID: "sess-1",
		Role:      RoleAssistant,
		Content:   "reading the file now",
		ToolCalls: []ToolCall{{
			ID:       "call-1",
			Function: ToolCallFunction{Name: "read_file", Arguments: `{"file_path":"foo.txt"}`},
		}},
		Reasoning: "the user asked for the file contents",
		CreatedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Role != RoleAssistant || decoded.Content != original.Content {
		t.Errorf("decoded = %+v", decoded)
	}
	if len(decoded.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d", len(decoded.ToolCalls))
	}
	tc := decoded.ToolCalls[0]
	if tc.ID != "call-1" || tc.Function.Name != "read_file" {
		t.Errorf("tool call = %+v", tc)
	}
	if tc.Function.Arguments != `{"file_path":"foo.txt"}` {
		t.Errorf("arguments round-tripped as %q", tc.Function.Arguments)
	}
}

func TestToolCallArgumentsStayUnparsed(t *testing.T) {
	// Arguments are raw text until the dispatcher validates them; malformed
	// JSON must survive construction and serialization untouched so the
	// repair pipeline can see the original bytes.
	tc := ToolCall{
		ID:       "call-2",
		Function: ToolCallFunction{Name: "open_file", Arguments: `{"start_line":"1","end_line": 60"}`},
	}
	data, err := json.Marshal(tc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded ToolCall
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Function.Arguments != tc.Function.Arguments {
		t.Errorf("arguments changed: %q", decoded.Function.Arguments)
	}
}

func TestIsToolResponse(t *testing.T) {
	msg := Message{Role: RoleTool, ToolCallID: "call-1", Name: "read_file", Content: "HELLO"}
	if !msg.IsToolResponse() {
		t.Error("tool message with call id should be a tool response")
	}
	if (&Message{Role: RoleTool}).IsToolResponse() {
		t.Error("tool message without call id is not a valid response")
	}
	if (&Message{Role: RoleUser, ToolCallID: "x"}).IsToolResponse() {
		t.Error("non-tool role is never a tool response")
	}
}

func TestReasoningOmittedWhenEmpty(t *testing.T) {
	data, err := json.Marshal(Message{Role: RoleUser, Content: "hi"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := m["reasoning"]; ok {
		t.Error("empty reasoning should be omitted from serialization")
	}
	if _, ok := m["tool_calls"]; ok {
		t.Error("empty tool_calls should be omitted from serialization")
	}
}
