package sessions

import (
	"encoding/json"
	"errors"

	"github.com/ayourtch/kimichat-go/pkg/models"
)

// Transcript is the ordered message list one turn sends to the LLM. Index 0
// is the system prompt and is never removed except by Reseat; the
// serialized JSON length is the compaction trigger metric.
type Transcript struct {
	messages []*models.Message
}

// NewTranscript seeds a transcript with its system prompt.
func NewTranscript(systemPrompt string) *Transcript {
	return &Transcript{
		messages: []*models.Message{{Role: models.RoleSystem, Content: systemPrompt}},
	}
}

// TranscriptFromMessages wraps an existing message list. The caller is
// responsible for the list starting with a system message; Validate checks.
func TranscriptFromMessages(messages []*models.Message) *Transcript {
	return &Transcript{messages: messages}
}

// Append adds a message at the tail. O(1) amortized.
func (t *Transcript) Append(msg *models.Message) {
	t.messages = append(t.messages, msg)
}

// TruncateKeep drops every message at or after index, keeping [0, index).
// The system prompt at index 0 survives any TruncateKeep call with
// index >= 1; index <= 0 is a no-op rather than an empty transcript.
func (t *Transcript) TruncateKeep(index int) {
	if index <= 0 || index >= len(t.messages) {
		return
	}
	t.messages = t.messages[:index]
}

// Reseat replaces the system prompt at index 0.
func (t *Transcript) Reseat(systemPrompt string) {
	if len(t.messages) == 0 {
		t.messages = []*models.Message{{Role: models.RoleSystem, Content: systemPrompt}}
		return
	}
	t.messages[0] = &models.Message{Role: models.RoleSystem, Content: systemPrompt}
}

// Len returns the message count.
func (t *Transcript) Len() int {
	return len(t.messages)
}

// At returns the message at index i.
func (t *Transcript) At(i int) *models.Message {
	return t.messages[i]
}

// Messages returns the underlying slice. Callers must not reorder it.
func (t *Transcript) Messages() []*models.Message {
	return t.messages
}

// SerializedSize returns the byte count of the transcript's canonical JSON
// encoding, the metric compaction thresholds are compared against.
func (t *Transcript) SerializedSize() int {
	b, err := json.Marshal(t.messages)
	if err != nil {
		return 0
	}
	return len(b)
}

// Validate checks the transcript invariants: a system prompt at index 0,
// tool calls only on assistant messages, and every tool message answering
// a tool-call id issued by a prior assistant message.
func (t *Transcript) Validate() error {
	return ValidateMessages(t.messages)
}

// ValidateMessages applies the transcript invariants to a raw message list.
func ValidateMessages(messages []*models.Message) error {
	if len(messages) == 0 {
		return errors.New("transcript is empty")
	}
	if messages[0].Role != models.RoleSystem {
		return errors.New("transcript does not start with a system message")
	}

	issued := make(map[string]struct{})
	for _, msg := range messages {
		if msg == nil {
			return errors.New("transcript contains a nil message")
		}
		if len(msg.ToolCalls) > 0 && msg.Role != models.RoleAssistant {
			return errors.New("tool calls on a non-assistant message")
		}
		if msg.Role == models.RoleAssistant {
			for _, call := range msg.ToolCalls {
				issued[call.ID] = struct{}{}
			}
		}
		if msg.Role == models.RoleTool {
			if msg.ToolCallID == "" {
				return errors.New("tool message without tool_call_id")
			}
			if _, ok := issued[msg.ToolCallID]; !ok {
				return errors.New("tool message answers unknown tool_call_id " + msg.ToolCallID)
			}
		}
	}
	return nil
}
