package sessions

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ayourtch/kimichat-go/pkg/models"
)

// stateFileVersion is written into every saved state file; loading rejects
// versions this build doesn't know.
const stateFileVersion = 1

// ConversationState is the on-disk persisted form of a conversation:
// the transcript, the active model slot name, and the cumulative token
// counter.
type ConversationState struct {
	Version         int               `json:"version"`
	Messages        []*models.Message `json:"messages"`
	CurrentModel    string            `json:"current_model"`
	TotalTokensUsed int               `json:"total_tokens_used"`
}

// SaveConversationState writes the state file. The write goes through a
// temp file and rename so a crash never leaves a half-written state.
func SaveConversationState(path string, state *ConversationState) error {
	if state == nil {
		return fmt.Errorf("save conversation state: state is nil")
	}
	out := *state
	out.Version = stateFileVersion

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode conversation state: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write conversation state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write conversation state: %w", err)
	}
	return nil
}

// LoadConversationState reads and validates a state file: the version must
// be known, messages must start with a system-role entry, and every tool
// message's tool_call_id must match a prior assistant-side id.
func LoadConversationState(path string) (*ConversationState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read conversation state: %w", err)
	}

	var state ConversationState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode conversation state: %w", err)
	}
	if state.Version != stateFileVersion {
		return nil, fmt.Errorf("conversation state version %d not supported", state.Version)
	}
	if err := ValidateMessages(state.Messages); err != nil {
		return nil, fmt.Errorf("conversation state invalid: %w", err)
	}
	if state.TotalTokensUsed < 0 {
		return nil, fmt.Errorf("conversation state invalid: negative token count")
	}
	return &state, nil
}
