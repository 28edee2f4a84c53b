package models

import (
	"time"
)

// Role indicates the message author type in a transcript.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a role-tagged transcript entry. Fields beyond Role/Content are
// optional and only meaningful for certain roles: ToolCalls is populated on
// assistant messages that invoke tools; ToolCallID and Name identify which
// tool call a tool-role message answers; Reasoning carries vendor-supplied
// thinking text and is stripped before serialization for backends that
// reject it.
//
// Invariant: a message with non-empty ToolCalls has Role RoleAssistant.
// Every RoleTool message carries a ToolCallID matching a prior assistant
// message's tool-call id in the same transcript.
type Message struct {
	ID        string         `json:"id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []ToolCall     `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-role message back to the originating ToolCall.ID.
	ToolCallID string `json:"tool_call_id,omitempty"`
	// Name is the tool name, set on tool-role messages.
	Name string `json:"name,omitempty"`
	// Reasoning is vendor-supplied thinking text, never round-tripped to a
	// backend that rejects it. Callers that need to forward reasoning to a
	// provider strip this field themselves per that provider's contract.
	Reasoning string `json:"reasoning,omitempty"`

	Attachments []Attachment   `json:"attachments,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at,omitempty"`
}

// IsToolResponse reports whether the message answers a prior tool call.
func (m *Message) IsToolResponse() bool {
	return m.Role == RoleTool && m.ToolCallID != ""
}

// Attachment represents a file or media attachment carried alongside a message.
type Attachment struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // image, audio, video, document
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// ToolCall represents a model's request to execute a tool. Arguments is
// JSON-encoded text and is intentionally not parsed at construction time;
// the Dispatcher validates and decodes it against the tool's schema. Tool
// calls are immutable after a loop iteration completes except through the
// Self-Repair pipeline, which may rewrite Function.Arguments in place.
type ToolCall struct {
	ID       string           `json:"id"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction names the tool and carries its raw argument text.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResult is the output of a tool execution, produced by the Dispatcher
// and converted into a RoleTool Message by the Tool-Call Loop.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Transcript is an ordered sequence of Messages. Invariant: index 0 is the
// system prompt; the transcript's serialized JSON length is the compaction
// trigger metric (see internal/compaction).
type Transcript []*Message

// Session represents a persisted conversation thread, addressed by an
// opaque Key the owning collaborator constructs (see sessions.SessionKey).
type Session struct {
	ID        string         `json:"id"`
	AgentID   string         `json:"agent_id"`
	Key       string         `json:"key"`
	Title     string         `json:"title,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// User represents an authenticated user.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Agent represents a configured AI agent.
type Agent struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	Name         string         `json:"name"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Model        string         `json:"model"`
	Provider     string         `json:"provider"`
	Tools        []string       `json:"tools,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
