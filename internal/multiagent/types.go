// Package multiagent implements the planner/executor coordinator: a
// designated planner agent decomposes a user request into agent-tagged
// tasks, the coordinator dispatches each task to a specialized agent, and
// the results are synthesized into a single combined answer.
//
// The coordinator owns the task queue and a per-session VisibilityManager;
// agents own no cross-task state. Execution is cooperative and sequential
// within a turn; cancellation is checked between tasks, never inside one.
package multiagent

import (
	"context"
	"time"
)

// TaskType classifies how a task is scheduled.
type TaskType string

const (
	// TaskSimple is a leaf task executed by a single agent.
	TaskSimple TaskType = "simple"

	// TaskComplex is a leaf task expected to need multiple loop iterations;
	// scheduling is identical to TaskSimple, the distinction is advisory.
	TaskComplex TaskType = "complex"

	// TaskParallel is a container whose subtasks have no ordering
	// dependency between them.
	TaskParallel TaskType = "parallel"

	// TaskSequential is a container whose subtasks must run in order.
	TaskSequential TaskType = "sequential"
)

// Priority orders tasks within the queue. Higher priorities drain first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// String returns the lowercase priority name.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// Metadata keys the coordinator maintains on every task.
const (
	MetaAssignedAgent = "assigned_agent"
	MetaParentID      = "parent_id"
	MetaDepth         = "depth"
)

// Task is a unit of planner output. Tasks form a tree: container types
// (TaskParallel, TaskSequential) carry Subtasks and are expanded by the
// coordinator; leaves are dispatched to the agent named in
// Metadata[MetaAssignedAgent].
type Task struct {
	ID          string            `json:"id"`
	Description string            `json:"description"`
	Type        TaskType          `json:"task_type"`
	Priority    Priority          `json:"priority"`
	Subtasks    []*Task           `json:"subtasks,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// AssignedAgent returns the agent name recorded in the task metadata, or ""
// when the planner left the task unassigned.
func (t *Task) AssignedAgent() string {
	if t.Metadata == nil {
		return ""
	}
	return t.Metadata[MetaAssignedAgent]
}

// IsContainer reports whether the task is expanded into subtasks rather
// than dispatched.
func (t *Task) IsContainer() bool {
	return t.Type == TaskParallel || t.Type == TaskSequential
}

// AgentResult is what an agent returns from executing one task.
type AgentResult struct {
	Success         bool              `json:"success"`
	Content         string            `json:"content"`
	TaskID          string            `json:"task_id"`
	AgentName       string            `json:"agent_name"`
	ExecutionTimeMS int64             `json:"execution_time_ms"`
	NextTasks       []*Task           `json:"next_tasks,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// ExecutionContext carries per-turn state into an agent's Execute call.
type ExecutionContext struct {
	// SessionID identifies the owning conversation session.
	SessionID string

	// UserRequest is the original, undecomposed user text.
	UserRequest string

	// ConversationSummary is a trimmed summary of recent conversation,
	// provided to the planner and available to every agent.
	ConversationSummary string

	// WorkingDir is the working directory tools should resolve paths
	// against.
	WorkingDir string
}

// Agent executes tasks. Implementations are registered with the
// coordinator by name; the planner tags tasks with these names.
type Agent interface {
	// Name returns the registry key the planner uses to address this agent.
	Name() string

	// Description explains the agent's specialty; included verbatim in the
	// planner's agent enumeration.
	Description() string

	// Tools lists the tool names this agent may invoke, for the planner's
	// enumeration. May be empty.
	Tools() []string

	// Execute runs one task to completion and returns its result. A
	// returned error means the agent itself failed (as opposed to the task
	// failing, which is reported through AgentResult.Success).
	Execute(ctx context.Context, task *Task, execCtx *ExecutionContext) (*AgentResult, error)
}

// TaskRecord is the visibility ledger entry for one task.
type TaskRecord struct {
	TaskID      string
	Description string
	AgentName   string
	ParentID    string
	Depth       int
	Subtasks    int
	StartedAt   time.Time
	EndedAt     time.Time
	Success     bool
	Done        bool
}

// Duration returns the task's wall-clock execution time, zero until done.
func (r *TaskRecord) Duration() time.Duration {
	if !r.Done {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// AgentRollup aggregates per-agent execution statistics.
type AgentRollup struct {
	AgentName   string
	Tasks       int
	Succeeded   int
	TotalTimeMS int64
}

// SuccessRate returns the fraction of this agent's tasks that succeeded.
func (r *AgentRollup) SuccessRate() float64 {
	if r.Tasks == 0 {
		return 0
	}
	return float64(r.Succeeded) / float64(r.Tasks)
}

// AverageTimeMS returns the mean task duration in milliseconds.
func (r *AgentRollup) AverageTimeMS() int64 {
	if r.Tasks == 0 {
		return 0
	}
	return r.TotalTimeMS / int64(r.Tasks)
}
