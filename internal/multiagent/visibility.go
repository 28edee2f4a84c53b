package multiagent

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// VisibilityManager tracks per-task lifecycle, the task hierarchy, and
// per-agent rollups for one coordinator session. It exposes data
// (VisibilityReport, queue-status lines, a hierarchy tree) rather than
// printing; rendering belongs to the embedding collaborator.
type VisibilityManager struct {
	records map[string]*TaskRecord
	order   []string // task ids in start order
	rollups map[string]*AgentRollup
	active  []string // currently executing task ids, innermost last
	now     func() time.Time
}

// NewVisibilityManager constructs an empty manager.
func NewVisibilityManager() *VisibilityManager {
	return &VisibilityManager{
		records: make(map[string]*TaskRecord),
		rollups: make(map[string]*AgentRollup),
		now:     time.Now,
	}
}

// TaskStarted records a task beginning execution (or, for container tasks,
// expansion). Depth and parent come from the task's metadata.
func (v *VisibilityManager) TaskStarted(task *Task, agentName string) {
	depth := 0
	parent := ""
	if task.Metadata != nil {
		parent = task.Metadata[MetaParentID]
		fmt.Sscanf(task.Metadata[MetaDepth], "%d", &depth)
	}
	rec := &TaskRecord{
		TaskID:      task.ID,
		Description: task.Description,
		AgentName:   agentName,
		ParentID:    parent,
		Depth:       depth,
		Subtasks:    len(task.Subtasks),
		StartedAt:   v.now(),
	}
	v.records[task.ID] = rec
	v.order = append(v.order, task.ID)
	v.active = append(v.active, task.ID)
	if p, ok := v.records[parent]; ok {
		p.Subtasks++
	}
}

// TaskEnded records a task finishing, updating its record and the owning
// agent's rollup.
func (v *VisibilityManager) TaskEnded(taskID string, result *AgentResult) {
	rec, ok := v.records[taskID]
	if !ok {
		return
	}
	rec.EndedAt = v.now()
	rec.Done = true
	rec.Success = result != nil && result.Success

	for i := len(v.active) - 1; i >= 0; i-- {
		if v.active[i] == taskID {
			v.active = append(v.active[:i], v.active[i+1:]...)
			break
		}
	}

	name := rec.AgentName
	rollup, ok := v.rollups[name]
	if !ok {
		rollup = &AgentRollup{AgentName: name}
		v.rollups[name] = rollup
	}
	rollup.Tasks++
	if rec.Success {
		rollup.Succeeded++
	}
	if result != nil {
		rollup.TotalTimeMS += result.ExecutionTimeMS
	}
}

// Breadcrumb returns the active task stack, outermost first, as
// "agent: description" lines.
func (v *VisibilityManager) Breadcrumb() []string {
	out := make([]string, 0, len(v.active))
	for _, id := range v.active {
		rec := v.records[id]
		out = append(out, fmt.Sprintf("%s: %s", rec.AgentName, rec.Description))
	}
	return out
}

// QueueStatus summarizes queue and execution state in one line, suitable
// for display after planning and after each task execution.
func (v *VisibilityManager) QueueStatus(pending int) string {
	done := 0
	failed := 0
	for _, rec := range v.records {
		if !rec.Done {
			continue
		}
		done++
		if !rec.Success {
			failed++
		}
	}
	return fmt.Sprintf("tasks: %d done (%d failed), %d active, %d queued", done, failed, len(v.active), pending)
}

// HierarchyTree renders the task hierarchy as indented lines in start
// order, marking each completed task's outcome and duration.
func (v *VisibilityManager) HierarchyTree() []string {
	lines := make([]string, 0, len(v.order))
	for _, id := range v.order {
		rec := v.records[id]
		status := "…"
		if rec.Done {
			status = "ok"
			if !rec.Success {
				status = "failed"
			}
		}
		line := fmt.Sprintf("%s%s [%s] %s", strings.Repeat("  ", rec.Depth), rec.Description, rec.AgentName, status)
		if rec.Done {
			line += fmt.Sprintf(" (%s)", rec.Duration().Round(time.Millisecond))
		}
		lines = append(lines, line)
	}
	return lines
}

// VisibilityReport is the end-of-turn snapshot: every task record in start
// order plus per-agent rollups sorted by agent name.
type VisibilityReport struct {
	Tasks   []TaskRecord
	Rollups []AgentRollup
}

// Report builds the end-of-turn VisibilityReport.
func (v *VisibilityManager) Report() *VisibilityReport {
	report := &VisibilityReport{}
	for _, id := range v.order {
		report.Tasks = append(report.Tasks, *v.records[id])
	}
	names := make([]string, 0, len(v.rollups))
	for name := range v.rollups {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		report.Rollups = append(report.Rollups, *v.rollups[name])
	}
	return report
}
