// Package editplan implements the apply-edit-plan tool: it consumes the
// edit-plan file a planning step wrote into the working directory, applies
// every edit atomically, and removes the file on success or abort.
package editplan

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ayourtch/kimichat-go/internal/agent"
	policy "github.com/ayourtch/kimichat-go/internal/tools/policy"
)

// PlanFileName is the edit-plan file consumed from the working directory.
const PlanFileName = ".kimichat_edit_plan.json"

// Edit is one entry of the plan file: replace OldContent with NewContent
// in FilePath.
type Edit struct {
	FilePath    string `json:"file_path"`
	OldContent  string `json:"old_content"`
	NewContent  string `json:"new_content"`
	Description string `json:"description"`
}

// Tool applies a pending edit plan. It is a destructive tool: every
// invocation consults the PolicyManager before touching the filesystem.
type Tool struct {
	workDir   string
	sessionID string
	approvals *policy.ApprovalManager
}

// New constructs the apply-edit-plan tool. A nil approvals manager makes
// every invocation a policy denial (non-interactive default).
func New(workDir, sessionID string, approvals *policy.ApprovalManager) *Tool {
	return &Tool{workDir: workDir, sessionID: sessionID, approvals: approvals}
}

// Name implements agent.Tool.
func (t *Tool) Name() string { return "apply_edit_plan" }

// Description implements agent.Tool.
func (t *Tool) Description() string {
	return "Applies the pending edit plan (" + PlanFileName + ") atomically: every edit re-reads its target and the whole plan fails on any mismatch."
}

// Schema implements agent.Tool. The tool takes no parameters; the plan
// file is the input.
func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

// Execute implements agent.Tool. The plan is applied all-or-nothing: each
// edit re-reads its target and compares against OldContent; any mismatch
// fails the whole plan with no file modified. The plan file is deleted on
// success and on abort.
func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	planPath := filepath.Join(t.workDir, PlanFileName)

	data, err := os.ReadFile(planPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &agent.ToolResult{Content: "no edit plan found: " + PlanFileName, IsError: true}, nil
		}
		return &agent.ToolResult{Content: "read edit plan: " + err.Error(), IsError: true}, nil
	}

	var edits []Edit
	if err := json.Unmarshal(data, &edits); err != nil {
		os.Remove(planPath)
		return &agent.ToolResult{Content: "invalid edit plan: " + err.Error(), IsError: true}, nil
	}
	if len(edits) == 0 {
		os.Remove(planPath)
		return &agent.ToolResult{Content: "edit plan is empty", IsError: true}, nil
	}

	if t.approvals == nil {
		os.Remove(planPath)
		return &agent.ToolResult{Content: "OPERATION CANCELLED BY USER - no interactive approver available", IsError: true}, nil
	}
	prompt := fmt.Sprintf("Apply %d edit(s) from %s?", len(edits), PlanFileName)
	approved, reason := t.approvals.Approve(ctx, t.sessionID, policy.ActionApplyEditPlan, planPath, prompt)
	if !approved {
		os.Remove(planPath)
		return &agent.ToolResult{Content: "OPERATION CANCELLED BY USER - " + reason, IsError: true}, nil
	}

	// Validate every edit against the current file contents before writing
	// anything, so a mismatch fails the whole plan.
	contents := make([]string, len(edits))
	for i, edit := range edits {
		target := t.resolve(edit.FilePath)
		current, err := os.ReadFile(target)
		if err != nil {
			os.Remove(planPath)
			return &agent.ToolResult{Content: fmt.Sprintf("edit %d: read %s: %v", i+1, edit.FilePath, err), IsError: true}, nil
		}
		if string(current) != edit.OldContent {
			os.Remove(planPath)
			return &agent.ToolResult{
				Content: fmt.Sprintf("edit %d: %s has changed since the plan was created; plan aborted", i+1, edit.FilePath),
				IsError: true,
			}, nil
		}
		contents[i] = edit.NewContent
	}

	applied := 0
	for i, edit := range edits {
		target := t.resolve(edit.FilePath)
		if err := os.WriteFile(target, []byte(contents[i]), 0o644); err != nil {
			os.Remove(planPath)
			return &agent.ToolResult{
				Content: fmt.Sprintf("edit %d: write %s: %v (%d of %d applied)", i+1, edit.FilePath, err, applied, len(edits)),
				IsError: true,
			}, nil
		}
		applied++
	}

	os.Remove(planPath)
	return &agent.ToolResult{Content: fmt.Sprintf("applied %d edit(s)", applied)}, nil
}

func (t *Tool) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(t.workDir, path)
}
