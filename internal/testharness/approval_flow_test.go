package testharness_test

import (
	"context"
	"strings"
	"testing"

	"github.com/ayourtch/kimichat-go/internal/agent"
	policy "github.com/ayourtch/kimichat-go/internal/tools/policy"
	"github.com/ayourtch/kimichat-go/pkg/models"
)

// TestApprovalRejectionBecomesCancelledResult covers the full policy path:
// a destructive tool consults the PolicyManager, the user rejects, and the
// rejection surfaces to the model as an OPERATION CANCELLED BY USER block
// rather than an error.
func TestApprovalRejectionBecomesCancelledResult(t *testing.T) {
	manager := policy.NewApprovalManager(nil, func(ctx context.Context, req *policy.ApprovalRequest) (bool, string, error) {
		return false, "keep the old version", nil
	})

	approved, reason := manager.Approve(context.Background(), "sess-1", policy.ActionFileEdit, "config.yaml", "apply this edit?")
	if approved {
		t.Fatal("expected rejection")
	}

	// The tool reports the rejection in its result text the way file tools
	// do, and the loop's shaping layer rewrites it.
	result := models.ToolResult{
		ToolCallID: "call-1",
		Content:    "Edit cancelled - " + reason,
		IsError:    true,
	}
	shaped := agent.ShapeCancelledToolResult(result)

	if !strings.HasPrefix(shaped.Content, "OPERATION CANCELLED BY USER") {
		t.Errorf("shaped content = %q", shaped.Content)
	}
	if !strings.Contains(shaped.Content, "keep the old version") {
		t.Errorf("user feedback lost: %q", shaped.Content)
	}
}

// TestApprovalGrantExecutes covers the approve path: the manager records
// the decision and the result passes through unshaped.
func TestApprovalGrantExecutes(t *testing.T) {
	var decided *policy.ApprovalRequest
	manager := policy.NewApprovalManager(nil, func(ctx context.Context, req *policy.ApprovalRequest) (bool, string, error) {
		return true, "", nil
	})
	manager.OnApprovalDecided(func(req *policy.ApprovalRequest) { decided = req })

	approved, _ := manager.Approve(context.Background(), "sess-1", policy.ActionShellExec, "go vet ./...", "run go vet?")
	if !approved {
		t.Fatal("expected approval")
	}
	if decided == nil || decided.Status != policy.ApprovalStatusApproved {
		t.Fatalf("decision not recorded: %+v", decided)
	}

	result := agent.ShapeCancelledToolResult(models.ToolResult{
		ToolCallID: "call-2",
		Content:    "vet passed",
	})
	if result.Content != "vet passed" || result.IsError {
		t.Errorf("approved result must pass through, got %+v", result)
	}
}

// TestNonInteractiveHostDeniesDestructiveTools pins the non-interactive
// default: with no prompter configured, destructive actions never proceed.
func TestNonInteractiveHostDeniesDestructiveTools(t *testing.T) {
	manager := policy.NewApprovalManager(nil, nil)

	for _, action := range []policy.ActionKind{
		policy.ActionFileWrite,
		policy.ActionFileEdit,
		policy.ActionShellExec,
		policy.ActionApplyEditPlan,
	} {
		if approved, _ := manager.Approve(context.Background(), "s", action, "target", "?"); approved {
			t.Errorf("%s approved without an approver", action)
		}
	}
}
