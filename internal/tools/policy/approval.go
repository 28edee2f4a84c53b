// Package policy provides tool authorization and access control.
// This file implements the approval workflow for destructive tools.
package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrApprovalRequired = errors.New("approval required")
	ErrApprovalDenied   = errors.New("approval denied")
	ErrApprovalExpired  = errors.New("approval expired")
)

// ActionKind classifies what a destructive tool is about to do. Tools pass
// it alongside a target identifier (path or command) so policy can be keyed
// on the kind of mutation rather than on tool names.
type ActionKind string

const (
	ActionFileWrite     ActionKind = "file_write"
	ActionFileEdit      ActionKind = "file_edit"
	ActionShellExec     ActionKind = "shell_exec"
	ActionApplyEditPlan ActionKind = "apply_edit_plan"
)

// RiskLevel orders actions by blast radius.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

// String returns the lowercase risk name.
func (r RiskLevel) String() string {
	switch r {
	case RiskCritical:
		return "critical"
	case RiskHigh:
		return "high"
	case RiskMedium:
		return "medium"
	default:
		return "low"
	}
}

// ApprovalRequest represents one pending or decided approval.
type ApprovalRequest struct {
	ID           string
	Action       ActionKind
	Target       string // path or command
	Prompt       string // human-readable question shown to the user
	RiskLevel    RiskLevel
	SessionID    string
	RequestedAt  time.Time
	ExpiresAt    time.Time
	Status       ApprovalStatus
	DecidedAt    *time.Time
	DenialReason string
}

// ApprovalStatus represents the current status of an approval request.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusDenied   ApprovalStatus = "denied"
	ApprovalStatusExpired  ApprovalStatus = "expired"
)

// RiskApprovalPolicy defines approval requirements for a specific risk level.
type RiskApprovalPolicy struct {
	// RequireApproval always asks the user regardless of auto-approval.
	RequireApproval bool

	// MaxAutoApprovePerSession limits auto-approvals per session;
	// 0 means unlimited.
	MaxAutoApprovePerSession int
}

// ApprovalPolicy defines when approval is required for tool execution.
type ApprovalPolicy struct {
	// RiskOf maps an action kind to its risk level. Unlisted kinds are
	// treated as RiskHigh.
	RiskOf map[ActionKind]RiskLevel

	// ByRiskLevel defines approval requirements per risk level.
	ByRiskLevel map[RiskLevel]RiskApprovalPolicy

	// ApprovalTimeout is how long a pending request remains valid.
	ApprovalTimeout time.Duration

	// NonInteractive denies everything that would need a user prompt,
	// for hosts with no one to ask.
	NonInteractive bool
}

// DefaultApprovalPolicy returns the default policy: file mutations are
// high risk, shell execution and whole-plan application are critical, and
// anything high or above asks the user.
func DefaultApprovalPolicy() *ApprovalPolicy {
	return &ApprovalPolicy{
		RiskOf: map[ActionKind]RiskLevel{
			ActionFileWrite:     RiskHigh,
			ActionFileEdit:      RiskHigh,
			ActionShellExec:     RiskCritical,
			ActionApplyEditPlan: RiskCritical,
		},
		ByRiskLevel: map[RiskLevel]RiskApprovalPolicy{
			RiskLow:      {RequireApproval: false},
			RiskMedium:   {RequireApproval: false, MaxAutoApprovePerSession: 10},
			RiskHigh:     {RequireApproval: true},
			RiskCritical: {RequireApproval: true},
		},
		ApprovalTimeout: 5 * time.Minute,
	}
}

// Prompter asks the user to approve a request. Implementations belong to
// the embedding collaborator (REPL, web UI); returning an error counts as
// a denial with the error text as the reason.
type Prompter func(ctx context.Context, req *ApprovalRequest) (approved bool, reason string, err error)

// ApprovalManager is the PolicyManager destructive tools consult before
// acting. It is safe for concurrent use at session boundaries; the
// tool-call loop itself is sequential.
type ApprovalManager struct {
	mu       sync.RWMutex
	policy   *ApprovalPolicy
	prompter Prompter
	requests map[string]*ApprovalRequest

	onApprovalDecided func(*ApprovalRequest)

	// sessionApprovals tracks auto-approvals per session per risk level.
	sessionApprovals map[string]map[RiskLevel]int
}

// NewApprovalManager creates an approval manager. A nil policy uses
// DefaultApprovalPolicy; a nil prompter makes every prompt-requiring
// action a denial (non-interactive behavior).
func NewApprovalManager(policy *ApprovalPolicy, prompter Prompter) *ApprovalManager {
	if policy == nil {
		policy = DefaultApprovalPolicy()
	}
	return &ApprovalManager{
		policy:           policy,
		prompter:         prompter,
		requests:         make(map[string]*ApprovalRequest),
		sessionApprovals: make(map[string]map[RiskLevel]int),
	}
}

// OnApprovalDecided installs a callback invoked after every decision.
func (m *ApprovalManager) OnApprovalDecided(fn func(*ApprovalRequest)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onApprovalDecided = fn
}

// Approve asks whether a destructive action may proceed. It returns
// (approved, rejection reason). The caller turns a rejection into an
// OPERATION CANCELLED BY USER tool result; nothing here raises.
func (m *ApprovalManager) Approve(ctx context.Context, sessionID string, action ActionKind, target, prompt string) (bool, string) {
	risk := m.riskOf(action)
	req := &ApprovalRequest{
		ID:          uuid.NewString(),
		Action:      action,
		Target:      target,
		Prompt:      prompt,
		RiskLevel:   risk,
		SessionID:   sessionID,
		RequestedAt: time.Now(),
		ExpiresAt:   time.Now().Add(m.policy.ApprovalTimeout),
		Status:      ApprovalStatusPending,
	}

	m.mu.Lock()
	m.requests[req.ID] = req
	m.mu.Unlock()

	if !m.needsPrompt(sessionID, risk) {
		m.trackAutoApproval(sessionID, risk)
		m.decide(req, ApprovalStatusApproved, "")
		return true, ""
	}

	if m.policy.NonInteractive || m.prompter == nil {
		m.decide(req, ApprovalStatusDenied, "no interactive approver available")
		return false, "no interactive approver available"
	}

	promptCtx := ctx
	if m.policy.ApprovalTimeout > 0 {
		var cancel context.CancelFunc
		promptCtx, cancel = context.WithTimeout(ctx, m.policy.ApprovalTimeout)
		defer cancel()
	}

	approved, reason, err := m.prompter(promptCtx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			m.decide(req, ApprovalStatusExpired, "approval timed out")
			return false, "approval timed out"
		}
		m.decide(req, ApprovalStatusDenied, err.Error())
		return false, err.Error()
	}
	if !approved {
		if reason == "" {
			reason = fmt.Sprintf("%s on %s rejected", action, target)
		}
		m.decide(req, ApprovalStatusDenied, reason)
		return false, reason
	}

	m.decide(req, ApprovalStatusApproved, "")
	return true, ""
}

// GetRequest returns a request by id.
func (m *ApprovalManager) GetRequest(id string) (*ApprovalRequest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[id]
	return req, ok
}

// PendingRequests returns all requests still awaiting a decision.
func (m *ApprovalManager) PendingRequests() []*ApprovalRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ApprovalRequest
	for _, req := range m.requests {
		if req.Status == ApprovalStatusPending {
			out = append(out, req)
		}
	}
	return out
}

func (m *ApprovalManager) riskOf(action ActionKind) RiskLevel {
	if level, ok := m.policy.RiskOf[action]; ok {
		return level
	}
	return RiskHigh
}

// needsPrompt decides whether the user must be asked, consuming the
// session's auto-approval budget for the risk level when one is set.
func (m *ApprovalManager) needsPrompt(sessionID string, risk RiskLevel) bool {
	rule, ok := m.policy.ByRiskLevel[risk]
	if !ok {
		return true
	}
	if rule.RequireApproval {
		return true
	}
	if rule.MaxAutoApprovePerSession > 0 {
		m.mu.RLock()
		count := m.sessionApprovals[sessionID][risk]
		m.mu.RUnlock()
		if count >= rule.MaxAutoApprovePerSession {
			return true
		}
	}
	return false
}

func (m *ApprovalManager) trackAutoApproval(sessionID string, risk RiskLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessionApprovals[sessionID] == nil {
		m.sessionApprovals[sessionID] = make(map[RiskLevel]int)
	}
	m.sessionApprovals[sessionID][risk]++
}

func (m *ApprovalManager) decide(req *ApprovalRequest, status ApprovalStatus, reason string) {
	now := time.Now()
	m.mu.Lock()
	req.Status = status
	req.DecidedAt = &now
	req.DenialReason = reason
	callback := m.onApprovalDecided
	m.mu.Unlock()

	if callback != nil {
		callback(req)
	}
}
