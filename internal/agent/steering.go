// Steering and follow-up message support: collaborators inject messages
// into a running turn (steering) or queue them for after it completes
// (follow-up). The queue travels through the context so non-REPL hosts can
// plug in their own source without touching loop state.
package agent

import (
	"context"
	"sync"

	"github.com/ayourtch/kimichat-go/pkg/models"
)

// SteeringMessage is injected mid-run. When delivered with
// SkipRemainingTools set, the rest of the current tool batch is skipped
// and the model sees the steering text first.
type SteeringMessage struct {
	Content string

	// Role defaults to "user" if empty.
	Role string

	Attachments []models.Attachment

	// SkipRemainingTools skips the remaining tool calls in the current batch.
	SkipRemainingTools bool
}

// FollowUpMessage waits for the current run to complete before being
// processed as the next user input.
type FollowUpMessage struct {
	Content     string
	Role        string // defaults to "user"
	Attachments []models.Attachment
}

// SteeringQueue holds pending steering and follow-up messages for one
// session. Safe for concurrent use: producers are collaborator goroutines,
// the consumer is the loop.
type SteeringQueue struct {
	mu       sync.Mutex
	steering []*SteeringMessage
	followUp []*FollowUpMessage
}

// NewSteeringQueue creates an empty queue.
func NewSteeringQueue() *SteeringQueue {
	return &SteeringQueue{}
}

// Steer queues a steering message for delivery after the current tool
// execution completes.
func (q *SteeringQueue) Steer(msg *SteeringMessage) {
	if msg == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.steering = append(q.steering, msg)
}

// FollowUp queues a message for after the run finishes.
func (q *SteeringQueue) FollowUp(msg *FollowUpMessage) {
	if msg == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.followUp = append(q.followUp, msg)
}

// GetSteeringMessages drains and returns all pending steering messages.
func (q *SteeringQueue) GetSteeringMessages() []*SteeringMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	msgs := q.steering
	q.steering = nil
	return msgs
}

// GetFollowUpMessages drains and returns all pending follow-up messages.
func (q *SteeringQueue) GetFollowUpMessages() []*FollowUpMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	msgs := q.followUp
	q.followUp = nil
	return msgs
}

// Clear removes everything queued.
func (q *SteeringQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.steering = nil
	q.followUp = nil
}

type steeringQueueKey struct{}

// WithSteeringQueue stores a steering queue in the context.
func WithSteeringQueue(ctx context.Context, queue *SteeringQueue) context.Context {
	return context.WithValue(ctx, steeringQueueKey{}, queue)
}

// SteeringQueueFromContext retrieves the steering queue, or nil.
func SteeringQueueFromContext(ctx context.Context) *SteeringQueue {
	queue, ok := ctx.Value(steeringQueueKey{}).(*SteeringQueue)
	if !ok {
		return nil
	}
	return queue
}

// APIKeyResolver resolves credentials per LLM call. Needed for short-lived
// OAuth tokens that can expire during a long turn.
type APIKeyResolver func(ctx context.Context, provider string) (string, error)

type apiKeyResolverKey struct{}

// WithAPIKeyResolver stores an API key resolver in the context.
func WithAPIKeyResolver(ctx context.Context, resolver APIKeyResolver) context.Context {
	return context.WithValue(ctx, apiKeyResolverKey{}, resolver)
}

// APIKeyResolverFromContext retrieves the API key resolver, or nil.
func APIKeyResolverFromContext(ctx context.Context) APIKeyResolver {
	resolver, ok := ctx.Value(apiKeyResolverKey{}).(APIKeyResolver)
	if !ok {
		return nil
	}
	return resolver
}

type resolvedAPIKeyKey struct{}

// WithResolvedAPIKey stores a pre-resolved API key for providers to read.
func WithResolvedAPIKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, resolvedAPIKeyKey{}, key)
}

// ResolvedAPIKeyFromContext retrieves the pre-resolved key, or "".
func ResolvedAPIKeyFromContext(ctx context.Context) string {
	key, ok := ctx.Value(resolvedAPIKeyKey{}).(string)
	if !ok {
		return ""
	}
	return key
}

// ThinkingLevel configures the reasoning depth for supported models.
type ThinkingLevel string

const (
	ThinkingOff     ThinkingLevel = "off"
	ThinkingMinimal ThinkingLevel = "minimal"
	ThinkingLow     ThinkingLevel = "low"
	ThinkingMedium  ThinkingLevel = "medium"
	ThinkingHigh    ThinkingLevel = "high"
	ThinkingMax     ThinkingLevel = "max"
)

// ThinkingBudgets maps thinking levels to token budgets.
var ThinkingBudgets = map[ThinkingLevel]int{
	ThinkingOff:     0,
	ThinkingMinimal: 1024,
	ThinkingLow:     4096,
	ThinkingMedium:  16384,
	ThinkingHigh:    65536,
	ThinkingMax:     100000,
}

// GetThinkingBudget returns the token budget for a thinking level.
func GetThinkingBudget(level ThinkingLevel) int {
	if budget, ok := ThinkingBudgets[level]; ok {
		return budget
	}
	return 0
}

type thinkingLevelKey struct{}

// WithThinkingLevel stores a thinking level in the context.
func WithThinkingLevel(ctx context.Context, level ThinkingLevel) context.Context {
	return context.WithValue(ctx, thinkingLevelKey{}, level)
}

// ThinkingLevelFromContext retrieves the thinking level, defaulting to off.
func ThinkingLevelFromContext(ctx context.Context) ThinkingLevel {
	level, ok := ctx.Value(thinkingLevelKey{}).(ThinkingLevel)
	if !ok {
		return ThinkingOff
	}
	return level
}
