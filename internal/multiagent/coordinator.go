package multiagent

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Coordinator runs the planner/executor pipeline for one session: planning
// decomposes the user request into agent-tagged tasks, execution drains the
// task queue through the registered agents, and synthesis folds the
// per-task results into one combined AgentResult.
type Coordinator struct {
	agents     map[string]Agent
	agentOrder []string
	visibility *VisibilityManager

	// StatusSink, when set, receives queue-status lines after planning and
	// after each task execution, and the task-hierarchy tree at end of
	// turn. Nil means no status output.
	StatusSink func(line string)

	queue      []*Task
	nextTaskID int
}

// NewCoordinator constructs a coordinator with no agents registered.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		agents:     make(map[string]Agent),
		visibility: NewVisibilityManager(),
	}
}

// Register adds an agent to the registry. Registering a second agent under
// the same name is a caller bug and returns an error rather than silently
// replacing the first.
func (c *Coordinator) Register(agent Agent) error {
	if agent == nil || agent.Name() == "" {
		return fmt.Errorf("register agent: empty name")
	}
	if _, exists := c.agents[agent.Name()]; exists {
		return fmt.Errorf("register agent: %q already registered", agent.Name())
	}
	c.agents[agent.Name()] = agent
	c.agentOrder = append(c.agentOrder, agent.Name())
	return nil
}

// Visibility exposes the session's VisibilityManager.
func (c *Coordinator) Visibility() *VisibilityManager {
	return c.visibility
}

// Breadcrumb returns the active task stack, outermost first.
func (c *Coordinator) Breadcrumb() []string {
	return c.visibility.Breadcrumb()
}

// Run executes one full turn: plan, execute, synthesize. Task execution
// errors are folded into results; only cancellation aborts the turn early.
func (c *Coordinator) Run(ctx context.Context, execCtx *ExecutionContext) (*AgentResult, error) {
	tasks := c.plan(ctx, execCtx)
	c.enqueue(tasks...)
	c.status(c.visibility.QueueStatus(len(c.queue)))

	results, err := c.execute(ctx, execCtx)
	if err != nil {
		return nil, err
	}

	for _, line := range c.visibility.HierarchyTree() {
		c.status(line)
	}
	return c.synthesize(results), nil
}

// plan asks the planner agent to decompose the request. Any failure
// (missing planner, agent error, unparseable output) falls back to a
// single task assigned to the first non-planner agent.
func (c *Coordinator) plan(ctx context.Context, execCtx *ExecutionContext) []*Task {
	planner, ok := c.agents[PlannerAgentName]
	if !ok {
		return []*Task{c.fallbackTask(execCtx.UserRequest)}
	}

	prompt := buildPlanningPrompt(execCtx.UserRequest, c.orderedAgents(), execCtx.ConversationSummary)
	planTask := c.newTask(prompt, TaskSimple, PriorityHigh, PlannerAgentName, "", 0)
	result, err := planner.Execute(ctx, planTask, execCtx)
	if err != nil || result == nil || !result.Success {
		return []*Task{c.fallbackTask(execCtx.UserRequest)}
	}

	plan, err := ParsePlan(result.Content)
	if err != nil {
		return []*Task{c.fallbackTask(execCtx.UserRequest)}
	}

	tasks := make([]*Task, 0, len(plan.Subtasks))
	for _, sub := range plan.Subtasks {
		tasks = append(tasks, c.newTask(sub.Description, TaskSimple, PriorityMedium, sub.Agent, "", 0))
	}
	return tasks
}

// execute drains the queue. Container tasks expand into their subtasks;
// leaves dispatch to their assigned agent, falling back to the first
// non-planner agent when the assignment names nobody in the registry.
// Cancellation is checked between tasks.
func (c *Coordinator) execute(ctx context.Context, execCtx *ExecutionContext) ([]*AgentResult, error) {
	var results []*AgentResult
	for len(c.queue) > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		task := c.dequeue()

		if task.IsContainer() {
			c.visibility.TaskStarted(task, task.AssignedAgent())
			c.expandContainer(task)
			c.visibility.TaskEnded(task.ID, &AgentResult{Success: true, TaskID: task.ID})
			c.status(c.visibility.QueueStatus(len(c.queue)))
			continue
		}

		agent := c.resolveAgent(task.AssignedAgent())
		if agent == nil {
			results = append(results, &AgentResult{
				Success:   false,
				Content:   "no agent available for task: " + task.Description,
				TaskID:    task.ID,
				AgentName: task.AssignedAgent(),
			})
			continue
		}

		c.visibility.TaskStarted(task, agent.Name())
		started := time.Now()
		result, err := agent.Execute(ctx, task, execCtx)
		if err != nil {
			result = &AgentResult{
				Success:   false,
				Content:   err.Error(),
				TaskID:    task.ID,
				AgentName: agent.Name(),
			}
		}
		if result.TaskID == "" {
			result.TaskID = task.ID
		}
		if result.AgentName == "" {
			result.AgentName = agent.Name()
		}
		if result.ExecutionTimeMS == 0 {
			result.ExecutionTimeMS = time.Since(started).Milliseconds()
		}
		c.visibility.TaskEnded(task.ID, result)
		results = append(results, result)

		for _, next := range result.NextTasks {
			c.adoptTask(next, task)
			c.enqueue(next)
		}
		c.status(c.visibility.QueueStatus(len(c.queue)))
	}
	return results, nil
}

// synthesize folds results into one. A single result passes through
// unchanged; multiple results are concatenated under per-agent headings
// with success as the conjunction.
func (c *Coordinator) synthesize(results []*AgentResult) *AgentResult {
	if len(results) == 0 {
		return &AgentResult{Success: false, Content: "no tasks were executed"}
	}
	if len(results) == 1 {
		return results[0]
	}

	success := true
	var totalMS int64
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n\n%s", r.AgentName, r.Content)
		success = success && r.Success
		totalMS += r.ExecutionTimeMS
	}
	return &AgentResult{
		Success:         success,
		Content:         b.String(),
		AgentName:       "coordinator",
		ExecutionTimeMS: totalMS,
	}
}

// expandContainer pushes a container's subtasks onto the queue, stamping
// parent and depth metadata. Sequential children keep their order;
// parallel children are ordered by priority.
func (c *Coordinator) expandContainer(task *Task) {
	children := make([]*Task, len(task.Subtasks))
	copy(children, task.Subtasks)
	if task.Type == TaskParallel {
		sort.SliceStable(children, func(i, j int) bool {
			return children[i].Priority > children[j].Priority
		})
	}
	for _, child := range children {
		c.adoptTask(child, task)
		c.enqueue(child)
	}
}

// adoptTask stamps a task produced outside newTask (agent next_tasks,
// container children) with an id and hierarchy metadata.
func (c *Coordinator) adoptTask(task *Task, parent *Task) {
	if task.ID == "" {
		c.nextTaskID++
		task.ID = fmt.Sprintf("task-%d", c.nextTaskID)
	}
	if task.Metadata == nil {
		task.Metadata = make(map[string]string)
	}
	if parent != nil {
		task.Metadata[MetaParentID] = parent.ID
		depth := 0
		fmt.Sscanf(parent.Metadata[MetaDepth], "%d", &depth)
		task.Metadata[MetaDepth] = strconv.Itoa(depth + 1)
	}
}

func (c *Coordinator) newTask(description string, taskType TaskType, priority Priority, agent, parentID string, depth int) *Task {
	c.nextTaskID++
	return &Task{
		ID:          fmt.Sprintf("task-%d", c.nextTaskID),
		Description: description,
		Type:        taskType,
		Priority:    priority,
		Metadata: map[string]string{
			MetaAssignedAgent: agent,
			MetaParentID:      parentID,
			MetaDepth:         strconv.Itoa(depth),
		},
	}
}

// fallbackTask wraps the whole user request in one task for the
// general-purpose (first non-planner) agent.
func (c *Coordinator) fallbackTask(request string) *Task {
	agent := ""
	if fallback := c.firstNonPlanner(); fallback != nil {
		agent = fallback.Name()
	}
	return c.newTask(request, TaskSimple, PriorityMedium, agent, "", 0)
}

// resolveAgent maps an assignment to a registered agent, substituting the
// first non-planner agent for unknown or empty names.
func (c *Coordinator) resolveAgent(name string) Agent {
	if agent, ok := c.agents[name]; ok && name != PlannerAgentName {
		return agent
	}
	return c.firstNonPlanner()
}

func (c *Coordinator) firstNonPlanner() Agent {
	for _, name := range c.agentOrder {
		if name != PlannerAgentName {
			return c.agents[name]
		}
	}
	return nil
}

func (c *Coordinator) orderedAgents() []Agent {
	out := make([]Agent, 0, len(c.agentOrder))
	for _, name := range c.agentOrder {
		out = append(out, c.agents[name])
	}
	return out
}

func (c *Coordinator) enqueue(tasks ...*Task) {
	c.queue = append(c.queue, tasks...)
	sort.SliceStable(c.queue, func(i, j int) bool {
		return c.queue[i].Priority > c.queue[j].Priority
	})
}

func (c *Coordinator) dequeue() *Task {
	task := c.queue[0]
	c.queue = c.queue[1:]
	return task
}

func (c *Coordinator) status(line string) {
	if c.StatusSink != nil {
		c.StatusSink(line)
	}
}
