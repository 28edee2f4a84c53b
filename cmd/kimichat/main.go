// Command kimichat is a minimal composition-root example: it wires the
// router, providers, tool registry, compaction engine, progress evaluator,
// and the agentic loop together and runs one turn from the command line.
// It is a smoke-test harness, not a CLI surface.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ayourtch/kimichat-go/internal/agent"
	"github.com/ayourtch/kimichat-go/internal/agent/providers"
	"github.com/ayourtch/kimichat-go/internal/agent/tape"
	"github.com/ayourtch/kimichat-go/internal/config"
	modelslot "github.com/ayourtch/kimichat-go/internal/models"
	"github.com/ayourtch/kimichat-go/internal/multiagent"
	"github.com/ayourtch/kimichat-go/internal/observability"
	"github.com/ayourtch/kimichat-go/internal/providers/venice"
	"github.com/ayourtch/kimichat-go/internal/progress"
	"github.com/ayourtch/kimichat-go/internal/sessions"
	"github.com/ayourtch/kimichat-go/internal/tools/editplan"
	policy "github.com/ayourtch/kimichat-go/internal/tools/policy"
	"github.com/ayourtch/kimichat-go/internal/usage"
	"github.com/ayourtch/kimichat-go/pkg/models"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "kimichat:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := "kimichat.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slot, err := modelslot.ParseSlot(cfg.Models.ActiveSlot)
	if err != nil {
		return fmt.Errorf("active slot: %w", err)
	}

	router := cfg.Models.Router()
	binding, err := router.Resolve(slot)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", slot, err)
	}

	provider, err := buildProvider(binding)
	if err != nil {
		return err
	}

	// KIMICHAT_TAPE records every completion to a tape file for offline
	// replay against the deterministic tape.Replayer.
	var recorder *tape.Recorder
	if tapePath := os.Getenv("KIMICHAT_TAPE"); tapePath != "" {
		recorder = tape.NewRecorder(provider).WithModel(binding.ModelName)
		provider = recorder
		defer func() {
			if data, err := recorder.Tape().Marshal(); err == nil {
				_ = os.WriteFile(tapePath, data, 0o600)
			}
		}()
	}

	loopCfg := &agent.LoopConfig{
		ExecutorConfig: cfg.Tools.Execution.ExecutorConfig(),
		LoopControl:    cfg.Loop.LoopControlConfig(),
		Evaluator:      progress.NewHeuristicEvaluator(cfg.Loop.ProgressConfig()),
		ActiveSlot:     slot,
		Metrics:        observability.NewMetrics(),
		UsageTracker:   usage.NewTracker(usage.DefaultTrackerConfig()),
	}

	if cfg.Server.MetricsPort > 0 {
		go func() {
			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort)
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			_ = http.ListenAndServe(addr, mux)
		}()
	}
	if cfg.Models.FallbackSlot != "" {
		fallback, err := modelslot.ParseSlot(cfg.Models.FallbackSlot)
		if err != nil {
			return fmt.Errorf("fallback slot: %w", err)
		}
		loopCfg.FallbackSlot = fallback

		// Transport-level failures fail over to the fallback slot's
		// backend; the loop's forced-switch path handles tool-call
		// rejections above this layer.
		if fallbackBinding, err := router.Resolve(fallback); err == nil {
			if fallbackProvider, err := buildProvider(fallbackBinding); err == nil {
				failover := agent.NewFailoverOrchestrator(provider, nil)
				failover.AddProvider(fallbackProvider)
				provider = failover
			}
		}
	}

	// KIMICHAT_TRACE appends run/iteration/model/tool lifecycle events to a
	// JSONL trace file.
	if tracePath := os.Getenv("KIMICHAT_TRACE"); tracePath != "" {
		writer, err := agent.NewTraceWriterFile(tracePath, uuid.NewString())
		if err != nil {
			return fmt.Errorf("open trace file: %w", err)
		}
		defer writer.Close()
		loopCfg.Events = agent.NewEventEmitter(uuid.NewString(), writer)
	}

	// The compaction engine summarizes through the "other" slot, resolving
	// a fresh provider per call so a mid-session switch picks up the right
	// backend.
	compactionChat := func(ctx context.Context, s modelslot.Slot, systemPrompt, userPrompt string) (string, error) {
		b, err := router.Resolve(s)
		if err != nil {
			return "", err
		}
		p, err := buildProvider(b)
		if err != nil {
			return "", err
		}
		completion, err := p.Complete(ctx, &agent.CompletionRequest{
			Model:    b.ModelName,
			System:   systemPrompt,
			Messages: []agent.CompletionMessage{{Role: "user", Content: userPrompt}},
		})
		if err != nil {
			return "", err
		}
		var sb strings.Builder
		for chunk := range completion {
			if chunk.Error != nil {
				return "", chunk.Error
			}
			sb.WriteString(chunk.Text)
		}
		return sb.String(), nil
	}
	loopCfg.Compactor = agent.NewCompactionEngine(compactionChat, nil)

	store := sessions.NewMemoryStore()
	registry := agent.NewToolRegistry()
	loopCfg.ToolSchemaOf = registry.SchemaOf

	workDir, _ := os.Getwd()
	approvals := policy.NewApprovalManager(nil, terminalPrompter)
	registry.Register(editplan.New(workDir, "kimichat:repl", approvals))
	loopCfg.SelfRepair = agent.NewSelfRepair(func(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
		return compactionChat(ctx, loopCfg.ActiveSlot, systemPrompt, userPrompt)
	}, registry.SchemaOf)
	loop := agent.NewAgenticLoop(provider, registry, store, loopCfg)
	if binding.ModelName != "" {
		loop.SetDefaultModel(binding.ModelName)
	}

	// One process-wide interrupt handler publishing cancellation on the
	// current turn's context, scoped here rather than inside the library.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := store.GetOrCreate(ctx, sessions.SessionKey("kimichat", "repl"), "kimichat")
	if err != nil {
		return err
	}

	prompt, err := readPrompt()
	if err != nil {
		return err
	}

	// KIMICHAT_PLANNER routes the turn through the planner/executor
	// coordinator instead of the plain tool-call loop.
	if os.Getenv("KIMICHAT_PLANNER") != "" {
		return runPlanned(ctx, provider, binding.ModelName, session.ID, prompt)
	}

	chunks, err := loop.Run(ctx, session, &models.Message{Role: models.RoleUser, Content: prompt})
	if err != nil {
		return err
	}

	// KIMICHAT_STATE persists the conversation at the end of the turn in
	// the flat state-file format, reloadable by a later session.
	if statePath := os.Getenv("KIMICHAT_STATE"); statePath != "" {
		defer func() {
			history, err := store.GetHistory(context.Background(), session.ID, 0)
			if err != nil {
				return
			}
			state := &sessions.ConversationState{
				Messages:        append([]*models.Message{{Role: models.RoleSystem, Content: "You are a helpful assistant."}}, history...),
				CurrentModel:    loopCfg.ActiveSlot.String(),
				TotalTokensUsed: loop.TotalTokensUsed(),
			}
			_ = sessions.SaveConversationState(statePath, state)
		}()
	}

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	for chunk := range chunks {
		switch {
		case chunk.Error != nil:
			if ctx.Err() != nil {
				fmt.Fprintln(out, "\ninterrupted")
				return nil
			}
			return chunk.Error
		case chunk.Text != "":
			// Every delta is flushed before the next read; no batching.
			out.WriteString(chunk.Text)
			out.Flush()
		case chunk.ToolResult != nil:
			fmt.Fprintf(out, "\n[tool %s] %s\n", chunk.ToolResult.ToolCallID, chunk.ToolResult.Content)
		case chunk.Usage != nil:
			fmt.Fprintf(out, "\n[tokens: %d in, %d out, %d total]\n",
				chunk.Usage.InputTokens, chunk.Usage.OutputTokens, chunk.Usage.TotalTokensUsed)
		}
	}
	fmt.Fprintln(out)
	return nil
}

// buildProvider maps a resolved backend binding onto a concrete provider,
// following the transport classification from the router. Venice-hosted
// URLs get their dedicated OpenAI-compatible client.
func buildProvider(binding *modelslot.BackendBinding) (agent.LLMProvider, error) {
	switch binding.Transport {
	case modelslot.TransportAnthropicNative:
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:  binding.Credential,
			BaseURL: binding.BaseURL,
		})
	case modelslot.TransportLocal:
		if strings.Contains(binding.BaseURL, "venice") {
			return venice.NewVeniceProvider(venice.VeniceConfig{
				APIKey:       binding.Credential,
				BaseURL:      binding.BaseURL,
				DefaultModel: binding.ModelName,
			})
		}
		return providers.NewOllamaProvider(providers.OllamaConfig{
			BaseURL:      binding.BaseURL,
			DefaultModel: binding.ModelName,
		}), nil
	default:
		return providers.NewOpenAIProvider(binding.Credential), nil
	}
}

// runPlanned decomposes the request with the planner agent and executes
// the resulting tasks through specialist agents.
func runPlanned(ctx context.Context, provider agent.LLMProvider, model, sessionID, prompt string) error {
	coordinator := multiagent.NewCoordinator()
	coordinator.StatusSink = func(line string) { fmt.Fprintln(os.Stderr, line) }

	agents := []multiagent.Agent{
		multiagent.NewLLMAgent(multiagent.PlannerAgentName, "decomposes requests into tasks",
			provider, model, "You are a planning agent."),
		multiagent.NewLLMAgent("general", "general-purpose assistant",
			provider, model, "You are a helpful assistant."),
		multiagent.NewLLMAgent("coder", "writes and reviews code",
			provider, model, "You are an expert programmer."),
	}
	for _, a := range agents {
		if err := coordinator.Register(a); err != nil {
			return err
		}
	}

	result, err := coordinator.Run(ctx, &multiagent.ExecutionContext{
		SessionID:   sessionID,
		UserRequest: prompt,
	})
	if err != nil {
		return err
	}
	fmt.Println(result.Content)
	return nil
}

// terminalPrompter asks for approval on stderr and reads a y/N answer.
func terminalPrompter(ctx context.Context, req *policy.ApprovalRequest) (bool, string, error) {
	fmt.Fprintf(os.Stderr, "%s [y/N] ", req.Prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, "", err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	if answer == "y" || answer == "yes" {
		return true, "", nil
	}
	return false, strings.TrimSpace(line), nil
}

func readPrompt() (string, error) {
	if len(os.Args) > 2 {
		return strings.Join(os.Args[2:], " "), nil
	}
	fmt.Fprint(os.Stderr, "> ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
