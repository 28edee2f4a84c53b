// Package config loads the conversation orchestrator's YAML configuration:
// model-slot backend bindings, loop-control and compaction thresholds, tool
// execution/approval policy, and logging. Values load from a YAML file
// with environment-variable overrides and defaulting, then validate in
// one pass so an operator sees every problem at once.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ayourtch/kimichat-go/internal/agent"
	"github.com/ayourtch/kimichat-go/internal/models"
	"github.com/ayourtch/kimichat-go/internal/progress"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for a kimichat-go process.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Models  ModelsConfig  `yaml:"models"`
	Loop    LoopConfig    `yaml:"loop"`
	Tools   ToolsConfig   `yaml:"tools"`
}

// ServerConfig configures the composition-root example binary.
type ServerConfig struct {
	Host        string `yaml:"host"`
	MetricsPort int    `yaml:"metrics_port"`
}

// LoggingConfig controls log verbosity and output shape.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SlotConfig is the YAML shape of a single model slot's backend binding,
// mirroring internal/models.SlotConfig.
type SlotConfig struct {
	BaseURL            string `yaml:"base_url"`
	CredentialEnv      string `yaml:"credential_env"`
	ModelName          string `yaml:"model_name"`
	RequiresCredential bool   `yaml:"requires_credential"`
}

// ModelsConfig configures the model registry and router.
type ModelsConfig struct {
	// DefaultBaseURL/DefaultCredentialEnv back the global fallback
	// OpenAI-compatible backend used when a slot has no explicit URL.
	DefaultBaseURL       string `yaml:"default_base_url"`
	DefaultCredentialEnv string `yaml:"default_credential_env"`

	// Slots is keyed by slot name: "blu", "grn", "red", "anthropic", or a
	// custom slot's operator-facing name.
	Slots map[string]SlotConfig `yaml:"slots"`

	// ActiveSlot is the slot a fresh session starts on. Default: "blu".
	ActiveSlot string `yaml:"active_slot"`

	// FallbackSlot is the slot the self-repair pipeline force-switches to
	// when repair fails or a hallucinated tool name is reported. Empty
	// disables forced switching.
	FallbackSlot string `yaml:"fallback_slot"`
}

// Router builds an internal/models.Router from the configured slots.
func (m ModelsConfig) Router() *models.Router {
	slots := make(map[string]models.SlotConfig, len(m.Slots))
	for name, s := range m.Slots {
		slots[name] = models.SlotConfig{
			BaseURL:            s.BaseURL,
			CredentialEnv:      s.CredentialEnv,
			ModelName:          s.ModelName,
			RequiresCredential: s.RequiresCredential,
		}
	}
	return models.NewRouter(slots, m.DefaultBaseURL, m.DefaultCredentialEnv)
}

// LoopConfig configures the loop-control cascade, Context Compaction
// Engine probe threshold, and Progress Evaluator cadence. Zero-valued
// fields fall back to the package defaults in
// DefaultLoopControlConfig/progress.DefaultConfig.
type LoopConfig struct {
	SignatureWindow              int           `yaml:"signature_window"`
	ConsecutiveThreshold         int           `yaml:"consecutive_threshold"`
	TotalThreshold               int           `yaml:"total_threshold"`
	ReadOnlyConsecutiveThreshold int           `yaml:"read_only_consecutive_threshold"`
	ReadOnlyTotalThreshold       int           `yaml:"read_only_total_threshold"`
	CompactionProbeEvery         int           `yaml:"compaction_probe_every"`
	CompactionProbeBytes         int           `yaml:"compaction_probe_bytes"`
	ProgressEvaluationEvery      int           `yaml:"progress_evaluation_every"`
	HardIterationCeiling         int           `yaml:"hard_iteration_ceiling"`
	MinConfidence                float64       `yaml:"min_confidence"`
	SoftTimeout                  time.Duration `yaml:"soft_timeout"`
}

// LoopControlConfig converts to internal/agent.LoopControlConfig, omitting
// zero fields so the agent package's own defaults still apply to them.
func (l LoopConfig) LoopControlConfig() *agent.LoopControlConfig {
	defaults := agent.DefaultLoopControlConfig()
	cfg := *defaults
	if l.SignatureWindow > 0 {
		cfg.SignatureWindow = l.SignatureWindow
	}
	if l.ConsecutiveThreshold > 0 {
		cfg.ConsecutiveThreshold = l.ConsecutiveThreshold
	}
	if l.TotalThreshold > 0 {
		cfg.TotalThreshold = l.TotalThreshold
	}
	if l.ReadOnlyConsecutiveThreshold > 0 {
		cfg.ReadOnlyConsecutiveThreshold = l.ReadOnlyConsecutiveThreshold
	}
	if l.ReadOnlyTotalThreshold > 0 {
		cfg.ReadOnlyTotalThreshold = l.ReadOnlyTotalThreshold
	}
	if l.CompactionProbeEvery > 0 {
		cfg.CompactionProbeEvery = l.CompactionProbeEvery
	}
	if l.CompactionProbeBytes > 0 {
		cfg.CompactionProbeBytes = l.CompactionProbeBytes
	}
	if l.ProgressEvaluationEvery > 0 {
		cfg.ProgressEvaluationEvery = l.ProgressEvaluationEvery
	}
	if l.HardIterationCeiling > 0 {
		cfg.HardIterationCeiling = l.HardIterationCeiling
	}
	return &cfg
}

// ProgressConfig converts to internal/progress.Config.
func (l LoopConfig) ProgressConfig() progress.Config {
	defaults := progress.DefaultConfig()
	if l.MinConfidence > 0 {
		defaults.MinConfidence = l.MinConfidence
	}
	if l.ProgressEvaluationEvery > 0 {
		defaults.IntervalIterations = l.ProgressEvaluationEvery
	}
	if l.SoftTimeout > 0 {
		defaults.SoftTimeout = l.SoftTimeout
	}
	return defaults
}

// ToolsConfig configures the Tool Registry/Dispatcher's execution and
// approval behavior.
type ToolsConfig struct {
	Execution ToolExecutionConfig `yaml:"execution"`
	Approval  ApprovalConfig      `yaml:"approval"`
	Jobs      ToolJobsConfig      `yaml:"jobs"`
}

// ToolExecutionConfig controls runtime tool execution behavior.
type ToolExecutionConfig struct {
	MaxConcurrency  int           `yaml:"max_concurrency"`
	DefaultTimeout  time.Duration `yaml:"default_timeout"`
	DefaultRetries  int           `yaml:"default_retries"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	MaxRetryBackoff time.Duration `yaml:"max_retry_backoff"`
	MaxToolCalls    int           `yaml:"max_tool_calls"`
}

// ExecutorConfig converts to internal/agent.ExecutorConfig.
func (t ToolExecutionConfig) ExecutorConfig() *agent.ExecutorConfig {
	defaults := agent.DefaultExecutorConfig()
	cfg := *defaults
	if t.MaxConcurrency > 0 {
		cfg.MaxConcurrency = t.MaxConcurrency
	}
	if t.DefaultTimeout > 0 {
		cfg.DefaultTimeout = t.DefaultTimeout
	}
	if t.DefaultRetries > 0 {
		cfg.DefaultRetries = t.DefaultRetries
	}
	if t.RetryBackoff > 0 {
		cfg.RetryBackoff = t.RetryBackoff
	}
	if t.MaxRetryBackoff > 0 {
		cfg.MaxRetryBackoff = t.MaxRetryBackoff
	}
	return &cfg
}

// ApprovalConfig controls tool approval behavior.
type ApprovalConfig struct {
	// Profile is a pre-configured tool access level: "coding", "messaging",
	// "readonly", "full", "minimal".
	Profile string `yaml:"profile"`

	// Allowlist/Denylist support patterns like "mcp:*", "read_*", "*", and
	// group references like "group:fs".
	Allowlist []string `yaml:"allowlist"`
	Denylist  []string `yaml:"denylist"`

	// DefaultDecision when no rule matches: "allowed", "denied", or "pending".
	DefaultDecision string `yaml:"default_decision"`

	// RequestTTL is how long approval requests remain valid.
	RequestTTL time.Duration `yaml:"request_ttl"`
}

// ToolJobsConfig controls async tool job persistence.
type ToolJobsConfig struct {
	Retention     time.Duration `yaml:"retention"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Models.ActiveSlot == "" {
		cfg.Models.ActiveSlot = "blu"
	}
	if cfg.Tools.Jobs.Retention == 0 {
		cfg.Tools.Jobs.Retention = 24 * time.Hour
	}
	if cfg.Tools.Jobs.PruneInterval == 0 {
		cfg.Tools.Jobs.PruneInterval = time.Hour
	}
	if cfg.Tools.Approval.DefaultDecision == "" {
		cfg.Tools.Approval.DefaultDecision = "pending"
	}
	if cfg.Tools.Approval.RequestTTL == 0 {
		cfg.Tools.Approval.RequestTTL = 15 * time.Minute
	}
}

func applyEnvOverrides(cfg *Config) {
	if value := strings.TrimSpace(os.Getenv("KIMICHAT_HOST")); value != "" {
		cfg.Server.Host = value
	}
	if value := strings.TrimSpace(os.Getenv("KIMICHAT_METRICS_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.MetricsPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("KIMICHAT_ACTIVE_SLOT")); value != "" {
		cfg.Models.ActiveSlot = value
	}
}

// ConfigValidationError reports one or more configuration problems found by
// validateConfig. Multiple issues are collected rather than failing fast so
// an operator can fix a config file in one pass.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	var issues []string

	if _, err := models.ParseSlot(cfg.Models.ActiveSlot); err != nil {
		issues = append(issues, fmt.Sprintf("models.active_slot %q is invalid: %v", cfg.Models.ActiveSlot, err))
	}
	if cfg.Models.FallbackSlot != "" {
		if _, err := models.ParseSlot(cfg.Models.FallbackSlot); err != nil {
			issues = append(issues, fmt.Sprintf("models.fallback_slot %q is invalid: %v", cfg.Models.FallbackSlot, err))
		}
	}

	if cfg.Tools.Execution.MaxConcurrency < 0 {
		issues = append(issues, "tools.execution.max_concurrency must be >= 0")
	}
	if cfg.Tools.Execution.MaxToolCalls < 0 {
		issues = append(issues, "tools.execution.max_tool_calls must be >= 0")
	}
	if profile := strings.ToLower(strings.TrimSpace(cfg.Tools.Approval.Profile)); profile != "" {
		switch profile {
		case "coding", "messaging", "readonly", "full", "minimal":
		default:
			issues = append(issues, "tools.approval.profile must be \"coding\", \"messaging\", \"readonly\", \"full\", or \"minimal\"")
		}
	}
	if decision := strings.ToLower(strings.TrimSpace(cfg.Tools.Approval.DefaultDecision)); decision != "" {
		switch decision {
		case "allowed", "denied", "pending":
		default:
			issues = append(issues, "tools.approval.default_decision must be \"allowed\", \"denied\", or \"pending\"")
		}
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}
