package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ayourtch/kimichat-go/internal/models"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, "models:\n  active_slot: grn\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected default host, got %q", cfg.Server.Host)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("expected default logging config, got %+v", cfg.Logging)
	}
	if cfg.Models.ActiveSlot != "grn" {
		t.Errorf("expected configured active slot to survive, got %q", cfg.Models.ActiveSlot)
	}
	if cfg.Tools.Jobs.Retention == 0 {
		t.Error("expected default job retention to be applied")
	}
}

func TestValidateConfigRejectsEmptyActiveSlot(t *testing.T) {
	cfg := &Config{}
	if err := validateConfig(cfg); err == nil {
		t.Fatal("expected an error for an empty active slot")
	}
}

func TestLoadAcceptsCustomActiveSlot(t *testing.T) {
	path := writeConfigFile(t, "models:\n  active_slot: my-finetune\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Models.ActiveSlot != "my-finetune" {
		t.Errorf("expected custom slot name to survive, got %q", cfg.Models.ActiveSlot)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfigFile(t, "totally_unknown_field: true\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected strict decoding to reject unknown top-level fields")
	}
}

func TestModelsConfigBuildsRouter(t *testing.T) {
	m := ModelsConfig{
		DefaultBaseURL: "https://api.openai.com/v1",
		Slots: map[string]SlotConfig{
			"red": {BaseURL: "https://api.anthropic.com/v1", CredentialEnv: "KIMICHAT_TEST_RED_KEY", RequiresCredential: true},
		},
	}
	t.Setenv("KIMICHAT_TEST_RED_KEY", "test-credential")
	router := m.Router()
	slot, err := models.ParseSlot("red")
	if err != nil {
		t.Fatalf("ParseSlot: %v", err)
	}
	binding, err := router.Resolve(slot)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if binding.Transport != "anthropic_native" {
		t.Errorf("expected anthropic transport, got %s", binding.Transport)
	}
}

func TestLoopConfigConvertersFallBackToPackageDefaults(t *testing.T) {
	var l LoopConfig
	cc := l.LoopControlConfig()
	if cc.HardIterationCeiling != 250 {
		t.Errorf("expected default hard ceiling 250, got %d", cc.HardIterationCeiling)
	}
	pc := l.ProgressConfig()
	if pc.IntervalIterations != 50 {
		t.Errorf("expected default progress interval 50, got %d", pc.IntervalIterations)
	}

	l.HardIterationCeiling = 100
	if got := l.LoopControlConfig().HardIterationCeiling; got != 100 {
		t.Errorf("expected overridden hard ceiling 100, got %d", got)
	}
}

func TestApprovalProfileValidation(t *testing.T) {
	path := writeConfigFile(t, "tools:\n  approval:\n    profile: not-a-real-profile\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an invalid approval profile")
	}
}
