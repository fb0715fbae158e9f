package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig_PolicyInRange(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
	if cfg.Policy.HistoryLimit != 30 {
		t.Errorf("HistoryLimit = %d, want 30", cfg.Policy.HistoryLimit)
	}
}

func TestValidate_RejectsOutOfRangeProbability(t *testing.T) {
	for _, p := range []float64{-0.1, 1.5} {
		cfg := DefaultConfig()
		cfg.Policy.RandomResponseProbability = p
		if err := cfg.Validate(); err == nil {
			t.Errorf("probability %v should be rejected", p)
		}
	}
}

func TestValidate_RejectsOutOfRangeThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.DecisionThreshold = 1.01
	if err := cfg.Validate(); err == nil {
		t.Error("threshold 1.01 should be rejected")
	}
}

func TestValidate_RejectsNonPositiveHistoryLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.HistoryLimit = 0
	if err := cfg.Validate(); err == nil {
		t.Error("history_limit 0 should be rejected")
	}
}

func TestValidate_RequiresAgentName(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Agent.Name = "  "
	if err := cfg.Validate(); err == nil {
		t.Error("blank agent.name should be rejected")
	}
}

func TestLoadConfig_MissingFileKeepsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Agent.Model != "openai/gpt-5.2" {
		t.Errorf("Model = %q, want default", cfg.Agent.Model)
	}
}

func TestLoadConfig_FileOverridesAndValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"policy": {"random_response_probability": 2.0, "decision_threshold": 0.5, "history_limit": 20}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("out-of-range probability in file should fail load")
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("PETROVICH_POLICY_HISTORY_LIMIT", "12")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Policy.HistoryLimit != 12 {
		t.Errorf("HistoryLimit = %d, want 12 from env", cfg.Policy.HistoryLimit)
	}
}

func TestJudgeConfigured(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.JudgeConfigured() {
		t.Error("default config should have a judge model configured")
	}
	cfg.Agent.JudgeModel = ""
	if cfg.JudgeConfigured() {
		t.Error("empty judge model should report not configured")
	}
}
