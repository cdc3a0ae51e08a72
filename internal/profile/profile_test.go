package profile

import (
	"os"
	"testing"
)

func clearEnvVars(t *testing.T) {
	t.Helper()
	vars := []string{
		"TICKETFLOW_LLM_PROVIDER",
		"TICKETFLOW_LLM_API_KEY",
		"TICKETFLOW_LLM_BASE_URL",
		"TICKETFLOW_LLM_MODEL",
		"TICKETFLOW_LLM_TIMEOUT_SECONDS",
		"TICKETFLOW_LLM_MAX_TOKENS",
		"TICKETFLOW_AI_CLASSIFICATION",
		"TICKETFLOW_AI_EXTRACTION",
		"TICKETFLOW_AI_RESPONSE",
		"TICKETFLOW_AI_CONFIDENCE_THRESHOLD",
		"TICKETFLOW_WORKFLOW_TIMEOUT_SECONDS",
		"TICKETFLOW_RULES_DIR",
	}
	for _, v := range vars {
		os.Unsetenv(v)
	}
}

func TestProfileDefaults(t *testing.T) {
	clearEnvVars(t)

	profile := &Profile{}
	profile.FromEnv()

	if profile.LLMProvider != "openai" {
		t.Errorf("LLMProvider: expected %q, got %q", "openai", profile.LLMProvider)
	}
	if profile.LLMBaseURL != "https://api.openai.com/v1" {
		t.Errorf("LLMBaseURL: expected openai default, got %q", profile.LLMBaseURL)
	}
	if profile.LLMModel != "gpt-4o" {
		t.Errorf("LLMModel: expected %q, got %q", "gpt-4o", profile.LLMModel)
	}
	if !profile.AIClassification || !profile.AIExtraction || !profile.AIResponse {
		t.Error("AI stage flags should default to true")
	}
	if profile.ConfidenceThreshold != 0.6 {
		t.Errorf("ConfidenceThreshold: expected 0.6, got %v", profile.ConfidenceThreshold)
	}
	if profile.WorkflowTimeout != 30 {
		t.Errorf("WorkflowTimeout: expected 30, got %d", profile.WorkflowTimeout)
	}
	if profile.IsAIEnabled() {
		t.Error("IsAIEnabled should be false without an API key")
	}
}

func TestProfileFromEnv(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("TICKETFLOW_LLM_PROVIDER", "deepseek")
	t.Setenv("TICKETFLOW_LLM_API_KEY", "test-key")
	t.Setenv("TICKETFLOW_AI_RESPONSE", "false")
	t.Setenv("TICKETFLOW_AI_CONFIDENCE_THRESHOLD", "0.85")

	profile := &Profile{}
	profile.FromEnv()

	if profile.LLMProvider != "deepseek" {
		t.Errorf("LLMProvider: expected %q, got %q", "deepseek", profile.LLMProvider)
	}
	if profile.LLMBaseURL != "https://api.deepseek.com" {
		t.Errorf("LLMBaseURL: expected deepseek default, got %q", profile.LLMBaseURL)
	}
	if profile.LLMModel != "deepseek-chat" {
		t.Errorf("LLMModel: expected %q, got %q", "deepseek-chat", profile.LLMModel)
	}
	if profile.AIResponse {
		t.Error("AIResponse should be false from env")
	}
	if profile.ConfidenceThreshold != 0.85 {
		t.Errorf("ConfidenceThreshold: expected 0.85, got %v", profile.ConfidenceThreshold)
	}
	if !profile.IsAIEnabled() {
		t.Error("IsAIEnabled should be true with an API key and enabled stages")
	}
}

func TestProfileUnknownProviderFallsBack(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("TICKETFLOW_LLM_PROVIDER", "mystery")

	profile := &Profile{}
	profile.FromEnv()

	if profile.LLMProvider != "openai" {
		t.Errorf("unknown provider should fall back to openai, got %q", profile.LLMProvider)
	}
}

func TestProfileValidate(t *testing.T) {
	clearEnvVars(t)

	dir := t.TempDir()

	profile := &Profile{Mode: "dev", Driver: "sqlite", Data: dir}
	profile.FromEnv()
	if err := profile.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if profile.DSN == "" {
		t.Error("sqlite DSN should be derived from the data directory")
	}

	profile = &Profile{Mode: "dev", Driver: "postgres", Data: dir}
	profile.FromEnv()
	if err := profile.Validate(); err == nil {
		t.Error("postgres without DSN should fail validation")
	}

	profile = &Profile{Mode: "dev", Driver: "oracle", Data: dir}
	profile.FromEnv()
	if err := profile.Validate(); err == nil {
		t.Error("unsupported driver should fail validation")
	}
}
