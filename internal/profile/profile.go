package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
type Profile struct {
	// LLM configuration (OpenAI-compatible protocol)
	LLMProvider string // Provider identifier: openai, deepseek, openrouter, ollama
	LLMAPIKey   string
	LLMBaseURL  string // Optional, has default per provider
	LLMModel    string
	LLMTimeout  int // LLM request timeout in seconds (default: 120)
	MaxTokens   int // Max completion tokens per LLM call (default: 4096)

	// Workflow feature flags. Each gates one AI-backed stage; when off,
	// the stage runs its deterministic path only.
	AIClassification bool
	AIExtraction     bool
	AIResponse       bool

	// ConfidenceThreshold is the minimum AI category confidence below
	// which the classifier discards the AI result and falls back.
	ConfidenceThreshold float64

	// WorkflowTimeout bounds a single workflow execution, in seconds.
	WorkflowTimeout int

	// RulesDir optionally points at a directory of YAML rule overrides
	// (categories.yaml, severities.yaml, routing_rules.yaml).
	RulesDir string

	Mode    string
	Addr    string
	Port    int
	Data    string
	Driver  string
	DSN     string
	Version string
}

// Provider default configurations for the LLM.
// Used when LLM_BASE_URL or LLM_MODEL is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"openrouter": {
		BaseURL: "https://openrouter.ai/api/v1",
		Model:   "deepseek/deepseek-chat",
	},
	"ollama": {
		BaseURL: "http://localhost:11434",
		Model:   "llama3.1",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if an LLM API key is configured and at least
// one AI-backed stage is switched on.
func (p *Profile) IsAIEnabled() bool {
	return p.LLMAPIKey != "" && (p.AIClassification || p.AIExtraction || p.AIResponse)
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvOrDefaultBool returns environment variable value as bool or default value.
func getEnvOrDefaultBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvOrDefaultFloat returns environment variable value as float64 or default value.
func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.LLMProvider = getEnvOrDefault("TICKETFLOW_LLM_PROVIDER", "openai")
	p.LLMAPIKey = getEnvOrDefault("TICKETFLOW_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("TICKETFLOW_LLM_BASE_URL", "")
	p.LLMModel = getEnvOrDefault("TICKETFLOW_LLM_MODEL", "")
	p.LLMTimeout = getEnvOrDefaultInt("TICKETFLOW_LLM_TIMEOUT_SECONDS", 120)
	p.MaxTokens = getEnvOrDefaultInt("TICKETFLOW_LLM_MAX_TOKENS", 4096)

	p.AIClassification = getEnvOrDefaultBool("TICKETFLOW_AI_CLASSIFICATION", true)
	p.AIExtraction = getEnvOrDefaultBool("TICKETFLOW_AI_EXTRACTION", true)
	p.AIResponse = getEnvOrDefaultBool("TICKETFLOW_AI_RESPONSE", true)

	p.ConfidenceThreshold = getEnvOrDefaultFloat("TICKETFLOW_AI_CONFIDENCE_THRESHOLD", 0.6)
	p.WorkflowTimeout = getEnvOrDefaultInt("TICKETFLOW_WORKFLOW_TIMEOUT_SECONDS", 30)
	p.RulesDir = getEnvOrDefault("TICKETFLOW_RULES_DIR", "")

	if p.LLMProvider != "" {
		if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
			p.LLMProvider = "openai"
		}
	}
	if p.LLMBaseURL == "" || p.LLMModel == "" {
		if defaults, ok := llmProviderDefaults[p.LLMProvider]; ok {
			if p.LLMBaseURL == "" {
				p.LLMBaseURL = defaults.BaseURL
			}
			if p.LLMModel == "" {
				p.LLMModel = defaults.Model
			}
		}
	}
}

// Validate checks the profile for consistency and fills derived defaults.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		p.Data = "/var/opt/ticketflow"
	}
	if p.Data == "" {
		p.Data = "."
	}
	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return errors.Wrapf(err, "invalid data directory %q", p.Data)
	}
	p.Data = dataDir

	switch p.Driver {
	case "sqlite":
		if p.DSN == "" {
			dbFile := fmt.Sprintf("ticketflow_%s.db", p.Mode)
			p.DSN = filepath.Join(p.Data, dbFile)
		}
	case "postgres":
		if p.DSN == "" {
			return errors.New("dsn is required for postgres driver")
		}
	default:
		return errors.Errorf("unsupported database driver %q", p.Driver)
	}

	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
		return errors.Errorf("confidence threshold %.2f out of range [0,1]", p.ConfidenceThreshold)
	}
	if p.WorkflowTimeout <= 0 {
		p.WorkflowTimeout = 30
	}

	return nil
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}
	// Trim trailing "/" in case user supplies.
	dataDir = filepath.Clean(dataDir)

	fi, err := os.Stat(dataDir)
	if err != nil {
		return "", errors.Wrap(err, "unable to access data folder")
	}
	if !fi.IsDir() {
		return "", errors.Errorf("data path %q is not a directory", dataDir)
	}

	return dataDir, nil
}
