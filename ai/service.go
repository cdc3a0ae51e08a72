// Package ai implements the LLM-backed collaborator for the ticket
// workflow. It wraps an OpenAI-compatible chat API behind a small JSON
// request/response service with retries, rate limiting, and token
// accounting, and adapts it to the workflow.AIClient interface.
package ai

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// Message is one chat turn sent to the model.
type Message struct {
	Role    string // system, user
	Content string
}

// CallStats reports token usage and timing for a single model call.
type CallStats struct {
	PromptTokens     int   `json:"prompt_tokens"`
	CompletionTokens int   `json:"completion_tokens"`
	TotalTokens      int   `json:"total_tokens"`
	DurationMs       int64 `json:"duration_ms"`
}

// Config configures the LLM service.
type Config struct {
	Provider    string // openai, deepseek, openrouter, ollama
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int     // default: 1024
	Temperature float32 // default: 0.3
	Timeout     int     // request timeout in seconds (default: 60)

	// RequestsPerMinute throttles outbound calls. Zero disables the
	// limiter.
	RequestsPerMinute int
}

// Service performs chat completions that must return a JSON object.
type Service interface {
	// ChatJSON sends messages in JSON-object mode and returns the raw
	// content, per-call stats, and a classified error on failure.
	ChatJSON(ctx context.Context, messages []Message, temperature float32) (string, *CallStats, error)

	// TokenUsage returns cumulative token counts since creation or the
	// last reset.
	TokenUsage() CallStats

	// ResetTokenUsage zeroes the cumulative counters.
	ResetTokenUsage()
}

type service struct {
	client      *openai.Client
	model       string
	provider    string
	maxTokens   int
	temperature float32
	timeout     int
	limiter     *rate.Limiter

	mu    sync.Mutex
	usage CallStats
}

// Retry policy for transient failures.
const (
	maxAttempts      = 3
	retryBaseDelay   = 2 * time.Second
	retryMaxDelay    = 10 * time.Second
	defaultTimeout   = 60
	defaultMaxTokens = 1024
)

// NewService creates an LLM service for the configured provider. All
// providers speak the OpenAI chat API; only the base URL differs.
func NewService(cfg *Config) (Service, error) {
	httpClient := newHTTPClient()

	var clientConfig openai.ClientConfig
	switch cfg.Provider {
	case "deepseek":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://api.deepseek.com"
		}
		clientConfig = openai.DefaultConfig(cfg.APIKey)
		clientConfig.BaseURL = baseURL
		clientConfig.HTTPClient = httpClient

	case "openrouter":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://openrouter.ai/api/v1"
		}
		clientConfig = openai.DefaultConfig(cfg.APIKey)
		clientConfig.BaseURL = baseURL
		clientConfig.HTTPClient = httpClient

	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
		clientConfig = openai.DefaultConfig(cfg.APIKey)
		clientConfig.BaseURL = baseURL
		clientConfig.HTTPClient = httpClient

	case "openai":
		clientConfig = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
		clientConfig.HTTPClient = httpClient

	default:
		// Any other OpenAI-compatible endpoint.
		slog.Info("ai: using generic OpenAI-compatible provider", "provider", cfg.Provider)
		clientConfig = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
		clientConfig.HTTPClient = httpClient
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = 0.3
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.RequestsPerMinute)
	}

	return &service{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		provider:    cfg.Provider,
		maxTokens:   maxTokens,
		temperature: temperature,
		timeout:     timeout,
		limiter:     limiter,
	}, nil
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

func (s *service) ChatJSON(ctx context.Context, messages []Message, temperature float32) (string, *CallStats, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeout)*time.Second)
	defer cancel()

	if temperature <= 0 {
		temperature = s.temperature
	}

	req := openai.ChatCompletionRequest{
		Model:       s.model,
		MaxTokens:   s.maxTokens,
		Temperature: temperature,
		Messages:    convertMessages(messages),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return "", nil, classifyError(err)
			}
		}

		start := time.Now()
		resp, err := s.client.CreateChatCompletion(ctx, req)
		if err != nil {
			lastErr = classifyError(err)
			if !isRetryable(lastErr) || attempt == maxAttempts {
				slog.Error("ai: chat request failed", "provider", s.provider, "attempt", attempt, "error", err)
				return "", nil, lastErr
			}
			delay := backoffDelay(attempt)
			slog.Warn("ai: transient failure, retrying", "attempt", attempt, "delay", delay, "error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", nil, classifyError(ctx.Err())
			}
			continue
		}

		if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
			return "", nil, ErrEmptyResponse
		}

		stats := &CallStats{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
			DurationMs:       time.Since(start).Milliseconds(),
		}
		s.addUsage(stats)

		slog.Debug("ai: chat response received",
			"provider", s.provider,
			"total_tokens", stats.TotalTokens,
			"duration_ms", stats.DurationMs)

		return resp.Choices[0].Message.Content, stats, nil
	}

	return "", nil, lastErr
}

// backoffDelay grows exponentially per attempt, capped.
func backoffDelay(attempt int) time.Duration {
	delay := retryBaseDelay << (attempt - 1)
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}

func (s *service) addUsage(stats *CallStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage.PromptTokens += stats.PromptTokens
	s.usage.CompletionTokens += stats.CompletionTokens
	s.usage.TotalTokens += stats.TotalTokens
}

func (s *service) TokenUsage() CallStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

func (s *service) ResetTokenUsage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = CallStats{}
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}
