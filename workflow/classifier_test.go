package workflow

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// TestClassifierRuleBased verifies the deterministic keyword path across
// the category table.
func TestClassifierRuleBased(t *testing.T) {
	c := NewClassifier(nil, false, 0.7, nil)

	tests := []struct {
		name         string
		subject      string
		body         string
		wantCategory string
		wantSeverity string
	}{
		{
			name:         "billing keywords",
			subject:      "Payment failed",
			body:         "I was overcharged on my last invoice",
			wantCategory: "billing",
			wantSeverity: "medium",
		},
		{
			name:         "account keywords",
			subject:      "Locked out",
			body:         "My account is locked and my password reset does not arrive",
			wantCategory: "account",
			wantSeverity: "medium",
		},
		{
			name:         "critical technical outage",
			subject:      "URGENT: Production system down",
			body:         "EMERGENCY!!! The production server is down and it's affecting all users. Error: 0xDEADBEEF.",
			wantCategory: "technical",
			wantSeverity: "critical",
		},
		{
			name:         "no keyword match defaults to general",
			subject:      "Quick note",
			body:         "Just wanted to say thanks",
			wantCategory: "general",
			wantSeverity: "medium",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, trace := c.Classify(context.Background(), tt.subject, tt.body, AIModeAuto)
			require.NotNil(t, result)
			assert.Equal(t, tt.wantCategory, result.Category)
			assert.Equal(t, tt.wantSeverity, result.Severity)
			assert.False(t, trace.FallbackUsed)
			assert.NotEmpty(t, result.Reasoning)
		})
	}
}

// TestClassifierConfidenceBounds verifies confidence stays within the
// documented ranges on both axes.
func TestClassifierConfidenceBounds(t *testing.T) {
	c := NewClassifier(nil, false, 0.7, nil)

	result, _ := c.Classify(context.Background(),
		"error bug crash broken issue problem",
		"urgent critical emergency down production immediately", AIModeAuto)

	assert.GreaterOrEqual(t, result.CategoryConfidence, 0.3)
	assert.LessOrEqual(t, result.CategoryConfidence, 0.95)
	assert.GreaterOrEqual(t, result.SeverityConfidence, 0.4)
	assert.LessOrEqual(t, result.SeverityConfidence, 0.9)
}

func TestClassifierDefaultConfidence(t *testing.T) {
	c := NewClassifier(nil, false, 0.7, nil)

	result, _ := c.Classify(context.Background(), "zzz", "qqq", AIModeAuto)

	assert.Equal(t, "general", result.Category)
	assert.InDelta(t, 0.3, result.CategoryConfidence, 1e-9)
	assert.Equal(t, "medium", result.Severity)
	assert.InDelta(t, 0.5, result.SeverityConfidence, 1e-9)
}

// TestClassifierIdempotent verifies the rule path is a pure function of
// its input.
func TestClassifierIdempotent(t *testing.T) {
	c := NewClassifier(nil, false, 0.7, nil)

	first, _ := c.Classify(context.Background(), "Refund request", "Please refund my subscription charge", AIModeAuto)
	second, _ := c.Classify(context.Background(), "Refund request", "Please refund my subscription charge", AIModeAuto)

	assert.Equal(t, first, second)
}

func TestClassifierWordBoundaries(t *testing.T) {
	c := NewClassifier(nil, false, 0.7, nil)

	// "overcharged" must not match the keyword "charge" inside it.
	result, _ := c.Classify(context.Background(), "note", "recharged batteries are fine", AIModeAuto)
	assert.NotContains(t, result.KeywordsMatched, "charge")
}

// TestClassifierAIAccepted verifies a confident AI result is returned
// without touching the rule path.
func TestClassifierAIAccepted(t *testing.T) {
	ai := new(mockAIClient)
	ai.On("ClassifyTicket", mock.Anything, "s", "b").Return(
		&ClassificationResult{
			Category:           "billing",
			CategoryConfidence: 0.92,
			Severity:           "high",
			SeverityConfidence: 0.85,
			Reasoning:          "model call",
		},
		&TokenUsage{TotalTokens: 40},
		nil,
	)

	c := NewClassifier(ai, true, 0.7, nil)
	result, trace := c.Classify(context.Background(), "s", "b", AIModeAuto)

	assert.Equal(t, "billing", result.Category)
	assert.False(t, trace.FallbackUsed)
	require.NotNil(t, trace.Tokens)
	assert.Equal(t, 40, trace.Tokens.TotalTokens)
	ai.AssertExpectations(t)
}

// TestClassifierAILowConfidence verifies a below-threshold AI result is
// discarded in favor of the rule path.
func TestClassifierAILowConfidence(t *testing.T) {
	ai := new(mockAIClient)
	ai.On("ClassifyTicket", mock.Anything, mock.Anything, mock.Anything).Return(
		&ClassificationResult{Category: "account", CategoryConfidence: 0.4, Severity: "low", SeverityConfidence: 0.4},
		&TokenUsage{TotalTokens: 25},
		nil,
	)

	c := NewClassifier(ai, true, 0.7, nil)
	result, trace := c.Classify(context.Background(), "Refund please", "I want a refund for this charge", AIModeAuto)

	assert.True(t, trace.FallbackUsed)
	assert.Empty(t, trace.AIError)
	assert.Equal(t, "billing", result.Category)
}

// TestClassifierAIError verifies an AI failure falls back and carries the
// error in the trace.
func TestClassifierAIError(t *testing.T) {
	ai := new(mockAIClient)
	ai.On("ClassifyTicket", mock.Anything, mock.Anything, mock.Anything).Return(
		nil, nil, errors.New("rate limited"),
	)

	c := NewClassifier(ai, true, 0.7, nil)
	result, trace := c.Classify(context.Background(), "Password reset", "I forgot my password", AIModeAuto)

	assert.True(t, trace.FallbackUsed)
	assert.Equal(t, "rate limited", trace.AIError)
	assert.Equal(t, "account", result.Category)
}

// TestClassifierModeOverride verifies AIModeOff suppresses the AI call
// even when the instance default enables it.
func TestClassifierModeOverride(t *testing.T) {
	ai := new(mockAIClient)

	c := NewClassifier(ai, true, 0.7, nil)
	result, trace := c.Classify(context.Background(), "Billing question", "Why was my invoice higher?", AIModeOff)

	assert.Equal(t, "billing", result.Category)
	assert.False(t, trace.FallbackUsed)
	ai.AssertNotCalled(t, "ClassifyTicket", mock.Anything, mock.Anything, mock.Anything)
}
