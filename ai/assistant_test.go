package ai

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticketflow/ticketflow/workflow"
)

// stubService returns a canned response and records the last request.
type stubService struct {
	content   string
	stats     *CallStats
	err       error
	gotPrompt string
	gotTemp   float32
}

func (s *stubService) ChatJSON(_ context.Context, messages []Message, temperature float32) (string, *CallStats, error) {
	if len(messages) > 0 {
		s.gotPrompt = messages[len(messages)-1].Content
	}
	s.gotTemp = temperature
	return s.content, s.stats, s.err
}

func (s *stubService) TokenUsage() CallStats { return CallStats{} }
func (s *stubService) ResetTokenUsage()      {}

// TestAssistantClassifyNormalizes verifies unknown categories and
// out-of-range confidences never leave the adapter.
func TestAssistantClassifyNormalizes(t *testing.T) {
	svc := &stubService{
		content: `{
			"category": "Warranty",
			"category_confidence": 1.7,
			"severity": "EXTREME",
			"severity_confidence": -0.2,
			"secondary_categories": ["Billing", "nonsense"],
			"reasoning": "model says so"
		}`,
		stats: &CallStats{TotalTokens: 55},
	}
	a := NewAssistant(svc)

	result, tokens, err := a.ClassifyTicket(context.Background(), "subj", "body")

	require.NoError(t, err)
	assert.Equal(t, "general", result.Category)
	assert.InDelta(t, 1.0, result.CategoryConfidence, 1e-9)
	assert.Equal(t, "medium", result.Severity)
	assert.InDelta(t, 0.0, result.SeverityConfidence, 1e-9)
	assert.Equal(t, []string{"billing"}, result.SecondaryCategories)
	require.NotNil(t, tokens)
	assert.Equal(t, 55, tokens.TotalTokens)
	assert.InDelta(t, 0.2, svc.gotTemp, 1e-6)
	assert.Contains(t, svc.gotPrompt, "TICKET SUBJECT: subj")
}

func TestAssistantClassifyPropagatesError(t *testing.T) {
	svc := &stubService{err: errors.Wrap(ErrRateLimited, "429")}
	a := NewAssistant(svc)

	_, _, err := a.ClassifyTicket(context.Background(), "s", "b")
	assert.ErrorIs(t, err, ErrRateLimited)
}

// TestAssistantExtractDropsMalformedFields verifies entries missing a
// name or value are discarded and confidences clamped.
func TestAssistantExtractDropsMalformedFields(t *testing.T) {
	svc := &stubService{
		content: `{
			"fields": [
				{"name": "order_id", "value": "ORD-111", "confidence": 2.5, "source_text": "ORD-111"},
				{"name": "", "value": "ghost"},
				{"name": "no_value"}
			]
		}`,
	}
	a := NewAssistant(svc)

	fields, _, err := a.ExtractFields(context.Background(), "s", "b", "billing")

	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, "order_id", fields[0].Name)
	assert.InDelta(t, 1.0, fields[0].Confidence, 1e-9)
	assert.Contains(t, svc.gotPrompt, "CATEGORY: billing")
}

// TestAssistantDraftResponse verifies the draft carries the requested
// tone and the model's sections.
func TestAssistantDraftResponse(t *testing.T) {
	svc := &stubService{
		content: `{
			"greeting": "Hello sam,",
			"acknowledgment": "We hear you.",
			"action_items": ["Reset your password"],
			"full_response": "Hello sam,\n\nWe hear you.",
			"requires_escalation": true
		}`,
	}
	a := NewAssistant(svc)

	draft, _, err := a.DraftResponse(context.Background(), &workflow.DraftRequest{
		Subject:      "Locked out",
		Body:         "Cannot log in",
		Category:     "account",
		Severity:     "high",
		CustomerName: "sam",
		Tone:         "formal",
	})

	require.NoError(t, err)
	assert.Equal(t, "formal", draft.Tone)
	assert.True(t, draft.RequiresEscalation)
	assert.Equal(t, []string{"Reset your password"}, draft.ActionItems)
	assert.Equal(t, "Hello sam,\n\nWe hear you.", draft.Content)
	assert.InDelta(t, 0.7, svc.gotTemp, 1e-6)
}

func TestAssistantParseFailureSurfaces(t *testing.T) {
	svc := &stubService{content: "I refuse to answer in JSON."}
	a := NewAssistant(svc)

	_, _, err := a.ClassifyTicket(context.Background(), "s", "b")
	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
}
