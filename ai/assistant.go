package ai

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ticketflow/ticketflow/workflow"
)

// Assistant adapts the LLM service to workflow.AIClient. Model output is
// validated and clamped before it reaches the pipeline: unknown
// categories and severities are normalized, confidences forced into
// [0, 1], and malformed field entries dropped.
type Assistant struct {
	svc Service
}

func NewAssistant(svc Service) *Assistant {
	return &Assistant{svc: svc}
}

var _ workflow.AIClient = (*Assistant)(nil)

type classificationPayload struct {
	Category            string   `json:"category"`
	CategoryConfidence  float64  `json:"category_confidence"`
	Severity            string   `json:"severity"`
	SeverityConfidence  float64  `json:"severity_confidence"`
	SecondaryCategories []string `json:"secondary_categories"`
	Reasoning           string   `json:"reasoning"`
	KeywordsMatched     []string `json:"keywords_matched"`
	UrgencyIndicators   []string `json:"urgency_indicators"`
}

// ClassifyTicket asks the model for a category/severity assessment.
func (a *Assistant) ClassifyTicket(ctx context.Context, subject, body string) (*workflow.ClassificationResult, *workflow.TokenUsage, error) {
	prompt, err := renderPrompt(classificationPrompt, map[string]string{
		"Subject":    subject,
		"Body":       truncate(body, maxPromptBodyLen),
		"Categories": strings.Join(workflow.ValidCategories, ", "),
	})
	if err != nil {
		return nil, nil, err
	}

	content, stats, err := a.svc.ChatJSON(ctx, []Message{
		{Role: "system", Content: classificationSystemPrompt},
		{Role: "user", Content: prompt},
	}, 0.2)
	tokens := toTokenUsage(stats)
	if err != nil {
		return nil, tokens, err
	}

	var payload classificationPayload
	if err := parseJSONObject(content, &payload); err != nil {
		return nil, tokens, err
	}

	category := strings.ToLower(payload.Category)
	if !containsString(workflow.ValidCategories, category) {
		category = "general"
	}
	severity := strings.ToLower(payload.Severity)
	if !containsString(workflow.ValidSeverities, severity) {
		severity = "medium"
	}

	var secondary []string
	for _, c := range payload.SecondaryCategories {
		c = strings.ToLower(c)
		if containsString(workflow.ValidCategories, c) {
			secondary = append(secondary, c)
		}
	}

	return &workflow.ClassificationResult{
		Category:            category,
		CategoryConfidence:  clamp01(payload.CategoryConfidence),
		Severity:            severity,
		SeverityConfidence:  clamp01(payload.SeverityConfidence),
		SecondaryCategories: secondary,
		Reasoning:           payload.Reasoning,
		KeywordsMatched:     payload.KeywordsMatched,
		UrgencyIndicators:   payload.UrgencyIndicators,
	}, tokens, nil
}

type extractionPayload struct {
	Fields []struct {
		Name       string  `json:"name"`
		Value      any     `json:"value"`
		Confidence float64 `json:"confidence"`
		SourceText string  `json:"source_text"`
	} `json:"fields"`
	MissingCritical  []string `json:"missing_critical"`
	ValidationErrors []string `json:"validation_errors"`
}

// ExtractFields asks the model for structured fields. Entries without a
// name or value are dropped.
func (a *Assistant) ExtractFields(ctx context.Context, subject, body, category string) ([]workflow.ExtractedField, *workflow.TokenUsage, error) {
	prompt, err := renderPrompt(extractionPrompt, map[string]string{
		"Subject":  subject,
		"Body":     truncate(body, maxPromptBodyLen),
		"Category": category,
	})
	if err != nil {
		return nil, nil, err
	}

	content, stats, err := a.svc.ChatJSON(ctx, []Message{
		{Role: "system", Content: extractionSystemPrompt},
		{Role: "user", Content: prompt},
	}, 0.1)
	tokens := toTokenUsage(stats)
	if err != nil {
		return nil, tokens, err
	}

	var payload extractionPayload
	if err := parseJSONObject(content, &payload); err != nil {
		return nil, tokens, err
	}

	var fields []workflow.ExtractedField
	for _, f := range payload.Fields {
		if f.Name == "" || f.Value == nil {
			continue
		}
		fields = append(fields, workflow.ExtractedField{
			Name:       f.Name,
			Value:      f.Value,
			Confidence: clamp01(f.Confidence),
			SourceSpan: f.SourceText,
		})
	}
	return fields, tokens, nil
}

type draftPayload struct {
	Greeting           string   `json:"greeting"`
	Acknowledgment     string   `json:"acknowledgment"`
	Explanation        string   `json:"explanation"`
	ActionItems        []string `json:"action_items"`
	Timeline           string   `json:"timeline"`
	Closing            string   `json:"closing"`
	FullResponse       string   `json:"full_response"`
	RequiresEscalation bool     `json:"requires_escalation"`
}

// DraftResponse asks the model to write the customer reply.
func (a *Assistant) DraftResponse(ctx context.Context, req *workflow.DraftRequest) (*workflow.ResponseDraft, *workflow.TokenUsage, error) {
	fieldsJSON, err := json.Marshal(req.ExtractedFields)
	if err != nil {
		fieldsJSON = []byte("{}")
	}
	customerName := req.CustomerName
	if customerName == "" {
		customerName = "Customer"
	}

	prompt, err := renderPrompt(responsePrompt, map[string]string{
		"Subject":         req.Subject,
		"Body":            truncate(req.Body, maxResponsePromptBodyLen),
		"Category":        req.Category,
		"Severity":        req.Severity,
		"ExtractedFields": string(fieldsJSON),
		"CustomerName":    customerName,
		"Tone":            req.Tone,
	})
	if err != nil {
		return nil, nil, err
	}

	content, stats, err := a.svc.ChatJSON(ctx, []Message{
		{Role: "system", Content: responseSystemPrompt},
		{Role: "user", Content: prompt},
	}, 0.7)
	tokens := toTokenUsage(stats)
	if err != nil {
		return nil, tokens, err
	}

	var payload draftPayload
	if err := parseJSONObject(content, &payload); err != nil {
		return nil, tokens, err
	}

	return &workflow.ResponseDraft{
		Content:            payload.FullResponse,
		Tone:               req.Tone,
		SuggestedActions:   payload.ActionItems,
		RequiresEscalation: payload.RequiresEscalation,
		Greeting:           payload.Greeting,
		Acknowledgment:     payload.Acknowledgment,
		Explanation:        payload.Explanation,
		ActionItems:        payload.ActionItems,
		Timeline:           payload.Timeline,
		Closing:            payload.Closing,
	}, tokens, nil
}

func toTokenUsage(stats *CallStats) *workflow.TokenUsage {
	if stats == nil {
		return nil
	}
	return &workflow.TokenUsage{
		PromptTokens:     stats.PromptTokens,
		CompletionTokens: stats.CompletionTokens,
		TotalTokens:      stats.TotalTokens,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
