package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// responseTemplate holds the section text for one category's canned reply.
// Greeting takes the customer name suffix; timeline takes the response
// time; closing takes the team signature.
type responseTemplate struct {
	greeting       string
	acknowledgment string
	explanation    string
	actionItems    []string
	timeline       string
	closing        string
}

var responseTemplates = map[string]responseTemplate{
	"technical": {
		greeting:       "Hello%s,",
		acknowledgment: "Thank you for reaching out about the technical issue you're experiencing.",
		explanation:    "Our technical team has been notified and is investigating the problem.",
		actionItems: []string{
			"Please try clearing your browser cache and cookies",
			"Ensure you're using the latest version of the application",
			"If the issue persists, please provide any error messages you see",
		},
		timeline: "We aim to respond within %s.",
		closing:  "Best regards,\n%s",
	},
	"billing": {
		greeting:       "Dear%s,",
		acknowledgment: "Thank you for contacting us about your billing inquiry.",
		explanation:    "Our billing team will review your request and get back to you shortly.",
		actionItems: []string{
			"Please have your order ID ready for verification",
			"Check your account settings for recent transactions",
		},
		timeline: "We typically resolve billing inquiries within %s.",
		closing:  "Sincerely,\n%s",
	},
	"account": {
		greeting:       "Hi%s,",
		acknowledgment: "Thank you for reaching out about your account.",
		explanation:    "Our account management team is here to help you with your request.",
		actionItems: []string{
			"Please verify your email address associated with the account",
			"For security purposes, do not share your password",
		},
		timeline: "We'll respond to your request within %s.",
		closing:  "Best regards,\n%s",
	},
	"feature_request": {
		greeting:       "Hello%s,",
		acknowledgment: "Thank you for taking the time to share your feature request with us.",
		explanation:    "We value your feedback and will consider it for future product development.",
		actionItems: []string{
			"Your request has been logged in our feature tracking system",
			"We'll notify you if this feature gets implemented",
		},
		timeline: "Product updates are typically shared in our monthly newsletter.",
		closing:  "Thank you for helping us improve!\n%s",
	},
	"bug_report": {
		greeting:       "Hi%s,",
		acknowledgment: "Thank you for reporting this issue. We appreciate your help in improving our product.",
		explanation:    "Our engineering team has been notified and will investigate the bug.",
		actionItems: []string{
			"If possible, please provide steps to reproduce the issue",
			"Include any screenshots or error messages if available",
		},
		timeline: "Bug reports are typically addressed within %s.",
		closing:  "Best regards,\n%s",
	},
	"general": {
		greeting:       "Hello%s,",
		acknowledgment: "Thank you for contacting our support team.",
		explanation:    "We're here to help and will address your inquiry as soon as possible.",
		actionItems: []string{
			"Please provide any additional details that might help us assist you better",
		},
		timeline: "We aim to respond within %s.",
		closing:  "Best regards,\n%s",
	},
}

// responseTimes maps severity to the committed first-response window.
var responseTimes = map[string]string{
	"critical": "1 hour",
	"high":     "4 hours",
	"medium":   "24 hours",
	"low":      "72 hours",
}

const defaultSignature = "Customer Support Team"

// Generator produces customer-facing reply drafts. The template path is
// always available; the AI path replaces it when enabled and healthy.
type Generator struct {
	ai       AIClient
	enableAI bool
}

func NewGenerator(ai AIClient, enableAI bool) *Generator {
	return &Generator{ai: ai, enableAI: enableAI}
}

// GenerateInput carries everything the generator personalizes on.
type GenerateInput struct {
	Subject      string
	Body         string
	Category     string
	Severity     string
	Fields       []ExtractedField
	CustomerName string
	Tone         string
}

// Generate drafts a reply, via AI when resolved on, otherwise from the
// category template. An AI failure degrades to the template and the trace
// records it. The draft always escalates for critical and high severity.
func (g *Generator) Generate(ctx context.Context, in *GenerateInput, mode AIMode) (*ResponseDraft, *StageTrace) {
	trace := &StageTrace{}
	tone := in.Tone
	if tone == "" {
		tone = "friendly"
	}

	if resolveAIMode(mode, g.enableAI) && g.ai != nil {
		draft, tokens, err := g.ai.DraftResponse(ctx, &DraftRequest{
			Subject:         in.Subject,
			Body:            in.Body,
			Category:        in.Category,
			Severity:        in.Severity,
			ExtractedFields: FieldsToMap(in.Fields),
			CustomerName:    in.CustomerName,
			Tone:            tone,
		})
		trace.Tokens = tokens
		if err != nil {
			slog.Warn("generator: AI response generation failed, using template", "error", err)
			trace.FallbackUsed = true
			trace.AIError = err.Error()
		} else if draft != nil {
			finishAIDraft(draft, tone)
			return draft, trace
		}
	}

	return g.generateFromTemplate(in.Category, in.Severity, in.CustomerName, tone), trace
}

// finishAIDraft normalizes an AI draft: it inherits the requested tone and
// gets its full content assembled from sections when the model returned
// only the parts.
func finishAIDraft(draft *ResponseDraft, tone string) {
	draft.Tone = tone
	draft.TemplateUsed = ""
	if len(draft.SuggestedActions) == 0 {
		draft.SuggestedActions = draft.ActionItems
	}
	if draft.Content != "" {
		return
	}

	greeting := draft.Greeting
	if greeting == "" {
		greeting = "Dear Customer,"
	}
	closing := draft.Closing
	if closing == "" {
		closing = "Best regards,\nSupport Team"
	}

	parts := []string{greeting, draft.Acknowledgment, draft.Explanation}
	if len(draft.ActionItems) > 0 {
		parts = append(parts, "\nNext steps:")
		for _, item := range draft.ActionItems {
			parts = append(parts, "- "+item)
		}
	}
	parts = append(parts, draft.Timeline, closing)

	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	draft.Content = strings.Join(kept, "\n\n")
}

func (g *Generator) generateFromTemplate(category, severity, customerName, tone string) *ResponseDraft {
	tpl, ok := responseTemplates[category]
	if !ok {
		tpl = responseTemplates["general"]
	}
	responseTime, ok := responseTimes[severity]
	if !ok {
		responseTime = "24 hours"
	}

	nameSuffix := ""
	if customerName != "" {
		nameSuffix = " " + customerName
	}

	greeting := fmt.Sprintf(tpl.greeting, nameSuffix)
	timeline := tpl.timeline
	if strings.Contains(timeline, "%s") {
		timeline = fmt.Sprintf(timeline, responseTime)
	}
	closing := fmt.Sprintf(tpl.closing, defaultSignature)
	actionItems := append([]string(nil), tpl.actionItems...)

	return &ResponseDraft{
		Content:            buildFullResponse(greeting, tpl.acknowledgment, tpl.explanation, actionItems, timeline, closing),
		Tone:               tone,
		TemplateUsed:       category + "_template",
		SuggestedActions:   actionItems,
		RequiresEscalation: severity == "critical" || severity == "high",
		Greeting:           greeting,
		Acknowledgment:     tpl.acknowledgment,
		Explanation:        tpl.explanation,
		ActionItems:        actionItems,
		Timeline:           timeline,
		Closing:            closing,
	}
}

func buildFullResponse(greeting, acknowledgment, explanation string, actionItems []string, timeline, closing string) string {
	sections := []string{greeting, "", acknowledgment, ""}

	if explanation != "" {
		sections = append(sections, explanation, "")
	}
	if len(actionItems) > 0 {
		sections = append(sections, "Here are some steps you can take:")
		for i, item := range actionItems {
			sections = append(sections, fmt.Sprintf("  %d. %s", i+1, item))
		}
		sections = append(sections, "")
	}

	sections = append(sections, timeline, "", closing)
	return strings.Join(sections, "\n")
}
