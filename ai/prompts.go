package ai

import (
	"strings"
	"text/template"
)

// Ticket text handed to the model is truncated to keep prompts inside
// token limits.
const (
	maxPromptBodyLen         = 3000
	maxResponsePromptBodyLen = 2000
)

const classificationSystemPrompt = "You are a precise support ticket classifier. Always respond with valid JSON."

var classificationPrompt = template.Must(template.New("classification").Parse(
	`You are a support ticket classifier. Analyze the following ticket and classify it.

TICKET SUBJECT: {{.Subject}}
TICKET BODY: {{.Body}}

AVAILABLE CATEGORIES: {{.Categories}}
SEVERITY LEVELS: critical, high, medium, low

Respond with JSON:
{
    "category": "category_name",
    "category_confidence": 0.0-1.0,
    "severity": "severity_level",
    "severity_confidence": 0.0-1.0,
    "secondary_categories": ["sub1", "sub2"],
    "reasoning": "brief explanation",
    "keywords_matched": ["keyword1", "keyword2"],
    "urgency_indicators": ["indicator1"]
}`))

const extractionSystemPrompt = "You are a precise data extractor. Always respond with valid JSON."

var extractionPrompt = template.Must(template.New("extraction").Parse(
	`Extract structured information from this support ticket.

TICKET SUBJECT: {{.Subject}}
TICKET BODY: {{.Body}}
CATEGORY: {{.Category}}

Extract the following fields if present:
- order_id: Order or transaction ID (formats: ORD-XXXXX, #XXXXX)
- product_name: Product or service mentioned
- error_code: Error codes or messages (e.g., ERR-XXXX, 0xXXXX)
- account_email: Email addresses mentioned
- phone_number: Phone numbers
- priority_keywords: Urgency words found

Respond with JSON:
{
    "fields": [
        {"name": "field_name", "value": "extracted_value", "confidence": 0.0-1.0, "source_text": "original text"}
    ],
    "missing_critical": ["field1"],
    "validation_errors": []
}`))

const responseSystemPrompt = "You are a helpful customer support agent. Write professional, empathetic responses. Always respond with valid JSON."

var responsePrompt = template.Must(template.New("response").Parse(
	`You are drafting a customer support response. Be professional, empathetic, and helpful.

TICKET SUBJECT: {{.Subject}}
TICKET BODY: {{.Body}}
CATEGORY: {{.Category}}
SEVERITY: {{.Severity}}
EXTRACTED CONTEXT: {{.ExtractedFields}}
CUSTOMER_NAME: {{.CustomerName}}

Guidelines:
- Acknowledge the issue specifically
- Show empathy for their situation
- Provide clear next steps
- Set appropriate expectations based on severity
- Use {{.Tone}} tone
- Keep response concise but complete

Respond with JSON:
{
    "greeting": "personalized greeting",
    "acknowledgment": "acknowledge specific issue",
    "explanation": "brief explanation if applicable",
    "action_items": ["step 1", "step 2"],
    "timeline": "expected resolution timeframe",
    "closing": "professional closing",
    "full_response": "complete formatted response",
    "requires_escalation": true/false
}`))

func renderPrompt(tpl *template.Template, data any) (string, error) {
	var sb strings.Builder
	if err := tpl.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
