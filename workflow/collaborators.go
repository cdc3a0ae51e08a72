package workflow

import "context"

// AIClient is the LLM-backed collaborator consumed by the AI stage paths.
// Implementations own transport concerns (retry, backoff, rate limiting);
// the workflow only sees a structured result or an error. Every call site
// in this package has a deterministic fallback.
type AIClient interface {
	// ClassifyTicket returns the model's category/severity assessment.
	ClassifyTicket(ctx context.Context, subject, body string) (*ClassificationResult, *TokenUsage, error)

	// ExtractFields returns the model's extracted fields for merging with
	// the regex base pass.
	ExtractFields(ctx context.Context, subject, body, category string) ([]ExtractedField, *TokenUsage, error)

	// DraftResponse returns a model-written response draft.
	DraftResponse(ctx context.Context, req *DraftRequest) (*ResponseDraft, *TokenUsage, error)
}

// DraftRequest is the context handed to the AI response path.
type DraftRequest struct {
	Subject         string
	Body            string
	Category        string
	Severity        string
	ExtractedFields map[string]any
	CustomerName    string
	Tone            string
}

// DuplicateDetector checks whether a ticket repeats a recent one.
// A found duplicate is reported as (ticketID, similarity); an empty ID
// means no duplicate.
type DuplicateDetector interface {
	FindDuplicate(ctx context.Context, ticket *TicketInput) (string, float64, error)
}
