// Package workflow implements the support ticket processing pipeline:
// validation, classification, field extraction, response drafting, and
// team routing, coordinated by an Orchestrator.
//
// Every AI-backed stage carries a deterministic fallback path; the
// orchestrator converts all stage failures into degraded results rather
// than errors, so callers always receive a structurally complete
// Response.
package workflow

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Valid classification categories, in table-iteration order.
var ValidCategories = []string{"technical", "billing", "account", "feature_request", "bug_report", "general"}

// Valid severities, ordered from most to least severe.
var ValidSeverities = []string{"critical", "high", "medium", "low"}

// Priority levels ordered from lowest to highest urgency.
var PriorityLevels = []string{"low", "normal", "high", "urgent"}

// TicketInput is the immutable inbound ticket. Subject and body must be
// non-empty after trimming; the Validator enforces length bounds.
type TicketInput struct {
	Subject       string            `json:"subject"`
	Body          string            `json:"body"`
	CustomerID    string            `json:"customer_id,omitempty"`
	CustomerEmail string            `json:"customer_email,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Options configures a single workflow execution.
type Options struct {
	SkipClassification       bool   `json:"skip_classification"`
	SkipExtraction           bool   `json:"skip_extraction"`
	SkipResponse             bool   `json:"skip_response"`
	SkipRouting              bool   `json:"skip_routing"`
	ResponseTone             string `json:"response_tone"`
	EnableDuplicateDetection bool   `json:"enable_duplicate_detection"`
	EnableParallel           bool   `json:"enable_parallel"`
}

// DefaultOptions returns the options used when the caller supplies none.
func DefaultOptions() *Options {
	return &Options{
		ResponseTone:             "friendly",
		EnableDuplicateDetection: true,
		EnableParallel:           true,
	}
}

// StepStatus is the outcome of one workflow step attempt.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Step name identifiers, stable across releases; the persistence and
// metrics layers key on them.
const (
	StepValidation         = "validation"
	StepDuplicateDetection = "duplicate_detection"
	StepClassification     = "classification"
	StepExtraction         = "extraction"
	StepResponseGeneration = "response_generation"
	StepRouting            = "routing"
	StepError              = "error"
)

// StepResult records one stage attempt. It is appended to the context
// exactly once per attempt and never mutated afterwards.
type StepResult struct {
	StepName     string     `json:"step_name"`
	Status       StepStatus `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  time.Time  `json:"completed_at"`
	DurationMs   int64      `json:"duration_ms"`
	Error        string     `json:"error,omitempty"`
	FallbackUsed bool       `json:"fallback_used"`
	TokensUsed   int        `json:"tokens_used,omitempty"`
	Warnings     []string   `json:"warnings,omitempty"`
}

// TokenUsage tracks token consumption for a single LLM call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ClassificationResult is the classifier's output.
type ClassificationResult struct {
	Category            string   `json:"category"`
	CategoryConfidence  float64  `json:"category_confidence"`
	Severity            string   `json:"severity"`
	SeverityConfidence  float64  `json:"severity_confidence"`
	SecondaryCategories []string `json:"secondary_categories,omitempty"`
	Reasoning           string   `json:"reasoning,omitempty"`
	KeywordsMatched     []string `json:"keywords_matched,omitempty"`
	UrgencyIndicators   []string `json:"urgency_indicators,omitempty"`
}

// ExtractedField is one named, typed value pulled out of ticket text.
// Value is a string for scalar fields and a []string for list-valued
// fields such as priority_keywords.
type ExtractedField struct {
	Name       string  `json:"name"`
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
	SourceSpan string  `json:"source_span,omitempty"`
}

// ExtractionResult is the extractor's output.
type ExtractionResult struct {
	Fields           []ExtractedField `json:"fields"`
	MissingRequired  []string         `json:"missing_required,omitempty"`
	ValidationErrors []string         `json:"validation_errors,omitempty"`
}

// ResponseDraft is the generator's output. Content is always the join of
// the structured components in declaration order, separated by blank lines.
type ResponseDraft struct {
	Content            string   `json:"content"`
	Tone               string   `json:"tone"`
	TemplateUsed       string   `json:"template_used,omitempty"`
	SuggestedActions   []string `json:"suggested_actions,omitempty"`
	RequiresEscalation bool     `json:"requires_escalation"`
	Greeting           string   `json:"greeting,omitempty"`
	Acknowledgment     string   `json:"acknowledgment,omitempty"`
	Explanation        string   `json:"explanation,omitempty"`
	ActionItems        []string `json:"action_items,omitempty"`
	Timeline           string   `json:"timeline,omitempty"`
	Closing            string   `json:"closing,omitempty"`
}

// RoutingDecision is the router's output.
type RoutingDecision struct {
	Team             string   `json:"team"`
	Priority         string   `json:"priority"`
	Reasoning        string   `json:"reasoning"`
	AlternativeTeams []string `json:"alternative_teams"`
	EscalationPath   []string `json:"escalation_path,omitempty"`
	Confidence       float64  `json:"confidence"`
}

// ValidationResult is the validator's output. Sanitized text is computed
// even when the input is invalid.
type ValidationResult struct {
	IsValid          bool     `json:"is_valid"`
	Errors           []string `json:"errors,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
	SanitizedSubject string   `json:"sanitized_subject"`
	SanitizedBody    string   `json:"sanitized_body"`
}

// Response is the caller-visible result of one workflow execution. It is
// an immutable snapshot assembled from the context; classification and
// routing are always populated, with defaults when a stage never ran.
type Response struct {
	TicketID        string                `json:"ticket_id"`
	Classification  *ClassificationResult `json:"classification"`
	ExtractedFields *ExtractionResult     `json:"extracted_fields"`
	ResponseDraft   *ResponseDraft        `json:"response_draft,omitempty"`
	Routing         *RoutingDecision      `json:"routing"`
	DuplicateOf     string                `json:"duplicate_of,omitempty"`
	SimilarityScore float64               `json:"similarity_score,omitempty"`
	WorkflowSteps   []StepResult          `json:"workflow_steps"`
	TotalDurationMs int64                 `json:"total_duration_ms"`
	CreatedAt       time.Time             `json:"created_at"`
}

// Context threads mutable state between workflow steps. It is owned
// exclusively by one Orchestrator.Execute invocation. During the parallel
// group each concurrent task writes only its own result field; the steps
// list is the single shared slot and is guarded by mu.
type Context struct {
	TicketID        string
	Ticket          *TicketInput
	SanitizedTicket *TicketInput
	Options         *Options
	Classification  *ClassificationResult
	Extraction      *ExtractionResult
	Response        *ResponseDraft
	Routing         *RoutingDecision
	DuplicateOf     string
	SimilarityScore float64
	StartTime       time.Time
	Errors          map[string]struct{}

	mu    sync.Mutex
	steps []StepResult
}

// NewContext creates a context for one execution with a fresh ticket ID.
func NewContext(ticket *TicketInput, options *Options) *Context {
	return &Context{
		TicketID:  uuid.New().String(),
		Ticket:    ticket,
		Options:   options,
		StartTime: time.Now(),
		Errors:    make(map[string]struct{}),
	}
}

// AppendStep records a step result. Safe under concurrent append from the
// parallel group.
func (c *Context) AppendStep(step StepResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, step)
}

// Steps returns a copy of the step history in append order.
func (c *Context) Steps() []StepResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]StepResult, len(c.steps))
	copy(out, c.steps)
	return out
}

// HasStep reports whether a step with the given name has been recorded.
func (c *Context) HasStep(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.steps {
		if s.StepName == name {
			return true
		}
	}
	return false
}

// AddError records a distinct validation error string.
func (c *Context) AddError(msg string) {
	c.Errors[msg] = struct{}{}
}

// CurrentTicket returns the sanitized ticket once validation has produced
// one, the raw input otherwise.
func (c *Context) CurrentTicket() *TicketInput {
	if c.SanitizedTicket != nil {
		return c.SanitizedTicket
	}
	return c.Ticket
}

// StageTrace carries per-call bookkeeping from a stage back to the
// orchestrator: whether the deterministic fallback was taken, the original
// AI error text when it was, and token usage for the AI attempt.
type StageTrace struct {
	FallbackUsed bool
	AIError      string
	Tokens       *TokenUsage
}

// AIMode selects the execution path for one stage call.
// AIModeAuto follows the component's configured default; AIModeOn and
// AIModeOff override it. The effective flag is resolved once at the top
// of each stage call.
type AIMode int

const (
	AIModeAuto AIMode = iota
	AIModeOn
	AIModeOff
)

func resolveAIMode(mode AIMode, instanceDefault bool) bool {
	switch mode {
	case AIModeOn:
		return true
	case AIModeOff:
		return false
	default:
		return instanceDefault
	}
}

func severityRank(severity string) int {
	for i, s := range ValidSeverities {
		if s == severity {
			return i
		}
	}
	return len(ValidSeverities)
}
