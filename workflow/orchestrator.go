package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// StepObserver receives step telemetry as the orchestrator records it.
// Implementations must be safe for concurrent use; the parallel group
// reports steps from multiple goroutines.
type StepObserver interface {
	ObserveStep(step StepResult)
	ObserveWorkflow(outcome string, duration time.Duration)
}

// Config wires an Orchestrator. The zero value is usable: no AI client
// means every stage takes its deterministic path.
type Config struct {
	AIClient          AIClient
	DuplicateDetector DuplicateDetector
	Rules             *Rules
	Observer          StepObserver

	EnableAIClassification bool
	EnableAIExtraction     bool
	EnableAIResponse       bool

	// ConfidenceThreshold gates acceptance of AI classification results.
	ConfidenceThreshold float64

	// Timeout bounds one Execute call. Zero disables the deadline.
	Timeout time.Duration
}

// Orchestrator coordinates the ticket pipeline: validation, then
// duplicate detection, classification and extraction (parallel when
// enabled), then response generation and routing. Stage failures degrade
// to deterministic results; Execute never returns an error.
type Orchestrator struct {
	validator  *Validator
	classifier *Classifier
	extractor  *Extractor
	generator  *Generator
	router     *Router
	detector   DuplicateDetector
	observer   StepObserver
	timeout    time.Duration
}

func NewOrchestrator(cfg Config) *Orchestrator {
	rules := cfg.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	threshold := cfg.ConfidenceThreshold
	if threshold <= 0 {
		threshold = 0.7
	}

	return &Orchestrator{
		validator:  NewValidator(),
		classifier: NewClassifier(cfg.AIClient, cfg.EnableAIClassification, threshold, rules),
		extractor:  NewExtractor(cfg.AIClient, cfg.EnableAIExtraction, rules),
		generator:  NewGenerator(cfg.AIClient, cfg.EnableAIResponse),
		router:     NewRouter(rules),
		detector:   cfg.DuplicateDetector,
		observer:   cfg.Observer,
		timeout:    cfg.Timeout,
	}
}

// Execute runs the full pipeline for one ticket. The returned response is
// always structurally complete; a failed validation or an internal panic
// yields an error-shaped response with default classification and routing.
func (o *Orchestrator) Execute(ctx context.Context, ticket *TicketInput, options *Options) (resp *Response) {
	if options == nil {
		options = DefaultOptions()
	}
	wf := NewContext(ticket, options)

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("orchestrator: workflow panic", "ticket_id", wf.TicketID, "panic", r)
			resp = o.buildErrorResponse(wf, fmt.Sprintf("%v", r))
		}
	}()

	slog.Info("orchestrator: starting workflow", "ticket_id", wf.TicketID)

	o.runValidation(wf)
	if len(wf.Errors) > 0 && wf.SanitizedTicket == nil {
		return o.buildErrorResponse(wf, "Validation failed")
	}

	if options.EnableParallel {
		o.runParallelGroup(ctx, wf)
	} else {
		o.runSequentialGroup(ctx, wf)
	}
	if deadlineExceeded(ctx) {
		return o.buildErrorResponse(wf, "Workflow execution timeout")
	}

	if !options.SkipResponse {
		o.runResponseGeneration(ctx, wf)
	}
	if !options.SkipRouting {
		o.runRouting(wf)
	}
	if deadlineExceeded(ctx) {
		return o.buildErrorResponse(wf, "Workflow execution timeout")
	}

	return o.buildSuccessResponse(wf)
}

func deadlineExceeded(ctx context.Context) bool {
	return ctx.Err() == context.DeadlineExceeded
}

func (o *Orchestrator) runValidation(wf *Context) {
	start := time.Now()
	result := o.validator.Validate(wf.Ticket)

	if result.IsValid {
		wf.SanitizedTicket = &TicketInput{
			Subject:       result.SanitizedSubject,
			Body:          result.SanitizedBody,
			CustomerID:    wf.Ticket.CustomerID,
			CustomerEmail: wf.Ticket.CustomerEmail,
			Metadata:      wf.Ticket.Metadata,
		}
		o.recordStep(wf, StepResult{
			StepName: StepValidation,
			Status:   StepCompleted,
			Warnings: result.Warnings,
		}, start)
		return
	}

	for _, e := range result.Errors {
		wf.AddError(e)
	}
	o.recordStep(wf, StepResult{
		StepName: StepValidation,
		Status:   StepFailed,
		Error:    strings.Join(result.Errors, "; "),
	}, start)
}

// runParallelGroup runs duplicate detection, classification, and
// extraction concurrently. Each task writes only its own context field;
// extraction therefore runs with the neutral category since the
// classification result is not yet visible to it.
func (o *Orchestrator) runParallelGroup(ctx context.Context, wf *Context) {
	var wg sync.WaitGroup
	run := func(name string, task func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer o.recoverStep(wf, name)
			task()
		}()
	}

	if wf.Options.EnableDuplicateDetection && o.detector != nil {
		run(StepDuplicateDetection, func() { o.runDuplicateDetection(ctx, wf) })
	}

	if wf.Options.SkipClassification {
		wf.Classification = skippedClassification()
	} else {
		run(StepClassification, func() { o.runClassification(ctx, wf) })
	}

	if wf.Options.SkipExtraction {
		wf.Extraction = &ExtractionResult{}
	} else {
		run(StepExtraction, func() { o.runExtraction(ctx, wf, "general") })
	}

	wg.Wait()
}

// runSequentialGroup runs the same steps in order; extraction sees the
// classified category.
func (o *Orchestrator) runSequentialGroup(ctx context.Context, wf *Context) {
	if wf.Options.EnableDuplicateDetection && o.detector != nil {
		o.runDuplicateDetection(ctx, wf)
	}

	if wf.Options.SkipClassification {
		wf.Classification = skippedClassification()
	} else {
		o.runClassification(ctx, wf)
	}

	if wf.Options.SkipExtraction {
		wf.Extraction = &ExtractionResult{}
	} else {
		category := "general"
		if wf.Classification != nil {
			category = wf.Classification.Category
		}
		o.runExtraction(ctx, wf, category)
	}
}

func skippedClassification() *ClassificationResult {
	return &ClassificationResult{
		Category:           "general",
		CategoryConfidence: 1.0,
		Severity:           "medium",
		SeverityConfidence: 1.0,
		Reasoning:          "Classification skipped",
	}
}

// recoverStep converts a panicking parallel task into a failed step so
// the workflow keeps going.
func (o *Orchestrator) recoverStep(wf *Context, name string) {
	if r := recover(); r != nil {
		slog.Error("orchestrator: step panic", "ticket_id", wf.TicketID, "step", name, "panic", r)
		o.recordStep(wf, StepResult{
			StepName: name,
			Status:   StepFailed,
			Error:    fmt.Sprintf("%v", r),
		}, time.Now())
	}
}

// runDuplicateDetection never fails the workflow; a detector error is
// recorded as a failed step and processing continues.
func (o *Orchestrator) runDuplicateDetection(ctx context.Context, wf *Context) {
	start := time.Now()
	duplicateOf, similarity, err := o.detector.FindDuplicate(ctx, wf.CurrentTicket())
	if err != nil {
		slog.Warn("orchestrator: duplicate detection failed", "ticket_id", wf.TicketID, "error", err)
		o.recordStep(wf, StepResult{
			StepName:     StepDuplicateDetection,
			Status:       StepFailed,
			Error:        err.Error(),
			FallbackUsed: true,
		}, start)
		return
	}

	if duplicateOf != "" {
		wf.DuplicateOf = duplicateOf
		wf.SimilarityScore = similarity
	}
	o.recordStep(wf, StepResult{
		StepName: StepDuplicateDetection,
		Status:   StepCompleted,
	}, start)
}

func (o *Orchestrator) runClassification(ctx context.Context, wf *Context) {
	start := time.Now()
	ticket := wf.CurrentTicket()

	result, trace := o.classifier.Classify(ctx, ticket.Subject, ticket.Body, AIModeAuto)
	wf.Classification = result

	o.recordStep(wf, stepFromTrace(StepClassification, trace), start)
}

func (o *Orchestrator) runExtraction(ctx context.Context, wf *Context, category string) {
	start := time.Now()
	ticket := wf.CurrentTicket()

	result, trace := o.extractor.Extract(ctx, ticket.Subject, ticket.Body, category, AIModeAuto)
	wf.Extraction = result

	o.recordStep(wf, stepFromTrace(StepExtraction, trace), start)
}

func (o *Orchestrator) runResponseGeneration(ctx context.Context, wf *Context) {
	start := time.Now()
	ticket := wf.CurrentTicket()

	category, severity := "general", "medium"
	if wf.Classification != nil {
		category, severity = wf.Classification.Category, wf.Classification.Severity
	}
	var fields []ExtractedField
	if wf.Extraction != nil {
		fields = wf.Extraction.Fields
	}
	tone := "friendly"
	if wf.Options != nil && wf.Options.ResponseTone != "" {
		tone = wf.Options.ResponseTone
	}
	name := customerName(ticket, fields)

	// An unexpected failure in this stage degrades to the template draft
	// instead of aborting the workflow.
	defer func() {
		if r := recover(); r != nil {
			slog.Error("orchestrator: response generation panic, using template",
				"ticket_id", wf.TicketID, "panic", r)
			wf.Response = o.generator.generateFromTemplate(category, severity, name, tone)
			o.recordStep(wf, StepResult{
				StepName:     StepResponseGeneration,
				Status:       StepCompleted,
				Error:        fmt.Sprintf("%v", r),
				FallbackUsed: true,
			}, start)
		}
	}()

	draft, trace := o.generator.Generate(ctx, &GenerateInput{
		Subject:      ticket.Subject,
		Body:         ticket.Body,
		Category:     category,
		Severity:     severity,
		Fields:       fields,
		CustomerName: name,
		Tone:         tone,
	}, AIModeAuto)
	wf.Response = draft

	o.recordStep(wf, stepFromTrace(StepResponseGeneration, trace), start)
}

func (o *Orchestrator) runRouting(wf *Context) {
	start := time.Now()

	category, severity := "general", "medium"
	if wf.Classification != nil {
		category, severity = wf.Classification.Category, wf.Classification.Severity
	}

	// An unexpected failure in this stage falls back to the default
	// assignment instead of aborting the workflow.
	defer func() {
		if r := recover(); r != nil {
			slog.Error("orchestrator: routing panic, using default assignment",
				"ticket_id", wf.TicketID, "panic", r)
			wf.Routing = &RoutingDecision{
				Team:             "technical_support",
				Priority:         "normal",
				Reasoning:        "Default routing",
				AlternativeTeams: []string{},
			}
			o.recordStep(wf, StepResult{
				StepName:     StepRouting,
				Status:       StepCompleted,
				Error:        fmt.Sprintf("%v", r),
				FallbackUsed: true,
			}, start)
		}
	}()

	fields := map[string]any{}
	if wf.Extraction != nil {
		fields = FieldsToMap(wf.Extraction.Fields)
	}

	wf.Routing = o.router.Route(category, severity, fields)

	o.recordStep(wf, StepResult{
		StepName: StepRouting,
		Status:   StepCompleted,
	}, start)
}

// customerName derives a greeting name from the extracted account email,
// preferring it over the ticket's customer email. The local part of the
// address stands in for a real name.
func customerName(ticket *TicketInput, fields []ExtractedField) string {
	email := ticket.CustomerEmail
	if f := HighestConfidenceField(fields, "account_email"); f != nil {
		if s, ok := f.Value.(string); ok && s != "" {
			email = s
		}
	}
	if email == "" {
		return ""
	}
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}

func stepFromTrace(name string, trace *StageTrace) StepResult {
	step := StepResult{
		StepName: name,
		Status:   StepCompleted,
	}
	if trace == nil {
		return step
	}
	step.FallbackUsed = trace.FallbackUsed
	step.Error = trace.AIError
	if trace.Tokens != nil {
		step.TokensUsed = trace.Tokens.TotalTokens
	}
	return step
}

func (o *Orchestrator) recordStep(wf *Context, step StepResult, start time.Time) {
	now := time.Now()
	step.StartedAt = start
	step.CompletedAt = now
	step.DurationMs = now.Sub(start).Milliseconds()
	wf.AppendStep(step)

	if o.observer != nil {
		o.observer.ObserveStep(step)
	}

	if step.FallbackUsed {
		slog.Warn("orchestrator: step completed with fallback",
			"ticket_id", wf.TicketID, "step", step.StepName, "duration_ms", step.DurationMs, "error", step.Error)
	} else {
		slog.Info("orchestrator: step finished",
			"ticket_id", wf.TicketID, "step", step.StepName, "status", step.Status, "duration_ms", step.DurationMs)
	}
}

func (o *Orchestrator) buildSuccessResponse(wf *Context) *Response {
	duration := time.Since(wf.StartTime)
	if o.observer != nil {
		o.observer.ObserveWorkflow("success", duration)
	}

	classification := wf.Classification
	if classification == nil {
		classification = &ClassificationResult{
			Category:           "general",
			CategoryConfidence: 0.5,
			Severity:           "medium",
			SeverityConfidence: 0.5,
			Reasoning:          "Default classification",
		}
	}
	extraction := wf.Extraction
	if extraction == nil {
		extraction = &ExtractionResult{}
	}
	routing := wf.Routing
	if routing == nil {
		routing = &RoutingDecision{
			Team:             "technical_support",
			Priority:         "normal",
			Reasoning:        "Default routing",
			AlternativeTeams: []string{},
		}
	}

	return &Response{
		TicketID:        wf.TicketID,
		Classification:  classification,
		ExtractedFields: extraction,
		ResponseDraft:   wf.Response,
		Routing:         routing,
		DuplicateOf:     wf.DuplicateOf,
		SimilarityScore: wf.SimilarityScore,
		WorkflowSteps:   wf.Steps(),
		TotalDurationMs: duration.Milliseconds(),
		CreatedAt:       time.Now().UTC(),
	}
}

func (o *Orchestrator) buildErrorResponse(wf *Context, message string) *Response {
	duration := time.Since(wf.StartTime)
	if o.observer != nil {
		o.observer.ObserveWorkflow("error", duration)
	}

	if !wf.HasStep(StepError) {
		wf.AppendStep(StepResult{
			StepName:    StepError,
			Status:      StepFailed,
			StartedAt:   time.Now(),
			CompletedAt: time.Now(),
			Error:       message,
		})
	}

	classification := wf.Classification
	if classification == nil {
		classification = &ClassificationResult{
			Category:           "general",
			CategoryConfidence: 0.3,
			Severity:           "medium",
			SeverityConfidence: 0.3,
			Reasoning:          "Error occurred: " + message,
		}
	}
	extraction := wf.Extraction
	if extraction == nil {
		extraction = &ExtractionResult{}
	}
	routing := wf.Routing
	if routing == nil {
		routing = &RoutingDecision{
			Team:             "technical_support",
			Priority:         "normal",
			Reasoning:        "Default routing due to error",
			AlternativeTeams: []string{},
		}
	}

	return &Response{
		TicketID:        wf.TicketID,
		Classification:  classification,
		ExtractedFields: extraction,
		Routing:         routing,
		WorkflowSteps:   wf.Steps(),
		TotalDurationMs: duration.Milliseconds(),
		CreatedAt:       time.Now().UTC(),
	}
}

// ClassifyOnly runs just the classification stage on a raw ticket.
func (o *Orchestrator) ClassifyOnly(ctx context.Context, ticket *TicketInput) (*ClassificationResult, *StageTrace) {
	return o.classifier.Classify(ctx, ticket.Subject, ticket.Body, AIModeAuto)
}

// ExtractOnly runs just the extraction stage. An empty category defaults
// to general.
func (o *Orchestrator) ExtractOnly(ctx context.Context, ticket *TicketInput, category string) (*ExtractionResult, *StageTrace) {
	if category == "" {
		category = "general"
	}
	return o.extractor.Extract(ctx, ticket.Subject, ticket.Body, category, AIModeAuto)
}

// RespondOnly runs just response generation from an existing
// classification and optional extraction. An empty customerName falls
// back to the name derived from the ticket's email addresses.
func (o *Orchestrator) RespondOnly(ctx context.Context, ticket *TicketInput, classification *ClassificationResult, extraction *ExtractionResult, customer, tone string) (*ResponseDraft, *StageTrace) {
	var fields []ExtractedField
	if extraction != nil {
		fields = extraction.Fields
	}
	name := customer
	if name == "" {
		name = customerName(ticket, fields)
	}
	return o.generator.Generate(ctx, &GenerateInput{
		Subject:      ticket.Subject,
		Body:         ticket.Body,
		Category:     classification.Category,
		Severity:     classification.Severity,
		Fields:       fields,
		CustomerName: name,
		Tone:         tone,
	}, AIModeAuto)
}

// RouteOnly runs just the routing stage from an existing classification.
func (o *Orchestrator) RouteOnly(ticket *TicketInput, classification *ClassificationResult, extraction *ExtractionResult) *RoutingDecision {
	fields := map[string]any{}
	if extraction != nil {
		fields = FieldsToMap(extraction.Fields)
	}
	return o.router.Route(classification.Category, classification.Severity, fields)
}
