package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAIClient struct {
	mock.Mock
}

func (m *mockAIClient) ClassifyTicket(ctx context.Context, subject, body string) (*ClassificationResult, *TokenUsage, error) {
	args := m.Called(ctx, subject, body)
	var result *ClassificationResult
	if v := args.Get(0); v != nil {
		result = v.(*ClassificationResult)
	}
	var tokens *TokenUsage
	if v := args.Get(1); v != nil {
		tokens = v.(*TokenUsage)
	}
	return result, tokens, args.Error(2)
}

func (m *mockAIClient) ExtractFields(ctx context.Context, subject, body, category string) ([]ExtractedField, *TokenUsage, error) {
	args := m.Called(ctx, subject, body, category)
	var fields []ExtractedField
	if v := args.Get(0); v != nil {
		fields = v.([]ExtractedField)
	}
	var tokens *TokenUsage
	if v := args.Get(1); v != nil {
		tokens = v.(*TokenUsage)
	}
	return fields, tokens, args.Error(2)
}

func (m *mockAIClient) DraftResponse(ctx context.Context, req *DraftRequest) (*ResponseDraft, *TokenUsage, error) {
	args := m.Called(ctx, req)
	var draft *ResponseDraft
	if v := args.Get(0); v != nil {
		draft = v.(*ResponseDraft)
	}
	var tokens *TokenUsage
	if v := args.Get(1); v != nil {
		tokens = v.(*TokenUsage)
	}
	return draft, tokens, args.Error(2)
}

type mockDetector struct {
	mock.Mock
}

func (m *mockDetector) FindDuplicate(ctx context.Context, ticket *TicketInput) (string, float64, error) {
	args := m.Called(ctx, ticket)
	return args.String(0), args.Get(1).(float64), args.Error(2)
}

func stepByName(steps []StepResult, name string) *StepResult {
	for i := range steps {
		if steps[i].StepName == name {
			return &steps[i]
		}
	}
	return nil
}

// TestOrchestratorEndToEnd runs the full deterministic pipeline for a
// critical outage ticket.
func TestOrchestratorEndToEnd(t *testing.T) {
	o := NewOrchestrator(Config{})

	resp := o.Execute(context.Background(), &TicketInput{
		Subject:       "URGENT: Production system down",
		Body:          "EMERGENCY!!! The production server is down and it's affecting all users. Error: 0xDEADBEEF.",
		CustomerEmail: "ops@example.com",
	}, nil)

	require.NotNil(t, resp)
	assert.NotEmpty(t, resp.TicketID)

	require.NotNil(t, resp.Classification)
	assert.Equal(t, "technical", resp.Classification.Category)
	assert.Equal(t, "critical", resp.Classification.Severity)

	require.NotNil(t, resp.ExtractedFields)
	assert.NotNil(t, fieldByName(resp.ExtractedFields.Fields, "error_code"))
	assert.NotNil(t, fieldByName(resp.ExtractedFields.Fields, "priority_keywords"))

	require.NotNil(t, resp.Routing)
	assert.Equal(t, "escalation_team", resp.Routing.Team)
	assert.Equal(t, "urgent", resp.Routing.Priority)

	require.NotNil(t, resp.ResponseDraft)
	assert.True(t, resp.ResponseDraft.RequiresEscalation)
	assert.Contains(t, resp.ResponseDraft.Greeting, "ops")

	for _, name := range []string{StepValidation, StepClassification, StepExtraction, StepResponseGeneration, StepRouting} {
		step := stepByName(resp.WorkflowSteps, name)
		require.NotNil(t, step, "missing step %s", name)
		assert.Equal(t, StepCompleted, step.Status)
	}
	assert.GreaterOrEqual(t, resp.TotalDurationMs, int64(0))
}

// TestOrchestratorValidationFailure verifies an invalid ticket produces an
// error-shaped response without running later stages.
func TestOrchestratorValidationFailure(t *testing.T) {
	o := NewOrchestrator(Config{})

	resp := o.Execute(context.Background(), &TicketInput{Subject: "", Body: "something"}, nil)

	require.NotNil(t, resp)
	assert.Nil(t, resp.ResponseDraft)
	assert.Equal(t, "general", resp.Classification.Category)
	assert.InDelta(t, 0.3, resp.Classification.CategoryConfidence, 1e-9)
	assert.Contains(t, resp.Classification.Reasoning, "Error occurred: Validation failed")
	assert.Equal(t, "technical_support", resp.Routing.Team)

	validation := stepByName(resp.WorkflowSteps, StepValidation)
	require.NotNil(t, validation)
	assert.Equal(t, StepFailed, validation.Status)
	assert.Contains(t, validation.Error, "Subject cannot be empty")

	require.NotNil(t, stepByName(resp.WorkflowSteps, StepError))
	assert.Nil(t, stepByName(resp.WorkflowSteps, StepClassification))
}

// TestOrchestratorSkipFlags verifies skipped stages yield their documented
// defaults and record no steps.
func TestOrchestratorSkipFlags(t *testing.T) {
	o := NewOrchestrator(Config{})

	resp := o.Execute(context.Background(),
		&TicketInput{Subject: "Hello", Body: "Just a note"},
		&Options{
			SkipClassification: true,
			SkipExtraction:     true,
			SkipResponse:       true,
			SkipRouting:        true,
		})

	require.NotNil(t, resp)
	assert.Equal(t, "general", resp.Classification.Category)
	assert.InDelta(t, 1.0, resp.Classification.CategoryConfidence, 1e-9)
	assert.Equal(t, "Classification skipped", resp.Classification.Reasoning)
	assert.Empty(t, resp.ExtractedFields.Fields)
	assert.Nil(t, resp.ResponseDraft)
	assert.Equal(t, "Default routing", resp.Routing.Reasoning)

	assert.Nil(t, stepByName(resp.WorkflowSteps, StepClassification))
	assert.Nil(t, stepByName(resp.WorkflowSteps, StepExtraction))
	assert.Nil(t, stepByName(resp.WorkflowSteps, StepResponseGeneration))
	assert.Nil(t, stepByName(resp.WorkflowSteps, StepRouting))
}

// TestOrchestratorSequentialMatchesParallel verifies both execution modes
// agree on the stage outputs for an AI-free run.
func TestOrchestratorSequentialMatchesParallel(t *testing.T) {
	o := NewOrchestrator(Config{})
	ticket := &TicketInput{
		Subject: "Refund request",
		Body:    "Please refund order ORD-98765, total: $42.00.",
	}

	parallel := o.Execute(context.Background(), ticket, &Options{EnableParallel: true, ResponseTone: "friendly"})
	sequential := o.Execute(context.Background(), ticket, &Options{EnableParallel: false, ResponseTone: "friendly"})

	assert.Equal(t, parallel.Classification, sequential.Classification)
	assert.Equal(t, parallel.Routing, sequential.Routing)
	assert.Equal(t, parallel.ExtractedFields.Fields, sequential.ExtractedFields.Fields)
}

// TestOrchestratorAIFallback verifies a failing AI client degrades every
// AI-backed stage to its deterministic path with fallback telemetry.
func TestOrchestratorAIFallback(t *testing.T) {
	ai := new(mockAIClient)
	ai.On("ClassifyTicket", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil, errors.New("api down"))
	ai.On("ExtractFields", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil, errors.New("api down"))
	ai.On("DraftResponse", mock.Anything, mock.Anything).Return(nil, nil, errors.New("api down"))

	o := NewOrchestrator(Config{
		AIClient:               ai,
		EnableAIClassification: true,
		EnableAIExtraction:     true,
		EnableAIResponse:       true,
	})

	resp := o.Execute(context.Background(), &TicketInput{
		Subject: "Billing problem",
		Body:    "I was overcharged on invoice #56789.",
	}, nil)

	require.NotNil(t, resp)
	assert.Equal(t, "billing", resp.Classification.Category)
	require.NotNil(t, resp.ResponseDraft)
	assert.Equal(t, "billing_template", resp.ResponseDraft.TemplateUsed)

	for _, name := range []string{StepClassification, StepExtraction, StepResponseGeneration} {
		step := stepByName(resp.WorkflowSteps, name)
		require.NotNil(t, step, "missing step %s", name)
		assert.Equal(t, StepCompleted, step.Status)
		assert.True(t, step.FallbackUsed, "step %s should report fallback", name)
		assert.Equal(t, "api down", step.Error)
	}
}

// TestOrchestratorGenerationPanicFallsBack verifies an unexpected failure
// inside response generation degrades to the template draft instead of
// producing an error-shaped response.
func TestOrchestratorGenerationPanicFallsBack(t *testing.T) {
	ai := new(mockAIClient)
	ai.On("DraftResponse", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { panic("draft exploded") }).
		Return(nil, nil, nil)

	o := NewOrchestrator(Config{
		AIClient:         ai,
		EnableAIResponse: true,
	})

	resp := o.Execute(context.Background(), &TicketInput{
		Subject: "Billing problem",
		Body:    "I was overcharged on invoice #56789.",
	}, nil)

	require.NotNil(t, resp)
	assert.Nil(t, stepByName(resp.WorkflowSteps, StepError))

	require.NotNil(t, resp.ResponseDraft)
	assert.Equal(t, "billing_template", resp.ResponseDraft.TemplateUsed)

	step := stepByName(resp.WorkflowSteps, StepResponseGeneration)
	require.NotNil(t, step)
	assert.Equal(t, StepCompleted, step.Status)
	assert.True(t, step.FallbackUsed)
	assert.Equal(t, "draft exploded", step.Error)

	// Routing still runs after the recovered stage.
	require.NotNil(t, resp.Routing)
	assert.Equal(t, "billing_team", resp.Routing.Team)
}

// TestOrchestratorDuplicateDetection verifies a detected duplicate lands
// on the response and a detector error never fails the workflow.
func TestOrchestratorDuplicateDetection(t *testing.T) {
	detector := new(mockDetector)
	detector.On("FindDuplicate", mock.Anything, mock.Anything).Return("ticket-123", 0.91, nil).Once()

	o := NewOrchestrator(Config{DuplicateDetector: detector})
	resp := o.Execute(context.Background(), &TicketInput{
		Subject: "Login broken", Body: "Cannot sign in to my account", CustomerID: "c1",
	}, nil)

	assert.Equal(t, "ticket-123", resp.DuplicateOf)
	assert.InDelta(t, 0.91, resp.SimilarityScore, 1e-9)
	step := stepByName(resp.WorkflowSteps, StepDuplicateDetection)
	require.NotNil(t, step)
	assert.Equal(t, StepCompleted, step.Status)

	failing := new(mockDetector)
	failing.On("FindDuplicate", mock.Anything, mock.Anything).Return("", 0.0, errors.New("store offline"))

	o = NewOrchestrator(Config{DuplicateDetector: failing})
	resp = o.Execute(context.Background(), &TicketInput{
		Subject: "Login broken", Body: "Cannot sign in to my account",
	}, nil)

	step = stepByName(resp.WorkflowSteps, StepDuplicateDetection)
	require.NotNil(t, step)
	assert.Equal(t, StepFailed, step.Status)
	assert.True(t, step.FallbackUsed)
	require.NotNil(t, resp.Classification)
	assert.Equal(t, "account", resp.Classification.Category)
}

// TestOrchestratorObserver verifies step and workflow telemetry reach the
// observer under parallel execution.
func TestOrchestratorObserver(t *testing.T) {
	obs := &recordingObserver{}

	o := NewOrchestrator(Config{Observer: obs})
	o.Execute(context.Background(), &TicketInput{Subject: "Question", Body: "How do I export data?"}, nil)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.NotEmpty(t, obs.steps)
	require.Len(t, obs.workflows, 1)
	assert.Equal(t, "success", obs.workflows[0])
}

type recordingObserver struct {
	mu        sync.Mutex
	steps     []StepResult
	workflows []string
}

func (r *recordingObserver) ObserveStep(step StepResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
}

func (r *recordingObserver) ObserveWorkflow(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows = append(r.workflows, outcome)
}

// TestOrchestratorSingleStageEntrypoints exercises the per-stage
// operations used by the HTTP layer.
func TestOrchestratorSingleStageEntrypoints(t *testing.T) {
	o := NewOrchestrator(Config{})
	ticket := &TicketInput{
		Subject:       "Password reset loop",
		Body:          "Resetting my password just sends me back to the login page.",
		CustomerEmail: "sam@example.com",
	}

	classification, _ := o.ClassifyOnly(context.Background(), ticket)
	require.NotNil(t, classification)
	assert.Equal(t, "account", classification.Category)

	extraction, _ := o.ExtractOnly(context.Background(), ticket, "")
	require.NotNil(t, extraction)

	draft, _ := o.RespondOnly(context.Background(), ticket, classification, extraction, "", "formal")
	require.NotNil(t, draft)
	assert.Equal(t, "formal", draft.Tone)
	assert.Contains(t, draft.Greeting, "sam")

	// A caller-supplied name takes precedence over the derived one.
	named, _ := o.RespondOnly(context.Background(), ticket, classification, extraction, "Sam Jones", "formal")
	require.NotNil(t, named)
	assert.Contains(t, named.Greeting, "Sam Jones")

	decision := o.RouteOnly(ticket, classification, extraction)
	require.NotNil(t, decision)
	assert.Equal(t, "account_management", decision.Team)
}
