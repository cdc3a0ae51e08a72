// Package v1 exposes the workflow engine over REST.
package v1

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/lithammer/shortuuid/v4"
	"golang.org/x/sync/semaphore"

	"github.com/ticketflow/ticketflow/internal/profile"
	"github.com/ticketflow/ticketflow/store"
	"github.com/ticketflow/ticketflow/workflow"
)

// maxConcurrentWorkflows bounds in-flight full workflow executions.
const maxConcurrentWorkflows = 16

type APIV1Service struct {
	Profile      *profile.Profile
	Store        *store.Store
	Orchestrator *workflow.Orchestrator

	workflowSemaphore *semaphore.Weighted
}

func NewAPIV1Service(profile *profile.Profile, store *store.Store, orchestrator *workflow.Orchestrator) *APIV1Service {
	return &APIV1Service{
		Profile:           profile,
		Store:             store,
		Orchestrator:      orchestrator,
		workflowSemaphore: semaphore.NewWeighted(maxConcurrentWorkflows),
	}
}

// Register mounts the workflow routes on the given Echo instance.
func (s *APIV1Service) Register(echoServer *echo.Echo) {
	group := echoServer.Group("/api/v1")
	group.Use(middleware.CORS())

	group.POST("/workflow/process", s.ProcessTicket)
	group.POST("/workflow/classify", s.ClassifyTicket)
	group.POST("/workflow/extract", s.ExtractFields)
	group.POST("/workflow/respond", s.GenerateResponse)
	group.POST("/workflow/route", s.RouteTicket)
}

// WorkflowProcessRequest is the body of POST /workflow/process.
type WorkflowProcessRequest struct {
	Ticket  workflow.TicketInput `json:"ticket"`
	Options *workflow.Options    `json:"options,omitempty"`
}

// ClassificationRequest is the body of POST /workflow/classify.
type ClassificationRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// ExtractionRequest is the body of POST /workflow/extract.
type ExtractionRequest struct {
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	Category string `json:"category,omitempty"`
}

// ResponseGenerationRequest is the body of POST /workflow/respond.
type ResponseGenerationRequest struct {
	Subject         string         `json:"subject"`
	Body            string         `json:"body"`
	Category        string         `json:"category"`
	Severity        string         `json:"severity"`
	ExtractedFields map[string]any `json:"extracted_fields,omitempty"`
	Tone            string         `json:"tone,omitempty"`
	CustomerName    string         `json:"customer_name,omitempty"`
}

// RoutingRequest is the body of POST /workflow/route.
type RoutingRequest struct {
	Subject         string         `json:"subject"`
	Body            string         `json:"body"`
	Category        string         `json:"category"`
	Severity        string         `json:"severity"`
	ExtractedFields map[string]any `json:"extracted_fields,omitempty"`
}

// ProcessTicket runs the full workflow and persists the outcome.
func (s *APIV1Service) ProcessTicket(c echo.Context) error {
	request := &WorkflowProcessRequest{}
	if err := c.Bind(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body").SetInternal(err)
	}

	ctx := c.Request().Context()
	if err := s.workflowSemaphore.Acquire(ctx, 1); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "server busy").SetInternal(err)
	}
	defer s.workflowSemaphore.Release(1)

	requestID := shortuuid.New()
	slog.Info("processing ticket",
		"request_id", requestID,
		"subject", truncate(request.Ticket.Subject, 50),
	)

	response := s.Orchestrator.Execute(ctx, &request.Ticket, request.Options)

	slog.Info("ticket processed",
		"request_id", requestID,
		"ticket_id", response.TicketID,
		"category", response.Classification.Category,
		"team", response.Routing.Team,
		"duration_ms", response.TotalDurationMs,
	)

	// Persistence is a side effect; the caller gets the response either way.
	if s.Store != nil {
		go s.persistRun(&request.Ticket, response)
	}

	return c.JSON(http.StatusOK, response)
}

// ClassifyTicket runs classification only.
func (s *APIV1Service) ClassifyTicket(c echo.Context) error {
	request := &ClassificationRequest{}
	if err := c.Bind(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body").SetInternal(err)
	}

	result, _ := s.Orchestrator.ClassifyOnly(c.Request().Context(), &workflow.TicketInput{
		Subject: request.Subject,
		Body:    request.Body,
	})
	return c.JSON(http.StatusOK, result)
}

// ExtractFields runs field extraction only.
func (s *APIV1Service) ExtractFields(c echo.Context) error {
	request := &ExtractionRequest{}
	if err := c.Bind(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body").SetInternal(err)
	}

	result, _ := s.Orchestrator.ExtractOnly(c.Request().Context(), &workflow.TicketInput{
		Subject: request.Subject,
		Body:    request.Body,
	}, request.Category)
	return c.JSON(http.StatusOK, result)
}

// GenerateResponse runs response generation only, with caller-provided
// classification and fields.
func (s *APIV1Service) GenerateResponse(c echo.Context) error {
	request := &ResponseGenerationRequest{}
	if err := c.Bind(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body").SetInternal(err)
	}

	result, _ := s.Orchestrator.RespondOnly(c.Request().Context(),
		&workflow.TicketInput{Subject: request.Subject, Body: request.Body},
		callerClassification(request.Category, request.Severity),
		extractionFromMap(request.ExtractedFields),
		request.CustomerName,
		request.Tone,
	)
	return c.JSON(http.StatusOK, result)
}

// RouteTicket runs routing only, with caller-provided classification and
// fields.
func (s *APIV1Service) RouteTicket(c echo.Context) error {
	request := &RoutingRequest{}
	if err := c.Bind(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body").SetInternal(err)
	}

	result := s.Orchestrator.RouteOnly(
		&workflow.TicketInput{Subject: request.Subject, Body: request.Body},
		callerClassification(request.Category, request.Severity),
		extractionFromMap(request.ExtractedFields),
	)
	return c.JSON(http.StatusOK, result)
}

// callerClassification wraps category/severity supplied by the caller as
// a full-confidence classification.
func callerClassification(category, severity string) *workflow.ClassificationResult {
	return &workflow.ClassificationResult{
		Category:           category,
		CategoryConfidence: 1.0,
		Severity:           severity,
		SeverityConfidence: 1.0,
		Reasoning:          "Provided by caller",
	}
}

func extractionFromMap(fields map[string]any) *workflow.ExtractionResult {
	extraction := &workflow.ExtractionResult{}
	for name, value := range fields {
		extraction.Fields = append(extraction.Fields, workflow.ExtractedField{
			Name:       name,
			Value:      value,
			Confidence: 1.0,
		})
	}
	return extraction
}

// persistRun stores the processed ticket and its workflow run record.
func (s *APIV1Service) persistRun(ticket *workflow.TicketInput, response *workflow.Response) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.Store.CreateTicket(ctx, &store.Ticket{
		ID:            response.TicketID,
		CustomerID:    ticket.CustomerID,
		CustomerEmail: ticket.CustomerEmail,
		Subject:       ticket.Subject,
		Body:          ticket.Body,
		Category:      response.Classification.Category,
		Severity:      response.Classification.Severity,
	}); err != nil {
		slog.Error("failed to persist ticket", "ticket_id", response.TicketID, "error", err)
		return
	}

	status := store.RunStatusSuccess
	for _, step := range response.WorkflowSteps {
		if step.StepName == workflow.StepError {
			status = store.RunStatusError
			break
		}
	}

	payload, err := json.Marshal(response)
	if err != nil {
		slog.Error("failed to encode workflow run", "ticket_id", response.TicketID, "error", err)
		return
	}

	if _, err := s.Store.CreateWorkflowRun(ctx, &store.WorkflowRun{
		TicketID:    response.TicketID,
		Status:      status,
		Category:    response.Classification.Category,
		Severity:    response.Classification.Severity,
		Team:        response.Routing.Team,
		Priority:    response.Routing.Priority,
		DuplicateOf: response.DuplicateOf,
		DurationMs:  response.TotalDurationMs,
		Payload:     payload,
	}); err != nil {
		slog.Error("failed to persist workflow run", "ticket_id", response.TicketID, "error", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
