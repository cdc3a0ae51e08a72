// Package server wires the workflow engine, persistence, and metrics
// behind an Echo HTTP server.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/ticketflow/ticketflow/ai"
	"github.com/ticketflow/ticketflow/internal/profile"
	"github.com/ticketflow/ticketflow/metrics"
	apiv1 "github.com/ticketflow/ticketflow/server/router/api/v1"
	"github.com/ticketflow/ticketflow/store"
	"github.com/ticketflow/ticketflow/workflow"
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
}

func NewServer(ctx context.Context, profile *profile.Profile, storeInstance *store.Store) (*Server, error) {
	echoServer := echo.New()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(middleware.Recover())

	s := &Server{
		Profile:    profile,
		Store:      storeInstance,
		echoServer: echoServer,
	}

	exporter := metrics.NewPrometheusExporter(metrics.DefaultConfig())
	orchestrator := newOrchestrator(profile, storeInstance, exporter)

	echoServer.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	echoServer.GET("/metrics", echo.WrapHandler(exporter.Handler()))

	apiService := apiv1.NewAPIV1Service(profile, storeInstance, orchestrator)
	apiService.Register(echoServer)

	return s, nil
}

// newOrchestrator assembles the workflow engine from the profile. A
// missing or misconfigured LLM degrades to the deterministic paths
// instead of failing startup.
func newOrchestrator(instanceProfile *profile.Profile, storeInstance *store.Store, observer workflow.StepObserver) *workflow.Orchestrator {
	var rules *workflow.Rules
	if instanceProfile.RulesDir != "" {
		rules = workflow.LoadRules(instanceProfile.RulesDir)
	} else {
		rules = workflow.DefaultRules()
	}

	var aiClient workflow.AIClient
	if instanceProfile.IsAIEnabled() {
		svc, err := ai.NewService(&ai.Config{
			Provider:  instanceProfile.LLMProvider,
			Model:     instanceProfile.LLMModel,
			APIKey:    instanceProfile.LLMAPIKey,
			BaseURL:   instanceProfile.LLMBaseURL,
			MaxTokens: instanceProfile.MaxTokens,
			Timeout:   instanceProfile.LLMTimeout,
		})
		if err != nil {
			slog.Warn("failed to initialize LLM service",
				"provider", instanceProfile.LLMProvider,
				"error", err,
				"note", "AI stages will use deterministic fallbacks",
			)
		} else {
			slog.Info("LLM service initialized",
				"provider", instanceProfile.LLMProvider,
				"model", instanceProfile.LLMModel,
			)
			aiClient = ai.NewAssistant(svc)
		}
	}

	var detector workflow.DuplicateDetector
	if storeInstance != nil {
		detector = store.NewDuplicateDetector(storeInstance, 0)
	}

	return workflow.NewOrchestrator(workflow.Config{
		AIClient:               aiClient,
		DuplicateDetector:      detector,
		Rules:                  rules,
		Observer:               observer,
		EnableAIClassification: instanceProfile.AIClassification,
		EnableAIExtraction:     instanceProfile.AIExtraction,
		EnableAIResponse:       instanceProfile.AIResponse,
		ConfidenceThreshold:    instanceProfile.ConfidenceThreshold,
		Timeout:                time.Duration(instanceProfile.WorkflowTimeout) * time.Second,
	})
}

func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	go func() {
		if err := s.echoServer.Start(address); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start echo server", "error", err)
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}

	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close database", "error", err)
	}

	slog.Info("server shutdown complete")
}
