package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Solvro/ml-mcp/rag"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Dependencies are the pipeline operations exposed over HTTP. Handlers stay
// transport-only; everything behavioural lives behind these funcs so tests can
// swap them for fakes.
type Dependencies struct {
	Ask       func(ctx context.Context, question, sessionID, traceID string) *rag.Result
	RunIngest func(ctx context.Context, prefix string) (*rag.RunSummary, error)
	Metrics   rag.PipelineMetrics
	Logger    *slog.Logger
}

type askRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
}

type ingestRequest struct {
	Prefix string `json:"prefix"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func Register(e *echo.Echo, deps Dependencies) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = rag.NoopPipelineMetrics{}
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	e.GET("/metrics/app", func(c echo.Context) error {
		return c.JSON(http.StatusOK, metrics.Snapshot())
	})

	e.POST("/ask", func(c echo.Context) error {
		if deps.Ask == nil {
			return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "ask pipeline not configured"})
		}

		var req askRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		}
		req.Question = strings.TrimSpace(req.Question)
		if req.Question == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "question is required"})
		}

		traceID := strings.TrimSpace(c.Request().Header.Get(traceIDHeader))
		if traceID == "" {
			traceID = uuid.NewString()
		}
		c.Response().Header().Set(traceIDHeader, traceID)

		result := deps.Ask(c.Request().Context(), req.Question, req.SessionID, traceID)
		return c.JSON(http.StatusOK, result)
	})

	e.POST("/ingest/run", func(c echo.Context) error {
		if deps.RunIngest == nil {
			return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "ingestion not configured"})
		}

		var req ingestRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		}

		summary, err := deps.RunIngest(c.Request().Context(), req.Prefix)
		if err != nil {
			logger.ErrorContext(c.Request().Context(), "ingest run failed", "error", err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		}
		return c.JSON(http.StatusOK, summary)
	})
}
