package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/docquery-ai/docquery/internal/cache"
	"github.com/docquery-ai/docquery/internal/store"
	"github.com/docquery-ai/docquery/models"
)

// AnswerEngine is the pipeline surface the HTTP layer needs.
type AnswerEngine interface {
	Setup(ctx context.Context, refs []string) error
	AnswerBatch(ctx context.Context, questions []string) ([]models.QueryResult, error)
}

// QueryLogger is the audit surface; nil means auditing is disabled.
type QueryLogger interface {
	SaveQueryLog(ctx context.Context, entry *store.QueryLog) error
	ListQueryLogs(ctx context.Context, limit int) ([]store.QueryLog, error)
}

// Server exposes the pipeline over HTTP.
type Server struct {
	echo    *echo.Echo
	engine  AnswerEngine
	logs    QueryLogger
	answers *cache.AnswerCache
	token   string
	logger  *log.Logger
}

func New(engine AnswerEngine, logs QueryLogger, answers *cache.AnswerCache, bearerToken string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	s := &Server{
		engine:  engine,
		logs:    logs,
		answers: answers,
		token:   bearerToken,
		logger:  logger,
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	api.Use(s.withBearerToken)
	api.POST("/answers", s.handleAnswers)
	api.GET("/logs", s.handleLogs)
	api.GET("/cache/report", s.handleCacheReport)

	s.echo = e
	return s
}

// withBearerToken rejects requests without the configured token. An empty
// configured token disables auth.
func (s *Server) withBearerToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.token == "" {
			return next(c)
		}
		header := c.Request().Header.Get("Authorization")
		got, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || got != s.token {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid bearer token")
		}
		return next(c)
	}
}

// documentList accepts either a single string or an array of strings.
type documentList []string

func (d *documentList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*d = documentList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*d = documentList(many)
	return nil
}

type answersRequest struct {
	Documents documentList `json:"documents"`
	Questions []string     `json:"questions"`
}

type answersResponse struct {
	Answers []string             `json:"answers"`
	Results []models.QueryResult `json:"results"`
}

func (s *Server) handleAnswers(c echo.Context) error {
	var req answersRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Documents) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "documents is required")
	}
	if len(req.Questions) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "questions is required")
	}
	for i, q := range req.Questions {
		if strings.TrimSpace(q) == "" {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("question %d is empty", i))
		}
	}

	ctx := c.Request().Context()
	if err := s.engine.Setup(ctx, req.Documents); err != nil {
		if errors.Is(err, models.ErrDocumentNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("document not found: %v", err))
		}
		return echo.NewHTTPError(http.StatusUnprocessableEntity, fmt.Sprintf("document processing failed: %v", err))
	}
	results, err := s.engine.AnswerBatch(ctx, req.Questions)
	if err != nil {
		return err
	}

	s.audit(ctx, req.Documents, results)

	resp := answersResponse{Answers: make([]string, len(results)), Results: results}
	for i, r := range results {
		resp.Answers[i] = r.Answer
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) audit(ctx context.Context, documents []string, results []models.QueryResult) {
	if s.logs == nil {
		return
	}
	for _, r := range results {
		entry := &store.QueryLog{
			Documents: documents,
			Question:  r.Question,
			Answer:    r.Answer,
			Failed:    r.Failed,
			Attempts:  r.Attempts,
			ElapsedMS: r.Elapsed.Milliseconds(),
		}
		if err := s.logs.SaveQueryLog(ctx, entry); err != nil {
			s.logger.Printf("saving query log: %v", err)
		}
	}
}

func (s *Server) handleLogs(c echo.Context) error {
	if s.logs == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "query logging is not configured")
	}
	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	logs, err := s.logs.ListQueryLogs(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	if logs == nil {
		logs = []store.QueryLog{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"logs": logs})
}

func (s *Server) handleCacheReport(c echo.Context) error {
	if s.answers == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "answer cache is not configured")
	}
	return c.JSON(http.StatusOK, s.answers.Report())
}

// Handler exposes the underlying mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run(addr string) error {
	s.logger.Printf("listening on %s", addr)
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}
