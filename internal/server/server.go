// Package server exposes the answer pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"kgqa_agent/internal/common"
	"kgqa_agent/internal/orche"
	"kgqa_agent/internal/telemetry"
	"kgqa_agent/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Answerer is the streaming entry point served on POST /graph.
type Answerer interface {
	Answer(ctx context.Context, question string, meta map[string]any) <-chan orche.Chunk
}

// HistoryReader serves GET /sessions/:id/history.
type HistoryReader interface {
	History(ctx context.Context, sessionID string) ([]common.Exchange, error)
}

type GraphRequest struct {
	Question  string         `json:"question"`
	SessionID string         `json:"session_id"`
	Context   map[string]any `json:"context"`
}

type Server struct {
	answerer Answerer
	history  HistoryReader
	prom     *telemetry.Metrics
}

func New(a Answerer, h HistoryReader, prom *telemetry.Metrics) *Server {
	return &Server{answerer: a, history: h, prom: prom}
}

// Echo builds the router.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
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
		logger.Warnf("[HTTP] %d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]any{"error": msg})
		}
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if s.prom != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.prom.Registry(), promhttp.HandlerOpts{})))
	}
	e.POST("/graph", s.graph)
	if s.history != nil {
		e.GET("/sessions/:id/history", s.sessionHistory)
	}
	return e
}

// graph streams answer chunks as newline-delimited JSON. A client that goes away
// cancels the request context, which stops the pipeline; the handler then returns nil.
func (s *Server) graph(c echo.Context) error {
	var req GraphRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question is required")
	}
	meta := make(map[string]any, len(req.Context)+1)
	for k, v := range req.Context {
		meta[k] = v
	}
	if req.SessionID != "" {
		meta[orche.MetaSessionID] = req.SessionID
	}

	s.prom.IncActiveStreams("http")
	defer s.prom.DecActiveStreams("http")

	ctx := c.Request().Context()
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "application/x-ndjson")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(resp)
	for chunk := range s.answerer.Answer(ctx, req.Question, meta) {
		if err := enc.Encode(chunk); err != nil {
			logger.Warnf("[HTTP] client went away: %v", err)
			return nil
		}
		resp.Flush()
	}
	return nil
}

func (s *Server) sessionHistory(c echo.Context) error {
	h, err := s.history.History(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	if h == nil {
		h = []common.Exchange{}
	}
	return c.JSON(http.StatusOK, map[string]any{"session_id": c.Param("id"), "rounds": h})
}
