package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/clinicpulse/internal/briefing"
	"github.com/fyrsmithlabs/clinicpulse/internal/pipeline"
	"github.com/fyrsmithlabs/clinicpulse/internal/session"
	"github.com/fyrsmithlabs/clinicpulse/internal/tools"
)

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: s.config.Version})
}

func (s *Server) handleStages(c echo.Context) error {
	defs := s.pipeline.Stages()
	out := make([]StageInfo, len(defs))
	for i, d := range defs {
		out[i] = StageInfo{
			Name:          d.Name,
			OutputKey:     d.OutputKey,
			MaxIterations: d.MaxIterations,
			Fallthrough:   string(d.Fallthrough),
			Conditional:   d.Conditional(),
			Pausable:      d.Pausable,
			Required:      d.Requirements.Fields,
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleListSessions(c echo.Context) error {
	ids, err := s.pipeline.Sessions(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return c.JSON(http.StatusOK, SessionsResponse{Sessions: ids})
}

func (s *Server) handleGetSession(c echo.Context) error {
	sess, err := s.pipeline.Session(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, s.sessionResponse(sess))
}

func (s *Server) sessionResponse(sess *session.Session) SessionResponse {
	defs := s.pipeline.Stages()
	stages := make([]StageStatus, len(defs))
	for i, d := range defs {
		st := StageStatus{
			Stage:     d.Name,
			OutputKey: d.OutputKey,
			Status:    session.StatusPending,
			Max:       d.MaxIterations,
		}
		if run, ok := sess.Runs[d.Name]; ok {
			st.Status = run.Status
			st.Iterations = run.Iterations
			st.Diagnostic = run.Diagnostic
		}
		stages[i] = st
	}
	return SessionResponse{ID: sess.ID, Stages: stages, State: sess.State, Turns: sess.Turns}
}

func (s *Server) handleMessage(c echo.Context) error {
	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid message request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message field is required")
	}

	res, err := s.pipeline.Tick(c.Request().Context(), c.Param("id"), req.Message)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleTool(c echo.Context) error {
	var req ToolRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Args == nil {
		req.Args = map[string]any{}
	}

	res, err := s.pipeline.InvokeTool(c.Request().Context(), c.Param("id"), c.Param("name"), req.Args)
	if err != nil {
		return s.fail(c, err)
	}
	if !res.OK && errors.Is(res.Err, tools.ErrUnknownTool) {
		return echo.NewHTTPError(http.StatusNotFound, res.Error)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleEvaluate(c echo.Context) error {
	var req EvaluateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text field is required")
	}
	return c.JSON(http.StatusOK, EvaluateResponse{
		Scores:   briefing.Evaluate(req.Text),
		MaxTotal: briefing.MaxTotal,
	})
}

// fail maps pipeline and store errors to HTTP errors. Unexpected errors
// are logged and reported without detail.
func (s *Server) fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, session.ErrInvalidSessionID), errors.Is(err, session.ErrEmptySessionID):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	case errors.Is(err, pipeline.ErrNoTools):
		return echo.NewHTTPError(http.StatusNotImplemented, "tools are not configured")
	}
	s.logger.Error(c.Request().Context(), "request failed", zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}
