package api

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"
	"github.com/coder/websocket"

	"github.com/CollideNV/hadron/internal/eventbus"
	"github.com/CollideNV/hadron/internal/pipeline"
)

// 1. bind 2. validate 3. transform 4. call collaborator 5. map error or
// respond, mirroring the teacher's pkg/api/handler_alert.go lifecycle.

func (s *Server) triggerHandler(c echo.Context) error {
	var body TriggerBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if body.Title == "" || body.Source == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title and source are required")
	}

	repoURLs := body.RepoURLs
	if len(repoURLs) == 0 && body.RepoURL != "" {
		repoURLs = []string{body.RepoURL}
	}

	trigger := pipeline.TriggerRequest{
		Description:        body.Description,
		RepoURLs:           repoURLs,
		DefaultBranch:      body.RepoDefaultBranch,
		TestCommand:        body.TestCommand,
		Language:           body.Language,
		AcceptanceCriteria: body.AcceptanceCriteria,
	}

	crID, err := s.store.CreateRun(c.Request().Context(), body.ExternalID, body.Title, body.Source, s.cfg.Snapshot(), trigger)
	if err != nil {
		return mapStoreError(err)
	}

	s.spawn(crID)
	return c.JSON(http.StatusAccepted, TriggerResponse{CRID: crID})
}

func (s *Server) listRunsHandler(c echo.Context) error {
	limit := 100
	if q := c.QueryParam("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	runs, err := s.store.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return mapStoreError(err)
	}

	out := make([]RunSummary, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunSummary(run))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) getRunHandler(c echo.Context) error {
	crID := c.Param("cr_id")
	run, err := s.store.GetRun(c.Request().Context(), crID)
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, toRunDetail(run))
}

func (s *Server) resumeHandler(c echo.Context) error {
	crID := c.Param("cr_id")

	var body ResumeBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	run, err := s.store.GetRun(c.Request().Context(), crID)
	if err != nil {
		return mapStoreError(err)
	}
	if run.Status != pipeline.StatusPaused {
		return echo.NewHTTPError(http.StatusConflict, "run is not paused")
	}

	overrides := pipeline.ResumeOverrides{
		ReviewPassed:    body.ReviewPassed,
		RebaseClean:     body.RebaseClean,
		Verified:        body.Verified,
		ApprovalGranted: body.ApprovalGranted,
		CIPassed:        body.CIPassed,
	}
	payload, err := json.Marshal(overrides)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to encode resume overrides")
	}

	ttl := pipeline.ResumeOverrideTTL
	if err := s.registry.Set(c.Request().Context(), crID, pipeline.InterventionResumeOverrides, "", payload, &ttl); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to store resume overrides")
	}

	// claimRun performs the paused->running CAS at worker startup
	// (internal/executor/executor.go); this handler only arms the
	// override and hands the run to a fresh worker.
	s.spawn(crID)
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) intervenHandler(c echo.Context) error {
	crID := c.Param("cr_id")

	var body IntervenBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if body.Instructions == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "instructions is required")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to encode instructions")
	}
	if err := s.registry.Set(c.Request().Context(), crID, pipeline.InterventionInstructions, "", payload, nil); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to store instructions")
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) nudgeHandler(c echo.Context) error {
	crID := c.Param("cr_id")

	var body NudgeBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if body.Role == "" || body.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "role and message are required")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to encode nudge")
	}
	if err := s.registry.Set(c.Request().Context(), crID, pipeline.InterventionNudge, body.Role, payload, nil); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to store nudge")
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) conversationHandler(c echo.Context) error {
	crID := c.Param("cr_id")
	key := c.Param("key")

	messages, err := s.store.GetConversation(c.Request().Context(), crID, key)
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, ConversationResponse{CRID: crID, Key: key, Messages: messages})
}

func (s *Server) logsHandler(c echo.Context) error {
	crID := c.Param("cr_id")
	var lines []string
	if s.logs != nil {
		lines = s.logs.Tail(crID)
	}
	return c.JSON(http.StatusOK, LogsResponse{CRID: crID, Lines: lines})
}

// streamHandler serves the Event Bus's gap-free SSE stream, subscribing
// before replaying buffered events so no event published between the
// subscribe call and replay completion is dropped (internal/eventbus/bus.go
// StreamFrom).
func (s *Server) streamHandler(c echo.Context) error {
	crID := c.QueryParam("cr_id")
	if crID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "cr_id is required")
	}

	var lastSeenID int64
	if v := c.Request().Header.Get("Last-Event-ID"); v != "" {
		lastSeenID, _ = strconv.ParseInt(v, 10, 64)
	} else if v := c.QueryParam("last_seen_id"); v != "" {
		lastSeenID, _ = strconv.ParseInt(v, 10, 64)
	}

	ctx := c.Request().Context()
	events, err := s.bus.StreamFrom(ctx, crID, lastSeenID)
	if err != nil {
		return mapStoreError(err)
	}

	res := c.Response()
	res.Header().Set("Content-Type", "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	w := bufio.NewWriter(res)
	flusher, _ := res.Writer.(http.Flusher)

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if err := eventbus.WriteSSE(w, evt); err != nil {
				return nil
			}
			if err := w.Flush(); err != nil {
				return nil
			}
			if flusher != nil {
				flusher.Flush()
			}
			if evt.Type.Terminal() {
				return nil
			}
		}
	}
}

func (s *Server) debugWSHandler(c echo.Context) error {
	crID := c.QueryParam("cr_id")
	var lastSeenID int64
	if v := c.QueryParam("last_seen_id"); v != "" {
		lastSeenID, _ = strconv.ParseInt(v, 10, 64)
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), nil)
	if err != nil {
		return nil
	}
	eventbus.ServeDebugWS(c.Request().Context(), s.bus, conn, crID, lastSeenID)
	return nil
}

func (s *Server) healthzHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) readyzHandler(c echo.Context) error {
	storeStatus := "healthy"
	if _, err := s.store.Health(c.Request().Context()); err != nil {
		storeStatus = "unhealthy"
	}

	busStatus := "healthy"
	overall := http.StatusOK
	if storeStatus != "healthy" || busStatus != "healthy" {
		overall = http.StatusServiceUnavailable
	}

	return c.JSON(overall, HealthResponse{
		Status:   map[bool]string{true: "ok", false: "degraded"}[overall == http.StatusOK],
		Store:    storeStatus,
		EventBus: busStatus,
	})
}
