package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dyluth/warren/internal/audit"
	"github.com/dyluth/warren/internal/bridge"
	"github.com/dyluth/warren/internal/continuity"
	"github.com/dyluth/warren/internal/filter"
	"github.com/dyluth/warren/internal/insight"
	"github.com/dyluth/warren/internal/timespec"
	"github.com/dyluth/warren/pkg/blackboard"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// ErrorResponse is the body of every non-2xx admin response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// InsightStatusRequest is the body of POST /insights/{id}/status.
type InsightStatusRequest struct {
	Status blackboard.InsightStatus `json:"status"`
	TaskID string                   `json:"task_id,omitempty"`
}

// CooldownRequest is the body of POST /insights/{id}/cooldown.
type CooldownRequest struct {
	For    string `json:"for"` // Go duration, empty clears the cooldown
	Reason string `json:"reason,omitempty"`
}

// BridgeRequest is the body of POST /insights/{id}/bridge.
type BridgeRequest struct {
	PreferredAssignee string `json:"preferred_assignee,omitempty"`
}

// PauseRequest is the body of POST /continuity/pause. Exactly one of For and
// Until is set.
type PauseRequest struct {
	For    string    `json:"for,omitempty"`
	Until  time.Time `json:"until,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

// PauseResponse reports the pause state.
type PauseResponse struct {
	Paused bool `json:"paused"`
	continuity.PauseState
}

// SuppressionCheckRequest is the body of POST /suppression/check.
type SuppressionCheckRequest struct {
	Category string `json:"category"`
	Channel  string `json:"channel"`
	Content  string `json:"content"`
}

// TaskWriteRequest is the body of POST /tasks and PUT /tasks/{id}.
type TaskWriteRequest struct {
	Actor string           `json:"actor"`
	Note  string           `json:"note,omitempty"`
	Task  *blackboard.Task `json:"task"`
}

// SuggestRequest is the body of POST /assign/suggest and POST /agents/{name}/score.
type SuggestRequest struct {
	Task     *blackboard.Task `json:"task"`
	Override string           `json:"override,omitempty"`
}

// PruneResponse reports a suppression prune.
type PruneResponse struct {
	Removed int `json:"removed"`
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)
	if len(s.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.healthCheckHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/reflections", s.handleIngest)

		r.Get("/insights", s.handleListInsights)
		r.Get("/insights/{id}", s.handleGetInsight)
		r.Post("/insights/{id}/status", s.handleInsightStatus)
		r.Post("/insights/{id}/cooldown", s.handleCooldown)
		r.Post("/insights/{id}/bridge", s.handleBridgeInsight)

		r.Post("/bridge/catchup", s.handleCatchUp)

		r.Post("/continuity/tick", s.handleTick)
		r.Get("/continuity/stats", s.handleContinuityStats)
		r.Get("/continuity/log", s.handleContinuityLog)
		r.Get("/continuity/pause", s.handlePauseStatus)
		r.Post("/continuity/pause", s.handlePause)
		r.Delete("/continuity/pause", s.handleResume)

		r.Post("/suppression/check", s.handleSuppressionCheck)
		r.Post("/suppression/prune", s.handleSuppressionPrune)
		r.Get("/suppression/stats", s.handleSuppressionStats)

		r.Get("/audit", s.handleAudit)
		r.Get("/alerts", s.handleAlerts)

		r.Post("/tasks", s.handleCreateTask)
		r.Get("/tasks/{id}", s.handleGetTask)
		r.Put("/tasks/{id}", s.handleUpdateTask)

		r.Get("/agents", s.handleAgents)
		r.Get("/agents/{name}/wip", s.handleWip)
		r.Post("/agents/{name}/score", s.handleScore)
		r.Post("/assign/suggest", s.handleSuggest)
	})
	return r
}

// writeError maps typed errors to status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation   *insight.ValidationError
		duplicate    *insight.DuplicateError
		transition   *insight.TransitionError
		unauthorized *audit.UnauthorizedApprovalError
		badRequest   *requestError
	)

	code, kind := http.StatusInternalServerError, "internal"
	switch {
	case errors.As(err, &badRequest), errors.As(err, &validation):
		code, kind = http.StatusBadRequest, "validation"
	case errors.As(err, &duplicate):
		code, kind = http.StatusConflict, "duplicate"
	case errors.As(err, &transition), errors.Is(err, insight.ErrTaskAlreadyLinked),
		errors.Is(err, blackboard.ErrConflict), errors.Is(err, blackboard.ErrTaskExists),
		errors.Is(err, blackboard.ErrTaskAlreadyAssigned):
		code, kind = http.StatusConflict, "conflict"
	case errors.As(err, &unauthorized):
		code, kind = http.StatusForbidden, "unauthorized_approval"
	case blackboard.IsNotFound(err), errors.Is(err, ErrUnknownAgent):
		code, kind = http.StatusNotFound, "not_found"
	}

	if code == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("event_type", "admin_request_failed").Str("path", r.URL.Path).Msg("admin request failed")
	}
	writeJSON(w, code, ErrorResponse{Error: err.Error(), Kind: kind})
}

// requestError is a malformed request.
type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func badRequestf(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequestf("invalid request body: %v", err)
	}
	return nil
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var refl blackboard.Reflection
	if err := decodeBody(r, &refl); err != nil {
		s.writeError(w, r, err)
		return
	}
	ins, err := s.engine.IngestReflection(r.Context(), &refl)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ins)
}

func (s *Server) handleListInsights(w http.ResponseWriter, r *http.Request) {
	c, err := insightCriteria(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.engine.ListInsights(r.Context(), c)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func insightCriteria(r *http.Request) (*filter.InsightCriteria, error) {
	q := r.URL.Query()
	c := &filter.InsightCriteria{
		ClusterGlob: q.Get("cluster"),
		Unbridged:   q.Get("unbridged") == "true",
		MinSeverity: blackboard.Severity(q.Get("min_severity")),
	}
	if v := q.Get("status"); v != "" {
		for _, part := range strings.Split(v, ",") {
			status := blackboard.InsightStatus(strings.TrimSpace(part))
			if err := status.Validate(); err != nil {
				return nil, badRequestf("invalid status: %v", err)
			}
			c.Statuses = append(c.Statuses, status)
		}
	}
	if v := q.Get("min_independent"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, badRequestf("invalid min_independent: %s", v)
		}
		c.MinIndependent = n
	}
	if v := q.Get("since"); v != "" {
		ms, err := timespec.Parse(v, time.Now())
		if err != nil {
			return nil, badRequestf("invalid since: %v", err)
		}
		c.SinceUpdatedMs = ms
	}
	return c, nil
}

func (s *Server) handleGetInsight(w http.ResponseWriter, r *http.Request) {
	ins, err := s.engine.GetInsight(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ins)
}

func (s *Server) handleInsightStatus(w http.ResponseWriter, r *http.Request) {
	var req InsightStatusRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := req.Status.Validate(); err != nil {
		s.writeError(w, r, badRequestf("invalid status: %v", err))
		return
	}
	ins, err := s.engine.UpdateInsightStatus(r.Context(), chi.URLParam(r, "id"), req.Status, req.TaskID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ins)
}

func (s *Server) handleCooldown(w http.ResponseWriter, r *http.Request) {
	var req CooldownRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	var until time.Time
	if req.For != "" {
		d, err := time.ParseDuration(req.For)
		if err != nil || d <= 0 {
			s.writeError(w, r, badRequestf("invalid cooldown duration: %q", req.For))
			return
		}
		until = time.Now().Add(d)
	}
	ins, err := s.engine.SetInsightCooldown(r.Context(), chi.URLParam(r, "id"), until, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ins)
}

func (s *Server) handleBridgeInsight(w http.ResponseWriter, r *http.Request) {
	var req BridgeRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	result, err := s.engine.BridgeInsight(r.Context(), chi.URLParam(r, "id"), bridge.Options{PreferredAssignee: req.PreferredAssignee})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCatchUp(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.RunCatchUpScan(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.TickContinuityLoop(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleContinuityStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.GetContinuityStats())
}

func (s *Server) handleContinuityLog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.GetContinuityAuditLog())
}

func (s *Server) handlePauseStatus(w http.ResponseWriter, r *http.Request) {
	state, paused, err := s.engine.ContinuityPauseStatus(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PauseResponse{Paused: paused, PauseState: state})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req PauseRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	until := req.Until
	switch {
	case req.For != "" && !until.IsZero():
		s.writeError(w, r, badRequestf("set either for or until, not both"))
		return
	case req.For != "":
		d, err := time.ParseDuration(req.For)
		if err != nil || d <= 0 {
			s.writeError(w, r, badRequestf("invalid pause duration: %q", req.For))
			return
		}
		until = time.Now().Add(d)
	case until.IsZero():
		s.writeError(w, r, badRequestf("pause needs for or until"))
		return
	}

	state, err := s.engine.PauseContinuity(r.Context(), until, req.Reason)
	if err != nil {
		s.writeError(w, r, badRequestf("%v", err))
		return
	}
	writeJSON(w, http.StatusOK, PauseResponse{Paused: true, PauseState: state})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ResumeContinuity(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSuppressionCheck(w http.ResponseWriter, r *http.Request) {
	var req SuppressionCheckRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Category == "" || req.Channel == "" {
		s.writeError(w, r, badRequestf("category and channel are required"))
		return
	}
	result, err := s.engine.CheckSuppression(r.Context(), req.Category, req.Channel, req.Content)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSuppressionPrune(w http.ResponseWriter, r *http.Request) {
	removed, err := s.engine.PruneSuppression(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PruneResponse{Removed: removed})
}

func (s *Server) handleSuppressionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.SuppressionStats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	c := &filter.AuditCriteria{
		TaskID: q.Get("task"),
		Actor:  q.Get("actor"),
		Field:  q.Get("field"),
	}

	since, until, err := timespec.ParseRange(q.Get("since"), q.Get("until"), time.Now())
	if err != nil {
		s.writeError(w, r, badRequestf("%v", err))
		return
	}
	c.SinceTimestampMs, c.UntilTimestampMs = since, until

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, r, badRequestf("invalid limit: %s", v))
			return
		}
		c.Limit = n
	}
	writeJSON(w, http.StatusOK, s.engine.GetAuditEntries(c))
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.ListAlerts())
}

func (s *Server) decodeTaskWrite(r *http.Request) (*TaskWriteRequest, error) {
	var req TaskWriteRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if req.Task == nil {
		return nil, badRequestf("task is required")
	}
	if strings.TrimSpace(req.Actor) == "" {
		return nil, badRequestf("actor is required")
	}
	return &req, nil
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeTaskWrite(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := req.Task.Validate(); err != nil {
		s.writeError(w, r, badRequestf("%v", err))
		return
	}
	if err := s.engine.CreateTask(r.Context(), req.Actor, req.Task); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req.Task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.engine.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeTaskWrite(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	if req.Task.ID == "" {
		req.Task.ID = id
	}
	if req.Task.ID != id {
		s.writeError(w, r, badRequestf("task id %q does not match path %q", req.Task.ID, id))
		return
	}
	if err := req.Task.Validate(); err != nil {
		s.writeError(w, r, badRequestf("%v", err))
		return
	}
	if err := s.engine.UpdateTask(r.Context(), req.Actor, req.Task, req.Note); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req.Task)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Agents())
}

func (s *Server) handleWip(w http.ResponseWriter, r *http.Request) {
	check, err := s.engine.CheckWipCap(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (s *Server) decodeSuggest(r *http.Request) (*SuggestRequest, error) {
	var req SuggestRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if req.Task == nil {
		return nil, badRequestf("task is required")
	}
	return &req, nil
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeSuggest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	score, err := s.engine.ScoreAssignment(r.Context(), chi.URLParam(r, "name"), req.Task)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeSuggest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	suggestion, err := s.engine.SuggestAssignee(r.Context(), req.Task, req.Override)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestion)
}
