package orchestrator

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dyluth/warren/internal/logging"
	"github.com/dyluth/warren/pkg/blackboard"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeResponse[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), w.Body.String())
	return v
}

func TestHealthCheck(t *testing.T) {
	t.Run("healthy with Redis reachable", func(t *testing.T) {
		engine, _, _ := setupTestEngine(t, nil)
		w := doRequest(t, engine.Handler(), http.MethodGet, "/healthz", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		resp := decodeResponse[HealthResponse](t, w)
		assert.Equal(t, "healthy", resp.Status)
		assert.Equal(t, "connected", resp.Redis)
		assert.Equal(t, "stopped", resp.Bridge)
	})

	t.Run("unhealthy when Redis unavailable", func(t *testing.T) {
		// Port 9 is the discard protocol; connections fail immediately
		client, err := blackboard.NewClient(&redis.Options{
			Addr:         "localhost:9",
			DialTimeout:  50 * time.Millisecond,
			ReadTimeout:  50 * time.Millisecond,
			WriteTimeout: 50 * time.Millisecond,
			MaxRetries:   -1,
		}, "test")
		require.NoError(t, err)
		defer client.Close()

		engine := NewEngine(client, testConfig(t), logging.Nop())
		w := doRequest(t, engine.Handler(), http.MethodGet, "/healthz", nil)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		resp := decodeResponse[HealthResponse](t, w)
		assert.Equal(t, "unhealthy", resp.Status)
		assert.Equal(t, "disconnected", resp.Redis)
		assert.NotEmpty(t, resp.Error)
	})

	t.Run("non-GET is rejected", func(t *testing.T) {
		engine, _, _ := setupTestEngine(t, nil)
		w := doRequest(t, engine.Handler(), http.MethodPost, "/healthz", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestAdminCORS(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.CORSOrigins = []string{"https://ops.example.com"}
	engine, _, _ := setupTestEngine(t, cfg)
	h := engine.Handler()

	tests := []struct {
		name   string
		origin string
		want   string
	}{
		{name: "allowed origin", origin: "https://ops.example.com", want: "https://ops.example.com"},
		{name: "other origin", origin: "https://evil.example.com", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}

	t.Run("disabled without origins", func(t *testing.T) {
		plain, _, _ := setupTestEngine(t, nil)
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("Origin", "https://ops.example.com")
		w := httptest.NewRecorder()
		plain.Handler().ServeHTTP(w, req)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestAdminReflections(t *testing.T) {
	engine, _, _ := setupTestEngine(t, nil)
	h := engine.Handler()

	tests := []struct {
		name     string
		body     any
		wantCode int
		wantKind string
	}{
		{
			name:     "missing author",
			body:     map[string]any{"pain": "sweeper flaps", "severity": "high", "tags": sweeperTags},
			wantCode: http.StatusBadRequest,
			wantKind: "validation",
		},
		{
			name:     "unknown field",
			body:     map[string]any{"author": "x", "pain": "p", "colour": "red"},
			wantCode: http.StatusBadRequest,
			wantKind: "validation",
		},
		{
			name:     "accepted",
			body:     sweeperReflection("x", "sweeper crash on retry"),
			wantCode: http.StatusCreated,
		},
		{
			name:     "same content inside the window",
			body:     sweeperReflection("x", "sweeper crash on retry"),
			wantCode: http.StatusConflict,
			wantKind: "duplicate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, h, http.MethodPost, "/v1/reflections", tt.body)
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			if tt.wantKind != "" {
				assert.Equal(t, tt.wantKind, decodeResponse[ErrorResponse](t, w).Kind)
			}
		})
	}

	w := doRequest(t, h, http.MethodGet, "/v1/insights?status=candidate&cluster=ops::*", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeResponse[[]*blackboard.Insight](t, w)
	require.Len(t, list, 1)

	w = doRequest(t, h, http.MethodGet, "/v1/insights/"+list[0].ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, h, http.MethodGet, "/v1/insights/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, h, http.MethodGet, "/v1/insights?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, h, http.MethodPost, "/v1/insights/"+list[0].ID+"/status", InsightStatusRequest{Status: blackboard.InsightStatusTaskCreated, TaskID: "t1"})
	assert.Equal(t, http.StatusConflict, w.Code, "candidate cannot jump to task_created")

	w = doRequest(t, h, http.MethodPost, "/v1/insights/"+list[0].ID+"/status", InsightStatusRequest{Status: blackboard.InsightStatusPromoted})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doRequest(t, h, http.MethodPost, "/v1/insights/"+list[0].ID+"/status", InsightStatusRequest{Status: blackboard.InsightStatusTaskCreated})
	assert.Equal(t, http.StatusBadRequest, w.Code, "task_created needs a task id")
}

func TestAdminTasks(t *testing.T) {
	engine, _, _ := setupTestEngine(t, nil)
	h := engine.Handler()

	task := &blackboard.Task{ID: "t1", Title: "fix flaky deploy", Status: blackboard.TaskStatusReview, Reviewer: "rita"}
	w := doRequest(t, h, http.MethodPost, "/v1/tasks", TaskWriteRequest{Actor: "alice", Task: task})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doRequest(t, h, http.MethodPost, "/v1/tasks", TaskWriteRequest{Actor: "alice", Task: task})
	assert.Equal(t, http.StatusConflict, w.Code)

	approved := task.Clone()
	approved.Metadata.ReviewerApproved = blackboard.BoolPtr(true)

	w = doRequest(t, h, http.MethodPut, "/v1/tasks/t1", TaskWriteRequest{Actor: "mallory", Task: approved})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "unauthorized_approval", decodeResponse[ErrorResponse](t, w).Kind)

	w = doRequest(t, h, http.MethodPut, "/v1/tasks/t1", TaskWriteRequest{Task: approved})
	assert.Equal(t, http.StatusBadRequest, w.Code, "actor is required")

	w = doRequest(t, h, http.MethodPut, "/v1/tasks/t1", TaskWriteRequest{Actor: "rita", Task: approved, Note: "lgtm"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doRequest(t, h, http.MethodPut, "/v1/tasks/other", TaskWriteRequest{Actor: "rita", Task: approved})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, h, http.MethodGet, "/v1/audit?task=t1&field=reviewer_approved", nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decodeResponse[[]blackboard.AuditEntry](t, w)
	require.Len(t, entries, 1)
	assert.Equal(t, "rita", entries[0].Actor)

	w = doRequest(t, h, http.MethodGet, "/v1/audit?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, h, http.MethodGet, "/v1/alerts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeResponse[[]blackboard.MutationAlert](t, w), 1)
}

func TestAdminCreateSelfApprovedTask(t *testing.T) {
	engine, _, _ := setupTestEngine(t, nil)
	h := engine.Handler()

	task := &blackboard.Task{ID: "t1", Title: "ship hotfix", Status: blackboard.TaskStatusReview, Reviewer: "alice"}
	task.Metadata.ReviewerApproved = blackboard.BoolPtr(true)
	task.Metadata.ApprovedBy = "mallory"

	w := doRequest(t, h, http.MethodPost, "/v1/tasks", TaskWriteRequest{Actor: "mallory", Task: task})
	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
	assert.Equal(t, "unauthorized_approval", decodeResponse[ErrorResponse](t, w).Kind)

	w = doRequest(t, h, http.MethodGet, "/v1/tasks/t1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	alerts := engine.ListAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "mallory", alerts[0].Actor)
	assert.Equal(t, "alice", alerts[0].ExpectedReviewer)
}

func TestAdminContinuityAndSuppression(t *testing.T) {
	engine, _, _ := setupTestEngine(t, nil)
	h := engine.Handler()

	w := doRequest(t, h, http.MethodPost, "/v1/continuity/pause", PauseRequest{Reason: "nothing"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, h, http.MethodPost, "/v1/continuity/pause", PauseRequest{For: "1h", Reason: "freeze"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decodeResponse[PauseResponse](t, w).Paused)

	w = doRequest(t, h, http.MethodGet, "/v1/continuity/pause", nil)
	pause := decodeResponse[PauseResponse](t, w)
	assert.True(t, pause.Paused)
	assert.Equal(t, "freeze", pause.Reason)

	w = doRequest(t, h, http.MethodDelete, "/v1/continuity/pause", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(t, h, http.MethodPost, "/v1/continuity/tick", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, h, http.MethodGet, "/v1/continuity/stats", nil)
	assert.Equal(t, int64(1), decodeResponse[map[string]int64](t, w)["cycles_run"])

	check := SuppressionCheckRequest{Category: "ops", Channel: "general", Content: "sweeper flapping"}
	for _, wantDup := range []bool{false, true} {
		w = doRequest(t, h, http.MethodPost, "/v1/suppression/check", check)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, wantDup, decodeResponse[map[string]any](t, w)["is_duplicate"])
	}

	w = doRequest(t, h, http.MethodGet, "/v1/suppression/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, h, http.MethodPost, "/v1/suppression/prune", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decodeResponse[PruneResponse](t, w).Removed)
}

func TestAdminAgents(t *testing.T) {
	engine, _, _ := setupTestEngine(t, nil)
	h := engine.Handler()

	w := doRequest(t, h, http.MethodGet, "/v1/agents/nobody/wip", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, h, http.MethodGet, "/v1/agents/docs/wip", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeResponse[map[string]any](t, w)["allowed"].(bool))

	task := &blackboard.Task{ID: "n1", Title: "sweeper noise", Tags: []string{"sweeper"}}
	w = doRequest(t, h, http.MethodPost, "/v1/assign/suggest", SuggestRequest{Task: task})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sweeper-owner", decodeResponse[map[string]any](t, w)["agent"])

	w = doRequest(t, h, http.MethodPost, "/v1/agents/sweeper-owner/score", SuggestRequest{Task: task})
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, h, http.MethodPost, "/v1/assign/suggest", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
