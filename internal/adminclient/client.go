// Package adminclient is the HTTP client of the orchestrator's admin API, used
// by the warren CLI.
package adminclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dyluth/warren/internal/bridge"
	"github.com/dyluth/warren/internal/continuity"
	"github.com/dyluth/warren/internal/orchestrator"
	"github.com/dyluth/warren/internal/suppression"
	"github.com/dyluth/warren/pkg/blackboard"
)

// DefaultTimeout bounds every request. Catch-up scans on a large store are the
// slowest call.
const DefaultTimeout = 60 * time.Second

// APIError is a non-2xx admin response.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the admin API.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == http.StatusNotFound
}

// Client calls one orchestrator.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the admin server at baseURL, e.g. "http://localhost:8080".
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// do sends body as JSON and decodes a 2xx response into out. out may be nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach orchestrator at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Kind: "http", Message: strings.TrimSpace(string(data))}
		var er orchestrator.ErrorResponse
		if json.Unmarshal(data, &er) == nil && er.Error != "" {
			apiErr.Kind, apiErr.Message = er.Kind, er.Error
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Health returns the orchestrator's health report. An unhealthy report is
// returned together with an APIError.
func (c *Client) Health(ctx context.Context) (*orchestrator.HealthResponse, error) {
	var resp orchestrator.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// IngestReflection submits one reflection.
func (c *Client) IngestReflection(ctx context.Context, r *blackboard.Reflection) (*blackboard.Insight, error) {
	var ins blackboard.Insight
	if err := c.do(ctx, http.MethodPost, "/v1/reflections", nil, r, &ins); err != nil {
		return nil, err
	}
	return &ins, nil
}

// InsightQuery filters ListInsights. Zero fields are not sent.
type InsightQuery struct {
	Statuses       []string
	Cluster        string
	Unbridged      bool
	MinSeverity    string
	MinIndependent int
	Since          string
}

func (q InsightQuery) values() url.Values {
	v := url.Values{}
	if len(q.Statuses) > 0 {
		v.Set("status", strings.Join(q.Statuses, ","))
	}
	if q.Cluster != "" {
		v.Set("cluster", q.Cluster)
	}
	if q.Unbridged {
		v.Set("unbridged", "true")
	}
	if q.MinSeverity != "" {
		v.Set("min_severity", q.MinSeverity)
	}
	if q.MinIndependent > 0 {
		v.Set("min_independent", fmt.Sprint(q.MinIndependent))
	}
	if q.Since != "" {
		v.Set("since", q.Since)
	}
	return v
}

// ListInsights returns insights matching q.
func (c *Client) ListInsights(ctx context.Context, q InsightQuery) ([]*blackboard.Insight, error) {
	var list []*blackboard.Insight
	if err := c.do(ctx, http.MethodGet, "/v1/insights", q.values(), nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// ListInsightIDs returns every insight ID.
func (c *Client) ListInsightIDs(ctx context.Context) ([]string, error) {
	list, err := c.ListInsights(ctx, InsightQuery{})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(list))
	for i, ins := range list {
		ids[i] = ins.ID
	}
	return ids, nil
}

// GetInsight returns one insight by full ID.
func (c *Client) GetInsight(ctx context.Context, id string) (*blackboard.Insight, error) {
	var ins blackboard.Insight
	if err := c.do(ctx, http.MethodGet, "/v1/insights/"+url.PathEscape(id), nil, nil, &ins); err != nil {
		return nil, err
	}
	return &ins, nil
}

// UpdateInsightStatus moves an insight to status.
func (c *Client) UpdateInsightStatus(ctx context.Context, id string, status blackboard.InsightStatus, taskID string) (*blackboard.Insight, error) {
	var ins blackboard.Insight
	body := orchestrator.InsightStatusRequest{Status: status, TaskID: taskID}
	if err := c.do(ctx, http.MethodPost, "/v1/insights/"+url.PathEscape(id)+"/status", nil, body, &ins); err != nil {
		return nil, err
	}
	return &ins, nil
}

// SetCooldown blocks promotion for d; zero clears it.
func (c *Client) SetCooldown(ctx context.Context, id string, d time.Duration, reason string) (*blackboard.Insight, error) {
	var ins blackboard.Insight
	body := orchestrator.CooldownRequest{Reason: reason}
	if d > 0 {
		body.For = d.String()
	}
	if err := c.do(ctx, http.MethodPost, "/v1/insights/"+url.PathEscape(id)+"/cooldown", nil, body, &ins); err != nil {
		return nil, err
	}
	return &ins, nil
}

// BridgeInsight runs the bridge for one insight.
func (c *Client) BridgeInsight(ctx context.Context, id, preferredAssignee string) (*bridge.Result, error) {
	var result bridge.Result
	body := orchestrator.BridgeRequest{PreferredAssignee: preferredAssignee}
	if err := c.do(ctx, http.MethodPost, "/v1/insights/"+url.PathEscape(id)+"/bridge", nil, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RunCatchUpScan bridges every promoted insight without a task.
func (c *Client) RunCatchUpScan(ctx context.Context) (*bridge.CatchUpResult, error) {
	var result bridge.CatchUpResult
	if err := c.do(ctx, http.MethodPost, "/v1/bridge/catchup", nil, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Tick runs one continuity cycle.
func (c *Client) Tick(ctx context.Context) (*continuity.TickResult, error) {
	var result continuity.TickResult
	if err := c.do(ctx, http.MethodPost, "/v1/continuity/tick", nil, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ContinuityStats returns the loop's counters.
func (c *Client) ContinuityStats(ctx context.Context) (*continuity.Stats, error) {
	var stats continuity.Stats
	if err := c.do(ctx, http.MethodGet, "/v1/continuity/stats", nil, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// ContinuityLog returns the retained remediation actions.
func (c *Client) ContinuityLog(ctx context.Context) ([]continuity.Action, error) {
	var actions []continuity.Action
	if err := c.do(ctx, http.MethodGet, "/v1/continuity/log", nil, nil, &actions); err != nil {
		return nil, err
	}
	return actions, nil
}

// Pause suspends scheduled ticks for d.
func (c *Client) Pause(ctx context.Context, d time.Duration, reason string) (*orchestrator.PauseResponse, error) {
	var resp orchestrator.PauseResponse
	body := orchestrator.PauseRequest{For: d.String(), Reason: reason}
	if err := c.do(ctx, http.MethodPost, "/v1/continuity/pause", nil, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PauseStatus returns the current pause.
func (c *Client) PauseStatus(ctx context.Context) (*orchestrator.PauseResponse, error) {
	var resp orchestrator.PauseResponse
	if err := c.do(ctx, http.MethodGet, "/v1/continuity/pause", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Resume clears a pause.
func (c *Client) Resume(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/v1/continuity/pause", nil, nil, nil)
}

// SuppressionStats summarises the suppression ledger.
func (c *Client) SuppressionStats(ctx context.Context) (*suppression.Stats, error) {
	var stats suppression.Stats
	if err := c.do(ctx, http.MethodGet, "/v1/suppression/stats", nil, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// PruneSuppression drops expired suppression entries.
func (c *Client) PruneSuppression(ctx context.Context) (int, error) {
	var resp orchestrator.PruneResponse
	if err := c.do(ctx, http.MethodPost, "/v1/suppression/prune", nil, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Removed, nil
}

// AuditQuery filters Audit. Since and Until take the --since/--until syntax.
type AuditQuery struct {
	TaskID string
	Actor  string
	Field  string
	Since  string
	Until  string
	Limit  int
}

// Audit returns matching audit entries in write order.
func (c *Client) Audit(ctx context.Context, q AuditQuery) ([]blackboard.AuditEntry, error) {
	v := url.Values{}
	for key, value := range map[string]string{"task": q.TaskID, "actor": q.Actor, "field": q.Field, "since": q.Since, "until": q.Until} {
		if value != "" {
			v.Set(key, value)
		}
	}
	if q.Limit > 0 {
		v.Set("limit", fmt.Sprint(q.Limit))
	}

	var entries []blackboard.AuditEntry
	if err := c.do(ctx, http.MethodGet, "/v1/audit", v, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Alerts returns raised mutation alerts.
func (c *Client) Alerts(ctx context.Context) ([]blackboard.MutationAlert, error) {
	var alerts []blackboard.MutationAlert
	if err := c.do(ctx, http.MethodGet, "/v1/alerts", nil, nil, &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}
