package examlinesdk

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
)

// Client is a minimal Examline HTTP API client.
type Client struct {
	BaseURL string
	// ActorID is sent as X-Actor-Id and recorded on events.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. http://127.0.0.1:8080/v1.
func New(baseURL, actorID string) *Client {
	return &Client{
		BaseURL: baseURL,
		ActorID: actorID,
		Timeout: 10 * time.Second,
	}
}

type Job struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// WorkerStats mirrors the aggregates kept per worker.
type WorkerStats struct {
	TotalAssigned          int      `json:"total_assigned"`
	TotalCompleted         int      `json:"total_completed"`
	TotalReassignedAway    int      `json:"total_reassigned_away"`
	AverageCompletionHours *float64 `json:"average_completion_hours,omitempty"`
	CurrentWorkload        int      `json:"current_workload"`
	PerformanceScore       float64  `json:"performance_score"`
	ScoreVersion           int      `json:"score_version"`
	LastActiveAt           *string  `json:"last_active_at,omitempty"`
	WarningCount           int      `json:"warning_count"`
}

type Worker struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Email    string      `json:"email,omitempty"`
	IsActive bool        `json:"is_active"`
	Stats    WorkerStats `json:"stats"`
}

// WorkItem is one exam copy.
type WorkItem struct {
	ID                string  `json:"id"`
	JobID             string  `json:"job_id"`
	SubmitterID       string  `json:"submitter_id"`
	WorkerID          *string `json:"worker_id,omitempty"`
	Status            string  `json:"status"`
	AssignedAt        *string `json:"assigned_at,omitempty"`
	CompletedAt       *string `json:"completed_at,omitempty"`
	ReassignmentCount int     `json:"reassignment_count"`
}

type PlannedAssignment struct {
	ItemID   string `json:"item_id"`
	WorkerID string `json:"worker_id"`
	Overflow bool   `json:"overflow,omitempty"`
}

type Slot struct {
	WorkerID  string  `json:"worker_id"`
	Score     float64 `json:"score"`
	Workload  int     `json:"workload"`
	Capacity  int     `json:"capacity"`
	Allocated int     `json:"allocated"`
}

type Plan struct {
	Assignments []PlannedAssignment `json:"assignments"`
	Slots       []Slot              `json:"slots"`
	Cursor      int                 `json:"cursor"`
	Overflows   int                 `json:"overflows"`
	Fingerprint string              `json:"fingerprint"`
}

// ItemFailure is an item an operation could not handle.
type ItemFailure struct {
	ItemID   string `json:"item_id"`
	WorkerID string `json:"worker_id,omitempty"`
	Error    string `json:"error"`
}

type DistributionResult struct {
	JobID    string        `json:"job_id"`
	Plan     Plan          `json:"plan"`
	Assigned int           `json:"assigned"`
	Failed   []ItemFailure `json:"failed"`
	Skipped  []ItemFailure `json:"skipped"`
}

type ReallocationResult struct {
	ItemID            string `json:"item_id"`
	JobID             string `json:"job_id"`
	FromWorkerID      string `json:"from_worker_id,omitempty"`
	ToWorkerID        string `json:"to_worker_id"`
	Reason            string `json:"reason"`
	AssignedAt        string `json:"assigned_at"`
	ReassignmentCount int    `json:"reassignment_count"`
	Unchanged         bool   `json:"unchanged,omitempty"`
}

type SweepItem struct {
	ItemID    string  `json:"item_id"`
	JobID     string  `json:"job_id"`
	WorkerID  string  `json:"worker_id"`
	IdleHours float64 `json:"idle_hours"`
}

type SweepReport struct {
	IdleThresholdHours    float64              `json:"idle_threshold_hours"`
	WarningThresholdHours float64              `json:"warning_threshold_hours"`
	Scanned               int                  `json:"scanned"`
	Warned                []SweepItem          `json:"warned"`
	Reallocated           []ReallocationResult `json:"reallocated"`
	Errors                []ItemFailure        `json:"errors"`
	StartedAt             string               `json:"started_at"`
	FinishedAt            string               `json:"finished_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	JobID      string         `json:"job_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is the error envelope code when the
// body carried one.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
}

func (c *Client) CreateJob(ctx context.Context, id, title string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodPost, "jobs", map[string]any{"id": id, "title": title}, &resp)
	return resp, err
}

func (c *Client) CreateWorker(ctx context.Context, id, name, email string) (Worker, error) {
	var resp Worker
	err := c.do(ctx, http.MethodPost, "workers", map[string]any{"id": id, "name": name, "email": email}, &resp)
	return resp, err
}

// AddWorker attaches a worker to a job's pool.
func (c *Client) AddWorker(ctx context.Context, jobID, workerID string) error {
	return c.do(ctx, http.MethodPost, "jobs/"+url.PathEscape(jobID)+"/workers", map[string]any{"worker_id": workerID}, nil)
}

// SubmitItems creates one item per submitter id.
func (c *Client) SubmitItems(ctx context.Context, jobID string, submitterIDs []string) ([]WorkItem, error) {
	var resp struct {
		Items []WorkItem `json:"items"`
	}
	err := c.do(ctx, http.MethodPost, "jobs/"+url.PathEscape(jobID)+"/items", map[string]any{"submitter_ids": submitterIDs}, &resp)
	return resp.Items, err
}

// Distribute assigns the job's unassigned items, or only itemIDs when given.
func (c *Client) Distribute(ctx context.Context, jobID string, itemIDs ...string) (DistributionResult, error) {
	body := map[string]any{}
	if len(itemIDs) > 0 {
		body["item_ids"] = itemIDs
	}
	var resp DistributionResult
	err := c.do(ctx, http.MethodPost, "jobs/"+url.PathEscape(jobID)+"/distribute", body, &resp)
	return resp, err
}

// Reallocate moves an item to workerID. An empty reason means manual.
func (c *Client) Reallocate(ctx context.Context, itemID, workerID, reason string) (ReallocationResult, error) {
	body := map[string]any{"worker_id": workerID}
	if reason != "" {
		body["reason"] = reason
	}
	var resp ReallocationResult
	err := c.do(ctx, http.MethodPost, "items/"+url.PathEscape(itemID)+"/reallocate", body, &resp)
	return resp, err
}

// Sweep runs an idle sweep. Zero thresholds use the server configuration.
func (c *Client) Sweep(ctx context.Context, idleHours, warningHours float64) (SweepReport, error) {
	body := map[string]any{}
	if idleHours > 0 {
		body["idle_hours"] = idleHours
	}
	if warningHours > 0 {
		body["warning_hours"] = warningHours
	}
	var resp SweepReport
	err := c.do(ctx, http.MethodPost, "sweep", body, &resp)
	return resp, err
}

func (c *Client) RefreshWorker(ctx context.Context, workerID string) (Worker, error) {
	var resp Worker
	err := c.do(ctx, http.MethodPost, "workers/"+url.PathEscape(workerID)+"/refresh", nil, &resp)
	return resp, err
}

func (c *Client) Worker(ctx context.Context, workerID string) (Worker, error) {
	var resp Worker
	err := c.do(ctx, http.MethodGet, "workers/"+url.PathEscape(workerID), nil, &resp)
	return resp, err
}

func (c *Client) Item(ctx context.Context, itemID string) (WorkItem, error) {
	var resp WorkItem
	err := c.do(ctx, http.MethodGet, "items/"+url.PathEscape(itemID), nil, &resp)
	return resp, err
}

func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
