package domain

import "time"

// Item lifecycle statuses.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusReopened   = "reopened"
)

// Job statuses.
const (
	JobActive = "active"
	JobClosed = "closed"
)

// Assignment reasons recorded in the assignment history and events.
const (
	ReasonDistribution = "distribution"
	ReasonManual       = "manual"
	ReasonAutomatic    = "automatic"
)

// NonTerminalStatuses lists statuses that count towards a worker's workload.
var NonTerminalStatuses = []string{StatusPending, StatusInProgress, StatusReopened}

// IsTerminal reports whether an item status ends the item's lifecycle.
func IsTerminal(status string) bool {
	return status == StatusCompleted
}

type Job struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Status    string `json:"status" enum:"active,closed"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// WorkerStats is the aggregate record kept per worker. PerformanceScore is
// derived from the other fields and only written by the stats refresh.
type WorkerStats struct {
	TotalAssigned          int      `json:"total_assigned"`
	TotalCompleted         int      `json:"total_completed"`
	TotalReassignedAway    int      `json:"total_reassigned_away"`
	AverageCompletionHours *float64 `json:"average_completion_hours,omitempty"`
	CurrentWorkload        int      `json:"current_workload"`
	PerformanceScore       float64  `json:"performance_score"`
	ScoreVersion           int      `json:"score_version"`
	LastActiveAt           *string  `json:"last_active_at,omitempty" format:"date-time"`
	WarningCount           int      `json:"warning_count"`
}

type Worker struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Email     string      `json:"email,omitempty"`
	IsActive  bool        `json:"is_active"`
	Stats     WorkerStats `json:"stats"`
	CreatedAt string      `json:"created_at" format:"date-time"`
	UpdatedAt string      `json:"updated_at" format:"date-time"`
}

type WorkItem struct {
	ID                string  `json:"id"`
	JobID             string  `json:"job_id"`
	SubmitterID       string  `json:"submitter_id"`
	WorkerID          *string `json:"worker_id,omitempty"`
	Status            string  `json:"status" enum:"pending,in_progress,completed,reopened"`
	AssignedAt        *string `json:"assigned_at,omitempty" format:"date-time"`
	CompletedAt       *string `json:"completed_at,omitempty" format:"date-time"`
	WarnedAt          *string `json:"warned_at,omitempty" format:"date-time"`
	ReassignmentCount int     `json:"reassignment_count"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
	UpdatedAt         string  `json:"updated_at" format:"date-time"`
}

// Worker returns the assigned worker id or "".
func (it WorkItem) Worker() string {
	if it.WorkerID == nil {
		return ""
	}
	return *it.WorkerID
}

// Assignment is one ownership period of an item by a worker.
type Assignment struct {
	ID         int64   `json:"id"`
	ItemID     string  `json:"item_id"`
	WorkerID   string  `json:"worker_id"`
	Reason     string  `json:"reason" enum:"distribution,manual,automatic"`
	AssignedAt string  `json:"assigned_at" format:"date-time"`
	ReleasedAt *string `json:"released_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	JobID      string `json:"job_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// FormatTime renders timestamps the way they are stored: RFC3339 in UTC, so
// stored values also compare correctly as strings.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseTime parses a stored timestamp.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// ParseTimePtr parses an optional stored timestamp; nil or empty yields ok=false.
func ParseTimePtr(s *string) (time.Time, bool) {
	if s == nil || *s == "" {
		return time.Time{}, false
	}
	t, err := ParseTime(*s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
