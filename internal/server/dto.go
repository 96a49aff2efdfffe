package server

import (
	"encoding/json"

	"examline/internal/domain"
)

// Request payloads

type CreateJobRequest struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title" minLength:"1"`
}

type AddJobWorkerRequest struct {
	WorkerID string `json:"worker_id" minLength:"1"`
}

type CreateWorkerRequest struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name" minLength:"1"`
	Email string `json:"email,omitempty"`
}

type UpdateWorkerRequest struct {
	IsActive *bool `json:"is_active,omitempty"`
}

type SubmitItemsRequest struct {
	SubmitterIDs []string `json:"submitter_ids" minItems:"1"`
}

type DistributeRequest struct {
	ItemIDs []string `json:"item_ids,omitempty"`
}

type ReallocateRequest struct {
	WorkerID string `json:"worker_id" minLength:"1"`
	Reason   string `json:"reason,omitempty" enum:"manual,automatic"`
}

type ItemActionRequest struct {
	WorkerID string `json:"worker_id,omitempty"`
}

type SweepRequest struct {
	IdleHours    float64 `json:"idle_hours,omitempty" minimum:"0"`
	WarningHours float64 `json:"warning_hours,omitempty" minimum:"0"`
}

// Responses

type ItemsResponse struct {
	Items []domain.WorkItem `json:"items"`
}

type WorkersResponse struct {
	Items []domain.Worker `json:"items"`
}

type ItemDetailResponse struct {
	domain.WorkItem
	History []domain.Assignment `json:"history"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts" format:"date-time"`
	Type       string          `json:"type"`
	JobID      string          `json:"job_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload" jsonschema:"type=object,additionalProperties=true"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func eventResponse(evt domain.Event) EventResponse {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		JobID:      evt.JobID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}
