package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"examline/internal/domain"
	"examline/internal/engine"
	"examline/internal/repo"
)

type response[T any] struct {
	Body T `json:"body"`
}

func respond[T any](v T) *response[T] {
	return &response[T]{Body: v}
}

const defaultActor = "api"

func registerJobs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-job",
		Method:        http.MethodPost,
		Path:          "/jobs",
		Summary:       "Create job",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ActorID string `header:"X-Actor-Id"`
		Body    CreateJobRequest
	}) (*response[domain.Job], error) {
		j, err := e.CreateJob(ctx, input.Body.ID, input.Body.Title, actorOr(input.ActorID, defaultActor))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(j), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List jobs",
	}, func(ctx context.Context, _ *struct{}) (*response[[]domain.Job], error) {
		jobs, err := e.Repo.ListJobs(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if jobs == nil {
			jobs = []domain.Job{}
		}
		return respond(jobs), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}",
		Summary:     "Get job",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*response[domain.Job], error) {
		j, err := e.Job(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(j), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "close-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/close",
		Summary:     "Close job",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		JobID   string `path:"job_id"`
		ActorID string `header:"X-Actor-Id"`
	}) (*response[domain.Job], error) {
		j, err := e.CloseJob(ctx, input.JobID, actorOr(input.ActorID, defaultActor))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(j), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-job-workers",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}/workers",
		Summary:     "List workers attached to a job",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID      string `path:"job_id"`
		ActiveOnly bool   `query:"active_only"`
	}) (*response[WorkersResponse], error) {
		if _, err := e.Job(ctx, input.JobID); err != nil {
			return nil, handleError(err)
		}
		ws, err := e.ListWorkers(ctx, input.JobID, input.ActiveOnly)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(workersResponse(ws)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-job-worker",
		Method:        http.MethodPost,
		Path:          "/jobs/{job_id}/workers",
		Summary:       "Attach a worker to a job",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		JobID   string `path:"job_id"`
		ActorID string `header:"X-Actor-Id"`
		Body    AddJobWorkerRequest
	}) (*struct{}, error) {
		if err := e.AddWorkerToJob(ctx, input.JobID, input.Body.WorkerID, actorOr(input.ActorID, defaultActor)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-job-worker",
		Method:        http.MethodDelete,
		Path:          "/jobs/{job_id}/workers/{worker_id}",
		Summary:       "Detach a worker from a job",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID    string `path:"job_id"`
		WorkerID string `path:"worker_id"`
		ActorID  string `header:"X-Actor-Id"`
	}) (*struct{}, error) {
		if err := e.RemoveWorkerFromJob(ctx, input.JobID, input.WorkerID, actorOr(input.ActorID, defaultActor)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerWorkers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-worker",
		Method:        http.MethodPost,
		Path:          "/workers",
		Summary:       "Register worker",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ActorID string `header:"X-Actor-Id"`
		Body    CreateWorkerRequest
	}) (*response[domain.Worker], error) {
		w, err := e.CreateWorker(ctx, engine.WorkerCreateOptions{
			ID:      input.Body.ID,
			Name:    input.Body.Name,
			Email:   input.Body.Email,
			ActorID: actorOr(input.ActorID, defaultActor),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(w), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workers",
		Method:      http.MethodGet,
		Path:        "/workers",
		Summary:     "List workers",
	}, func(ctx context.Context, input *struct {
		ActiveOnly bool `query:"active_only"`
	}) (*response[WorkersResponse], error) {
		ws, err := e.ListWorkers(ctx, "", input.ActiveOnly)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(workersResponse(ws)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-worker",
		Method:      http.MethodGet,
		Path:        "/workers/{worker_id}",
		Summary:     "Get worker with stats",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkerID string `path:"worker_id"`
	}) (*response[domain.Worker], error) {
		w, err := e.Worker(ctx, input.WorkerID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(w), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-worker",
		Method:      http.MethodPatch,
		Path:        "/workers/{worker_id}",
		Summary:     "Activate or deactivate a worker",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkerID string `path:"worker_id"`
		ActorID  string `header:"X-Actor-Id"`
		Body     UpdateWorkerRequest
	}) (*response[domain.Worker], error) {
		if input.Body.IsActive == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "is_active is required", nil)
		}
		w, err := e.SetWorkerActive(ctx, input.WorkerID, *input.Body.IsActive, actorOr(input.ActorID, defaultActor))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(w), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "refresh-worker-stats",
		Method:      http.MethodPost,
		Path:        "/workers/{worker_id}/refresh",
		Summary:     "Recompute a worker's stats and score",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkerID string `path:"worker_id"`
		ActorID  string `header:"X-Actor-Id"`
	}) (*response[domain.Worker], error) {
		w, err := e.RefreshWorkerStats(ctx, input.WorkerID, actorOr(input.ActorID, defaultActor))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(w), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "refresh-all-stats",
		Method:      http.MethodPost,
		Path:        "/stats/refresh",
		Summary:     "Recompute stats for every worker",
	}, func(ctx context.Context, input *struct {
		ActorID string `header:"X-Actor-Id"`
	}) (*response[engine.RefreshReport], error) {
		report, err := e.RefreshAllStats(ctx, actorOr(input.ActorID, defaultActor))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(report), nil
	})
}

func registerItems(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-items",
		Method:        http.MethodPost,
		Path:          "/jobs/{job_id}/items",
		Summary:       "Submit exam copies to a job",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		JobID   string `path:"job_id"`
		ActorID string `header:"X-Actor-Id"`
		Body    SubmitItemsRequest
	}) (*response[ItemsResponse], error) {
		items, err := e.SubmitItems(ctx, input.JobID, input.Body.SubmitterIDs, actorOr(input.ActorID, defaultActor))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(itemsResponse(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-items",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}/items",
		Summary:     "List a job's items",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID      string `path:"job_id"`
		Status     string `query:"status" enum:"pending,in_progress,completed,reopened"`
		WorkerID   string `query:"worker_id"`
		Unassigned bool   `query:"unassigned"`
		Limit      int    `query:"limit" default:"50"`
	}) (*response[ItemsResponse], error) {
		if _, err := e.Job(ctx, input.JobID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListItems(ctx, repo.ItemFilters{
			JobID:      input.JobID,
			Status:     input.Status,
			WorkerID:   input.WorkerID,
			Unassigned: input.Unassigned,
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(itemsResponse(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-item",
		Method:      http.MethodGet,
		Path:        "/items/{item_id}",
		Summary:     "Get item with assignment history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
	}) (*response[ItemDetailResponse], error) {
		it, err := e.Item(ctx, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		history, err := e.ItemHistory(ctx, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		if history == nil {
			history = []domain.Assignment{}
		}
		return respond(ItemDetailResponse{WorkItem: it, History: history}), nil
	})

	for _, action := range []struct {
		id, verb, summary string
		run               func(context.Context, string, string, string) (domain.WorkItem, error)
	}{
		{"start-item", "start", "Start grading an item", func(ctx context.Context, itemID, workerID, _ string) (domain.WorkItem, error) {
			return e.StartItem(ctx, itemID, workerID)
		}},
		{"complete-item", "complete", "Complete an item", func(ctx context.Context, itemID, workerID, _ string) (domain.WorkItem, error) {
			return e.CompleteItem(ctx, itemID, workerID)
		}},
		{"reopen-item", "reopen", "Reopen a completed item", func(ctx context.Context, itemID, _, actorID string) (domain.WorkItem, error) {
			return e.ReopenItem(ctx, itemID, actorID)
		}},
	} {
		run := action.run
		huma.Register(api, huma.Operation{
			OperationID: action.id,
			Method:      http.MethodPost,
			Path:        "/items/{item_id}/" + action.verb,
			Summary:     action.summary,
			Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
		}, func(ctx context.Context, input *struct {
			ItemID  string `path:"item_id"`
			ActorID string `header:"X-Actor-Id"`
			Body    *ItemActionRequest
		}) (*response[domain.WorkItem], error) {
			var workerID string
			if input.Body != nil {
				workerID = input.Body.WorkerID
			}
			it, err := run(ctx, input.ItemID, workerID, actorOr(input.ActorID, defaultActor))
			if err != nil {
				return nil, handleError(err)
			}
			return respond(it), nil
		})
	}
}

func registerAllocation(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "distribute",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/distribute",
		Summary:     "Distribute unassigned items across eligible workers",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		JobID   string `path:"job_id"`
		ActorID string `header:"X-Actor-Id"`
		Body    *DistributeRequest
	}) (*response[engine.DistributionResult], error) {
		var ids []string
		if input.Body != nil {
			ids = input.Body.ItemIDs
		}
		res, err := e.PlanDistribution(ctx, input.JobID, ids, actorOr(input.ActorID, defaultActor))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reallocate",
		Method:      http.MethodPost,
		Path:        "/items/{item_id}/reallocate",
		Summary:     "Move an item to another worker",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ItemID  string `path:"item_id"`
		ActorID string `header:"X-Actor-Id"`
		Body    ReallocateRequest
	}) (*response[engine.ReallocationResult], error) {
		res, err := e.Reallocate(ctx, input.ItemID, input.Body.WorkerID, input.Body.Reason, actorOr(input.ActorID, defaultActor))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sweep",
		Method:      http.MethodPost,
		Path:        "/sweep",
		Summary:     "Warn about and reclaim idle items",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body *SweepRequest
	}) (*response[engine.SweepReport], error) {
		var idle, warn float64
		if input.Body != nil {
			idle, warn = input.Body.IdleHours, input.Body.WarningHours
		}
		report, err := e.SweepIdle(ctx, idle, warn)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(report), nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		JobID      string `query:"job_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"job,worker,item,sweep"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*response[paginatedEvents], error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || parsed <= 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.ListEvents(ctx, repo.EventFilters{
			JobID:      input.JobID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Before:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return respond(resp), nil
	})
}

func workersResponse(ws []domain.Worker) WorkersResponse {
	if ws == nil {
		ws = []domain.Worker{}
	}
	return WorkersResponse{Items: ws}
}

func itemsResponse(items []domain.WorkItem) ItemsResponse {
	if items == nil {
		items = []domain.WorkItem{}
	}
	return ItemsResponse{Items: items}
}
