package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"examline/internal/domain"
	"examline/internal/events"
	"examline/internal/repo"
	"examline/internal/scoring"
)

// CreateJob opens a new job with an empty worker pool.
func (e Engine) CreateJob(ctx context.Context, id, title, actorID string) (domain.Job, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Job{}, &ValidationError{Field: "title", Reason: "required"}
	}
	if id == "" {
		id = uuid.NewString()
	}
	j := domain.Job{ID: id, Title: title, Status: domain.JobActive, CreatedAt: domain.FormatTime(e.now())}
	tx, err := e.begin(ctx)
	if err != nil {
		return j, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetJobTx(ctx, tx, id); err == nil {
		return j, &ValidationError{Field: "id", Reason: "job " + id + " already exists"}
	}
	if err := e.Repo.InsertJob(ctx, tx, j); err != nil {
		return j, dependency("insert job", err)
	}
	if err := e.appendEvent(ctx, tx, events.JobCreated, j.ID, events.KindJob, j.ID, actorID, events.Payload{"title": j.Title}); err != nil {
		return j, dependency("append event", err)
	}
	return j, commit(tx)
}

// CloseJob stops a job from receiving further distributions.
func (e Engine) CloseJob(ctx context.Context, id, actorID string) (domain.Job, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()
	j, err := e.Repo.GetJobTx(ctx, tx, id)
	if err != nil {
		return j, notFound(err, "job", id)
	}
	if j.Status == domain.JobClosed {
		return j, nil
	}
	if err := e.Repo.SetJobStatus(ctx, tx, id, domain.JobClosed); err != nil {
		return j, notFound(err, "job", id)
	}
	j.Status = domain.JobClosed
	if err := e.appendEvent(ctx, tx, events.JobClosed, j.ID, events.KindJob, j.ID, actorID, nil); err != nil {
		return j, dependency("append event", err)
	}
	return j, commit(tx)
}

// WorkerCreateOptions are parameters for creating a worker.
type WorkerCreateOptions struct {
	ID      string
	Name    string
	Email   string
	ActorID string
}

// CreateWorker registers an active worker with fresh stats.
func (e Engine) CreateWorker(ctx context.Context, opts WorkerCreateOptions) (domain.Worker, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.Worker{}, &ValidationError{Field: "name", Reason: "required"}
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := e.now()
	ts := domain.FormatTime(now)
	w := domain.Worker{ID: id, Name: name, Email: strings.TrimSpace(opts.Email), IsActive: true, CreatedAt: ts, UpdatedAt: ts}
	w.Stats.PerformanceScore = scoring.Score(w.Stats, now)
	w.Stats.ScoreVersion = scoring.FormulaVersion

	tx, err := e.begin(ctx)
	if err != nil {
		return w, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetWorkerTx(ctx, tx, id); err == nil {
		return w, &ValidationError{Field: "id", Reason: "worker " + id + " already exists"}
	}
	if err := e.Repo.InsertWorker(ctx, tx, w); err != nil {
		return w, dependency("insert worker", err)
	}
	if err := e.appendEvent(ctx, tx, events.WorkerCreated, "", events.KindWorker, w.ID, opts.ActorID, events.Payload{"name": w.Name}); err != nil {
		return w, dependency("append event", err)
	}
	return w, commit(tx)
}

// SetWorkerActive toggles whether a worker may receive items. Items already
// held by a deactivated worker stay with them until swept or reallocated.
func (e Engine) SetWorkerActive(ctx context.Context, workerID string, active bool, actorID string) (domain.Worker, error) {
	unlock := e.lockWorkers(workerID)
	defer unlock()
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Worker{}, err
	}
	defer tx.Rollback()
	ts := domain.FormatTime(e.now())
	if err := e.Repo.SetWorkerActive(ctx, tx, workerID, active, ts); err != nil {
		return domain.Worker{}, notFound(err, "worker", workerID)
	}
	w, err := e.Repo.GetWorkerTx(ctx, tx, workerID)
	if err != nil {
		return w, notFound(err, "worker", workerID)
	}
	evt := events.WorkerDeactivated
	if active {
		evt = events.WorkerActivated
	}
	if err := e.appendEvent(ctx, tx, evt, "", events.KindWorker, workerID, actorID, nil); err != nil {
		return w, dependency("append event", err)
	}
	return w, commit(tx)
}

func (e Engine) ListWorkers(ctx context.Context, jobID string, activeOnly bool) ([]domain.Worker, error) {
	if jobID != "" {
		if _, err := e.Job(ctx, jobID); err != nil {
			return nil, err
		}
	}
	ws, err := e.Repo.ListWorkers(ctx, repo.WorkerFilters{JobID: jobID, ActiveOnly: activeOnly})
	return ws, dependency("list workers", err)
}

// AddWorkerToJob attaches a worker to a job's pool. Adding twice is a no-op.
func (e Engine) AddWorkerToJob(ctx context.Context, jobID, workerID, actorID string) error {
	if jobID == "" || workerID == "" {
		return &ValidationError{Field: "worker_id", Reason: "job and worker are required"}
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetJobTx(ctx, tx, jobID); err != nil {
		return notFound(err, "job", jobID)
	}
	if _, err := e.Repo.GetWorkerTx(ctx, tx, workerID); err != nil {
		return notFound(err, "worker", workerID)
	}
	if err := e.Repo.AddJobWorker(ctx, tx, jobID, workerID, domain.FormatTime(e.now())); err != nil {
		return dependency("add job worker", err)
	}
	if err := e.appendEvent(ctx, tx, events.JobWorkerAdded, jobID, events.KindWorker, workerID, actorID, nil); err != nil {
		return dependency("append event", err)
	}
	return commit(tx)
}

// RemoveWorkerFromJob detaches a worker from a job's pool. Items the worker
// holds in that job are not moved.
func (e Engine) RemoveWorkerFromJob(ctx context.Context, jobID, workerID, actorID string) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RemoveJobWorker(ctx, tx, jobID, workerID); err != nil {
		return notFound(err, "job worker", jobID+"/"+workerID)
	}
	if err := e.appendEvent(ctx, tx, events.JobWorkerRemoved, jobID, events.KindWorker, workerID, actorID, nil); err != nil {
		return dependency("append event", err)
	}
	return commit(tx)
}

// SubmitItems creates one pending, unassigned item per submitter.
func (e Engine) SubmitItems(ctx context.Context, jobID string, submitterIDs []string, actorID string) ([]domain.WorkItem, error) {
	if len(submitterIDs) == 0 {
		return nil, &ValidationError{Field: "submitter_ids", Reason: "at least one submitter is required"}
	}
	for _, s := range submitterIDs {
		if strings.TrimSpace(s) == "" {
			return nil, &ValidationError{Field: "submitter_ids", Reason: "must not contain empty ids"}
		}
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	job, err := e.Repo.GetJobTx(ctx, tx, jobID)
	if err != nil {
		return nil, notFound(err, "job", jobID)
	}
	if job.Status != domain.JobActive {
		return nil, &InvalidStateError{Kind: "job", ID: jobID, Status: job.Status, Reason: "job is not accepting items"}
	}
	ts := domain.FormatTime(e.now())
	items := make([]domain.WorkItem, 0, len(submitterIDs))
	for _, s := range submitterIDs {
		it := domain.WorkItem{
			ID:          uuid.NewString(),
			JobID:       jobID,
			SubmitterID: strings.TrimSpace(s),
			Status:      domain.StatusPending,
			CreatedAt:   ts,
			UpdatedAt:   ts,
		}
		if err := e.Repo.InsertItem(ctx, tx, it); err != nil {
			return nil, dependency("insert item", err)
		}
		items = append(items, it)
	}
	if err := e.appendEvent(ctx, tx, events.ItemsSubmitted, jobID, events.KindJob, jobID, actorID, events.Payload{"count": len(items)}); err != nil {
		return nil, dependency("append event", err)
	}
	if err := commit(tx); err != nil {
		return nil, err
	}
	return items, nil
}

func (e Engine) ListItems(ctx context.Context, f repo.ItemFilters) ([]domain.WorkItem, error) {
	items, err := e.Repo.ListItems(ctx, f)
	return items, dependency("list items", err)
}

func (e Engine) ListEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	evts, err := e.Repo.ListEvents(ctx, f)
	return evts, dependency("list events", err)
}
