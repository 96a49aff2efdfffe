package engine

import (
	"context"
	"database/sql"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"examline/internal/config"
	"examline/internal/domain"
	"examline/internal/events"
	"examline/internal/logging"
	"examline/internal/metrics"
	"examline/internal/notify"
	"examline/internal/repo"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Notifier notify.Notifier
	Metrics  metrics.Collector
	Log      *slog.Logger
	Now      func() time.Time

	locks *lockSet
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{},
		Config:   cfg,
		Notifier: notify.Discard{},
		Metrics:  metrics.NewNop(),
		Log:      logging.Discard(),
		Now:      time.Now,
		locks:    newLockSet(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) collector() metrics.Collector {
	if e.Metrics == nil {
		return metrics.NewNop()
	}
	return e.Metrics
}

func (e Engine) logger() *slog.Logger {
	if e.Log == nil {
		return logging.Discard()
	}
	return e.Log
}

func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, evtType, jobID, kind, id, actorID string, payload events.Payload) error {
	w := e.Events
	w.Now = e.now
	_, err := w.Append(ctx, tx, events.Record{
		Type:       evtType,
		JobID:      jobID,
		EntityKind: kind,
		EntityID:   id,
		ActorID:    actorID,
		Payload:    payload,
	})
	return err
}

// send hands messages to the notifier. Queueing failures are logged only;
// the state change they describe has already committed.
func (e Engine) send(msgs ...notify.Message) {
	if e.Notifier == nil {
		return
	}
	for _, m := range msgs {
		if err := e.Notifier.Enqueue(m); err != nil {
			e.logger().Debug("notification not queued", "to", m.To, "kind", m.Kind, "error", err)
		}
	}
}

func (e Engine) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, dependency("begin transaction", err)
	}
	return tx, nil
}

func commit(tx *sql.Tx) error {
	return dependency("commit", tx.Commit())
}

// lockSet serializes mutations per item and per worker. Locks are always
// taken item first, then workers in id order.
type lockSet struct {
	items   *xsync.Map[string, *sync.Mutex]
	workers *xsync.Map[string, *sync.Mutex]
}

func newLockSet() *lockSet {
	return &lockSet{
		items:   xsync.NewMap[string, *sync.Mutex](),
		workers: xsync.NewMap[string, *sync.Mutex](),
	}
}

func (e Engine) lockItem(id string) func() {
	if e.locks == nil {
		return func() {}
	}
	return lockKeys(e.locks.items, id)
}

func (e Engine) lockWorkers(ids ...string) func() {
	if e.locks == nil {
		return func() {}
	}
	return lockKeys(e.locks.workers, ids...)
}

func lockKeys(m *xsync.Map[string, *sync.Mutex], keys ...string) func() {
	uniq := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		uniq = append(uniq, k)
	}
	sort.Strings(uniq)
	held := make([]*sync.Mutex, 0, len(uniq))
	for _, k := range uniq {
		mu, _ := m.LoadOrStore(k, &sync.Mutex{})
		mu.Lock()
		held = append(held, mu)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

// ItemFailure records one item a batch operation could not process.
type ItemFailure struct {
	ItemID   string `json:"item_id"`
	WorkerID string `json:"worker_id,omitempty"`
	Error    string `json:"error"`
	Err      error  `json:"-"`
}

func failure(itemID, workerID string, err error) ItemFailure {
	return ItemFailure{ItemID: itemID, WorkerID: workerID, Error: err.Error(), Err: err}
}

func (e Engine) Job(ctx context.Context, id string) (domain.Job, error) {
	j, err := e.Repo.GetJob(ctx, id)
	if err != nil {
		return j, notFound(err, "job", id)
	}
	return j, nil
}

func (e Engine) Worker(ctx context.Context, id string) (domain.Worker, error) {
	w, err := e.Repo.GetWorker(ctx, id)
	if err != nil {
		return w, notFound(err, "worker", id)
	}
	return w, nil
}

func (e Engine) Item(ctx context.Context, id string) (domain.WorkItem, error) {
	it, err := e.Repo.GetItem(ctx, id)
	if err != nil {
		return it, notFound(err, "item", id)
	}
	return it, nil
}

// ItemHistory lists an item's ownership periods, oldest first.
func (e Engine) ItemHistory(ctx context.Context, id string) ([]domain.Assignment, error) {
	if _, err := e.Item(ctx, id); err != nil {
		return nil, err
	}
	hist, err := e.Repo.ListAssignments(ctx, id)
	return hist, dependency("list assignments", err)
}
