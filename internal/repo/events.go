package repo

import (
	"context"
	"database/sql"
	"strings"

	"examline/internal/domain"
)

const defaultEventLimit = 100

type EventFilters struct {
	JobID      string
	Type       string
	EntityKind string
	EntityID   string
	// Before pages backwards from an event id; After tails forwards.
	Before int64
	After  int64
	Limit  int
}

// where renders the filter as a SQL predicate plus its arguments, and the
// sort direction implied by the paging mode.
func (f EventFilters) where() (string, []any, string) {
	var (
		conds []string
		args  []any
	)
	for _, eq := range []struct{ col, val string }{
		{"job_id", f.JobID},
		{"type", f.Type},
		{"entity_kind", f.EntityKind},
		{"entity_id", f.EntityID},
	} {
		if eq.val != "" {
			conds = append(conds, eq.col+"=?")
			args = append(args, eq.val)
		}
	}
	order := "DESC"
	switch {
	case f.After > 0:
		conds = append(conds, "id>?")
		args = append(args, f.After)
		order = "ASC"
	case f.Before > 0:
		conds = append(conds, "id<?")
		args = append(args, f.Before)
	}
	if len(conds) == 0 {
		return "", args, order
	}
	return " WHERE " + strings.Join(conds, " AND "), args, order
}

// ListEvents returns newest-first events, or oldest-first when After is set.
func (r Repo) ListEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}
	pred, args, order := f.where()
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,ts,type,job_id,entity_kind,entity_id,actor_id,payload_json FROM events`+pred+` ORDER BY id `+order+` LIMIT ?`,
		append(args, limit)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Event, 0, limit)
	for rows.Next() {
		var (
			ev            domain.Event
			job, entityID sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.TS, &ev.Type, &job, &ev.EntityKind, &entityID, &ev.ActorID, &ev.Payload); err != nil {
			return nil, err
		}
		ev.JobID, ev.EntityID = job.String, entityID.String
		out = append(out, ev)
	}
	return out, rows.Err()
}

// LatestEventID is 0 for an empty log.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}
