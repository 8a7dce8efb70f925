package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"flowboard/internal/domain"
)

// EventQuery selects activity events. Cursor pages backwards by id.
type EventQuery struct {
	ProjectID  string
	Type       string
	EntityKind string
	EntityID   string
	Cursor     int64
	Limit      int
}

// ListEvents returns matching events newest first.
func (r Repo) ListEvents(ctx context.Context, q Querier, eq EventQuery) ([]domain.Event, error) {
	limit := eq.Limit
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if eq.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, eq.ProjectID)
	}
	if eq.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, eq.Type)
	}
	if eq.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, eq.EntityKind)
	}
	if eq.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, eq.EntityID)
	}
	if eq.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, eq.Cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	return r.scanEvents(ctx, q, query, append(args, limit)...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, q Querier, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.scanEvents(ctx, q, `SELECT id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context, q Querier) (int64, error) {
	var id int64
	if err := r.queryRow(ctx, q, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) scanEvents(ctx context.Context, q Querier, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.query(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var projectID, entityID sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &projectID, &e.EntityKind, &entityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		e.ProjectID = projectID.String
		e.EntityID = entityID.String
		res = append(res, e)
	}
	return res, rows.Err()
}
