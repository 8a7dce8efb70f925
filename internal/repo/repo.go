package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"flowboard/internal/db"
	"flowboard/internal/domain"
)

// Repo is the SQL access layer. Every method takes a Querier so the engine can run
// reads and writes on the same transaction.
type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
}

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var ErrNotFound = errors.New("not found")

func (r Repo) exec(ctx context.Context, q Querier, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, db.Rebind(r.Dialect, query), args...)
}

func (r Repo) query(ctx context.Context, q Querier, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, db.Rebind(r.Dialect, query), args...)
}

func (r Repo) queryRow(ctx context.Context, q Querier, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, db.Rebind(r.Dialect, query), args...)
}

// execOne runs a statement that must touch exactly one row.
func (r Repo) execOne(ctx context.Context, q Querier, query string, args ...any) error {
	res, err := r.exec(ctx, q, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks database connectivity.
func (r Repo) Ping(ctx context.Context) error {
	return r.DB.PingContext(ctx)
}

const projectColumns = `p.id,p.name,p.key,COALESCE(p.description,''),p.methodology,p.owner_id,p.issue_counter,
(SELECT COUNT(*) FROM project_members m WHERE m.project_id=p.id),p.created_at,p.updated_at`

func scanProject(row interface{ Scan(...any) error }) (domain.Project, error) {
	var p domain.Project
	err := row.Scan(&p.ID, &p.Name, &p.Key, &p.Description, &p.Methodology, &p.OwnerID, &p.IssueCounter,
		&p.MemberCount, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertProject(ctx context.Context, q Querier, p domain.Project) error {
	_, err := r.exec(ctx, q, `INSERT INTO projects(id,name,key,description,methodology,owner_id,issue_counter,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, p.Key, nullable(p.Description), p.Methodology, p.OwnerID, p.IssueCounter, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, q Querier, id string) (domain.Project, error) {
	return scanProject(r.queryRow(ctx, q, `SELECT `+projectColumns+` FROM projects p WHERE p.id=?`, id))
}

func (r Repo) GetProjectByKey(ctx context.Context, q Querier, key string) (domain.Project, error) {
	return scanProject(r.queryRow(ctx, q, `SELECT `+projectColumns+` FROM projects p WHERE p.key=?`, key))
}

// ListProjectsForUser returns a page of projects the user is a member of plus the total count.
func (r Repo) ListProjectsForUser(ctx context.Context, q Querier, userID string, page, size int) ([]domain.Project, int, error) {
	var total int
	if err := r.queryRow(ctx, q, `SELECT COUNT(*) FROM project_members WHERE user_id=?`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.query(ctx, q, `SELECT `+projectColumns+` FROM projects p
JOIN project_members pm ON pm.project_id=p.id AND pm.user_id=?
ORDER BY p.created_at DESC, p.id DESC LIMIT ? OFFSET ?`, userID, size, (page-1)*size)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, p)
	}
	return res, total, rows.Err()
}

// ListProjects returns every project, newest first.
func (r Repo) ListProjects(ctx context.Context, q Querier) ([]domain.Project, error) {
	rows, err := r.query(ctx, q, `SELECT `+projectColumns+` FROM projects p ORDER BY p.created_at DESC, p.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

type ProjectUpdate struct {
	Name        *string
	Description *string
	Methodology *string
}

func (r Repo) UpdateProject(ctx context.Context, q Querier, id string, u ProjectUpdate, now string) error {
	var (
		fields []string
		args   []any
	)
	if u.Name != nil {
		fields = append(fields, "name=?")
		args = append(args, *u.Name)
	}
	if u.Description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*u.Description))
	}
	if u.Methodology != nil {
		fields = append(fields, "methodology=?")
		args = append(args, *u.Methodology)
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, now, id)
	return r.execOne(ctx, q, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
}

func (r Repo) DeleteProject(ctx context.Context, q Querier, id string) error {
	return r.execOne(ctx, q, `DELETE FROM projects WHERE id=?`, id)
}

// AllocateIssueKey bumps the project's issue counter and returns the new key in one
// statement. It must run on the transaction that inserts the issue so a rollback
// also rolls back the counter.
func (r Repo) AllocateIssueKey(ctx context.Context, tx *sql.Tx, projectID, now string) (string, error) {
	var (
		counter int
		key     string
	)
	err := r.queryRow(ctx, tx, `UPDATE projects SET issue_counter=issue_counter+1, updated_at=? WHERE id=? RETURNING issue_counter, key`,
		now, projectID).Scan(&counter, &key)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("allocate issue key: %w", err)
	}
	return fmt.Sprintf("%s-%d", key, counter), nil
}

func (r Repo) IssueCounter(ctx context.Context, q Querier, projectID string) (int, error) {
	var n int
	err := r.queryRow(ctx, q, `SELECT issue_counter FROM projects WHERE id=?`, projectID).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return n, err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

// placeholders returns "?,?,?" with n marks and the values as []any.
func placeholders(values []string) (string, []any) {
	marks := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		marks[i] = "?"
		args[i] = v
	}
	return strings.Join(marks, ","), args
}
