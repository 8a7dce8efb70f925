package repo

import (
	"context"
	"database/sql"
	"strings"

	"flowboard/internal/domain"
)

const userColumns = `id,email,name,avatar_url,role,is_active,created_at,updated_at`

func scanUser(row interface{ Scan(...any) error }, extra ...any) (domain.User, error) {
	var u domain.User
	var avatar sql.NullString
	dest := append([]any{&u.ID, &u.Email, &u.Name, &avatar, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		if err == sql.ErrNoRows {
			return u, ErrNotFound
		}
		return u, err
	}
	u.AvatarURL = stringPtr(avatar)
	return u, nil
}

func (r Repo) InsertUser(ctx context.Context, q Querier, u domain.User, passwordHash string) error {
	_, err := r.exec(ctx, q, `INSERT INTO users(id,email,name,password_hash,avatar_url,role,is_active,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		u.ID, strings.ToLower(u.Email), u.Name, passwordHash, nullableStringPtr(u.AvatarURL), u.Role, u.IsActive, u.CreatedAt, u.UpdatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, q Querier, id string) (domain.User, error) {
	return scanUser(r.queryRow(ctx, q, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByEmail(ctx context.Context, q Querier, email string) (domain.User, error) {
	return scanUser(r.queryRow(ctx, q, `SELECT `+userColumns+` FROM users WHERE email=?`, strings.ToLower(strings.TrimSpace(email))))
}

// GetUserCredentials returns the user and its password hash.
func (r Repo) GetUserCredentials(ctx context.Context, q Querier, email string) (domain.User, string, error) {
	var hash string
	u, err := scanUser(r.queryRow(ctx, q, `SELECT `+userColumns+`,password_hash FROM users WHERE email=?`,
		strings.ToLower(strings.TrimSpace(email))), &hash)
	return u, hash, err
}

func (r Repo) CountUsers(ctx context.Context, q Querier) (int, error) {
	var n int
	err := r.queryRow(ctx, q, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

func (r Repo) ListUsers(ctx context.Context, q Querier) ([]domain.User, error) {
	rows, err := r.query(ctx, q, `SELECT `+userColumns+` FROM users ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) UpdateUserProfile(ctx context.Context, q Querier, id string, name, avatarURL *string, now string) error {
	var (
		fields []string
		args   []any
	)
	if name != nil {
		fields = append(fields, "name=?")
		args = append(args, *name)
	}
	if avatarURL != nil {
		fields = append(fields, "avatar_url=?")
		args = append(args, nullable(*avatarURL))
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, now, id)
	return r.execOne(ctx, q, `UPDATE users SET `+strings.Join(fields, ",")+` WHERE id=?`, args...)
}

func (r Repo) SetUserActive(ctx context.Context, q Querier, id string, active bool, now string) error {
	return r.execOne(ctx, q, `UPDATE users SET is_active=?, updated_at=? WHERE id=?`, active, now, id)
}

func (r Repo) SetResetToken(ctx context.Context, q Querier, id, tokenHash, expires string) error {
	return r.execOne(ctx, q, `UPDATE users SET reset_token_hash=?, reset_token_expires=? WHERE id=?`, tokenHash, expires, id)
}

// UserByResetToken finds the user holding an unexpired reset token hash.
func (r Repo) UserByResetToken(ctx context.Context, q Querier, tokenHash, now string) (domain.User, error) {
	return scanUser(r.queryRow(ctx, q, `SELECT `+userColumns+` FROM users WHERE reset_token_hash=? AND reset_token_expires>?`, tokenHash, now))
}

// SetPassword stores a new hash and clears any pending reset token.
func (r Repo) SetPassword(ctx context.Context, q Querier, id, passwordHash, now string) error {
	return r.execOne(ctx, q, `UPDATE users SET password_hash=?, reset_token_hash=NULL, reset_token_expires=NULL, updated_at=? WHERE id=?`,
		passwordHash, now, id)
}
