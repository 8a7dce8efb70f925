package repo

import (
	"context"
	"database/sql"

	"flowboard/internal/domain"
)

func (r Repo) AddMember(ctx context.Context, q Querier, projectID, userID string, role domain.Role, now string) error {
	_, err := r.exec(ctx, q, `INSERT INTO project_members(project_id,user_id,role,joined_at) VALUES (?,?,?,?)`, projectID, userID, role, now)
	return err
}

// MemberRole returns the user's role in the project, or ErrNotFound when the user is not a member.
func (r Repo) MemberRole(ctx context.Context, q Querier, projectID, userID string) (domain.Role, error) {
	var role domain.Role
	err := r.queryRow(ctx, q, `SELECT role FROM project_members WHERE project_id=? AND user_id=?`, projectID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return role, err
}

func (r Repo) ListMembers(ctx context.Context, q Querier, projectID string) ([]domain.Member, error) {
	rows, err := r.query(ctx, q, `SELECT pm.project_id,u.id,u.name,u.email,u.avatar_url,pm.role,pm.joined_at
FROM project_members pm JOIN users u ON u.id=pm.user_id
WHERE pm.project_id=? ORDER BY pm.joined_at ASC, u.id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Member
	for rows.Next() {
		var m domain.Member
		var avatar sql.NullString
		if err := rows.Scan(&m.ProjectID, &m.User.ID, &m.User.Name, &m.User.Email, &avatar, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		m.User.AvatarURL = stringPtr(avatar)
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) UpdateMemberRole(ctx context.Context, q Querier, projectID, userID string, role domain.Role) error {
	return r.execOne(ctx, q, `UPDATE project_members SET role=? WHERE project_id=? AND user_id=?`, role, projectID, userID)
}

func (r Repo) RemoveMember(ctx context.Context, q Querier, projectID, userID string) error {
	return r.execOne(ctx, q, `DELETE FROM project_members WHERE project_id=? AND user_id=?`, projectID, userID)
}

// UserBrief loads the compact user shape embedded in other payloads.
func (r Repo) UserBrief(ctx context.Context, q Querier, userID string) (domain.UserBrief, error) {
	var b domain.UserBrief
	var avatar sql.NullString
	err := r.queryRow(ctx, q, `SELECT id,name,email,avatar_url FROM users WHERE id=?`, userID).Scan(&b.ID, &b.Name, &b.Email, &avatar)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	b.AvatarURL = stringPtr(avatar)
	return b, err
}
