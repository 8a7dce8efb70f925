package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"

	"flowboard/internal/domain"
)

// HashAPIKey returns a stable SHA-256 hex digest for the provided key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// InsertAPIKey stores a hashed API key. KeyHash must already contain the hashed value.
func (r Repo) InsertAPIKey(ctx context.Context, q Querier, key domain.APIKey) error {
	if key.ID == "" {
		return errors.New("id required")
	}
	if key.UserID == "" {
		return errors.New("user_id required")
	}
	if key.KeyHash == "" {
		return errors.New("key_hash required")
	}
	_, err := r.exec(ctx, q, `INSERT INTO api_keys(id,user_id,name,key_hash,created_at) VALUES (?,?,?,?,?)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.CreatedAt)
	return err
}

// GetAPIKeyByHash returns an API key by its hashed value.
func (r Repo) GetAPIKeyByHash(ctx context.Context, q Querier, hash string) (domain.APIKey, error) {
	var key domain.APIKey
	var lastUsed sql.NullString
	err := r.queryRow(ctx, q, `SELECT id,user_id,name,key_hash,last_used_at,created_at FROM api_keys WHERE key_hash=? LIMIT 1`, hash).
		Scan(&key.ID, &key.UserID, &key.Name, &key.KeyHash, &lastUsed, &key.CreatedAt)
	if err == sql.ErrNoRows {
		return domain.APIKey{}, ErrNotFound
	}
	if err != nil {
		return domain.APIKey{}, err
	}
	key.LastUsed = stringPtr(lastUsed)
	return key, nil
}

// ListAPIKeys returns the user's API keys, newest first.
func (r Repo) ListAPIKeys(ctx context.Context, q Querier, userID string) ([]domain.APIKey, error) {
	rows, err := r.query(ctx, q, `SELECT id,user_id,name,key_hash,last_used_at,created_at FROM api_keys WHERE user_id=? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []domain.APIKey
	for rows.Next() {
		var key domain.APIKey
		var lastUsed sql.NullString
		if err := rows.Scan(&key.ID, &key.UserID, &key.Name, &key.KeyHash, &lastUsed, &key.CreatedAt); err != nil {
			return nil, err
		}
		key.LastUsed = stringPtr(lastUsed)
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (r Repo) TouchAPIKey(ctx context.Context, q Querier, id, now string) error {
	_, err := r.exec(ctx, q, `UPDATE api_keys SET last_used_at=? WHERE id=?`, now, id)
	return err
}

// DeleteAPIKey deletes one of the user's API keys.
func (r Repo) DeleteAPIKey(ctx context.Context, q Querier, userID, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("id required")
	}
	return r.execOne(ctx, q, `DELETE FROM api_keys WHERE id=? AND user_id=?`, id, userID)
}
