package conflicts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/docsync/internal/client/models"
	"github.com/dmitrijs2005/docsync/internal/common"
	"github.com/dmitrijs2005/docsync/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Save(ctx context.Context, c *models.Conflict) error {
	local, err := json.Marshal(c.Local)
	if err != nil {
		return fmt.Errorf("encode local document: %w", err)
	}
	remote, err := json.Marshal(c.Remote)
	if err != nil {
		return fmt.Errorf("encode remote document: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO conflicts (id, sync_id, local_doc, remote_doc, detected_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(sync_id) DO UPDATE SET
			id = excluded.id,
			local_doc = excluded.local_doc,
			remote_doc = excluded.remote_doc,
			detected_at = excluded.detected_at`,
		c.ID, c.SyncID, string(local), string(remote), c.DetectedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save conflict: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.Conflict, error) {
	return r.one(ctx, `WHERE id = ?`, id)
}

func (r *SQLiteRepository) GetBySyncID(ctx context.Context, syncID string) (*models.Conflict, error) {
	return r.one(ctx, `WHERE sync_id = ?`, syncID)
}

func (r *SQLiteRepository) List(ctx context.Context) ([]*models.Conflict, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, sync_id, local_doc, remote_doc, detected_at FROM conflicts ORDER BY detected_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	var result []*models.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conflicts: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM conflicts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete conflict: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) one(ctx context.Context, where string, arg any) (*models.Conflict, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, sync_id, local_doc, remote_doc, detected_at FROM conflicts `+where, arg)
	c, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conflict %v: %w", arg, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conflict: %w", err)
	}
	return c, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConflict(s scanner) (*models.Conflict, error) {
	var (
		c             models.Conflict
		local, remote string
		detected      int64
	)
	if err := s.Scan(&c.ID, &c.SyncID, &local, &remote, &detected); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(local), &c.Local); err != nil {
		return nil, fmt.Errorf("decode local document: %w", err)
	}
	if err := json.Unmarshal([]byte(remote), &c.Remote); err != nil {
		return nil, fmt.Errorf("decode remote document: %w", err)
	}
	c.DetectedAt = time.UnixMilli(detected).UTC()
	return &c, nil
}
