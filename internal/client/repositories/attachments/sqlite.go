package attachments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/docsync/internal/client/models"
	"github.com/dmitrijs2005/docsync/internal/common"
	"github.com/dmitrijs2005/docsync/internal/dbx"
)

const columns = `id, sync_id, file_name, local_path, remote_key, legacy_key, file_size,
	checksum, content_encoding, added_at, sync_state, last_error`

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Add(ctx context.Context, a *models.FileAttachment) (int64, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO attachments
		(sync_id, file_name, local_path, remote_key, legacy_key, file_size, checksum, content_encoding, added_at, sync_state, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.SyncID, a.FileName, a.LocalPath, a.RemoteKey, a.LegacyKey, a.FileSize, a.Checksum,
		a.ContentEncoding, a.AddedAt.UnixMilli(), string(a.SyncState), a.LastError)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, fmt.Errorf("attachment %s/%s: %w", a.SyncID, a.FileName, common.ErrAlreadyExists)
		}
		return 0, fmt.Errorf("failed to insert attachment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get attachment id: %w", err)
	}
	a.ID = id
	return id, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id int64) (*models.FileAttachment, error) {
	a, err := scanAttachment(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM attachments WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attachment %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment: %w", err)
	}
	return a, nil
}

func (r *SQLiteRepository) ListBySyncID(ctx context.Context, syncID string) ([]models.FileAttachment, error) {
	return r.query(ctx, `SELECT `+columns+` FROM attachments WHERE sync_id = ? ORDER BY added_at, id`, syncID)
}

func (r *SQLiteRepository) ListByStates(ctx context.Context, states ...models.SyncState) ([]models.FileAttachment, error) {
	if len(states) == 0 {
		return nil, nil
	}
	args := make([]any, len(states))
	for i, s := range states {
		args[i] = string(s)
	}
	in := strings.TrimSuffix(strings.Repeat("?, ", len(states)), ", ")
	return r.query(ctx, `SELECT `+columns+` FROM attachments WHERE sync_state IN (`+in+`) ORDER BY added_at, id`, args...)
}

func (r *SQLiteRepository) ListUploaded(ctx context.Context) ([]models.FileAttachment, error) {
	return r.query(ctx, `SELECT `+columns+` FROM attachments WHERE remote_key != '' ORDER BY id`)
}

func (r *SQLiteRepository) Update(ctx context.Context, a *models.FileAttachment) error {
	err := dbx.ExpectAffected(r.db.ExecContext(ctx, `UPDATE attachments SET
		local_path = ?, remote_key = ?, legacy_key = ?, file_size = ?, checksum = ?,
		content_encoding = ?, sync_state = ?, last_error = ?
		WHERE id = ?`,
		a.LocalPath, a.RemoteKey, a.LegacyKey, a.FileSize, a.Checksum,
		a.ContentEncoding, string(a.SyncState), a.LastError, a.ID))
	if errors.Is(err, dbx.ErrNoRowsAffected) {
		return fmt.Errorf("attachment %d: %w", a.ID, common.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update attachment: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM attachments WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete attachment: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteBySyncID(ctx context.Context, syncID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM attachments WHERE sync_id = ?`, syncID); err != nil {
		return fmt.Errorf("failed to delete attachments: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ResetStates(ctx context.Context, from, to models.SyncState) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE attachments SET sync_state = ? WHERE sync_state = ?`, string(to), string(from))
	if err != nil {
		return 0, fmt.Errorf("failed to reset attachment states: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) query(ctx context.Context, q string, args ...any) ([]models.FileAttachment, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select attachments: %w", err)
	}
	defer rows.Close()

	var result []models.FileAttachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attachments: %w", err)
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAttachment(s scanner) (*models.FileAttachment, error) {
	var (
		a       models.FileAttachment
		addedAt int64
		state   string
	)
	if err := s.Scan(&a.ID, &a.SyncID, &a.FileName, &a.LocalPath, &a.RemoteKey, &a.LegacyKey, &a.FileSize,
		&a.Checksum, &a.ContentEncoding, &addedAt, &state, &a.LastError); err != nil {
		return nil, err
	}
	a.AddedAt = time.UnixMilli(addedAt).UTC()
	a.SyncState = models.SyncState(state)
	return &a, nil
}
