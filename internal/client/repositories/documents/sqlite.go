package documents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/docsync/internal/client/models"
	"github.com/dmitrijs2005/docsync/internal/common"
	"github.com/dmitrijs2005/docsync/internal/dbx"
)

const columns = `sync_id, title, category, notes, metadata, version, created_at, updated_at,
	deleted, deleted_at, sync_state, remote_exists, last_error, attempts`

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Create(ctx context.Context, d *models.Document) error {
	args, err := rowArgs(d)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO documents (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("document %s: %w", d.SyncID, common.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, d *models.Document) error {
	args, err := rowArgs(d)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO documents (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sync_id) DO UPDATE SET
			title = excluded.title,
			category = excluded.category,
			notes = excluded.notes,
			metadata = excluded.metadata,
			version = excluded.version,
			updated_at = excluded.updated_at,
			deleted = excluded.deleted,
			deleted_at = excluded.deleted_at,
			sync_state = excluded.sync_state,
			remote_exists = excluded.remote_exists,
			last_error = excluded.last_error,
			attempts = excluded.attempts`, args...)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, syncID string) (*models.Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM documents WHERE sync_id = ?`, syncID)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", syncID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return d, nil
}

func (r *SQLiteRepository) List(ctx context.Context, includeDeleted bool) ([]*models.Document, error) {
	q := `SELECT ` + columns + ` FROM documents`
	if !includeDeleted {
		q += ` WHERE deleted = 0`
	}
	q += ` ORDER BY updated_at DESC, sync_id`
	return r.query(ctx, q)
}

func (r *SQLiteRepository) ListByStates(ctx context.Context, states ...models.SyncState) ([]*models.Document, error) {
	if len(states) == 0 {
		return nil, nil
	}
	args := make([]any, len(states))
	for i, s := range states {
		args[i] = string(s)
	}
	q := `SELECT ` + columns + ` FROM documents WHERE sync_state IN (` + placeholders(len(states)) + `) ORDER BY updated_at, sync_id`
	return r.query(ctx, q, args...)
}

func (r *SQLiteRepository) UpdateState(ctx context.Context, syncID string, state models.SyncState, lastError string, attempts int) error {
	err := dbx.ExpectAffected(r.db.ExecContext(ctx,
		`UPDATE documents SET sync_state = ?, last_error = ?, attempts = ? WHERE sync_id = ?`,
		string(state), lastError, attempts, syncID))
	if errors.Is(err, dbx.ErrNoRowsAffected) {
		return fmt.Errorf("document %s: %w", syncID, common.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update document state: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) CountByState(ctx context.Context) (map[models.SyncState]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT sync_state, COUNT(*) FROM documents GROUP BY sync_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	defer rows.Close()

	out := make(map[models.SyncState]int)
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		out[models.SyncState(s)] = n
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) ResetStates(ctx context.Context, from, to models.SyncState) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE documents SET sync_state = ? WHERE sync_state = ?`, string(to), string(from))
	if err != nil {
		return 0, fmt.Errorf("failed to reset document states: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) Delete(ctx context.Context, syncID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE sync_id = ?`, syncID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) query(ctx context.Context, q string, args ...any) ([]*models.Document, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select documents: %w", err)
	}
	defer rows.Close()

	var result []*models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(s scanner) (*models.Document, error) {
	var (
		d                    models.Document
		meta, state          string
		created, updated     int64
		deletedAt            sql.NullInt64
		deleted, remoteExist bool
	)
	if err := s.Scan(&d.SyncID, &d.Title, &d.Category, &d.Notes, &meta, &d.Version, &created, &updated,
		&deleted, &deletedAt, &state, &remoteExist, &d.LastError, &d.Attempts); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(meta), &d.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	d.CreatedAt = time.UnixMilli(created).UTC()
	d.UpdatedAt = time.UnixMilli(updated).UTC()
	d.Deleted = deleted
	if deletedAt.Valid {
		t := time.UnixMilli(deletedAt.Int64).UTC()
		d.DeletedAt = &t
	}
	d.SyncState = models.SyncState(state)
	d.RemoteExists = remoteExist
	return &d, nil
}

func rowArgs(d *models.Document) ([]any, error) {
	md := d.Metadata
	if md == nil {
		md = []models.Metadata{}
	}
	meta, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	var deletedAt any
	if d.DeletedAt != nil {
		deletedAt = d.DeletedAt.UnixMilli()
	}
	return []any{
		d.SyncID, d.Title, d.Category, d.Notes, string(meta), d.Version,
		d.CreatedAt.UnixMilli(), d.UpdatedAt.UnixMilli(), d.Deleted, deletedAt,
		string(d.SyncState), d.RemoteExists, d.LastError, d.Attempts,
	}, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed") || strings.Contains(err.Error(), "PRIMARY KEY")
}
