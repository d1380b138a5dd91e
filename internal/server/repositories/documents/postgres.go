package documents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/docsync/internal/common"
	"github.com/dmitrijs2005/docsync/internal/dbx"
	"github.com/dmitrijs2005/docsync/internal/server/models"
	"github.com/dmitrijs2005/docsync/internal/server/repositories"
)

const columns = `owner_id, sync_id, title, category, notes, metadata, attachments,
		version, created_at, updated_at, deleted, deleted_at`

type PostgresRepository struct {
	db  dbx.DBTX
	now func() time.Time
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*models.Document, error) {
	var (
		d                 models.Document
		metadata, attachs []byte
		deletedAt         sql.NullTime
	)
	err := row.Scan(&d.OwnerID, &d.SyncID, &d.Title, &d.Category, &d.Notes, &metadata, &attachs,
		&d.Version, &d.CreatedAt, &d.UpdatedAt, &d.Deleted, &deletedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(metadata, &d.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of %s: %w", d.SyncID, err)
	}
	if err := json.Unmarshal(attachs, &d.Attachments); err != nil {
		return nil, fmt.Errorf("decode attachments of %s: %w", d.SyncID, err)
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		d.DeletedAt = &t
	}
	return &d, nil
}

// jsonArray encodes v as a JSON array; nil slices become "[]".
func jsonArray[T any](v []T) (string, error) {
	if v == nil {
		v = []T{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *PostgresRepository) Get(ctx context.Context, ownerID, syncID string) (*models.Document, error) {
	query := `SELECT ` + columns + `
		FROM documents
		WHERE owner_id = $1 AND sync_id = $2`

	d, err := scanDocument(r.db.QueryRowContext(ctx, query, ownerID, syncID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("document %s: %w", syncID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return d, nil
}

func (r *PostgresRepository) List(ctx context.Context, ownerID string, includeDeleted bool) ([]*models.Document, error) {
	query := `SELECT ` + columns + `
		FROM documents
		WHERE owner_id = $1 AND ($2 OR NOT deleted)
		ORDER BY sync_id`

	rows, err := r.db.QueryContext(ctx, query, ownerID, includeDeleted)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) Create(ctx context.Context, d *models.Document) (*models.Document, error) {
	metadata, err := jsonArray(d.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	attachs, err := jsonArray(d.Attachments)
	if err != nil {
		return nil, fmt.Errorf("encode attachments: %w", err)
	}
	now := r.now()
	created, updated := orNow(d.CreatedAt, now), orNow(d.UpdatedAt, now)

	query := `INSERT INTO documents (` + columns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $9, $10, $11)
		RETURNING ` + columns

	out, err := scanDocument(r.db.QueryRowContext(ctx, query,
		d.OwnerID, d.SyncID, d.Title, d.Category, d.Notes, metadata, attachs,
		created, updated, d.Deleted, d.DeletedAt))
	if err != nil {
		if repositories.IsUniqueViolation(err) {
			return nil, fmt.Errorf("document %s: %w", d.SyncID, common.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) Update(ctx context.Context, d *models.Document, expectedVersion int64) (*models.Document, error) {
	metadata, err := jsonArray(d.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	attachs, err := jsonArray(d.Attachments)
	if err != nil {
		return nil, fmt.Errorf("encode attachments: %w", err)
	}

	query := `UPDATE documents
		SET title = $4, category = $5, notes = $6, metadata = $7, attachments = $8,
			updated_at = $9, deleted = $10, deleted_at = $11, version = version + 1
		WHERE owner_id = $1 AND sync_id = $2 AND version = $3
		RETURNING ` + columns

	out, err := scanDocument(r.db.QueryRowContext(ctx, query,
		d.OwnerID, d.SyncID, expectedVersion,
		d.Title, d.Category, d.Notes, metadata, attachs,
		orNow(d.UpdatedAt, r.now()), d.Deleted, d.DeletedAt))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("document %s at version %d: %w", d.SyncID, expectedVersion, common.ErrVersionConflict)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) SoftDelete(ctx context.Context, ownerID, syncID string, expectedVersion int64) (*models.Document, error) {
	query := `UPDATE documents
		SET deleted = TRUE, deleted_at = $4, updated_at = $4, version = version + 1
		WHERE owner_id = $1 AND sync_id = $2 AND version = $3
		RETURNING ` + columns

	out, err := scanDocument(r.db.QueryRowContext(ctx, query, ownerID, syncID, expectedVersion, r.now()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("document %s at version %d: %w", syncID, expectedVersion, common.ErrVersionConflict)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func orNow(t, now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t.UTC()
}
