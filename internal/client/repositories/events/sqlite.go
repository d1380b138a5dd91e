package events

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/docsync/internal/client/models"
	"github.com/dmitrijs2005/docsync/internal/dbx"
	"github.com/google/uuid"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Append(ctx context.Context, e *models.SyncEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO sync_events (id, event_type, entity_type, entity_id, sync_id, message, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Type), e.EntityType, e.EntityID, e.SyncID, e.Message, e.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]models.SyncEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id, event_type, entity_type, entity_id, sync_id, message, ts
		FROM sync_events ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var result []models.SyncEvent
	for rows.Next() {
		var (
			e    models.SyncEvent
			typ  string
			tsMs int64
		)
		if err := rows.Scan(&e.ID, &typ, &e.EntityType, &e.EntityID, &e.SyncID, &e.Message, &tsMs); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Type = models.EventType(typ)
		e.Timestamp = time.UnixMilli(tsMs).UTC()
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) Trim(ctx context.Context, keep int) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sync_events
		WHERE seq NOT IN (SELECT seq FROM sync_events ORDER BY seq DESC LIMIT ?)`, keep)
	if err != nil {
		return fmt.Errorf("failed to trim events: %w", err)
	}
	return nil
}
