package events

import (
	"context"

	"github.com/dmitrijs2005/docsync/internal/client/models"
)

// Repository is the append-only local sync history.
type Repository interface {
	Append(ctx context.Context, e *models.SyncEvent) error
	// List returns up to limit events, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]models.SyncEvent, error)
	// Trim keeps only the newest keep events.
	Trim(ctx context.Context, keep int) error
}
