package documents

import (
	"context"

	"github.com/dmitrijs2005/docsync/internal/client/models"
)

type Repository interface {
	// Create inserts a new document; common.ErrAlreadyExists if the sync id is taken.
	Create(ctx context.Context, d *models.Document) error
	// Upsert inserts or fully replaces a document row.
	Upsert(ctx context.Context, d *models.Document) error
	// Get returns common.ErrNotFound for unknown sync ids.
	Get(ctx context.Context, syncID string) (*models.Document, error)
	List(ctx context.Context, includeDeleted bool) ([]*models.Document, error)
	ListByStates(ctx context.Context, states ...models.SyncState) ([]*models.Document, error)
	UpdateState(ctx context.Context, syncID string, state models.SyncState, lastError string, attempts int) error
	CountByState(ctx context.Context) (map[models.SyncState]int, error)
	// ResetStates moves every document in from to to and reports how many moved.
	ResetStates(ctx context.Context, from, to models.SyncState) (int64, error)
	Delete(ctx context.Context, syncID string) error
}
