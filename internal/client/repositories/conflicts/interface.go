package conflicts

import (
	"context"

	"github.com/dmitrijs2005/docsync/internal/client/models"
)

// Repository keeps at most one unresolved conflict per document.
type Repository interface {
	// Save inserts c or replaces the existing conflict for c.SyncID.
	Save(ctx context.Context, c *models.Conflict) error
	Get(ctx context.Context, id string) (*models.Conflict, error)
	GetBySyncID(ctx context.Context, syncID string) (*models.Conflict, error)
	List(ctx context.Context) ([]*models.Conflict, error)
	Delete(ctx context.Context, id string) error
}
