package attachments

import (
	"context"

	"github.com/dmitrijs2005/docsync/internal/client/models"
)

// Repository persists file attachments. An attachment is unique per
// (sync id, file name).
type Repository interface {
	Add(ctx context.Context, a *models.FileAttachment) (int64, error)
	Get(ctx context.Context, id int64) (*models.FileAttachment, error)
	ListBySyncID(ctx context.Context, syncID string) ([]models.FileAttachment, error)
	ListByStates(ctx context.Context, states ...models.SyncState) ([]models.FileAttachment, error)
	// ListUploaded returns every attachment that has a remote key.
	ListUploaded(ctx context.Context) ([]models.FileAttachment, error)
	Update(ctx context.Context, a *models.FileAttachment) error
	Delete(ctx context.Context, id int64) error
	DeleteBySyncID(ctx context.Context, syncID string) error
	ResetStates(ctx context.Context, from, to models.SyncState) (int64, error)
}
