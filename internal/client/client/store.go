package client

import (
	"context"
	"time"

	"github.com/dmitrijs2005/docsync/internal/client/models"
)

// DocumentStore is the remote document database, scoped to the signed-in
// user. Update and SoftDelete are conditional: they succeed only while the
// remote version equals expectedVersion, and otherwise fail with a
// *common.VersionConflictError whose Remote field holds the current remote
// *models.Document.
type DocumentStore interface {
	Get(ctx context.Context, syncID string) (*models.Document, error)
	List(ctx context.Context, includeDeleted bool) ([]*models.Document, error)
	Create(ctx context.Context, d *models.Document) (*models.Document, error)
	Update(ctx context.Context, d *models.Document, expectedVersion int64) (*models.Document, error)
	SoftDelete(ctx context.Context, syncID string, expectedVersion int64) (*models.Document, error)
	// BatchPut applies items independently and returns one result per item,
	// in order. The error is reserved for failures of the whole call.
	BatchPut(ctx context.Context, items []BatchItem) ([]BatchResult, error)
	// Subscribe streams change notifications until ctx ends or the stream
	// breaks; the channel is closed afterwards.
	Subscribe(ctx context.Context) (<-chan ChangeEvent, error)
}

// BatchItem is one write of a batch. ExpectedVersion 0 creates the document.
type BatchItem struct {
	Document        *models.Document
	ExpectedVersion int64
}

// BatchResult is the per-item outcome; exactly one of Document and Err is set.
type BatchResult struct {
	SyncID   string
	Document *models.Document
	Err      error
}

type ChangeEvent struct {
	SyncID  string
	Version int64
	Deleted bool
	At      time.Time
}
