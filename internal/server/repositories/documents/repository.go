// Package documents stores the server copy of every user's documents.
// All operations are scoped to an owner; one owner can never see or touch
// another owner's rows.
package documents

import (
	"context"

	"github.com/dmitrijs2005/docsync/internal/server/models"
)

type Repository interface {
	Get(ctx context.Context, ownerID, syncID string) (*models.Document, error)
	List(ctx context.Context, ownerID string, includeDeleted bool) ([]*models.Document, error)

	// Create inserts d at version 1. An existing syncId yields
	// common.ErrAlreadyExists.
	Create(ctx context.Context, d *models.Document) (*models.Document, error)

	// Update replaces d when the stored version equals expectedVersion and
	// bumps the version by one. A miss, whether the row is absent or has
	// moved on, yields common.ErrVersionConflict.
	Update(ctx context.Context, d *models.Document, expectedVersion int64) (*models.Document, error)

	// SoftDelete marks the document deleted under the same version check.
	SoftDelete(ctx context.Context, ownerID, syncID string, expectedVersion int64) (*models.Document, error)
}
