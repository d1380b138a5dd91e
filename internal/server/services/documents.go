package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/dmitrijs2005/docsync/internal/common"
	"github.com/dmitrijs2005/docsync/internal/logging"
	"github.com/dmitrijs2005/docsync/internal/server/models"
	"github.com/dmitrijs2005/docsync/internal/server/repositories/repomanager"
)

// Publisher receives an event after every committed document write.
type Publisher interface {
	Publish(ctx context.Context, e models.ChangeEvent) error
}

// BatchItem is one write of a batch. ExpectedVersion 0 creates the document.
type BatchItem struct {
	Document        *models.Document
	ExpectedVersion int64
}

// BatchResult is the outcome of one BatchItem: either the stored document
// or the error the single-item call would have returned.
type BatchResult struct {
	Document *models.Document
	Err      error
}

// DocumentService keeps the server copy of each user's documents. Every
// write is conditional on the version the client last saw.
type DocumentService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	publisher   Publisher
	logger      logging.Logger
	batchLimit  int
	now         func() time.Time
}

func NewDocumentService(db *sql.DB, m repomanager.RepositoryManager, p Publisher, logger logging.Logger, batchLimit int) *DocumentService {
	return &DocumentService{
		db:          db,
		repomanager: m,
		publisher:   p,
		logger:      logger.With("module", "document_service"),
		batchLimit:  batchLimit,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func validateDocument(d *models.Document) error {
	err := validation.ValidateStruct(d,
		validation.Field(&d.SyncID, validation.Required, validation.Length(1, 128)),
		validation.Field(&d.Title, validation.Required, validation.Length(1, 512)),
		validation.Field(&d.Attachments, validation.Each(validation.By(func(v any) error {
			a, _ := v.(models.Attachment)
			return validation.ValidateStruct(&a,
				validation.Field(&a.FileName, validation.Required),
				validation.Field(&a.RemoteKey, validation.Required),
				validation.Field(&a.FileSize, validation.Min(int64(0))),
			)
		}))),
	)
	if err != nil {
		return common.NewValidationError(err)
	}
	return nil
}

func (s *DocumentService) Get(ctx context.Context, ownerID, syncID string) (*models.Document, error) {
	return s.repomanager.Documents(s.db).Get(ctx, ownerID, syncID)
}

func (s *DocumentService) List(ctx context.Context, ownerID string, includeDeleted bool) ([]*models.Document, error) {
	return s.repomanager.Documents(s.db).List(ctx, ownerID, includeDeleted)
}

func (s *DocumentService) Create(ctx context.Context, ownerID string, d *models.Document) (*models.Document, error) {
	if err := validateDocument(d); err != nil {
		return nil, err
	}
	d.OwnerID = ownerID
	out, err := s.repomanager.Documents(s.db).Create(ctx, d)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, out)
	return out, nil
}

// Update stores d if the server still holds expectedVersion. Otherwise it
// returns a *common.VersionConflictError whose Remote is the current
// *models.Document.
func (s *DocumentService) Update(ctx context.Context, ownerID string, d *models.Document, expectedVersion int64) (*models.Document, error) {
	if err := validateDocument(d); err != nil {
		return nil, err
	}
	if expectedVersion < 1 {
		return nil, &common.ValidationError{Field: "expected_version", Reason: "must be at least 1"}
	}
	d.OwnerID = ownerID
	out, err := s.repomanager.Documents(s.db).Update(ctx, d, expectedVersion)
	if err != nil {
		return nil, s.explainMiss(ctx, ownerID, d.SyncID, expectedVersion, err)
	}
	s.publish(ctx, out)
	return out, nil
}

// Delete marks the document deleted under the same version rule as Update.
func (s *DocumentService) Delete(ctx context.Context, ownerID, syncID string, expectedVersion int64) (*models.Document, error) {
	if syncID == "" {
		return nil, &common.ValidationError{Field: "sync_id", Reason: "cannot be blank"}
	}
	out, err := s.repomanager.Documents(s.db).SoftDelete(ctx, ownerID, syncID, expectedVersion)
	if err != nil {
		return nil, s.explainMiss(ctx, ownerID, syncID, expectedVersion, err)
	}
	s.publish(ctx, out)
	return out, nil
}

// BatchPut applies items one by one. Each item succeeds or fails on its
// own; only an oversized batch fails as a whole.
func (s *DocumentService) BatchPut(ctx context.Context, ownerID string, items []BatchItem) ([]BatchResult, error) {
	if len(items) > s.batchLimit {
		return nil, &common.ValidationError{Field: "items", Reason: fmt.Sprintf("at most %d items per batch", s.batchLimit)}
	}
	out := make([]BatchResult, len(items))
	for i, it := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if it.Document == nil {
			out[i].Err = &common.ValidationError{Field: "document", Reason: "is required"}
			continue
		}
		if it.ExpectedVersion == 0 {
			out[i].Document, out[i].Err = s.Create(ctx, ownerID, it.Document)
		} else {
			out[i].Document, out[i].Err = s.Update(ctx, ownerID, it.Document, it.ExpectedVersion)
		}
	}
	return out, nil
}

// explainMiss turns a failed conditional write into NotFound or a conflict
// carrying the current remote document.
func (s *DocumentService) explainMiss(ctx context.Context, ownerID, syncID string, expected int64, err error) error {
	if !errors.Is(err, common.ErrVersionConflict) {
		return err
	}
	cur, gerr := s.repomanager.Documents(s.db).Get(ctx, ownerID, syncID)
	if gerr != nil {
		if errors.Is(gerr, common.ErrNotFound) {
			return gerr
		}
		s.logger.Warn(ctx, "failed to load current document after conflict", "sync_id", syncID, "error", gerr)
		return &common.VersionConflictError{SyncID: syncID, ExpectedVersion: expected}
	}
	return &common.VersionConflictError{SyncID: syncID, ExpectedVersion: expected, RemoteVersion: cur.Version, Remote: cur}
}

// publish never fails the write; a missed event is caught up by the next pull.
func (s *DocumentService) publish(ctx context.Context, d *models.Document) {
	if s.publisher == nil {
		return
	}
	e := models.ChangeEvent{OwnerID: d.OwnerID, SyncID: d.SyncID, Version: d.Version, Deleted: d.Deleted, At: s.now()}
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn(ctx, "failed to publish change event", "sync_id", d.SyncID, "error", err)
	}
}
