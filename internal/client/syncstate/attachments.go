package syncstate

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/docsync/internal/client/models"
	"github.com/dmitrijs2005/docsync/internal/common"
	"github.com/dmitrijs2005/docsync/internal/dbx"
)

// AddAttachment stores a new local attachment and queues its document for
// upload.
func (m *Manager) AddAttachment(ctx context.Context, a *models.FileAttachment) (int64, error) {
	if err := a.Validate(); err != nil {
		return 0, common.NewValidationError(err)
	}
	var id int64
	err := m.tx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		d, err := m.repos.Documents(tx).Get(ctx, a.SyncID)
		if err != nil {
			return err
		}
		if d.Deleted {
			return fmt.Errorf("document %s is deleted: %w", a.SyncID, common.ErrNotFound)
		}
		if a.AddedAt.IsZero() {
			a.AddedAt = m.now()
		}
		a.SyncState = models.StatePendingUpload
		if id, err = m.repos.Attachments(tx).Add(ctx, a); err != nil {
			return err
		}
		return m.queueUpload(ctx, tx, d)
	})
	return id, err
}

// Attachment returns one attachment row.
func (m *Manager) Attachment(ctx context.Context, id int64) (*models.FileAttachment, error) {
	return m.repos.Attachments(m.db).Get(ctx, id)
}

// MarkAttachmentUploaded records the result of a successful upload.
func (m *Manager) MarkAttachmentUploaded(ctx context.Context, id int64, remoteKey string, size int64, checksum, encoding string) error {
	return m.updateAttachment(ctx, id, func(a *models.FileAttachment) {
		a.RemoteKey = remoteKey
		a.FileSize = size
		a.Checksum = checksum
		a.ContentEncoding = encoding
		a.SyncState = models.StateSynced
		a.LastError = ""
	})
}

// MarkAttachmentDownloaded records the local copy of an attachment and
// settles its document once nothing else is missing.
func (m *Manager) MarkAttachmentDownloaded(ctx context.Context, id int64, localPath string) error {
	return m.tx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		atts := m.repos.Attachments(tx)
		a, err := atts.Get(ctx, id)
		if err != nil {
			return err
		}
		a.LocalPath = localPath
		a.SyncState = models.StateSynced
		a.LastError = ""
		if err := atts.Update(ctx, a); err != nil {
			return err
		}

		list, err := atts.ListBySyncID(ctx, a.SyncID)
		if err != nil {
			return err
		}
		for _, other := range list {
			if other.Uploaded() && !other.Downloaded() {
				return nil
			}
		}
		docs := m.repos.Documents(tx)
		d, err := docs.Get(ctx, a.SyncID)
		if err != nil {
			return err
		}
		if d.SyncState == models.StatePendingDownload || d.SyncState == models.StateDownloading {
			return docs.UpdateState(ctx, d.SyncID, models.StateSynced, "", 0)
		}
		return nil
	})
}

// SetAttachmentState changes the state of one attachment.
func (m *Manager) SetAttachmentState(ctx context.Context, id int64, state models.SyncState, cause error) error {
	return m.updateAttachment(ctx, id, func(a *models.FileAttachment) {
		a.SyncState = state
		a.LastError = ""
		if cause != nil {
			a.LastError = cause.Error()
		}
	})
}

// UpdateAttachmentKeys rewrites the remote and legacy keys of an attachment.
func (m *Manager) UpdateAttachmentKeys(ctx context.Context, id int64, remoteKey, legacyKey string) error {
	return m.updateAttachment(ctx, id, func(a *models.FileAttachment) {
		a.RemoteKey = remoteKey
		a.LegacyKey = legacyKey
	})
}

// RemoveAttachment deletes the attachment named fileName and queues its
// document for upload so the remote copy drops it too.
func (m *Manager) RemoveAttachment(ctx context.Context, syncID, fileName string) (*models.FileAttachment, error) {
	var removed *models.FileAttachment
	err := m.tx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		d, err := m.repos.Documents(tx).Get(ctx, syncID)
		if err != nil {
			return err
		}
		if err := m.loadAttachments(ctx, tx, d); err != nil {
			return err
		}
		a, ok := d.Attachment(fileName)
		if !ok {
			return fmt.Errorf("attachment %s/%s: %w", syncID, fileName, common.ErrNotFound)
		}
		removed = a
		if err := m.repos.Attachments(tx).Delete(ctx, a.ID); err != nil {
			return err
		}
		if !a.Uploaded() {
			return nil
		}
		return m.queueUpload(ctx, tx, d)
	})
	return removed, err
}

func (m *Manager) updateAttachment(ctx context.Context, id int64, fn func(a *models.FileAttachment)) error {
	return m.tx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		atts := m.repos.Attachments(tx)
		a, err := atts.Get(ctx, id)
		if err != nil {
			return err
		}
		fn(a)
		return atts.Update(ctx, a)
	})
}

// queueUpload marks d as modified locally.
func (m *Manager) queueUpload(ctx context.Context, tx dbx.DBTX, d *models.Document) error {
	d.UpdatedAt = m.now()
	d.SyncState = models.StatePendingUpload
	d.LastError, d.Attempts = "", 0
	return m.repos.Documents(tx).Upsert(ctx, d)
}
