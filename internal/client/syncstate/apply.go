package syncstate

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/docsync/internal/client/models"
	"github.com/dmitrijs2005/docsync/internal/common"
	"github.com/dmitrijs2005/docsync/internal/dbx"
	"github.com/google/uuid"
)

type Outcome int

const (
	Unchanged Outcome = iota
	Created
	Updated
	Removed
	Conflicted
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	case Conflicted:
		return "conflicted"
	default:
		return "unchanged"
	}
}

// ApplyResult describes what ApplyRemote did.
type ApplyResult struct {
	Outcome Outcome
	// Dropped lists local attachment rows removed because the remote no
	// longer has them; their cached files may be deleted.
	Dropped  []models.FileAttachment
	Conflict *models.Conflict
}

// ApplyRemote reconciles the local copy with a remote document. Newer
// remote versions replace the local content unless the local copy has
// unpushed edits, in which case a conflict is stored instead.
func (m *Manager) ApplyRemote(ctx context.Context, remote *models.Document) (ApplyResult, error) {
	var res ApplyResult
	err := m.tx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		docs := m.repos.Documents(tx)
		local, err := docs.Get(ctx, remote.SyncID)
		if errors.Is(err, common.ErrNotFound) {
			if remote.Deleted {
				return nil
			}
			res.Outcome = Created
			return m.insertRemote(ctx, tx, remote)
		}
		if err != nil {
			return err
		}

		if remote.Version <= local.Version {
			return nil
		}

		if hasLocalEdits(local) {
			if err := m.loadAttachments(ctx, tx, local); err != nil {
				return err
			}
			c, err := m.saveConflict(ctx, tx, local, remote)
			if err != nil {
				return err
			}
			res.Outcome, res.Conflict = Conflicted, c
			return docs.UpdateState(ctx, local.SyncID, models.StateError, "version conflict", local.Attempts)
		}

		if remote.Deleted {
			res.Outcome = Removed
			res.Dropped, err = m.removeLocal(ctx, tx, remote.SyncID)
			return err
		}

		res.Outcome = Updated
		res.Dropped, err = m.replaceWithRemote(ctx, tx, local, remote)
		return err
	})
	return res, err
}

// ReplaceWithRemote forces the local copy to the remote content even when
// local edits exist. Used by conflict resolution.
func (m *Manager) ReplaceWithRemote(ctx context.Context, remote *models.Document) (dropped []models.FileAttachment, err error) {
	err = m.tx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		local, err := m.repos.Documents(tx).Get(ctx, remote.SyncID)
		if errors.Is(err, common.ErrNotFound) {
			if remote.Deleted {
				return nil
			}
			return m.insertRemote(ctx, tx, remote)
		}
		if err != nil {
			return err
		}
		if remote.Deleted {
			dropped, err = m.removeLocal(ctx, tx, remote.SyncID)
			return err
		}
		dropped, err = m.replaceWithRemote(ctx, tx, local, remote)
		return err
	})
	return dropped, err
}

func hasLocalEdits(d *models.Document) bool {
	switch d.SyncState {
	case models.StatePendingUpload, models.StateUploading:
		return true
	case models.StateError:
		return !downloadFailed(d)
	}
	return false
}

func (m *Manager) insertRemote(ctx context.Context, tx dbx.DBTX, remote *models.Document) error {
	d := remote.Clone()
	d.Attachments = nil
	d.RemoteExists = true
	d.LastError, d.Attempts = "", 0
	d.SyncState = models.StateSynced

	atts := m.repos.Attachments(tx)
	for i := range remote.Attachments {
		a := remote.Attachments[i]
		a.ID, a.LocalPath = 0, ""
		a.SyncID = d.SyncID
		a.SyncState = models.StatePendingDownload
		if _, err := atts.Add(ctx, &a); err != nil {
			m.logger.Warn(ctx, "skipping remote attachment", "sync_id", d.SyncID, "file", a.FileName, "error", err)
			continue
		}
		d.SyncState = models.StatePendingDownload
	}
	return m.repos.Documents(tx).Create(ctx, d)
}

// replaceWithRemote copies remote content over local and reconciles the
// attachment rows by file name.
func (m *Manager) replaceWithRemote(ctx context.Context, tx dbx.DBTX, local, remote *models.Document) ([]models.FileAttachment, error) {
	atts := m.repos.Attachments(tx)
	existing, err := atts.ListBySyncID(ctx, local.SyncID)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]models.FileAttachment, len(existing))
	for _, a := range existing {
		byName[a.FileName] = a
	}

	missing := false
	seen := make(map[string]bool, len(remote.Attachments))
	for _, ra := range remote.Attachments {
		seen[ra.FileName] = true
		cur, ok := byName[ra.FileName]
		if !ok {
			a := ra
			a.ID, a.LocalPath = 0, ""
			a.SyncID = local.SyncID
			a.SyncState = models.StatePendingDownload
			if _, err := atts.Add(ctx, &a); err != nil {
				m.logger.Warn(ctx, "skipping remote attachment", "sync_id", local.SyncID, "file", ra.FileName, "error", err)
				continue
			}
			missing = true
			continue
		}

		// a different checksum means the cached copy is stale
		if ra.Checksum != "" && cur.Checksum != "" && cur.Checksum != ra.Checksum {
			cur.LocalPath = ""
		}
		cur.RemoteKey = ra.RemoteKey
		cur.FileSize = ra.FileSize
		cur.Checksum = ra.Checksum
		cur.ContentEncoding = ra.ContentEncoding
		if cur.Downloaded() {
			cur.SyncState = models.StateSynced
		} else {
			cur.SyncState = models.StatePendingDownload
			missing = true
		}
		if err := atts.Update(ctx, &cur); err != nil {
			m.logger.Warn(ctx, "failed to reconcile attachment", "sync_id", local.SyncID, "file", cur.FileName, "error", err)
		}
	}

	var dropped []models.FileAttachment
	for _, a := range existing {
		if seen[a.FileName] || !a.Uploaded() {
			continue
		}
		if err := atts.Delete(ctx, a.ID); err != nil {
			m.logger.Warn(ctx, "failed to drop attachment", "sync_id", local.SyncID, "file", a.FileName, "error", err)
			continue
		}
		dropped = append(dropped, a)
	}

	d := remote.Clone()
	d.Attachments = nil
	d.CreatedAt = local.CreatedAt
	d.RemoteExists = true
	d.LastError, d.Attempts = "", 0
	d.SyncState = models.StateSynced
	if missing {
		d.SyncState = models.StatePendingDownload
	}
	return dropped, m.repos.Documents(tx).Upsert(ctx, d)
}

func (m *Manager) saveConflict(ctx context.Context, tx dbx.DBTX, local, remote *models.Document) (*models.Conflict, error) {
	c := &models.Conflict{
		ID:         uuid.NewString(),
		SyncID:     local.SyncID,
		Local:      *local.Clone(),
		Remote:     *remote.Clone(),
		DetectedAt: m.now(),
	}
	if err := m.repos.Conflicts(tx).Save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}
