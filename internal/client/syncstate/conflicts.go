package syncstate

import (
	"context"

	"github.com/dmitrijs2005/docsync/internal/client/models"
	"github.com/dmitrijs2005/docsync/internal/dbx"
)

// RecordConflict stores a conflict found while pushing local and moves the
// document to the error state.
func (m *Manager) RecordConflict(ctx context.Context, local, remote *models.Document) (*models.Conflict, error) {
	var c *models.Conflict
	err := m.tx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		cur, err := m.repos.Documents(tx).Get(ctx, local.SyncID)
		if err != nil {
			return err
		}
		if err := m.loadAttachments(ctx, tx, cur); err != nil {
			return err
		}
		if c, err = m.saveConflict(ctx, tx, cur, remote); err != nil {
			return err
		}
		return m.repos.Documents(tx).UpdateState(ctx, cur.SyncID, models.StateError, "version conflict", cur.Attempts+1)
	})
	return c, err
}

func (m *Manager) Conflicts(ctx context.Context) ([]*models.Conflict, error) {
	return m.repos.Conflicts(m.db).List(ctx)
}

func (m *Manager) Conflict(ctx context.Context, id string) (*models.Conflict, error) {
	return m.repos.Conflicts(m.db).Get(ctx, id)
}

// AdoptRemoteVersion keeps the local content but bases it on the remote
// version, so the next push overwrites the remote copy. The conflict row
// is discarded in the same transaction.
func (m *Manager) AdoptRemoteVersion(ctx context.Context, conflictID string, remoteVersion int64) error {
	return m.tx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		c, err := m.repos.Conflicts(tx).Get(ctx, conflictID)
		if err != nil {
			return err
		}
		docs := m.repos.Documents(tx)
		d, err := docs.Get(ctx, c.SyncID)
		if err != nil {
			return err
		}
		d.Version = remoteVersion
		d.RemoteExists = true
		d.UpdatedAt = m.now()
		d.SyncState = models.StatePendingUpload
		d.LastError, d.Attempts = "", 0
		if err := docs.Upsert(ctx, d); err != nil {
			return err
		}
		return m.repos.Conflicts(tx).Delete(ctx, conflictID)
	})
}

// DiscardConflict drops a conflict row.
func (m *Manager) DiscardConflict(ctx context.Context, id string) error {
	return m.repos.Conflicts(m.db).Delete(ctx, id)
}

// OpenConflict returns the unresolved conflict of syncID, or
// common.ErrNotFound.
func (m *Manager) OpenConflict(ctx context.Context, syncID string) (*models.Conflict, error) {
	return m.repos.Conflicts(m.db).GetBySyncID(ctx, syncID)
}
