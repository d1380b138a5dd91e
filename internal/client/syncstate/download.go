package syncstate

import (
	"context"
	"errors"
	"strings"

	"github.com/dmitrijs2005/docsync/internal/client/models"
	"github.com/dmitrijs2005/docsync/internal/common"
	"github.com/dmitrijs2005/docsync/internal/dbx"
)

// downloadFailure prefixes the last error of a document whose attachment
// download failed. Such a document has no local edits to push.
const downloadFailure = "download: "

func downloadFailed(d *models.Document) bool {
	return d.SyncState == models.StateError && strings.HasPrefix(d.LastError, downloadFailure)
}

// BeginDownload moves syncID to downloading. It fails with
// ErrInvalidTransition when the document changed state meanwhile, for
// example because it was edited locally.
func (m *Manager) BeginDownload(ctx context.Context, syncID string) error {
	return m.SetState(ctx, syncID, models.StateDownloading)
}

// FinishDownload settles a document left in downloading once its transfers
// are over. A nil cause means some were interrupted and the document waits
// for the next pass; otherwise it is marked failed and retried later.
// Documents that already left downloading are not touched.
func (m *Manager) FinishDownload(ctx context.Context, syncID string, cause error) error {
	return m.tx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		docs := m.repos.Documents(tx)
		d, err := docs.Get(ctx, syncID)
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if d.SyncState != models.StateDownloading {
			return nil
		}
		if cause != nil {
			return docs.UpdateState(ctx, syncID, models.StateError, downloadFailure+cause.Error(), d.Attempts+1)
		}
		return docs.UpdateState(ctx, syncID, models.StatePendingDownload, "", d.Attempts)
	})
}
