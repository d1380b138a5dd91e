package syncstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/docsync/internal/client/models"
	"github.com/dmitrijs2005/docsync/internal/client/repositories"
	"github.com/dmitrijs2005/docsync/internal/common"
	"github.com/dmitrijs2005/docsync/internal/dbx"
	"github.com/dmitrijs2005/docsync/internal/logging"
	"github.com/google/uuid"
)

// DefaultEventCap is how many sync events are kept locally.
const DefaultEventCap = 500

var ErrInvalidTransition = errors.New("invalid sync state transition")

// TransitionError reports a rejected state change.
type TransitionError struct {
	SyncID   string
	From, To models.SyncState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("document %s: cannot move from %s to %s", e.SyncID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// Summary counts documents per state.
type Summary struct {
	Counts    map[models.SyncState]int
	Total     int
	Synced    int
	Conflicts int
}

type Manager struct {
	db       *sql.DB
	repos    repositories.Manager
	logger   logging.Logger
	now      func() time.Time
	eventCap int
	appended atomic.Int64
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithEventCap(n int) Option {
	return func(m *Manager) { m.eventCap = n }
}

func NewManager(db *sql.DB, repos repositories.Manager, logger logging.Logger, opts ...Option) *Manager {
	m := &Manager{
		db:       db,
		repos:    repos,
		logger:   logger.With("module", "syncstate"),
		now:      func() time.Time { return time.Now().UTC() },
		eventCap: DefaultEventCap,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) tx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	return dbx.WithTx(ctx, m.db, nil, fn)
}

// Document returns a document with its attachments.
func (m *Manager) Document(ctx context.Context, syncID string) (*models.Document, error) {
	d, err := m.repos.Documents(m.db).Get(ctx, syncID)
	if err != nil {
		return nil, err
	}
	if err := m.loadAttachments(ctx, m.db, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Documents lists documents with their attachments.
func (m *Manager) Documents(ctx context.Context, includeDeleted bool) ([]*models.Document, error) {
	docs, err := m.repos.Documents(m.db).List(ctx, includeDeleted)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		if err := m.loadAttachments(ctx, m.db, d); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

// DocumentsNeedingUpload returns documents waiting to be pushed: pending
// ones and ones whose push failed. A document with an open conflict waits
// for its resolution whatever its state.
func (m *Manager) DocumentsNeedingUpload(ctx context.Context) ([]*models.Document, error) {
	docs, err := m.repos.Documents(m.db).ListByStates(ctx, models.StatePendingUpload, models.StateError)
	if err != nil {
		return nil, err
	}
	out := docs[:0]
	for _, d := range docs {
		if downloadFailed(d) {
			continue
		}
		_, err := m.repos.Conflicts(m.db).GetBySyncID(ctx, d.SyncID)
		if err == nil {
			continue
		}
		if !errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
		if err := m.loadAttachments(ctx, m.db, d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// DocumentsNeedingDownload returns documents with remote attachments that
// have no local copy yet, including ones whose last download failed.
func (m *Manager) DocumentsNeedingDownload(ctx context.Context) ([]*models.Document, error) {
	docs, err := m.repos.Documents(m.db).ListByStates(ctx, models.StatePendingDownload, models.StateError)
	if err != nil {
		return nil, err
	}
	out := docs[:0]
	for _, d := range docs {
		if d.SyncState == models.StateError && !downloadFailed(d) {
			continue
		}
		if err := m.loadAttachments(ctx, m.db, d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// AttachmentsNeedingUpload returns the attachments of syncID without a
// remote key.
func (m *Manager) AttachmentsNeedingUpload(ctx context.Context, syncID string) ([]models.FileAttachment, error) {
	all, err := m.repos.Attachments(m.db).ListBySyncID(ctx, syncID)
	if err != nil {
		return nil, err
	}
	var out []models.FileAttachment
	for _, a := range all {
		if !a.Uploaded() {
			out = append(out, a)
		}
	}
	return out, nil
}

// UploadedAttachments returns every attachment with a remote key.
func (m *Manager) UploadedAttachments(ctx context.Context) ([]models.FileAttachment, error) {
	return m.repos.Attachments(m.db).ListUploaded(ctx)
}

// SetState moves a document to state if the transition is allowed.
func (m *Manager) SetState(ctx context.Context, syncID string, state models.SyncState) error {
	return m.tx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		docs := m.repos.Documents(tx)
		d, err := docs.Get(ctx, syncID)
		if err != nil {
			return err
		}
		if !d.SyncState.CanTransition(state) {
			return &TransitionError{SyncID: syncID, From: d.SyncState, To: state}
		}
		lastErr, attempts := d.LastError, d.Attempts
		if state != models.StateError {
			lastErr = ""
		}
		if state == models.StateSynced {
			attempts = 0
		}
		return docs.UpdateState(ctx, syncID, state, lastErr, attempts)
	})
}

// MarkError records a terminal failure for a document.
func (m *Manager) MarkError(ctx context.Context, syncID string, cause error) error {
	return m.tx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		docs := m.repos.Documents(tx)
		d, err := docs.Get(ctx, syncID)
		if err != nil {
			return err
		}
		msg := ""
		if cause != nil {
			msg = cause.Error()
		}
		return docs.UpdateState(ctx, syncID, models.StateError, msg, d.Attempts+1)
	})
}

// SaveLocal stores a local create or edit and queues it for upload.
func (m *Manager) SaveLocal(ctx context.Context, d *models.Document) error {
	if err := d.Validate(); err != nil {
		return common.NewValidationError(err)
	}
	return m.tx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		docs := m.repos.Documents(tx)
		cur, err := docs.Get(ctx, d.SyncID)
		switch {
		case errors.Is(err, common.ErrNotFound):
			d.SyncState = models.StatePendingUpload
			return docs.Create(ctx, d)
		case err != nil:
			return err
		}
		d.Version = cur.Version
		d.RemoteExists = cur.RemoteExists
		d.CreatedAt = cur.CreatedAt
		d.UpdatedAt = m.now()
		if cur.SyncState != models.StatePendingUpload && !cur.SyncState.CanTransition(models.StatePendingUpload) {
			return &TransitionError{SyncID: d.SyncID, From: cur.SyncState, To: models.StatePendingUpload}
		}
		d.SyncState = models.StatePendingUpload
		d.LastError, d.Attempts = "", 0
		return docs.Upsert(ctx, d)
	})
}

// MarkDeletedLocal turns a document into a tombstone waiting to be pushed.
// Documents never pushed are removed right away.
func (m *Manager) MarkDeletedLocal(ctx context.Context, syncID string) (removed []models.FileAttachment, err error) {
	err = m.tx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		docs := m.repos.Documents(tx)
		d, err := docs.Get(ctx, syncID)
		if err != nil {
			return err
		}
		if !d.RemoteExists {
			removed, err = m.removeLocal(ctx, tx, syncID)
			return err
		}
		d.MarkDeleted(m.now())
		d.LastError, d.Attempts = "", 0
		return docs.Upsert(ctx, d)
	})
	return removed, err
}

// MarkSynced applies the store's answer to a successful push of pushed.
// Edits made locally while the push was in flight keep the document
// pending. Accepted tombstones remove the local copy.
func (m *Manager) MarkSynced(ctx context.Context, pushed, remote *models.Document) (removed []models.FileAttachment, err error) {
	err = m.tx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		docs := m.repos.Documents(tx)
		cur, err := docs.Get(ctx, pushed.SyncID)
		if err != nil {
			return err
		}
		if remote.Deleted && !cur.UpdatedAt.After(pushed.UpdatedAt) {
			removed, err = m.removeLocal(ctx, tx, pushed.SyncID)
			return err
		}

		cur.Version = remote.Version
		cur.RemoteExists = true
		cur.LastError, cur.Attempts = "", 0
		if cur.UpdatedAt.After(pushed.UpdatedAt) {
			cur.SyncState = models.StatePendingUpload
		} else {
			cur.SyncState = models.StateSynced
			if err := m.markAttachmentsSynced(ctx, tx, cur); err != nil {
				return err
			}
		}
		return docs.Upsert(ctx, cur)
	})
	return removed, err
}

func (m *Manager) markAttachmentsSynced(ctx context.Context, tx dbx.DBTX, d *models.Document) error {
	atts := m.repos.Attachments(tx)
	list, err := atts.ListBySyncID(ctx, d.SyncID)
	if err != nil {
		return err
	}
	missing := false
	for i := range list {
		a := &list[i]
		if !a.Downloaded() && a.Uploaded() {
			missing = true
			continue
		}
		if a.Uploaded() && a.SyncState != models.StateSynced {
			a.SyncState = models.StateSynced
			a.LastError = ""
			if err := atts.Update(ctx, a); err != nil {
				return err
			}
		}
	}
	if missing {
		d.SyncState = models.StatePendingDownload
	}
	return nil
}

// RemoveLocal deletes a document and its attachment rows. The removed
// attachments are returned so their cached files can be dropped.
func (m *Manager) RemoveLocal(ctx context.Context, syncID string) (removed []models.FileAttachment, err error) {
	err = m.tx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		removed, err = m.removeLocal(ctx, tx, syncID)
		return err
	})
	return removed, err
}

func (m *Manager) removeLocal(ctx context.Context, tx dbx.DBTX, syncID string) ([]models.FileAttachment, error) {
	atts := m.repos.Attachments(tx)
	list, err := atts.ListBySyncID(ctx, syncID)
	if err != nil {
		return nil, err
	}
	if err := atts.DeleteBySyncID(ctx, syncID); err != nil {
		return nil, err
	}
	if c, err := m.repos.Conflicts(tx).GetBySyncID(ctx, syncID); err == nil {
		if err := m.repos.Conflicts(tx).Delete(ctx, c.ID); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	if err := m.repos.Documents(tx).Delete(ctx, syncID); err != nil {
		return nil, err
	}
	return list, nil
}

// ResetInFlight returns work interrupted by a cancelled or crashed pass to
// its pending state.
func (m *Manager) ResetInFlight(ctx context.Context) (int64, error) {
	var total int64
	err := m.tx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		docs, atts := m.repos.Documents(tx), m.repos.Attachments(tx)
		for _, r := range []struct{ from, to models.SyncState }{
			{models.StateUploading, models.StatePendingUpload},
			{models.StateDownloading, models.StatePendingDownload},
		} {
			n, err := docs.ResetStates(ctx, r.from, r.to)
			if err != nil {
				return err
			}
			total += n
			if _, err := atts.ResetStates(ctx, r.from, r.to); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if total > 0 {
		m.logger.Info(ctx, "reset interrupted documents", "count", total)
	}
	return total, nil
}

// Summary counts documents by state.
func (m *Manager) Summary(ctx context.Context) (Summary, error) {
	counts, err := m.repos.Documents(m.db).CountByState(ctx)
	if err != nil {
		return Summary{}, err
	}
	conflicts, err := m.repos.Conflicts(m.db).List(ctx)
	if err != nil {
		return Summary{}, err
	}
	s := Summary{Counts: counts, Conflicts: len(conflicts)}
	for _, n := range counts {
		s.Total += n
	}
	s.Synced = counts[models.StateSynced]
	return s, nil
}

func (m *Manager) loadAttachments(ctx context.Context, db dbx.DBTX, d *models.Document) error {
	list, err := m.repos.Attachments(db).ListBySyncID(ctx, d.SyncID)
	if err != nil {
		return err
	}
	d.Attachments = list
	return nil
}

// RecordEvent appends to the local sync history, trimming it now and then.
// Failures are logged only.
func (m *Manager) RecordEvent(ctx context.Context, e models.SyncEvent) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = m.now()
	}
	ev := m.repos.Events(m.db)
	if err := ev.Append(ctx, &e); err != nil {
		m.logger.Warn(ctx, "failed to record sync event", "type", e.Type, "error", err)
		return
	}
	if m.appended.Add(1)%50 == 0 {
		if err := ev.Trim(ctx, m.eventCap); err != nil {
			m.logger.Warn(ctx, "failed to trim sync events", "error", err)
		}
	}
}

// Events returns the newest limit events.
func (m *Manager) Events(ctx context.Context, limit int) ([]models.SyncEvent, error) {
	return m.repos.Events(m.db).List(ctx, limit)
}
