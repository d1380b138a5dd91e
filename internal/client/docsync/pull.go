package docsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/docsync/internal/client/filesync"
	"github.com/dmitrijs2005/docsync/internal/client/identity"
	"github.com/dmitrijs2005/docsync/internal/client/models"
	"github.com/dmitrijs2005/docsync/internal/client/retry"
	"github.com/dmitrijs2005/docsync/internal/client/storagepath"
	"github.com/dmitrijs2005/docsync/internal/client/syncstate"
	"github.com/dmitrijs2005/docsync/internal/common"
	"github.com/dmitrijs2005/docsync/internal/metrics"
)

// PullReport counts the outcomes of Pull.
type PullReport struct {
	Applied   int
	Removed   int
	Unchanged int
	Conflicts int
	Failed    int
	// Rejected counts remote attachments whose keys do not belong to the
	// signed-in user.
	Rejected int
}

// Pull applies every remote document, tombstones included.
func (e *Engine) Pull(ctx context.Context) (PullReport, error) {
	var rep PullReport
	id, err := e.identity.CurrentIdentity(ctx)
	if err != nil {
		return rep, err
	}
	remote, err := retry.Do(ctx, e.retry, "list", func(ctx context.Context) ([]*models.Document, error) {
		return e.docs.List(ctx, true)
	})
	if err != nil {
		return rep, err
	}
	for _, r := range remote {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		e.apply(ctx, id, r, &rep)
	}
	e.logger.Info(ctx, "pull finished", "remote", len(remote), "applied", rep.Applied, "removed", rep.Removed,
		"conflicts", rep.Conflicts, "failed", rep.Failed)
	e.event(ctx, models.EventPull, "", fmt.Sprintf("%d documents, %d applied", len(remote), rep.Applied))
	return rep, nil
}

// PullOne applies the remote copy of a single document, typically after a
// change notification.
func (e *Engine) PullOne(ctx context.Context, syncID string) (PullReport, error) {
	var rep PullReport
	id, err := e.identity.CurrentIdentity(ctx)
	if err != nil {
		return rep, err
	}
	r, err := retry.Do(ctx, e.retry, "get", func(ctx context.Context) (*models.Document, error) {
		return e.docs.Get(ctx, syncID)
	})
	if errors.Is(err, common.ErrNotFound) {
		return rep, nil
	}
	if err != nil {
		return rep, err
	}
	e.apply(ctx, id, r, &rep)
	return rep, nil
}

func (e *Engine) apply(ctx context.Context, id identity.Identity, r *models.Document, rep *PullReport) {
	rep.Rejected += e.filterKeys(ctx, id, r)

	unlock := e.locks.Lock(r.SyncID)
	defer unlock()

	res, err := e.state.ApplyRemote(ctx, r)
	if err != nil {
		rep.Failed++
		e.logger.Error(ctx, "failed to apply remote document", "op", "pull", "sync_id", r.SyncID, "error", err)
		return
	}
	for _, a := range res.Dropped {
		e.files.DropLocal(ctx, a.RemoteKey)
	}
	switch res.Outcome {
	case syncstate.Created, syncstate.Updated:
		rep.Applied++
		metrics.DocumentsPulled.Inc()
	case syncstate.Removed:
		rep.Removed++
		metrics.DocumentsPulled.Inc()
		e.event(ctx, models.EventDelete, r.SyncID, "deleted remotely")
	case syncstate.Conflicted:
		rep.Conflicts++
		metrics.ConflictsDetected.Inc()
		e.event(ctx, models.EventConflict, r.SyncID, fmt.Sprintf("remote v%d arrived over local edits", r.Version))
		if resolution, ok := e.autoResolution(&res.Conflict.Local, r); ok {
			if err := e.resolve(ctx, res.Conflict, resolution); err != nil {
				e.logger.Error(ctx, "automatic conflict resolution failed", "sync_id", r.SyncID, "error", err)
			}
		}
	default:
		rep.Unchanged++
	}
}

// filterKeys drops remote attachments whose keys are neither current keys
// of the user nor the user's legacy keys.
func (e *Engine) filterKeys(ctx context.Context, id identity.Identity, r *models.Document) int {
	kept := r.Attachments[:0]
	rejected := 0
	for _, a := range r.Attachments {
		if e.paths.Validate(a.RemoteKey, id.StableID) || storagepath.IsLegacy(a.RemoteKey, id.DisplayName) {
			kept = append(kept, a)
			continue
		}
		rejected++
		e.logger.Warn(ctx, "rejecting attachment with a foreign key", "sync_id", r.SyncID, "file", a.FileName, "key", a.RemoteKey)
	}
	r.Attachments = kept
	return rejected
}

// Delete soft-deletes a document. The tombstone reaches the remote store
// with the next push; documents never pushed disappear right away.
func (e *Engine) Delete(ctx context.Context, syncID string) error {
	unlock := e.locks.Lock(syncID)
	defer unlock()

	removed, err := e.state.MarkDeletedLocal(ctx, syncID)
	if err != nil {
		return err
	}
	for _, a := range removed {
		e.dropAttachment(ctx, a)
	}
	e.event(ctx, models.EventDelete, syncID, "deleted locally")
	return nil
}

// dropAttachment forgets an attachment whose document is gone: the blob
// when one was uploaded, and the cached copy.
func (e *Engine) dropAttachment(ctx context.Context, a models.FileAttachment) {
	if !a.Uploaded() {
		return
	}
	if err := e.files.Delete(ctx, a.RemoteKey); err != nil {
		e.logger.Warn(ctx, "failed to delete attachment blob", "sync_id", a.SyncID, "key", a.RemoteKey, "error", err)
		e.files.DropLocal(ctx, a.RemoteKey)
	}
}

// RemoveAttachment deletes one attachment locally and remotely. The
// document is queued so the remote copy stops listing it.
func (e *Engine) RemoveAttachment(ctx context.Context, syncID, fileName string) error {
	unlock := e.locks.Lock(syncID)
	defer unlock()

	a, err := e.state.RemoveAttachment(ctx, syncID, fileName)
	if err != nil {
		return err
	}
	if a.Uploaded() {
		if err := e.files.Delete(ctx, a.RemoteKey); err != nil {
			return fmt.Errorf("delete blob of %s: %w", fileName, err)
		}
	}
	e.state.RecordEvent(ctx, models.SyncEvent{Type: models.EventDelete, EntityType: models.EntityAttachment, EntityID: a.RemoteKey, SyncID: syncID, Message: fileName})
	return nil
}

// DownloadPending fetches every remote attachment without a local copy,
// up to filesync.DefaultWindow at a time, and returns how many were
// downloaded. Each document is downloading while its transfers run and
// ends synced, failed, or pending again when the pass was interrupted.
func (e *Engine) DownloadPending(ctx context.Context) (int, error) {
	docs, err := e.state.DocumentsNeedingDownload(ctx)
	if err != nil {
		return 0, err
	}
	var n atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(filesync.DefaultWindow)
	for _, d := range docs {
		missing := missingAttachments(d)
		if len(missing) == 0 {
			continue
		}
		if gctx.Err() != nil {
			break
		}
		if !e.beginDownload(ctx, d.SyncID) {
			continue
		}
		tr := &docDownload{remaining: int32(len(missing))}
		for _, a := range missing {
			g.Go(func() error {
				err := e.downloadOne(gctx, d.SyncID, a)
				stop := err != nil && interrupted(gctx, err)
				cause := err
				if err == nil {
					n.Add(1)
				} else if stop {
					cause = nil
				}
				tr.done(cause, func(cause error) { e.finishDownload(ctx, d.SyncID, cause) })
				if stop {
					return err
				}
				return nil
			})
		}
	}
	err = g.Wait()
	return int(n.Load()), err
}

func missingAttachments(d *models.Document) []models.FileAttachment {
	var out []models.FileAttachment
	for _, a := range d.Attachments {
		if a.Uploaded() && !a.Downloaded() {
			out = append(out, a)
		}
	}
	return out
}

// docDownload counts the running transfers of one document and keeps the
// first terminal failure among them.
type docDownload struct {
	mu        sync.Mutex
	remaining int32
	cause     error
}

// done records one finished transfer and runs finish after the last one.
func (t *docDownload) done(err error, finish func(cause error)) {
	t.mu.Lock()
	if t.cause == nil {
		t.cause = err
	}
	t.remaining--
	last, cause := t.remaining == 0, t.cause
	t.mu.Unlock()
	if last {
		finish(cause)
	}
}

func (e *Engine) beginDownload(ctx context.Context, syncID string) bool {
	unlock := e.locks.Lock(syncID)
	defer unlock()
	if err := e.state.BeginDownload(ctx, syncID); err != nil {
		e.logger.Debug(ctx, "skipping download, document changed", "sync_id", syncID, "error", err)
		return false
	}
	return true
}

func (e *Engine) finishDownload(ctx context.Context, syncID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	unlock := e.locks.Lock(syncID)
	defer unlock()
	if err := e.state.FinishDownload(ctx, syncID, cause); err != nil {
		e.logger.Warn(ctx, "failed to settle downloaded document", "sync_id", syncID, "error", err)
	}
}

// downloadOne fetches one attachment. State writes are per attachment, so
// transfers of the same document may overlap.
func (e *Engine) downloadOne(ctx context.Context, syncID string, a models.FileAttachment) error {
	_ = e.state.SetAttachmentState(ctx, a.ID, models.StateDownloading, nil)

	opts := filesync.DownloadOptions{Checksum: a.Checksum, Size: a.FileSize}
	path, err := e.files.Download(ctx, a.RemoteKey, syncID, opts)
	if errors.Is(err, common.ErrNotFound) {
		if legacy := e.legacyKey(ctx, a); legacy != "" {
			e.logger.Info(ctx, "new key not populated yet, using legacy key", "sync_id", syncID, "key", a.RemoteKey, "legacy", legacy)
			path, err = e.files.Download(ctx, legacy, syncID, opts)
		}
	}
	if err != nil {
		bg := context.WithoutCancel(ctx)
		if interrupted(ctx, err) {
			_ = e.state.SetAttachmentState(bg, a.ID, models.StatePendingDownload, nil)
			return err
		}
		_ = e.state.SetAttachmentState(bg, a.ID, models.StateError, err)
		e.event(bg, models.EventError, syncID, fmt.Sprintf("download %s: %v", a.FileName, err))
		e.logger.Error(ctx, "download failed", "op", "download", "sync_id", syncID, "key", a.RemoteKey, "error", err)
		return fmt.Errorf("%s: %w", a.FileName, err)
	}
	if err := e.state.MarkAttachmentDownloaded(ctx, a.ID, path); err != nil {
		return err
	}
	e.state.RecordEvent(ctx, models.SyncEvent{Type: models.EventDownload, EntityType: models.EntityAttachment, EntityID: a.RemoteKey, SyncID: syncID, Message: a.FileName})
	return nil
}

func (e *Engine) legacyKey(ctx context.Context, a models.FileAttachment) string {
	if a.LegacyKey != "" {
		return a.LegacyKey
	}
	if e.fallback == nil {
		return ""
	}
	k, err := e.fallback.FallbackKey(ctx, a.RemoteKey)
	if err != nil {
		return ""
	}
	return k
}
