package docsync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/docsync/internal/client/client"
	"github.com/dmitrijs2005/docsync/internal/client/filesync"
	"github.com/dmitrijs2005/docsync/internal/client/models"
	"github.com/dmitrijs2005/docsync/internal/client/retry"
	"github.com/dmitrijs2005/docsync/internal/common"
	"github.com/dmitrijs2005/docsync/internal/metrics"
)

// PushReport counts the outcomes of PushPending.
type PushReport struct {
	Pushed    int
	Conflicts int
	Failed    int
}

type pushCounter struct {
	mu sync.Mutex
	r  PushReport
}

func (c *pushCounter) add(f func(r *PushReport)) {
	c.mu.Lock()
	f(&c.r)
	c.mu.Unlock()
}

// Push sends one document (and its missing attachments) to the remote store.
func (e *Engine) Push(ctx context.Context, syncID string) error {
	unlock := e.locks.Lock(syncID)
	defer unlock()

	d, err := e.state.Document(ctx, syncID)
	if err != nil {
		return err
	}
	if d.SyncState != models.StatePendingUpload && d.SyncState != models.StateError {
		return nil
	}
	if _, err := e.state.OpenConflict(ctx, syncID); err == nil {
		return fmt.Errorf("push %s: %w", syncID, ErrConflictPending)
	} else if !errors.Is(err, common.ErrNotFound) {
		return err
	}
	return e.push(ctx, d, true)
}

// push must be called with the document lock held. retryResolved allows one
// immediate second push after a conflict the policy resolved in favour of
// the local copy.
func (e *Engine) push(ctx context.Context, d *models.Document, retryResolved bool) error {
	d, err := e.prepare(ctx, d)
	if err != nil {
		return err
	}

	remote, err := retry.Do(ctx, e.retry, "push", func(ctx context.Context) (*models.Document, error) {
		return e.write(ctx, d)
	})
	if err != nil {
		out, herr := e.handleWriteError(ctx, d, err)
		if herr == nil && out == outcomeLocalWins && retryResolved {
			cur, err := e.state.Document(ctx, d.SyncID)
			if err != nil {
				return err
			}
			return e.push(ctx, cur, false)
		}
		return herr
	}
	return e.synced(ctx, d, remote)
}

// prepare moves d to uploading and uploads its missing attachments. The
// returned copy reflects the stored state.
func (e *Engine) prepare(ctx context.Context, d *models.Document) (*models.Document, error) {
	if err := e.state.SetState(ctx, d.SyncID, models.StateUploading); err != nil {
		return nil, err
	}
	if !d.Deleted {
		if err := e.uploadAttachments(ctx, d); err != nil {
			return nil, e.fail(ctx, d, "upload attachments", err)
		}
	}
	cur, err := e.state.Document(ctx, d.SyncID)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (e *Engine) write(ctx context.Context, d *models.Document) (*models.Document, error) {
	switch {
	case d.Deleted:
		return e.docs.SoftDelete(ctx, d.SyncID, d.Version)
	case !d.RemoteExists:
		return e.docs.Create(ctx, d)
	default:
		return e.docs.Update(ctx, d, d.Version)
	}
}

func (e *Engine) uploadAttachments(ctx context.Context, d *models.Document) error {
	pending, err := e.state.AttachmentsNeedingUpload(ctx, d.SyncID)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(filesync.DefaultWindow)
	for _, a := range pending {
		if a.LocalPath == "" {
			e.logger.Warn(ctx, "attachment has neither a local copy nor a remote key", "sync_id", d.SyncID, "file", a.FileName)
			continue
		}
		g.Go(func() error {
			res, err := e.files.Upload(gctx, a.LocalPath, d.SyncID,
				filesync.WithFileName(a.FileName), filesync.WithDisambiguator(a.Disambiguator()))
			if err != nil {
				if !interrupted(gctx, err) {
					_ = e.state.SetAttachmentState(context.WithoutCancel(ctx), a.ID, models.StateError, err)
				}
				return fmt.Errorf("upload %s: %w", a.FileName, err)
			}
			return e.state.MarkAttachmentUploaded(ctx, a.ID, res.RemoteKey, res.Size, res.Checksum, res.ContentEncoding)
		})
	}
	return g.Wait()
}

type writeOutcome int

const (
	outcomeFailed writeOutcome = iota
	outcomeSynced
	outcomeConflict
	// outcomeLocalWins is a conflict the policy settled for the local copy;
	// the document is pending again.
	outcomeLocalWins
)

// handleWriteError turns a failed write into local state.
func (e *Engine) handleWriteError(ctx context.Context, d *models.Document, err error) (writeOutcome, error) {
	var vc *common.VersionConflictError
	switch {
	case errors.As(err, &vc):
		remote, _ := vc.Remote.(*models.Document)
		return e.conflict(ctx, d, remote)
	case errors.Is(err, common.ErrAlreadyExists) && !d.RemoteExists:
		return e.recoverDuplicate(ctx, d)
	default:
		return outcomeFailed, e.fail(ctx, d, "push", err)
	}
}

// recoverDuplicate handles a create for a sync id the store already has,
// usually because an earlier push succeeded but its answer was lost.
func (e *Engine) recoverDuplicate(ctx context.Context, d *models.Document) (writeOutcome, error) {
	remote, err := retry.Do(ctx, e.retry, "get", func(ctx context.Context) (*models.Document, error) {
		return e.docs.Get(ctx, d.SyncID)
	})
	if err != nil {
		return outcomeFailed, e.fail(ctx, d, "fetch existing", err)
	}
	if d.SameContent(remote) {
		e.logger.Info(ctx, "document already stored remotely", "sync_id", d.SyncID, "version", remote.Version)
		if err := e.synced(ctx, d, remote); err != nil {
			return outcomeFailed, err
		}
		return outcomeSynced, nil
	}
	return e.conflict(ctx, d, remote)
}

func (e *Engine) conflict(ctx context.Context, d *models.Document, remote *models.Document) (writeOutcome, error) {
	if remote == nil {
		var err error
		remote, err = retry.Do(ctx, e.retry, "get", func(ctx context.Context) (*models.Document, error) {
			return e.docs.Get(ctx, d.SyncID)
		})
		if err != nil {
			return outcomeFailed, e.fail(ctx, d, "fetch conflicting", err)
		}
	}
	c, err := e.state.RecordConflict(ctx, d, remote)
	if err != nil {
		return outcomeFailed, err
	}
	metrics.ConflictsDetected.Inc()
	metrics.DocumentsPushed.WithLabelValues("conflict").Inc()
	e.event(ctx, models.EventConflict, d.SyncID, fmt.Sprintf("local v%d, remote v%d", d.Version, remote.Version))
	e.logger.Warn(ctx, "version conflict", "sync_id", d.SyncID, "local_version", d.Version, "remote_version", remote.Version)

	res, ok := e.autoResolution(&c.Local, remote)
	if !ok {
		return outcomeConflict, &common.VersionConflictError{SyncID: d.SyncID, ExpectedVersion: d.Version, RemoteVersion: remote.Version, Remote: remote}
	}
	if err := e.resolve(ctx, c, res); err != nil {
		return outcomeFailed, err
	}
	if res == models.ResolutionLocalWins {
		return outcomeLocalWins, nil
	}
	return outcomeConflict, nil
}

func (e *Engine) synced(ctx context.Context, pushed, remote *models.Document) error {
	removed, err := e.state.MarkSynced(ctx, pushed, remote)
	if err != nil {
		return err
	}
	for _, a := range removed {
		e.dropAttachment(ctx, a)
	}
	metrics.DocumentsPushed.WithLabelValues("synced").Inc()
	msg := fmt.Sprintf("v%d", remote.Version)
	if remote.Deleted {
		msg = "deleted"
	}
	e.event(ctx, models.EventPush, pushed.SyncID, msg)
	return nil
}

// fail records a terminal failure. Interrupted work goes back to pending
// instead of error.
func (e *Engine) fail(ctx context.Context, d *models.Document, op string, err error) error {
	bg := context.WithoutCancel(ctx)
	if interrupted(ctx, err) {
		if serr := e.state.SetState(bg, d.SyncID, models.StatePendingUpload); serr != nil {
			e.logger.Warn(bg, "failed to requeue document", "sync_id", d.SyncID, "error", serr)
		}
		return err
	}
	if merr := e.state.MarkError(bg, d.SyncID, err); merr != nil {
		e.logger.Error(bg, "failed to record error", "sync_id", d.SyncID, "error", merr)
	}
	metrics.DocumentsPushed.WithLabelValues("error").Inc()
	e.event(bg, models.EventError, d.SyncID, fmt.Sprintf("%s: %v", op, err))
	e.logger.Error(bg, "push failed", "op", op, "sync_id", d.SyncID, "attempt", d.Attempts+1, "error", err)
	return fmt.Errorf("%s %s: %w", op, d.SyncID, err)
}

// PushPending pushes every document waiting for upload through BatchPut.
// One failing document never blocks the others.
func (e *Engine) PushPending(ctx context.Context) (PushReport, error) {
	docs, err := e.state.DocumentsNeedingUpload(ctx)
	if err != nil {
		return PushReport{}, err
	}
	var counter pushCounter
	var g errgroup.Group
	g.SetLimit(e.cfg.BatchParallelism)
	for start := 0; start < len(docs); start += e.cfg.BatchSize {
		batch := docs[start:min(start+e.cfg.BatchSize, len(docs))]
		g.Go(func() error {
			e.pushBatch(ctx, batch, &counter)
			return nil
		})
	}
	_ = g.Wait()
	if counter.r.Pushed+counter.r.Conflicts+counter.r.Failed > 0 {
		e.logger.Info(ctx, "push pass finished", "pushed", counter.r.Pushed, "conflicts", counter.r.Conflicts, "failed", counter.r.Failed)
	}
	return counter.r, ctx.Err()
}

func (e *Engine) pushBatch(ctx context.Context, batch []*models.Document, counter *pushCounter) {
	ids := make([]string, len(batch))
	for i, d := range batch {
		ids[i] = d.SyncID
	}
	unlock := e.locks.LockAll(ids)
	defer unlock()

	ready := make([]*models.Document, 0, len(batch))
	for _, d := range batch {
		if ctx.Err() != nil {
			return
		}
		cur, err := e.prepare(ctx, d)
		if err != nil {
			counter.add(func(r *PushReport) { r.Failed++ })
			continue
		}
		ready = append(ready, cur)
	}
	if len(ready) == 0 {
		return
	}

	items := make([]client.BatchItem, len(ready))
	for i, d := range ready {
		items[i] = client.BatchItem{Document: d}
		if d.RemoteExists {
			items[i].ExpectedVersion = d.Version
		}
	}
	results, err := retry.Do(ctx, e.retry, "batch_put", func(ctx context.Context) ([]client.BatchResult, error) {
		return e.docs.BatchPut(ctx, items)
	})
	if err == nil && len(results) != len(items) {
		err = fmt.Errorf("%w: sent %d, got %d", client.ErrBatchMismatch, len(items), len(results))
	}
	if err != nil {
		for _, d := range ready {
			_ = e.fail(ctx, d, "batch push", err)
		}
		counter.add(func(r *PushReport) { r.Failed += len(ready) })
		return
	}

	for i, res := range results {
		d := ready[i]
		if res.SyncID != "" && res.SyncID != d.SyncID {
			_ = e.fail(ctx, d, "batch push", client.ErrBatchMismatch)
			counter.add(func(r *PushReport) { r.Failed++ })
			continue
		}
		if res.Err == nil {
			if err := e.synced(ctx, d, res.Document); err != nil {
				e.logger.Error(ctx, "failed to mark document synced", "sync_id", d.SyncID, "error", err)
				counter.add(func(r *PushReport) { r.Failed++ })
				continue
			}
			counter.add(func(r *PushReport) { r.Pushed++ })
			continue
		}
		out, _ := e.handleWriteError(ctx, d, res.Err)
		switch out {
		case outcomeSynced:
			counter.add(func(r *PushReport) { r.Pushed++ })
		case outcomeConflict, outcomeLocalWins:
			counter.add(func(r *PushReport) { r.Conflicts++ })
		default:
			counter.add(func(r *PushReport) { r.Failed++ })
		}
	}
}
