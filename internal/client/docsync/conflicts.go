package docsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/docsync/internal/client/models"
	"github.com/dmitrijs2005/docsync/internal/common"
)

const copySuffix = " (conflicted copy)"

// autoResolution applies the configured policy.
func (e *Engine) autoResolution(local, remote *models.Document) (models.Resolution, bool) {
	switch e.cfg.Policy {
	case PolicyLocalWins:
		return models.ResolutionLocalWins, true
	case PolicyRemoteWins:
		return models.ResolutionRemoteWins, true
	case PolicyLastWriteWins:
		if local.UpdatedAt.After(remote.UpdatedAt) {
			return models.ResolutionLocalWins, true
		}
		return models.ResolutionRemoteWins, true
	default:
		return "", false
	}
}

// ResolveConflict settles a stored conflict and discards it.
func (e *Engine) ResolveConflict(ctx context.Context, conflictID string, resolution models.Resolution) error {
	c, err := e.state.Conflict(ctx, conflictID)
	if err != nil {
		return err
	}
	unlock := e.locks.Lock(c.SyncID)
	defer unlock()
	return e.resolve(ctx, c, resolution)
}

// resolve must be called with the document lock held.
func (e *Engine) resolve(ctx context.Context, c *models.Conflict, resolution models.Resolution) error {
	var err error
	switch resolution {
	case models.ResolutionLocalWins:
		err = e.state.AdoptRemoteVersion(ctx, c.ID, c.Remote.Version)
	case models.ResolutionRemoteWins:
		err = e.takeRemote(ctx, c, true)
	case models.ResolutionKeepBoth:
		// the copy may reference cached files, so they stay on disk
		if err = e.saveCopy(ctx, &c.Local); err == nil {
			err = e.takeRemote(ctx, c, false)
		}
	default:
		return &common.ValidationError{Field: "resolution", Reason: fmt.Sprintf("unknown resolution %q", resolution)}
	}
	if err != nil {
		return fmt.Errorf("resolve conflict %s: %w", c.ID, err)
	}
	e.event(ctx, models.EventConflict, c.SyncID, "resolved: "+string(resolution))
	e.logger.Info(ctx, "conflict resolved", "sync_id", c.SyncID, "resolution", resolution)
	return nil
}

func (e *Engine) takeRemote(ctx context.Context, c *models.Conflict, dropFiles bool) error {
	dropped, err := e.state.ReplaceWithRemote(ctx, &c.Remote)
	if err != nil {
		return err
	}
	for _, a := range dropped {
		if dropFiles {
			e.files.DropLocal(ctx, a.RemoteKey)
		}
	}
	if err := e.state.DiscardConflict(ctx, c.ID); err != nil && !errors.Is(err, common.ErrNotFound) {
		return err
	}
	return nil
}

// saveCopy stores the local side of a conflict as a new document. Only
// attachments with a local file are carried over; they upload with the copy.
func (e *Engine) saveCopy(ctx context.Context, local *models.Document) error {
	cp := models.NewDocument(local.Title, local.Category, local.Notes, local.UpdatedAt)
	if len(cp.Title)+len(copySuffix) <= models.MaxTitleLength {
		cp.Title += copySuffix
	}
	cp.Metadata = append([]models.Metadata(nil), local.Metadata...)
	if err := e.state.SaveLocal(ctx, cp); err != nil {
		return err
	}
	for _, a := range local.Attachments {
		if a.LocalPath == "" {
			continue
		}
		copyAtt := &models.FileAttachment{SyncID: cp.SyncID, FileName: a.FileName, LocalPath: a.LocalPath, FileSize: a.FileSize, Checksum: a.Checksum}
		if _, err := e.state.AddAttachment(ctx, copyAtt); err != nil {
			return err
		}
	}
	e.logger.Info(ctx, "kept local side as a copy", "sync_id", local.SyncID, "copy_sync_id", cp.SyncID)
	return nil
}
