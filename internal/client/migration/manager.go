package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/docsync/internal/client/filesync"
	"github.com/dmitrijs2005/docsync/internal/client/identity"
	"github.com/dmitrijs2005/docsync/internal/client/models"
	"github.com/dmitrijs2005/docsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/docsync/internal/client/storagepath"
	"github.com/dmitrijs2005/docsync/internal/client/syncstate"
	"github.com/dmitrijs2005/docsync/internal/common"
	"github.com/dmitrijs2005/docsync/internal/logging"
)

// Files is the part of the file sync engine migration needs.
type Files interface {
	Copy(ctx context.Context, src, dst string) error
	Exists(ctx context.Context, remoteKey string) (bool, error)
	Delete(ctx context.Context, remoteKey string) error
}

type IdentitySource interface {
	CurrentIdentity(ctx context.Context) (identity.Identity, error)
}

type Manager struct {
	state  *syncstate.Manager
	meta   metadata.Repository
	files  Files
	paths  *storagepath.Generator
	id     IdentitySource
	logger logging.Logger
	now    func() time.Time

	mu      sync.Mutex
	records map[int64]*models.MigrationRecord
}

func NewManager(state *syncstate.Manager, meta metadata.Repository, files Files, paths *storagepath.Generator, id IdentitySource, logger logging.Logger) *Manager {
	return &Manager{
		state:   state,
		meta:    meta,
		files:   files,
		paths:   paths,
		id:      id,
		logger:  logger.With("module", "migration"),
		now:     func() time.Time { return time.Now().UTC() },
		records: make(map[int64]*models.MigrationRecord),
	}
}

func doneKey(stableID string) string { return metadata.KeyMigrationDone + ":" + stableID }

func (m *Manager) done(ctx context.Context, stableID string) (bool, error) {
	v, err := m.meta.Get(ctx, doneKey(stableID))
	if err != nil {
		return false, fmt.Errorf("failed to read migration flag: %w", err)
	}
	return v != nil, nil
}

// legacyAttachments returns uploaded attachments whose keys still use the
// display-name layout of id.
func (m *Manager) legacyAttachments(ctx context.Context, id identity.Identity) ([]models.FileAttachment, error) {
	all, err := m.state.UploadedAttachments(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.FileAttachment
	for _, a := range all {
		if storagepath.IsLegacy(a.RemoteKey, id.DisplayName) {
			out = append(out, a)
		}
	}
	return out, nil
}

// NeedsMigration reports whether the signed-in user has legacy keys left
// and migration has not completed for them yet.
func (m *Manager) NeedsMigration(ctx context.Context) (bool, error) {
	id, err := m.id.CurrentIdentity(ctx)
	if err != nil {
		return false, err
	}
	if ok, err := m.done(ctx, id.StableID); err != nil || ok {
		return false, err
	}
	legacy, err := m.legacyAttachments(ctx, id)
	if err != nil {
		return false, err
	}
	return len(legacy) > 0, nil
}

// Migrate copies every legacy attachment to its stable key and repoints the
// local row. Failures are counted and left for the next run. Once a run
// finishes without failures the user is marked as migrated and later runs
// return immediately unless force is set.
func (m *Manager) Migrate(ctx context.Context, force bool) (models.MigrationResult, error) {
	start := m.now()
	var res models.MigrationResult

	id, err := m.id.CurrentIdentity(ctx)
	if err != nil {
		return res, err
	}
	if !force {
		if ok, err := m.done(ctx, id.StableID); err != nil || ok {
			return res, err
		}
	}
	legacy, err := m.legacyAttachments(ctx, id)
	if err != nil {
		return res, err
	}
	res.TotalFiles = len(legacy)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(filesync.DefaultWindow)
	for _, a := range legacy {
		g.Go(func() error {
			status, err := m.migrateOne(gctx, id, a, force)
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			mu.Lock()
			switch status {
			case models.MigrationMigrated:
				res.MigratedFiles++
			case models.MigrationSkipped:
				res.SkippedFiles++
			default:
				res.FailedFiles++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	res.Duration = m.now().Sub(start)

	if res.FailedFiles == 0 {
		if err := m.meta.Set(ctx, doneKey(id.StableID), []byte(m.now().Format(time.RFC3339))); err != nil {
			return res, fmt.Errorf("failed to store migration flag: %w", err)
		}
	}
	m.saveResult(ctx, res)
	if res.TotalFiles > 0 {
		m.logger.Info(ctx, "migration finished", "total", res.TotalFiles, "migrated", res.MigratedFiles,
			"skipped", res.SkippedFiles, "failed", res.FailedFiles, "seconds", res.DurationSeconds())
		m.state.RecordEvent(ctx, models.SyncEvent{
			Type:    models.EventMigration,
			Message: fmt.Sprintf("%d migrated, %d skipped, %d failed", res.MigratedFiles, res.SkippedFiles, res.FailedFiles),
		})
	}
	return res, nil
}

// migrateOne never deletes the legacy object. An object already present at
// the new key, or one this process copied before, is not copied again.
func (m *Manager) migrateOne(ctx context.Context, id identity.Identity, a models.FileAttachment, force bool) (models.MigrationStatus, error) {
	rec := &models.MigrationRecord{AttachmentID: a.ID, SyncID: a.SyncID, LegacyKey: a.RemoteKey}
	fail := func(err error) (models.MigrationStatus, error) {
		rec.Status, rec.Err, rec.At = models.MigrationFailed, err.Error(), m.now()
		m.remember(rec)
		m.logger.Warn(ctx, "failed to migrate attachment", "op", "migrate", "sync_id", a.SyncID, "key", a.RemoteKey, "error", err)
		return models.MigrationFailed, err
	}

	newKey, err := m.paths.Generate(id.StableID, a.SyncID, a.FileName, a.Disambiguator())
	if err != nil {
		return fail(err)
	}
	rec.NewKey = newKey

	status := models.MigrationMigrated
	if prev := m.record(a.ID); !force && prev != nil && prev.Status == models.MigrationMigrated && prev.NewKey == newKey {
		status = models.MigrationSkipped
	} else {
		exists, err := m.files.Exists(ctx, newKey)
		if err != nil {
			return fail(err)
		}
		if exists && !force {
			status = models.MigrationSkipped
		} else if err := m.files.Copy(ctx, a.RemoteKey, newKey); err != nil {
			return fail(err)
		}
	}
	// the copy is recorded before the row changes so a failed update does
	// not copy again
	rec.Status, rec.At = models.MigrationMigrated, m.now()
	m.remember(rec)

	if err := m.state.UpdateAttachmentKeys(ctx, a.ID, newKey, a.RemoteKey); err != nil {
		return fail(err)
	}
	if err := m.queue(ctx, a.SyncID); err != nil {
		return fail(err)
	}
	m.logger.Debug(ctx, "attachment migrated", "sync_id", a.SyncID, "from", a.RemoteKey, "to", newKey, "status", status)
	return status, nil
}

// queue marks a synced document for upload so the remote copy learns the
// new keys. Documents in other states pick them up with their next push.
func (m *Manager) queue(ctx context.Context, syncID string) error {
	d, err := m.state.Document(ctx, syncID)
	if err != nil {
		return err
	}
	if d.SyncState != models.StateSynced {
		return nil
	}
	return m.state.SetState(ctx, syncID, models.StatePendingUpload)
}

func (m *Manager) record(id int64) *models.MigrationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[id]; ok {
		c := *r
		return &c
	}
	return nil
}

func (m *Manager) remember(r *models.MigrationRecord) {
	m.mu.Lock()
	c := *r
	m.records[r.AttachmentID] = &c
	m.mu.Unlock()
}

// Records returns the attempts made by this process, by attachment id.
func (m *Manager) Records() []models.MigrationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.MigrationRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, *r)
	}
	return out
}

func (m *Manager) saveResult(ctx context.Context, res models.MigrationResult) {
	b, err := json.Marshal(res)
	if err == nil {
		err = m.meta.Set(ctx, metadata.KeyMigrationState, b)
	}
	if err != nil {
		m.logger.Warn(ctx, "failed to store migration result", "error", err)
	}
}

// LastResult returns the summary of the most recent run, or nil.
func (m *Manager) LastResult(ctx context.Context) (*models.MigrationResult, error) {
	b, err := m.meta.Get(ctx, metadata.KeyMigrationState)
	if err != nil || b == nil {
		return nil, err
	}
	var res models.MigrationResult
	if err := json.Unmarshal(b, &res); err != nil {
		return nil, fmt.Errorf("failed to decode migration result: %w", err)
	}
	return &res, nil
}

// Rollback points an attachment back at its legacy key. The user is no
// longer considered migrated.
func (m *Manager) Rollback(ctx context.Context, attachmentID int64) error {
	a, err := m.state.Attachment(ctx, attachmentID)
	if err != nil {
		return err
	}
	if a.LegacyKey == "" {
		return &common.ValidationError{Field: "attachment", Reason: "has no legacy key to roll back to"}
	}
	return m.rollback(ctx, *a)
}

func (m *Manager) rollback(ctx context.Context, a models.FileAttachment) error {
	id, err := m.id.CurrentIdentity(ctx)
	if err != nil {
		return err
	}
	if err := m.state.UpdateAttachmentKeys(ctx, a.ID, a.LegacyKey, ""); err != nil {
		return err
	}
	if err := m.queue(ctx, a.SyncID); err != nil {
		return err
	}
	if err := m.meta.Delete(ctx, doneKey(id.StableID)); err != nil {
		return fmt.Errorf("failed to clear migration flag: %w", err)
	}
	m.mu.Lock()
	delete(m.records, a.ID)
	m.mu.Unlock()
	m.logger.Info(ctx, "attachment rolled back", "sync_id", a.SyncID, "key", a.LegacyKey)
	return nil
}

// RollbackAll rolls back every attachment that still remembers a legacy
// key and returns how many were rolled back.
func (m *Manager) RollbackAll(ctx context.Context) (int, error) {
	all, err := m.state.UploadedAttachments(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	var errs []error
	for _, a := range all {
		if a.LegacyKey == "" {
			continue
		}
		if err := m.rollback(ctx, a); err != nil {
			errs = append(errs, fmt.Errorf("attachment %d: %w", a.ID, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Cleanup deletes legacy objects whose document has been pushed with the
// new key and whose new object exists. It returns how many were deleted.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	all, err := m.state.UploadedAttachments(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	var errs []error
	for _, a := range all {
		if a.LegacyKey == "" {
			continue
		}
		d, err := m.state.Document(ctx, a.SyncID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if d.SyncState != models.StateSynced {
			continue
		}
		ok, err := m.files.Exists(ctx, a.RemoteKey)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			m.logger.Warn(ctx, "new key missing, keeping legacy object", "sync_id", a.SyncID, "key", a.RemoteKey, "legacy", a.LegacyKey)
			continue
		}
		if err := m.files.Delete(ctx, a.LegacyKey); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", a.LegacyKey, err))
			continue
		}
		if err := m.state.UpdateAttachmentKeys(ctx, a.ID, a.RemoteKey, ""); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	if n > 0 {
		m.logger.Info(ctx, "legacy objects removed", "count", n)
	}
	return n, errors.Join(errs...)
}

// FallbackKey returns the legacy key a migrated remoteKey was copied from,
// or "" when there is none.
func (m *Manager) FallbackKey(ctx context.Context, remoteKey string) (string, error) {
	m.mu.Lock()
	for _, r := range m.records {
		if r.NewKey == remoteKey && r.LegacyKey != "" {
			m.mu.Unlock()
			return r.LegacyKey, nil
		}
	}
	m.mu.Unlock()

	all, err := m.state.UploadedAttachments(ctx)
	if err != nil {
		return "", err
	}
	for _, a := range all {
		if a.RemoteKey == remoteKey {
			return a.LegacyKey, nil
		}
	}
	return "", nil
}
