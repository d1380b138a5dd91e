package docsync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/docsync/internal/client/blob"
	"github.com/dmitrijs2005/docsync/internal/client/checksum"
	"github.com/dmitrijs2005/docsync/internal/client/client"
	"github.com/dmitrijs2005/docsync/internal/client/filesync"
	"github.com/dmitrijs2005/docsync/internal/client/identity"
	"github.com/dmitrijs2005/docsync/internal/client/migrations"
	"github.com/dmitrijs2005/docsync/internal/client/models"
	"github.com/dmitrijs2005/docsync/internal/client/repositories"
	"github.com/dmitrijs2005/docsync/internal/client/retry"
	"github.com/dmitrijs2005/docsync/internal/client/storagepath"
	"github.com/dmitrijs2005/docsync/internal/client/syncstate"
	"github.com/dmitrijs2005/docsync/internal/common"
	"github.com/dmitrijs2005/docsync/internal/logging"

	_ "modernc.org/sqlite"
)

type fakeIdentity struct{ id identity.Identity }

func (f fakeIdentity) CurrentIdentity(context.Context) (identity.Identity, error) { return f.id, nil }
func (f fakeIdentity) StableID(context.Context) (string, error)                   { return f.id.StableID, nil }

type fakeFallback map[string]string

func (f fakeFallback) FallbackKey(_ context.Context, key string) (string, error) {
	return f[key], nil
}

var alice = identity.Identity{StableID: "u-1", DisplayName: "Alice"}

type cloud struct {
	backend *client.MemoryBackend
	blobs   *blob.MemoryStore
}

func newCloud() *cloud {
	return &cloud{backend: client.NewMemoryBackend(), blobs: blob.NewMemoryStore()}
}

type device struct {
	t      *testing.T
	state  *syncstate.Manager
	files  *filesync.Engine
	engine *Engine
}

func newDevice(t *testing.T, c *cloud, cfg Config, opts ...Option) *device {
	t.Helper()
	return newDeviceWithStore(t, c, c.blobs, cfg, opts...)
}

// newDeviceWithStore lets a device reach the shared blobs through store.
func newDeviceWithStore(t *testing.T, c *cloud, store blob.ObjectStore, cfg Config, opts ...Option) *device {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.Up(context.Background(), db))

	repos := repositories.NewSQLiteManager()
	state := syncstate.NewManager(db, repos, logging.Nop())
	id := fakeIdentity{id: alice}
	paths := storagepath.New("")
	rm := retry.NewManager(retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, logging.Nop())
	files, err := filesync.New(filesync.Config{CacheDir: t.TempDir()}, store, paths, id, repos.Metadata(db), rm, logging.Nop())
	require.NoError(t, err)

	return &device{
		t:      t,
		state:  state,
		files:  files,
		engine: New(cfg, state, c.backend.ForOwner(alice.StableID), files, paths, id, rm, logging.Nop(), opts...),
	}
}

func (d *device) create(title string, attachments map[string]string) *models.Document {
	d.t.Helper()
	ctx := context.Background()
	doc := models.NewDocument(title, "identity", "", time.Now().UTC())
	require.NoError(d.t, d.state.SaveLocal(ctx, doc))
	dir := d.t.TempDir()
	for name, content := range attachments {
		p := filepath.Join(dir, name)
		require.NoError(d.t, os.WriteFile(p, []byte(content), 0o600))
		_, err := d.state.AddAttachment(ctx, &models.FileAttachment{SyncID: doc.SyncID, FileName: name, LocalPath: p})
		require.NoError(d.t, err)
	}
	return doc
}

func (d *device) edit(syncID, title string) {
	d.t.Helper()
	doc := d.get(syncID)
	doc.Title = title
	require.NoError(d.t, d.state.SaveLocal(context.Background(), doc))
}

func (d *device) get(syncID string) *models.Document {
	d.t.Helper()
	doc, err := d.state.Document(context.Background(), syncID)
	require.NoError(d.t, err)
	return doc
}

func TestPushThenPull_MovesDocumentAndFilesBetweenDevices(t *testing.T) {
	c := newCloud()
	a, b := newDevice(t, c, Config{}), newDevice(t, c, Config{})
	ctx := context.Background()

	doc := a.create("passport", map[string]string{"scan.txt": "page one"})
	require.NoError(t, a.engine.Push(ctx, doc.SyncID))

	pushed := a.get(doc.SyncID)
	assert.Equal(t, models.StateSynced, pushed.SyncState)
	assert.Equal(t, int64(1), pushed.Version)
	require.Len(t, pushed.Attachments, 1)
	assert.True(t, strings.HasPrefix(pushed.Attachments[0].RemoteKey, "users/u-1/documents/"+doc.SyncID+"/"))

	rep, err := b.engine.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Applied)
	assert.Equal(t, models.StatePendingDownload, b.get(doc.SyncID).SyncState)

	n, err := b.engine.DownloadPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := b.get(doc.SyncID)
	assert.Equal(t, models.StateSynced, got.SyncState)
	assert.Equal(t, "passport", got.Title)
	data, err := os.ReadFile(got.Attachments[0].LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "page one", string(data))

	rep, err = b.engine.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Unchanged, "equal versions are left alone")
}

func TestTwoDevices_ConcurrentEditsBecomeConflict(t *testing.T) {
	c := newCloud()
	a, b := newDevice(t, c, Config{}), newDevice(t, c, Config{})
	ctx := context.Background()

	doc := a.create("lease", nil)
	require.NoError(t, a.engine.Push(ctx, doc.SyncID))
	_, err := b.engine.Pull(ctx)
	require.NoError(t, err)

	a.edit(doc.SyncID, "lease (a)")
	b.edit(doc.SyncID, "lease (b)")
	require.NoError(t, a.engine.Push(ctx, doc.SyncID))

	err = b.engine.Push(ctx, doc.SyncID)
	require.ErrorIs(t, err, common.ErrVersionConflict)

	local := b.get(doc.SyncID)
	assert.Equal(t, models.StateError, local.SyncState)
	assert.Equal(t, "lease (b)", local.Title, "local edits are kept")

	conflicts, err := b.state.Conflicts(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "lease (a)", conflicts[0].Remote.Title)
	assert.Equal(t, int64(2), conflicts[0].Remote.Version)

	rep, err := b.engine.PushPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, PushReport{}, rep, "documents with open conflicts wait for resolution")
	require.ErrorIs(t, b.engine.Push(ctx, doc.SyncID), ErrConflictPending)

	require.NoError(t, b.engine.ResolveConflict(ctx, conflicts[0].ID, models.ResolutionLocalWins))
	require.NoError(t, b.engine.Push(ctx, doc.SyncID))
	assert.Equal(t, int64(3), b.get(doc.SyncID).Version)

	_, err = a.engine.Pull(ctx)
	require.NoError(t, err)
	got := a.get(doc.SyncID)
	assert.Equal(t, "lease (b)", got.Title)
	assert.Equal(t, int64(3), got.Version)
}

func TestResolveConflict_KeepBoth(t *testing.T) {
	c := newCloud()
	a, b := newDevice(t, c, Config{}), newDevice(t, c, Config{})
	ctx := context.Background()

	doc := a.create("tax return", nil)
	require.NoError(t, a.engine.Push(ctx, doc.SyncID))
	_, err := b.engine.Pull(ctx)
	require.NoError(t, err)
	a.edit(doc.SyncID, "tax return 2024")
	require.NoError(t, a.engine.Push(ctx, doc.SyncID))
	b.edit(doc.SyncID, "tax return draft")

	rep, err := b.engine.Pull(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Conflicts)

	conflicts, err := b.state.Conflicts(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	require.NoError(t, b.engine.ResolveConflict(ctx, conflicts[0].ID, models.ResolutionKeepBoth))

	docs, err := b.state.Documents(ctx, false)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	titles := map[string]models.SyncState{}
	for _, d := range docs {
		titles[d.Title] = d.SyncState
	}
	assert.Equal(t, models.StateSynced, titles["tax return 2024"])
	assert.Equal(t, models.StatePendingUpload, titles["tax return draft"+copySuffix])

	conflicts, err = b.state.Conflicts(ctx)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestPull_RemoteWinsPolicyResolvesAutomatically(t *testing.T) {
	c := newCloud()
	a := newDevice(t, c, Config{})
	b := newDevice(t, c, Config{Policy: PolicyRemoteWins})
	ctx := context.Background()

	doc := a.create("insurance", nil)
	require.NoError(t, a.engine.Push(ctx, doc.SyncID))
	_, err := b.engine.Pull(ctx)
	require.NoError(t, err)
	a.edit(doc.SyncID, "insurance renewed")
	require.NoError(t, a.engine.Push(ctx, doc.SyncID))
	b.edit(doc.SyncID, "insurance (old)")

	rep, err := b.engine.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Conflicts)

	got := b.get(doc.SyncID)
	assert.Equal(t, "insurance renewed", got.Title)
	assert.Equal(t, models.StateSynced, got.SyncState)
	conflicts, err := b.state.Conflicts(ctx)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestPush_LocalWinsPolicyRepushesImmediately(t *testing.T) {
	c := newCloud()
	a := newDevice(t, c, Config{})
	b := newDevice(t, c, Config{Policy: PolicyLocalWins})
	ctx := context.Background()

	doc := a.create("will", nil)
	require.NoError(t, a.engine.Push(ctx, doc.SyncID))
	_, err := b.engine.Pull(ctx)
	require.NoError(t, err)
	a.edit(doc.SyncID, "will v2")
	require.NoError(t, a.engine.Push(ctx, doc.SyncID))
	b.edit(doc.SyncID, "will (mine)")

	require.NoError(t, b.engine.Push(ctx, doc.SyncID))
	remote, ok := c.backend.Document(alice.StableID, doc.SyncID)
	require.True(t, ok)
	assert.Equal(t, "will (mine)", remote.Title)
	assert.Equal(t, int64(3), remote.Version)
	assert.Equal(t, models.StateSynced, b.get(doc.SyncID).SyncState)
}

func TestPushPending_BatchesAndIsolatesFailures(t *testing.T) {
	c := newCloud()
	a := newDevice(t, c, Config{BatchSize: 25})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 30; i++ {
		ids = append(ids, a.create("doc", nil).SyncID)
	}
	dup := a.get(ids[7]).Clone()
	dup.Title = "created elsewhere"
	_, err := c.backend.ForOwner(alice.StableID).Create(ctx, dup)
	require.NoError(t, err)

	rep, err := a.engine.PushPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, PushReport{Pushed: 29, Conflicts: 1}, rep)

	for i, id := range ids {
		want := models.StateSynced
		if i == 7 {
			want = models.StateError
		}
		assert.Equal(t, want, a.get(id).SyncState, "document %d", i)
	}
}

func TestPushPending_SameContentDuplicateIsAdopted(t *testing.T) {
	c := newCloud()
	a := newDevice(t, c, Config{})
	ctx := context.Background()

	doc := a.create("receipt", nil)
	_, err := c.backend.ForOwner(alice.StableID).Create(ctx, a.get(doc.SyncID))
	require.NoError(t, err)

	rep, err := a.engine.PushPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, PushReport{Pushed: 1}, rep)
	got := a.get(doc.SyncID)
	assert.Equal(t, models.StateSynced, got.SyncState)
	assert.True(t, got.RemoteExists)
}

func TestPush_RetriesTransientStoreFailure(t *testing.T) {
	c := newCloud()
	a := newDevice(t, c, Config{})
	ctx := context.Background()
	failures := 1
	c.backend.SetFault(func(op string) error {
		if op == "create" && failures > 0 {
			failures--
			return client.ErrUnavailable
		}
		return nil
	})

	doc := a.create("visa", nil)
	require.NoError(t, a.engine.Push(ctx, doc.SyncID))
	assert.Equal(t, models.StateSynced, a.get(doc.SyncID).SyncState)
}

func TestPush_TerminalFailureMarksError(t *testing.T) {
	c := newCloud()
	a := newDevice(t, c, Config{})
	ctx := context.Background()
	c.backend.SetFault(func(op string) error {
		if op == "create" {
			return &common.ValidationError{Field: "title", Reason: "rejected"}
		}
		return nil
	})

	doc := a.create("visa", nil)
	require.ErrorIs(t, a.engine.Push(ctx, doc.SyncID), common.ErrValidation)
	got := a.get(doc.SyncID)
	assert.Equal(t, models.StateError, got.SyncState)
	assert.Equal(t, 1, got.Attempts)

	c.backend.SetFault(nil)
	rep, err := a.engine.PushPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Pushed, "failed documents are retried on the next pass")
}

func TestDelete_TombstoneReachesOtherDevice(t *testing.T) {
	c := newCloud()
	a, b := newDevice(t, c, Config{}), newDevice(t, c, Config{})
	ctx := context.Background()

	doc := a.create("old id card", map[string]string{"card.txt": "front"})
	require.NoError(t, a.engine.Push(ctx, doc.SyncID))
	_, err := b.engine.Pull(ctx)
	require.NoError(t, err)
	_, err = b.engine.DownloadPending(ctx)
	require.NoError(t, err)
	cached := b.get(doc.SyncID).Attachments[0].LocalPath

	require.NoError(t, a.engine.Delete(ctx, doc.SyncID))
	tomb := a.get(doc.SyncID)
	assert.True(t, tomb.Deleted)
	assert.Equal(t, models.StatePendingUpload, tomb.SyncState)

	require.NoError(t, a.engine.Push(ctx, doc.SyncID))
	remote, ok := c.backend.Document(alice.StableID, doc.SyncID)
	require.True(t, ok)
	assert.True(t, remote.Deleted)
	assert.Equal(t, int64(2), remote.Version)
	_, err = a.state.Document(ctx, doc.SyncID)
	require.ErrorIs(t, err, common.ErrNotFound)
	assert.Empty(t, c.blobs.Keys("users/u-1/"), "blobs of deleted documents are removed")

	rep, err := b.engine.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Removed)
	_, err = b.state.Document(ctx, doc.SyncID)
	require.ErrorIs(t, err, common.ErrNotFound)
	_, err = os.Stat(cached)
	assert.True(t, os.IsNotExist(err), "cached copy is dropped")
}

func TestDelete_NeverPushedDocumentDisappears(t *testing.T) {
	c := newCloud()
	a := newDevice(t, c, Config{})
	ctx := context.Background()
	doc := a.create("draft", nil)

	require.NoError(t, a.engine.Delete(ctx, doc.SyncID))
	_, err := a.state.Document(ctx, doc.SyncID)
	require.ErrorIs(t, err, common.ErrNotFound)
	_, ok := c.backend.Document(alice.StableID, doc.SyncID)
	assert.False(t, ok)
}

func TestRemoveAttachment_DeletesBlobAndQueuesDocument(t *testing.T) {
	c := newCloud()
	a := newDevice(t, c, Config{})
	ctx := context.Background()
	doc := a.create("contract", map[string]string{"page.txt": "1"})
	require.NoError(t, a.engine.Push(ctx, doc.SyncID))
	require.Len(t, c.blobs.Keys("users/u-1/"), 1)

	require.NoError(t, a.engine.RemoveAttachment(ctx, doc.SyncID, "page.txt"))
	assert.Empty(t, c.blobs.Keys("users/u-1/"))
	assert.Equal(t, models.StatePendingUpload, a.get(doc.SyncID).SyncState)

	require.NoError(t, a.engine.Push(ctx, doc.SyncID))
	remote, ok := c.backend.Document(alice.StableID, doc.SyncID)
	require.True(t, ok)
	assert.Empty(t, remote.Attachments)

	require.ErrorIs(t, a.engine.RemoveAttachment(ctx, doc.SyncID, "page.txt"), common.ErrNotFound)
}

func TestPull_RejectsForeignKeys(t *testing.T) {
	c := newCloud()
	b := newDevice(t, c, Config{})
	ctx := context.Background()

	doc := models.NewDocument("planted", "", "", time.Now().UTC())
	doc.Attachments = []models.FileAttachment{{FileName: "a.txt", RemoteKey: "users/mallory/documents/" + doc.SyncID + "/1-a.txt"}}
	_, err := c.backend.ForOwner(alice.StableID).Create(ctx, doc)
	require.NoError(t, err)

	rep, err := b.engine.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Rejected)
	got := b.get(doc.SyncID)
	assert.Empty(t, got.Attachments)
	assert.Equal(t, models.StateSynced, got.SyncState)
}

func TestDownloadPending_FallsBackToLegacyKey(t *testing.T) {
	c := newCloud()
	ctx := context.Background()

	doc := models.NewDocument("migrated", "", "", time.Now().UTC())
	newKey := "users/u-1/documents/" + doc.SyncID + "/5-a.txt"
	legacyKey := "documents/alice/" + doc.SyncID + "/a.txt"
	content := "legacy bytes"
	body := strings.NewReader(content)
	require.NoError(t, c.blobs.Put(ctx, legacyKey, body, body.Size(), blob.PutOptions{}))
	doc.Attachments = []models.FileAttachment{{
		FileName: "a.txt", RemoteKey: newKey, FileSize: int64(len(content)), Checksum: checksum.SumBytes([]byte(content)),
	}}
	_, err := c.backend.ForOwner(alice.StableID).Create(ctx, doc)
	require.NoError(t, err)

	b := newDevice(t, c, Config{}, WithFallback(fakeFallback{newKey: legacyKey}))
	_, err = b.engine.Pull(ctx)
	require.NoError(t, err)
	n, err := b.engine.DownloadPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.StateSynced, b.get(doc.SyncID).SyncState)
}

// slowGets holds every Get for a moment and records how many overlap.
type slowGets struct {
	*blob.MemoryStore
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *slowGets) Get(ctx context.Context, key string, w io.Writer) (blob.ObjectInfo, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(30 * time.Millisecond)
	return s.MemoryStore.Get(ctx, key, w)
}

func TestDownloadPending_OverlapsTransfersUpToWindow(t *testing.T) {
	c := newCloud()
	a := newDevice(t, c, Config{})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		doc := a.create(fmt.Sprintf("doc %d", i), map[string]string{
			"front.txt": fmt.Sprintf("front %d", i),
			"back.txt":  fmt.Sprintf("back %d", i),
		})
		require.NoError(t, a.engine.Push(ctx, doc.SyncID))
		ids = append(ids, doc.SyncID)
	}

	store := &slowGets{MemoryStore: c.blobs}
	b := newDeviceWithStore(t, c, store, Config{})
	_, err := b.engine.Pull(ctx)
	require.NoError(t, err)

	n, err := b.engine.DownloadPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, int32(filesync.DefaultWindow), store.peak.Load())
	for _, id := range ids {
		assert.Equal(t, models.StateSynced, b.get(id).SyncState)
	}
}

func TestDownloadPending_FailureMarksDocumentAndRecovers(t *testing.T) {
	c := newCloud()
	a := newDevice(t, c, Config{})
	ctx := context.Background()
	doc := a.create("visa", map[string]string{"visa.txt": "stamp"})
	require.NoError(t, a.engine.Push(ctx, doc.SyncID))

	b := newDevice(t, c, Config{})
	_, err := b.engine.Pull(ctx)
	require.NoError(t, err)

	var seen []models.SyncState
	c.blobs.SetFault(func(op blob.Op, _ string) error {
		if op != blob.OpGet {
			return nil
		}
		if d, err := b.state.Document(context.Background(), doc.SyncID); err == nil {
			seen = append(seen, d.SyncState, d.Attachments[0].SyncState)
		}
		return errors.New("access denied")
	})
	n, err := b.engine.DownloadPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []models.SyncState{models.StateDownloading, models.StateDownloading}, seen)

	failed := b.get(doc.SyncID)
	assert.Equal(t, models.StateError, failed.SyncState)
	assert.Contains(t, failed.LastError, "access denied")
	assert.Equal(t, models.StateError, failed.Attachments[0].SyncState)
	rep, err := b.engine.PushPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Pushed, "nothing local to push after a failed download")

	c.blobs.SetFault(nil)
	n, err = b.engine.DownloadPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got := b.get(doc.SyncID)
	assert.Equal(t, models.StateSynced, got.SyncState)
	assert.Empty(t, got.LastError)
}

func TestAutoResolution_LastWriteWins(t *testing.T) {
	e := &Engine{cfg: Config{Policy: PolicyLastWriteWins}}
	older := &models.Document{UpdatedAt: time.Unix(100, 0)}
	newer := &models.Document{UpdatedAt: time.Unix(200, 0)}

	res, ok := e.autoResolution(newer, older)
	require.True(t, ok)
	assert.Equal(t, models.ResolutionLocalWins, res)
	res, _ = e.autoResolution(older, newer)
	assert.Equal(t, models.ResolutionRemoteWins, res)

	e.cfg.Policy = PolicyManual
	_, ok = e.autoResolution(newer, older)
	assert.False(t, ok)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyManual, p)
	p, err = ParsePolicy("lastWriteWins")
	require.NoError(t, err)
	assert.Equal(t, PolicyLastWriteWins, p)
	_, err = ParsePolicy("coinFlip")
	require.Error(t, err)
}

func TestKeyedMutex_SerializesAndCleansUp(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.LockAll([]string{"b", "a", "b"})
	acquired := make(chan struct{})
	go func() {
		u := k.Lock("a")
		close(acquired)
		u()
	}()
	select {
	case <-acquired:
		t.Fatal("lock on a was not held")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	<-acquired
	assert.Eventually(t, func() bool { return k.size() == 0 }, time.Second, 5*time.Millisecond)
}
