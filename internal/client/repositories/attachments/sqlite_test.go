package attachments

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/dmitrijs2005/docsync/internal/client/migrations"
	"github.com/dmitrijs2005/docsync/internal/client/models"
	"github.com/dmitrijs2005/docsync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.Up(context.Background(), db))
	return db
}

func att(syncID, name string, addedAt time.Time) *models.FileAttachment {
	return &models.FileAttachment{
		SyncID:    syncID,
		FileName:  name,
		LocalPath: "/tmp/" + name,
		FileSize:  10,
		Checksum:  "abc",
		AddedAt:   addedAt,
		SyncState: models.StatePendingUpload,
	}
}

func TestAddGet(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	at := time.UnixMilli(1_700_000_000_000).UTC()
	a := att("doc-1", "scan.pdf", at)
	id, err := r.Add(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, id, a.ID)

	got, err := r.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, *a, *got)
	assert.Equal(t, at.UnixMilli(), got.Disambiguator())
}

func TestAdd_DuplicateName(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	_, err := r.Add(ctx, att("doc-1", "scan.pdf", time.Now()))
	require.NoError(t, err)
	_, err = r.Add(ctx, att("doc-1", "scan.pdf", time.Now()))
	require.ErrorIs(t, err, common.ErrAlreadyExists)

	_, err = r.Add(ctx, att("doc-2", "scan.pdf", time.Now()))
	require.NoError(t, err)
}

func TestGet_NotFound(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	_, err := r.Get(context.Background(), 42)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestUpdateAndSelectors(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	base := time.Now()
	a := att("doc-1", "a.pdf", base)
	b := att("doc-1", "b.pdf", base.Add(time.Second))
	c := att("doc-2", "c.pdf", base.Add(2*time.Second))
	for _, x := range []*models.FileAttachment{a, b, c} {
		_, err := r.Add(ctx, x)
		require.NoError(t, err)
	}

	a.RemoteKey = "users/u/documents/doc-1/1-a.pdf"
	a.SyncState = models.StateSynced
	require.NoError(t, r.Update(ctx, a))

	list, err := r.ListBySyncID(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a.pdf", list[0].FileName)

	pending, err := r.ListByStates(ctx, models.StatePendingUpload)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	up, err := r.ListUploaded(ctx)
	require.NoError(t, err)
	require.Len(t, up, 1)
	assert.Equal(t, a.RemoteKey, up[0].RemoteKey)

	a.ID = 999
	require.ErrorIs(t, r.Update(ctx, a), common.ErrNotFound)
}

func TestDeleteAndReset(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	a := att("doc-1", "a.pdf", time.Now())
	a.SyncState = models.StateDownloading
	id, err := r.Add(ctx, a)
	require.NoError(t, err)
	_, err = r.Add(ctx, att("doc-1", "b.pdf", time.Now()))
	require.NoError(t, err)

	n, err := r.ResetStates(ctx, models.StateDownloading, models.StatePendingDownload)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, r.Delete(ctx, id))
	list, err := r.ListBySyncID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, r.DeleteBySyncID(ctx, "doc-1"))
	list, err = r.ListBySyncID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, list)
}
