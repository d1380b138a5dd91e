package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/docsync/internal/client/models"
	"github.com/dmitrijs2005/docsync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_CreateUpdateConflict(t *testing.T) {
	b := NewMemoryBackend()
	s := b.ForOwner("u1")
	ctx := context.Background()

	d := models.NewDocument("passport", "id", "", time.Now())
	d.Attachments = []models.FileAttachment{
		{FileName: "up.pdf", RemoteKey: "users/u1/documents/x/1-up.pdf", LocalPath: "/local/up.pdf"},
		{FileName: "local.pdf", LocalPath: "/local/local.pdf"},
	}

	created, err := s.Create(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)
	assert.True(t, created.RemoteExists)
	require.Len(t, created.Attachments, 1)
	assert.Empty(t, created.Attachments[0].LocalPath)

	_, err = s.Create(ctx, d)
	require.ErrorIs(t, err, common.ErrAlreadyExists)

	d.Title = "passport v2"
	updated, err := s.Update(ctx, d, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	_, err = s.Update(ctx, d, 1)
	var vc *common.VersionConflictError
	require.ErrorAs(t, err, &vc)
	require.ErrorIs(t, err, common.ErrVersionConflict)
	assert.Equal(t, int64(2), vc.RemoteVersion)
	assert.Equal(t, "passport v2", vc.Remote.(*models.Document).Title)
}

func TestMemoryStore_OwnerIsolationAndSoftDelete(t *testing.T) {
	b := NewMemoryBackend()
	mine, theirs := b.ForOwner("u1"), b.ForOwner("u2")
	ctx := context.Background()

	d := models.NewDocument("a", "", "", time.Now())
	_, err := mine.Create(ctx, d)
	require.NoError(t, err)

	_, err = theirs.Get(ctx, d.SyncID)
	require.ErrorIs(t, err, common.ErrNotFound)

	gone, err := mine.SoftDelete(ctx, d.SyncID, 1)
	require.NoError(t, err)
	assert.True(t, gone.Deleted)
	assert.Equal(t, int64(2), gone.Version)

	live, err := mine.List(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, live)

	all, err := mine.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestMemoryStore_BatchPutIndependentItems(t *testing.T) {
	b := NewMemoryBackend()
	s := b.ForOwner("u1")
	ctx := context.Background()

	existing := models.NewDocument("existing", "", "", time.Now())
	_, err := s.Create(ctx, existing)
	require.NoError(t, err)

	fresh := models.NewDocument("fresh", "", "", time.Now())
	res, err := s.BatchPut(ctx, []BatchItem{
		{Document: existing, ExpectedVersion: 7},
		{Document: fresh},
	})
	require.NoError(t, err)
	require.Len(t, res, 2)
	require.ErrorIs(t, res[0].Err, common.ErrVersionConflict)
	require.NoError(t, res[1].Err)
	assert.Equal(t, int64(1), res[1].Document.Version)
}

func TestMemoryStore_FaultAndSubscribe(t *testing.T) {
	b := NewMemoryBackend()
	s := b.ForOwner("u1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := s.Subscribe(ctx)
	require.NoError(t, err)

	d := models.NewDocument("a", "", "", time.Now())
	_, err = s.Create(ctx, d)
	require.NoError(t, err)

	select {
	case e := <-events:
		assert.Equal(t, d.SyncID, e.SyncID)
		assert.Equal(t, int64(1), e.Version)
	case <-time.After(time.Second):
		t.Fatal("no change event")
	}

	boom := errors.New("boom")
	b.SetFault(func(op string) error {
		if op == "list" {
			return boom
		}
		return nil
	})
	_, err = s.List(ctx, true)
	require.ErrorIs(t, err, boom)

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-events
		return !ok
	}, time.Second, 10*time.Millisecond)
}
