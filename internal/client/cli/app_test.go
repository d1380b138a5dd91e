package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/docsync/internal/client/client"
	"github.com/dmitrijs2005/docsync/internal/client/config"
	"github.com/dmitrijs2005/docsync/internal/client/models"
	"github.com/dmitrijs2005/docsync/internal/logging"
)

func stubPassword(t *testing.T, pw string) {
	t.Helper()
	old := readPassword
	readPassword = func(int) ([]byte, error) { return []byte(pw), nil }
	t.Cleanup(func() { readPassword = old })
}

func newLocalApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.Offline = true
	cfg.DataDir = t.TempDir()
	cfg.SyncInterval = time.Hour
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	require.NoError(t, cfg.Validate())

	var out bytes.Buffer
	a, err := NewApp(context.Background(), cfg, logging.Nop(), strings.NewReader(""), &out)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, &out
}

func loginAs(t *testing.T, a *App, user string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, a.Register(ctx, []string{user}))
	require.NoError(t, a.Login(ctx, []string{user}))
	require.True(t, a.isLoggedIn())
}

func addDocument(t *testing.T, a *App, title string) string {
	t.Helper()
	a.reader = rdr(script("ids", "first line", "", "country=LV", ""))
	require.NoError(t, a.Add(context.Background(), []string{title}))
	docs, err := a.state.Documents(context.Background(), false)
	require.NoError(t, err)
	for _, d := range docs {
		if d.Title == title {
			return d.SyncID
		}
	}
	t.Fatalf("document %q not stored", title)
	return ""
}

func waitSynced(t *testing.T, a *App, syncID string) *models.Document {
	t.Helper()
	ctx := context.Background()
	var d *models.Document
	require.Eventually(t, func() bool {
		_ = a.Sync(ctx, nil)
		var err error
		d, err = a.state.Document(ctx, syncID)
		return err == nil && d.SyncState == models.StateSynced
	}, 5*time.Second, 20*time.Millisecond)
	return d
}

func TestApp_RegisterLoginAddSync(t *testing.T) {
	stubPassword(t, "secret")
	a, out := newLocalApp(t)
	ctx := context.Background()

	loginAs(t, a, "alice")
	assert.Equal(t, "alice local", a.status())

	id := addDocument(t, a, "Passport")
	d := waitSynced(t, a, id)
	assert.Equal(t, int64(1), d.Version)
	assert.Equal(t, "ids", d.Category)
	assert.Equal(t, "first line", d.Notes)
	assert.Equal(t, []models.Metadata{{Name: "country", Value: "LV"}}, d.Metadata)

	out.Reset()
	require.NoError(t, a.List(ctx, nil))
	assert.Contains(t, out.String(), "Passport")
	assert.Contains(t, out.String(), "synced")

	out.Reset()
	require.NoError(t, a.Status(ctx, nil))
	assert.Contains(t, out.String(), "Documents: 1 total, 1 synced, 0 conflicts")
	assert.Contains(t, out.String(), "Last sync:")
	assert.NotContains(t, out.String(), "Resumable:")

	out.Reset()
	require.NoError(t, a.Events(ctx, []string{"5"}))
	assert.Contains(t, out.String(), "push")

	require.NoError(t, a.Logout(ctx, nil))
	assert.False(t, a.isLoggedIn())
	assert.Equal(t, "not logged in", a.status())
}

func TestApp_EditAndDelete(t *testing.T) {
	stubPassword(t, "secret")
	a, out := newLocalApp(t)
	ctx := context.Background()
	loginAs(t, a, "alice")

	id := addDocument(t, a, "Visa")
	waitSynced(t, a, id)

	a.reader = rdr(script("Visa 2026", "", ""))
	require.NoError(t, a.Edit(ctx, []string{id}))
	d := waitSynced(t, a, id)
	assert.Equal(t, "Visa 2026", d.Title)
	assert.Equal(t, "ids", d.Category)
	assert.Equal(t, int64(2), d.Version)

	out.Reset()
	require.NoError(t, a.Show(ctx, []string{id}))
	assert.Contains(t, out.String(), "Title:    Visa 2026")
	assert.Contains(t, out.String(), "country = LV")

	require.NoError(t, a.Delete(ctx, []string{id}))
	require.Eventually(t, func() bool {
		_ = a.Sync(ctx, nil)
		docs, err := a.state.Documents(ctx, false)
		return err == nil && len(docs) == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestApp_AttachDetach(t *testing.T) {
	stubPassword(t, "secret")
	a, out := newLocalApp(t)
	ctx := context.Background()
	loginAs(t, a, "alice")

	id := addDocument(t, a, "Contract")
	path := filepath.Join(t.TempDir(), "contract.txt")
	require.NoError(t, os.WriteFile(path, []byte("signed by both parties"), 0o600))

	require.NoError(t, a.Attach(ctx, []string{id, path}))
	d := waitSynced(t, a, id)
	require.Len(t, d.Attachments, 1)
	att := d.Attachments[0]
	assert.Equal(t, "contract.txt", att.FileName)
	assert.True(t, a.paths.Validate(att.RemoteKey, localIdentity(t, a)))

	out.Reset()
	require.NoError(t, a.Show(ctx, []string{id}))
	assert.Contains(t, out.String(), "contract.txt")

	require.NoError(t, a.Detach(ctx, []string{id, "contract.txt"}))
	d = waitSynced(t, a, id)
	assert.Empty(t, d.Attachments)

	require.Error(t, a.Attach(ctx, []string{id, t.TempDir()}))
}

func localIdentity(t *testing.T, a *App) string {
	t.Helper()
	id, err := a.resolver.StableID(context.Background())
	require.NoError(t, err)
	return id
}

func TestApp_LoginFailures(t *testing.T) {
	a, _ := newLocalApp(t)
	ctx := context.Background()

	stubPassword(t, "secret")
	require.NoError(t, a.Register(ctx, []string{"alice"}))
	require.NoError(t, a.Register(ctx, []string{"bob"}))

	stubPassword(t, "wrong")
	require.ErrorIs(t, a.Login(ctx, []string{"alice"}), client.ErrInvalidCredentials)
	assert.False(t, a.isLoggedIn())

	stubPassword(t, "secret")
	require.NoError(t, a.Login(ctx, []string{"alice"}))
	require.NoError(t, a.Logout(ctx, nil))

	require.ErrorIs(t, a.Login(ctx, []string{"bob"}), errForeignStore)
	assert.False(t, a.isLoggedIn())

	a.reader = rdr(script(""))
	require.ErrorIs(t, a.Login(ctx, nil), errUsage)
}

func TestApp_ConflictsMigrateAndUsage(t *testing.T) {
	stubPassword(t, "secret")
	a, out := newLocalApp(t)
	ctx := context.Background()
	loginAs(t, a, "alice")

	require.NoError(t, a.Conflicts(ctx, nil))
	assert.Contains(t, out.String(), "No conflicts")

	out.Reset()
	require.NoError(t, a.Migrate(ctx, nil))
	assert.Contains(t, out.String(), "Migration: 0 files")

	require.Error(t, a.Resolve(ctx, []string{"c1", "bothWin"}))
	require.Error(t, a.Resolve(ctx, []string{"missing", "localWins"}))
	require.ErrorIs(t, a.Show(ctx, nil), errUsage)
	require.ErrorIs(t, a.Rollback(ctx, []string{"x"}), errUsage)
	require.ErrorIs(t, a.Migrate(ctx, []string{"sideways"}), errUsage)
	require.ErrorIs(t, a.Events(ctx, []string{"-1"}), errUsage)

	out.Reset()
	require.NoError(t, a.Rollback(ctx, []string{"all"}))
	assert.Contains(t, out.String(), "Rolled back 0 attachments")
}
