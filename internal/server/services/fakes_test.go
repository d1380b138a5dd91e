package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/dmitrijs2005/docsync/internal/common"
	"github.com/dmitrijs2005/docsync/internal/dbx"
	"github.com/dmitrijs2005/docsync/internal/server/models"
	"github.com/dmitrijs2005/docsync/internal/server/repositories/documents"
	"github.com/dmitrijs2005/docsync/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/docsync/internal/server/repositories/users"
)

var errBoom = errors.New("boom")

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

type fakeUsersRepo struct {
	createOut *models.User
	createErr error
	created   *models.User

	getOut *models.User
	getErr error

	byIDOut *models.User
	byIDErr error
}

func (f *fakeUsersRepo) Create(_ context.Context, u *models.User) (*models.User, error) {
	f.created = u
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.createOut, nil
}

func (f *fakeUsersRepo) GetUserByLogin(context.Context, string) (*models.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.getOut, nil
}

func (f *fakeUsersRepo) GetUserByID(context.Context, string) (*models.User, error) {
	if f.byIDErr != nil {
		return nil, f.byIDErr
	}
	return f.byIDOut, nil
}

type fakeRefreshRepo struct {
	findOut *models.RefreshToken
	findErr error

	delErr  error
	deleted []string

	createErr  error
	createdFor []string

	purged    time.Time
	purgedOut int64
}

func (f *fakeRefreshRepo) Create(_ context.Context, userID, _ string, _ time.Duration) error {
	f.createdFor = append(f.createdFor, userID)
	return f.createErr
}

func (f *fakeRefreshRepo) Find(context.Context, string) (*models.RefreshToken, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.findOut, nil
}

func (f *fakeRefreshRepo) Delete(_ context.Context, token string) error {
	f.deleted = append(f.deleted, token)
	return f.delErr
}

func (f *fakeRefreshRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	f.purged = now
	return f.purgedOut, nil
}

// fakeDocsRepo applies the same conditional rules as the SQL repository.
type fakeDocsRepo struct {
	mu   sync.Mutex
	docs map[string]*models.Document
	err  error
}

func newFakeDocsRepo() *fakeDocsRepo {
	return &fakeDocsRepo{docs: make(map[string]*models.Document)}
}

func key(owner, syncID string) string { return owner + "/" + syncID }

func clone(d *models.Document) *models.Document {
	c := *d
	c.Metadata = append([]models.Metadata(nil), d.Metadata...)
	c.Attachments = append([]models.Attachment(nil), d.Attachments...)
	return &c
}

func (f *fakeDocsRepo) Get(_ context.Context, owner, syncID string) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	d, ok := f.docs[key(owner, syncID)]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", syncID, common.ErrNotFound)
	}
	return clone(d), nil
}

func (f *fakeDocsRepo) List(_ context.Context, owner string, includeDeleted bool) ([]*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Document
	for _, d := range f.docs {
		if d.OwnerID == owner && (includeDeleted || !d.Deleted) {
			out = append(out, clone(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SyncID < out[j].SyncID })
	return out, nil
}

func (f *fakeDocsRepo) Create(_ context.Context, d *models.Document) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	k := key(d.OwnerID, d.SyncID)
	if _, ok := f.docs[k]; ok {
		return nil, fmt.Errorf("document %s: %w", d.SyncID, common.ErrAlreadyExists)
	}
	s := clone(d)
	s.Version = 1
	f.docs[k] = s
	return clone(s), nil
}

func (f *fakeDocsRepo) Update(_ context.Context, d *models.Document, expected int64) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	k := key(d.OwnerID, d.SyncID)
	cur, ok := f.docs[k]
	if !ok || cur.Version != expected {
		return nil, common.ErrVersionConflict
	}
	s := clone(d)
	s.Version = expected + 1
	s.CreatedAt = cur.CreatedAt
	f.docs[k] = s
	return clone(s), nil
}

func (f *fakeDocsRepo) SoftDelete(_ context.Context, owner, syncID string, expected int64) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.docs[key(owner, syncID)]
	if !ok || cur.Version != expected {
		return nil, common.ErrVersionConflict
	}
	now := time.Now().UTC()
	cur.Deleted, cur.DeletedAt = true, &now
	cur.Version++
	return clone(cur), nil
}

type fakeRepoManager struct {
	u *fakeUsersRepo
	r *fakeRefreshRepo
	d *fakeDocsRepo
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error    { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) users.Repository                 { return m.u }
func (m *fakeRepoManager) RefreshTokens(dbx.DBTX) refreshtokens.Repository { return m.r }
func (m *fakeRepoManager) Documents(dbx.DBTX) documents.Repository         { return m.d }

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.ChangeEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e models.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}
