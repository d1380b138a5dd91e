package client

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/docsync/internal/client/models"
	"github.com/dmitrijs2005/docsync/internal/common"
)

// MemoryBackend is an in-process document store shared by any number of
// per-owner views. It applies the same conditional-write rules as the
// server.
type MemoryBackend struct {
	mu    sync.Mutex
	docs  map[string]map[string]*models.Document
	subs  map[string]map[chan ChangeEvent]struct{}
	fault func(op string) error
	now   func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		docs: make(map[string]map[string]*models.Document),
		subs: make(map[string]map[chan ChangeEvent]struct{}),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// SetFault installs a hook consulted before every operation ("get", "list",
// "create", "update", "delete", "batch"). A non-nil result fails the call.
func (b *MemoryBackend) SetFault(f func(op string) error) {
	b.mu.Lock()
	b.fault = f
	b.mu.Unlock()
}

// ForOwner returns the view of the store belonging to owner.
func (b *MemoryBackend) ForOwner(owner string) *MemoryDocumentStore {
	return &MemoryDocumentStore{b: b, owner: owner}
}

// Document returns a copy of the stored document, for assertions.
func (b *MemoryBackend) Document(owner, syncID string) (*models.Document, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.docs[owner][syncID]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

// MemoryDocumentStore implements DocumentStore over a MemoryBackend.
type MemoryDocumentStore struct {
	b     *MemoryBackend
	owner string
}

var _ DocumentStore = (*MemoryDocumentStore)(nil)

func (s *MemoryDocumentStore) check(op string) error {
	if s.b.fault != nil {
		return s.b.fault(op)
	}
	return nil
}

func (s *MemoryDocumentStore) Get(_ context.Context, syncID string) (*models.Document, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if err := s.check("get"); err != nil {
		return nil, err
	}
	d, ok := s.b.docs[s.owner][syncID]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", syncID, common.ErrNotFound)
	}
	return d.Clone(), nil
}

func (s *MemoryDocumentStore) List(_ context.Context, includeDeleted bool) ([]*models.Document, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if err := s.check("list"); err != nil {
		return nil, err
	}
	var out []*models.Document
	for _, d := range s.b.docs[s.owner] {
		if d.Deleted && !includeDeleted {
			continue
		}
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SyncID < out[j].SyncID })
	return out, nil
}

func (s *MemoryDocumentStore) Create(_ context.Context, d *models.Document) (*models.Document, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if err := s.check("create"); err != nil {
		return nil, err
	}
	return s.create(d)
}

func (s *MemoryDocumentStore) Update(_ context.Context, d *models.Document, expectedVersion int64) (*models.Document, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if err := s.check("update"); err != nil {
		return nil, err
	}
	return s.update(d, expectedVersion)
}

func (s *MemoryDocumentStore) SoftDelete(_ context.Context, syncID string, expectedVersion int64) (*models.Document, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if err := s.check("delete"); err != nil {
		return nil, err
	}
	cur, ok := s.b.docs[s.owner][syncID]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", syncID, common.ErrNotFound)
	}
	if cur.Version != expectedVersion {
		return nil, conflictError(syncID, expectedVersion, cur.Clone())
	}
	now := s.b.now()
	cur.Deleted = true
	cur.DeletedAt = &now
	cur.UpdatedAt = now
	cur.Version++
	s.publish(cur)
	return cur.Clone(), nil
}

func (s *MemoryDocumentStore) BatchPut(_ context.Context, items []BatchItem) ([]BatchResult, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if err := s.check("batch"); err != nil {
		return nil, err
	}
	out := make([]BatchResult, len(items))
	for i, it := range items {
		out[i].SyncID = it.Document.SyncID
		if it.ExpectedVersion == 0 {
			out[i].Document, out[i].Err = s.create(it.Document)
		} else {
			out[i].Document, out[i].Err = s.update(it.Document, it.ExpectedVersion)
		}
	}
	return out, nil
}

func (s *MemoryDocumentStore) Subscribe(ctx context.Context) (<-chan ChangeEvent, error) {
	ch := make(chan ChangeEvent, 64)
	s.b.mu.Lock()
	if s.b.subs[s.owner] == nil {
		s.b.subs[s.owner] = make(map[chan ChangeEvent]struct{})
	}
	s.b.subs[s.owner][ch] = struct{}{}
	s.b.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.b.mu.Lock()
		delete(s.b.subs[s.owner], ch)
		s.b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// create and update must be called with the backend lock held.
func (s *MemoryDocumentStore) create(d *models.Document) (*models.Document, error) {
	if s.b.docs[s.owner] == nil {
		s.b.docs[s.owner] = make(map[string]*models.Document)
	}
	if _, ok := s.b.docs[s.owner][d.SyncID]; ok {
		return nil, fmt.Errorf("document %s: %w", d.SyncID, common.ErrAlreadyExists)
	}
	stored := remoteCopy(d)
	stored.Version = 1
	s.b.docs[s.owner][d.SyncID] = stored
	s.publish(stored)
	return stored.Clone(), nil
}

func (s *MemoryDocumentStore) update(d *models.Document, expected int64) (*models.Document, error) {
	cur, ok := s.b.docs[s.owner][d.SyncID]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", d.SyncID, common.ErrNotFound)
	}
	if cur.Version != expected {
		return nil, conflictError(d.SyncID, expected, cur.Clone())
	}
	stored := remoteCopy(d)
	stored.Version = expected + 1
	stored.CreatedAt = cur.CreatedAt
	s.b.docs[s.owner][d.SyncID] = stored
	s.publish(stored)
	return stored.Clone(), nil
}

// publish must be called with the backend lock held. Slow subscribers
// miss events rather than block writers.
func (s *MemoryDocumentStore) publish(d *models.Document) {
	e := ChangeEvent{SyncID: d.SyncID, Version: d.Version, Deleted: d.Deleted, At: s.b.now()}
	for ch := range s.b.subs[s.owner] {
		select {
		case ch <- e:
		default:
		}
	}
}

// remoteCopy strips local-only bookkeeping, as the wire conversion does.
func remoteCopy(d *models.Document) *models.Document {
	c := d.Clone()
	c.SyncState = ""
	c.LastError = ""
	c.Attempts = 0
	c.RemoteExists = true
	c.Attachments = nil
	for _, a := range d.Attachments {
		if !a.Uploaded() {
			continue
		}
		c.Attachments = append(c.Attachments, models.FileAttachment{
			SyncID:          d.SyncID,
			FileName:        a.FileName,
			RemoteKey:       a.RemoteKey,
			FileSize:        a.FileSize,
			Checksum:        a.Checksum,
			ContentEncoding: a.ContentEncoding,
			AddedAt:         a.AddedAt,
		})
	}
	return c
}
