package blob

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/dmitrijs2005/docsync/internal/common"
	"github.com/google/uuid"
)

// Op names a MemoryStore call for fault injection and call counting.
type Op string

const (
	OpPut            Op = "put"
	OpGet            Op = "get"
	OpHead           Op = "head"
	OpDelete         Op = "delete"
	OpCopy           Op = "copy"
	OpCreate         Op = "create_multipart"
	OpUploadPart     Op = "upload_part"
	OpListParts      Op = "list_parts"
	OpComplete       Op = "complete_multipart"
	OpAbortMultipart Op = "abort_multipart"
)

// FaultFunc may return an error to fail a call before it takes effect.
type FaultFunc func(op Op, key string) error

type memObject struct {
	data []byte
	info ObjectInfo
}

type memUpload struct {
	key   string
	opts  PutOptions
	parts map[int32][]byte
}

// MemoryStore is an in-process ObjectStore. It backs the offline/demo mode
// and the sync tests.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]memObject
	uploads map[string]*memUpload
	calls   map[Op]int
	fault   FaultFunc
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]memObject),
		uploads: make(map[string]*memUpload),
		calls:   make(map[Op]int),
	}
}

// SetFault installs (or clears, with nil) the fault hook.
func (s *MemoryStore) SetFault(f FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

// Calls returns how many times op was invoked, including failed calls.
func (s *MemoryStore) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Keys lists stored keys with the given prefix, sorted.
func (s *MemoryStore) Keys(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Object returns the raw stored bytes of key.
func (s *MemoryStore) Object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[key]
	return o.data, ok
}

// Corrupt flips the stored bytes of key, keeping its metadata.
func (s *MemoryStore) Corrupt(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.objects[key]; ok && len(o.data) > 0 {
		d := append([]byte(nil), o.data...)
		d[0] ^= 0xff
		o.data = d
		s.objects[key] = o
	}
}

// PendingUploads returns the number of open multipart uploads.
func (s *MemoryStore) PendingUploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}

func (s *MemoryStore) enter(op Op, key string) error {
	s.calls[op]++
	if s.fault != nil {
		return s.fault(op, key)
	}
	return nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, opts PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("%w: read body: %v", common.ErrNetworkTransient, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpPut, key); err != nil {
		return err
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("%w: size mismatch for %s", common.ErrValidation, key)
	}
	s.objects[key] = memObject{data: data, info: ObjectInfo{
		Key: key, Size: int64(len(data)), ContentEncoding: opts.ContentEncoding, Checksum: opts.Checksum, ETag: etag(data),
	}}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string, w io.Writer) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	s.mu.Lock()
	if err := s.enter(OpGet, key); err != nil {
		s.mu.Unlock()
		return ObjectInfo{}, err
	}
	o, ok := s.objects[key]
	s.mu.Unlock()
	if !ok {
		return ObjectInfo{}, fmt.Errorf("get %s: %w", key, common.ErrNotFound)
	}
	if _, err := io.Copy(w, bytes.NewReader(o.data)); err != nil {
		return ObjectInfo{}, fmt.Errorf("get %s: write: %w", key, err)
	}
	return o.info, nil
}

func (s *MemoryStore) Head(ctx context.Context, key string) (ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpHead, key); err != nil {
		return ObjectInfo{}, err
	}
	o, ok := s.objects[key]
	if !ok {
		return ObjectInfo{}, fmt.Errorf("head %s: %w", key, common.ErrNotFound)
	}
	return o.info, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpDelete, key); err != nil {
		return err
	}
	delete(s.objects, key)
	return nil
}

func (s *MemoryStore) Copy(ctx context.Context, src, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCopy, src); err != nil {
		return err
	}
	o, ok := s.objects[src]
	if !ok {
		return fmt.Errorf("copy %s: %w", src, common.ErrNotFound)
	}
	o.info.Key = dst
	s.objects[dst] = o
	return nil
}

func (s *MemoryStore) CreateMultipart(ctx context.Context, key string, opts PutOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCreate, key); err != nil {
		return "", err
	}
	id := uuid.NewString()
	s.uploads[id] = &memUpload{key: key, opts: opts, parts: make(map[int32][]byte)}
	return id, nil
}

func (s *MemoryStore) UploadPart(ctx context.Context, key, uploadID string, number int32, body io.ReadSeeker, size int64) (Part, error) {
	if err := ctx.Err(); err != nil {
		return Part{}, err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return Part{}, fmt.Errorf("%w: read part: %v", common.ErrNetworkTransient, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpUploadPart, key); err != nil {
		return Part{}, err
	}
	u, ok := s.uploads[uploadID]
	if !ok || u.key != key {
		return Part{}, fmt.Errorf("upload %s: %w", uploadID, common.ErrNotFound)
	}
	u.parts[number] = data
	return Part{Number: number, ETag: etag(data), Size: int64(len(data))}, nil
}

func (s *MemoryStore) ListParts(ctx context.Context, key, uploadID string) ([]Part, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpListParts, key); err != nil {
		return nil, err
	}
	u, ok := s.uploads[uploadID]
	if !ok || u.key != key {
		return nil, fmt.Errorf("upload %s: %w", uploadID, common.ErrNotFound)
	}
	parts := make([]Part, 0, len(u.parts))
	for n, d := range u.parts {
		parts = append(parts, Part{Number: n, ETag: etag(d), Size: int64(len(d))})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })
	return parts, nil
}

func (s *MemoryStore) CompleteMultipart(ctx context.Context, key, uploadID string, parts []Part) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpComplete, key); err != nil {
		return err
	}
	u, ok := s.uploads[uploadID]
	if !ok || u.key != key {
		return fmt.Errorf("upload %s: %w", uploadID, common.ErrNotFound)
	}

	var buf bytes.Buffer
	for i, p := range parts {
		if p.Number != int32(i+1) {
			return fmt.Errorf("%w: parts must be consecutive from 1, got %d at %d", common.ErrValidation, p.Number, i)
		}
		d, ok := u.parts[p.Number]
		if !ok || etag(d) != p.ETag {
			return fmt.Errorf("%w: part %d missing or changed", common.ErrValidation, p.Number)
		}
		buf.Write(d)
	}

	data := buf.Bytes()
	s.objects[key] = memObject{data: data, info: ObjectInfo{
		Key: key, Size: int64(len(data)), ContentEncoding: u.opts.ContentEncoding, Checksum: u.opts.Checksum,
		ETag: fmt.Sprintf("%s-%d", etag(data), len(parts)),
	}}
	delete(s.uploads, uploadID)
	return nil
}

func (s *MemoryStore) AbortMultipart(ctx context.Context, key, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpAbortMultipart, key); err != nil {
		return err
	}
	delete(s.uploads, uploadID)
	return nil
}

func etag(b []byte) string {
	s := md5.Sum(b)
	return hex.EncodeToString(s[:])
}

func isNotFound(err error) bool { return errors.Is(err, common.ErrNotFound) }
