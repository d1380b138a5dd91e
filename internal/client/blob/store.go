// Package blob abstracts the binary object store that holds attachment
// bytes. Implementations map their transport failures onto the sentinels in
// internal/common: a missing object is common.ErrNotFound, throttling and
// 5xx answers are common.ErrNetworkTransient.
package blob

import (
	"context"
	"io"
)

// MetaChecksum is the object metadata key carrying the SHA-256 digest of
// the original (uncompressed) bytes.
const MetaChecksum = "sha256"

type PutOptions struct {
	ContentType     string
	ContentEncoding string
	Checksum        string
}

type ObjectInfo struct {
	Key             string
	Size            int64
	ContentEncoding string
	Checksum        string
	ETag            string
}

// Part is one uploaded piece of a multipart upload.
type Part struct {
	Number int32
	ETag   string
	Size   int64
}

// Store is the single-shot object API.
type Store interface {
	Put(ctx context.Context, key string, body io.ReadSeeker, size int64, opts PutOptions) error
	Get(ctx context.Context, key string, w io.Writer) (ObjectInfo, error)
	Head(ctx context.Context, key string) (ObjectInfo, error)
	// Delete succeeds when the object is already gone.
	Delete(ctx context.Context, key string) error
	// Copy duplicates src to dst, keeping src in place.
	Copy(ctx context.Context, src, dst string) error
}

// MultipartStore uploads large objects in resumable parts.
type MultipartStore interface {
	CreateMultipart(ctx context.Context, key string, opts PutOptions) (string, error)
	UploadPart(ctx context.Context, key, uploadID string, number int32, body io.ReadSeeker, size int64) (Part, error)
	ListParts(ctx context.Context, key, uploadID string) ([]Part, error)
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []Part) error
	AbortMultipart(ctx context.Context, key, uploadID string) error
}

// ObjectStore is what the file sync engine needs.
type ObjectStore interface {
	Store
	MultipartStore
}

// Exists reports whether key is present.
func Exists(ctx context.Context, s Store, key string) (bool, error) {
	_, err := s.Head(ctx, key)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}
