package filesync

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/docsync/internal/client/blob"
	"github.com/dmitrijs2005/docsync/internal/client/checksum"
	"github.com/dmitrijs2005/docsync/internal/client/models"
	"github.com/dmitrijs2005/docsync/internal/client/retry"
	"github.com/dmitrijs2005/docsync/internal/common"
	"github.com/dmitrijs2005/docsync/internal/filex"
	"github.com/dmitrijs2005/docsync/internal/metrics"
)

// DownloadOptions carries what was recorded at upload time. Zero values skip
// the corresponding check.
type DownloadOptions struct {
	Checksum string
	Size     int64
}

var magic = map[string][][]byte{
	".pdf":  {[]byte("%PDF")},
	".png":  {[]byte("\x89PNG\r\n\x1a\n")},
	".jpg":  {[]byte("\xff\xd8\xff")},
	".jpeg": {[]byte("\xff\xd8\xff")},
	".gif":  {[]byte("GIF87a"), []byte("GIF89a")},
}

// Download fetches remoteKey into the local cache and returns the cached
// path. An existing cached copy is reused when it still verifies.
func (e *Engine) Download(ctx context.Context, remoteKey, syncID string, opts DownloadOptions) (string, error) {
	if got := syncIDOf(remoteKey); got != syncID {
		return "", &common.ValidationError{Field: "remote_key", Reason: fmt.Sprintf("key %q does not belong to document %s", remoteKey, syncID)}
	}
	dst, err := e.CachePath(remoteKey)
	if err != nil {
		return "", err
	}

	if filex.Exists(dst) {
		err := e.verify(dst, opts)
		if err == nil {
			return dst, nil
		}
		e.logger.Warn(ctx, "cached copy failed verification, downloading again", "path", dst, "error", err)
		if err := filex.RemoveIfExists(dst); err != nil {
			return "", err
		}
	}

	release, err := e.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()
	metrics.TransfersInFlight.Inc()
	defer metrics.TransfersInFlight.Dec()

	// A copy that fails verification is fetched again from scratch; only
	// the last integrity failure is reported once attempts run out.
	var corrupt error
	err = e.retry.Execute(ctx, "download", func(ctx context.Context) error {
		err := e.fetch(ctx, remoteKey, dst, opts)
		if errors.Is(err, common.ErrIntegrity) {
			corrupt = err
			return fmt.Errorf("%w: %w", common.ErrNetworkTransient, err)
		}
		return err
	})
	if err != nil {
		if corrupt != nil && errors.Is(err, common.ErrIntegrity) {
			return "", fmt.Errorf("download %s: %w", remoteKey, corrupt)
		}
		return "", err
	}
	e.logger.Debug(ctx, "downloaded attachment", "sync_id", syncID, "key", remoteKey, "path", dst)
	return dst, nil
}

func (e *Engine) fetch(ctx context.Context, remoteKey, dst string, opts DownloadOptions) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o770); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(dst), err)
	}
	raw := dst + ".part"
	f, err := os.Create(raw)
	if err != nil {
		return fmt.Errorf("create %s: %w", raw, err)
	}
	if err := e.pace(ctx); err != nil {
		f.Close()
		_ = os.Remove(raw)
		return err
	}
	info, err := e.store.Get(ctx, remoteKey, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close %s: %w", raw, cerr)
	}
	if err != nil {
		_ = os.Remove(raw)
		return err
	}
	metrics.TransferBytes.WithLabelValues("download").Add(float64(info.Size))

	final := raw
	if info.ContentEncoding == models.EncodingGzip {
		final = dst + ".dec.part"
		err := gunzip(raw, final)
		_ = os.Remove(raw)
		if err != nil {
			_ = os.Remove(final)
			metrics.IntegrityFailures.Inc()
			return fmt.Errorf("%w: %s: %v", common.ErrIntegrity, remoteKey, err)
		}
	}

	if opts.Checksum == "" {
		opts.Checksum = info.Checksum
	}
	if err := e.verify(final, opts); err != nil {
		_ = os.Remove(final)
		metrics.IntegrityFailures.Inc()
		return err
	}
	return filex.CommitTemp(final, dst)
}

func gunzip(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	zr, err := gzip.NewReader(in)
	if err != nil {
		return err
	}
	defer zr.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, zr); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// verify checks checksum, size and, for known formats, the leading magic
// bytes of path. The format is taken from the final extension, ignoring
// temp suffixes.
func (e *Engine) verify(path string, opts DownloadOptions) error {
	sum, size, err := checksum.SumFile(path)
	if err != nil {
		return err
	}
	if err := checksum.Verify(path, opts.Checksum, sum); err != nil {
		return err
	}
	if opts.Size > 0 && size != opts.Size {
		return &checksum.MismatchError{Path: path, Expected: fmt.Sprintf("%d bytes", opts.Size), Actual: fmt.Sprintf("%d bytes", size)}
	}
	return checkMagic(path)
}

func checkMagic(path string) error {
	name := strings.TrimSuffix(strings.TrimSuffix(path, ".part"), ".dec")
	want, ok := magic[strings.ToLower(filepath.Ext(name))]
	if !ok {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	head := make([]byte, 8)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return err
	}
	for _, m := range want {
		if bytes.HasPrefix(head[:n], m) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s is not a readable %s file", common.ErrIntegrity, name, filepath.Ext(name))
}

// Delete removes the remote object and every local copy of it. A missing
// object is not an error.
func (e *Engine) Delete(ctx context.Context, remoteKey string) error {
	err := e.retry.Execute(ctx, "delete", func(ctx context.Context) error {
		if err := e.pace(ctx); err != nil {
			return err
		}
		err := e.store.Delete(ctx, remoteKey)
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	e.DropLocal(ctx, remoteKey)
	return nil
}

// DropLocal forgets the cached copy and preview of remoteKey.
func (e *Engine) DropLocal(ctx context.Context, remoteKey string) {
	if p, err := e.CachePath(remoteKey); err == nil {
		if err := filex.RemoveIfExists(p); err != nil {
			e.logger.Warn(ctx, "failed to remove cached copy", "path", p, "error", err)
		}
	}
	e.previews.remove(remoteKey)
}

// Exists reports whether remoteKey is present in the store.
func (e *Engine) Exists(ctx context.Context, remoteKey string) (bool, error) {
	return retry.Do(ctx, e.retry, "exists", func(ctx context.Context) (bool, error) {
		return blob.Exists(ctx, e.store, remoteKey)
	})
}

// Copy duplicates src to dst in the store, keeping src.
func (e *Engine) Copy(ctx context.Context, src, dst string) error {
	return e.retry.Execute(ctx, "copy", func(ctx context.Context) error {
		if err := e.pace(ctx); err != nil {
			return err
		}
		return e.store.Copy(ctx, src, dst)
	})
}
