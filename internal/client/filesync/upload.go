package filesync

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/docsync/internal/client/blob"
	"github.com/dmitrijs2005/docsync/internal/client/checksum"
	"github.com/dmitrijs2005/docsync/internal/client/models"
	"github.com/dmitrijs2005/docsync/internal/common"
	"github.com/dmitrijs2005/docsync/internal/filex"
	"github.com/dmitrijs2005/docsync/internal/metrics"
)

type uploadOptions struct {
	fileName      string
	disambiguator int64
}

type UploadOption func(*uploadOptions)

// WithFileName sets the attachment name used in the key. It defaults to the
// base name of the local path.
func WithFileName(name string) UploadOption {
	return func(o *uploadOptions) { o.fileName = name }
}

// WithDisambiguator pins the key's disambiguator, usually the attachment's
// creation time in unix milliseconds.
func WithDisambiguator(d int64) UploadOption {
	return func(o *uploadOptions) { o.disambiguator = d }
}

// Upload sends localPath to the blob store under a key of syncID.
func (e *Engine) Upload(ctx context.Context, localPath, syncID string, opts ...UploadOption) (Result, error) {
	return e.upload(ctx, localPath, syncID, nil, opts...)
}

// StartUpload runs Upload in the background and reports on the returned
// Transfer.
func (e *Engine) StartUpload(ctx context.Context, localPath, syncID string, opts ...UploadOption) *Transfer {
	t := newTransfer()
	go func() {
		r, err := e.upload(ctx, localPath, syncID, t.progress, opts...)
		t.finish(r, err)
	}()
	return t
}

func (e *Engine) upload(ctx context.Context, localPath, syncID string, progress func(done, total int64), opts ...UploadOption) (Result, error) {
	if progress == nil {
		progress = func(int64, int64) {}
	}
	o := uploadOptions{fileName: filepath.Base(localPath)}
	for _, opt := range opts {
		opt(&o)
	}

	c, err := e.inspect(localPath)
	if err != nil {
		return Result{}, err
	}
	stableID, err := e.identity.StableID(ctx)
	if err != nil {
		return Result{}, err
	}
	sum, _, err := checksum.SumFile(localPath)
	if err != nil {
		return Result{}, err
	}

	release, err := e.acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	defer release()
	metrics.TransfersInFlight.Inc()
	defer metrics.TransfersInFlight.Dec()

	hint, err := e.loadHint(ctx, localPath)
	if err != nil {
		return Result{}, err
	}
	if hint != nil && (!hint.matches(c, sum) || !e.paths.Validate(hint.RemoteKey, stableID)) {
		e.logger.Info(ctx, "file changed since the interrupted upload, starting over", "path", localPath)
		e.abandon(ctx, hint)
		hint = nil
	}
	if hint == nil {
		d := o.disambiguator
		if d == 0 {
			d = e.paths.NextDisambiguator()
		}
		key, err := e.paths.Generate(stableID, syncID, o.fileName, d)
		if err != nil {
			return Result{}, err
		}
		hint = &resumeHint{
			LocalPath:     localPath,
			RemoteKey:     key,
			Disambiguator: d,
			Size:          c.Size,
			ModTime:       modTimeNano(c.info.ModTime()),
			Checksum:      sum,
		}
	}

	payload, payloadSize, err := e.prepare(ctx, c, hint)
	if err != nil {
		return Result{}, err
	}
	putOpts := blob.PutOptions{ContentType: contentType(c.Ext), ContentEncoding: hint.ContentEncoding, Checksum: sum}

	if payloadSize < e.cfg.ChunkThreshold {
		err = e.retry.Execute(ctx, "upload", func(ctx context.Context) error {
			return e.putFile(ctx, hint.RemoteKey, payload, payloadSize, putOpts, progress)
		})
		if err != nil {
			e.removeStaging(ctx, hint)
			return Result{}, err
		}
		metrics.TransferBytes.WithLabelValues("upload").Add(float64(payloadSize))
	} else {
		err = e.retry.Execute(ctx, "upload_multipart", func(ctx context.Context) error {
			return e.multipart(ctx, hint, payload, payloadSize, putOpts, progress)
		})
		if err != nil {
			// the hint stays so the next attempt resumes
			return Result{}, err
		}
	}

	e.dropHint(ctx, localPath)
	e.removeStaging(ctx, hint)
	progress(payloadSize, payloadSize)
	e.logger.Debug(ctx, "uploaded attachment", "sync_id", syncID, "key", hint.RemoteKey, "size", c.Size, "encoding", hint.ContentEncoding)
	return Result{RemoteKey: hint.RemoteKey, Size: c.Size, Checksum: sum, ContentEncoding: hint.ContentEncoding}, nil
}

// prepare picks the bytes to send: a staged gzip copy when compression pays
// off, otherwise the file itself.
func (e *Engine) prepare(ctx context.Context, c *candidate, h *resumeHint) (string, int64, error) {
	if h.ContentEncoding == models.EncodingGzip {
		if fi, err := os.Stat(h.StagingPath); err == nil && fi.Mode().IsRegular() {
			return h.StagingPath, fi.Size(), nil
		}
		// the staged copy is gone, parts already sent cannot be trusted
		e.abortUpload(ctx, h)
		h.StagingPath, h.ContentEncoding = "", ""
	}
	if h.UploadID != "" || !c.compressible(e.cfg.CompressionThreshold) {
		return c.Path, c.Size, nil
	}

	staged, size, err := e.gzipTo(c.Path)
	if err != nil {
		return "", 0, err
	}
	if size >= c.Size {
		_ = filex.RemoveIfExists(staged)
		return c.Path, c.Size, nil
	}
	h.StagingPath, h.ContentEncoding = staged, models.EncodingGzip
	return staged, size, nil
}

func (e *Engine) gzipTo(src string) (string, int64, error) {
	if err := os.MkdirAll(e.cfg.StagingDir, 0o770); err != nil {
		return "", 0, fmt.Errorf("mkdir %s: %w", e.cfg.StagingDir, err)
	}
	in, err := os.Open(src)
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	dst := filepath.Join(e.cfg.StagingDir, uuid.NewString()+".gz")
	out, err := os.Create(dst)
	if err != nil {
		return "", 0, fmt.Errorf("create %s: %w", dst, err)
	}
	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return "", 0, fmt.Errorf("compress %s: %w", src, err)
	}
	if err := zw.Close(); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return "", 0, fmt.Errorf("compress %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return "", 0, fmt.Errorf("close %s: %w", dst, err)
	}
	fi, err := os.Stat(dst)
	if err != nil {
		return "", 0, fmt.Errorf("stat %s: %w", dst, err)
	}
	return dst, fi.Size(), nil
}

func (e *Engine) putFile(ctx context.Context, key, payload string, size int64, opts blob.PutOptions, progress func(done, total int64)) error {
	f, err := os.Open(payload)
	if err != nil {
		return fmt.Errorf("open %s: %w", payload, err)
	}
	defer f.Close()
	if err := e.pace(ctx); err != nil {
		return err
	}
	return e.store.Put(ctx, key, &countingReader{ReadSeeker: f, total: size, report: progress}, size, opts)
}

// progressStep is how many bytes a single-shot upload reads between
// progress reports.
const progressStep = 64 << 10

// countingReader reports how much of a single-shot body the store has
// read. A seek, as done before a resend, moves the count with it.
type countingReader struct {
	io.ReadSeeker
	done, reported, total int64
	report                func(done, total int64)
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.ReadSeeker.Read(p)
	r.done += int64(n)
	if n > 0 && (r.done-r.reported >= progressStep || r.done == r.total) {
		r.reported = r.done
		r.report(r.done, r.total)
	}
	return n, err
}

func (r *countingReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := r.ReadSeeker.Seek(offset, whence)
	if err == nil {
		r.done, r.reported = pos, pos
	}
	return pos, err
}

// multipart sends payload in ChunkSize parts, skipping parts the store
// already holds for the hint's upload id.
func (e *Engine) multipart(ctx context.Context, h *resumeHint, payload string, size int64, opts blob.PutOptions, progress func(done, total int64)) error {
	chunk := e.cfg.ChunkSize
	have := make(map[int32]blob.Part)
	if h.UploadID != "" {
		parts, err := e.store.ListParts(ctx, h.RemoteKey, h.UploadID)
		switch {
		case errors.Is(err, common.ErrNotFound):
			e.logger.Info(ctx, "multipart upload expired, starting a new one", "key", h.RemoteKey)
			h.UploadID = ""
		case err != nil:
			return err
		default:
			for _, p := range parts {
				have[p.Number] = p
			}
		}
	}
	if h.UploadID == "" {
		if err := e.pace(ctx); err != nil {
			return err
		}
		id, err := e.store.CreateMultipart(ctx, h.RemoteKey, opts)
		if err != nil {
			return err
		}
		h.UploadID = id
		if err := e.saveHint(ctx, h); err != nil {
			return err
		}
	}

	f, err := os.Open(payload)
	if err != nil {
		return fmt.Errorf("open %s: %w", payload, err)
	}
	defer f.Close()

	count := int32((size + chunk - 1) / chunk)
	completed := make([]blob.Part, 0, count)
	var sent int64
	for n := int32(1); n <= count; n++ {
		off := int64(n-1) * chunk
		length := min(chunk, size-off)
		if p, ok := have[n]; ok && p.Size == length {
			completed = append(completed, p)
			sent += length
			progress(sent, size)
			continue
		}
		if err := e.pace(ctx); err != nil {
			return err
		}
		p, err := e.store.UploadPart(ctx, h.RemoteKey, h.UploadID, n, io.NewSectionReader(f, off, length), length)
		if err != nil {
			return fmt.Errorf("upload part %d/%d of %s: %w", n, count, h.RemoteKey, err)
		}
		completed = append(completed, p)
		sent += length
		metrics.TransferBytes.WithLabelValues("upload").Add(float64(length))
		progress(sent, size)
	}

	if err := e.pace(ctx); err != nil {
		return err
	}
	return e.store.CompleteMultipart(ctx, h.RemoteKey, h.UploadID, completed)
}

// abandon forgets an interrupted upload.
func (e *Engine) abandon(ctx context.Context, h *resumeHint) {
	e.abortUpload(ctx, h)
	e.removeStaging(ctx, h)
	e.dropHint(ctx, h.LocalPath)
}

func (e *Engine) abortUpload(ctx context.Context, h *resumeHint) {
	if h.UploadID == "" {
		return
	}
	if err := e.store.AbortMultipart(ctx, h.RemoteKey, h.UploadID); err != nil {
		e.logger.Warn(ctx, "failed to abort multipart upload", "key", h.RemoteKey, "error", err)
	}
	h.UploadID = ""
}

func (e *Engine) removeStaging(ctx context.Context, h *resumeHint) {
	if err := filex.RemoveIfExists(h.StagingPath); err != nil {
		e.logger.Warn(ctx, "failed to remove staged copy", "path", h.StagingPath, "error", err)
	}
}

func contentType(ext string) string {
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
