package filesync

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const hintPrefix = "upload_hint:"

// resumeHint remembers an unfinished multipart upload of one local file.
type resumeHint struct {
	LocalPath       string `json:"local_path"`
	RemoteKey       string `json:"remote_key"`
	UploadID        string `json:"upload_id"`
	Disambiguator   int64  `json:"disambiguator"`
	Size            int64  `json:"size"`
	ModTime         int64  `json:"mod_time"`
	Checksum        string `json:"checksum"`
	StagingPath     string `json:"staging_path,omitempty"`
	ContentEncoding string `json:"content_encoding,omitempty"`
}

func hintKey(localPath string) string { return hintPrefix + localPath }

// matches reports whether h still describes the file as it is now.
func (h *resumeHint) matches(c *candidate, sum string) bool {
	return h.Size == c.Size && h.ModTime == modTimeNano(c.info.ModTime()) && h.Checksum == sum
}

func (e *Engine) loadHint(ctx context.Context, localPath string) (*resumeHint, error) {
	if e.hints == nil {
		return nil, nil
	}
	b, err := e.hints.Get(ctx, hintKey(localPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load resume hint: %w", err)
	}
	if b == nil {
		return nil, nil
	}
	var h resumeHint
	if err := json.Unmarshal(b, &h); err != nil {
		e.logger.Warn(ctx, "dropping unreadable resume hint", "path", localPath, "error", err)
		_ = e.hints.Delete(ctx, hintKey(localPath))
		return nil, nil
	}
	return &h, nil
}

func (e *Engine) saveHint(ctx context.Context, h *resumeHint) error {
	if e.hints == nil {
		return nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to encode resume hint: %w", err)
	}
	if err := e.hints.Set(ctx, hintKey(h.LocalPath), b); err != nil {
		return fmt.Errorf("failed to save resume hint: %w", err)
	}
	return nil
}

func (e *Engine) dropHint(ctx context.Context, localPath string) {
	if e.hints == nil {
		return
	}
	if err := e.hints.Delete(ctx, hintKey(localPath)); err != nil {
		e.logger.Warn(ctx, "failed to delete resume hint", "path", localPath, "error", err)
	}
}

// PendingResumes lists the local files with an unfinished multipart upload
// that the next Upload of the same path will continue.
func (e *Engine) PendingResumes(ctx context.Context) ([]string, error) {
	if e.hints == nil {
		return nil, nil
	}
	keys, err := e.hints.Keys(ctx, hintPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list resume hints: %w", err)
	}
	paths := make([]string, 0, len(keys))
	for _, k := range keys {
		paths = append(paths, strings.TrimPrefix(k, hintPrefix))
	}
	return paths, nil
}
