package filesync

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultWindow is how many uploads UploadMany runs at once.
const DefaultWindow = 3

// BatchError collects the per-file failures of UploadMany.
type BatchError struct {
	Failures map[string]error
}

func (e *BatchError) Error() string {
	paths := make([]string, 0, len(e.Failures))
	for p := range e.Failures {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	parts := make([]string, len(paths))
	for i, p := range paths {
		parts[i] = fmt.Sprintf("%s: %v", p, e.Failures[p])
	}
	return fmt.Sprintf("%d of the uploads failed: %s", len(paths), strings.Join(parts, "; "))
}

func (e *BatchError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, err := range e.Failures {
		out = append(out, err)
	}
	return out
}

// UploadMany uploads paths with a bounded window. Successful results are
// returned even when some uploads fail; the failures come back as a
// *BatchError.
func (e *Engine) UploadMany(ctx context.Context, paths []string, syncID string) (map[string]Result, error) {
	var (
		mu       sync.Mutex
		results  = make(map[string]Result, len(paths))
		failures = make(map[string]error)
	)
	var g errgroup.Group
	g.SetLimit(DefaultWindow)
	for _, p := range paths {
		g.Go(func() error {
			r, err := e.Upload(ctx, p, syncID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.logger.Warn(ctx, "upload failed", "path", p, "sync_id", syncID, "error", err)
				failures[p] = err
				return nil
			}
			results[p] = r
			return nil
		})
	}
	_ = g.Wait()
	if len(failures) > 0 {
		return results, &BatchError{Failures: failures}
	}
	return results, nil
}
