package filesync

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/docsync/internal/client/blob"
	"github.com/dmitrijs2005/docsync/internal/client/retry"
	"github.com/dmitrijs2005/docsync/internal/client/storagepath"
	"github.com/dmitrijs2005/docsync/internal/common"
	"github.com/dmitrijs2005/docsync/internal/logging"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxFileSize          = 100 << 20
	DefaultCompressionThreshold = 1 << 20
	DefaultChunkThreshold       = 5 << 20
	DefaultChunkSize            = 5 << 20
	DefaultMaxConcurrent        = 3
	DefaultPreviewEntries       = 64
)

// DefaultDeniedExtensions are never accepted as attachments.
var DefaultDeniedExtensions = []string{".exe", ".bat", ".cmd", ".com", ".scr", ".msi", ".dll", ".sh", ".ps1", ".js", ".vbs", ".jar"}

type Config struct {
	MaxFileSize          int64
	CompressionThreshold int64
	ChunkThreshold       int64
	ChunkSize            int64
	MaxConcurrent        int
	DeniedExtensions     []string
	// RequestsPerSecond paces calls to the blob store. Zero disables pacing.
	RequestsPerSecond float64
	CacheDir          string
	StagingDir        string
	PreviewEntries    int
}

func DefaultConfig() Config {
	return Config{
		MaxFileSize:          DefaultMaxFileSize,
		CompressionThreshold: DefaultCompressionThreshold,
		ChunkThreshold:       DefaultChunkThreshold,
		ChunkSize:            DefaultChunkSize,
		MaxConcurrent:        DefaultMaxConcurrent,
		DeniedExtensions:     DefaultDeniedExtensions,
		PreviewEntries:       DefaultPreviewEntries,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = d.MaxFileSize
	}
	if c.CompressionThreshold <= 0 {
		c.CompressionThreshold = d.CompressionThreshold
	}
	if c.ChunkThreshold <= 0 {
		c.ChunkThreshold = d.ChunkThreshold
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.DeniedExtensions == nil {
		c.DeniedExtensions = d.DeniedExtensions
	}
	if c.PreviewEntries <= 0 {
		c.PreviewEntries = d.PreviewEntries
	}
	if c.StagingDir == "" && c.CacheDir != "" {
		c.StagingDir = filepath.Join(c.CacheDir, ".staging")
	}
	return c
}

// StableIDSource yields the identifier that owns every uploaded key.
type StableIDSource interface {
	StableID(ctx context.Context) (string, error)
}

// HintStore persists resume hints between runs. The metadata repository
// satisfies it.
type HintStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

type Engine struct {
	cfg      Config
	store    blob.ObjectStore
	paths    *storagepath.Generator
	identity StableIDSource
	retry    *retry.Manager
	hints    HintStore
	logger   logging.Logger

	sem      *semaphore.Weighted
	limiter  *rate.Limiter
	previews *previewCache
}

func New(cfg Config, store blob.ObjectStore, paths *storagepath.Generator, id StableIDSource, hints HintStore, rm *retry.Manager, logger logging.Logger) (*Engine, error) {
	cfg = cfg.withDefaults()
	if cfg.CacheDir == "" {
		return nil, fmt.Errorf("filesync: cache dir is required")
	}
	e := &Engine{
		cfg:      cfg,
		store:    store,
		paths:    paths,
		identity: id,
		retry:    rm,
		hints:    hints,
		logger:   logger.With("module", "filesync"),
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		previews: newPreviewCache(cfg.PreviewEntries, filepath.Join(cfg.CacheDir, ".previews")),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return e, nil
}

func (e *Engine) Config() Config { return e.cfg }

// acquire takes one transfer slot.
func (e *Engine) acquire(ctx context.Context) (func(), error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { e.sem.Release(1) }, nil
}

func (e *Engine) pace(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	return e.limiter.Wait(ctx)
}

// CachePath is where the local copy of remoteKey lives. Both the current and
// the legacy key layouts keep the sync id as the parent segment.
func (e *Engine) CachePath(remoteKey string) (string, error) {
	dir, base := path.Split(strings.Trim(remoteKey, "/"))
	syncID := path.Base(strings.TrimSuffix(dir, "/"))
	if base == "" || syncID == "" || syncID == "." || syncID == ".." {
		return "", fmt.Errorf("%w: cannot derive cache path from %q", common.ErrValidation, remoteKey)
	}
	return filepath.Join(e.cfg.CacheDir, storagepath.SanitizeFileName(syncID), storagepath.SanitizeFileName(base)), nil
}

func syncIDOf(remoteKey string) string {
	dir, _ := path.Split(strings.Trim(remoteKey, "/"))
	return path.Base(strings.TrimSuffix(dir, "/"))
}

func modTimeNano(t time.Time) int64 { return t.UTC().UnixNano() }
