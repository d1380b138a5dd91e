package docsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/docsync/internal/client/client"
	"github.com/dmitrijs2005/docsync/internal/client/filesync"
	"github.com/dmitrijs2005/docsync/internal/client/identity"
	"github.com/dmitrijs2005/docsync/internal/client/models"
	"github.com/dmitrijs2005/docsync/internal/client/retry"
	"github.com/dmitrijs2005/docsync/internal/client/storagepath"
	"github.com/dmitrijs2005/docsync/internal/client/syncstate"
	"github.com/dmitrijs2005/docsync/internal/common"
	"github.com/dmitrijs2005/docsync/internal/logging"
)

const (
	DefaultBatchSize        = 25
	DefaultBatchParallelism = 2
)

// ErrConflictPending is returned by Push for documents whose conflict has
// not been resolved yet.
var ErrConflictPending = fmt.Errorf("conflict awaiting resolution: %w", common.ErrVersionConflict)

type ConflictPolicy string

const (
	PolicyManual        ConflictPolicy = "manual"
	PolicyLocalWins     ConflictPolicy = "localWins"
	PolicyRemoteWins    ConflictPolicy = "remoteWins"
	PolicyLastWriteWins ConflictPolicy = "lastWriteWins"
)

func ParsePolicy(s string) (ConflictPolicy, error) {
	switch p := ConflictPolicy(s); p {
	case PolicyManual, PolicyLocalWins, PolicyRemoteWins, PolicyLastWriteWins:
		return p, nil
	case "":
		return PolicyManual, nil
	default:
		return "", fmt.Errorf("unknown conflict policy %q", s)
	}
}

type Config struct {
	BatchSize        int
	BatchParallelism int
	Policy           ConflictPolicy
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchParallelism <= 0 {
		c.BatchParallelism = DefaultBatchParallelism
	}
	if c.Policy == "" {
		c.Policy = PolicyManual
	}
	return c
}

// Files is the part of the file sync engine documents need.
type Files interface {
	Upload(ctx context.Context, localPath, syncID string, opts ...filesync.UploadOption) (filesync.Result, error)
	Download(ctx context.Context, remoteKey, syncID string, opts filesync.DownloadOptions) (string, error)
	Delete(ctx context.Context, remoteKey string) error
	DropLocal(ctx context.Context, remoteKey string)
}

// IdentitySource yields the signed-in user.
type IdentitySource interface {
	CurrentIdentity(ctx context.Context) (identity.Identity, error)
}

// FallbackResolver maps a migrated key back to its legacy location.
type FallbackResolver interface {
	FallbackKey(ctx context.Context, remoteKey string) (string, error)
}

type Engine struct {
	cfg      Config
	state    *syncstate.Manager
	docs     client.DocumentStore
	files    Files
	paths    *storagepath.Generator
	identity IdentitySource
	retry    *retry.Manager
	fallback FallbackResolver
	logger   logging.Logger
	locks    *keyedMutex
}

type Option func(*Engine)

func WithFallback(f FallbackResolver) Option {
	return func(e *Engine) { e.fallback = f }
}

func New(cfg Config, state *syncstate.Manager, docs client.DocumentStore, files Files, paths *storagepath.Generator, id IdentitySource, rm *retry.Manager, logger logging.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg.withDefaults(),
		state:    state,
		docs:     docs,
		files:    files,
		paths:    paths,
		identity: id,
		retry:    rm,
		logger:   logger.With("module", "docsync"),
		locks:    newKeyedMutex(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Policy() ConflictPolicy { return e.cfg.Policy }

func (e *Engine) event(ctx context.Context, t models.EventType, syncID, msg string) {
	e.state.RecordEvent(ctx, models.SyncEvent{
		Type:       t,
		EntityType: models.EntityDocument,
		EntityID:   syncID,
		SyncID:     syncID,
		Message:    msg,
	})
}

// interrupted reports errors that end a pass without being the document's
// fault.
func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, common.ErrNotAuthenticated)
}
