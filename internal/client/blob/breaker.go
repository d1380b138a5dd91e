package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/dmitrijs2005/docsync/internal/common"
	"github.com/dmitrijs2005/docsync/internal/logging"
	"github.com/dmitrijs2005/docsync/internal/metrics"
)

type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "blob-store",
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          15 * time.Second,
		FailureThreshold: 5,
	}
}

// BreakerStore stops calling a failing object store for a while. Only
// transient failures count against the breaker; a missing object or a
// validation error is a normal answer. An open breaker is reported as
// common.ErrNetworkTransient so the retry manager backs off.
type BreakerStore struct {
	next ObjectStore
	cb   *gobreaker.CircuitBreaker[any]
}

func NewBreakerStore(next ObjectStore, cfg BreakerConfig, logger logging.Logger) *BreakerStore {
	l := logger.With("module", "blob_breaker")
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !common.IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			l.Warn(context.Background(), "circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &BreakerStore{next: next, cb: gobreaker.NewCircuitBreaker[any](settings)}
}

// State exposes the breaker state for status output.
func (b *BreakerStore) State() string { return b.cb.State().String() }

func (b *BreakerStore) run(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s: %v", common.ErrNetworkTransient, b.cb.Name(), err)
	}
	return err
}

func (b *BreakerStore) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, opts PutOptions) error {
	return b.run(func() error { return b.next.Put(ctx, key, body, size, opts) })
}

func (b *BreakerStore) Get(ctx context.Context, key string, w io.Writer) (ObjectInfo, error) {
	var info ObjectInfo
	err := b.run(func() (err error) {
		info, err = b.next.Get(ctx, key, w)
		return err
	})
	return info, err
}

func (b *BreakerStore) Head(ctx context.Context, key string) (ObjectInfo, error) {
	var info ObjectInfo
	err := b.run(func() (err error) {
		info, err = b.next.Head(ctx, key)
		return err
	})
	return info, err
}

func (b *BreakerStore) Delete(ctx context.Context, key string) error {
	return b.run(func() error { return b.next.Delete(ctx, key) })
}

func (b *BreakerStore) Copy(ctx context.Context, src, dst string) error {
	return b.run(func() error { return b.next.Copy(ctx, src, dst) })
}

func (b *BreakerStore) CreateMultipart(ctx context.Context, key string, opts PutOptions) (string, error) {
	var id string
	err := b.run(func() (err error) {
		id, err = b.next.CreateMultipart(ctx, key, opts)
		return err
	})
	return id, err
}

func (b *BreakerStore) UploadPart(ctx context.Context, key, uploadID string, number int32, body io.ReadSeeker, size int64) (Part, error) {
	var p Part
	err := b.run(func() (err error) {
		p, err = b.next.UploadPart(ctx, key, uploadID, number, body, size)
		return err
	})
	return p, err
}

func (b *BreakerStore) ListParts(ctx context.Context, key, uploadID string) ([]Part, error) {
	var parts []Part
	err := b.run(func() (err error) {
		parts, err = b.next.ListParts(ctx, key, uploadID)
		return err
	})
	return parts, err
}

func (b *BreakerStore) CompleteMultipart(ctx context.Context, key, uploadID string, parts []Part) error {
	return b.run(func() error { return b.next.CompleteMultipart(ctx, key, uploadID, parts) })
}

func (b *BreakerStore) AbortMultipart(ctx context.Context, key, uploadID string) error {
	return b.run(func() error { return b.next.AbortMultipart(ctx, key, uploadID) })
}
