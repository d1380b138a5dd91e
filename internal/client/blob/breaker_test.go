package blob

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/docsync/internal/common"
	"github.com/dmitrijs2005/docsync/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerStore_OpensOnTransientFailures(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	mem.SetFault(func(op Op, key string) error {
		return fmt.Errorf("down: %w", common.ErrNetworkTransient)
	})

	b := NewBreakerStore(mem, BreakerConfig{Name: "t", MaxRequests: 1, Timeout: time.Hour, FailureThreshold: 2}, logging.Nop())

	for i := 0; i < 2; i++ {
		err := b.Put(ctx, "k", strings.NewReader("x"), 1, PutOptions{})
		require.ErrorIs(t, err, common.ErrNetworkTransient)
	}
	assert.Equal(t, "open", b.State())

	err := b.Put(ctx, "k", strings.NewReader("x"), 1, PutOptions{})
	require.ErrorIs(t, err, common.ErrNetworkTransient, "open breaker reads as transient")
	assert.Equal(t, 2, mem.Calls(OpPut), "open breaker does not reach the store")
}

func TestBreakerStore_NotFoundDoesNotTrip(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	b := NewBreakerStore(mem, BreakerConfig{Name: "nf", MaxRequests: 1, Timeout: time.Hour, FailureThreshold: 1}, logging.Nop())

	for i := 0; i < 3; i++ {
		_, err := b.Get(ctx, "missing", &bytes.Buffer{})
		require.ErrorIs(t, err, common.ErrNotFound)
	}
	assert.Equal(t, "closed", b.State())

	require.NoError(t, b.Put(ctx, "k", strings.NewReader("x"), 1, PutOptions{}))
	info, err := b.Head(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Size)
}
