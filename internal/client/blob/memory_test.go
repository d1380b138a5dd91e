package blob

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dmitrijs2005/docsync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PutGetHeadDeleteCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Put(ctx, "a/b.txt", strings.NewReader("hello"), 5, PutOptions{Checksum: "c1", ContentEncoding: "gzip"}))

	var buf bytes.Buffer
	info, err := s.Get(ctx, "a/b.txt", &buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", buf.String())
	assert.Equal(t, int64(5), info.Size)
	assert.Equal(t, "c1", info.Checksum)
	assert.Equal(t, "gzip", info.ContentEncoding)

	ok, err := Exists(ctx, s, "a/b.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Copy(ctx, "a/b.txt", "c/d.txt"))
	assert.Equal(t, []string{"a/b.txt", "c/d.txt"}, s.Keys(""))

	require.NoError(t, s.Delete(ctx, "a/b.txt"))
	require.NoError(t, s.Delete(ctx, "a/b.txt"), "delete is idempotent")

	ok, err = Exists(ctx, s, "a/b.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Get(ctx, "a/b.txt", &buf)
	require.ErrorIs(t, err, common.ErrNotFound)

	err = s.Copy(ctx, "missing", "x")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestMemoryStore_Multipart(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	id, err := s.CreateMultipart(ctx, "big.bin", PutOptions{Checksum: "sum"})
	require.NoError(t, err)

	p2, err := s.UploadPart(ctx, "big.bin", id, 2, strings.NewReader("world"), 5)
	require.NoError(t, err)
	p1, err := s.UploadPart(ctx, "big.bin", id, 1, strings.NewReader("hello "), 6)
	require.NoError(t, err)

	listed, err := s.ListParts(ctx, "big.bin", id)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, int32(1), listed[0].Number)
	assert.Equal(t, p1.ETag, listed[0].ETag)

	require.Error(t, s.CompleteMultipart(ctx, "big.bin", id, []Part{p2}), "parts must start at 1")
	require.NoError(t, s.CompleteMultipart(ctx, "big.bin", id, []Part{p1, p2}))

	data, ok := s.Object("big.bin")
	require.True(t, ok)
	assert.Equal(t, "hello world", string(data))
	assert.Equal(t, 0, s.PendingUploads())

	_, err = s.ListParts(ctx, "big.bin", id)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestMemoryStore_FaultsAndCalls(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	boom := errors.New("boom")
	s.SetFault(func(op Op, key string) error {
		if op == OpPut && key == "bad" {
			return boom
		}
		return nil
	})

	require.ErrorIs(t, s.Put(ctx, "bad", strings.NewReader("x"), 1, PutOptions{}), boom)
	require.NoError(t, s.Put(ctx, "good", strings.NewReader("x"), 1, PutOptions{}))
	assert.Equal(t, 2, s.Calls(OpPut))

	s.Corrupt("good")
	data, _ := s.Object("good")
	assert.NotEqual(t, "x", string(data))
}
