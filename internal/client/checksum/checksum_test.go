package checksum

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dmitrijs2005/docsync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sha256("hello")
const helloSum = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func TestSumAndSumBytes(t *testing.T) {
	s, n, err := Sum(strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, helloSum, s)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, helloSum, SumBytes([]byte("hello")))
}

func TestVerifyFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(p, []byte("hello"), 0o600))

	require.NoError(t, VerifyFile(p, helloSum))
	require.NoError(t, VerifyFile(p, strings.ToUpper(helloSum)))
	require.NoError(t, VerifyFile(p, ""), "nothing recorded")

	err := VerifyFile(p, SumBytes([]byte("other")))
	require.ErrorIs(t, err, common.ErrIntegrity)
	var me *MismatchError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, helloSum, me.Actual)

	_, _, err = SumFile(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrIntegrity)
}

func TestWriter_HashesWhileCopying(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	_, err := w.Write([]byte("hel"))
	require.NoError(t, err)
	_, err = w.Write([]byte("lo"))
	require.NoError(t, err)

	assert.Equal(t, "hello", buf.String())
	assert.Equal(t, helloSum, w.Sum())
	assert.Equal(t, int64(5), w.Size())
}
