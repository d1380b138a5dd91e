package filex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) func() {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	return func() { _ = os.Chdir(old) }
}

func TestEnsureSubDir_CreatesDirectoryInCWD(t *testing.T) {
	tmp := t.TempDir()
	defer chdir(t, tmp)()

	got, err := EnsureSubDir("", "cache")
	require.NoError(t, err)

	want := filepath.Join(tmp, "cache")
	require.Equal(t, want, got)

	fi, err := os.Stat(want)
	require.NoError(t, err)
	require.True(t, fi.IsDir())
}

func TestEnsureSubDir_ExplicitBaseIsIdempotent(t *testing.T) {
	base := t.TempDir()

	a, err := EnsureSubDir(base, "x/y")
	require.NoError(t, err)
	b, err := EnsureSubDir(base, "x/y")
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestExistsAndRemoveIfExists(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "f.txt")

	require.False(t, Exists(p))
	require.NoError(t, RemoveIfExists(p), "missing file is fine")

	require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))
	require.True(t, Exists(p))
	require.False(t, Exists(dir), "directories are not files")

	require.NoError(t, RemoveIfExists(p))
	require.False(t, Exists(p))
	require.NoError(t, RemoveIfExists(""))
}

func TestCommitTemp_MovesIntoNewDir(t *testing.T) {
	dir := t.TempDir()
	tmp := filepath.Join(dir, "a.part")
	require.NoError(t, os.WriteFile(tmp, []byte("data"), 0o600))

	dst := filepath.Join(dir, "nested", "a.pdf")
	require.NoError(t, CommitTemp(tmp, dst))

	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "data", string(b))
	require.False(t, Exists(tmp))
}
