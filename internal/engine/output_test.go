package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateOutputRelativePath(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	out, err := createOutput(filepath.Join("out", "movie.mp4"))
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(out.path))
	require.Equal(t, "movie.mp4", filepath.Base(out.path))

	_, err = out.WriteString("data")
	require.NoError(t, err)
	require.NoError(t, out.Commit())

	got, err := os.ReadFile(filepath.Join(dir, "out", "movie.mp4"))
	require.NoError(t, err)
	require.Equal(t, "data", string(got))

	entries, err := os.ReadDir(filepath.Join(dir, "out"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestCreateOutputAbort(t *testing.T) {
	dir := t.TempDir()

	out, err := createOutput(filepath.Join(dir, "movie.mp4"))
	require.NoError(t, err)
	out.Abort()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}
