package cencdec

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mohaanymo/cencdec/internal/box"
	"github.com/mohaanymo/cencdec/internal/test"
)

func fixture() test.File {
	return test.File{Fragments: []test.Fragment{
		{Samples: []test.Sample{
			{Data: test.Payload(48, 1), IV: test.U64(10)},
			{Data: test.Payload(20, 2), IV: test.U64(11),
				Subsamples: []box.Subsample{{Clear: 4, Protected: 16}}},
		}},
	}}
}

func writeInput(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestDecryptFile(t *testing.T) {
	f := fixture()
	input := writeInput(t, t.TempDir(), "movie.mp4", f.Encrypted())
	output := filepath.Join(t.TempDir(), "clear.mp4")

	stats, err := DecryptFile(context.Background(), input, test.KIDHex+":"+test.KeyHex,
		WithOutput(output), WithVerify(true))
	require.NoError(t, err)
	require.Equal(t, 1, stats.Fragments)
	require.Equal(t, 2, stats.Samples)
	require.Equal(t, int64(48+16), stats.DecryptedBytes)
	require.Equal(t, 1, stats.PatchedEntries)

	out, err := os.ReadFile(output)
	require.NoError(t, err)
	require.Equal(t, f.Decrypted(), out)

	tracks, err := InspectFile(output)
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	require.False(t, tracks[0].IsEncrypted())
	require.Equal(t, "avc1", tracks[0].Codec())
	require.Equal(t, TrackVideo, tracks[0].Type())
}

func TestDecrypter(t *testing.T) {
	input := writeInput(t, t.TempDir(), "movie.mp4", fixture().Encrypted())

	d, err := New(WithInput(input), WithKey(test.KeyHex), WithSuffix(".clear"))
	require.NoError(t, err)
	require.Equal(t, input, d.Input())
	require.Equal(t, filepath.Join(filepath.Dir(input), "movie.clear.mp4"), d.OutputPath())

	tracks, err := d.Tracks()
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	require.True(t, tracks[0].IsEncrypted())
	require.Equal(t, "encv", tracks[0].Format())
	require.Equal(t, "cenc", tracks[0].Scheme())
	require.NotEmpty(t, tracks[0].KID())

	progress := d.Progress()
	done := make(chan ProgressUpdate)
	go func() {
		var last ProgressUpdate
		for p := range progress {
			last = p
		}
		done <- last
	}()

	_, err = d.Decrypt(context.Background())
	require.NoError(t, err)

	last := <-done
	require.True(t, last.Done)
	require.Equal(t, 100.0, last.Percent())

	_, err = d.Decrypt(context.Background())
	require.ErrorIs(t, err, ErrAlreadyRun)
}

func TestDecryptErrors(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "movie.mp4", fixture().Encrypted())

	_, err := New(WithKey(test.KeyHex))
	require.ErrorIs(t, err, ErrMissingInput)

	_, err = New(WithInput(input))
	require.ErrorIs(t, err, ErrMissingKey)

	_, err = New(WithInput(input), WithKey("abcd"))
	require.ErrorIs(t, err, ErrInvalidKey)

	_, err = New(WithInput(input), WithKey(test.KeyHex), WithOutput(input))
	require.ErrorIs(t, err, ErrSameFile)

	otherKID := "00000000000000000000000000000001:" + test.KeyHex
	_, err = DecryptFile(context.Background(), input, otherKID)
	require.ErrorIs(t, err, ErrKeyMismatch)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
