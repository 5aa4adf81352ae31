package engine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mohaanymo/cencdec/internal/box"
	"github.com/mohaanymo/cencdec/internal/config"
	"github.com/mohaanymo/cencdec/internal/decryptor"
	"github.com/mohaanymo/cencdec/internal/test"
)

func fixture() test.File {
	return test.File{Fragments: []test.Fragment{
		{Samples: []test.Sample{
			{Data: test.Payload(32, 1), IV: test.U64(1)},
			{Data: test.Payload(16, 2), IV: test.U64(2)},
		}},
		{Samples: []test.Sample{
			{Data: test.Payload(40, 3), IV: test.U64(3)},
		}},
	}}
}

// setup writes in to a temporary directory and returns a config for it.
func setup(t *testing.T, in []byte) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "movie.mp4")
	require.NoError(t, os.WriteFile(path, in, 0o644))

	cfg := config.New()
	cfg.Input = path
	cfg.Key = test.KIDHex + ":" + test.KeyHex
	return cfg
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

// runEngine runs e while draining its progress channel.
func runEngine(t *testing.T, ctx context.Context, e *Engine) (decryptor.Stats, []ProgressUpdate, error) {
	t.Helper()
	done := make(chan []ProgressUpdate)
	go func() {
		var updates []ProgressUpdate
		for u := range e.Progress() {
			updates = append(updates, u)
		}
		done <- updates
	}()

	stats, err := e.Run(ctx)
	return stats, <-done, err
}

func TestRun(t *testing.T) {
	f := fixture()
	cfg := setup(t, f.Encrypted())
	cfg.Verify = true

	e, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)

	stats, updates, err := runEngine(t, context.Background(), e)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Fragments)
	require.Equal(t, 3, stats.Samples)

	out, err := os.ReadFile(e.OutputPath())
	require.NoError(t, err)
	require.Equal(t, f.Decrypted(), out)

	require.Equal(t, []string{"movie.mp4", "movie_decrypted.mp4"}, dirEntries(t, filepath.Dir(cfg.Input)))

	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	require.True(t, last.Done)
	require.NoError(t, last.Error)
	require.Equal(t, 1.0, last.Percent())
}

func TestRunOutputDir(t *testing.T) {
	cfg := setup(t, fixture().Encrypted())
	cfg.OutputDir = filepath.Join(t.TempDir(), "nested", "out")

	e, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	_, _, err = runEngine(t, context.Background(), e)
	require.NoError(t, err)

	require.Equal(t, []string{"movie_decrypted.mp4"}, dirEntries(t, cfg.OutputDir))
}

func TestRunFailureLeavesNoOutput(t *testing.T) {
	noFrma := func(t *testing.T) []byte {
		var out bytes.Buffer
		sc := box.NewScanner(bytes.NewReader(fixture().Encrypted()))
		for sc.Next() {
			for sinf := range sc.Box().Find(box.TypeSinf) {
				var kept []*box.Box
				for _, c := range sinf.Children {
					if c.Type != box.TypeFrma {
						kept = append(kept, c)
					}
				}
				sinf.Children = kept
			}
			require.NoError(t, sc.Box().Encode(&out))
		}
		require.NoError(t, sc.Err())
		return out.Bytes()
	}

	for _, ca := range []struct {
		name   string
		in     func(t *testing.T) []byte
		verify bool
		err    error
	}{
		{
			"structure",
			func(_ *testing.T) []byte {
				return append(test.File{}.Init(), test.Box("mdat", test.Payload(16, 0))...)
			},
			false,
			decryptor.ErrStructure,
		},
		{
			"truncated",
			func(_ *testing.T) []byte {
				in := fixture().Encrypted()
				return in[:len(in)-5]
			},
			false,
			box.ErrTruncated,
		},
		{
			"still protected",
			noFrma,
			true,
			ErrStillProtected,
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			cfg := setup(t, ca.in(t))
			cfg.Verify = ca.verify

			e, err := New(cfg, zerolog.Nop())
			require.NoError(t, err)

			_, updates, err := runEngine(t, context.Background(), e)
			require.ErrorIs(t, err, ca.err)

			require.Equal(t, []string{"movie.mp4"}, dirEntries(t, filepath.Dir(cfg.Input)))
			last := updates[len(updates)-1]
			require.True(t, last.Done)
			require.ErrorIs(t, last.Error, ca.err)
		})
	}
}

func TestRunCanceled(t *testing.T) {
	cfg := setup(t, fixture().Encrypted())
	e, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err = runEngine(t, ctx, e)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []string{"movie.mp4"}, dirEntries(t, filepath.Dir(cfg.Input)))
}

func TestNewValidates(t *testing.T) {
	cfg := config.New()
	cfg.Input = "movie.mp4"
	_, err := New(cfg, zerolog.Nop())
	require.ErrorIs(t, err, config.ErrMissingKey)

	cfg.Key = "nothex"
	_, err = New(cfg, zerolog.Nop())
	require.ErrorIs(t, err, decryptor.ErrInvalidKey)
}

func TestRunMissingInput(t *testing.T) {
	cfg := config.New()
	cfg.Input = filepath.Join(t.TempDir(), "missing.mp4")
	cfg.Key = test.KeyHex

	e, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	_, _, err = runEngine(t, context.Background(), e)
	require.ErrorIs(t, err, os.ErrNotExist)
}
