package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mohaanymo/cencdec/internal/decryptor"
)

const testKey = "a7e61c373e219d0b8f5e4a0a2c1f5d66:101112131415161718191a1b1c1d1e1f"

func TestValidate(t *testing.T) {
	for _, ca := range []struct {
		name string
		cfg  Config
		err  error
	}{
		{"missing input", Config{Key: testKey}, ErrMissingInput},
		{"missing key", Config{Input: "in.mp4"}, ErrMissingKey},
		{"bad key", Config{Input: "in.mp4", Key: "abcd"}, decryptor.ErrInvalidKey},
		{"same file", Config{Input: "in.mp4", Output: "./in.mp4", Key: testKey}, ErrSameFile},
		{"ok", Config{Input: "in.mp4", Key: testKey}, nil},
	} {
		t.Run(ca.name, func(t *testing.T) {
			err := ca.cfg.Validate()
			if ca.err == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ca.err)
			}
		})
	}
}

func TestValidateClampsConcurrency(t *testing.T) {
	c := New()
	c.Input = "in.mp4"
	c.Key = testKey

	c.MaxConcurrent = 0
	require.NoError(t, c.Validate())
	require.Equal(t, MinConcurrent, c.MaxConcurrent)

	c.MaxConcurrent = 1000
	require.NoError(t, c.Validate())
	require.Equal(t, MaxConcurrent, c.MaxConcurrent)
}

func TestOutputPath(t *testing.T) {
	tests := []struct {
		cfg      Config
		expected string
	}{
		{Config{Input: "/media/movie.mp4", Suffix: "_decrypted"}, "/media/movie_decrypted.mp4"},
		{Config{Input: "/media/movie.mp4", Suffix: "_clear", OutputDir: "/out"}, "/out/movie_clear.mp4"},
		{Config{Input: "/media/movie.mp4", Output: "/tmp/x.mp4"}, "/tmp/x.mp4"},
		{Config{Input: "seg", Suffix: ".dec"}, "seg.dec"},
	}

	for _, tt := range tests {
		require.Equal(t, tt.expected, tt.cfg.OutputPath())
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cencdec.yml")
	err := os.WriteFile(path, []byte(
		"key: "+testKey+"\n"+
			"outputDir: /out\n"+
			"verify: yes\n"+
			"maxConcurrent: 4\n"), 0o644)
	require.NoError(t, err)

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, testKey, c.Key)
	require.Equal(t, "/out", c.OutputDir)
	require.True(t, c.Verify)
	require.Equal(t, 4, c.MaxConcurrent)
	require.Equal(t, DefaultSuffix, c.Suffix)

	err = os.WriteFile(path, []byte("threads: 4\n"), 0o644)
	require.NoError(t, err)
	_, err = Load(path)
	require.Error(t, err)

	_, err = Load(filepath.Join(dir, "missing.yml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
