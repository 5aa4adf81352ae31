package engine

import (
	"fmt"
	"os"
	"path/filepath"
)

// outputFile is written under a temporary name next to its destination
// and only appears under the final name on Commit.
type outputFile struct {
	*os.File
	path string
}

// createOutput creates the temporary file for path, creating the output
// directory if needed.
func createOutput(path string) (*outputFile, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve output path: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	return &outputFile{File: f, path: path}, nil
}

// Commit closes the temporary file and moves it to its final name.
func (o *outputFile) Commit() error {
	if err := o.Chmod(0644); err != nil {
		o.Abort()
		return err
	}
	if err := o.Close(); err != nil {
		os.Remove(o.Name())
		return err
	}
	if err := os.Rename(o.Name(), o.path); err != nil {
		os.Remove(o.Name())
		return err
	}
	return nil
}

// Abort closes and removes the temporary file.
func (o *outputFile) Abort() {
	o.Close()
	os.Remove(o.Name())
}
