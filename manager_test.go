package cencdec

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mohaanymo/cencdec/internal/test"
)

func TestManager(t *testing.T) {
	dir := t.TempDir()
	outDir := t.TempDir()
	f := fixture()

	var mu sync.Mutex
	var completed, failed []string

	m := NewManager(
		WithTitle("test batch"),
		WithMaxConcurrent(3),
		WithDefaultOptions(WithKey(test.KeyHex), WithOutputDir(outDir)),
		WithOnComplete(func(task *Task) {
			mu.Lock()
			completed = append(completed, task.ID)
			mu.Unlock()
		}),
		WithOnError(func(task *Task, _ error) {
			mu.Lock()
			failed = append(failed, task.ID)
			mu.Unlock()
		}),
	)
	m.Start()
	defer m.Stop()

	for i := range 4 {
		name := fmt.Sprintf("movie%d.mp4", i)
		_, err := m.AddTask(name, writeInput(t, dir, name, f.Encrypted()))
		require.NoError(t, err)
	}
	broken := writeInput(t, dir, "broken.mp4", f.Encrypted()[:100])
	_, err := m.AddTask("broken", broken)
	require.NoError(t, err)

	_, err = m.AddTask("broken", broken)
	require.Error(t, err)

	m.WaitAll()

	require.NoError(t, m.WaitForTask("movie0.mp4"))
	require.Error(t, m.WaitForTask("broken"))
	require.Error(t, m.WaitForTask("missing"))

	require.Equal(t, ManagerStats{Total: 5, Completed: 4, Failed: 1}, m.Stats())
	require.Len(t, completed, 4)
	require.Equal(t, []string{"broken"}, failed)
	require.Empty(t, m.GetActiveTasks())
	require.Zero(t, m.GetPendingCount())

	for i := range 4 {
		task := m.GetTask(fmt.Sprintf("movie%d.mp4", i))
		require.Equal(t, filepath.Join(outDir, fmt.Sprintf("movie%d_decrypted.mp4", i)), task.Output)
		require.Equal(t, 2, task.Stats.Samples)
		require.Len(t, task.Tracks, 1)

		out, err := os.ReadFile(task.Output)
		require.NoError(t, err)
		require.Equal(t, f.Decrypted(), out)
	}

	tasks := m.GetAllTasks()
	require.Len(t, tasks, 5)
	require.Equal(t, "movie0.mp4", tasks[0].ID)

	require.NoError(t, m.RemoveTask("broken"))
	require.Len(t, m.GetAllTasks(), 4)
	require.Error(t, m.CancelTask("movie0.mp4"))
}

func TestManagerCancelPending(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "movie.mp4", fixture().Encrypted())

	m := NewManager(WithDefaultOptions(WithKey(test.KeyHex)))
	_, err := m.AddTask("a", input)
	require.Error(t, err)

	m.Start()
	m.Stop()
	_, err = m.AddTask("b", input)
	require.Error(t, err)

	m = NewManager(WithMaxConcurrent(1), WithDefaultOptions(WithKey(test.KeyHex)))
	m.Start()

	block := make(chan struct{})
	m.subscribe(func(task *Task) {
		if task.ID == "first" {
			<-block
		}
	})

	_, err = m.AddTask("first", input, WithOutput(filepath.Join(dir, "first.mp4")))
	require.NoError(t, err)
	_, err = m.AddTask("second", input, WithOutput(filepath.Join(dir, "second.mp4")))
	require.NoError(t, err)

	require.NoError(t, m.CancelTask("second"))
	close(block)

	require.NoError(t, m.WaitForTask("first"))
	require.ErrorIs(t, m.WaitForTask("second"), ErrTaskCanceled)
	m.Stop()

	require.Equal(t, ManagerStats{Total: 2, Completed: 1, Canceled: 1}, m.Stats())
	_, err = os.Stat(filepath.Join(dir, "second.mp4"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
