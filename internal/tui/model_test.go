package tui

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/require"

	"github.com/mohaanymo/cencdec/internal/config"
	"github.com/mohaanymo/cencdec/internal/engine"
	"github.com/mohaanymo/cencdec/internal/models"
)

func newTestModel(ch chan engine.ProgressUpdate) *Model {
	cfg := config.New()
	cfg.Input = "/media/movie.mp4"
	return NewModel(ch, cfg, []models.Track{
		{ID: 1, Type: models.TrackVideo, Format: "encv", OriginalFormat: "avc1", Scheme: "cenc", KID: "kid-1"},
		{ID: 2, Type: models.TrackAudio, Format: "mp4a"},
	})
}

func TestModelProgress(t *testing.T) {
	ch := make(chan engine.ProgressUpdate, 1)
	m := newTestModel(ch)
	require.Contains(t, m.View(), "starting")

	ch <- engine.ProgressUpdate{BytesRead: 50, TotalBytes: 100, Fragments: 3, Samples: 7}
	msg := m.listenProgress()()
	_, cmd := m.Update(msg)
	require.NotNil(t, cmd)

	view := m.View()
	require.Contains(t, view, "50.0%")
	require.Contains(t, view, "decrypting")
	require.Contains(t, view, "movie_decrypted.mp4")
	require.Contains(t, view, "#1 avc1")
	require.Contains(t, view, "KID kid-1")

	close(ch)
	require.Equal(t, DoneMsg{}, m.listenProgress()())
	_, cmd = m.Update(DoneMsg{})
	require.NotNil(t, cmd)
	require.Contains(t, m.View(), "decryption complete")
	require.NoError(t, m.Err())
}

func TestModelError(t *testing.T) {
	m := newTestModel(make(chan engine.ProgressUpdate))
	errBoom := errors.New("boom")

	m.Update(progressMsg(engine.ProgressUpdate{Done: true, Error: errBoom}))
	m.Update(DoneMsg{})

	require.ErrorIs(t, m.Err(), errBoom)
	require.Contains(t, m.View(), "error: boom")
}

func TestModelSpeed(t *testing.T) {
	m := newTestModel(make(chan engine.ProgressUpdate))
	m.startTime = time.Now().Add(-2 * time.Second)
	m.handleProgress(engine.ProgressUpdate{BytesRead: 2000, TotalBytes: 4000})
	m.updateSpeed()

	require.InDelta(t, 1000, m.speed, 50)
	require.InDelta(t, 2*time.Second, m.eta, float64(200*time.Millisecond))
}

type fakeSource struct {
	rows     []TaskRow
	canceled []string
}

func (f *fakeSource) Rows() []TaskRow { return f.rows }

func (f *fakeSource) Cancel(id string) error {
	f.canceled = append(f.canceled, id)
	return nil
}

func TestBatchModel(t *testing.T) {
	src := &fakeSource{rows: []TaskRow{
		{ID: "a", Input: "/in/a.mp4", State: models.TaskCompleted, Elapsed: 3 * time.Second},
		{ID: "b", Input: "/in/b.mp4", State: models.TaskRunning,
			Progress: engine.ProgressUpdate{BytesRead: 1, TotalBytes: 4}},
		{ID: "c", Input: "/in/c.mp4", State: models.TaskFailed, Err: errors.New("bad key")},
		{ID: "d", Input: "/in/d.mp4", State: models.TaskPending},
	}}
	m := NewBatchModel("", src)

	view := m.View()
	for _, s := range []string{"a.mp4", "completed in 3s", "25.0%", "bad key", "waiting", "Batch"} {
		require.Contains(t, view, s)
	}

	key := func(s string) tea.KeyMsg {
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
	m.Update(key("j"))
	m.Update(key("c"))
	m.Update(key("j"))
	m.Update(key("j"))
	m.Update(key("j"))
	m.Update(key("c"))
	require.Equal(t, []string{"b", "d"}, src.canceled)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{900 * time.Millisecond, "0s"},
		{42 * time.Second, "42s"},
		{90 * time.Second, "1m30s"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1h02m03s"},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, formatDuration(tt.in))
	}
}

func TestRenderBar(t *testing.T) {
	for _, pct := range []float64{0, 0.33, 1, 1.5} {
		require.Equal(t, 20, lipgloss.Width(renderBar(pct, 20, progressActive)))
	}
	require.Equal(t, "abc", truncate("abc", 10))
	require.Equal(t, "abcd...", truncate("abcdefghij", 7))
}
