package cencdec

import (
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mohaanymo/cencdec/internal/tui"
)

// ManagerUI provides a terminal UI for the decryption manager.
type ManagerUI struct {
	manager *Manager
	program *tea.Program
	running atomic.Bool
}

// NewManagerUI creates a new manager UI.
func NewManagerUI(manager *Manager) *ManagerUI {
	ui := &ManagerUI{
		manager: manager,
	}
	ui.program = tea.NewProgram(tui.NewBatchModel(manager.Title(), managerSource{manager}), tea.WithAltScreen())
	manager.subscribe(func(*Task) {
		if ui.running.Load() {
			ui.program.Send(tui.RefreshMsg{})
		}
	})
	return ui
}

// Run starts the TUI and blocks until it exits.
func (ui *ManagerUI) Run() error {
	ui.running.Store(true)
	_, err := ui.program.Run()
	ui.running.Store(false)
	return err
}

// Quit stops the TUI.
func (ui *ManagerUI) Quit() {
	ui.program.Quit()
}

// managerSource exposes a Manager to the batch view.
type managerSource struct {
	m *Manager
}

func (s managerSource) Rows() []tui.TaskRow {
	tasks := s.m.GetAllTasks()
	rows := make([]tui.TaskRow, 0, len(tasks))
	for _, task := range tasks {
		rows = append(rows, task.row())
	}
	return rows
}

func (s managerSource) Cancel(id string) error {
	return s.m.CancelTask(id)
}

func (t *Task) row() tui.TaskRow {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var elapsed time.Duration
	switch {
	case t.StartedAt.IsZero():
	case t.CompletedAt.IsZero():
		elapsed = time.Since(t.StartedAt)
	default:
		elapsed = t.CompletedAt.Sub(t.StartedAt)
	}

	return tui.TaskRow{
		ID:       t.ID,
		Input:    t.Input,
		State:    t.State,
		Progress: t.Progress.internal(),
		Err:      t.Error,
		Elapsed:  elapsed,
	}
}
