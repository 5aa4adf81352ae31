package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mohaanymo/cencdec/internal/engine"
	"github.com/mohaanymo/cencdec/internal/models"
)

// TaskRow is what the batch view shows of one task.
type TaskRow struct {
	ID       string
	Input    string
	State    models.TaskState
	Progress engine.ProgressUpdate
	Err      error
	Elapsed  time.Duration
}

// TaskSource lists the tasks of a batch and cancels them.
type TaskSource interface {
	Rows() []TaskRow
	Cancel(id string) error
}

// RefreshMsg triggers a redraw of the batch view.
type RefreshMsg struct{}

// BatchModel is the progress view of a batch of decryptions.
type BatchModel struct {
	src          TaskSource
	title        string
	width        int
	height       int
	frame        int
	cursor       int
	scrollOffset int
}

// NewBatchModel creates a batch view over src.
func NewBatchModel(title string, src TaskSource) *BatchModel {
	if title == "" {
		title = "Batch"
	}
	return &BatchModel{
		src:    src,
		title:  title,
		width:  80,
		height: 24,
	}
}

func (m *BatchModel) Init() tea.Cmd {
	return tick()
}

func (m *BatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
				m.adjustScroll()
			}
		case "down", "j":
			if m.cursor < len(m.src.Rows())-1 {
				m.cursor++
				m.adjustScroll()
			}
		case "c":
			rows := m.src.Rows()
			if m.cursor < len(rows) {
				m.src.Cancel(rows[m.cursor].ID)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.frame++
		return m, tick()

	case RefreshMsg:
	}

	return m, nil
}

func (m *BatchModel) visibleRows() int {
	return max(m.height-15, 5)
}

func (m *BatchModel) adjustScroll() {
	visible := m.visibleRows()
	if m.cursor < m.scrollOffset {
		m.scrollOffset = m.cursor
	}
	if m.cursor >= m.scrollOffset+visible {
		m.scrollOffset = m.cursor - visible + 1
	}
}

func (m *BatchModel) View() string {
	w := clamp(m.width-4, 60, 100)
	rows := m.src.Rows()

	var b strings.Builder
	b.WriteString(m.viewHeader(w, rows))
	b.WriteString("\n\n")
	b.WriteString(m.viewTasks(w, rows))

	return b.String()
}

func (m *BatchModel) viewHeader(w int, rows []TaskRow) string {
	counts := make(map[models.TaskState]int)
	for _, r := range rows {
		counts[r.State]++
	}

	line1 := titleStyle.Render("⚡ cencdec") + dimStyle.Render(" - "+m.title)
	line2 := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s",
		statLabelStyle.Render("active:"),
		statValueStyle.Render(fmt.Sprintf("%d", counts[models.TaskRunning])),
		statLabelStyle.Render("pending:"),
		normalStyle.Render(fmt.Sprintf("%d", counts[models.TaskPending])),
		statLabelStyle.Render("done:"),
		successStyle.Render(fmt.Sprintf("%d", counts[models.TaskCompleted])),
		statLabelStyle.Render("failed:"),
		errorStyle.Render(fmt.Sprintf("%d", counts[models.TaskFailed])),
	)

	return headerStyle.Width(w).Render(line1 + "\n" + line2)
}

func (m *BatchModel) viewTasks(w int, rows []TaskRow) string {
	var b strings.Builder

	b.WriteString(subtitleStyle.Render("Files"))
	b.WriteString("\n\n")

	if len(rows) == 0 {
		b.WriteString(dimStyle.Render("  No files queued"))
		b.WriteString("\n")
	} else {
		visible := m.visibleRows()
		for i := m.scrollOffset; i < len(rows) && i < m.scrollOffset+visible; i++ {
			b.WriteString(m.renderTask(rows[i], i == m.cursor))
			b.WriteString("\n")
		}

		if len(rows) > visible {
			b.WriteString(dimStyle.Render(fmt.Sprintf("\n  %d/%d files", min(m.scrollOffset+visible, len(rows)), len(rows))))
		}
	}

	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render(
		keyHelpStyle.Render("↑/↓") + " navigate  " +
			keyHelpStyle.Render("c") + " cancel  " +
			keyHelpStyle.Render("q") + " quit",
	))

	return contentStyle.Width(w).Render(b.String())
}

func (m *BatchModel) renderTask(r TaskRow, isCursor bool) string {
	var b strings.Builder

	if isCursor {
		b.WriteString(selectedStyle.Render("▸ "))
	} else {
		b.WriteString("  ")
	}

	switch r.State {
	case models.TaskPending:
		b.WriteString(dimStyle.Render("◯ "))
	case models.TaskRunning:
		b.WriteString(spinnerStyle.Render(spinner[m.frame%len(spinner)] + " "))
	case models.TaskCompleted:
		b.WriteString(successStyle.Render("✓ "))
	case models.TaskFailed:
		b.WriteString(errorStyle.Render("✗ "))
	case models.TaskCanceled:
		b.WriteString(dimStyle.Render("⊘ "))
	}

	name := fmt.Sprintf("%-25s", truncate(filepath.Base(r.Input), 25))
	if isCursor {
		b.WriteString(selectedStyle.Render(name))
	} else {
		b.WriteString(normalStyle.Render(name))
	}
	b.WriteString(" ")

	switch r.State {
	case models.TaskPending:
		b.WriteString(dimStyle.Render("waiting..."))
	case models.TaskRunning:
		pct := r.Progress.Percent()
		b.WriteString(renderBar(pct, 20, progressActive))
		b.WriteString(" ")
		b.WriteString(statValueStyle.Render(fmt.Sprintf("%5.1f%%", pct*100)))
		b.WriteString(dimStyle.Render(fmt.Sprintf("  %d frags", r.Progress.Fragments)))
	case models.TaskCompleted:
		b.WriteString(successStyle.Render("completed"))
		b.WriteString(dimStyle.Render(fmt.Sprintf(" in %s, %d samples", formatDuration(r.Elapsed), r.Progress.Samples)))
	case models.TaskFailed:
		msg := "unknown error"
		if r.Err != nil {
			msg = truncate(r.Err.Error(), 40)
		}
		b.WriteString(errorStyle.Render(msg))
	case models.TaskCanceled:
		b.WriteString(warningStyle.Render("canceled"))
	}

	return b.String()
}
