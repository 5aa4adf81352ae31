// Package tui renders decryption progress in the terminal.
package tui

import (
	"fmt"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mohaanymo/cencdec/internal/config"
	"github.com/mohaanymo/cencdec/internal/engine"
	"github.com/mohaanymo/cencdec/internal/models"
)

// Messages
type (
	progressMsg engine.ProgressUpdate
	tickMsg     time.Time
	DoneMsg     struct{}
	ErrorMsg    struct{ Err error }
)

// States
type appState int

const (
	stateStarting appState = iota
	stateDecrypting
	stateDone
	stateError
)

// Model is the progress view of a single file decryption.
type Model struct {
	state  appState
	width  int
	height int
	frame  int

	input      string
	output     string
	tracks     []models.Track
	progressCh <-chan engine.ProgressUpdate

	last      engine.ProgressUpdate
	startTime time.Time
	speed     float64
	eta       time.Duration
	err       error
}

// NewModel creates a view fed by progress. tracks is the track report of
// the input and may be empty.
func NewModel(progress <-chan engine.ProgressUpdate, cfg *config.Config, tracks []models.Track) *Model {
	return &Model{
		input:      cfg.Input,
		output:     cfg.OutputPath(),
		tracks:     tracks,
		progressCh: progress,
		startTime:  time.Now(),
		state:      stateStarting,
		width:      80,
		height:     24,
	}
}

// Err returns the error the run ended with, if any.
func (m *Model) Err() error {
	return m.err
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.listenProgress(), tick())
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case progressMsg:
		m.handleProgress(engine.ProgressUpdate(msg))
		return m, m.listenProgress()

	case tickMsg:
		m.frame++
		m.updateSpeed()
		return m, tick()

	case DoneMsg:
		if m.state != stateError {
			m.state = stateDone
		}
		return m, tea.Quit

	case ErrorMsg:
		m.state = stateError
		m.err = msg.Err
		return m, tea.Quit
	}

	return m, nil
}

func (m *Model) View() string {
	w := clamp(m.width-4, 60, 100)

	var b strings.Builder
	b.WriteString(m.viewHeader(w))
	b.WriteString("\n\n")
	b.WriteString(m.viewContent(w))

	return b.String()
}

func (m *Model) viewHeader(w int) string {
	title := titleStyle.Render("⚡ cencdec")
	subtitle := dimStyle.Render(" - CENC fragment decryptor")

	inLabel := labelStyle.Render("in:")
	inValue := valueStyle.Render(truncate(m.input, w/2-8))
	outLabel := labelStyle.Render("out:")
	outValue := dimStyle.Render(truncate(m.output, w/2-8))

	line1 := title + subtitle
	line2 := fmt.Sprintf("%s %s  %s %s", inLabel, inValue, outLabel, outValue)

	return headerStyle.Width(w).Render(line1 + "\n" + line2)
}

func (m *Model) viewContent(w int) string {
	var b strings.Builder

	if len(m.tracks) > 0 {
		b.WriteString(subtitleStyle.Render("Tracks"))
		b.WriteString("\n\n")
		for i := range m.tracks {
			b.WriteString(renderTrack(&m.tracks[i]))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(subtitleStyle.Render("Progress"))
	b.WriteString("\n\n")
	b.WriteString(m.renderOverallProgress(w - 6))
	b.WriteString("\n\n")
	b.WriteString(m.renderStats())
	b.WriteString("\n\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n")
	b.WriteString(m.renderHelp())

	return contentStyle.Width(w).Render(b.String())
}

func renderTrack(t *models.Track) string {
	var b strings.Builder

	switch t.Type {
	case models.TrackVideo:
		b.WriteString(videoBadge.Render("VIDEO"))
	case models.TrackAudio:
		b.WriteString(audioBadge.Render("AUDIO"))
	case models.TrackSubtitle:
		b.WriteString(subtitleBadge.Render("SUB"))
	default:
		b.WriteString(subtitleBadge.Render(strings.ToUpper(t.Handler)))
	}
	b.WriteString(" ")

	info := fmt.Sprintf("#%d %s", t.ID, t.Codec())
	if t.Scheme != "" {
		info += " " + dimStyle.Render("•") + " " + t.Scheme
	}
	b.WriteString(normalStyle.Render(fmt.Sprintf("%-20s", info)))

	if t.KID != "" {
		b.WriteString(" ")
		b.WriteString(dimStyle.Render("KID " + t.KID))
	}
	return b.String()
}

func (m *Model) renderOverallProgress(w int) string {
	pct := m.last.Percent()
	barWidth := clamp(w-20, 20, 80)

	style := progressActive
	if m.state == stateDone {
		style = progressDone
	}
	return renderBar(pct, barWidth, style) + " " + statValueStyle.Render(fmt.Sprintf("%.1f%%", pct*100))
}

func (m *Model) renderStats() string {
	stats := []struct {
		label string
		value string
	}{
		{"Speed", bytefmt.ByteSize(uint64(m.speed)) + "/s"},
		{"Read", bytefmt.ByteSize(uint64(m.last.BytesRead)) + "/" + bytefmt.ByteSize(uint64(m.last.TotalBytes))},
		{"Fragments", fmt.Sprintf("%d", m.last.Fragments)},
		{"Samples", fmt.Sprintf("%d", m.last.Samples)},
		{"Elapsed", formatDuration(time.Since(m.startTime))},
		{"ETA", formatDuration(m.eta)},
	}

	var parts []string
	for _, s := range stats {
		part := statLabelStyle.Render(s.label+": ") + statValueStyle.Render(s.value)
		parts = append(parts, part)
	}

	return strings.Join(parts, "  ")
}

func (m *Model) renderStatus() string {
	switch m.state {
	case stateStarting:
		return spinnerStyle.Render(spinner[m.frame%len(spinner)]) + dimStyle.Render(" starting...")
	case stateDecrypting:
		return spinnerStyle.Render(spinner[m.frame%len(spinner)]) + dimStyle.Render(" decrypting fragments...")
	case stateDone:
		return successStyle.Render("✓ decryption complete!")
	case stateError:
		return errorStyle.Render(fmt.Sprintf("✗ error: %v", m.err))
	}
	return ""
}

func (m *Model) renderHelp() string {
	return helpStyle.Render(
		keyHelpStyle.Render("q") + " quit  " +
			keyHelpStyle.Render("ctrl+c") + " cancel",
	)
}

func (m *Model) handleProgress(p engine.ProgressUpdate) {
	m.last = p
	switch {
	case p.Done && p.Error != nil:
		m.state = stateError
		m.err = p.Error
	case p.Done:
		m.state = stateDone
	default:
		m.state = stateDecrypting
	}
}

func (m *Model) updateSpeed() {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed > 0 {
		m.speed = float64(m.last.BytesRead) / elapsed
	}

	remaining := m.last.TotalBytes - m.last.BytesRead
	if m.speed > 0 && remaining > 0 {
		m.eta = time.Duration(float64(remaining) / m.speed * float64(time.Second))
	} else {
		m.eta = 0
	}
}

func (m *Model) listenProgress() tea.Cmd {
	return func() tea.Msg {
		p, ok := <-m.progressCh
		if !ok {
			return DoneMsg{}
		}
		return progressMsg(p)
	}
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
