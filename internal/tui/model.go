package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"resextractor/internal/dispatch"
)

// Update is one increment of run progress. Line, when set, replaces the last progress line shown.
type Update struct {
	CandidatesDelta int
	ExtractedDelta  int
	WrittenDelta    int
	DuplicatesDelta int
	ErrorsDelta     int
	Line            string
}

// FromOutcome converts a finished candidate into an update.
func FromOutcome(o dispatch.Outcome) Update {
	u := Update{
		CandidatesDelta: 1,
		WrittenDelta:    o.Result.Written,
		DuplicatesDelta: o.Result.Duplicates,
	}
	if o.Result.HasResources {
		u.ExtractedDelta = 1
	}
	if o.Err != nil || o.Result.Error != "" {
		u.ErrorsDelta = 1
	}
	return u
}

type Model struct {
	updates    <-chan Update
	started    time.Time
	width      int
	candidates int
	extracted  int
	written    int
	duplicates int
	errors     int
	last       string
	stopping   bool
	quitting   bool
	cancel     func()
}

type doneMsg struct{}

type updateMsg Update

// NewModel reads updates until the channel closes. Ctrl+C calls cancel and keeps listening so
// candidates already running can finish.
func NewModel(updates <-chan Update, cancel func()) Model {
	return Model{updates: updates, started: time.Now(), cancel: cancel}
}

func (m Model) Init() tea.Cmd {
	return listenForUpdates(m.updates)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case updateMsg:
		m.candidates += msg.CandidatesDelta
		m.extracted += msg.ExtractedDelta
		m.written += msg.WrittenDelta
		m.duplicates += msg.DuplicatesDelta
		m.errors += msg.ErrorsDelta
		if msg.Line != "" {
			m.last = msg.Line
		}
		return m, listenForUpdates(m.updates)
	case doneMsg:
		m.quitting = true
		return m, tea.Quit
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" && !m.stopping {
			m.stopping = true
			if m.cancel != nil {
				m.cancel()
			}
		}
		return m, nil
	default:
		return m, nil
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	last := m.last
	if m.width > 10 && len(last) > m.width-2 {
		last = last[:m.width-5] + "..."
	}
	elapsed := time.Since(m.started).Round(time.Millisecond)

	lines := []string{
		titleStyle.Render("resextractor"),
		labelStyle.Render(fmt.Sprintf("Assemblies: %d/%d with resources", m.extracted, m.candidates)) +
			dimStyle.Render(fmt.Sprintf("  errors:%d", m.errors)),
		labelStyle.Render(fmt.Sprintf("Files written: %d", m.written)) +
			dimStyle.Render(fmt.Sprintf("  duplicates:%d", m.duplicates)),
		dimStyle.Render(fmt.Sprintf("Elapsed: %s", elapsed)),
		dimStyle.Render(last),
	}
	if m.stopping {
		lines = append(lines, warnStyle.Render("Stopping: waiting for running workers"))
	}
	return strings.Join(lines, "\n")
}

func listenForUpdates(updates <-chan Update) tea.Cmd {
	return func() tea.Msg {
		update, ok := <-updates
		if !ok {
			return doneMsg{}
		}
		return updateMsg(update)
	}
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	labelStyle = lipgloss.NewStyle().Foreground(ColorInk)
	dimStyle   = lipgloss.NewStyle().Foreground(ColorDim)
)
