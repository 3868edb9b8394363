package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resextractor/internal/dispatch"
	"resextractor/internal/worker"
)

func TestFromOutcome(t *testing.T) {
	u := FromOutcome(dispatch.Outcome{Result: worker.Result{HasResources: true, Written: 4, Duplicates: 2}})
	assert.Equal(t, Update{CandidatesDelta: 1, ExtractedDelta: 1, WrittenDelta: 4, DuplicatesDelta: 2}, u)

	u = FromOutcome(dispatch.Outcome{Err: errors.New("crashed")})
	assert.Equal(t, Update{CandidatesDelta: 1, ErrorsDelta: 1}, u)

	u = FromOutcome(dispatch.Outcome{Result: worker.Result{Error: "bad metadata"}})
	assert.Equal(t, 1, u.ErrorsDelta)
}

func TestModelCountsUpdates(t *testing.T) {
	updates := make(chan Update, 4)
	updates <- Update{CandidatesDelta: 1, ExtractedDelta: 1, WrittenDelta: 3, Line: "0000ABCD-03 Extracting: a"}
	updates <- Update{CandidatesDelta: 1, ErrorsDelta: 1}
	close(updates)

	var m tea.Model = NewModel(updates, nil)
	cmd := m.Init()
	for {
		msg := cmd()
		var next tea.Cmd
		m, next = m.Update(msg)
		if _, done := msg.(doneMsg); done {
			require.NotNil(t, next)
			break
		}
		cmd = next
	}

	model := m.(Model)
	assert.Equal(t, 2, model.candidates)
	assert.Equal(t, 1, model.extracted)
	assert.Equal(t, 3, model.written)
	assert.Equal(t, 1, model.errors)
	assert.Equal(t, "0000ABCD-03 Extracting: a", model.last)
	assert.True(t, model.quitting)
	assert.Empty(t, model.View())
}

func TestModelView(t *testing.T) {
	m := NewModel(nil, nil)
	next, _ := m.Update(updateMsg{CandidatesDelta: 2, ExtractedDelta: 1, WrittenDelta: 5, DuplicatesDelta: 1})
	view := next.View()
	assert.Contains(t, view, "Assemblies: 1/2 with resources")
	assert.Contains(t, view, "Files written: 5")
	assert.Contains(t, view, "duplicates:1")
	assert.NotContains(t, view, "Stopping")
}

func TestModelCtrlCCancelsOnce(t *testing.T) {
	calls := 0
	m := NewModel(nil, func() { calls++ })

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.Nil(t, cmd)
	next, _ = next.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.Equal(t, 1, calls)
	assert.Contains(t, next.View(), "Stopping: waiting for running workers")
}

func TestModelTruncatesLongLines(t *testing.T) {
	m := NewModel(nil, nil)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 20, Height: 10})
	next, _ = next.Update(updateMsg{Line: strings.Repeat("x", 50)})
	assert.Contains(t, next.View(), strings.Repeat("x", 15)+"...")
	assert.NotContains(t, next.View(), strings.Repeat("x", 16))
}

func TestRenderSummary(t *testing.T) {
	out := RenderSummary([]SummaryRow{
		{Label: "Assemblies with resources", Value: "3"},
		{Label: "Errors", Value: "1", Warn: true},
	})
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, strings.Repeat("-", len("Assemblies with resources")+1+3), lines[0])
	assert.Equal(t, lines[0], lines[3])
	assert.Contains(t, lines[1], "Assemblies with resources")
	assert.Contains(t, lines[2], "Errors")
}
