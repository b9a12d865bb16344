package monitor

import (
	"fmt"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/clinicpulse/internal/session"
)

func testModel() Model {
	return NewModel(NewClient("http://localhost:8080"), 5*time.Second)
}

func testSnapshot() Snapshot {
	return Snapshot{
		Version: "1.2.3",
		Sessions: []SessionSummary{
			{ID: "demo-session", Phase: PhaseDone, Stage: "appointment", Status: session.StatusEscalated, Iterations: 1, Max: 3, Turns: 4},
			{ID: "s2", Phase: PhasePaused, Stage: "labs", Status: session.StatusPaused, Iterations: 1, Max: 5, Turns: 3, Exhausted: []string{"triage"}},
		},
		Phases: map[Phase]int{PhaseDone: 1, PhasePaused: 1},
	}
}

func TestNewModel(t *testing.T) {
	model := testModel()
	assert.Equal(t, "http://localhost:8080", model.client.BaseURL())
	assert.Equal(t, 5*time.Second, model.interval)
	assert.False(t, model.quitting)
}

func TestModel_Init(t *testing.T) {
	assert.NotNil(t, testModel().Init())
}

func TestModel_Update_QuitKey(t *testing.T) {
	updated, cmd := testModel().Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	m := updated.(Model)
	assert.True(t, m.quitting)
	assert.NotNil(t, cmd)
	assert.Empty(t, m.View())
}

func TestModel_Update_RefreshKey(t *testing.T) {
	updated, cmd := testModel().Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	assert.False(t, updated.(Model).quitting)
	assert.NotNil(t, cmd)
}

func TestModel_Update_TickMsg(t *testing.T) {
	_, cmd := testModel().Update(tickMsg(time.Now()))
	assert.NotNil(t, cmd)
}

func TestModel_Update_Snapshot(t *testing.T) {
	updated, cmd := testModel().Update(snapshotMsg(testSnapshot()))
	m := updated.(Model)
	assert.Nil(t, cmd)
	assert.Len(t, m.snapshot.Sessions, 2)
	assert.Equal(t, []float64{1}, m.activeHistory)
	assert.Equal(t, []float64{1}, m.doneHistory)
	assert.False(t, m.lastUpdate.IsZero())
	assert.NoError(t, m.err)
}

func TestModel_Update_Cursor(t *testing.T) {
	updated, _ := testModel().Update(snapshotMsg(testSnapshot()))
	down := tea.KeyMsg{Type: tea.KeyDown}
	up := tea.KeyMsg{Type: tea.KeyUp}

	updated, _ = updated.Update(down)
	assert.Equal(t, 1, updated.(Model).cursor)
	updated, _ = updated.Update(down)
	assert.Equal(t, 1, updated.(Model).cursor, "cursor stops at the last row")
	updated, _ = updated.Update(up)
	updated, _ = updated.Update(up)
	assert.Equal(t, 0, updated.(Model).cursor)

	// A shrinking snapshot pulls the cursor back into range.
	m := updated.(Model)
	m.cursor = 1
	updated, _ = m.Update(snapshotMsg(Snapshot{Phases: map[Phase]int{}}))
	assert.Equal(t, 0, updated.(Model).cursor)
}

func TestModel_Update_ErrMsg(t *testing.T) {
	updated, cmd := testModel().Update(errMsg(fmt.Errorf("connection refused")))
	m := updated.(Model)
	assert.ErrorContains(t, m.err, "connection refused")
	assert.Nil(t, cmd)
}

func TestAppendToHistory(t *testing.T) {
	var h []float64
	for i := 0; i < historySize+5; i++ {
		h = appendToHistory(h, float64(i))
	}
	assert.Len(t, h, historySize)
	assert.Equal(t, float64(5), h[0])
}

func TestModel_View_WithSessions(t *testing.T) {
	updated, _ := testModel().Update(snapshotMsg(testSnapshot()))
	m := updated.(Model)
	m.cursor = 1

	view := m.View()
	assert.Contains(t, view, "ClinicPulse Sessions")
	assert.Contains(t, view, "1.2.3")
	assert.Contains(t, view, "demo-session")
	assert.Contains(t, view, "appointment")
	assert.Contains(t, view, "‖ paused")
	assert.Contains(t, view, "1/5")
	assert.Contains(t, view, "triage")
	assert.Contains(t, view, "50.0%")
	assert.Contains(t, view, "[q]")
	assert.Contains(t, view, "[r]")
}

func TestModel_View_WithError(t *testing.T) {
	m := testModel()
	m.err = fmt.Errorf("connection refused")

	view := m.View()
	assert.Contains(t, view, "Cannot reach ClinicPulse server")
	assert.Contains(t, view, "connection refused")
	assert.Contains(t, view, "http://localhost:8080")
	assert.Contains(t, view, "[q]")
}

func TestModel_View_NoData(t *testing.T) {
	view := testModel().View()
	assert.Contains(t, view, "ClinicPulse Sessions")
	assert.Contains(t, view, "No sessions yet")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 20))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
