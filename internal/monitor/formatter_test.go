package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/clinicpulse/internal/session"
)

func TestFormatPercentage(t *testing.T) {
	assert.Equal(t, "0.0%", FormatPercentage(0))
	assert.Equal(t, "50.0%", FormatPercentage(0.5))
	assert.Equal(t, "100.0%", FormatPercentage(1))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		seconds  int64
		expected string
	}{
		{"zero", 0, "0m"},
		{"minutes", 300, "5m"},
		{"hours", 8100, "2h 15m"},
		{"exact_hour", 3600, "1h 0m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatDuration(tt.seconds))
		})
	}
}

func TestFormatIterations(t *testing.T) {
	assert.Equal(t, "2/3", FormatIterations(2, 3))
	assert.Equal(t, "4", FormatIterations(4, 0))
}

func TestFormatStatus(t *testing.T) {
	tests := []struct {
		status   session.Status
		expected string
	}{
		{session.StatusEscalated, "✓ escalated"},
		{session.StatusRunning, "● running"},
		{session.StatusPaused, "‖ paused"},
		{session.StatusExhausted, "✗ exhausted"},
		{session.StatusPending, "○ pending"},
		{"", "-"},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatStatus(tt.status))
		})
	}
}

func TestFormatStages(t *testing.T) {
	assert.Equal(t, "-", FormatStages(nil))
	assert.Equal(t, "labs,briefing", FormatStages([]string{"labs", "briefing"}))
}
