package monitor

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/clinicpulse/internal/session"
)

// FormatPercentage formats a ratio (0-1) as percentage
func FormatPercentage(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// FormatDuration formats duration in seconds to "Xh Ym" or "Xm"
func FormatDuration(seconds int64) string {
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// FormatIterations formats a stage attempt count as "n/max".
func FormatIterations(n, max int) string {
	if max <= 0 {
		return fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("%d/%d", n, max)
}

// FormatStatus renders a stage status with a symbol.
func FormatStatus(s session.Status) string {
	switch s {
	case session.StatusEscalated:
		return "✓ " + string(s)
	case session.StatusRunning:
		return "● " + string(s)
	case session.StatusPaused:
		return "‖ " + string(s)
	case session.StatusExhausted:
		return "✗ " + string(s)
	case "":
		return "-"
	default:
		return "○ " + string(s)
	}
}

// FormatStages joins stage names, or "-" when there are none.
func FormatStages(names []string) string {
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}
