package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/iconidentify/streamfetch/internal/domain"
)

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}

func formatRate(bps float64) string {
	if bps <= 0 {
		return "-"
	}
	return formatBytes(int64(bps)) + "/s"
}

func formatETA(d time.Duration) string {
	if d < 0 {
		return "-"
	}
	d = d.Round(time.Second)
	if d >= time.Hour {
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

// progressBar renders pct (0-100, or -1 when unknown) as a fixed-width bar.
func progressBar(pct float64, width int) string {
	if pct < 0 {
		return "[" + strings.Repeat("?", width) + "]    ?"
	}
	filled := int(pct / 100 * float64(width))
	if filled > width {
		filled = width
	}
	return fmt.Sprintf("[%s%s] %3.0f%%", strings.Repeat("#", filled), strings.Repeat(".", width-filled), pct)
}

func stateColor(s domain.JobState) string {
	switch s {
	case domain.JobStateRunning:
		return "green"
	case domain.JobStateRetrying:
		return "yellow"
	case domain.JobStateSucceeded:
		return "aqua"
	case domain.JobStateFailed:
		return "red"
	case domain.JobStateCancelled:
		return "gray"
	default:
		return "white"
	}
}

func authColor(s domain.AuthState) string {
	switch s {
	case domain.AuthStateAuthenticated:
		return "green"
	case domain.AuthStateAuthenticating:
		return "yellow"
	case domain.AuthStateExpired:
		return "red"
	default:
		return "gray"
	}
}

func severityColor(s domain.EventSeverity) string {
	switch s {
	case domain.EventSeverityWarning:
		return "yellow"
	case domain.EventSeverityError:
		return "red"
	case domain.EventSeveritySuccess:
		return "green"
	default:
		return "white"
	}
}

func jobLabel(j domain.Job) string {
	if j.Title != "" {
		return j.Title
	}
	if j.SourceID != "" {
		return j.SourceID
	}
	return j.URL
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
