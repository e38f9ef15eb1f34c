package ui

import (
	"testing"
	"time"

	"github.com/iconidentify/streamfetch/internal/domain"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
		{3 * 1024 * 1024 * 1024, "3.0 GiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatETA(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{-1, "-"},
		{0, "0:00"},
		{75 * time.Second, "1:15"},
		{2*time.Hour + 5*time.Minute, "2h05m"},
	}
	for _, tt := range tests {
		if got := formatETA(tt.in); got != tt.want {
			t.Errorf("formatETA(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestProgressBar(t *testing.T) {
	tests := []struct {
		pct  float64
		want string
	}{
		{-1, "[?????]    ?"},
		{0, "[.....]   0%"},
		{40, "[##...]  40%"},
		{100, "[#####] 100%"},
	}
	for _, tt := range tests {
		if got := progressBar(tt.pct, 5); got != tt.want {
			t.Errorf("progressBar(%v) = %q, want %q", tt.pct, got, tt.want)
		}
	}
}

func TestJobLabel(t *testing.T) {
	if got := jobLabel(domain.Job{Title: "Song", SourceID: "abc"}); got != "Song" {
		t.Errorf("jobLabel = %q, want Song", got)
	}
	if got := jobLabel(domain.Job{SourceID: "abc", URL: "https://x"}); got != "abc" {
		t.Errorf("jobLabel = %q, want abc", got)
	}
	if got := truncateString("abcdefghij", 8); got != "abcde..." {
		t.Errorf("truncateString = %q, want abcde...", got)
	}
}
