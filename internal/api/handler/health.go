package handler

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/iconidentify/streamfetch/internal/events"
	"github.com/iconidentify/streamfetch/internal/scheduler"
)

var startTime = time.Now()

// SchedulerStats is implemented by the download service.
type SchedulerStats interface {
	Stats() scheduler.Stats
}

// BusStats is implemented by the event bus.
type BusStats interface {
	Stats() events.Stats
}

// HealthHandler handles health check and statistics endpoints.
type HealthHandler struct {
	sched     SchedulerStats
	bus       BusStats
	outputDir string
}

// NewHealthHandler creates a new health handler. bus may be nil.
func NewHealthHandler(sched SchedulerStats, bus BusStats, outputDir string) *HealthHandler {
	return &HealthHandler{
		sched:     sched,
		bus:       bus,
		outputDir: outputDir,
	}
}

// HealthResponse is the JSON response for health checks.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Reason    string `json:"reason,omitempty"`
}

// Live handles GET /health - liveness probe.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready - readiness probe. A halted scheduler is not ready.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	stats := h.sched.Stats()
	if stats.Halted {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:    "halted",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Reason:    stats.HaltReason,
		})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// SystemStats contains scheduler, event bus and process statistics.
type SystemStats struct {
	Uptime         int64           `json:"uptime_seconds"`
	UptimeHuman    string          `json:"uptime_human"`
	Scheduler      scheduler.Stats `json:"scheduler"`
	Events         *events.Stats   `json:"events,omitempty"`
	MemAllocMB     int64           `json:"mem_alloc_mb"`
	MemSysMB       int64           `json:"mem_sys_mb"`
	NumGoroutines  int             `json:"num_goroutines"`
	NumCPU         int             `json:"num_cpu"`
	OutputDir      string          `json:"output_dir"`
	DiskFreeBytes  int64           `json:"disk_free_bytes"`
	DiskTotalBytes int64           `json:"disk_total_bytes"`
	DiskUsedPct    float64         `json:"disk_used_pct"`
}

// Stats handles GET /api/v1/stats - system statistics.
func (h *HealthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(startTime)
	stats := SystemStats{
		Uptime:        int64(uptime.Seconds()),
		UptimeHuman:   formatUptime(uptime),
		Scheduler:     h.sched.Stats(),
		MemAllocMB:    int64(m.Alloc / 1024 / 1024),
		MemSysMB:      int64(m.Sys / 1024 / 1024),
		NumGoroutines: runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		OutputDir:     h.outputDir,
	}
	if h.bus != nil {
		es := h.bus.Stats()
		stats.Events = &es
	}
	if h.outputDir != "" {
		stats.DiskTotalBytes, stats.DiskFreeBytes, stats.DiskUsedPct = getDiskStats(h.outputDir)
	}

	writeJSON(w, http.StatusOK, stats)
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}
