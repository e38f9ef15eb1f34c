package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/iconidentify/streamfetch/internal/domain"
	"github.com/iconidentify/streamfetch/internal/scheduler"
)

// DiskPreflight returns a scheduler preflight that fails with
// domain.ErrDiskFull when the job's output volume has less than minFree
// bytes available. A minFree of zero disables the check.
func DiskPreflight(minFree int64, logger *slog.Logger) scheduler.Preflight {
	return diskPreflight(minFree, freeDiskSpace, logger)
}

func diskPreflight(minFree int64, free func(string) (int64, error), logger *slog.Logger) scheduler.Preflight {
	logger = logger.With("component", "disk_preflight")
	return func(ctx context.Context, job *domain.Job) error {
		if minFree <= 0 {
			return nil
		}
		if err := os.MkdirAll(job.OutputDir, 0755); err != nil {
			return &domain.IOError{Op: "create output dir", Path: job.OutputDir, Err: err}
		}
		avail, err := free(job.OutputDir)
		if err != nil {
			// An unknown volume is not treated as full.
			logger.Warn("failed to read free disk space", "path", job.OutputDir, "error", err)
			return nil
		}
		if avail < minFree {
			logger.Error("insufficient disk space",
				"path", job.OutputDir,
				"free_bytes", avail,
				"min_free_bytes", minFree,
			)
			return fmt.Errorf("%s has %s free, need %s: %w",
				job.OutputDir, formatBytes(avail), formatBytes(minFree), domain.ErrDiskFull)
		}
		return nil
	}
}

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
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
