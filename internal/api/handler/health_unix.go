//go:build !windows

package handler

import "syscall"

// getDiskStats returns total and free bytes of the volume holding path.
func getDiskStats(path string) (total, free int64, usedPct float64) {
	var statfs syscall.Statfs_t
	if err := syscall.Statfs(path, &statfs); err != nil {
		return 0, 0, 0
	}
	total = int64(statfs.Blocks) * int64(statfs.Bsize)
	free = int64(statfs.Bavail) * int64(statfs.Bsize)
	if total > 0 {
		usedPct = float64(total-free) / float64(total) * 100
	}
	return total, free, usedPct
}
