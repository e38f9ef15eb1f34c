//go:build windows

package handler

import "golang.org/x/sys/windows"

// getDiskStats returns total and free bytes of the volume holding path.
func getDiskStats(path string) (total, free int64, usedPct float64) {
	ptr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, 0, 0
	}
	var freeBytes, totalBytes, totalFreeBytes uint64
	if err := windows.GetDiskFreeSpaceEx(ptr, &freeBytes, &totalBytes, &totalFreeBytes); err != nil {
		return 0, 0, 0
	}
	total, free = int64(totalBytes), int64(freeBytes)
	if total > 0 {
		usedPct = float64(total-free) / float64(total) * 100
	}
	return total, free, usedPct
}
