//go:build windows

package service

import (
	"fmt"

	"golang.org/x/sys/windows"
)

func freeDiskSpace(path string) (int64, error) {
	ptr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, fmt.Errorf("encode path %s: %w", path, err)
	}

	var freeBytes, totalBytes, totalFreeBytes uint64
	if err := windows.GetDiskFreeSpaceEx(ptr, &freeBytes, &totalBytes, &totalFreeBytes); err != nil {
		return 0, fmt.Errorf("query free space of %s: %w", path, err)
	}
	return int64(freeBytes), nil
}
