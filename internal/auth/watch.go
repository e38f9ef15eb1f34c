package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 500 * time.Millisecond

// ErrWatchOwnExport is returned when asked to watch the cookie export the
// credential store itself writes on every save.
var ErrWatchOwnExport = errors.New("cookie file is the session store's own export")

// cookieExporter is implemented by stores that mirror the session into a
// cookies.txt file.
type cookieExporter interface {
	CookiesPath() string
}

// WatchCookieFile imports path whenever it is created or rewritten. The
// parent directory is watched so that editors replacing the file by rename
// are picked up. The watch ends when ctx is cancelled.
func (m *SessionManager) WatchCookieFile(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("watch cookie file: %w", err)
	}
	if exp, ok := m.store.(cookieExporter); ok && samePath(path, exp.CookiesPath()) {
		return fmt.Errorf("watch cookie file %s: %w", path, ErrWatchOwnExport)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	logger := m.logger.With("path", path)
	logger.Info("watching cookie file")

	go func() {
		defer watcher.Close()

		pending := time.NewTimer(watchDebounce)
		pending.Stop()
		defer pending.Stop()

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path {
					continue
				}
				if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
					pending.Reset(watchDebounce)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("cookie file watcher error", "error", err)

			case <-pending.C:
				data, err := os.ReadFile(path)
				if err != nil {
					logger.Warn("read cookie file", "error", err)
					continue
				}
				if err := m.ImportCookies(ctx, string(data)); err != nil {
					logger.Warn("import watched cookie file", "error", err)
					continue
				}
				logger.Info("imported watched cookie file")

			case <-ctx.Done():
				logger.Debug("cookie file watch stopped")
				return
			}
		}
	}()

	return nil
}

// samePath reports whether a and b name the same file. Paths are compared
// absolutely, and through the directory's resolved symlinks when possible.
func samePath(a, b string) bool {
	return resolvePath(a) == resolvePath(b)
}

func resolvePath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	dir, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		return abs
	}
	return filepath.Join(dir, filepath.Base(abs))
}
