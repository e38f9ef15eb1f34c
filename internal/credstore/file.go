package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/iconidentify/streamfetch/internal/domain"
	"github.com/iconidentify/streamfetch/pkg/crypto"
)

const (
	// SessionFile holds the credential set and its metadata.
	SessionFile = "session.json"
	// CookiesFile is a Netscape export of the same cookies.
	CookiesFile = "cookies.txt"

	recordVersion = 1
)

// record is the on-disk layout of session.json.
type record struct {
	Version int                   `json:"version"`
	SavedAt time.Time             `json:"saved_at"`
	Session *domain.CredentialSet `json:"session"`
}

// FileStore keeps the session in a directory on local disk. Files are
// replaced atomically and readable by the owner only.
type FileStore struct {
	dir    string
	sealer *crypto.Sealer
	logger *slog.Logger

	mu sync.Mutex
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithSealer encrypts session.json and disables the cookies.txt export.
func WithSealer(s *crypto.Sealer) FileStoreOption {
	return func(fs *FileStore) {
		fs.sealer = s
	}
}

// NewFileStore creates a store rooted at dir. The directory is created on
// first Save.
func NewFileStore(dir string, logger *slog.Logger, opts ...FileStoreOption) *FileStore {
	fs := &FileStore{
		dir:    dir,
		logger: logger.With("component", "credstore"),
	}
	for _, opt := range opts {
		opt(fs)
	}
	return fs
}

// SessionPath returns the path of session.json.
func (fs *FileStore) SessionPath() string {
	return filepath.Join(fs.dir, SessionFile)
}

// CookiesPath returns the path of the Netscape export.
func (fs *FileStore) CookiesPath() string {
	return filepath.Join(fs.dir, CookiesFile)
}

// Load implements Store.
func (fs *FileStore) Load(ctx context.Context) (*domain.CredentialSet, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path := fs.SessionPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrCredentialsNotFound
		}
		return nil, &domain.IOError{Op: "read", Path: path, Err: err}
	}

	if crypto.IsSealed(data) {
		if fs.sealer == nil {
			return nil, &domain.IOError{Op: "decrypt", Path: path, Err: errors.New("session is encrypted and no passphrase is set")}
		}
		data, err = fs.sealer.Open(data)
		if err != nil {
			return nil, &domain.IOError{Op: "decrypt", Path: path, Err: err}
		}
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, &domain.IOError{Op: "decode", Path: path, Err: err}
	}
	if rec.Version != recordVersion {
		return nil, &domain.IOError{Op: "decode", Path: path, Err: fmt.Errorf("unsupported session version %d", rec.Version)}
	}
	if rec.Session.IsEmpty() {
		return nil, domain.ErrCredentialsNotFound
	}

	return rec.Session, nil
}

// Save implements Store.
func (fs *FileStore) Save(ctx context.Context, set *domain.CredentialSet) error {
	if set.IsEmpty() {
		return fs.Clear(ctx)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.MkdirAll(fs.dir, 0700); err != nil {
		return &domain.IOError{Op: "mkdir", Path: fs.dir, Err: err}
	}

	data, err := json.MarshalIndent(record{
		Version: recordVersion,
		SavedAt: time.Now().UTC(),
		Session: set,
	}, "", "  ")
	if err != nil {
		return &domain.IOError{Op: "encode", Path: fs.SessionPath(), Err: err}
	}

	if fs.sealer != nil {
		data, err = fs.sealer.Seal(data)
		if err != nil {
			return &domain.IOError{Op: "encrypt", Path: fs.SessionPath(), Err: err}
		}
	}

	if err := writeFileAtomic(fs.SessionPath(), data); err != nil {
		return &domain.IOError{Op: "write", Path: fs.SessionPath(), Err: err}
	}

	if fs.sealer != nil {
		// A plaintext export would defeat the encryption.
		if err := removeIfExists(fs.CookiesPath()); err != nil {
			fs.logger.Warn("failed to remove stale cookies export", "path", fs.CookiesPath(), "error", err)
		}
		return nil
	}

	if err := writeFileAtomic(fs.CookiesPath(), []byte(set.Netscape())); err != nil {
		return &domain.IOError{Op: "write", Path: fs.CookiesPath(), Err: err}
	}

	fs.logger.Debug("session saved", "cookies", len(set.Cookies), "encrypted", fs.sealer != nil)
	return nil
}

// Clear implements Store.
func (fs *FileStore) Clear(ctx context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for _, path := range []string{fs.SessionPath(), fs.CookiesPath()} {
		if err := removeIfExists(path); err != nil {
			return &domain.IOError{Op: "remove", Path: path, Err: err}
		}
	}
	return nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place, so readers never see a partial file.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
