package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ruteri/device-pki/interfaces"
)

// FileBackend implements a keystore backend using a single file on the local
// file system. Every Save rewrites the whole file atomically.
type FileBackend struct {
	path        string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a file keystore backend for path.
// The parent directory is created if it doesn't exist.
func NewFileBackend(path string, log *slog.Logger) (*FileBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty keystore path", interfaces.ErrInvalidLocationURI)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create keystore directory: %w", err)
	}

	return &FileBackend{
		path:        path,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", path),
	}, nil
}

// Load reads the keystore file.
// Returns ErrKeystoreNotFound if the file doesn't exist.
func (b *FileBackend) Load(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, interfaces.ErrKeystoreNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore file: %w", err)
	}

	b.log.Debug("Loaded keystore from file",
		slog.String("path", b.path),
		slog.Int("size", len(data)))

	return data, nil
}

// Save writes data to a temporary file next to the keystore and renames it
// over the previous version, so a crash never leaves a partial document.
func (b *FileBackend) Save(ctx context.Context, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(b.path), "."+filepath.Base(b.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set keystore permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write keystore: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync keystore: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close keystore: %w", err)
	}

	if err := os.Rename(tmpName, b.path); err != nil {
		return fmt.Errorf("failed to replace keystore: %w", err)
	}

	b.log.Debug("Stored keystore in file",
		slog.String("path", b.path),
		slog.Int("size", len(data)))

	return nil
}

// Available checks that the keystore directory exists.
func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(filepath.Dir(b.path))
	if err != nil {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.path))
}

// LocationURI returns the URI that identifies this storage backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}
