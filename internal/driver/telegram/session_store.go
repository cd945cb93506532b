package telegram

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/gotd/td/session"
)

// fileSessionStorage persists the gotd session, replacing the file atomically
// so a crash mid-write never leaves a truncated session behind.
type fileSessionStorage struct {
	path string
}

func newFileSessionStorage(path string) (fileSessionStorage, error) {
	if path == "" {
		return fileSessionStorage{}, fmt.Errorf("session storage: empty path")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fileSessionStorage{}, fmt.Errorf("session storage: resolve %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o700); err != nil {
		return fileSessionStorage{}, fmt.Errorf("session storage: create directory: %w", err)
	}

	return fileSessionStorage{path: absPath}, nil
}

// LoadSession implements session.Storage.
func (s fileSessionStorage) LoadSession(context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load telegram session: %w", err)
	}

	return data, nil
}

// StoreSession implements session.Storage.
func (s fileSessionStorage) StoreSession(_ context.Context, data []byte) error {
	if err := renameio.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("store telegram session: %w", err)
	}

	return nil
}

var _ session.Storage = fileSessionStorage{}
