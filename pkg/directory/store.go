package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// DefaultFileName is the directory file used when none is configured.
const DefaultFileName = "groups.json"

const defaultFileMode fs.FileMode = 0o644

// Store loads and saves the whole directory as one unit.
type Store interface {
	// Load returns the persisted directory. A store that does not exist yet is
	// created empty.
	Load(ctx context.Context) (Directory, error)
	// Save replaces the persisted directory atomically.
	Save(ctx context.Context, directory Directory) error
}

// FileStore persists the directory as an indented JSON object in one file.
type FileStore struct {
	path string
	mode fs.FileMode
}

// NewFileStore creates a store backed by path.
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultFileName
	}

	return &FileStore{path: filepath.Clean(path), mode: defaultFileMode}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the directory file, creating it as {} when absent.
func (s *FileStore) Load(ctx context.Context) (Directory, error) {
	if err := ctx.Err(); err != nil {
		return Directory{}, fmt.Errorf("load directory %s: %w", s.path, err)
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		empty := Directory{}
		if saveErr := s.Save(ctx, empty); saveErr != nil {
			return Directory{}, fmt.Errorf("initialize directory %s: %w", s.path, saveErr)
		}
		return empty, nil
	}
	if err != nil {
		return Directory{}, fmt.Errorf("load directory %s: %w: %w", s.path, ErrStoreReadFailed, err)
	}

	var directory Directory
	if err := json.Unmarshal(data, &directory); err != nil {
		return Directory{}, fmt.Errorf("load directory %s: %w: %w", s.path, ErrStoreCorrupt, err)
	}

	return directory, nil
}

// Save writes the directory with sorted keys and two-space indentation.
//
// The content goes to a temporary file in the same directory which is synced
// and renamed over the target, so readers never observe a partial write.
func (s *FileStore) Save(ctx context.Context, directory Directory) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("save directory %s: %w", s.path, err)
	}

	data, err := Encode(directory)
	if err != nil {
		return fmt.Errorf("save directory %s: %w: %w", s.path, ErrStoreWriteFailed, err)
	}
	if err := renameio.WriteFile(s.path, data, s.mode); err != nil {
		return fmt.Errorf("save directory %s: %w: %w", s.path, ErrStoreWriteFailed, err)
	}

	return nil
}

// Encode renders directory in the on-disk format.
func Encode(directory Directory) ([]byte, error) {
	data, err := encodeJSON(directory.plain(), "  ")
	if err != nil {
		return nil, fmt.Errorf("encode directory: %w", err)
	}

	return data, nil
}

var _ Store = (*FileStore)(nil)
