package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore implements RecordStore as a single JSON file.
// The file path is the origin. Writes go through a temp file and rename,
// so readers in other processes never see a partial record.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFile creates a file-backed record store. The parent directory is created if needed.
func NewFile(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("file: failed to create directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Load reads the record file.
func (s *FileStore) Load(ctx context.Context) (*Record, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file: failed to read record: %w", err)
	}
	return Unmarshal(data)
}

// Save atomically replaces the record file.
func (s *FileStore) Save(ctx context.Context, rec *Record) error {
	data, err := Marshal(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return atomicWrite(s.path, data)
}

// Clear removes the record file.
func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("file: failed to remove record: %w", err)
	}
	return nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}

// atomicWrite writes to a temp file in the same directory, syncs it and renames it over path.
func atomicWrite(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".record-*")
	if err != nil {
		return fmt.Errorf("file: failed to create temp file: %w", err)
	}
	tempPath := f.Name()

	success := false
	defer func() {
		if !success {
			f.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("file: failed to write record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("file: failed to sync record: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("file: failed to close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, 0o600); err != nil {
		return fmt.Errorf("file: failed to set permissions: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("file: failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
