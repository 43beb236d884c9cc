package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File keeps every key in a single JSON object on disk.
// Each Set rewrites the file through a temporary file and rename.
type File struct {
	path string
	data map[string]string
	mu   sync.Mutex
}

// OpenFile loads path, treating a missing file as empty
func OpenFile(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	f := &File{path: path, data: make(map[string]string)}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read store file: %w", err)
	}

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &f.data); err != nil {
			return nil, fmt.Errorf("failed to parse store file %s: %w", path, err)
		}
	}
	return f, nil
}

func (f *File) Get(key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return nil, false, nil
	}
	return []byte(v), true, nil
}

func (f *File) Set(key string, value []byte) error {
	return f.SetMany(map[string][]byte{key: value})
}

// SetMany applies values and rewrites the file once. On failure the
// previous contents are restored.
func (f *File) SetMany(values map[string][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev := make(map[string]string, len(f.data))
	for k, v := range f.data {
		prev[k] = v
	}
	for k, v := range values {
		f.data[k] = string(v)
	}
	if err := f.flush(); err != nil {
		f.data = prev
		return err
	}
	return nil
}

func (f *File) Close() error { return nil }

func (f *File) flush() error {
	raw, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store file: %w", err)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp store file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close store file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}
