package storage

import (
	"fmt"
	"strings"
)

// Backend names
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendMemory = "memory"
)

// Backend is a flat key-value store
type Backend interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	// SetMany writes every value or none of them
	SetMany(values map[string][]byte) error
	Close() error
}

// Open opens the named backend at path
func Open(backend, path string) (Backend, error) {
	switch strings.ToLower(backend) {
	case BackendSQLite:
		db, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return db, nil
	case BackendFile:
		f, err := OpenFile(path)
		if err != nil {
			return nil, err
		}
		return f, nil
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
