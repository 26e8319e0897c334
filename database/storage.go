package database

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Storage is a flat namespace of named byte records
type Storage interface {
	Exists(name string) bool
	Read(name string) ([]byte, error)
	Write(name string, data []byte) error
	Remove(name string) error
}

// ErrNoRecord is returned by Storage implementations for a missing name
var ErrNoRecord = errors.New("no such record")

// DirStorage keeps each record as a file in one directory
type DirStorage struct {
	dir string
}

// NewDirStorage creates dir if needed
func NewDirStorage(dir string) (*DirStorage, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("storage directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &DirStorage{dir: dir}, nil
}

func (d *DirStorage) Dir() string {
	return d.dir
}

func (d *DirStorage) path(name string) string {
	return filepath.Join(d.dir, filepath.Base(name))
}

func (d *DirStorage) Exists(name string) bool {
	info, err := os.Stat(d.path(name))
	return err == nil && !info.IsDir()
}

func (d *DirStorage) Read(name string) ([]byte, error) {
	data, err := os.ReadFile(d.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, ErrNoRecord)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

// Write replaces the record atomically through a temp file and rename
func (d *DirStorage) Write(name string, data []byte) error {
	tmp, err := os.CreateTemp(d.dir, ".tmp-"+filepath.Base(name)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), d.path(name)); err != nil {
		return fmt.Errorf("failed to commit %s: %w", name, err)
	}
	return nil
}

func (d *DirStorage) Remove(name string) error {
	err := os.Remove(d.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", name, ErrNoRecord)
	}
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", name, err)
	}
	return nil
}

// MemStorage is an in-memory Storage, used for dry runs and tests
type MemStorage struct {
	records map[string][]byte
}

func NewMemStorage() *MemStorage {
	return &MemStorage{records: map[string][]byte{}}
}

func (m *MemStorage) Exists(name string) bool {
	_, ok := m.records[name]
	return ok
}

func (m *MemStorage) Read(name string) ([]byte, error) {
	data, ok := m.records[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNoRecord)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemStorage) Write(name string, data []byte) error {
	m.records[name] = append([]byte(nil), data...)
	return nil
}

func (m *MemStorage) Remove(name string) error {
	if _, ok := m.records[name]; !ok {
		return fmt.Errorf("%s: %w", name, ErrNoRecord)
	}
	delete(m.records, name)
	return nil
}
