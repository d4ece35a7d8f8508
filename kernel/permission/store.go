package permission

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// MemoryStore is a thread-safe in-memory override store.
type MemoryStore struct {
	mu        sync.RWMutex
	overrides map[string]Decision
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{overrides: map[string]Decision{}}
}

func (s *MemoryStore) Get(identifier string) (Decision, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	level, ok := s.overrides[identifier]
	return level, ok
}

func (s *MemoryStore) Set(identifier string, level Decision) error {
	if identifier == "" {
		return fmt.Errorf("permission: identifier is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[identifier] = level
	return nil
}

func (s *MemoryStore) Clear(identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overrides, identifier)
	return nil
}

type overrideFile struct {
	Overrides map[string]string `toml:"overrides"`
}

// FileStore persists overrides to one TOML file. Reads are served from an
// in-memory copy; every mutation rewrites the file before returning.
type FileStore struct {
	mu        sync.RWMutex
	path      string
	overrides map[string]Decision
}

// NewFileStore loads or creates the override file at path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("permission: override file path is empty")
	}
	store := &FileStore{path: path, overrides: map[string]Decision{}}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store, nil
		}
		return nil, fmt.Errorf("permission: read overrides: %w", err)
	}
	var file overrideFile
	if err := toml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("permission: parse overrides: %w", err)
	}
	for identifier, value := range file.Overrides {
		level, err := ParseDecision(value)
		if err != nil {
			return nil, fmt.Errorf("permission: override for %q: %w", identifier, err)
		}
		store.overrides[identifier] = level
	}
	return store, nil
}

func (s *FileStore) Get(identifier string) (Decision, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	level, ok := s.overrides[identifier]
	return level, ok
}

func (s *FileStore) Set(identifier string, level Decision) error {
	if identifier == "" {
		return fmt.Errorf("permission: identifier is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[identifier] = level
	return s.writeLocked()
}

func (s *FileStore) Clear(identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overrides, identifier)
	return s.writeLocked()
}

func (s *FileStore) writeLocked() error {
	file := overrideFile{Overrides: map[string]string{}}
	for identifier, level := range s.overrides {
		file.Overrides[identifier] = string(level)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("permission: create override dir: %w", err)
		}
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("permission: write overrides: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(file); err != nil {
		return fmt.Errorf("permission: encode overrides: %w", err)
	}
	return nil
}
