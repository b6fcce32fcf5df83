// Package settings is the persisted key-value configuration store the host
// layer shares with the pipeline. Values are kept in a single JSON file and
// flushed on every Set.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store is a file-backed key-value store. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	path     string
	values   map[string]any
	watchers []func(key string, value any)
}

// Open loads the store at path, starting empty if the file does not exist.
// A corrupt file is an error: configuration problems should fail loudly at
// startup, unlike cache snapshots.
func Open(path string) (*Store, error) {
	s := &Store{path: path, values: make(map[string]any)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}
	if err := json.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("parse settings file %s: %w", path, err)
	}
	return s, nil
}

// Get returns the value for key, or def when unset.
func (s *Store) Get(key string, def any) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.values[key]; ok {
		return v
	}
	return def
}

// GetFloat returns a numeric setting. JSON numbers decode as float64.
func (s *Store) GetFloat(key string, def float64) float64 {
	switch v := s.Get(key, def).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

// GetBool returns a boolean setting.
func (s *Store) GetBool(key string, def bool) bool {
	if v, ok := s.Get(key, def).(bool); ok {
		return v
	}
	return def
}

// GetString returns a string setting.
func (s *Store) GetString(key string, def string) string {
	if v, ok := s.Get(key, def).(string); ok {
		return v
	}
	return def
}

// Set stores and persists the value, then notifies watchers.
func (s *Store) Set(key string, value any) error {
	s.mu.Lock()
	s.values[key] = value
	watchers := append([]func(string, any){}, s.watchers...)
	err := s.flushLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	for _, w := range watchers {
		w(key, value)
	}
	return nil
}

// Watch registers fn to run after every successful Set.
func (s *Store) Watch(fn func(key string, value any)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, fn)
}

func (s *Store) flushLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}
	return nil
}
