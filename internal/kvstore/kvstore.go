package kvstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Store is the durable key-value medium backing the auth session, the
// cached folder id, the BIOS image and per-title battery saves. Values
// persist as a single JSON file under the data directory; writes go
// through a temp file and rename so a crash never leaves a torn file.
type Store struct {
	path string

	mu   sync.Mutex
	data map[string]string
}

// Open loads the store at dir/keyvalue.json, creating the directory if
// needed. A missing or corrupt file is treated as an empty store, never
// an error.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &Store{
		path: filepath.Join(dir, "keyvalue.json"),
		data: make(map[string]string),
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		// Corrupt file: start over rather than refusing to run.
		s.data = make(map[string]string)
	}
	return s, nil
}

// Get returns the value for key and whether it was present.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// Set stores key=value and persists the store.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return s.flush()
}

// Delete removes key if present and persists the store.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return s.flush()
}

// Keys returns every key currently present, sorted.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SetBytes stores a binary blob as a JSON-encoded byte array, the format
// the original frontend used for battery saves and the BIOS image.
func (s *Store) SetBytes(key string, value []byte) error {
	encoded, err := json.Marshal(toInts(value))
	if err != nil {
		return err
	}
	return s.Set(key, string(encoded))
}

// Bytes returns the blob stored under key, or nil if the key is absent
// or not a JSON byte array.
func (s *Store) Bytes(key string) []byte {
	raw, ok := s.Get(key)
	if !ok {
		return nil
	}
	var ints []int
	if err := json.Unmarshal([]byte(raw), &ints); err != nil {
		return nil
	}
	out := make([]byte, len(ints))
	for i, v := range ints {
		out[i] = byte(v)
	}
	return out
}

// flush must be called with mu held.
func (s *Store) flush() error {
	encoded, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0600); err != nil {
		return fmt.Errorf("failed to write store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize store: %w", err)
	}
	return nil
}

func toInts(b []byte) []int {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}
