package statestore

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// QuickSaveSlot is the reserved singleton state name. It is always
// overwritten in place and never renamed.
const QuickSaveSlot = "quick_save.state"

// StateEntry is one named save-state slot: the compressed snapshot plus
// its thumbnail data URI.
type StateEntry struct {
	StateName string `json:"stateName"`
	State     []byte `json:"state"`
	ImageURL  string `json:"imageUrl"`
}

// GameStateEntry is the per-title record owning every state slot for one
// title. It survives with an empty map once all states are deleted.
type GameStateEntry struct {
	GameName string                 `json:"gameName"`
	States   map[string]*StateEntry `json:"states"`
}

// Store keeps one GameStateEntry record per title, each in its own file
// so writers to different titles never contend. Writers to the same
// title serialize on a per-title lock, and every write is a whole-record
// read-modify-write finished with an atomic rename.
type Store struct {
	dir   string
	locks sync.Map // gameName -> *sync.Mutex
	now   func() time.Time
}

// Open prepares the store's directory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// CreateOrUpdateState writes one slot for a title, creating the title's
// record on first use. An existing non-quick-save slot written with
// isUpdate is renamed: the stored entry moves to a fresh
// timestamp-derived name and the old key is removed. The returned entry
// is the one actually stored, under its final name.
func (s *Store) CreateOrUpdateState(gameName string, data []byte, imageURL, stateName string, isUpdate bool) (*StateEntry, error) {
	if stateName == "" {
		stateName = QuickSaveSlot
	}

	lock := s.lockFor(gameName)
	lock.Lock()
	defer lock.Unlock()

	entry, err := s.read(gameName)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		entry = &GameStateEntry{GameName: gameName, States: map[string]*StateEntry{}}
	}

	stored := &StateEntry{StateName: stateName, State: data, ImageURL: imageURL}

	if _, exists := entry.States[stateName]; exists && isUpdate && stateName != QuickSaveSlot {
		// Rename, not duplicate: the refreshed bytes live under a new
		// timestamp name and the old key goes away.
		delete(entry.States, stateName)
		stored.StateName = s.timestampName()
	}
	entry.States[stored.StateName] = stored

	if err := s.write(entry); err != nil {
		return nil, err
	}
	return stored, nil
}

// DeleteState removes one slot. It reports failure, leaving the store
// unchanged, when the title or the slot does not exist.
func (s *Store) DeleteState(gameName, stateName string) (bool, error) {
	lock := s.lockFor(gameName)
	lock.Lock()
	defer lock.Unlock()

	entry, err := s.read(gameName)
	if err != nil {
		return false, err
	}
	if entry == nil {
		return false, nil
	}
	if _, ok := entry.States[stateName]; !ok {
		return false, nil
	}

	delete(entry.States, stateName)
	if err := s.write(entry); err != nil {
		return false, err
	}
	return true, nil
}

// States returns a title's record, or nil when the title has none.
func (s *Store) States(gameName string) (*GameStateEntry, error) {
	lock := s.lockFor(gameName)
	lock.Lock()
	defer lock.Unlock()
	return s.read(gameName)
}

// LoadState returns the stored (still compressed) snapshot bytes for one
// slot, or nil when the title or slot is unknown.
func (s *Store) LoadState(gameName, stateName string) ([]byte, error) {
	if stateName == "" {
		stateName = QuickSaveSlot
	}

	entry, err := s.States(gameName)
	if err != nil || entry == nil {
		return nil, err
	}
	state, ok := entry.States[stateName]
	if !ok {
		return nil, nil
	}
	return state.State, nil
}

func (s *Store) lockFor(gameName string) *sync.Mutex {
	lock, _ := s.locks.LoadOrStore(gameName, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func (s *Store) recordPath(gameName string) string {
	return filepath.Join(s.dir, url.PathEscape(gameName)+".json")
}

func (s *Store) timestampName() string {
	return fmt.Sprintf("%d.state", s.now().Unix())
}

func (s *Store) read(gameName string) (*GameStateEntry, error) {
	raw, err := os.ReadFile(s.recordPath(gameName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state record: %w", err)
	}

	var entry GameStateEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("corrupt state record for %q: %w", gameName, err)
	}
	if entry.States == nil {
		entry.States = map[string]*StateEntry{}
	}
	return &entry, nil
}

func (s *Store) write(entry *GameStateEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	path := s.recordPath(entry.GameName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return fmt.Errorf("failed to write state record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize state record: %w", err)
	}
	return nil
}
