package state

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/emukit/gbasync/internal/emulator"
	"github.com/emukit/gbasync/internal/statestore"
)

// ErrNoGame is returned when a state operation runs before a title was
// selected.
var ErrNoGame = errors.New("no game selected")

// Manager captures and restores save states for the currently selected
// title. Snapshots are gzip-compressed before they reach the store and
// inflated on the way back out.
type Manager struct {
	unit  emulator.ExecutionUnit
	store *statestore.Store
	log   zerolog.Logger

	mu   sync.RWMutex
	game string
}

func NewManager(unit emulator.ExecutionUnit, store *statestore.Store, log zerolog.Logger) *Manager {
	return &Manager{unit: unit, store: store, log: log}
}

// SetGame selects the title that subsequent state operations apply to.
func (m *Manager) SetGame(gameName string) {
	m.mu.Lock()
	m.game = gameName
	m.mu.Unlock()
}

func (m *Manager) Game() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.game
}

// CreateSaveState snapshots the running core and stores it under
// stateName for the current title. See StoreSnapshot for the naming
// rules.
func (m *Manager) CreateSaveState(imageDataURL, stateName string, isUpdate bool) (*statestore.StateEntry, error) {
	game := m.Game()
	if game == "" {
		return nil, ErrNoGame
	}

	snapshot, err := m.unit.SnapshotState()
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot state: %w", err)
	}
	return m.StoreSnapshot(game, snapshot, imageDataURL, stateName, isUpdate)
}

// StoreSnapshot compresses an already-captured snapshot and writes it to
// the store. An empty stateName means the quick-save slot; updating an
// existing named slot renames it to a timestamp-derived name.
func (m *Manager) StoreSnapshot(gameName string, snapshot []byte, imageDataURL, stateName string, isUpdate bool) (*statestore.StateEntry, error) {
	compressed, err := Compress(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to compress state: %w", err)
	}

	stored, err := m.store.CreateOrUpdateState(gameName, compressed, imageDataURL, stateName, isUpdate)
	if err != nil {
		return nil, err
	}

	m.log.Debug().
		Str("game", gameName).
		Str("state", stored.StateName).
		Int("rawBytes", len(snapshot)).
		Int("storedBytes", len(compressed)).
		Msg("Save state stored")
	return stored, nil
}

// LoadSaveState restores the named slot into the running core.
func (m *Manager) LoadSaveState(stateName string) error {
	game := m.Game()
	if game == "" {
		return ErrNoGame
	}

	snapshot, err := m.StateData(game, stateName)
	if err != nil {
		return err
	}
	if snapshot == nil {
		return fmt.Errorf("no state %q for %q", stateName, game)
	}
	if err := m.unit.RestoreState(snapshot); err != nil {
		return fmt.Errorf("failed to restore state: %w", err)
	}

	m.log.Debug().Str("game", game).Str("state", stateName).Msg("Save state restored")
	return nil
}

// StateData returns the decompressed snapshot for one slot, or nil when
// the title or slot is unknown.
func (m *Manager) StateData(gameName, stateName string) ([]byte, error) {
	compressed, err := m.store.LoadState(gameName, stateName)
	if err != nil || compressed == nil {
		return nil, err
	}
	snapshot, err := Decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress state %q: %w", stateName, err)
	}
	return snapshot, nil
}

// States lists every stored slot for a title.
func (m *Manager) States(gameName string) (*statestore.GameStateEntry, error) {
	return m.store.States(gameName)
}

// DeleteState removes one slot, reporting failure for unknown titles or
// slots.
func (m *Manager) DeleteState(gameName, stateName string) (bool, error) {
	return m.store.DeleteState(gameName, stateName)
}

// Compress gzips a snapshot.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
