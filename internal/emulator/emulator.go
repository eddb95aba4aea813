// Package emulator defines the surface the synchronization layer needs
// from an execution core. The service never drives emulation itself; it
// only moves battery saves and snapshots in and out of whatever core the
// host application runs.
package emulator

import "errors"

// ErrNoCore is returned by Detached for operations that need a live
// core.
var ErrNoCore = errors.New("no emulation core attached")

// ExecutionUnit is a running (or loadable) emulation core.
type ExecutionUnit interface {
	// LoadBIOS installs a BIOS image. Cores run without one, but timing
	// and boot behavior differ.
	LoadBIOS(bios []byte) error

	// LoadROM starts a title and reports whether the core accepted it.
	LoadROM(rom []byte) bool

	// LoadBatterySave installs cartridge SRAM before or during play.
	LoadBatterySave(data []byte) error

	// BatterySave returns the current cartridge SRAM contents.
	BatterySave() ([]byte, error)

	// HasSaved reports whether the running title wrote to SRAM since the
	// flag was last cleared. SetSaved clears (or forces) it.
	HasSaved() bool
	SetSaved(saved bool)

	// SnapshotState serializes the full machine state.
	SnapshotState() ([]byte, error)

	// RestoreState resumes from a snapshot previously produced by
	// SnapshotState on a core running the same title.
	RestoreState(snapshot []byte) error
}

// Detached stands in when the service runs without a core, as it does
// when the frontend executes emulation itself and only uses the HTTP
// API. Storage-backed operations keep working; anything needing a live
// machine reports ErrNoCore.
type Detached struct{}

func (Detached) LoadBIOS([]byte) error         { return ErrNoCore }
func (Detached) LoadROM([]byte) bool           { return false }
func (Detached) LoadBatterySave([]byte) error  { return ErrNoCore }
func (Detached) BatterySave() ([]byte, error)  { return nil, ErrNoCore }
func (Detached) HasSaved() bool                { return false }
func (Detached) SetSaved(bool)                 {}
func (Detached) SnapshotState() ([]byte, error) { return nil, ErrNoCore }
func (Detached) RestoreState([]byte) error     { return ErrNoCore }
