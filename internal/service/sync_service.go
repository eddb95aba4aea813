package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/emukit/gbasync/internal/cloud"
	"github.com/emukit/gbasync/internal/emulator"
	"github.com/emukit/gbasync/internal/kvstore"
)

const (
	// biosKey holds the BIOS image in the local store, alongside the
	// per-title battery saves.
	biosKey = "gba_bios"

	// reservedPrefix marks local keys that are subsystem bookkeeping,
	// not battery saves.
	reservedPrefix = "gba_"

	saveSuffix = ".sav"
)

// ErrNameMismatch is returned when an imported save file is named for a
// different title than the one it is being imported into.
var ErrNameMismatch = errors.New("save file name does not match game")

// SyncService moves battery saves between the local store and the cloud
// drive. The local store is always written; the cloud is consulted when
// a session exists and is authoritative for reads while connected.
type SyncService struct {
	cloud *cloud.Client
	kv    *kvstore.Store
	log   zerolog.Logger

	// reauthWait bounds how long a cloud call may block on a background
	// re-authentication before the local fallback takes over.
	reauthWait time.Duration
}

func NewSyncService(cloudClient *cloud.Client, kv *kvstore.Store, log zerolog.Logger) *SyncService {
	return &SyncService{
		cloud:      cloudClient,
		kv:         kv,
		log:        log,
		reauthWait: 15 * time.Second,
	}
}

// UsingCloud reports whether cloud synchronization is currently active.
func (s *SyncService) UsingCloud() bool {
	return s.cloud.Connected()
}

// SaveBattery persists a battery save. The local copy is written first
// so the data survives regardless of what the cloud does; a failed cloud
// upload is logged and the local copy stands.
func (s *SyncService) SaveBattery(ctx context.Context, gameName string, data []byte) error {
	if err := s.kv.SetBytes(gameName, data); err != nil {
		return fmt.Errorf("failed to store save locally: %w", err)
	}
	if !s.cloud.Connected() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.reauthWait)
	defer cancel()
	if err := s.cloud.UploadSave(ctx, gameName, data); err != nil {
		s.log.Warn().Err(err).Str("game", gameName).Msg("Cloud upload failed, save kept locally")
		return nil
	}

	s.log.Debug().Str("game", gameName).Int("bytes", len(data)).Msg("Save synced to cloud")
	return nil
}

// LoadBattery returns a title's battery save. While connected the cloud
// copy wins and refreshes the local mirror; otherwise, or when the cloud
// call fails, the local copy is served.
func (s *SyncService) LoadBattery(ctx context.Context, gameName string) ([]byte, error) {
	if s.cloud.Connected() {
		ctx, cancel := context.WithTimeout(ctx, s.reauthWait)
		defer cancel()

		entry, err := s.cloud.GetSave(ctx, gameName)
		if err != nil {
			s.log.Warn().Err(err).Str("game", gameName).Msg("Cloud load failed, using local save")
		} else if len(entry.Data) > 0 {
			if err := s.kv.SetBytes(gameName, entry.Data); err != nil {
				s.log.Warn().Err(err).Str("game", gameName).Msg("Failed to mirror cloud save locally")
			}
			return entry.Data, nil
		}
	}
	return s.kv.Bytes(gameName), nil
}

// ImportBattery installs an externally supplied save file for a title,
// locally and (when connected) in the cloud. The file must be named
// <gameName>.sav; force skips the check.
func (s *SyncService) ImportBattery(ctx context.Context, gameName, fileName string, data []byte, force bool) error {
	if !force && strings.TrimSuffix(fileName, saveSuffix) != gameName {
		return fmt.Errorf("%w: got %q, want %q", ErrNameMismatch, fileName, gameName+saveSuffix)
	}
	return s.SaveBattery(ctx, gameName, data)
}

// DeleteSave removes a title's battery save everywhere it is stored. It
// reports whether any copy existed. A failed cloud delete is logged, not
// surfaced; the local removal already happened.
func (s *SyncService) DeleteSave(ctx context.Context, gameName string) (bool, error) {
	_, hadLocal := s.kv.Get(gameName)
	if err := s.kv.Delete(gameName); err != nil {
		return false, err
	}

	if !s.cloud.Connected() {
		return hadLocal, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.reauthWait)
	defer cancel()
	deleted, err := s.cloud.DeleteSave(ctx, gameName)
	if err != nil {
		s.log.Warn().Err(err).Str("game", gameName).Msg("Cloud delete failed, local copy removed")
		return hadLocal, nil
	}
	return hadLocal || deleted, nil
}

// ListSaves names every known battery save as <title>.sav. The cloud
// listing is used while connected, the local store otherwise.
func (s *SyncService) ListSaves(ctx context.Context) ([]string, error) {
	if s.cloud.Connected() {
		ctx, cancel := context.WithTimeout(ctx, s.reauthWait)
		defer cancel()
		entries, err := s.cloud.ListSaves(ctx)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			names = append(names, entry.GameName)
		}
		sort.Strings(names)
		return names, nil
	}

	var names []string
	for _, key := range s.kv.Keys() {
		if strings.HasPrefix(key, reservedPrefix) {
			continue
		}
		names = append(names, key+saveSuffix)
	}
	return names, nil
}

// DrainAutosave flushes the core's battery RAM when the running title
// wrote to it since the last drain. It reports whether a flush happened.
func (s *SyncService) DrainAutosave(ctx context.Context, unit emulator.ExecutionUnit, gameName string) (bool, error) {
	if !unit.HasSaved() {
		return false, nil
	}

	data, err := unit.BatterySave()
	if err != nil {
		return false, fmt.Errorf("failed to read battery save: %w", err)
	}
	if err := s.SaveBattery(ctx, gameName, data); err != nil {
		return false, err
	}
	unit.SetSaved(false)
	return true, nil
}

// SaveBIOS stores a BIOS image in the local store.
func (s *SyncService) SaveBIOS(data []byte) error {
	return s.kv.SetBytes(biosKey, data)
}

// BIOS returns the stored BIOS image, or nil when none was saved.
func (s *SyncService) BIOS() []byte {
	return s.kv.Bytes(biosKey)
}
