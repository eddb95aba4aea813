package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emukit/gbasync/internal/auth"
	"github.com/emukit/gbasync/internal/cloud"
	"github.com/emukit/gbasync/internal/kvstore"
)

// ============================================================================
// Test fixtures
// ============================================================================

type nullDriver struct{}

func (nullDriver) OpenInteractive(string) error { return nil }
func (nullDriver) OpenSilent(string) error      { return nil }

type fixture struct {
	svc *SyncService
	kv  *kvstore.Store
}

// newFixture wires a SyncService against server. With connected false no
// session exists, so every cloud path must short-circuit before the
// network.
func newFixture(t *testing.T, server *httptest.Server, connected bool) *fixture {
	t.Helper()

	kv, err := kvstore.Open(t.TempDir())
	require.NoError(t, err)
	tokens := auth.NewTokenStore(kv)
	if connected {
		require.NoError(t, tokens.Save(auth.Session{
			AccessToken:   "valid",
			ExpiresAt:     time.Now().Add(time.Hour).Unix(),
			UserEmail:     "player@example.com",
			Authenticated: true,
		}))
	}

	flow := auth.NewFlow(auth.Config{
		ClientID:    "client123",
		RedirectURI: "https://app.example.com",
	}, tokens, auth.NewSignal(), nullDriver{}, zerolog.Nop())

	cloudClient := cloud.New(cloud.Config{
		APIBase:    server.URL + "/drive/v3",
		UploadBase: server.URL + "/upload/drive/v3",
	}, tokens, flow, zerolog.Nop())

	return &fixture{svc: NewSyncService(cloudClient, kv, zerolog.Nop()), kv: kv}
}

// countingServer answers nothing but records how often it was reached.
func countingServer(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

type fakeUnit struct {
	battery []byte
	saved   bool
}

func (f *fakeUnit) LoadBIOS([]byte) error            { return nil }
func (f *fakeUnit) LoadROM([]byte) bool              { return true }
func (f *fakeUnit) LoadBatterySave(data []byte) error { f.battery = data; return nil }
func (f *fakeUnit) BatterySave() ([]byte, error)     { return f.battery, nil }
func (f *fakeUnit) HasSaved() bool                   { return f.saved }
func (f *fakeUnit) SetSaved(saved bool)              { f.saved = saved }
func (f *fakeUnit) SnapshotState() ([]byte, error)   { return nil, nil }
func (f *fakeUnit) RestoreState([]byte) error        { return nil }

// ============================================================================
// Offline behavior
// ============================================================================

func TestSaveBattery_DisconnectedStaysLocal(t *testing.T) {
	server, calls := countingServer(t)
	fx := newFixture(t, server, false)

	require.NoError(t, fx.svc.SaveBattery(context.Background(), "Pokemon", []byte{1, 2, 3}))

	assert.Equal(t, []byte{1, 2, 3}, fx.kv.Bytes("Pokemon"))
	assert.Zero(t, calls.Load())
	assert.False(t, fx.svc.UsingCloud())
}

func TestLoadBattery_DisconnectedReadsLocal(t *testing.T) {
	server, calls := countingServer(t)
	fx := newFixture(t, server, false)
	require.NoError(t, fx.kv.SetBytes("Pokemon", []byte{4, 5}))

	data, err := fx.svc.LoadBattery(context.Background(), "Pokemon")
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 5}, data)
	assert.Zero(t, calls.Load())
}

func TestListSaves_LocalFiltersBookkeepingKeys(t *testing.T) {
	server, calls := countingServer(t)
	fx := newFixture(t, server, false)
	require.NoError(t, fx.kv.SetBytes("Pokemon", []byte{1}))
	require.NoError(t, fx.kv.SetBytes("Zelda", []byte{2}))
	require.NoError(t, fx.kv.Set("gba_bios", "[1]"))
	require.NoError(t, fx.kv.Set("gba_folder_id", "folder-1"))

	names, err := fx.svc.ListSaves(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Pokemon.sav", "Zelda.sav"}, names)
	assert.Zero(t, calls.Load())
}

func TestDeleteSave_Local(t *testing.T) {
	server, _ := countingServer(t)
	fx := newFixture(t, server, false)
	require.NoError(t, fx.kv.SetBytes("Pokemon", []byte{1}))

	deleted, err := fx.svc.DeleteSave(context.Background(), "Pokemon")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = fx.svc.DeleteSave(context.Background(), "Pokemon")
	require.NoError(t, err)
	assert.False(t, deleted)
}

// ============================================================================
// Cloud behavior
// ============================================================================

func driveServer(t *testing.T, saveData []byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/drive/v3/files", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		switch {
		case strings.Contains(q, "application/vnd.google-apps.folder"):
			fmt.Fprint(w, `{"files":[{"id":"folder-1","name":"gba-saves"}]}`)
		case strings.Contains(q, `name = "Pokemon.sav"`):
			fmt.Fprint(w, `{"files":[{"id":"file-1","name":"Pokemon.sav","parents":["folder-1"]}]}`)
		default:
			fmt.Fprint(w, `{"files":[]}`)
		}
	})
	mux.HandleFunc("/drive/v3/files/file-1", func(w http.ResponseWriter, r *http.Request) {
		w.Write(saveData)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestLoadBattery_CloudWinsAndRefreshesMirror(t *testing.T) {
	server := driveServer(t, []byte{9, 9, 9})
	fx := newFixture(t, server, true)
	require.NoError(t, fx.kv.SetBytes("Pokemon", []byte{1}))

	data, err := fx.svc.LoadBattery(context.Background(), "Pokemon")
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9, 9}, data)
	assert.Equal(t, []byte{9, 9, 9}, fx.kv.Bytes("Pokemon"))
}

func TestLoadBattery_CloudEmptyFallsBackToLocal(t *testing.T) {
	server := driveServer(t, nil)
	fx := newFixture(t, server, true)
	require.NoError(t, fx.kv.SetBytes("Metroid", []byte{7}))

	data, err := fx.svc.LoadBattery(context.Background(), "Metroid")
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, data)
}

func TestSaveBattery_CloudFailureKeepsLocalCopy(t *testing.T) {
	server, calls := countingServer(t)
	fx := newFixture(t, server, true)

	require.NoError(t, fx.svc.SaveBattery(context.Background(), "Pokemon", []byte{1, 2}))

	assert.Equal(t, []byte{1, 2}, fx.kv.Bytes("Pokemon"))
	assert.Positive(t, calls.Load())
}

func TestDeleteSave_CloudFailureStillReportsLocalRemoval(t *testing.T) {
	server, calls := countingServer(t)
	fx := newFixture(t, server, true)
	require.NoError(t, fx.kv.SetBytes("Pokemon", []byte{1}))

	deleted, err := fx.svc.DeleteSave(context.Background(), "Pokemon")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Nil(t, fx.kv.Bytes("Pokemon"))
	assert.Positive(t, calls.Load())
}

func TestListSaves_Cloud(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/drive/v3/files", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if strings.Contains(q, "application/vnd.google-apps.folder") {
			fmt.Fprint(w, `{"files":[{"id":"folder-1","name":"gba-saves"}]}`)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"files": []map[string]string{
			{"id": "f1", "name": "Zelda.sav"},
			{"id": "f2", "name": "Pokemon.sav"},
		}})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	fx := newFixture(t, server, true)

	names, err := fx.svc.ListSaves(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Pokemon.sav", "Zelda.sav"}, names)
}

// ============================================================================
// Import, autosave and BIOS
// ============================================================================

func TestImportBattery_NameMismatch(t *testing.T) {
	server, _ := countingServer(t)
	fx := newFixture(t, server, false)

	err := fx.svc.ImportBattery(context.Background(), "Pokemon", "Zelda.sav", []byte{1}, false)
	assert.ErrorIs(t, err, ErrNameMismatch)
	assert.Nil(t, fx.kv.Bytes("Pokemon"))

	require.NoError(t, fx.svc.ImportBattery(context.Background(), "Pokemon", "Zelda.sav", []byte{1}, true))
	assert.Equal(t, []byte{1}, fx.kv.Bytes("Pokemon"))
}

func TestImportBattery_MatchingName(t *testing.T) {
	server, _ := countingServer(t)
	fx := newFixture(t, server, false)

	require.NoError(t, fx.svc.ImportBattery(context.Background(), "Pokemon", "Pokemon.sav", []byte{2}, false))
	assert.Equal(t, []byte{2}, fx.kv.Bytes("Pokemon"))
}

func TestDrainAutosave(t *testing.T) {
	server, _ := countingServer(t)
	fx := newFixture(t, server, false)
	unit := &fakeUnit{battery: []byte{1, 2, 3}}

	flushed, err := fx.svc.DrainAutosave(context.Background(), unit, "Pokemon")
	require.NoError(t, err)
	assert.False(t, flushed)
	assert.Nil(t, fx.kv.Bytes("Pokemon"))

	unit.SetSaved(true)
	flushed, err = fx.svc.DrainAutosave(context.Background(), unit, "Pokemon")
	require.NoError(t, err)
	assert.True(t, flushed)
	assert.Equal(t, []byte{1, 2, 3}, fx.kv.Bytes("Pokemon"))
	assert.False(t, unit.HasSaved())
}

func TestBIOSRoundTrip(t *testing.T) {
	server, _ := countingServer(t)
	fx := newFixture(t, server, false)

	assert.Nil(t, fx.svc.BIOS())
	require.NoError(t, fx.svc.SaveBIOS([]byte{0xEA, 0x00}))
	assert.Equal(t, []byte{0xEA, 0x00}, fx.svc.BIOS())

	// The BIOS never shows up as a battery save.
	names, err := fx.svc.ListSaves(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}
