package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/emukit/gbasync/internal/service"
	"github.com/emukit/gbasync/internal/state"
)

type SaveHandler struct {
	sync   *service.SyncService
	states *state.Manager
	log    zerolog.Logger
}

func NewSaveHandler(sync *service.SyncService, states *state.Manager, log zerolog.Logger) *SaveHandler {
	return &SaveHandler{sync: sync, states: states, log: log}
}

// ============================================================================
// Battery saves
// ============================================================================

// ListSaves answers GET /api/saves with every known save name.
func (h *SaveHandler) ListSaves(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("GET /api/saves")

	if r.Method != http.MethodGet {
		h.respondError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	names, err := h.sync.ListSaves(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list saves")
		h.respondError(w, "Failed to list saves", http.StatusInternalServerError)
		return
	}
	if names == nil {
		names = []string{}
	}
	h.respondJSON(w, map[string]any{"saves": names, "cloud": h.sync.UsingCloud()}, http.StatusOK)
}

// HandleSave routes /api/saves/{game} and /api/saves/{game}/import.
func (h *SaveHandler) HandleSave(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/saves/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}

	if gameName, ok := strings.CutSuffix(rest, "/import"); ok {
		h.importSave(w, r, gameName)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getSave(w, r, rest)
	case http.MethodPut:
		h.putSave(w, r, rest)
	case http.MethodDelete:
		h.deleteSave(w, r, rest)
	default:
		h.respondError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SaveHandler) getSave(w http.ResponseWriter, r *http.Request, gameName string) {
	h.log.Debug().Str("game", gameName).Msg("GET /api/saves/{game}")

	data, err := h.sync.LoadBattery(r.Context(), gameName)
	if err != nil {
		h.log.Error().Err(err).Str("game", gameName).Msg("Failed to load save")
		h.respondError(w, "Failed to load save", http.StatusInternalServerError)
		return
	}
	if data == nil {
		h.respondError(w, "No save for game", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

func (h *SaveHandler) putSave(w http.ResponseWriter, r *http.Request, gameName string) {
	h.log.Debug().Str("game", gameName).Msg("PUT /api/saves/{game}")

	data, err := io.ReadAll(r.Body)
	if err != nil {
		h.respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.sync.SaveBattery(r.Context(), gameName, data); err != nil {
		h.log.Error().Err(err).Str("game", gameName).Msg("Failed to store save")
		h.respondError(w, "Failed to store save", http.StatusInternalServerError)
		return
	}
	h.respondJSON(w, map[string]bool{"success": true}, http.StatusOK)
}

func (h *SaveHandler) deleteSave(w http.ResponseWriter, r *http.Request, gameName string) {
	h.log.Debug().Str("game", gameName).Msg("DELETE /api/saves/{game}")

	deleted, err := h.sync.DeleteSave(r.Context(), gameName)
	if err != nil {
		h.log.Error().Err(err).Str("game", gameName).Msg("Failed to delete save")
		h.respondError(w, "Failed to delete save", http.StatusInternalServerError)
		return
	}
	if !deleted {
		h.respondError(w, "No save for game", http.StatusNotFound)
		return
	}
	h.respondJSON(w, map[string]bool{"success": true}, http.StatusOK)
}

type importRequest struct {
	FileName string `json:"fileName"`
	Data     []byte `json:"data"`
	Force    bool   `json:"force"`
}

func (h *SaveHandler) importSave(w http.ResponseWriter, r *http.Request, gameName string) {
	h.log.Debug().Str("game", gameName).Msg("POST /api/saves/{game}/import")

	if r.Method != http.MethodPost {
		h.respondError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	err := h.sync.ImportBattery(r.Context(), gameName, req.FileName, req.Data, req.Force)
	if errors.Is(err, service.ErrNameMismatch) {
		h.respondError(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("game", gameName).Msg("Failed to import save")
		h.respondError(w, "Failed to import save", http.StatusInternalServerError)
		return
	}
	h.respondJSON(w, map[string]bool{"success": true}, http.StatusOK)
}

// ============================================================================
// Save states
// ============================================================================

type stateSummary struct {
	StateName string `json:"stateName"`
	ImageURL  string `json:"imageUrl"`
}

type createStateRequest struct {
	StateName string `json:"stateName"`
	Snapshot  []byte `json:"snapshot"`
	ImageURL  string `json:"imageUrl"`
	IsUpdate  bool   `json:"isUpdate"`
}

// HandleStates routes /api/states/{game} and /api/states/{game}/{state}.
func (h *SaveHandler) HandleStates(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/states/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}

	gameName, stateName, hasState := strings.Cut(rest, "/")
	if !hasState {
		switch r.Method {
		case http.MethodGet:
			h.listStates(w, r, gameName)
		case http.MethodPost:
			h.createState(w, r, gameName)
		default:
			h.respondError(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getState(w, r, gameName, stateName)
	case http.MethodDelete:
		h.deleteState(w, r, gameName, stateName)
	default:
		h.respondError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SaveHandler) listStates(w http.ResponseWriter, r *http.Request, gameName string) {
	h.log.Debug().Str("game", gameName).Msg("GET /api/states/{game}")

	entry, err := h.states.States(gameName)
	if err != nil {
		h.log.Error().Err(err).Str("game", gameName).Msg("Failed to list states")
		h.respondError(w, "Failed to list states", http.StatusInternalServerError)
		return
	}

	summaries := []stateSummary{}
	if entry != nil {
		for _, s := range entry.States {
			summaries = append(summaries, stateSummary{StateName: s.StateName, ImageURL: s.ImageURL})
		}
	}
	h.respondJSON(w, map[string]any{"gameName": gameName, "states": summaries}, http.StatusOK)
}

func (h *SaveHandler) createState(w http.ResponseWriter, r *http.Request, gameName string) {
	h.log.Debug().Str("game", gameName).Msg("POST /api/states/{game}")

	var req createStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	stored, err := h.states.StoreSnapshot(gameName, req.Snapshot, req.ImageURL, req.StateName, req.IsUpdate)
	if err != nil {
		h.log.Error().Err(err).Str("game", gameName).Msg("Failed to store state")
		h.respondError(w, "Failed to store state", http.StatusInternalServerError)
		return
	}
	h.respondJSON(w, stateSummary{StateName: stored.StateName, ImageURL: stored.ImageURL}, http.StatusOK)
}

func (h *SaveHandler) getState(w http.ResponseWriter, r *http.Request, gameName, stateName string) {
	h.log.Debug().Str("game", gameName).Str("state", stateName).Msg("GET /api/states/{game}/{state}")

	data, err := h.states.StateData(gameName, stateName)
	if err != nil {
		h.log.Error().Err(err).Str("game", gameName).Msg("Failed to load state")
		h.respondError(w, "Failed to load state", http.StatusInternalServerError)
		return
	}
	if data == nil {
		h.respondError(w, "No such state", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

func (h *SaveHandler) deleteState(w http.ResponseWriter, r *http.Request, gameName, stateName string) {
	h.log.Debug().Str("game", gameName).Str("state", stateName).Msg("DELETE /api/states/{game}/{state}")

	deleted, err := h.states.DeleteState(gameName, stateName)
	if err != nil {
		h.log.Error().Err(err).Str("game", gameName).Msg("Failed to delete state")
		h.respondError(w, "Failed to delete state", http.StatusInternalServerError)
		return
	}
	if !deleted {
		h.respondError(w, "No such state", http.StatusNotFound)
		return
	}
	h.respondJSON(w, map[string]bool{"success": true}, http.StatusOK)
}

// ============================================================================
// BIOS
// ============================================================================

// HandleBIOS routes /api/bios: GET downloads the stored image, PUT
// replaces it.
func (h *SaveHandler) HandleBIOS(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.log.Debug().Msg("GET /api/bios")
		data := h.sync.BIOS()
		if data == nil {
			h.respondError(w, "No BIOS stored", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(data)
	case http.MethodPut:
		h.log.Debug().Msg("PUT /api/bios")
		data, err := io.ReadAll(r.Body)
		if err != nil {
			h.respondError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := h.sync.SaveBIOS(data); err != nil {
			h.log.Error().Err(err).Msg("Failed to store BIOS")
			h.respondError(w, "Failed to store BIOS", http.StatusInternalServerError)
			return
		}
		h.respondJSON(w, map[string]bool{"success": true}, http.StatusOK)
	default:
		h.respondError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SaveHandler) respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *SaveHandler) respondError(w http.ResponseWriter, message string, status int) {
	h.respondJSON(w, map[string]string{"error": message}, status)
}
