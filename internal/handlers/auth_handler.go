package handlers

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/emukit/gbasync/internal/auth"
)

// SignInRelay hands auth URLs to the frontend instead of opening them
// itself: the browser owns popups and hidden iframes, the service owns
// URL construction and redirect completion. Opened URLs are parked here
// until the frontend polls them via /api/auth/status.
type SignInRelay struct {
	mu          sync.Mutex
	pendingURL  string
	pendingMode string
}

func (r *SignInRelay) OpenInteractive(authURL string) error {
	r.park(authURL, "popup")
	return nil
}

func (r *SignInRelay) OpenSilent(authURL string) error {
	r.park(authURL, "iframe")
	return nil
}

func (r *SignInRelay) park(authURL, mode string) {
	r.mu.Lock()
	r.pendingURL = authURL
	r.pendingMode = mode
	r.mu.Unlock()
}

// Take returns and clears the parked URL, if any.
func (r *SignInRelay) Take() (string, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pendingURL == "" {
		return "", "", false
	}
	u, m := r.pendingURL, r.pendingMode
	r.pendingURL, r.pendingMode = "", ""
	return u, m, true
}

type AuthHandler struct {
	flow   *auth.Flow
	tokens *auth.TokenStore
	relay  *SignInRelay
	log    zerolog.Logger
}

func NewAuthHandler(flow *auth.Flow, tokens *auth.TokenStore, relay *SignInRelay, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{flow: flow, tokens: tokens, relay: relay, log: log}
}

type authStatusResponse struct {
	Authenticated bool   `json:"authenticated"`
	UserEmail     string `json:"userEmail,omitempty"`
	PendingURL    string `json:"pendingUrl,omitempty"`
	PendingMode   string `json:"pendingMode,omitempty"`
}

// GetStatus reports the current session and delivers any sign-in URL the
// service wants the frontend to open.
func (h *AuthHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("GET /api/auth/status")

	if r.Method != http.MethodGet {
		h.respondError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session := h.tokens.Load()
	resp := authStatusResponse{
		Authenticated: session.Authenticated,
		UserEmail:     session.UserEmail,
	}
	if u, mode, ok := h.relay.Take(); ok {
		resp.PendingURL = u
		resp.PendingMode = mode
	}
	h.respondJSON(w, resp, http.StatusOK)
}

// GetAuthURL starts an interactive sign-in and returns the consent URL
// for the frontend to open in a popup.
func (h *AuthHandler) GetAuthURL(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("GET /api/auth/url")

	if r.Method != http.MethodGet {
		h.respondError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.flow.BeginInteractiveSignIn(); err != nil {
		h.log.Error().Err(err).Msg("Failed to begin sign-in")
		h.respondError(w, "Failed to begin sign-in", http.StatusInternalServerError)
		return
	}

	u, _, ok := h.relay.Take()
	if !ok {
		h.respondError(w, "No sign-in URL available", http.StatusInternalServerError)
		return
	}
	h.respondJSON(w, map[string]string{"url": u}, http.StatusOK)
}

type completeRequest struct {
	Fragment string `json:"fragment"`
}

// Complete finishes a sign-in attempt with the URL fragment the provider
// redirected to.
func (h *AuthHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("POST /api/auth/complete")

	if r.Method != http.MethodPost {
		h.respondError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.flow.CompleteFromRedirect(r.Context(), req.Fragment); err != nil {
		h.log.Warn().Err(err).Msg("Sign-in completion rejected")
		h.respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	session := h.tokens.Load()
	h.respondJSON(w, authStatusResponse{
		Authenticated: session.Authenticated,
		UserEmail:     session.UserEmail,
	}, http.StatusOK)
}

// SignOut drops the session and everything cached alongside it.
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("POST /api/auth/signout")

	if r.Method != http.MethodPost {
		h.respondError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.tokens.Clear(); err != nil {
		h.log.Error().Err(err).Msg("Failed to clear session")
		h.respondError(w, "Failed to sign out", http.StatusInternalServerError)
		return
	}
	h.respondJSON(w, map[string]bool{"success": true}, http.StatusOK)
}

func (h *AuthHandler) respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *AuthHandler) respondError(w http.ResponseWriter, message string, status int) {
	h.respondJSON(w, map[string]string{"error": message}, status)
}
