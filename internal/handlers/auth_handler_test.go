package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/emukit/gbasync/internal/auth"
	"github.com/emukit/gbasync/internal/kvstore"
)

func newAuthHandler(t *testing.T) (*AuthHandler, *auth.TokenStore) {
	t.Helper()

	kv, err := kvstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	tokens := auth.NewTokenStore(kv)
	relay := &SignInRelay{}
	flow := auth.NewFlow(auth.Config{
		ClientID:    "client123",
		RedirectURI: "http://localhost/web",
		// Unroutable on purpose: the email lookup is best-effort and
		// must not leave the machine during tests.
		UserInfoURL: "http://127.0.0.1:0/userinfo",
	}, tokens, auth.NewSignal(), relay, zerolog.Nop())
	return NewAuthHandler(flow, tokens, relay, zerolog.Nop()), tokens
}

func TestGetStatus_SignedOut(t *testing.T) {
	handler, _ := newAuthHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/status", nil)
	w := httptest.NewRecorder()
	handler.GetStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp authStatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Authenticated {
		t.Errorf("Expected authenticated to be false")
	}
}

func TestGetAuthURL_ReturnsConsentURL(t *testing.T) {
	handler, _ := newAuthHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/url", nil)
	w := httptest.NewRecorder()
	handler.GetAuthURL(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", w.Code, w.Body.String())
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	parsed, err := url.Parse(resp["url"])
	if err != nil {
		t.Fatalf("Expected a valid URL, got %q", resp["url"])
	}
	if parsed.Query().Get("client_id") != "client123" {
		t.Errorf("Expected client_id in consent URL, got %q", resp["url"])
	}
	if parsed.Query().Get("response_type") != "token" {
		t.Errorf("Expected implicit grant response_type, got %q", resp["url"])
	}
}

func TestComplete_RoundTrip(t *testing.T) {
	handler, tokens := newAuthHandler(t)

	body, _ := json.Marshal(completeRequest{Fragment: "#access_token=tok123&expires_in=3600"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/complete", bytes.NewReader(body))
	w := httptest.NewRecorder()
	handler.Complete(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", w.Code, w.Body.String())
	}
	session := tokens.Load()
	if !session.Authenticated || session.AccessToken != "tok123" {
		t.Errorf("Expected a saved session, got %+v", session)
	}
}

func TestComplete_BadFragment(t *testing.T) {
	handler, _ := newAuthHandler(t)

	body, _ := json.Marshal(completeRequest{Fragment: "#error=access_denied"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/complete", bytes.NewReader(body))
	w := httptest.NewRecorder()
	handler.Complete(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestSignOut_ClearsSession(t *testing.T) {
	handler, tokens := newAuthHandler(t)

	if err := tokens.Save(auth.Session{AccessToken: "tok", ExpiresAt: auth.NoExpiry, Authenticated: true}); err != nil {
		t.Fatalf("Failed to save session: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signout", nil)
	w := httptest.NewRecorder()
	handler.SignOut(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if tokens.Load().Authenticated {
		t.Errorf("Expected session to be cleared")
	}
}

func TestSignInRelay_TakeClearsSlot(t *testing.T) {
	relay := &SignInRelay{}

	if _, _, ok := relay.Take(); ok {
		t.Fatalf("Expected empty relay")
	}

	relay.OpenSilent("https://accounts.example.com/auth?prompt=none")
	u, mode, ok := relay.Take()
	if !ok || mode != "iframe" || !strings.Contains(u, "prompt=none") {
		t.Errorf("Expected parked iframe URL, got %q %q %v", u, mode, ok)
	}
	if _, _, ok := relay.Take(); ok {
		t.Errorf("Expected relay slot to be cleared after Take")
	}
}
