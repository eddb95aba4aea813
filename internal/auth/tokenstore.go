package auth

import (
	"strconv"
	"time"

	"github.com/emukit/gbasync/internal/kvstore"
)

// Durable keys, unchanged from the original frontend so an existing
// install keeps its session.
const (
	keyAccessToken = "gba_access_token"
	keyExpiry      = "gba_access_expires"
	keyUserEmail   = "gba_user_email"
	keyFolderID    = "gba_folder_id"
)

// NoExpiry means the provider never reported expires_in; the token is
// treated as not-yet-expired.
const NoExpiry int64 = -1

// Session is the authenticated state cached from the last OAuth redirect.
type Session struct {
	AccessToken   string
	ExpiresAt     int64 // epoch seconds, or NoExpiry
	UserEmail     string
	Authenticated bool
}

// Expired reports whether the token needs a silent refresh before use.
func (s Session) Expired(now time.Time) bool {
	if !s.Authenticated {
		return true
	}
	if s.ExpiresAt == NoExpiry {
		return false
	}
	return now.Unix() >= s.ExpiresAt
}

// TokenStore persists the session fields in the durable key-value store.
type TokenStore struct {
	kv *kvstore.Store
}

func NewTokenStore(kv *kvstore.Store) *TokenStore {
	return &TokenStore{kv: kv}
}

// Load reads the cached session. Absent or corrupt data loads as a
// signed-out session, never an error.
func (t *TokenStore) Load() Session {
	token, ok := t.kv.Get(keyAccessToken)
	if !ok || token == "" {
		return Session{}
	}

	expiresAt := NoExpiry
	if raw, ok := t.kv.Get(keyExpiry); ok {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Session{}
		}
		expiresAt = parsed
	}

	email, _ := t.kv.Get(keyUserEmail)

	return Session{
		AccessToken:   token,
		ExpiresAt:     expiresAt,
		UserEmail:     email,
		Authenticated: true,
	}
}

// Save persists the session's token and expiry. The email is written only
// when set, so a redirect that could not fetch the profile keeps the
// previously cached address for future login hints.
func (t *TokenStore) Save(s Session) error {
	if err := t.kv.Set(keyAccessToken, s.AccessToken); err != nil {
		return err
	}
	if err := t.kv.Set(keyExpiry, strconv.FormatInt(s.ExpiresAt, 10)); err != nil {
		return err
	}
	if s.UserEmail != "" {
		return t.kv.Set(keyUserEmail, s.UserEmail)
	}
	return nil
}

// SaveEmail caches the authenticated user's address for silent sign-in
// login hints.
func (t *TokenStore) SaveEmail(email string) error {
	return t.kv.Set(keyUserEmail, email)
}

// FolderID returns the cached reserved-folder id, if any.
func (t *TokenStore) FolderID() string {
	id, _ := t.kv.Get(keyFolderID)
	return id
}

func (t *TokenStore) SaveFolderID(id string) error {
	return t.kv.Set(keyFolderID, id)
}

// Clear drops every cached auth field: token, expiry, email and the
// reserved-folder id.
func (t *TokenStore) Clear() error {
	for _, key := range []string{keyAccessToken, keyExpiry, keyUserEmail, keyFolderID} {
		if err := t.kv.Delete(key); err != nil {
			return err
		}
	}
	return nil
}
