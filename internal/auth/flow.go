package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultAuthBase     = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultUserInfoURL  = "https://www.googleapis.com/oauth2/v2/userinfo"
	scopeDriveFile      = "https://www.googleapis.com/auth/drive.file"
	scopeUserInfoEmail  = "https://www.googleapis.com/auth/userinfo.email"
)

var (
	ErrNoLoginHint   = fmt.Errorf("no cached email for silent sign-in")
	ErrStateMismatch = fmt.Errorf("redirect state does not match the issued sign-in")
	ErrNoAccessToken = fmt.Errorf("redirect fragment carries no access token")
)

// SignInDriver loads a provider sign-in page out of band: a popup for
// interactive sign-in, a hidden frame for the silent variant. The
// redirect target reports back through CompleteFromRedirect; the driver
// itself never resolves anything.
type SignInDriver interface {
	OpenInteractive(authURL string) error
	OpenSilent(authURL string) error
}

// Config holds the provider endpoints and app identity for the implicit
// grant. Endpoints default to Google's when empty.
type Config struct {
	ClientID    string
	RedirectURI string
	AuthBase    string
	UserInfoURL string
}

// Flow drives interactive and silent implicit-grant sign-in, and
// finishes both from the redirect fragment.
type Flow struct {
	cfg    Config
	tokens *TokenStore
	signal *Signal
	driver SignInDriver
	client *http.Client
	log    zerolog.Logger
	now    func() time.Time

	mu    sync.Mutex
	state string // one-shot nonce for the outstanding sign-in
}

func NewFlow(cfg Config, tokens *TokenStore, signal *Signal, driver SignInDriver, log zerolog.Logger) *Flow {
	if cfg.AuthBase == "" {
		cfg.AuthBase = defaultAuthBase
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = defaultUserInfoURL
	}
	return &Flow{
		cfg:    cfg,
		tokens: tokens,
		signal: signal,
		driver: driver,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
		now:    time.Now,
	}
}

// Signal returns the completion handshake shared with the cloud client.
func (f *Flow) Signal() *Signal {
	return f.signal
}

// InteractiveAuthURL builds the popup sign-in URL.
func (f *Flow) InteractiveAuthURL() string {
	return f.cfg.AuthBase + "?" + f.loginParams(false).Encode()
}

// SilentAuthURL builds the hidden-frame sign-in URL with prompt=none and
// the cached email as login hint. It fails when no email is cached, since
// the provider would then require interaction and the silent frame would
// hang invisibly.
func (f *Flow) SilentAuthURL() (string, error) {
	if _, ok := f.cachedEmail(); !ok {
		return "", ErrNoLoginHint
	}
	return f.cfg.AuthBase + "?" + f.loginParams(true).Encode(), nil
}

// BeginInteractiveSignIn opens the provider sign-in page in a popup.
func (f *Flow) BeginInteractiveSignIn() error {
	return f.driver.OpenInteractive(f.InteractiveAuthURL())
}

// BeginSilentSignIn loads the sign-in page into a hidden frame. Absence
// of a later completion signal is the only failure indication; callers
// must impose their own timeout.
func (f *Flow) BeginSilentSignIn() error {
	authURL, err := f.SilentAuthURL()
	if err != nil {
		return err
	}
	f.log.Debug().Msg("starting silent sign-in")
	return f.driver.OpenSilent(authURL)
}

// CompleteFromRedirect finishes a sign-in from the redirect target's URL
// fragment: it extracts access_token and expires_in, persists the
// session, caches the user's email with one authenticated call, and
// wakes everyone blocked on the signal.
func (f *Flow) CompleteFromRedirect(ctx context.Context, fragment string) error {
	values, err := url.ParseQuery(strings.TrimPrefix(fragment, "#"))
	if err != nil {
		return fmt.Errorf("malformed redirect fragment: %w", err)
	}

	if err := f.consumeState(values.Get("state")); err != nil {
		return err
	}

	token := values.Get("access_token")
	if token == "" {
		return ErrNoAccessToken
	}

	expiresAt := NoExpiry
	if raw := values.Get("expires_in"); raw != "" {
		seconds, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid expires_in %q: %w", raw, err)
		}
		expiresAt = f.now().Unix() + seconds
	}

	session := Session{
		AccessToken:   token,
		ExpiresAt:     expiresAt,
		Authenticated: true,
	}
	if err := f.tokens.Save(session); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}

	// Best effort: a missing profile must not fail the sign-in.
	if email, err := f.fetchEmail(ctx, token); err != nil {
		f.log.Warn().Err(err).Msg("could not fetch signed-in email")
	} else if email != "" {
		if err := f.tokens.SaveEmail(email); err != nil {
			f.log.Warn().Err(err).Msg("could not cache signed-in email")
		}
	}

	f.log.Info().Msg("sign-in completed")
	f.signal.Announce()
	return nil
}

func (f *Flow) loginParams(silent bool) url.Values {
	params := url.Values{
		"client_id":     {f.cfg.ClientID},
		"redirect_uri":  {strings.TrimSuffix(f.cfg.RedirectURI, "/")},
		"response_type": {"token"},
		"scope":         {scopeDriveFile + " " + scopeUserInfoEmail},
		"state":         {f.issueState()},
	}

	if silent {
		if email, ok := f.cachedEmail(); ok {
			params.Set("prompt", "none")
			params.Set("login_hint", email)
		}
	}

	return params
}

func (f *Flow) cachedEmail() (string, bool) {
	// Read the key directly: the hint must work even while the session
	// itself no longer loads as authenticated.
	email, _ := f.tokens.kv.Get(keyUserEmail)
	return email, email != ""
}

func (f *Flow) issueState() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = uuid.NewString()
	return f.state
}

// consumeState checks the redirect's state nonce against the outstanding
// sign-in. A redirect without a nonce is accepted only when this process
// never issued one (the sign-in may have started in a previous run).
func (f *Flow) consumeState(got string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == "" {
		return nil
	}
	if got != f.state {
		return ErrStateMismatch
	}
	f.state = ""
	return nil
}

func (f *Flow) fetchEmail(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.UserInfoURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("userinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("userinfo failed with status %d", resp.StatusCode)
	}

	var profile struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return "", fmt.Errorf("failed to decode userinfo: %w", err)
	}
	return profile.Email, nil
}
