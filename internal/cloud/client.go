package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/emukit/gbasync/internal/auth"
)

const (
	defaultAPIBase    = "https://www.googleapis.com/drive/v3"
	defaultUploadBase = "https://www.googleapis.com/upload/drive/v3"

	folderMimeType = "application/vnd.google-apps.folder"
	saveMimeType   = "application/octet-stream"
)

var (
	// ErrNotConnected means no usable session exists; callers fall back
	// to local storage.
	ErrNotConnected = errors.New("not connected to cloud storage")

	// ErrSessionRejected means the API answered non-200 and the session
	// was discarded (fail-closed).
	ErrSessionRejected = errors.New("cloud session rejected")
)

// Config holds the object-store endpoints and the reserved folder name.
// Endpoints default to Google Drive's when empty.
type Config struct {
	APIBase    string
	UploadBase string
	FolderName string
	HTTPClient *http.Client
}

// Client performs authenticated calls against the cloud object store,
// gating every call through the token lifecycle: an expired token first
// runs one silent re-authentication, and any non-200 response clears the
// whole session and demotes to offline mode.
type Client struct {
	cfg    Config
	tokens *auth.TokenStore
	flow   *auth.Flow
	client *http.Client
	log    zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	folderID string
}

func New(cfg Config, tokens *auth.TokenStore, flow *auth.Flow, log zerolog.Logger) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.UploadBase == "" {
		cfg.UploadBase = defaultUploadBase
	}
	if cfg.FolderName == "" {
		cfg.FolderName = "gba-saves"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		cfg:    cfg,
		tokens: tokens,
		flow:   flow,
		client: client,
		log:    log,
		now:    time.Now,
		// The folder id survives restarts alongside the token fields.
		folderID: tokens.FolderID(),
	}
}

// Connected reports whether a session is cached. It does not probe the
// remote side.
func (c *Client) Connected() bool {
	return c.tokens.Load().Authenticated
}

// RequestFactory builds an HTTP request carrying the given bearer token.
// The factory runs after the token gate, so it always sees a fresh token.
type RequestFactory func(token string) (*http.Request, error)

// Request executes one authenticated call. If the cached token has
// expired it first waits for a silent re-authentication, bounded by ctx;
// at most one silent attempt is in flight at a time. A non-200 response
// clears the session and returns ErrSessionRejected. No retries.
func (c *Client) Request(ctx context.Context, build RequestFactory) ([]byte, error) {
	session := c.tokens.Load()
	if !session.Authenticated {
		return nil, ErrNotConnected
	}

	if session.Expired(c.now()) {
		if err := c.awaitReauth(ctx); err != nil {
			return nil, err
		}
		session = c.tokens.Load()
		if !session.Authenticated {
			return nil, ErrNotConnected
		}
	}

	req, err := build(session.AccessToken)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("cloud request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.reject(resp)
		return nil, ErrSessionRejected
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read cloud response: %w", err)
	}
	return body, nil
}

// requestJSON runs Request and decodes the body into v.
func (c *Client) requestJSON(ctx context.Context, build RequestFactory, v any) error {
	body, err := c.Request(ctx, build)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("unexpected cloud response shape: %w", err)
	}
	return nil
}

// awaitReauth blocks until a silent sign-in completes or ctx expires.
// Subscribing before starting the attempt guarantees the completion
// signal cannot be missed, and the single-slot guard keeps a second
// expired caller from opening a second hidden frame.
func (c *Client) awaitReauth(ctx context.Context) error {
	signal := c.flow.Signal()
	done := signal.Subscribe()

	if signal.BeginAttempt() {
		if err := c.flow.BeginSilentSignIn(); err != nil {
			signal.EndAttempt()
			return fmt.Errorf("silent sign-in: %w", err)
		}
	}

	if err := signal.Wait(ctx, done); err != nil {
		return fmt.Errorf("re-authentication did not complete: %w", err)
	}
	return nil
}

// reject implements the fail-closed policy: any non-200 answer on an
// authenticated call discards the token, expiry, email and cached folder
// id, flipping the subsystem to offline mode.
func (c *Client) reject(resp *http.Response) {
	var apiErr ErrorResponse
	if body, err := io.ReadAll(resp.Body); err == nil {
		json.Unmarshal(body, &apiErr)
	}
	c.log.Warn().
		Int("status", resp.StatusCode).
		Str("apiError", apiErr.Error.Message).
		Msg("cloud call rejected, dropping session")

	if err := c.tokens.Clear(); err != nil {
		c.log.Error().Err(err).Msg("failed to clear session")
	}

	c.mu.Lock()
	c.folderID = ""
	c.mu.Unlock()
}
