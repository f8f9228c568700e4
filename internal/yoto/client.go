// Package yoto is a hand-written client for the Yoto platform API: OAuth
// token exchange, media uploads, text-to-speech, card content and device
// deployment.
package yoto

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

const userAgent = "racebrief/1.0"

// Sentinel errors. The reconciler depends on these being distinguishable.
var (
	// ErrAuthExpired is returned on 401 responses; the caller must refresh
	// or re-run the authorization flow.
	ErrAuthExpired = errors.New("access token expired or invalid")

	// ErrSynthesis is returned when the TTS backend rejects or fails a
	// synthesis request.
	ErrSynthesis = errors.New("speech synthesis failed")

	// ErrUploadRejected is returned when the platform refuses an audio
	// upload before transcoding starts.
	ErrUploadRejected = errors.New("audio upload rejected")

	// ErrTranscodeFailed is returned when server-side transcoding reaches a
	// failed terminal state.
	ErrTranscodeFailed = errors.New("audio transcoding failed")

	// ErrTranscodeTimeout is returned when transcoding does not reach a
	// terminal state within the configured maximum wait.
	ErrTranscodeTimeout = errors.New("audio transcoding timed out")

	// ErrLegacyContent signals that a card was produced by the creation-only
	// legacy TTS mode and can never be updated in place.
	ErrLegacyContent = errors.New("card content cannot be updated in place")
)

// Config configures a Client.
type Config struct {
	ClientID    string
	APIBase     string
	LoginBase   string
	RedirectURI string
}

// Client talks to the Yoto platform. The zero token value is unauthenticated;
// use WithToken to derive an authorized client for one operation.
type Client struct {
	cfg        Config
	httpClient *http.Client
	token      string
}

// NewClient creates an unauthenticated platform client.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// WithToken returns a copy of the client that authorizes requests with the
// given access token.
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.token = token
	return &clone
}

// doJSON issues an API request with a JSON body (may be nil) and decodes the
// JSON response into out (may be nil). 401 responses map to ErrAuthExpired.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIBase+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrAuthExpired
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Body: readShort(resp.Body)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding %s response: %w", path, err)
		}
	}
	return nil
}

// APIError is a non-2xx platform response that is not an auth failure.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform returned status %d: %s", e.Status, e.Body)
}

// readShort reads at most 1KB of an error body for diagnostics.
func readShort(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 1024))
	return string(bytes.TrimSpace(b))
}
