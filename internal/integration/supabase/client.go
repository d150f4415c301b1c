// Package supabase is a small client for the hosted backend: password sign-in,
// sign-out, current-user lookup and edge function invocation.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tidwall/gjson"
)

// Sentinel errors for auth operations.
var (
	// ErrNoSession is returned when sign-in succeeds without issuing a session.
	ErrNoSession = errors.New("login failed: no session returned")

	// ErrNotAuthenticated is returned when a call needs a session and there is none.
	ErrNotAuthenticated = errors.New("user not authenticated")
)

// APIError is a failure reported by the backend, or a request that never got
// a response. In the latter case Err holds the transport error.
type APIError struct {
	Status  int    // HTTP status, 0 when the request never got a response
	Message string // Message extracted from the response body
	Err     error
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

// Unwrap exposes the transport error, so context cancellation and deadlines
// can be matched with errors.Is.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLogger sets the client's logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client talks to one backend project. The session obtained by sign-in is
// kept in memory and used for later calls; it is never written to disk.
type Client struct {
	baseURL string
	anonKey string
	http    *http.Client
	logger  *log.Logger
	now     func() time.Time

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time // Zero when the expiry is unknown
	userID       string    // Owner of accessToken, "" until known

	refreshMu sync.Mutex
}

// NewClient creates a client for the project at baseURL using its anon key.
func NewClient(baseURL, anonKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  log.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AccessToken returns the current session token, or "" when signed out.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken installs a session token obtained elsewhere. It cannot be
// refreshed and its owner is unknown until GetUser succeeds.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
	c.refreshToken = ""
	c.expiresAt = time.Time{}
	c.userID = ""
}

// SessionOwner identifies whose data a call returns: "anon" without a
// session, the user ID when known, and "" for a token whose owner has not
// been looked up.
func (c *Client) SessionOwner() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.accessToken == "" {
		return "anon"
	}
	return c.userID
}

// doJSON sends body as JSON and decodes a successful response into out.
// out may be nil. Non-2xx responses become *APIError.
func (c *Client) doJSON(ctx context.Context, method, path, token string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	c.logger.Debug("Sending backend request", "method", method, "path", path)
	resp, err := c.http.Do(req)
	if err != nil {
		return &APIError{Message: fmt.Sprintf("failed to send request: %v", err), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug("Backend returned an error", "path", path, "status", resp.StatusCode)
		return &APIError{
			Status:  resp.StatusCode,
			Message: errorMessage(data, http.StatusText(resp.StatusCode)),
		}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// errorMessage pulls a human-readable message out of an error body. The auth
// service and edge functions use different field names.
func errorMessage(body []byte, fallback string) string {
	if gjson.ValidBytes(body) {
		for _, path := range []string{"msg", "error_description", "message", "error.message", "error"} {
			if r := gjson.GetBytes(body, path); r.Type == gjson.String && r.Str != "" {
				return r.Str
			}
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" && len(s) <= 200 && !strings.HasPrefix(s, "{") {
		return s
	}
	if fallback == "" {
		return "request failed"
	}
	return fallback
}
