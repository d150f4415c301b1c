package supabase

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// refreshMargin is how long before expiry an access token is renewed.
const refreshMargin = time.Minute

// setSession stores every part of sess the client reuses later.
func (c *Client) setSession(sess *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = sess.AccessToken
	c.refreshToken = sess.RefreshToken
	c.expiresAt = time.Time{}
	if sess.ExpiresIn > 0 {
		c.expiresAt = c.now().Add(time.Duration(sess.ExpiresIn) * time.Second)
	}
	if sess.User != nil {
		c.userID = sess.User.ID
	}
}

func (c *Client) clearSession() {
	c.SetAccessToken("")
}

// RefreshSession exchanges the stored refresh token for a new session.
func (c *Client) RefreshSession(ctx context.Context) (*Session, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	return c.refreshLocked(ctx)
}

func (c *Client) refreshLocked(ctx context.Context) (*Session, error) {
	c.mu.RLock()
	refreshToken := c.refreshToken
	c.mu.RUnlock()
	if refreshToken == "" {
		return nil, ErrNotAuthenticated
	}

	body := map[string]string{"refresh_token": refreshToken}
	var sess Session
	if err := c.doJSON(ctx, http.MethodPost, "/auth/v1/token?grant_type=refresh_token", c.anonKey, nil, body, &sess); err != nil {
		return nil, err
	}
	if sess.AccessToken == "" {
		return nil, ErrNoSession
	}

	c.setSession(&sess)
	c.logger.Debug("Refreshed session", "expires_in", sess.ExpiresIn)
	return &sess, nil
}

// sessionToken returns the access token, renewing it first when it is about
// to expire. It returns "" without a session.
func (c *Client) sessionToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	token, refreshToken, expiresAt := c.accessToken, c.refreshToken, c.expiresAt
	c.mu.RUnlock()

	if token == "" || refreshToken == "" || expiresAt.IsZero() || c.now().Before(expiresAt.Add(-refreshMargin)) {
		return token, nil
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another caller may have refreshed while we waited.
	if current := c.AccessToken(); current != token {
		return current, nil
	}
	if _, err := c.refreshLocked(ctx); err != nil {
		return "", err
	}
	return c.AccessToken(), nil
}

// doAuthorized sends a request with the session token, or the anon key when
// allowAnon is set and there is no session. A 401 on a refreshable session
// triggers one refresh and one retry.
func (c *Client) doAuthorized(ctx context.Context, method, path string, allowAnon bool, headers map[string]string, body, out any) error {
	token, err := c.sessionToken(ctx)
	if err != nil {
		return err
	}
	if token == "" {
		if !allowAnon {
			return ErrNotAuthenticated
		}
		return c.doJSON(ctx, method, path, c.anonKey, headers, body, out)
	}

	err = c.doJSON(ctx, method, path, token, headers, body, out)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		return err
	}

	c.refreshMu.Lock()
	if c.AccessToken() == token {
		if _, rerr := c.refreshLocked(ctx); rerr != nil {
			c.refreshMu.Unlock()
			if errors.Is(rerr, ErrNotAuthenticated) {
				return err
			}
			return rerr
		}
	}
	c.refreshMu.Unlock()

	c.logger.Debug("Retrying after session refresh", "path", path)
	return c.doJSON(ctx, method, path, c.AccessToken(), headers, body, out)
}
