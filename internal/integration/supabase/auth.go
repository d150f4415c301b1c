package supabase

import (
	"context"
	"errors"
	"net/http"
)

// User is the identity provider's view of an account.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Phone        string         `json:"phone"`
	Role         string         `json:"role"`
	CreatedAt    string         `json:"created_at"`
	UpdatedAt    string         `json:"updated_at"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// Session is the token bundle issued by a successful sign-in.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	User         *User  `json:"user"`
}

// SignInWithPassword signs in with phone and password. On success the session
// is kept on the client and refreshed before it expires.
func (c *Client) SignInWithPassword(ctx context.Context, phone, password string) (*Session, error) {
	body := map[string]string{"phone": phone, "password": password}

	var sess Session
	if err := c.doJSON(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", c.anonKey, nil, body, &sess); err != nil {
		return nil, err
	}
	if sess.AccessToken == "" || sess.User == nil {
		return nil, ErrNoSession
	}

	c.setSession(&sess)
	c.logger.Info("Signed in", "user", sess.User.ID)
	return &sess, nil
}

// SignOut revokes the current session. Signing out without a session is a no-op.
func (c *Client) SignOut(ctx context.Context) error {
	token := c.AccessToken()
	if token == "" {
		return nil
	}
	if err := c.doJSON(ctx, http.MethodPost, "/auth/v1/logout", token, nil, nil, nil); err != nil {
		// An already invalid token still ends the local session.
		var apiErr *APIError
		if !errors.As(err, &apiErr) || (apiErr.Status != http.StatusUnauthorized && apiErr.Status != http.StatusNotFound) {
			return err
		}
	}
	c.clearSession()
	c.logger.Info("Signed out")
	return nil
}

// GetUser returns the user that owns the current session and records it as
// the session owner.
func (c *Client) GetUser(ctx context.Context) (*User, error) {
	var user User
	if err := c.doAuthorized(ctx, http.MethodGet, "/auth/v1/user", false, nil, nil, &user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, ErrNotAuthenticated
	}

	c.mu.Lock()
	if c.accessToken != "" {
		c.userID = user.ID
	}
	c.mu.Unlock()
	return &user, nil
}
