package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const anonKey = "anon-key"

// mockBackend serves the handler under a fresh test server and returns a client for it.
func mockBackend(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL+"/", anonKey, WithHTTPClient(server.Client()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestSignInWithPassword(t *testing.T) {
	client := mockBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		assert.Equal(t, anonKey, r.Header.Get("apikey"))

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "+15550001111", body["phone"])
		assert.Equal(t, "secret", body["password"])

		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "session-token",
			"token_type":   "bearer",
			"expires_in":   3600,
			"user": map[string]any{
				"id":         "user-1",
				"phone":      "15550001111",
				"created_at": "2024-01-01T00:00:00Z",
			},
		})
	})

	sess, err := client.SignInWithPassword(context.Background(), "+15550001111", "secret")
	require.NoError(t, err)
	assert.Equal(t, "session-token", sess.AccessToken)
	assert.Equal(t, "user-1", sess.User.ID)
	assert.Equal(t, "session-token", client.AccessToken())
}

func TestSignInErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    any
		wantMsg string
	}{
		{"msg field", http.StatusBadRequest, map[string]any{"code": 400, "msg": "Invalid login credentials"}, "Invalid login credentials"},
		{"oauth style", http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "Phone not confirmed"}, "Phone not confirmed"},
		{"no fields", http.StatusInternalServerError, map[string]any{}, "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := mockBackend(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})

			_, err := client.SignInWithPassword(context.Background(), "1", "2")
			require.Error(t, err)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.wantMsg, apiErr.Message)
			assert.Empty(t, client.AccessToken())
		})
	}
}

func TestSignInWithoutSession(t *testing.T) {
	client := mockBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"user": map[string]any{"id": "user-1"}})
	})

	_, err := client.SignInWithPassword(context.Background(), "1", "2")
	assert.ErrorIs(t, err, ErrNoSession)
	assert.EqualError(t, err, "login failed: no session returned")
}

func TestSignOut(t *testing.T) {
	calls := 0
	client := mockBackend(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/auth/v1/logout", r.URL.Path)
		assert.Equal(t, "Bearer session-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.SignOut(context.Background()))
	assert.Equal(t, 0, calls, "signing out without a session should not call the backend")

	client.SetAccessToken("session-token")
	require.NoError(t, client.SignOut(context.Background()))
	assert.Equal(t, 1, calls)
	assert.Empty(t, client.AccessToken())
}

func TestSignOutFailure(t *testing.T) {
	client := mockBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadGateway, map[string]any{"message": "upstream down"})
	})
	client.SetAccessToken("session-token")

	err := client.SignOut(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")
	assert.Equal(t, "session-token", client.AccessToken())
}

func TestGetUser(t *testing.T) {
	client := mockBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/user", r.URL.Path)
		assert.Equal(t, "Bearer session-token", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]any{
			"id":            "user-1",
			"email":         "a@example.com",
			"user_metadata": map[string]any{"job": "engineer"},
		})
	})

	_, err := client.GetUser(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	client.SetAccessToken("session-token")
	user, err := client.GetUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
	assert.Equal(t, "engineer", user.UserMetadata["job"])
}

func TestInvoke(t *testing.T) {
	client := mockBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/functions/v1/waterBalance", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("x-request-id"))
		assert.Equal(t, "Bearer "+anonKey, r.Header.Get("Authorization"))

		data, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"groupName":"g","statDate":"2024-05-01"}`, string(data))

		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": []any{}})
	})

	var out struct {
		Success bool `json:"success"`
	}
	body := map[string]string{"groupName": "g", "statDate": "2024-05-01"}
	require.NoError(t, client.Invoke(context.Background(), "waterBalance", body, &out))
	assert.True(t, out.Success)
}

func TestInvokeUsesSessionToken(t *testing.T) {
	client := mockBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer session-token", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]any{})
	})
	client.SetAccessToken("session-token")

	require.NoError(t, client.Invoke(context.Background(), "waterBalance", nil, nil))
}

func TestInvokeError(t *testing.T) {
	client := mockBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unknown group"})
	})

	err := client.Invoke(context.Background(), "waterBalance", nil, nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "unknown group", apiErr.Message)
	assert.Equal(t, "unknown group (status 400)", apiErr.Error())
}

func TestInvokeNetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	client := NewClient(server.URL, anonKey)
	server.Close()

	err := client.Invoke(context.Background(), "waterBalance", nil, nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 0, apiErr.Status)
	assert.Contains(t, apiErr.Message, "failed to send request")
}

func TestInvokeContextErrors(t *testing.T) {
	client := mockBackend(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})

	t.Run("deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := client.Invoke(ctx, "waterBalance", nil, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, 0, apiErr.Status)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := client.Invoke(ctx, "waterBalance", nil, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "nested", errorMessage([]byte(`{"error":{"message":"nested"}}`), "x"))
	assert.Equal(t, "plain text failure", errorMessage([]byte("plain text failure"), "x"))
	assert.Equal(t, "x", errorMessage([]byte(`{"unrelated":1}`), "x"))
	assert.Equal(t, "request failed", errorMessage(nil, ""))
}
