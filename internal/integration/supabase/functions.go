package supabase

import (
	"context"
	"net/http"
	"net/url"

	"github.com/google/uuid"
)

// Invoke calls the edge function name with body as its JSON payload and
// decodes the result into out. The session token is sent when present,
// otherwise the anon key. An expired session is refreshed and the call
// retried once.
func (c *Client) Invoke(ctx context.Context, name string, body, out any) error {
	requestID := uuid.NewString()
	headers := map[string]string{"x-request-id": requestID}

	c.logger.Debug("Invoking edge function", "function", name, "request_id", requestID)
	return c.doAuthorized(ctx, http.MethodPost, "/functions/v1/"+url.PathEscape(name), true, headers, body, out)
}
