package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/odyssey-erp/odyssey-access/internal/authority"
)

// HTTPClient speaks to a REST provider exposing bindings under
// /resources/{resource}/bindings.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient constructs a new client. The per-call deadline is set by the
// Adapter; timeout here is only a backstop.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type bindingPayload struct {
	Email string          `json:"email"`
	Level authority.Level `json:"level"`
}

type bindingResponse struct {
	ID string `json:"id"`
}

// Grant creates a binding.
func (c *HTTPClient) Grant(ctx context.Context, resourceID, email string, level authority.Level) (string, error) {
	var out bindingResponse
	err := c.do(ctx, "grant", http.MethodPost, c.bindingsURL(resourceID), bindingPayload{Email: email, Level: level}, &out)
	return out.ID, err
}

// Revoke removes a binding.
func (c *HTTPClient) Revoke(ctx context.Context, resourceID, email string) error {
	return c.do(ctx, "revoke", http.MethodDelete, c.bindingsURL(resourceID)+"/"+url.PathEscape(email), nil, nil)
}

// Update changes the level of an existing binding.
func (c *HTTPClient) Update(ctx context.Context, resourceID, email string, level authority.Level) (string, error) {
	var out bindingResponse
	err := c.do(ctx, "update", http.MethodPatch, c.bindingsURL(resourceID)+"/"+url.PathEscape(email), bindingPayload{Email: email, Level: level}, &out)
	return out.ID, err
}

// ListBindings returns every binding on the resource.
func (c *HTTPClient) ListBindings(ctx context.Context, resourceID string) ([]Binding, error) {
	var out struct {
		Bindings []Binding `json:"bindings"`
	}
	if err := c.do(ctx, "list_bindings", http.MethodGet, c.bindingsURL(resourceID), nil, &out); err != nil {
		return nil, err
	}
	return out.Bindings, nil
}

func (c *HTTPClient) bindingsURL(resourceID string) string {
	return fmt.Sprintf("%s/resources/%s/bindings", c.baseURL, url.PathEscape(resourceID))
}

func (c *HTTPClient) do(ctx context.Context, op, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return NewError(KindUnknown, op, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return NewError(KindUnknown, op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return NewError(Classify(err), op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return classifyStatus(op, resp.StatusCode, string(msg))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewError(KindUnknown, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
