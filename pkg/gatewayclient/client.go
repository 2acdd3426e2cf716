// Package gatewayclient calls the gateway's HTTP API on behalf of a single
// bearer token. It backs the MCP bridge and the operator CLI.
package gatewayclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mcpgateway/pkg/httpx"
)

// Client is safe for concurrent use.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Retries    int
	RetryDelay time.Duration
}

// APIError is a non-2xx gateway reply.
type APIError struct {
	Status int
	Body   httpx.ErrorBody
}

func (e *APIError) Error() string {
	msg := e.Body.Error
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Body.Code != "" {
		return fmt.Sprintf("gateway %d %s: %s", e.Status, e.Body.Code, msg)
	}
	return fmt.Sprintf("gateway %d: %s", e.Status, msg)
}

// Reply is a successful gateway reply. Body is the raw JSON document.
type Reply struct {
	Status int
	Body   json.RawMessage
}

// Invoke calls POST /api/mcp/{server}/{tool} with arguments as the body.
func (c *Client) Invoke(ctx context.Context, server, tool string, arguments map[string]any) (Reply, error) {
	if strings.TrimSpace(server) == "" || strings.TrimSpace(tool) == "" {
		return Reply{}, errors.New("server and tool are required")
	}
	if arguments == nil {
		arguments = map[string]any{}
	}
	body, err := json.Marshal(arguments)
	if err != nil {
		return Reply{}, err
	}
	return c.do(ctx, http.MethodPost, "/api/mcp/"+url.PathEscape(server)+"/"+url.PathEscape(tool), body, 0)
}

// Confirm resolves a pending confirmation with POST /api/confirm/{id}.
func (c *Client) Confirm(ctx context.Context, confirmationID string, approved bool) (Reply, error) {
	if strings.TrimSpace(confirmationID) == "" {
		return Reply{}, errors.New("confirmation id is required")
	}
	body, _ := json.Marshal(map[string]bool{"approved": approved})
	return c.do(ctx, http.MethodPost, "/api/confirm/"+url.PathEscape(confirmationID), body, 0)
}

// Tools lists the caller's reachable tools.
func (c *Client) Tools(ctx context.Context) (Reply, error) {
	return c.do(ctx, http.MethodGet, "/api/tools", nil, c.Retries)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, retries int) (Reply, error) {
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		return Reply{}, errors.New("gateway url is required")
	}
	headers := map[string]string{}
	if c.Token != "" {
		headers["Authorization"] = "Bearer " + c.Token
	}
	status, raw, err := httpx.RequestJSON(ctx, c.HTTPClient, httpx.Request{
		Method:     method,
		URL:        base + path,
		Body:       body,
		Headers:    headers,
		Retries:    retries,
		RetryDelay: c.RetryDelay,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("gateway %s %s: %w", method, path, err)
	}
	if status < 200 || status > 299 {
		apiErr := &APIError{Status: status}
		_ = json.Unmarshal(raw, &apiErr.Body)
		return Reply{}, apiErr
	}
	return Reply{Status: status, Body: raw}, nil
}
