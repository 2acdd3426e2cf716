package toolproxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mcpgateway/pkg/auth"
	"mcpgateway/pkg/httpx"
)

var ErrUnknownServer = errors.New("no url configured for tool server")

// Call is one downstream tool invocation.
type Call struct {
	Server    string
	Tool      string
	Arguments json.RawMessage
	Confirmed bool
	Principal auth.Principal
	Retries   int
}

// Transport delivers a Call and returns the raw downstream status and body.
type Transport interface {
	Call(ctx context.Context, c Call) (int, []byte, error)
}

// HTTPTransport posts calls to {base}/tools/{tool} on the server's
// configured base URL.
type HTTPTransport struct {
	Client     *http.Client
	BaseURLs   map[string]string
	RetryDelay time.Duration
	MaxBytes   int64
}

func (h HTTPTransport) Call(ctx context.Context, c Call) (int, []byte, error) {
	base := strings.TrimRight(strings.TrimSpace(h.BaseURLs[c.Server]), "/")
	if base == "" {
		return 0, nil, fmt.Errorf("%w: %s", ErrUnknownServer, c.Server)
	}
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	body, err := json.Marshal(struct {
		Arguments json.RawMessage `json:"arguments"`
		Confirmed bool            `json:"confirmed"`
	}{c.Arguments, c.Confirmed})
	if err != nil {
		return 0, nil, err
	}
	delay := h.RetryDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	return httpx.RequestJSON(ctx, client, httpx.Request{
		Method:     http.MethodPost,
		URL:        base + "/tools/" + url.PathEscape(c.Tool),
		Body:       body,
		Headers:    identityHeaders(c.Principal),
		Retries:    c.Retries,
		RetryDelay: delay,
		MaxBytes:   h.MaxBytes,
	})
}

// identityHeaders carries the caller's identity so the tool server can
// apply its own row-level filtering.
func identityHeaders(p auth.Principal) map[string]string {
	h := map[string]string{
		"X-User-ID":    p.UserID,
		"X-User-Name":  p.Username,
		"X-User-Roles": strings.Join(p.Roles, ","),
	}
	if p.RequestID != "" {
		h["X-Request-ID"] = p.RequestID
	}
	if p.Token != "" {
		h["Authorization"] = "Bearer " + p.Token
	}
	return h
}
