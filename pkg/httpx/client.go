package httpx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultMaxResponseBytes = 4 << 20

// Request describes one outbound JSON call.
type Request struct {
	Method     string
	URL        string
	Body       []byte
	Headers    map[string]string
	Retries    int
	RetryDelay time.Duration
	MaxBytes   int64
}

// RequestJSON performs an HTTP request with retry for transient failures.
// Retries apply to transport errors and 5xx responses only, and stop as
// soon as ctx is done.
func RequestJSON(ctx context.Context, client *http.Client, in Request) (int, []byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	retries := max(in.Retries, 0)
	limit := in.MaxBytes
	if limit <= 0 {
		limit = defaultMaxResponseBytes
	}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, in.RetryDelay); err != nil {
				return 0, nil, err
			}
		}
		req, err := http.NewRequestWithContext(ctx, in.Method, in.URL, bytes.NewReader(in.Body))
		if err != nil {
			return 0, nil, err
		}
		if len(in.Body) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		for k, v := range in.Headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, limit+1))
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}
		if int64(len(respBody)) > limit {
			return resp.StatusCode, nil, fmt.Errorf("response body exceeds %d bytes", limit)
		}
		if resp.StatusCode >= 500 && attempt < retries {
			lastErr = fmt.Errorf("upstream status %d", resp.StatusCode)
			continue
		}
		return resp.StatusCode, respBody, nil
	}
	return 0, nil, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
