package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"mcpgateway/pkg/audit"
	"mcpgateway/pkg/auth"
	"mcpgateway/pkg/config"
	"mcpgateway/pkg/llm"
	"mcpgateway/pkg/promptdefense"
	"mcpgateway/pkg/rbac"
	"mcpgateway/pkg/store"
)

const testSecret = "gateway-test-secret-0123456789abcdef"

type downstreamCall struct {
	Server    string
	Tool      string
	Arguments map[string]any
	Confirmed bool
	UserID    string
	Roles     string
}

// fakeToolServer answers POST /tools/{tool} for one server name. Reads
// return limit+1 rows; writes succeed only when confirmed.
type fakeToolServer struct {
	mu    sync.Mutex
	calls []downstreamCall
}

func (f *fakeToolServer) handler(server string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tools/{tool}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Arguments map[string]any `json:"arguments"`
			Confirmed bool           `json:"confirmed"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		call := downstreamCall{
			Server:    server,
			Tool:      r.PathValue("tool"),
			Arguments: body.Arguments,
			Confirmed: body.Confirmed,
			UserID:    r.Header.Get("X-User-ID"),
			Roles:     r.Header.Get("X-User-Roles"),
		}
		f.mu.Lock()
		f.calls = append(f.calls, call)
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if strings.HasPrefix(call.Tool, "list_") || strings.HasPrefix(call.Tool, "search_") {
			limit := 50
			if v, ok := body.Arguments["limit"].(float64); ok {
				limit = int(v)
			}
			rows := make([]map[string]string, 0, limit+1)
			for i := 0; i <= limit; i++ {
				rows = append(rows, map[string]string{"id": "row-" + strconv.Itoa(i)})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "success", "data": rows, "metadata": map[string]any{"truncated": false}})
			return
		}
		if !call.Confirmed {
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "error", "code": "CONFIRMATION_REQUIRED", "message": "write requires confirmation"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "success", "data": map[string]string{"result": "done"}, "metadata": map[string]any{"truncated": false}})
	})
	return mux
}

func (f *fakeToolServer) Calls() []downstreamCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]downstreamCall(nil), f.calls...)
}

type fixture struct {
	t      *testing.T
	srv    *Server
	ts     *httptest.Server
	mr     *miniredis.Miniredis
	model  *llm.Scripted
	tools  *fakeToolServer
	audit  *audit.Recorder
	logger *bytes.Buffer
}

func testConfig() config.Config {
	return config.Config{
		Environment:         "development",
		ServiceName:         "mcp-gateway",
		AuthMode:            auth.ModeHS256,
		HS256Secret:         testSecret,
		ConfirmTTL:          300 * time.Second,
		MaxQueryChars:       4000,
		MaxToolRounds:       5,
		RateLimitPerMinute:  100,
		MaxRequestBodyBytes: 1 << 20,
	}
}

func newFixture(t *testing.T, cfg config.Config, turns ...llm.ScriptedTurn) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tools := &fakeToolServer{}
	urls := map[string]string{}
	for _, server := range []string{rbac.ServerHR, rbac.ServerFinance, rbac.ServerSales, rbac.ServerSupport} {
		ds := httptest.NewServer(tools.handler(server))
		t.Cleanup(ds.Close)
		urls[server] = ds.URL
	}
	cfg.ToolServerURLs = urls

	rec := &audit.Recorder{}
	logs := &bytes.Buffer{}
	model := llm.NewScripted(turns...)
	srv, err := newServer(cfg, serverDeps{
		Cache: store.NewRedisCache(client),
		Redis: client,
		Model: model,
		Sinks: []audit.Sink{rec, audit.NewSlogSink(logs)},
	})
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	// The statistical classifier has its own tests; here only the
	// deterministic layers run so benign fixtures stay stable.
	srv.Defense = promptdefense.New(cfg.MaxQueryChars, nil)
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return &fixture{t: t, srv: srv, ts: ts, mr: mr, model: model, tools: tools, audit: rec, logger: logs}
}

func (f *fixture) token(sub string, roles ...string) string {
	f.t.Helper()
	tok, err := auth.SignHS256(map[string]any{
		"sub":                sub,
		"preferred_username": sub + "-name",
		"jti":                "jti-" + sub,
		"roles":              roles,
		"exp":                time.Now().Add(time.Hour).Unix(),
	}, testSecret)
	if err != nil {
		f.t.Fatalf("sign: %v", err)
	}
	return tok
}

func (f *fixture) do(method, path, token string, body any) *http.Response {
	f.t.Helper()
	var rdr io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			f.t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, rdr)
	if err != nil {
		f.t.Fatalf("request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.ts.Client().Do(req)
	if err != nil {
		f.t.Fatalf("%s %s: %v", method, path, err)
	}
	f.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

type errorBody struct {
	Error           string `json:"error"`
	Code            string `json:"code"`
	SuggestedAction string `json:"suggestedAction"`
	RequestID       string `json:"requestId"`
}

// readSSE returns the data payloads of every event in order, including
// the terminal sentinel.
func readSSE(t *testing.T, resp *http.Response) []string {
	t.Helper()
	var out []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			out = append(out, data)
		}
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("read stream: %v", err)
	}
	return out
}

type streamEvent struct {
	Type           string `json:"type"`
	Text           string `json:"text"`
	Server         string `json:"server"`
	Tool           string `json:"tool"`
	Warning        string `json:"warning"`
	ConfirmationID string `json:"confirmationId"`
	Code           string `json:"code"`
}

func parseEvents(t *testing.T, frames []string) []streamEvent {
	t.Helper()
	var out []streamEvent
	for _, f := range frames {
		if f == "[DONE]" {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(f), &ev); err != nil {
			t.Fatalf("frame %q: %v", f, err)
		}
		out = append(out, ev)
	}
	return out
}
