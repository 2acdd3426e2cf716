package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func sseServer(t *testing.T, events ...string) (*httptest.Server, func() map[string]any) {
	t.Helper()
	var mu sync.Mutex
	var last map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		_ = json.Unmarshal(raw, &last)
		mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range events {
			var head struct {
				Type string `json:"type"`
			}
			_ = json.Unmarshal([]byte(e), &head)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", head.Type, e)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, func() map[string]any {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
}

func TestOpenAIStreamsTextAndToolCalls(t *testing.T) {
	srv, lastBody := sseServer(t,
		`{"type":"response.output_text.delta","item_id":"m1","output_index":0,"content_index":0,"delta":"Hello","sequence_number":1}`,
		`{"type":"response.output_text.delta","item_id":"m1","output_index":0,"content_index":0,"delta":" world","sequence_number":2}`,
		`{"type":"response.completed","sequence_number":3,"response":{"id":"r1","object":"response","status":"completed","model":"gpt-4.1-mini","output":[{"type":"function_call","id":"fc1","call_id":"call_1","name":"mcp-hr__list_employees","arguments":"{\"limit\":5}","status":"completed"}]}}`,
	)
	m, err := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	var fragments []string
	turn, err := m.Stream(context.Background(), Request{
		System: "system prompt",
		Items:  []Item{UserItem("hi"), ToolCallItem(ToolCall{ID: "c0", Name: "x__y", Arguments: json.RawMessage(`{}`)}), ToolResultItem("c0", `{"status":"success"}`)},
		Tools:  []ToolSpec{{Name: "mcp-hr__list_employees", Description: "List", Parameters: map[string]any{"type": "object"}}},
	}, func(f string) error {
		fragments = append(fragments, f)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if strings.Join(fragments, "|") != "Hello| world" || turn.Text != "Hello world" {
		t.Fatalf("unexpected text %q / %q", fragments, turn.Text)
	}
	if len(turn.ToolCalls) != 1 || turn.ToolCalls[0].ID != "call_1" || string(turn.ToolCalls[0].Arguments) != `{"limit":5}` {
		t.Fatalf("unexpected tool calls %+v", turn.ToolCalls)
	}
	body := lastBody()
	if body["instructions"] != "system prompt" || body["model"] != DefaultOpenAIModel || body["stream"] != true {
		t.Fatalf("unexpected request body %v", body)
	}
	if input, _ := body["input"].([]any); len(input) != 3 {
		t.Fatalf("expected 3 input items, got %v", body["input"])
	}
}

func TestOpenAIStopsWhenCallbackFails(t *testing.T) {
	srv, _ := sseServer(t,
		`{"type":"response.output_text.delta","item_id":"m1","output_index":0,"content_index":0,"delta":"leak","sequence_number":1}`,
		`{"type":"response.output_text.delta","item_id":"m1","output_index":0,"content_index":0,"delta":"more","sequence_number":2}`,
	)
	m, _ := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
	calls := 0
	_, err := m.Stream(context.Background(), Request{Items: []Item{UserItem("hi")}}, func(string) error {
		calls++
		return ErrStopped
	})
	if !errors.Is(err, ErrStopped) || calls != 1 {
		t.Fatalf("expected stop after first fragment, err=%v calls=%d", err, calls)
	}
}

func TestOpenAIFailureEvents(t *testing.T) {
	for _, evt := range []string{
		`{"type":"response.failed","sequence_number":1,"response":{"id":"r","status":"failed","error":{"code":"server_error","message":"boom"},"output":[]}}`,
		`{"type":"error","sequence_number":1,"code":"rate_limit","message":"slow down","param":null}`,
	} {
		srv, _ := sseServer(t, evt)
		m, _ := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
		if _, err := m.Stream(context.Background(), Request{Items: []Item{UserItem("hi")}}, nil); err == nil {
			t.Fatalf("expected error for %s", evt)
		}
	}
	srv, _ := sseServer(t)
	m, _ := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
	if _, err := m.Stream(context.Background(), Request{Items: []Item{UserItem("hi")}}, nil); err == nil {
		t.Fatal("expected error when the stream ends without completion")
	}
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	if _, err := NewOpenAI(OpenAIConfig{}); err == nil {
		t.Fatal("expected missing key error")
	}
}
