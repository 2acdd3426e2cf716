// Package llm abstracts the model provider behind a streaming, cancellable
// turn interface.
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrStopped is returned by an OnText callback to end a turn early. Models
// propagate it unchanged.
var ErrStopped = errors.New("model stream stopped by caller")

type ItemKind string

const (
	ItemUser       ItemKind = "user"
	ItemAssistant  ItemKind = "assistant"
	ItemToolCall   ItemKind = "tool_call"
	ItemToolResult ItemKind = "tool_result"
)

// Item is one conversation entry. Text is set for user and assistant
// items, Call for tool calls, and CallID with Text for tool results.
type Item struct {
	Kind   ItemKind
	Text   string
	Call   ToolCall
	CallID string
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type Request struct {
	System string
	Items  []Item
	Tools  []ToolSpec
}

// Turn is what the model produced in one call.
type Turn struct {
	Text      string
	ToolCalls []ToolCall
}

// OnText receives output fragments in arrival order.
type OnText func(fragment string) error

type Model interface {
	Stream(ctx context.Context, req Request, onText OnText) (Turn, error)
}

func UserItem(text string) Item { return Item{Kind: ItemUser, Text: text} }

func AssistantItem(text string) Item { return Item{Kind: ItemAssistant, Text: text} }

func ToolCallItem(c ToolCall) Item { return Item{Kind: ItemToolCall, Call: c} }

func ToolResultItem(callID, output string) Item {
	return Item{Kind: ItemToolResult, CallID: callID, Text: output}
}
