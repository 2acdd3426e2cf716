package orchestrator

import (
	"encoding/json"

	"mcpgateway/pkg/models"
)

const (
	EventText                = "text"
	EventToolCall            = "tool_call"
	EventTruncationWarning   = "truncation_warning"
	EventPendingConfirmation = "pending_confirmation"
	EventReplace             = "replace"
	EventError               = "error"
)

// Event is one streamed fragment. Only the fields of its Type are set.
type Event struct {
	Type             string          `json:"type"`
	Text             string          `json:"text,omitempty"`
	Server           string          `json:"server,omitempty"`
	Tool             string          `json:"tool,omitempty"`
	Warning          string          `json:"warning,omitempty"`
	Status           models.Status   `json:"status,omitempty"`
	ConfirmationID   string          `json:"confirmationId,omitempty"`
	ConfirmationData json.RawMessage `json:"confirmationData,omitempty"`
	Code             string          `json:"code,omitempty"`
	Message          string          `json:"message,omitempty"`
	RequestID        string          `json:"requestId,omitempty"`
}

func textEvent(fragment string) Event {
	return Event{Type: EventText, Text: fragment}
}

func pendingEvent(server, tool string, p models.PendingConfirmation) Event {
	return Event{
		Type:             EventPendingConfirmation,
		Server:           server,
		Tool:             tool,
		Status:           models.StatusPendingConfirmation,
		ConfirmationID:   p.ConfirmationID,
		Message:          p.Message,
		ConfirmationData: p.ConfirmationData,
	}
}

// ErrorEvent is the fragment written when a stream fails after it started.
func ErrorEvent(code, message, requestID string) Event {
	return Event{Type: EventError, Code: code, Message: message, RequestID: requestID}
}
