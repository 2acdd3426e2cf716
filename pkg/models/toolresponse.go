package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

type Status string

const (
	StatusSuccess             Status = "success"
	StatusError               Status = "error"
	StatusPendingConfirmation Status = "pending_confirmation"
)

const (
	CodeUpstreamUnavailable   = "UPSTREAM_UNAVAILABLE"
	CodeInvalidResponse       = "INVALID_UPSTREAM_RESPONSE"
	CodeAccessDenied          = "ACCESS_DENIED"
	CodeToolNotFound          = "TOOL_NOT_FOUND"
	CodeInvalidInput          = "INVALID_INPUT"
	CodeConfirmationNotFound  = "CONFIRMATION_NOT_FOUND"
	CodeConfirmationRejected  = "CONFIRMATION_REJECTED"
	CodeConfirmationRequired  = "CONFIRMATION_REQUIRED"
	CodeInternal              = "INTERNAL_ERROR"
	DefaultTruncationWarning  = "Results were truncated. Only a subset of matching records is shown; refine the query to see the rest."
	DefaultUpstreamSuggestion = "The tool server is temporarily unreachable. Retry the request in a few moments."
)

// ToolResponse is the only shape exchanged with tool servers and clients.
// Its variants are Success, ToolError and PendingConfirmation; consumers
// switch on the concrete type.
type ToolResponse interface {
	Status() Status
	isToolResponse()
}

type Success struct {
	Data     json.RawMessage `json:"data"`
	Metadata Metadata        `json:"metadata"`
}

type Metadata struct {
	Truncated     bool   `json:"truncated"`
	TotalEstimate string `json:"totalEstimate,omitempty"`
	Warning       string `json:"warning,omitempty"`
}

type ToolError struct {
	Code            string `json:"code"`
	Message         string `json:"message"`
	SuggestedAction string `json:"suggestedAction,omitempty"`
}

type PendingConfirmation struct {
	ConfirmationID   string          `json:"confirmationId"`
	Message          string          `json:"message"`
	ConfirmationData json.RawMessage `json:"confirmationData"`
}

func (Success) Status() Status { return StatusSuccess }
func (ToolError) Status() Status { return StatusError }
func (PendingConfirmation) Status() Status { return StatusPendingConfirmation }

func (Success) isToolResponse() {}
func (ToolError) isToolResponse() {}
func (PendingConfirmation) isToolResponse() {}

func (s Success) MarshalJSON() ([]byte, error) {
	data := s.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return json.Marshal(struct {
		Status   Status          `json:"status"`
		Data     json.RawMessage `json:"data"`
		Metadata Metadata        `json:"metadata"`
	}{StatusSuccess, data, s.Metadata})
}

func (e ToolError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Status          Status `json:"status"`
		Code            string `json:"code"`
		Message         string `json:"message"`
		SuggestedAction string `json:"suggestedAction,omitempty"`
	}{StatusError, e.Code, e.Message, e.SuggestedAction})
}

func (p PendingConfirmation) MarshalJSON() ([]byte, error) {
	data := p.ConfirmationData
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	return json.Marshal(struct {
		Status           Status          `json:"status"`
		ConfirmationID   string          `json:"confirmationId"`
		Message          string          `json:"message"`
		ConfirmationData json.RawMessage `json:"confirmationData"`
	}{StatusPendingConfirmation, p.ConfirmationID, p.Message, data})
}

func NewToolError(code, message, suggestedAction string) ToolError {
	return ToolError{Code: code, Message: message, SuggestedAction: suggestedAction}
}

var ErrInvalidToolResponse = errors.New("invalid tool response")

// DecodeToolResponse parses raw strictly: unknown status tags, unknown
// fields and missing required fields are all rejected.
func DecodeToolResponse(raw []byte) (ToolResponse, error) {
	var head struct {
		Status *Status `json:"status"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToolResponse, err)
	}
	if head.Status == nil {
		return nil, fmt.Errorf("%w: missing status", ErrInvalidToolResponse)
	}
	switch *head.Status {
	case StatusSuccess:
		var v struct {
			Status   Status          `json:"status"`
			Data     json.RawMessage `json:"data"`
			Metadata *Metadata       `json:"metadata"`
		}
		if err := decodeStrict(raw, &v); err != nil {
			return nil, err
		}
		if len(v.Data) == 0 {
			return nil, fmt.Errorf("%w: success without data", ErrInvalidToolResponse)
		}
		out := Success{Data: v.Data}
		if v.Metadata != nil {
			out.Metadata = *v.Metadata
		}
		return out, nil
	case StatusError:
		var v struct {
			Status Status `json:"status"`
			ToolError
		}
		if err := decodeStrict(raw, &v); err != nil {
			return nil, err
		}
		if v.Code == "" || v.Message == "" {
			return nil, fmt.Errorf("%w: error requires code and message", ErrInvalidToolResponse)
		}
		return v.ToolError, nil
	case StatusPendingConfirmation:
		var v struct {
			Status Status `json:"status"`
			PendingConfirmation
		}
		if err := decodeStrict(raw, &v); err != nil {
			return nil, err
		}
		if v.ConfirmationID == "" || v.Message == "" {
			return nil, fmt.Errorf("%w: pending_confirmation requires confirmationId and message", ErrInvalidToolResponse)
		}
		return v.PendingConfirmation, nil
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidToolResponse, *head.Status)
	}
}

func decodeStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToolResponse, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", ErrInvalidToolResponse)
	}
	return nil
}
