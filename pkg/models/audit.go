package models

import "time"

// AuditRecord is one security-relevant decision. Records are append-only.
type AuditRecord struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"requestId"`
	UserID     string    `json:"userId"`
	Roles      []string  `json:"roles"`
	Action     string    `json:"action"`
	Target     string    `json:"target"`
	Outcome    string    `json:"outcome"`
	DurationMs int64     `json:"durationMs"`
	Detail     string    `json:"detail,omitempty"`
}
