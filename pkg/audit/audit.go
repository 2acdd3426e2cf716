// Package audit emits one structured record per security-relevant decision.
package audit

import (
	"context"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"mcpgateway/pkg/models"
)

const (
	ActionAuthenticate   = "auth.authenticate"
	ActionTokenRevoked   = "auth.token_revoked"
	ActionLogout         = "auth.logout"
	ActionServerAccess   = "authz.server_access"
	ActionPromptRejected = "prompt.rejected"
	ActionOutputBlocked  = "prompt.output_blocked"
	ActionToolInvoke     = "tool.invoke"
	ActionToolRefused    = "tool.refused"
	ActionConfirmCreate  = "confirmation.create"
	ActionConfirmResolve = "confirmation.resolve"
	ActionRateLimited    = "ratelimit.exceeded"
)

const (
	OutcomeAllowed  = "allowed"
	OutcomeDenied   = "denied"
	OutcomeBlocked  = "blocked"
	OutcomePending  = "pending"
	OutcomeApproved = "approved"
	OutcomeRejected = "rejected"
	OutcomeNotFound = "not_found"
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
)

type Emitter interface {
	Emit(ctx context.Context, rec models.AuditRecord)
}

// Sink persists finished records. A sink failure never fails the decision
// being audited.
type Sink interface {
	Write(ctx context.Context, rec models.AuditRecord) error
}

// Logger stamps, redacts and fans records out to every sink.
type Logger struct {
	Sinks    []Sink
	Redactor *Redactor
	Now      func() time.Time
}

func NewLogger(redactor *Redactor, sinks ...Sink) *Logger {
	return &Logger{Sinks: sinks, Redactor: redactor, Now: time.Now}
}

func (l *Logger) Emit(ctx context.Context, rec models.AuditRecord) {
	if l == nil {
		return
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		now := time.Now
		if l.Now != nil {
			now = l.Now
		}
		rec.Timestamp = now().UTC()
	}
	rec.Roles = slices.Clone(rec.Roles)
	if l.Redactor != nil {
		rec = l.Redactor.Apply(rec)
	}
	for _, sink := range l.Sinks {
		if err := sink.Write(context.WithoutCancel(ctx), rec); err != nil {
			log.Printf("audit: sink %T write failed id=%s action=%s: %v", sink, rec.ID, rec.Action, err)
		}
	}
}

// Recorder keeps records in memory.
type Recorder struct {
	mu      sync.Mutex
	records []models.AuditRecord
}

func (r *Recorder) Write(ctx context.Context, rec models.AuditRecord) error {
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Emit(ctx context.Context, rec models.AuditRecord) {
	_ = r.Write(ctx, rec)
}

func (r *Recorder) Records() []models.AuditRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.records)
}

// Find returns records matching action and, when non-empty, outcome.
func (r *Recorder) Find(action, outcome string) []models.AuditRecord {
	var out []models.AuditRecord
	for _, rec := range r.Records() {
		if rec.Action == action && (outcome == "" || rec.Outcome == outcome) {
			out = append(out, rec)
		}
	}
	return out
}
