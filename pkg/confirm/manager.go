// Package confirm holds write actions until a human approves or denies them.
package confirm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"mcpgateway/pkg/apierr"
	"mcpgateway/pkg/audit"
	"mcpgateway/pkg/auth"
	"mcpgateway/pkg/models"
	"mcpgateway/pkg/store"
)

const (
	DefaultTTL = 300 * time.Second
	keyPrefix  = "pending:"
)

var ErrNotFound = errors.New("confirmation not found")

// Request describes the write being deferred.
type Request struct {
	Server    string
	Tool      string
	Arguments json.RawMessage
	Message   string
}

// Pending is the stored form of a deferred write.
type Pending struct {
	ID         string          `json:"confirmationId"`
	UserID     string          `json:"userId"`
	Server     string          `json:"server"`
	Tool       string          `json:"tool"`
	Arguments  json.RawMessage `json:"arguments"`
	Digest     string          `json:"argumentsDigest"`
	Message    string          `json:"message"`
	CreatedAt  time.Time       `json:"createdAt"`
	TTLSeconds int             `json:"ttlSeconds"`
}

func (p Pending) ExpiresAt() time.Time {
	return p.CreatedAt.Add(time.Duration(p.TTLSeconds) * time.Second)
}

// Response is the ToolResponse handed back to the caller that triggered
// the write.
func (p Pending) Response() models.PendingConfirmation {
	data, _ := json.Marshal(struct {
		Server    string          `json:"server"`
		Tool      string          `json:"tool"`
		Arguments json.RawMessage `json:"arguments"`
		ExpiresAt time.Time       `json:"expiresAt"`
	}{p.Server, p.Tool, nonNull(p.Arguments), p.ExpiresAt()})
	return models.PendingConfirmation{ConfirmationID: p.ID, Message: p.Message, ConfirmationData: data}
}

// Executor performs an approved write against its tool server.
type Executor interface {
	ExecuteConfirmed(ctx context.Context, p auth.Principal, pending Pending) models.ToolResponse
}

// Notifier pushes lifecycle events to the owning user's live connections.
type Notifier interface {
	Publish(userID string, event any)
}

type Event struct {
	Type           string `json:"type"`
	ConfirmationID string `json:"confirmationId"`
	Server         string `json:"server"`
	Tool           string `json:"tool"`
	State          State  `json:"state,omitempty"`
}

func (e Event) EventType() string { return e.Type }

// Result is the outcome of a resolution.
type Result struct {
	ConfirmationID string              `json:"confirmationId"`
	State          State               `json:"state"`
	Result         models.ToolResponse `json:"result,omitempty"`
}

// Manager is stateless; all pending entries live in Cache so any gateway
// replica can resolve them.
type Manager struct {
	Cache    store.Cache
	Executor Executor
	Audit    audit.Emitter
	Notifier Notifier
	TTL      time.Duration
	Now      func() time.Time
	NewID    func() string
}

func NewManager(cache store.Cache, executor Executor, emitter audit.Emitter) *Manager {
	return &Manager{Cache: cache, Executor: executor, Audit: emitter, TTL: DefaultTTL, Now: time.Now, NewID: uuid.NewString}
}

func key(userID, id string) string {
	return keyPrefix + userID + ":" + id
}

// Create stores a pending write for p and returns it. ttl <= 0 uses the
// manager default.
func (m *Manager) Create(ctx context.Context, p auth.Principal, req Request, ttl time.Duration) (Pending, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return Pending{}, apierr.New(apierr.KindAuth, "invalid token")
	}
	if ttl <= 0 {
		ttl = m.TTL
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	args := nonNull(req.Arguments)
	digest, err := models.ArgumentsDigest(args)
	if err != nil {
		return Pending{}, apierr.Wrap(apierr.KindValidation, "arguments must be valid JSON", err)
	}
	pending := Pending{
		UserID:     p.UserID,
		Server:     req.Server,
		Tool:       req.Tool,
		Arguments:  args,
		Digest:     digest,
		Message:    req.Message,
		CreatedAt:  m.now().UTC(),
		TTLSeconds: int(ttl / time.Second),
	}
	if pending.Message == "" {
		pending.Message = fmt.Sprintf("Confirm %s on %s. This action will not run until you approve it.", req.Tool, req.Server)
	}
	for attempt := 0; attempt < 2; attempt++ {
		pending.ID = m.newID()
		raw, err := json.Marshal(pending)
		if err != nil {
			return Pending{}, apierr.Wrap(apierr.KindInternal, "encode confirmation", err)
		}
		ok, err := m.Cache.SetNX(ctx, key(p.UserID, pending.ID), string(raw), ttl)
		if err != nil {
			return Pending{}, apierr.Wrap(apierr.KindUnavailable, "confirmation store unavailable", err)
		}
		if ok {
			m.record(ctx, p, audit.ActionConfirmCreate, audit.OutcomePending, pending, "")
			m.notify(p.UserID, "confirmation.created", pending, Created)
			return pending, nil
		}
	}
	return Pending{}, apierr.New(apierr.KindInternal, "confirmation id collision")
}

// Resolve consumes the entry with a single atomic get-and-delete. A
// missing, expired, foreign or already-resolved id is ErrNotFound and
// executes nothing.
func (m *Manager) Resolve(ctx context.Context, p auth.Principal, id string, approved bool) (Result, error) {
	start := m.now()
	id = strings.TrimSpace(id)
	notFound := func(detail string) (Result, error) {
		m.record(ctx, p, audit.ActionConfirmResolve, audit.OutcomeNotFound, Pending{ID: id, CreatedAt: start}, detail)
		return Result{}, apierr.Wrap(apierr.KindConfirmationNotFound, "confirmation not found or expired", ErrNotFound).
			WithSuggestion("Run the request again to create a new confirmation.")
	}
	if id == "" || p.UserID == "" {
		return notFound("missing id")
	}
	raw, err := m.Cache.GetDel(ctx, key(p.UserID, id))
	if errors.Is(err, store.ErrNotFound) {
		return notFound("absent")
	}
	if err != nil {
		return Result{}, apierr.Wrap(apierr.KindUnavailable, "confirmation store unavailable", err)
	}
	var pending Pending
	if err := json.Unmarshal([]byte(raw), &pending); err != nil {
		log.Printf("confirm: corrupt entry id=%s: %v", id, err)
		return notFound("corrupt entry")
	}
	if IsExpired(m.now(), pending.ExpiresAt()) {
		state, _ := Next(Created, TransitionExpire)
		m.notify(p.UserID, "confirmation.resolved", pending, state)
		return notFound("expired")
	}
	event, outcome := TransitionDeny, audit.OutcomeRejected
	if approved {
		event, outcome = TransitionApprove, audit.OutcomeApproved
	}
	state, err := Next(Created, event)
	if err != nil {
		return Result{}, apierr.Wrap(apierr.KindInternal, "confirmation state", err)
	}
	res := Result{ConfirmationID: pending.ID, State: state}
	if approved {
		if m.Executor == nil {
			return Result{}, apierr.New(apierr.KindInternal, "no executor configured")
		}
		res.Result = m.Executor.ExecuteConfirmed(ctx, p, pending)
	}
	m.record(ctx, p, audit.ActionConfirmResolve, outcome, pending, resultDetail(res.Result))
	m.notify(p.UserID, "confirmation.resolved", pending, state)
	return res, nil
}

func resultDetail(r models.ToolResponse) string {
	switch v := r.(type) {
	case nil:
		return ""
	case models.ToolError:
		return "execution error " + v.Code
	default:
		return "execution " + string(r.Status())
	}
}

func (m *Manager) record(ctx context.Context, p auth.Principal, action, outcome string, pending Pending, detail string) {
	if m.Audit == nil {
		return
	}
	target := pending.ID
	if pending.Server != "" {
		target = pending.Server + "/" + pending.Tool + "#" + pending.ID
	}
	m.Audit.Emit(ctx, models.AuditRecord{
		RequestID:  p.RequestID,
		UserID:     p.UserID,
		Roles:      p.Roles,
		Action:     action,
		Target:     target,
		Outcome:    outcome,
		DurationMs: m.now().Sub(pending.CreatedAt).Milliseconds(),
		Detail:     detail,
	})
}

func (m *Manager) notify(userID, kind string, pending Pending, state State) {
	if m.Notifier == nil {
		return
	}
	m.Notifier.Publish(userID, Event{Type: kind, ConfirmationID: pending.ID, Server: pending.Server, Tool: pending.Tool, State: state})
}

func (m *Manager) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}

func (m *Manager) newID() string {
	if m.NewID == nil {
		return uuid.NewString()
	}
	return m.NewID()
}

func nonNull(raw json.RawMessage) json.RawMessage {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}
