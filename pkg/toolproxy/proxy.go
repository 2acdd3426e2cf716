// Package toolproxy forwards authorized tool calls to downstream servers and
// normalizes what comes back.
package toolproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"time"

	"mcpgateway/pkg/apierr"
	"mcpgateway/pkg/audit"
	"mcpgateway/pkg/auth"
	"mcpgateway/pkg/confirm"
	"mcpgateway/pkg/models"
	"mcpgateway/pkg/rbac"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

type Catalog interface {
	Tool(server, name string) (rbac.Tool, bool)
}

type Confirmer interface {
	Create(ctx context.Context, p auth.Principal, req confirm.Request, ttl time.Duration) (confirm.Pending, error)
}

type Proxy struct {
	Catalog     Catalog
	Transport   Transport
	Confirmer   Confirmer
	Audit       audit.Emitter
	ReadRetries int
	ConfirmTTL  time.Duration
	Now         func() time.Time
}

// Invoke routes one tool call for p. Authorization and input failures are
// returned as *apierr.Error; anything decided at or beyond the downstream
// boundary is a ToolResponse.
func (px *Proxy) Invoke(ctx context.Context, p auth.Principal, server, name string, args json.RawMessage) (models.ToolResponse, error) {
	start := px.now()
	rec := models.AuditRecord{
		RequestID: p.RequestID,
		UserID:    p.UserID,
		Roles:     p.Roles,
		Action:    audit.ActionToolInvoke,
		Target:    server + "/" + name,
	}
	if !p.CanReach(server) {
		rec.Action, rec.Outcome = audit.ActionServerAccess, audit.OutcomeDenied
		px.emit(ctx, rec, start)
		return nil, apierr.New(apierr.KindAuthz, "access denied to "+server).
			WithSuggestion("Ask an administrator for a role that grants access to this data.")
	}
	tool, ok := px.Catalog.Tool(server, name)
	if !ok {
		rec.Outcome, rec.Detail = audit.OutcomeDenied, "unknown tool"
		px.emit(ctx, rec, start)
		return nil, apierr.New(apierr.KindValidation, "unknown tool "+name+" on "+server)
	}
	args, err := normalizeArguments(args)
	if err != nil {
		rec.Outcome, rec.Detail = audit.OutcomeDenied, "invalid arguments"
		px.emit(ctx, rec, start)
		return nil, apierr.Wrap(apierr.KindValidation, "tool arguments must be a JSON object", err)
	}

	if tool.Kind == rbac.KindWrite {
		pending, err := px.Confirmer.Create(ctx, p, confirm.Request{Server: server, Tool: name, Arguments: args}, tool.ConfirmTTL(px.ConfirmTTL))
		if err != nil {
			rec.Outcome, rec.Detail = audit.OutcomeError, "confirmation create failed"
			px.emit(ctx, rec, start)
			return nil, err
		}
		rec.Outcome, rec.Detail = audit.OutcomePending, "confirmation "+pending.ID
		px.emit(ctx, rec, start)
		return pending.Response(), nil
	}

	limit := requestedLimit(args)
	resp := px.forward(ctx, Call{Server: server, Tool: name, Arguments: args, Principal: p, Retries: px.readRetries()})
	resp = normalizeTruncation(resp, limit)
	rec.Outcome, rec.Detail = outcomeOf(resp)
	px.emit(ctx, rec, start)
	return resp, nil
}

// ExecuteConfirmed runs an approved write. Access is checked again because
// the caller's roles may have changed since the confirmation was issued.
// Writes are never retried.
func (px *Proxy) ExecuteConfirmed(ctx context.Context, p auth.Principal, pending confirm.Pending) models.ToolResponse {
	start := px.now()
	rec := models.AuditRecord{
		RequestID: p.RequestID,
		UserID:    p.UserID,
		Roles:     p.Roles,
		Action:    audit.ActionToolInvoke,
		Target:    pending.Server + "/" + pending.Tool,
	}
	fail := func(code, msg, detail string) models.ToolResponse {
		rec.Outcome, rec.Detail = audit.OutcomeDenied, detail
		px.emit(ctx, rec, start)
		return models.NewToolError(code, msg, "")
	}
	if !p.CanReach(pending.Server) || pending.UserID != p.UserID {
		return fail(models.CodeAccessDenied, "access denied to "+pending.Server, "access revoked before execution")
	}
	tool, ok := px.Catalog.Tool(pending.Server, pending.Tool)
	if !ok || tool.Kind != rbac.KindWrite {
		return fail(models.CodeToolNotFound, "tool is no longer available", "tool missing at execution")
	}
	if digest, err := models.ArgumentsDigest(pending.Arguments); err != nil || digest != pending.Digest {
		return fail(models.CodeInvalidInput, "confirmation payload does not match the request", "digest mismatch")
	}
	resp := px.forward(ctx, Call{Server: pending.Server, Tool: pending.Tool, Arguments: pending.Arguments, Confirmed: true, Principal: p})
	rec.Outcome, rec.Detail = outcomeOf(resp)
	rec.Detail += " confirmation " + pending.ID
	px.emit(ctx, rec, start)
	return resp
}

func (px *Proxy) forward(ctx context.Context, c Call) models.ToolResponse {
	status, body, err := px.Transport.Call(ctx, c)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("toolproxy: %s/%s unreachable request_id=%s: %v", c.Server, c.Tool, c.Principal.RequestID, err)
		}
		return models.NewToolError(models.CodeUpstreamUnavailable, c.Server+" is unavailable", models.DefaultUpstreamSuggestion)
	}
	if status >= http.StatusInternalServerError {
		return models.NewToolError(models.CodeUpstreamUnavailable, fmt.Sprintf("%s returned status %d", c.Server, status), models.DefaultUpstreamSuggestion)
	}
	resp, err := models.DecodeToolResponse(body)
	if err != nil {
		log.Printf("toolproxy: %s/%s invalid response status=%d: %v", c.Server, c.Tool, status, err)
		return models.NewToolError(models.CodeInvalidResponse, c.Server+" returned an invalid response", "")
	}
	if _, ok := resp.(models.PendingConfirmation); ok {
		// confirmations are issued by the gateway only
		return models.NewToolError(models.CodeInvalidResponse, c.Server+" returned an unexpected confirmation request", "")
	}
	return resp
}

func (px *Proxy) readRetries() int {
	return min(max(px.ReadRetries, 0), 1)
}

func (px *Proxy) emit(ctx context.Context, rec models.AuditRecord, start time.Time) {
	if px.Audit == nil {
		return
	}
	rec.DurationMs = px.now().Sub(start).Milliseconds()
	px.Audit.Emit(ctx, rec)
}

func (px *Proxy) now() time.Time {
	if px.Now == nil {
		return time.Now()
	}
	return px.Now()
}

func outcomeOf(resp models.ToolResponse) (string, string) {
	switch v := resp.(type) {
	case models.Success:
		if v.Metadata.Truncated {
			return audit.OutcomeSuccess, "truncated"
		}
		return audit.OutcomeSuccess, ""
	case models.ToolError:
		return audit.OutcomeError, v.Code
	default:
		return audit.OutcomeError, "unexpected response"
	}
}

func normalizeArguments(args json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}"), nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, err
	}
	return json.RawMessage(trimmed), nil
}

func requestedLimit(args json.RawMessage) int {
	var v struct {
		Limit *float64 `json:"limit"`
	}
	if json.Unmarshal(args, &v) != nil || v.Limit == nil {
		return DefaultLimit
	}
	return clampLimit(*v.Limit)
}

// clampLimit bounds l before converting, so huge values cannot wrap.
// Fractional and non-finite limits fall back to the default.
func clampLimit(l float64) int {
	switch {
	case math.IsNaN(l) || math.IsInf(l, 0) || l != math.Trunc(l) || l < 1:
		return DefaultLimit
	case l >= MaxLimit:
		return MaxLimit
	}
	return int(l)
}

// normalizeTruncation enforces limit on array results and guarantees a
// truncated result carries a warning. A downstream warning is kept as is.
func normalizeTruncation(resp models.ToolResponse, limit int) models.ToolResponse {
	s, ok := resp.(models.Success)
	if !ok {
		return resp
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	var rows []json.RawMessage
	if json.Unmarshal(s.Data, &rows) == nil && len(rows) > limit {
		trimmed, err := json.Marshal(rows[:limit])
		if err == nil {
			s.Data = trimmed
			s.Metadata.Truncated = true
		}
	}
	if s.Metadata.Truncated && s.Metadata.Warning == "" {
		s.Metadata.Warning = models.DefaultTruncationWarning
	}
	return s
}
