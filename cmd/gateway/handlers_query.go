package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"mcpgateway/pkg/apierr"
	"mcpgateway/pkg/audit"
	"mcpgateway/pkg/auth"
	"mcpgateway/pkg/httpx"
	"mcpgateway/pkg/models"
	"mcpgateway/pkg/promptdefense"
	"mcpgateway/pkg/stream"
)

const gaugeActiveStreams = "active_streams"

type queryRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleQueryPost(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.serveQuery(w, r, req.Query)
}

func (s *Server) handleQueryGet(w http.ResponseWriter, r *http.Request) {
	s.serveQuery(w, r, r.URL.Query().Get("q"))
}

// serveQuery screens the query and then streams the exchange. Everything
// that fails before the first byte is a JSON error; afterwards failures
// travel as error events inside the stream.
func (s *Server) serveQuery(w http.ResponseWriter, r *http.Request, raw string) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	prepared, err := s.Defense.Prepare(r.Context(), raw)
	if err != nil {
		s.recordRejection(r.Context(), p, err)
		httpx.WriteError(w, r, err)
		return
	}
	sse, err := stream.NewSSE(w)
	if err != nil {
		httpx.WriteError(w, r, apierr.Wrap(apierr.KindInternal, "open stream", err))
		return
	}
	s.Metrics.AddGauge(gaugeActiveStreams, 1)
	defer s.Metrics.AddGauge(gaugeActiveStreams, -1)

	// cancel stops the producer on any early return, not only on client
	// disconnect.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events := s.Orchestrator.Run(ctx, p, prepared)
	if err := stream.Pump(ctx, sse, events, s.Keepalive); err != nil && r.Context().Err() == nil {
		log.Printf("gateway: stream ended early request_id=%s: %v", p.RequestID, err)
	}
}

func (s *Server) recordRejection(ctx context.Context, p auth.Principal, err error) {
	var rej *promptdefense.Rejection
	if !errors.As(err, &rej) {
		return
	}
	outcome := audit.OutcomeBlocked
	if rej.Layer == promptdefense.LayerStructure {
		outcome = audit.OutcomeDenied
	}
	s.Audit.Emit(ctx, models.AuditRecord{
		RequestID: p.RequestID,
		UserID:    p.UserID,
		Roles:     p.Roles,
		Action:    audit.ActionPromptRejected,
		Target:    string(rej.Layer),
		Outcome:   outcome,
		Detail:    rej.Reason,
	})
	s.Metrics.IncReason("prompt_" + string(rej.Layer))
}

func requirePrincipal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, r, apierr.New(apierr.KindAuth, "invalid token"))
		return auth.Principal{}, false
	}
	return p, true
}

func readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Body == nil {
		return nil, true
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.WriteJSON(w, http.StatusRequestEntityTooLarge, httpx.ErrorBody{
				Error:     "request body too large",
				Code:      string(apierr.KindValidation),
				RequestID: middleware.GetReqID(r.Context()),
			})
			return nil, false
		}
		httpx.WriteError(w, r, apierr.Wrap(apierr.KindValidation, "request body could not be read", err))
		return nil, false
	}
	return body, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, ok := readRequestBody(w, r)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		httpx.WriteError(w, r, apierr.Wrap(apierr.KindValidation, "request body must be a JSON object", err).
			WithSuggestion("Send a JSON body with Content-Type: application/json."))
		return false
	}
	return true
}
