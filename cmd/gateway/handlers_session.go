package main

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"mcpgateway/pkg/apierr"
	"mcpgateway/pkg/audit"
	"mcpgateway/pkg/httpx"
	"mcpgateway/pkg/models"
	"mcpgateway/pkg/stream"
)

const gaugeEventSubscribers = "event_subscribers"

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

// handleLogout revokes the caller's own token until it would have expired.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	rec := models.AuditRecord{
		RequestID: p.RequestID,
		UserID:    p.UserID,
		Roles:     p.Roles,
		Action:    audit.ActionLogout,
		Target:    "token",
	}
	if err := s.Revocations.Revoke(r.Context(), p.TokenID, p.ExpiresAt); err != nil {
		rec.Outcome, rec.Detail = audit.OutcomeError, "revocation write failed"
		s.Audit.Emit(r.Context(), rec)
		httpx.WriteError(w, r, apierr.Wrap(apierr.KindUnavailable, "authentication unavailable", err))
		return
	}
	rec.Outcome = audit.OutcomeSuccess
	s.Audit.Emit(r.Context(), rec)
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// streamEvents pushes the caller's confirmation lifecycle events over a
// websocket until either side closes.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	opts := &websocket.AcceptOptions{}
	if origins := wsOriginPatterns(s.Cfg.CORSAllowedOrigins); len(origins) > 0 {
		opts.OriginPatterns = origins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub := s.Events.Subscribe(p.UserID, 64)
	defer s.Events.Unsubscribe(p.UserID, sub)
	s.Metrics.AddGauge(gaugeEventSubscribers, 1)
	defer s.Metrics.AddGauge(gaugeEventSubscribers, -1)

	_ = wsjson.Write(ctx, conn, stream.NewEvent("ready", map[string]string{"userId": p.UserID}))
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case evt, ok := <-sub:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, evt)
			cancelWrite()
			if err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}

// wsOriginPatterns reduces CORS origins to the host patterns the websocket
// handshake matches against.
func wsOriginPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" || o == "*" {
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			o = u.Host
		}
		out = append(out, o)
	}
	return out
}
