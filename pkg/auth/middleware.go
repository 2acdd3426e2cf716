package auth

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"mcpgateway/pkg/apierr"
	"mcpgateway/pkg/audit"
	"mcpgateway/pkg/httpx"
	"mcpgateway/pkg/models"
)

type TokenValidator interface {
	Validate(ctx context.Context, token string) (ValidatedToken, error)
}

type Revoker interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// ServerResolver maps roles to reachable tool servers.
type ServerResolver interface {
	AccessibleServers(roles []string) []string
}

// Authenticator runs validation, revocation and role routing in that order
// and installs the resulting Principal on the request context.
type Authenticator struct {
	Validator   TokenValidator
	Revocations Revoker
	Servers     ServerResolver
	Audit       audit.Emitter
}

// Authenticate never returns partial identity: either a complete Principal
// or an *apierr.Error with a non-diagnostic message.
func (a *Authenticator) Authenticate(ctx context.Context, token, requestID string) (Principal, error) {
	start := time.Now()
	rec := models.AuditRecord{RequestID: requestID, Action: audit.ActionAuthenticate, Target: "bearer"}
	deny := func(outcome, detail string, kind apierr.Kind, msg string, cause error) (Principal, error) {
		rec.Outcome = outcome
		rec.Detail = detail
		rec.DurationMs = time.Since(start).Milliseconds()
		a.emit(ctx, rec)
		return Principal{}, apierr.Wrap(kind, msg, cause)
	}
	if token == "" {
		return deny(audit.OutcomeDenied, "missing bearer token", apierr.KindAuth, "invalid token", nil)
	}
	tok, err := a.Validator.Validate(ctx, token)
	if err != nil {
		return deny(audit.OutcomeDenied, err.Error(), apierr.KindAuth, "invalid token", err)
	}
	rec.UserID = tok.Subject
	rec.Roles = tok.Roles
	revoked, err := a.Revocations.IsRevoked(ctx, tok.TokenID)
	if err != nil {
		log.Printf("auth: revocation check failed request_id=%s: %v", requestID, err)
		return deny(audit.OutcomeError, "revocation store unreachable", apierr.KindUnavailable, "authentication unavailable", err)
	}
	if revoked {
		rec.Action = audit.ActionTokenRevoked
		return deny(audit.OutcomeDenied, "token id "+tok.TokenID+" is revoked", apierr.KindAuth, "invalid token", errors.New("token revoked"))
	}
	return Principal{
		UserID:            tok.Subject,
		Username:          tok.Username,
		Roles:             tok.Roles,
		AccessibleServers: a.Servers.AccessibleServers(tok.Roles),
		RequestID:         requestID,
		TokenID:           tok.TokenID,
		ExpiresAt:         tok.ExpiresAt,
		Token:             token,
	}, nil
}

// Middleware authenticates every request. allowQueryToken additionally
// accepts ?access_token= for browser EventSource and WebSocket clients,
// which cannot set headers.
func (a *Authenticator) Middleware(allowQueryToken bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" && allowQueryToken {
				token = strings.TrimSpace(r.URL.Query().Get("access_token"))
			}
			p, err := a.Authenticate(r.Context(), token, middleware.GetReqID(r.Context()))
			if err != nil {
				httpx.WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func (a *Authenticator) emit(ctx context.Context, rec models.AuditRecord) {
	if a.Audit != nil {
		a.Audit.Emit(ctx, rec)
	}
}
