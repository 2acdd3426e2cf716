package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"mcpgateway/pkg/apierr"
	"mcpgateway/pkg/audit"
	"mcpgateway/pkg/auth"
	"mcpgateway/pkg/httpx"
	"mcpgateway/pkg/models"
)

// PerUser limits each authenticated user to limit requests per window. It
// must run after authentication; the key is the token subject, never the
// client address.
func PerUser(l Limiter, limit int, emitter audit.Emitter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.PrincipalFromContext(r.Context())
			if !ok || limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			d := l.Allow(r.Context(), p.UserID, limit)
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			if !d.Allowed {
				h.Set("Retry-After", strconv.Itoa(int(d.RetryAfter(time.Now()).Seconds())))
				if emitter != nil {
					emitter.Emit(r.Context(), models.AuditRecord{
						RequestID: p.RequestID,
						UserID:    p.UserID,
						Roles:     p.Roles,
						Action:    audit.ActionRateLimited,
						Target:    r.URL.Path,
						Outcome:   audit.OutcomeDenied,
					})
				}
				httpx.WriteError(w, r, apierr.New(apierr.KindRateLimited, "too many requests").
					WithSuggestion("Wait "+h.Get("Retry-After")+" seconds before sending another request."))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
