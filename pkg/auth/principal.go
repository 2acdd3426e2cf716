package auth

import (
	"context"
	"slices"
	"strings"
	"time"
)

// Principal is the authenticated caller for one request. It is derived
// once from validated claims and never mutated or persisted.
type Principal struct {
	UserID            string    `json:"userId"`
	Username          string    `json:"username"`
	Roles             []string  `json:"roles"`
	AccessibleServers []string  `json:"accessibleServers"`
	RequestID         string    `json:"requestId"`
	TokenID           string    `json:"-"`
	ExpiresAt         time.Time `json:"-"`
	Token             string    `json:"-"`
}

type contextKey string

const principalContextKey contextKey = "gateway.principal"

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(Principal)
	return p, ok
}

func (p Principal) CanReach(server string) bool {
	return slices.Contains(p.AccessibleServers, server)
}

func HasAnyRole(p Principal, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	for _, rr := range required {
		if slices.Contains(p.Roles, strings.TrimSpace(rr)) {
			return true
		}
	}
	return false
}
