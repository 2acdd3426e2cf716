// Package hardening refuses production configurations that would weaken
// the gateway's fail-secure guarantees.
package hardening

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"mcpgateway/pkg/config"
)

// ValidateProduction returns every violation found in cfg, or nil when
// cfg is not a production-like environment.
func ValidateProduction(cfg config.Config) error {
	if !isProductionLikeEnv(cfg.Environment) {
		return nil
	}
	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = "gateway"
	}
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%s: production requires "+format, append([]any{service}, args...)...))
	}

	if cfg.AuthMode != "oidc_rs256" {
		fail("AUTH_MODE=oidc_rs256, got %q", cfg.AuthMode)
	}
	for _, req := range []struct{ name, value string }{
		{"AUTH_JWKS_URL", cfg.JWKSURL},
		{"AUTH_ISSUER", cfg.Issuer},
		{"AUTH_AUDIENCE", cfg.Audience},
	} {
		if strings.TrimSpace(req.value) == "" {
			fail("%s", req.name)
		}
	}
	if u, err := url.Parse(cfg.JWKSURL); cfg.JWKSURL != "" && (err != nil || u.Scheme != "https") {
		fail("an https AUTH_JWKS_URL")
	}
	if cfg.AllowMemoryKV {
		fail("a shared store; ALLOW_MEMORY_STORE must be off")
	}
	if !cfg.Redis.RequireTLS && !cfg.Redis.TLS.Enabled {
		fail("REDIS_TLS=true")
	}
	if cfg.Redis.TLS.Insecure || cfg.Redis.TLS.AllowInsecure {
		fail("verified Redis TLS; REDIS_TLS_INSECURE and REDIS_ALLOW_INSECURE_TLS must be off")
	}
	if cfg.AuditDatabaseURL != "" && !cfg.AuditDatabaseTLS {
		fail("AUDIT_DATABASE_REQUIRE_TLS=true when AUDIT_DATABASE_URL is set")
	}
	if len(cfg.ToolServerURLs) == 0 {
		fail("at least one TOOL_SERVER_URLS entry")
	}
	for _, server := range sortedKeys(cfg.ToolServerURLs) {
		if u, err := url.Parse(cfg.ToolServerURLs[server]); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			fail("a valid URL for tool server %s", server)
		}
	}
	if err := validateCORSOrigins(cfg.CORSAllowedOrigins); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", service, err))
	}
	return errors.Join(errs...)
}

func validateCORSOrigins(origins []string) error {
	valid := 0
	for _, origin := range origins {
		o := strings.TrimSpace(origin)
		if o == "" {
			continue
		}
		valid++
		lower := strings.ToLower(o)
		switch {
		case lower == "*":
			return errors.New("production forbids a CORS wildcard origin")
		case strings.HasPrefix(lower, "http://localhost"), strings.HasPrefix(lower, "https://localhost"),
			strings.HasPrefix(lower, "http://127.0.0.1"), strings.HasPrefix(lower, "https://127.0.0.1"):
			return fmt.Errorf("production forbids localhost CORS origin %q", o)
		case !strings.HasPrefix(lower, "https://"):
			return fmt.Errorf("production requires HTTPS CORS origins, got %q", o)
		}
	}
	if valid == 0 {
		return errors.New("production requires explicit CORS_ALLOWED_ORIGINS")
	}
	return nil
}

func isProductionLikeEnv(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "prod", "production", "staging", "stage":
		return true
	default:
		return false
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
