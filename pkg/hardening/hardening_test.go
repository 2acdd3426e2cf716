package hardening

import (
	"strings"
	"testing"

	"mcpgateway/pkg/config"
	"mcpgateway/pkg/store"
)

func productionConfig() config.Config {
	return config.Config{
		Environment:        "production",
		ServiceName:        "mcp-gateway",
		AuthMode:           "oidc_rs256",
		JWKSURL:            "https://idp.example.com/realms/corp/protocol/openid-connect/certs",
		Issuer:             "https://idp.example.com/realms/corp",
		Audience:           "mcp-gateway",
		Redis:              store.RedisOptions{Addr: "redis:6379", RequireTLS: true, TLS: store.RedisTLSOptions{Enabled: true}},
		ToolServerURLs:     map[string]string{"mcp-hr": "https://hr.internal"},
		CORSAllowedOrigins: []string{"https://console.example.com"},
	}
}

func TestValidateProductionPasses(t *testing.T) {
	if err := ValidateProduction(productionConfig()); err != nil {
		t.Fatalf("expected pass, got %v", err)
	}
}

func TestValidateProductionSkipsDevelopment(t *testing.T) {
	cfg := config.Config{Environment: "development", AuthMode: "oidc_hs256", CORSAllowedOrigins: []string{"*"}}
	if err := ValidateProduction(cfg); err != nil {
		t.Fatalf("expected skip outside production, got %v", err)
	}
}

func TestValidateProductionRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"hs256", func(c *config.Config) { c.AuthMode = "oidc_hs256" }, "AUTH_MODE=oidc_rs256"},
		{"missing_jwks", func(c *config.Config) { c.JWKSURL = "" }, "AUTH_JWKS_URL"},
		{"plain_jwks", func(c *config.Config) { c.JWKSURL = "http://idp/certs" }, "https AUTH_JWKS_URL"},
		{"missing_issuer", func(c *config.Config) { c.Issuer = " " }, "AUTH_ISSUER"},
		{"missing_audience", func(c *config.Config) { c.Audience = "" }, "AUTH_AUDIENCE"},
		{"memory_store", func(c *config.Config) { c.AllowMemoryKV = true }, "ALLOW_MEMORY_STORE"},
		{"redis_plain", func(c *config.Config) { c.Redis.RequireTLS, c.Redis.TLS.Enabled = false, false }, "REDIS_TLS=true"},
		{"redis_insecure", func(c *config.Config) { c.Redis.TLS.Insecure = true }, "REDIS_TLS_INSECURE"},
		{"audit_db_plain", func(c *config.Config) { c.AuditDatabaseURL = "postgres://db/audit" }, "AUDIT_DATABASE_REQUIRE_TLS"},
		{"no_servers", func(c *config.Config) { c.ToolServerURLs = nil }, "TOOL_SERVER_URLS"},
		{"bad_server_url", func(c *config.Config) { c.ToolServerURLs["mcp-sales"] = "ftp://sales" }, "tool server mcp-sales"},
		{"cors_wildcard", func(c *config.Config) { c.CORSAllowedOrigins = []string{"*"} }, "wildcard"},
		{"cors_localhost", func(c *config.Config) { c.CORSAllowedOrigins = []string{"http://localhost:3000"} }, "localhost"},
		{"cors_http", func(c *config.Config) { c.CORSAllowedOrigins = []string{"http://console.example.com"} }, "HTTPS"},
		{"cors_empty", func(c *config.Config) { c.CORSAllowedOrigins = []string{" "} }, "CORS_ALLOWED_ORIGINS"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := productionConfig()
			tc.mutate(&cfg)
			err := ValidateProduction(cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestValidateProductionReportsEveryViolation(t *testing.T) {
	cfg := productionConfig()
	cfg.Environment = "staging"
	cfg.AuthMode = "oidc_hs256"
	cfg.CORSAllowedOrigins = []string{"*"}
	err := ValidateProduction(cfg)
	if err == nil {
		t.Fatal("expected violations")
	}
	for _, want := range []string{"AUTH_MODE", "wildcard", "mcp-gateway:"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %q in %v", want, err)
		}
	}
}
