package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TOOL_SERVER_URLS", "")
	t.Setenv("CONFIRM_TTL_SEC", "")
	t.Setenv("ENVIRONMENT", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.AuthMode != "oidc_rs256" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ConfirmTTL != 300*time.Second {
		t.Fatalf("expected 300s confirmation ttl, got %s", cfg.ConfirmTTL)
	}
	if cfg.ReadRetries != 1 || cfg.JWKSRetries != 3 {
		t.Fatalf("unexpected retry defaults: read=%d jwks=%d", cfg.ReadRetries, cfg.JWKSRetries)
	}
	if cfg.Production() {
		t.Fatal("development must not be production")
	}
}

func TestLoadParsesServersAndLists(t *testing.T) {
	t.Setenv("TOOL_SERVER_URLS", "mcp-hr=http://hr:3101/, mcp-finance=http://finance:3102")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com, ,https://admin.example.com")
	t.Setenv("AUDIT_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("READ_RETRIES", "7")
	t.Setenv("ENVIRONMENT", "Production")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ToolServerURLs["mcp-hr"] != "http://hr:3101" || cfg.ToolServerURLs["mcp-finance"] != "http://finance:3102" {
		t.Fatalf("unexpected servers: %+v", cfg.ToolServerURLs)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || len(cfg.AuditKafkaBrokers) != 2 {
		t.Fatalf("unexpected lists: %v %v", cfg.CORSAllowedOrigins, cfg.AuditKafkaBrokers)
	}
	if cfg.ReadRetries != 1 {
		t.Fatalf("read retries must clamp to 1, got %d", cfg.ReadRetries)
	}
	if !cfg.Production() {
		t.Fatal("expected production")
	}
}

func TestLoadRejectsMalformedServers(t *testing.T) {
	t.Setenv("TOOL_SERVER_URLS", "mcp-hr")
	if _, err := Load(); err == nil {
		t.Fatal("expected malformed TOOL_SERVER_URLS error")
	}
}

func TestLoadRejectsNonPositiveConfirmTTL(t *testing.T) {
	t.Setenv("TOOL_SERVER_URLS", "")
	t.Setenv("CONFIRM_TTL_SEC", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected ttl error")
	}
}

func TestParseHeaders(t *testing.T) {
	got := parseHeaders("authorization=Bearer x, bad, k = v")
	if got["authorization"] != "Bearer x" || got["k"] != "v" || len(got) != 2 {
		t.Fatalf("unexpected headers: %+v", got)
	}
}
