package auth

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"
)

const testSecret = "test-secret"

func hsValidator(t *testing.T, cfg ValidatorConfig) *Validator {
	t.Helper()
	cfg.Mode = ModeHS256
	if cfg.HS256Secret == "" {
		cfg.HS256Secret = testSecret
	}
	v, err := NewValidator(cfg)
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	return v
}

func baseClaims(now time.Time) map[string]any {
	return map[string]any{
		"sub":                "user-1",
		"preferred_username": "alice",
		"jti":                "tok-1",
		"iss":                "https://idp.test/realms/corp",
		"aud":                "mcp-gateway",
		"iat":                now.Unix(),
		"exp":                now.Add(time.Minute).Unix(),
	}
}

func TestValidateHS256(t *testing.T) {
	v := hsValidator(t, ValidatorConfig{Issuer: "https://idp.test/realms/corp", Audience: "mcp-gateway"})
	now := time.Now().UTC()
	claims := baseClaims(now)
	claims["roles"] = []string{"hr-read", "finance-read"}
	got, err := v.Validate(context.Background(), signHS256(t, claims, testSecret))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got.Subject != "user-1" || got.Username != "alice" || got.TokenID != "tok-1" {
		t.Fatalf("unexpected token: %+v", got)
	}
	if !slices.Equal(got.Roles, []string{"finance-read", "hr-read"}) {
		t.Fatalf("unexpected roles: %v", got.Roles)
	}
	if got.ExpiresAt.Unix() != now.Add(time.Minute).Unix() {
		t.Fatalf("unexpected expiry %s", got.ExpiresAt)
	}
}

func TestValidateRejections(t *testing.T) {
	now := time.Now().UTC()
	tests := []struct {
		name   string
		mutate func(map[string]any)
		secret string
	}{
		{"expired", func(c map[string]any) { c["exp"] = now.Add(-time.Second).Unix() }, ""},
		{"expires_now", func(c map[string]any) { c["exp"] = now.Unix() }, ""},
		{"missing_exp", func(c map[string]any) { delete(c, "exp") }, ""},
		{"not_yet_valid", func(c map[string]any) { c["nbf"] = now.Add(time.Minute).Unix() }, ""},
		{"missing_sub", func(c map[string]any) { delete(c, "sub") }, ""},
		{"missing_jti", func(c map[string]any) { delete(c, "jti") }, ""},
		{"issuer_mismatch", func(c map[string]any) { c["iss"] = "https://evil.test" }, ""},
		{"audience_mismatch", func(c map[string]any) { c["aud"] = []string{"a", "b"} }, ""},
		{"sub_wrong_type", func(c map[string]any) { c["sub"] = 42 }, ""},
		{"exp_wrong_type", func(c map[string]any) { c["exp"] = "tomorrow" }, ""},
		{"wrong_secret", func(map[string]any) {}, "other-secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := hsValidator(t, ValidatorConfig{Issuer: "https://idp.test/realms/corp", Audience: "mcp-gateway"})
			v.Now = func() time.Time { return now }
			claims := baseClaims(now)
			tt.mutate(claims)
			secret := tt.secret
			if secret == "" {
				secret = testSecret
			}
			_, err := v.Validate(context.Background(), signHS256(t, claims, secret))
			if !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestValidateAudienceList(t *testing.T) {
	v := hsValidator(t, ValidatorConfig{Audience: "mcp-gateway"})
	claims := baseClaims(time.Now().UTC())
	claims["aud"] = []string{"account", "mcp-gateway"}
	if _, err := v.Validate(context.Background(), signHS256(t, claims, testSecret)); err != nil {
		t.Fatalf("expected audience list to match: %v", err)
	}
}

func TestValidateMalformed(t *testing.T) {
	v := hsValidator(t, ValidatorConfig{})
	for _, tok := range []string{"", "abc", "a.b", "a.b.c.d", "!!.??.##"} {
		if _, err := v.Validate(context.Background(), tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", tok, err)
		}
	}
}

func TestValidateRejectsAlgorithmSwitch(t *testing.T) {
	key := newRSAKey(t)
	jwks := newJWKSServer(t, jwkFor("kid-1", key))
	rs, err := NewValidator(ValidatorConfig{Mode: ModeRS256, JWKSURL: jwks.URL})
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	claims := baseClaims(time.Now().UTC())
	if _, err := rs.Validate(context.Background(), signHS256(t, claims, testSecret)); err == nil {
		t.Fatal("rs256 validator must reject hs256 tokens")
	}
	hs := hsValidator(t, ValidatorConfig{})
	if _, err := hs.Validate(context.Background(), signRS256(t, claims, key, "kid-1")); err == nil {
		t.Fatal("hs256 validator must reject rs256 tokens")
	}
	parts := strings.Split(signHS256(t, claims, testSecret), ".")
	none := "eyJhbGciOiJub25lIn0." + parts[1] + "."
	if _, err := hs.Validate(context.Background(), none); err == nil {
		t.Fatal("alg none must be rejected")
	}
}

func TestRoleExtractionPaths(t *testing.T) {
	now := time.Now().UTC()
	tests := []struct {
		name string
		set  map[string]any
		want []string
	}{
		{"top_level", map[string]any{"roles": []string{"sales-read"}}, []string{"sales-read"}},
		{"realm_access", map[string]any{"realm_access": map[string]any{"roles": []string{"hr-write"}}}, []string{"hr-write"}},
		{"resource_access_client", map[string]any{"resource_access": map[string]any{
			"mcp-gateway": map[string]any{"roles": []string{"executive"}},
			"other":       map[string]any{"roles": []string{"ignored"}},
		}}, []string{"executive"}},
		{"merged_and_deduped", map[string]any{
			"roles":        []string{"hr-read", " hr-read "},
			"realm_access": map[string]any{"roles": []string{"finance-read", "hr-read"}},
		}, []string{"finance-read", "hr-read"}},
		{"wrong_shape_ignored", map[string]any{"roles": "hr-read", "realm_access": []string{"x"}}, []string{}},
		{"none", map[string]any{}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := hsValidator(t, ValidatorConfig{ClientID: "mcp-gateway"})
			claims := baseClaims(now)
			for k, val := range tt.set {
				claims[k] = val
			}
			got, err := v.Validate(context.Background(), signHS256(t, claims, testSecret))
			if err != nil {
				t.Fatalf("validate: %v", err)
			}
			if !slices.Equal(got.Roles, tt.want) {
				t.Fatalf("roles=%v want %v", got.Roles, tt.want)
			}
		})
	}
}

func TestUsernameFallsBackToSubject(t *testing.T) {
	v := hsValidator(t, ValidatorConfig{})
	claims := baseClaims(time.Now().UTC())
	delete(claims, "preferred_username")
	got, err := v.Validate(context.Background(), signHS256(t, claims, testSecret))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got.Username != "user-1" {
		t.Fatalf("expected subject fallback, got %q", got.Username)
	}
}

func TestNewValidatorConfigErrors(t *testing.T) {
	bad := []ValidatorConfig{
		{Mode: ModeHS256},
		{Mode: ModeRS256},
		{Mode: ModeRS256, JWKSURL: "not a url"},
		{Mode: "basic"},
	}
	for _, cfg := range bad {
		if _, err := NewValidator(cfg); err == nil {
			t.Fatalf("expected config error for %+v", cfg)
		}
	}
}

func TestIsValidURL(t *testing.T) {
	if IsValidURL("") || IsValidURL("   ") || IsValidURL("/relative") {
		t.Fatal("expected invalid urls")
	}
	if !IsValidURL("https://idp.test/certs") {
		t.Fatal("expected valid url")
	}
}
