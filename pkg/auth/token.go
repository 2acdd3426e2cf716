package auth

import (
	"context"
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"
)

const (
	ModeRS256 = "oidc_rs256"
	ModeHS256 = "oidc_hs256"
)

// ErrInvalidToken is the only failure callers of Validate observe; the
// wrapped cause is for internal logs.
var ErrInvalidToken = errors.New("invalid token")

// ValidatedToken is the verified view of a bearer credential.
type ValidatedToken struct {
	Subject   string
	Username  string
	Roles     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	TokenID   string
}

type ValidatorConfig struct {
	Mode        string
	HS256Secret string
	JWKSURL     string
	Issuer      string
	Audience    string
	// ClientID selects resource_access.<ClientID>.roles.
	ClientID   string
	KeyTTL     time.Duration
	KeyRetries int
	HTTPClient *http.Client
}

type Validator struct {
	cfg  ValidatorConfig
	jwks *jwksCache
	Now  func() time.Time
}

func NewValidator(cfg ValidatorConfig) (*Validator, error) {
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	v := &Validator{cfg: cfg, Now: time.Now}
	switch cfg.Mode {
	case ModeRS256:
		if !IsValidURL(cfg.JWKSURL) {
			return nil, fmt.Errorf("auth: %s requires a jwks url", ModeRS256)
		}
		v.jwks = newJWKSCache(cfg.JWKSURL, cfg.HTTPClient, cfg.KeyTTL, cfg.KeyRetries)
	case ModeHS256:
		if cfg.HS256Secret == "" {
			return nil, fmt.Errorf("auth: %s requires a secret", ModeHS256)
		}
	default:
		return nil, fmt.Errorf("auth: unsupported mode %q", cfg.Mode)
	}
	return v, nil
}

// Validate verifies signature and temporal claims and extracts identity.
// The accepted algorithm is fixed by the configured mode, never by the
// token header.
func (v *Validator) Validate(ctx context.Context, token string) (ValidatedToken, error) {
	tok, err := v.validate(ctx, strings.TrimSpace(token))
	if err != nil {
		return ValidatedToken{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return tok, nil
}

func (v *Validator) validate(ctx context.Context, token string) (ValidatedToken, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return ValidatedToken{}, errors.New("invalid token format")
	}
	headerRaw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return ValidatedToken{}, err
	}
	payloadRaw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return ValidatedToken{}, err
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return ValidatedToken{}, err
	}
	var header struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
	}
	if err := json.Unmarshal(headerRaw, &header); err != nil {
		return ValidatedToken{}, err
	}
	now := v.Now().UTC()
	signed := parts[0] + "." + parts[1]
	switch v.cfg.Mode {
	case ModeHS256:
		if header.Alg != "HS256" {
			return ValidatedToken{}, errors.New("unsupported alg")
		}
		mac := hmac.New(sha256.New, []byte(v.cfg.HS256Secret))
		_, _ = mac.Write([]byte(signed))
		if !hmac.Equal(sig, mac.Sum(nil)) {
			return ValidatedToken{}, errors.New("signature mismatch")
		}
	case ModeRS256:
		if header.Alg != "RS256" {
			return ValidatedToken{}, errors.New("unsupported alg")
		}
		if strings.TrimSpace(header.Kid) == "" {
			return ValidatedToken{}, errors.New("kid required")
		}
		pub, err := v.jwks.key(ctx, header.Kid, now)
		if err != nil {
			return ValidatedToken{}, err
		}
		h := sha256.Sum256([]byte(signed))
		if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, h[:], sig); err != nil {
			return ValidatedToken{}, err
		}
	default:
		return ValidatedToken{}, errors.New("unsupported auth mode")
	}
	claims, err := parseClaims(payloadRaw)
	if err != nil {
		return ValidatedToken{}, err
	}
	if err := claims.check(now, v.cfg.Issuer, v.cfg.Audience); err != nil {
		return ValidatedToken{}, err
	}
	username := claims.PreferredUsername
	if username == "" {
		username = claims.Sub
	}
	out := ValidatedToken{
		Subject:   claims.Sub,
		Username:  username,
		Roles:     claims.roles(v.cfg.ClientID),
		ExpiresAt: time.Unix(claims.Exp, 0).UTC(),
		TokenID:   claims.Jti,
	}
	if claims.Iat != 0 {
		out.IssuedAt = time.Unix(claims.Iat, 0).UTC()
	}
	return out, nil
}

// tokenClaims is the strict claim set. Type mismatches on identity or
// temporal claims reject the token; role containers are decoded leniently.
type tokenClaims struct {
	Sub               string          `json:"sub"`
	PreferredUsername string          `json:"preferred_username"`
	Jti               string          `json:"jti"`
	Iss               string          `json:"iss"`
	Aud               json.RawMessage `json:"aud"`
	Exp               int64           `json:"exp"`
	Nbf               int64           `json:"nbf"`
	Iat               int64           `json:"iat"`
	Roles             json.RawMessage `json:"roles"`
	RealmAccess       json.RawMessage `json:"realm_access"`
	ResourceAccess    json.RawMessage `json:"resource_access"`
}

func parseClaims(payload []byte) (tokenClaims, error) {
	var c tokenClaims
	if err := json.Unmarshal(payload, &c); err != nil {
		return tokenClaims{}, fmt.Errorf("malformed claims: %w", err)
	}
	return c, nil
}

func (c tokenClaims) check(now time.Time, issuer, audience string) error {
	if c.Sub == "" {
		return errors.New("subject required")
	}
	if c.Jti == "" {
		return errors.New("jti required")
	}
	if c.Exp == 0 || now.Unix() >= c.Exp {
		return errors.New("token expired")
	}
	if c.Nbf != 0 && now.Unix() < c.Nbf {
		return errors.New("token not active")
	}
	if issuer != "" && c.Iss != issuer {
		return errors.New("issuer mismatch")
	}
	if audience != "" && !audContains(c.Aud, audience) {
		return errors.New("audience mismatch")
	}
	return nil
}

// roles reads top-level roles, realm_access.roles and
// resource_access.<clientID>.roles. Any other shape contributes nothing.
func (c tokenClaims) roles(clientID string) []string {
	var out []string
	out = append(out, stringList(c.Roles)...)
	var realm struct {
		Roles json.RawMessage `json:"roles"`
	}
	if json.Unmarshal(c.RealmAccess, &realm) == nil {
		out = append(out, stringList(realm.Roles)...)
	}
	if clientID != "" && len(c.ResourceAccess) > 0 {
		var resource map[string]struct {
			Roles json.RawMessage `json:"roles"`
		}
		if json.Unmarshal(c.ResourceAccess, &resource) == nil {
			out = append(out, stringList(resource[clientID].Roles)...)
		}
	}
	return normalizeRoles(out)
}

func stringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}
	return list
}

func normalizeRoles(in []string) []string {
	out := make([]string, 0, len(in))
	for _, r := range in {
		r = strings.TrimSpace(r)
		if r != "" {
			out = append(out, r)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func audContains(raw json.RawMessage, expected string) bool {
	var single string
	if json.Unmarshal(raw, &single) == nil {
		return single == expected
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil {
		return slices.Contains(list, expected)
	}
	return false
}
