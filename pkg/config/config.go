// Package config loads gateway settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"mcpgateway/pkg/store"
)

type Config struct {
	Addr        string
	Environment string
	ServiceName string

	AuthMode       string
	JWKSURL        string
	Issuer         string
	Audience       string
	ClientID       string
	HS256Secret    string
	JWKSTTL        time.Duration
	JWKSRetries    int
	JWKSTimeout    time.Duration
	AllowMemoryKV  bool
	Redis          store.RedisOptions
	RoleTablePath  string
	ToolServerURLs map[string]string
	ToolTimeout    time.Duration
	ReadRetries    int
	ConfirmTTL     time.Duration

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	MaxQueryChars int
	MaxToolRounds int

	RateLimitPerMinute  int
	MaxRequestBodyBytes int64
	CORSAllowedOrigins  []string

	AuditDatabaseURL    string
	AuditDatabaseTLS    bool
	AuditKafkaBrokers   []string
	AuditKafkaTopic     string
	AuditHashSalt       string
	AuditRedactSubjects bool

	Telemetry Telemetry
}

type Telemetry struct {
	Endpoint   string
	Headers    map[string]string
	Timeout    time.Duration
	Insecure   bool
	Required   bool
	Sampler    string
	SamplerArg string
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	servers, err := parsePairs(env("TOOL_SERVER_URLS", ""))
	if err != nil {
		return Config{}, fmt.Errorf("TOOL_SERVER_URLS: %w", err)
	}
	cfg := Config{
		Addr:        env("ADDR", ":8080"),
		Environment: strings.ToLower(env("ENVIRONMENT", "development")),
		ServiceName: env("SERVICE_NAME", "mcp-gateway"),

		AuthMode:      strings.ToLower(env("AUTH_MODE", "oidc_rs256")),
		JWKSURL:       env("AUTH_JWKS_URL", ""),
		Issuer:        env("AUTH_ISSUER", ""),
		Audience:      env("AUTH_AUDIENCE", ""),
		ClientID:      env("AUTH_CLIENT_ID", ""),
		HS256Secret:   os.Getenv("AUTH_HS256_SECRET"),
		JWKSTTL:       envDurationSec("JWKS_TTL_SEC", 300),
		JWKSRetries:   clamp(envInt("JWKS_RETRIES", 3), 1, 10),
		JWKSTimeout:   envDurationSec("JWKS_TIMEOUT_SEC", 3),
		AllowMemoryKV: envBool("ALLOW_MEMORY_STORE", false),
		Redis: store.RedisOptions{
			Addr:       env("REDIS_ADDR", "localhost:6379"),
			Password:   os.Getenv("REDIS_PASSWORD"),
			DB:         envInt("REDIS_DB", 0),
			RequireTLS: envBool("REDIS_REQUIRE_TLS", false),
			TLS: store.RedisTLSOptions{
				Enabled:       envBool("REDIS_TLS", false),
				Insecure:      envBool("REDIS_TLS_INSECURE", false),
				AllowInsecure: envBool("REDIS_ALLOW_INSECURE_TLS", false),
				ServerName:    env("REDIS_TLS_SERVER_NAME", ""),
				CAFile:        env("REDIS_TLS_CA_CERT_FILE", ""),
				CertFile:      env("REDIS_TLS_CERT_FILE", ""),
				KeyFile:       env("REDIS_TLS_KEY_FILE", ""),
			},
		},
		RoleTablePath:  env("ROLE_TABLE_PATH", ""),
		ToolServerURLs: servers,
		ToolTimeout:    envDurationSec("TOOL_TIMEOUT_SEC", 15),
		ReadRetries:    clamp(envInt("READ_RETRIES", 1), 0, 1),
		ConfirmTTL:     envDurationSec("CONFIRM_TTL_SEC", 300),

		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: env("OPENAI_BASE_URL", ""),
		OpenAIModel:   env("OPENAI_MODEL", "gpt-4.1-mini"),
		MaxQueryChars: clamp(envInt("MAX_QUERY_CHARS", 4000), 100, 32000),
		MaxToolRounds: clamp(envInt("MAX_TOOL_ROUNDS", 5), 1, 20),

		RateLimitPerMinute:  envInt("RATE_LIMIT_PER_MINUTE", 60),
		MaxRequestBodyBytes: int64(envInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
		CORSAllowedOrigins:  envList("CORS_ALLOWED_ORIGINS"),

		AuditDatabaseURL:    env("AUDIT_DATABASE_URL", ""),
		AuditDatabaseTLS:    envBool("AUDIT_DATABASE_REQUIRE_TLS", false),
		AuditKafkaBrokers:   envList("AUDIT_KAFKA_BROKERS"),
		AuditKafkaTopic:     env("AUDIT_KAFKA_TOPIC", "gateway.audit"),
		AuditHashSalt:       os.Getenv("AUDIT_HASH_SALT"),
		AuditRedactSubjects: envBool("AUDIT_REDACT_SUBJECTS", false),

		Telemetry: Telemetry{
			Endpoint:   env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:    parseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
			Timeout:    envDurationSec("OTEL_EXPORTER_OTLP_TIMEOUT_SEC", 5),
			Insecure:   envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
			Required:   envBool("OTEL_REQUIRED", false),
			Sampler:    env("OTEL_TRACES_SAMPLER", ""),
			SamplerArg: env("OTEL_TRACES_SAMPLER_ARG", ""),
		},
	}
	if cfg.Environment == "dev" || cfg.Environment == "local" {
		cfg.Environment = "development"
	}
	if cfg.ConfirmTTL <= 0 {
		return Config{}, errors.New("CONFIRM_TTL_SEC must be positive")
	}
	return cfg, nil
}

func (c Config) Production() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func envDurationSec(key string, def int) time.Duration {
	return time.Duration(envInt(key, def)) * time.Second
}

func envList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	out := make([]string, 0, 4)
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// parsePairs reads "name=url,name2=url2".
func parsePairs(raw string) (map[string]string, error) {
	out := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if !ok || name == "" || value == "" {
			return nil, fmt.Errorf("malformed entry %q", part)
		}
		out[name] = strings.TrimRight(value, "/")
	}
	return out, nil
}

func parseHeaders(raw string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || strings.TrimSpace(k) == "" {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}
