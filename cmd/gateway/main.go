package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"mcpgateway/pkg/audit"
	"mcpgateway/pkg/auth"
	"mcpgateway/pkg/config"
	"mcpgateway/pkg/confirm"
	"mcpgateway/pkg/hardening"
	"mcpgateway/pkg/httpx"
	"mcpgateway/pkg/llm"
	"mcpgateway/pkg/metrics"
	"mcpgateway/pkg/orchestrator"
	"mcpgateway/pkg/promptdefense"
	"mcpgateway/pkg/ratelimit"
	"mcpgateway/pkg/rbac"
	"mcpgateway/pkg/store"
	"mcpgateway/pkg/stream"
	"mcpgateway/pkg/telemetry"
	"mcpgateway/pkg/toolproxy"
)

// Server holds every collaborator a request can reach. All fields are set
// by newServer and read-only afterwards.
type Server struct {
	Cfg          config.Config
	Cache        store.Cache
	Auth         *auth.Authenticator
	Revocations  *auth.RevocationChecker
	Router       *rbac.Router
	Defense      *promptdefense.Pipeline
	Proxy        *toolproxy.Proxy
	Confirm      *confirm.Manager
	Orchestrator *orchestrator.Orchestrator
	Audit        audit.Emitter
	Metrics      *metrics.Registry
	Events       *stream.Hub
	Limiter      ratelimit.Limiter
	Keepalive    time.Duration
}

// serverDeps are the stateful resources opened by runGateway and replaced
// by tests.
type serverDeps struct {
	Cache      store.Cache
	Redis      *redis.Client
	Model      llm.Model
	Sinks      []audit.Sink
	HTTPClient *http.Client
}

type (
	loadConfigFunc    func() (config.Config, error)
	initTelemetryFunc func(ctx context.Context, serviceName string, cfg config.Telemetry) (telemetry.Shutdown, error)
	openRedisFunc     func(ctx context.Context, opts store.RedisOptions) (*redis.Client, error)
	openAuditDBFunc   func(ctx context.Context, dsn string, requireTLS bool) (*pgxpool.Pool, error)
	listenFunc        func(server *http.Server) error
)

var (
	logFatalf       = log.Fatalf
	rateLimitWindow = time.Minute
)

var (
	auditOutput    io.Writer         = os.Stdout
	loadConfigG    loadConfigFunc    = config.Load
	initTelemetryG initTelemetryFunc = telemetry.Init
	openRedisG     openRedisFunc     = store.NewRedis
	openAuditDBG   openAuditDBFunc   = store.NewPostgresPool
	listenG        listenFunc        = func(server *http.Server) error { return server.ListenAndServe() }
)

func main() {
	if err := runGateway(loadConfigG, initTelemetryG, openRedisG, openAuditDBG, listenG); err != nil {
		logFatalf("gateway: %v", err)
	}
}

func runGateway(
	loadConfig loadConfigFunc,
	initTelemetry initTelemetryFunc,
	openRedis openRedisFunc,
	openAuditDB openAuditDBFunc,
	listen listenFunc,
) error {
	if listen == nil {
		return errors.New("listen function required")
	}
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := hardening.ValidateProduction(cfg); err != nil {
		return err
	}
	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, cfg.ServiceName, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	redisClient, err := openRedis(ctx, cfg.Redis)
	if err != nil {
		if !cfg.AllowMemoryKV {
			return fmt.Errorf("redis: %w", err)
		}
		log.Printf("gateway: redis unavailable, using in-memory store: %v", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	cache, shared := store.NewCache(ctx, redisClient)
	if !shared {
		if !cfg.AllowMemoryKV {
			return errors.New("redis: shared store unreachable; set ALLOW_MEMORY_STORE=true for single-process development")
		}
		redisClient = nil
	}

	sinks := []audit.Sink{audit.NewSlogSink(auditOutput)}
	if cfg.AuditDatabaseURL != "" {
		pool, err := openAuditDB(ctx, cfg.AuditDatabaseURL, cfg.AuditDatabaseTLS)
		if err != nil {
			return fmt.Errorf("audit db: %w", err)
		}
		defer pool.Close()
		sink := &audit.PostgresSink{DB: pool}
		if err := sink.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("audit db schema: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if len(cfg.AuditKafkaBrokers) > 0 {
		sink, err := audit.NewKafkaSink(audit.KafkaConfig{Brokers: cfg.AuditKafkaBrokers, Topic: cfg.AuditKafkaTopic})
		if err != nil {
			return fmt.Errorf("audit kafka: %w", err)
		}
		defer sink.Close()
		sinks = append(sinks, sink)
	}

	model, err := newModel(cfg)
	if err != nil {
		return err
	}
	s, err := newServer(cfg, serverDeps{
		Cache:      cache,
		Redis:      redisClient,
		Model:      model,
		Sinks:      sinks,
		HTTPClient: telemetry.InstrumentClient(&http.Client{Timeout: cfg.ToolTimeout}),
	})
	if err != nil {
		return err
	}

	log.Printf("gateway listening on %s", cfg.Addr)
	// No WriteTimeout: streams are bounded by their request context.
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return listen(server)
}

// newModel selects the provider adapter. Without a key, development runs
// use an empty script so every query ends with an upstream error event.
func newModel(cfg config.Config) (llm.Model, error) {
	if cfg.OpenAIAPIKey == "" {
		if cfg.Production() {
			return nil, errors.New("OPENAI_API_KEY is required in production")
		}
		log.Printf("gateway: OPENAI_API_KEY not set, queries will fail with an upstream error")
		return llm.NewScripted(), nil
	}
	return llm.NewOpenAI(llm.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
	})
}

func newServer(cfg config.Config, deps serverDeps) (*Server, error) {
	if deps.Cache == nil {
		return nil, errors.New("cache required")
	}
	if deps.Model == nil {
		return nil, errors.New("model required")
	}
	table := rbac.DefaultTable()
	if cfg.RoleTablePath != "" {
		loaded, err := rbac.LoadTable(cfg.RoleTablePath)
		if err != nil {
			return nil, err
		}
		table = loaded
	}
	router, err := rbac.NewRouter(table)
	if err != nil {
		return nil, err
	}

	reg := metrics.NewRegistry()
	emitter := audit.NewLogger(
		&audit.Redactor{Salt: []byte(cfg.AuditHashSalt), Subjects: cfg.AuditRedactSubjects},
		append(deps.Sinks, reg)...,
	)

	jwksTimeout := cfg.JWKSTimeout
	if jwksTimeout <= 0 {
		jwksTimeout = 3 * time.Second
	}
	validator, err := auth.NewValidator(auth.ValidatorConfig{
		Mode:        cfg.AuthMode,
		HS256Secret: cfg.HS256Secret,
		JWKSURL:     cfg.JWKSURL,
		Issuer:      cfg.Issuer,
		Audience:    cfg.Audience,
		ClientID:    cfg.ClientID,
		KeyTTL:      cfg.JWKSTTL,
		KeyRetries:  cfg.JWKSRetries,
		HTTPClient:  telemetry.InstrumentClient(&http.Client{Timeout: jwksTimeout}),
	})
	if err != nil {
		return nil, err
	}
	revocations := auth.NewRevocationChecker(deps.Cache)

	client := deps.HTTPClient
	if client == nil {
		client = telemetry.InstrumentClient(nil)
	}
	hub := stream.NewHub()
	proxy := &toolproxy.Proxy{
		Catalog:     router,
		Transport:   toolproxy.HTTPTransport{Client: client, BaseURLs: cfg.ToolServerURLs},
		Audit:       emitter,
		ReadRetries: cfg.ReadRetries,
		ConfirmTTL:  cfg.ConfirmTTL,
	}
	confirmer := confirm.NewManager(deps.Cache, proxy, emitter)
	confirmer.Notifier = hub
	if cfg.ConfirmTTL > 0 {
		confirmer.TTL = cfg.ConfirmTTL
	}
	proxy.Confirmer = confirmer

	orch := orchestrator.New(deps.Model, proxy, router, emitter)
	orch.Metrics = reg
	if cfg.MaxToolRounds > 0 {
		orch.MaxToolRounds = cfg.MaxToolRounds
	}

	var limiter ratelimit.Limiter = ratelimit.NewInMemory(rateLimitWindow)
	if deps.Redis != nil {
		limiter = ratelimit.NewRedis(deps.Redis, rateLimitWindow)
	}

	return &Server{
		Cfg:   cfg,
		Cache: deps.Cache,
		Auth: &auth.Authenticator{
			Validator:   validator,
			Revocations: revocations,
			Servers:     router,
			Audit:       emitter,
		},
		Revocations:  revocations,
		Router:       router,
		Defense:      promptdefense.New(cfg.MaxQueryChars, promptdefense.NewPromptGuard(0, cfg.MaxQueryChars)),
		Proxy:        proxy,
		Confirm:      confirmer,
		Orchestrator: orch,
		Audit:        emitter,
		Metrics:      reg,
		Events:       hub,
		Limiter:      limiter,
		Keepalive:    stream.DefaultKeepalive,
	}, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(httpx.RequestIDHeader)
	r.Use(middleware.Recoverer)
	r.Use(httpx.CORSMiddleware(s.Cfg.CORSAllowedOrigins))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(s.Metrics.Middleware)
	r.Use(telemetry.HTTPMiddleware(s.Cfg.ServiceName))
	r.Use(s.limitRequestBodyMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": s.Cfg.ServiceName})
	})
	r.Get("/ready", s.handleReady)

	pace := ratelimit.PerUser(s.Limiter, s.Cfg.RateLimitPerMinute, s.Audit)
	// Browser EventSource and WebSocket clients cannot set headers, so
	// these routes also read ?access_token=.
	r.Group(func(r chi.Router) {
		r.Use(s.Auth.Middleware(true))
		r.Use(pace)
		r.Get("/api/query", s.handleQueryGet)
		r.Get("/api/events", s.streamEvents)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.Auth.Middleware(false))
		r.Use(pace)
		r.Post("/api/query", s.handleQueryPost)
		r.Post("/api/confirm/{confirmationId}", s.handleConfirm)
		r.Post("/api/mcp/{server}/{tool}", s.handleToolPost)
		r.Get("/api/mcp/{server}/{tool}", s.handleToolGet)
		r.Post("/api/auth/logout", s.handleLogout)
		r.Get("/api/user", s.handleUser)
		r.Get("/api/tools", s.handleTools)
		r.Get("/metrics", s.Metrics.Handler())
		r.Get("/metrics/prometheus", s.Metrics.PrometheusHandler())
	})
	return r
}

func (s *Server) limitRequestBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Cfg.MaxRequestBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.Cfg.MaxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.Cache.Ping(ctx); err != nil {
		log.Printf("gateway: readiness check failed: %v", err)
		httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "service": s.Cfg.ServiceName})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready", "service": s.Cfg.ServiceName})
}
