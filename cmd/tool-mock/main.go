// Command tool-mock serves one domain tool server with deterministic rows.
// Reads honour limit by returning one extra row when more exist; writes
// run only when the gateway marks them confirmed.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"mcpgateway/pkg/config"
	"mcpgateway/pkg/httpx"
	"mcpgateway/pkg/models"
	"mcpgateway/pkg/rbac"
	"mcpgateway/pkg/telemetry"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

type initTelemetryFunc func(ctx context.Context, serviceName string, cfg config.Telemetry) (telemetry.Shutdown, error)

// Testable variables for main()
var (
	logFatalf                         = log.Fatalf
	initTelemetryFn initTelemetryFunc = telemetry.Init
	listenFn                          = func(server *http.Server) error { return server.ListenAndServe() }
)

func main() {
	if err := runToolMock(initTelemetryFn, listenFn); err != nil {
		logFatalf("server error: %v", err)
	}
}

// mockServer answers for one server of the catalog.
type mockServer struct {
	server string
	tools  map[string]rbac.Tool
	rows   int
}

func newMockServer(server string, catalog *rbac.Router, rows int) (*mockServer, error) {
	tools := map[string]rbac.Tool{}
	for _, t := range catalog.Tools([]string{server}) {
		tools[t.Name] = t
	}
	if len(tools) == 0 {
		return nil, fmt.Errorf("server %q has no tools in the catalog", server)
	}
	return &mockServer{server: server, tools: tools, rows: max(rows, 0)}, nil
}

func (m *mockServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(telemetry.HTTPMiddleware("tool-mock"))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, 200, map[string]string{"status": "ok", "service": "tool-mock", "server": m.server})
	})
	r.Post("/tools/{tool}", m.handleTool)
	return r
}

type toolRequest struct {
	Arguments map[string]any `json:"arguments"`
	Confirmed bool           `json:"confirmed"`
}

func (m *mockServer) handleTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "tool")
	tool, ok := m.tools[name]
	if !ok {
		httpx.WriteJSON(w, http.StatusNotFound, models.NewToolError(models.CodeToolNotFound, "unknown tool "+name, ""))
		return
	}
	user := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if user == "" {
		httpx.WriteJSON(w, http.StatusUnauthorized, models.NewToolError(models.CodeAccessDenied, "caller identity missing", ""))
		return
	}
	var req toolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteJSON(w, http.StatusBadRequest, models.NewToolError(models.CodeInvalidInput, "body must be {arguments, confirmed}", ""))
		return
	}
	if tool.Kind == rbac.KindWrite {
		m.write(w, tool, user, req)
		return
	}
	m.read(w, tool, req)
}

// read pages through m.rows synthetic records. cursor is the offset of the
// first row; limit+1 rows come back whenever a further row exists.
func (m *mockServer) read(w http.ResponseWriter, tool rbac.Tool, req toolRequest) {
	limit := defaultLimit
	if v, ok := req.Arguments["limit"].(float64); ok && v >= 1 && v == math.Trunc(v) {
		limit = int(min(v, maxLimit))
	}
	offset := 0
	if c, ok := req.Arguments["cursor"].(string); ok {
		if n, err := strconv.Atoi(c); err == nil && n > 0 {
			offset = min(n, m.rows)
		}
	}
	end := min(offset+limit+1, m.rows)
	rows := make([]map[string]any, 0, max(end-offset, 0))
	for i := offset; i < end; i++ {
		rows = append(rows, m.row(tool, i))
	}
	data, _ := json.Marshal(rows)
	httpx.WriteJSON(w, http.StatusOK, models.Success{
		Data:     data,
		Metadata: models.Metadata{TotalEstimate: strconv.Itoa(m.rows)},
	})
}

func (m *mockServer) row(tool rbac.Tool, i int) map[string]any {
	return map[string]any{
		"id":     fmt.Sprintf("%s-%04d", strings.TrimPrefix(m.server, "mcp-"), i),
		"source": m.server,
		"tool":   tool.Name,
		"index":  i,
	}
}

func (m *mockServer) write(w http.ResponseWriter, tool rbac.Tool, user string, req toolRequest) {
	if !req.Confirmed {
		httpx.WriteJSON(w, http.StatusConflict, models.NewToolError(models.CodeConfirmationRequired, tool.Name+" requires a confirmed request", ""))
		return
	}
	data, _ := json.Marshal(map[string]any{
		"executed":   true,
		"tool":       tool.Name,
		"arguments":  req.Arguments,
		"executedBy": user,
		"executedAt": time.Now().UTC().Format(time.RFC3339),
	})
	log.Printf("tool-mock: %s/%s executed for %s", m.server, tool.Name, user)
	httpx.WriteJSON(w, http.StatusOK, models.Success{Data: data})
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}

func loadCatalog() (*rbac.Router, error) {
	table := rbac.DefaultTable()
	if path := env("ROLE_TABLE_PATH", ""); path != "" {
		loaded, err := rbac.LoadTable(path)
		if err != nil {
			return nil, err
		}
		table = loaded
	}
	return rbac.NewRouter(table)
}

func runToolMock(initTelemetry initTelemetryFunc, listen func(*http.Server) error) error {
	if initTelemetry == nil {
		initTelemetry = telemetry.Init
	}
	if listen == nil {
		listen = func(server *http.Server) error { return server.ListenAndServe() }
	}

	shutdown, err := initTelemetry(context.Background(), "tool-mock", config.Telemetry{
		Endpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		Insecure: env("OTEL_EXPORTER_OTLP_INSECURE", "false") == "true",
		Timeout:  envDurationSec("OTEL_EXPORTER_OTLP_TIMEOUT_SEC", 5),
	})
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	catalog, err := loadCatalog()
	if err != nil {
		return err
	}
	server := env("TOOL_MOCK_SERVER", rbac.ServerHR)
	mock, err := newMockServer(server, catalog, envInt("TOOL_MOCK_ROWS", 120))
	if err != nil {
		return err
	}

	addr := env("ADDR", ":8090")
	log.Printf("tool-mock %s listening on %s", server, addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mock.routes(),
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 30),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	return listen(srv)
}
