// Package metrics keeps in-process counters and latency histograms and
// exposes them as JSON and Prometheus text.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mcpgateway/pkg/models"
)

type Registry struct {
	mu         sync.RWMutex
	endpoint   map[string]*EndpointStat
	decision   map[string]int64
	reason     map[string]int64
	toolCall   map[string]int64
	gauges     map[string]float64
	Histograms *HistogramRegistry
}

type EndpointStat struct {
	Count          int64   `json:"count"`
	ErrorCount     int64   `json:"error_count"`
	TotalMillis    int64   `json:"total_millis"`
	MaxMillis      int64   `json:"max_millis"`
	AverageMillis  float64 `json:"average_millis"`
	LastStatusCode int     `json:"last_status_code"`
}

type Snapshot struct {
	GeneratedAt string                  `json:"generated_at"`
	Endpoints   map[string]EndpointStat `json:"endpoints"`
	Decisions   map[string]int64        `json:"decisions"`
	Reasons     map[string]int64        `json:"reasons"`
	ToolCalls   map[string]int64        `json:"tool_calls"`
	Gauges      map[string]float64      `json:"gauges"`
	Histograms  []HistogramSnapshot     `json:"histograms,omitempty"`
}

func NewRegistry() *Registry {
	return &Registry{
		endpoint:   map[string]*EndpointStat{},
		decision:   map[string]int64{},
		reason:     map[string]int64{},
		toolCall:   map[string]int64{},
		gauges:     map[string]float64{},
		Histograms: NewHistogramRegistry(),
	}
}

func (r *Registry) ObserveLatency(endpoint string, d time.Duration) {
	r.Histograms.ObserveDuration(endpoint, d)
}

func (r *Registry) Observe(path string, status int, d time.Duration) {
	millis := d.Milliseconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.endpoint[path]
	if !ok {
		stat = &EndpointStat{}
		r.endpoint[path] = stat
	}
	stat.Count++
	if status >= 400 {
		stat.ErrorCount++
	}
	stat.TotalMillis += millis
	stat.MaxMillis = max(stat.MaxMillis, millis)
	stat.LastStatusCode = status
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Count)
}

// IncDecision counts one audited decision.
func (r *Registry) IncDecision(action, outcome string) {
	action, outcome = strings.TrimSpace(action), strings.TrimSpace(outcome)
	if action == "" {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	r.mu.Lock()
	r.decision[action+"|"+outcome]++
	r.mu.Unlock()
}

func (r *Registry) IncReason(reason string) {
	if reason == "" {
		return
	}
	r.mu.Lock()
	r.reason[reason]++
	r.mu.Unlock()
}

func (r *Registry) IncToolCall(server, outcome string) {
	if server == "" {
		return
	}
	r.mu.Lock()
	r.toolCall[server+"|"+outcome]++
	r.mu.Unlock()
}

func (r *Registry) SetGauge(name string, value float64) {
	if name == "" {
		return
	}
	r.mu.Lock()
	r.gauges[name] = value
	r.mu.Unlock()
}

func (r *Registry) AddGauge(name string, delta float64) {
	if name == "" {
		return
	}
	r.mu.Lock()
	r.gauges[name] += delta
	r.mu.Unlock()
}

// Write counts an audit record, so the registry can be installed as an
// audit sink.
func (r *Registry) Write(ctx context.Context, rec models.AuditRecord) error {
	r.IncDecision(rec.Action, rec.Outcome)
	if rec.Action == "tool.invoke" {
		server, _, _ := strings.Cut(rec.Target, "/")
		r.IncToolCall(server, rec.Outcome)
	}
	return nil
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Endpoints:   make(map[string]EndpointStat, len(r.endpoint)),
		Decisions:   copyCounts(r.decision),
		Reasons:     copyCounts(r.reason),
		ToolCalls:   copyCounts(r.toolCall),
		Gauges:      make(map[string]float64, len(r.gauges)),
	}
	for k, v := range r.endpoint {
		out.Endpoints[k] = *v
	}
	for k, v := range r.gauges {
		out.Gauges[k] = v
	}
	out.Histograms = r.Histograms.Snapshots()
	return out
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Middleware records status and latency per route pattern. Wrapped writers
// keep flushing and hijacking so streams and websockets pass through.
func (r *Registry) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		path := req.Method + " " + routePattern(req)
		r.Observe(path, status, elapsed)
		r.ObserveLatency(path, elapsed)
	})
}

func routePattern(req *http.Request) string {
	if rc := chi.RouteContext(req.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return req.URL.Path
}

func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(snap)
	}
}

func (r *Registry) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		b := &strings.Builder{}
		b.WriteString("# HELP gateway_endpoint_count total requests by endpoint\n")
		b.WriteString("# TYPE gateway_endpoint_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "gateway_endpoint_count{endpoint=%q} %d\n", ep, snap.Endpoints[ep].Count)
		}
		b.WriteString("# HELP gateway_endpoint_error_count total endpoint responses with status >= 400\n")
		b.WriteString("# TYPE gateway_endpoint_error_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "gateway_endpoint_error_count{endpoint=%q} %d\n", ep, snap.Endpoints[ep].ErrorCount)
		}
		b.WriteString("# HELP gateway_endpoint_avg_millis endpoint average latency in milliseconds\n")
		b.WriteString("# TYPE gateway_endpoint_avg_millis gauge\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "gateway_endpoint_avg_millis{endpoint=%q} %.3f\n", ep, snap.Endpoints[ep].AverageMillis)
		}
		b.WriteString("# HELP gateway_endpoint_max_millis endpoint max latency in milliseconds\n")
		b.WriteString("# TYPE gateway_endpoint_max_millis gauge\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "gateway_endpoint_max_millis{endpoint=%q} %d\n", ep, snap.Endpoints[ep].MaxMillis)
		}
		b.WriteString("# HELP gateway_decision_total audited decisions by action and outcome\n")
		b.WriteString("# TYPE gateway_decision_total counter\n")
		for _, key := range SortedKeys(snap.Decisions) {
			action, outcome, _ := strings.Cut(key, "|")
			fmt.Fprintf(b, "gateway_decision_total{action=%q,outcome=%q} %d\n", action, outcome, snap.Decisions[key])
		}
		b.WriteString("# HELP gateway_reason_total defensive decisions by reason\n")
		b.WriteString("# TYPE gateway_reason_total counter\n")
		for _, reason := range SortedKeys(snap.Reasons) {
			fmt.Fprintf(b, "gateway_reason_total{reason=%q} %d\n", reason, snap.Reasons[reason])
		}
		b.WriteString("# HELP gateway_tool_call_total downstream tool calls by server and outcome\n")
		b.WriteString("# TYPE gateway_tool_call_total counter\n")
		for _, key := range SortedKeys(snap.ToolCalls) {
			server, outcome, _ := strings.Cut(key, "|")
			fmt.Fprintf(b, "gateway_tool_call_total{server=%q,outcome=%q} %d\n", server, outcome, snap.ToolCalls[key])
		}
		b.WriteString("# HELP gateway_gauge operational gauges\n")
		b.WriteString("# TYPE gateway_gauge gauge\n")
		for _, name := range SortedKeys(snap.Gauges) {
			fmt.Fprintf(b, "gateway_gauge{name=%q} %.3f\n", name, snap.Gauges[name])
		}
		sort.Slice(snap.Histograms, func(i, j int) bool { return snap.Histograms[i].Name < snap.Histograms[j].Name })
		if len(snap.Histograms) > 0 {
			b.WriteString("# HELP gateway_latency_seconds latency histogram\n")
			b.WriteString("# TYPE gateway_latency_seconds histogram\n")
		}
		for _, h := range snap.Histograms {
			for _, bucket := range h.Buckets {
				fmt.Fprintf(b, "gateway_latency_seconds_bucket{endpoint=%q,le=\"%.3f\"} %d\n", h.Name, bucket.Le, bucket.Count)
			}
			fmt.Fprintf(b, "gateway_latency_seconds_bucket{endpoint=%q,le=\"+Inf\"} %d\n", h.Name, h.Count)
			fmt.Fprintf(b, "gateway_latency_seconds_sum{endpoint=%q} %.6f\n", h.Name, h.Sum)
			fmt.Fprintf(b, "gateway_latency_seconds_count{endpoint=%q} %d\n", h.Name, h.Count)
		}
		for _, q := range []struct {
			name string
			pick func(HistogramSnapshot) float64
		}{
			{"p50", func(h HistogramSnapshot) float64 { return h.P50 }},
			{"p95", func(h HistogramSnapshot) float64 { return h.P95 }},
			{"p99", func(h HistogramSnapshot) float64 { return h.P99 }},
		} {
			for _, h := range snap.Histograms {
				fmt.Fprintf(b, "gateway_latency_%s_seconds{endpoint=%q} %.6f\n", q.name, h.Name, q.pick(h))
			}
		}
		_, _ = w.Write([]byte(b.String()))
	}
}

func SortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
