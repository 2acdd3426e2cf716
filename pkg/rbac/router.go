// Package rbac resolves roles to reachable tool servers and describes the
// tools each server exposes.
package rbac

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Router is immutable after construction and safe for concurrent use.
type Router struct {
	roles     map[string][]string
	allAccess string
	catalog   []string
	tools     map[string]map[string]Tool
}

type ToolKind string

const (
	KindRead  ToolKind = "read"
	KindWrite ToolKind = "write"
)

type Tool struct {
	Server      string         `yaml:"-" json:"server"`
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description"`
	Kind        ToolKind       `yaml:"kind" json:"kind"`
	Parameters  map[string]any `yaml:"parameters" json:"parameters,omitempty"`
	// ConfirmTTLSeconds overrides the default confirmation window for writes.
	ConfirmTTLSeconds int `yaml:"confirm_ttl_sec" json:"-"`
}

func (t Tool) ConfirmTTL(def time.Duration) time.Duration {
	if t.ConfirmTTLSeconds > 0 {
		return time.Duration(t.ConfirmTTLSeconds) * time.Second
	}
	return def
}

// Table is the file form of the routing configuration.
type Table struct {
	AllAccessRole string              `yaml:"all_access_role"`
	Roles         map[string][]string `yaml:"roles"`
	Servers       map[string][]Tool   `yaml:"servers"`
}

func NewRouter(t Table) (*Router, error) {
	r := &Router{
		roles:     map[string][]string{},
		allAccess: strings.TrimSpace(t.AllAccessRole),
		tools:     map[string]map[string]Tool{},
	}
	for server, tools := range t.Servers {
		server = strings.TrimSpace(server)
		if server == "" {
			return nil, fmt.Errorf("rbac: empty server name")
		}
		byName := map[string]Tool{}
		for _, tool := range tools {
			tool.Server = server
			tool.Name = strings.TrimSpace(tool.Name)
			if tool.Name == "" {
				return nil, fmt.Errorf("rbac: server %s has a tool without a name", server)
			}
			if tool.Kind != KindRead && tool.Kind != KindWrite {
				return nil, fmt.Errorf("rbac: tool %s/%s has kind %q, want read or write", server, tool.Name, tool.Kind)
			}
			if _, dup := byName[tool.Name]; dup {
				return nil, fmt.Errorf("rbac: duplicate tool %s/%s", server, tool.Name)
			}
			byName[tool.Name] = tool
		}
		r.tools[server] = byName
		r.catalog = append(r.catalog, server)
	}
	slices.Sort(r.catalog)
	for role, servers := range t.Roles {
		for _, s := range servers {
			if _, ok := r.tools[s]; !ok {
				return nil, fmt.Errorf("rbac: role %s references unknown server %s", role, s)
			}
		}
		r.roles[strings.TrimSpace(role)] = slices.Clone(servers)
	}
	return r, nil
}

// LoadTable reads a YAML routing table from path.
func LoadTable(path string) (Table, error) {
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Table{}, err
	}
	var t Table
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return Table{}, fmt.Errorf("rbac: parse %s: %w", path, err)
	}
	return t, nil
}

// AccessibleServers is the union of each role's servers; the all-access
// role yields the whole catalog. Unknown roles contribute nothing.
func (r *Router) AccessibleServers(roles []string) []string {
	if r.allAccess != "" && slices.Contains(roles, r.allAccess) {
		return slices.Clone(r.catalog)
	}
	set := map[string]struct{}{}
	for _, role := range roles {
		for _, s := range r.roles[role] {
			set[s] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

func (r *Router) Catalog() []string {
	return slices.Clone(r.catalog)
}

func (r *Router) Tool(server, name string) (Tool, bool) {
	tool, ok := r.tools[server][name]
	return tool, ok
}

// Tools lists every tool on the given servers, ordered by server then name.
func (r *Router) Tools(servers []string) []Tool {
	var out []Tool
	for _, s := range servers {
		for _, tool := range r.tools[s] {
			out = append(out, tool)
		}
	}
	slices.SortFunc(out, func(a, b Tool) int {
		if c := strings.Compare(a.Server, b.Server); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out
}
