package orchestrator

import (
	"strings"

	"mcpgateway/pkg/auth"
	"mcpgateway/pkg/llm"
	"mcpgateway/pkg/rbac"
	"mcpgateway/pkg/toolproxy"
)

// SystemPrompt describes who is asking and what they may reach. The
// closing security rules are appended by promptdefense.Reinforce.
func SystemPrompt(p auth.Principal) string {
	servers := "none"
	if len(p.AccessibleServers) > 0 {
		servers = strings.Join(p.AccessibleServers, ", ")
	}
	roles := "none"
	if len(p.Roles) > 0 {
		roles = strings.Join(p.Roles, ", ")
	}
	var b strings.Builder
	b.WriteString("You are an enterprise assistant that answers questions using the tools provided to you.\n")
	b.WriteString("Current user: " + p.Username + " (id " + p.UserID + ")\n")
	b.WriteString("Roles: " + roles + "\n")
	b.WriteString("Accessible data sources: " + servers + "\n\n")
	b.WriteString("Only use tools from the accessible data sources. If a request needs data the user cannot access, say so plainly.\n")
	b.WriteString("When a tool result has metadata.truncated set, tell the user that the results are incomplete and repeat its warning.\n")
	b.WriteString("Write actions are never executed directly; when a tool reports pending_confirmation, tell the user an approval is waiting.\n")
	return b.String()
}

// Manifest lists the tools of every server p can reach, named for the model.
func Manifest(tools []rbac.Tool) []llm.ToolSpec {
	out := make([]llm.ToolSpec, 0, len(tools))
	for _, t := range tools {
		desc := t.Description
		if t.Kind == rbac.KindWrite {
			desc += " Requires user confirmation before it runs."
		}
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, llm.ToolSpec{
			Name:        toolproxy.QualifiedName(t.Server, t.Name),
			Description: strings.TrimSpace(desc),
			Parameters:  params,
		})
	}
	return out
}
