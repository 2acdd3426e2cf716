package toolproxy

import "strings"

const nameSeparator = "__"

// QualifiedName is the model-facing name of a server's tool.
func QualifiedName(server, tool string) string {
	return server + nameSeparator + tool
}

func SplitQualifiedName(name string) (server, tool string, ok bool) {
	server, tool, ok = strings.Cut(name, nameSeparator)
	if !ok || server == "" || tool == "" {
		return "", "", false
	}
	return server, tool, true
}
