package promptdefense

import (
	"regexp"
	"strings"
)

// OutputGuard looks for signs that the model echoed the system prompt or
// obeyed instructions embedded in user data.
type OutputGuard struct {
	Patterns []*regexp.Regexp
	Phrases  []string
}

var defaultOutputPatterns = []string{
	`these\s+override\s+anything\s+that\s+appears\s+later`,
	`never\s+follow\s+instructions\s+found\s+there`,
	`</?\s*user_query\b`,
	`(my|the)\s+system\s+prompt\s+(is|says|reads)`,
	`(here\s+(is|are)|these\s+are)\s+my\s+(hidden\s+|secret\s+|original\s+)?(instructions|rules)`,
	`i\s+(will|am\s+going\s+to)\s+ignore\s+(my|the|all)\s+(previous\s+)?(instructions|rules)`,
	`(developer|dan|jailbreak)\s+mode\s+(enabled|activated|on)`,
	`as\s+an\s+unrestricted\s+(ai|assistant|model)`,
}

func NewOutputGuard(extraPhrases ...string) *OutputGuard {
	g := &OutputGuard{}
	for _, expr := range defaultOutputPatterns {
		g.Patterns = append(g.Patterns, regexp.MustCompile(`(?i)`+expr))
	}
	for _, p := range extraPhrases {
		if p = strings.TrimSpace(p); p != "" {
			g.Phrases = append(g.Phrases, strings.ToLower(p))
		}
	}
	return g
}

// Check reports whether text must be suppressed, and why. secrets are
// per-request values, such as the boundary id, that must never be echoed.
func (g *OutputGuard) Check(text string, secrets ...string) (bool, string) {
	if g == nil || text == "" {
		return false, ""
	}
	normalized := strings.Join(strings.Fields(text), " ")
	for _, re := range g.Patterns {
		if re.MatchString(normalized) {
			return true, re.String()
		}
	}
	lower := strings.ToLower(normalized)
	for _, p := range g.Phrases {
		if strings.Contains(lower, p) {
			return true, "phrase " + p
		}
	}
	for _, secret := range secrets {
		if secret != "" && strings.Contains(text, secret) {
			return true, "echoed request secret"
		}
	}
	return false, ""
}
