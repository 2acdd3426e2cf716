// Package promptdefense screens user text before it reaches the model and
// checks model output after it leaves.
package promptdefense

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"mcpgateway/pkg/apierr"
)

const DefaultMaxChars = 4000

// Refusal replaces any response the output guard suppresses.
const Refusal = "I can't help with that request. I can only answer questions about data you are authorized to access."

const rejectedMessage = "query rejected by content policy"

// Layer identifies which check rejected input.
type Layer string

const (
	LayerStructure Layer = "structure"
	LayerBlocklist Layer = "blocklist"
	LayerOutput    Layer = "output"
)

// Rejection is returned by Prepare. It wraps an *apierr.Error so handlers
// can map it directly; Layer and Reason are for audit only.
type Rejection struct {
	Layer  Layer
	Reason string
	Err    *apierr.Error
}

func (r *Rejection) Error() string { return "promptdefense: " + string(r.Layer) + ": " + r.Reason }

func (r *Rejection) Unwrap() error { return r.Err }

// Classifier flags text that looks like an injection attempt.
type Classifier interface {
	Flagged(ctx context.Context, text string) bool
}

var defaultPatterns = []string{
	`ignore\s+(all\s+)?(the\s+)?(previous|prior|above|earlier)\s+(instructions|prompts|rules|messages)`,
	`disregard\s+(all\s+)?(the\s+)?(previous|prior|above|earlier|your)\s+(instructions|prompts|rules|messages|guidelines)`,
	`forget\s+(all\s+)?(your|the|previous)\s+(instructions|rules|guidelines)`,
	`(reveal|print|show|repeat|output)\s+(me\s+)?(the\s+|your\s+)?(system|hidden|initial)\s+(prompt|instructions|message)`,
	`you\s+are\s+now\s+(in\s+)?(developer|dan|jailbreak|unrestricted|admin)`,
	`new\s+instructions\s*:`,
	`</?\s*(system|assistant|user_query)\b`,
	`\[\s*(system|inst)\s*\]`,
	`act\s+as\s+(an?\s+)?(unrestricted|unfiltered|admin|root)`,
	`(bypass|override|disable)\s+(the\s+|all\s+|your\s+)?(security|safety|access\s+control|rbac|restrictions|filters)`,
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	MaxChars   int
	Patterns   []*regexp.Regexp
	Classifier Classifier
}

func New(maxChars int, classifier Classifier) *Pipeline {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	p := &Pipeline{MaxChars: maxChars, Classifier: classifier}
	for _, expr := range defaultPatterns {
		p.Patterns = append(p.Patterns, regexp.MustCompile(`(?i)`+expr))
	}
	return p
}

// Prepared is user text that passed input screening, framed for the model.
type Prepared struct {
	Sanitized string
	Framed    string
	Boundary  string
}

// Prepare runs structural validation, the blocklist and delimiter
// embedding in order. The first failing layer ends the request.
func (p *Pipeline) Prepare(ctx context.Context, raw string) (Prepared, error) {
	text, err := p.ValidateStructure(raw)
	if err != nil {
		return Prepared{}, err
	}
	if err := p.Screen(ctx, text); err != nil {
		return Prepared{}, err
	}
	framed, boundary, err := Embed(text)
	if err != nil {
		return Prepared{}, apierr.Wrap(apierr.KindInternal, "frame query", err)
	}
	return Prepared{Sanitized: text, Framed: framed, Boundary: boundary}, nil
}

// ValidateStructure enforces the length bound and character set. Zero-width
// and other invisible format characters are stripped rather than rejected.
func (p *Pipeline) ValidateStructure(raw string) (string, error) {
	if !utf8.ValidString(raw) {
		return "", p.reject(LayerStructure, "invalid utf-8", apierr.KindValidation, "query must be valid UTF-8 text", "")
	}
	text := strings.TrimSpace(stripInvisible(raw))
	if text == "" {
		return "", p.reject(LayerStructure, "empty", apierr.KindValidation, "query is required", "Type a question and try again.")
	}
	if n := utf8.RuneCountInString(text); n > p.MaxChars {
		return "", p.reject(LayerStructure, "too long", apierr.KindValidation, "query is too long",
			"Shorten the query to at most "+strconv.Itoa(p.MaxChars)+" characters.")
	}
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			return "", p.reject(LayerStructure, "control character", apierr.KindValidation, "query contains unsupported characters",
				"Remove control characters and try again.")
		}
	}
	return text, nil
}

// Screen matches the normalized text against the blocklist, then asks the
// classifier. Both produce the same generic rejection.
func (p *Pipeline) Screen(ctx context.Context, text string) error {
	normalized := strings.Join(strings.Fields(text), " ")
	for _, re := range p.Patterns {
		if re.MatchString(normalized) {
			return p.reject(LayerBlocklist, "pattern "+re.String(), apierr.KindPromptInjection, rejectedMessage, "")
		}
	}
	if p.Classifier != nil && p.Classifier.Flagged(ctx, normalized) {
		return p.reject(LayerBlocklist, "classifier", apierr.KindPromptInjection, rejectedMessage, "")
	}
	return nil
}

func (p *Pipeline) reject(layer Layer, reason string, kind apierr.Kind, msg, hint string) error {
	e := apierr.New(kind, msg)
	if hint != "" {
		e = e.WithSuggestion(hint)
	}
	return &Rejection{Layer: layer, Reason: reason, Err: e}
}

func stripInvisible(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, s)
}
