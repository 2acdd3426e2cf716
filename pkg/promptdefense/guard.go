package promptdefense

import (
	"context"

	"github.com/mdombrov-33/go-promptguard/detector"
)

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, text string) bool

func (f ClassifierFunc) Flagged(ctx context.Context, text string) bool { return f(ctx, text) }

// NewPromptGuard runs go-promptguard's pattern and statistical detectors
// without an LLM judge, so classification stays in-process.
func NewPromptGuard(threshold float64, maxInput int) Classifier {
	if threshold <= 0 {
		threshold = 0.7
	}
	if maxInput <= 0 {
		maxInput = DefaultMaxChars
	}
	d := detector.New(
		detector.WithThreshold(threshold),
		detector.WithAllDetectors(),
		detector.WithMaxInputLength(maxInput),
	)
	return ClassifierFunc(func(ctx context.Context, text string) bool {
		if text == "" {
			return false
		}
		return !d.Detect(ctx, text).Safe
	})
}
