package analyzer

import (
	"context"
	"regexp"
)

// QuickPatterns are the default client-side indicators.
var QuickPatterns = []Pattern{
	{regexp.MustCompile(`\.(map|filter|reduce)\(.*=>\s*\{[\s\S]*?\}\)`), "Chained callback with block body"},
	{regexp.MustCompile(`/\*\*[\s\S]*?\*/`), "Structured block comment"},
	{regexp.MustCompile(`// Step [0-9]+:`), "Step-by-step comments"},
	{regexp.MustCompile(`// Time [Cc]omplexity: O\([^)]+\)`), "Time complexity comment"},
	{regexp.MustCompile(`// Space [Cc]omplexity: O\([^)]+\)`), "Space complexity comment"},
}

// Quick is the cheap first-stage classifier.
type Quick struct {
	Patterns []Pattern // nil means QuickPatterns
}

func (q *Quick) Classify(ctx context.Context, text string) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}
	patterns := q.Patterns
	if patterns == nil {
		patterns = QuickPatterns
	}
	return matchPatterns(patterns, text), nil
}
