// Package analyzer flags code snippets that look machine-generated.
//
// Two classifiers share one contract: Quick is a handful of cheap regular
// expressions suitable for every sampling tick, Deep runs the full heuristic
// set. Pipeline chains them so Deep only runs when Quick is suspicious or the
// snippet is long enough to be worth the cost.
package analyzer

import (
	"context"
	"regexp"
)

// Verdict is the outcome of classifying a snippet.
type Verdict struct {
	Suspicious bool     `json:"suspicious"`
	Reasons    []string `json:"reasons"`
}

// Classifier decides whether text is suspicious.
type Classifier interface {
	Classify(ctx context.Context, text string) (Verdict, error)
}

// Pattern pairs a regular expression with the reason reported when it matches.
type Pattern struct {
	Re     *regexp.Regexp
	Reason string
}

// addReason appends reason once.
func (v *Verdict) addReason(reason string) {
	v.Suspicious = true
	for _, r := range v.Reasons {
		if r == reason {
			return
		}
	}
	v.Reasons = append(v.Reasons, reason)
}

// matchPatterns runs every pattern against text.
func matchPatterns(patterns []Pattern, text string) Verdict {
	var v Verdict
	for _, p := range patterns {
		if p.Re.MatchString(text) {
			v.addReason(p.Reason)
		}
	}
	return v
}
