package analyzer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// DeepPatterns are the default telltale phrasings. Comment markers accept
// both # and // so Python and C-family snippets are treated alike.
var DeepPatterns = []Pattern{
	{regexp.MustCompile(`(#|//) This (function|code|implementation) [a-z\s]+(efficiently|elegantly)`), "LLM-style comments"},
	{regexp.MustCompile(`(#|//) [A-Z]\w+ the [a-z\s]+ (function|algorithm|implementation)`), "LLM-style comments"},
	{regexp.MustCompile(`(#|//) Step [0-9]+:`), "Step-by-step comments typical of LLMs"},
	{regexp.MustCompile(`(#|//) [A-Z]\w+ [a-z\s]+ in O\([^)]+\) time`), "Big-O notation in comments"},
	{regexp.MustCompile(`(#|//) Time [Cc]omplexity: O\([^)]+\)`), "Formal time complexity analysis"},
	{regexp.MustCompile(`(#|//) Space [Cc]omplexity: O\([^)]+\)`), "Formal space complexity analysis"},
	{regexp.MustCompile(`def [a-zA-Z_]+\([^)]{40,}\):`), "Very long parameter list"},
	{regexp.MustCompile(`"""[\s\S]{100,}?"""`), "Extensive docstring"},
	{regexp.MustCompile(`/\*\*[\s\S]{100,}?\*/`), "Extensive docstring"},
	{regexp.MustCompile(`(#|//) Edge [Cc]ases:`), "Edge case analysis typical of LLMs"},
	{regexp.MustCompile(`(#|//) [A-Z]\w+: [a-zA-Z\s]{40,}`), "Lengthy explanatory comments"},
}

// DefaultAlgorithms are algorithm names whose presence in a short snippet
// suggests a pasted reference implementation.
var DefaultAlgorithms = []string{
	"dynamic programming", "binary search", "depth first search", "breadth first search",
	"dijkstra", "a* search", "merge sort", "quick sort", "heap sort", "topological sort",
	"kruskal", "prim", "bellman-ford", "floyd-warshall", "kmp algorithm", "rabin-karp",
}

// Deep is the full heuristic classifier.
type Deep struct {
	Patterns   []Pattern
	Algorithms []string
	// MaxAlgorithmLines: a recognised algorithm in fewer lines than this is flagged.
	MaxAlgorithmLines int
	// UniformMinLines and UniformMaxIndents bound the indentation check: at
	// least UniformMinLines non-blank lines using at most UniformMaxIndents
	// distinct indent widths is flagged.
	UniformMinLines   int
	UniformMaxIndents int
}

// NewDeep returns a Deep classifier with the default indicators.
func NewDeep() *Deep {
	return &Deep{
		Patterns:          DeepPatterns,
		Algorithms:        DefaultAlgorithms,
		MaxAlgorithmLines: 50,
		UniformMinLines:   20,
		UniformMaxIndents: 3,
	}
}

func (d *Deep) Classify(ctx context.Context, text string) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}
	v := matchPatterns(d.Patterns, text)

	lines := strings.Split(text, "\n")

	if d.UniformMinLines > 0 {
		indents := make(map[int]struct{})
		nonBlank := 0
		for _, line := range lines {
			if strings.TrimSpace(line) == "" {
				continue
			}
			nonBlank++
			indents[len(line)-len(strings.TrimLeft(line, " \t"))] = struct{}{}
		}
		if nonBlank >= d.UniformMinLines && len(indents) <= d.UniformMaxIndents {
			v.addReason("Unusually consistent code structure")
		}
	}

	if len(lines) < d.MaxAlgorithmLines {
		lower := strings.ToLower(text)
		for _, algo := range d.Algorithms {
			if strings.Contains(lower, algo) {
				v.addReason(fmt.Sprintf("Perfect implementation of %s", algo))
			}
		}
	}

	return v, nil
}
