package summary

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Parser deserializes a summary file back into structured data.
type Parser interface {
	Parse(data []byte) (*Summary, error)
}

// JSONParser parses a JSON-encoded Summary.
type JSONParser struct{}

func (p *JSONParser) Parse(data []byte) (*Summary, error) {
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse JSON summary: %w", err)
	}
	return &s, nil
}

// MarkdownParser parses a Markdown summary by extracting the embedded
// payload from the sentinel comments.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(data []byte) (*Summary, error) {
	content := string(data)

	if !strings.Contains(content, versionSentinel) {
		return nil, fmt.Errorf("not a valid proctor summary: missing version sentinel")
	}

	start := strings.Index(content, dataPrefix)
	if start == -1 {
		return nil, fmt.Errorf("not a valid proctor summary: missing data payload")
	}
	start += len(dataPrefix)
	end := strings.Index(content[start:], dataSuffix)
	if end == -1 {
		return nil, fmt.Errorf("not a valid proctor summary: malformed data payload")
	}

	jsonBytes, err := base64.StdEncoding.DecodeString(content[start : start+end])
	if err != nil {
		return nil, fmt.Errorf("not a valid proctor summary: corrupted base64 payload: %w", err)
	}

	var s Summary
	if err := json.Unmarshal(jsonBytes, &s); err != nil {
		return nil, fmt.Errorf("not a valid proctor summary: failed to parse embedded JSON: %w", err)
	}
	return &s, nil
}

// ParserFor picks a parser from the file name: ".json" files are parsed as
// JSON, everything else as Markdown.
func ParserFor(path string) Parser {
	if strings.HasSuffix(strings.ToLower(path), ".json") {
		return &JSONParser{}
	}
	return &MarkdownParser{}
}

// RendererFor returns the renderer for format ("json" or "markdown").
func RendererFor(format string) (Renderer, error) {
	switch format {
	case "json":
		return &JSONRenderer{}, nil
	case "markdown", "md", "":
		return &MarkdownRenderer{}, nil
	}
	return nil, fmt.Errorf("unknown summary format %q", format)
}
