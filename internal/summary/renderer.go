package summary

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fakeyudi/proctor/internal/incident"
)

const (
	versionSentinel = "<!-- proctor-summary-version: 1 -->"
	dataPrefix      = "<!-- proctor-data: "
	dataSuffix      = " -->"
)

// Renderer serializes a Summary to bytes.
type Renderer interface {
	Render(s *Summary) ([]byte, error)
}

// JSONRenderer renders a Summary as indented JSON.
type JSONRenderer struct{}

func (r *JSONRenderer) Render(s *Summary) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// MarkdownRenderer renders a Summary as human-readable Markdown with an
// embedded base64 JSON payload for lossless round-trip parsing.
type MarkdownRenderer struct{}

func (r *MarkdownRenderer) Render(s *Summary) ([]byte, error) {
	jsonBytes, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal summary: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(jsonBytes)

	var sb strings.Builder
	sb.WriteString(versionSentinel + "\n")
	fmt.Fprintf(&sb, "%s%s%s\n\n", dataPrefix, encoded, dataSuffix)

	fmt.Fprintf(&sb, "# Exam %s: %s\n\n", s.Session.ExamID, s.Session.StudentID)

	// ## Summary
	sb.WriteString("## Summary\n\n")
	fmt.Fprintf(&sb, "- Started: %s\n", s.Session.StartTime.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&sb, "- Stopped: %s\n", s.Session.StopTime.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&sb, "- Duration: %s\n", s.Session.Duration)
	if s.Session.CollectorURL != "" {
		fmt.Fprintf(&sb, "- Collector: %s\n", s.Session.CollectorURL)
	}
	sb.WriteString("\n")

	// ## Incidents
	sb.WriteString("## Incidents\n\n")
	if len(s.Counts) == 0 {
		sb.WriteString("_No incidents recorded._\n")
	} else {
		sb.WriteString("| Type | Sent | Failed |\n")
		sb.WriteString("|------|------|--------|\n")
		for _, t := range incident.Types() {
			tally, ok := s.Counts[t]
			if !ok {
				continue
			}
			fmt.Fprintf(&sb, "| %s | %d | %d |\n", t, tally.Sent, tally.Failed)
		}
	}
	sb.WriteString("\n")

	// ## Failures
	sb.WriteString("## Failures\n\n")
	failures := s.Failures()
	if len(failures) == 0 {
		sb.WriteString("_Every report reached the collector._\n")
	} else {
		for _, e := range failures {
			fmt.Fprintf(&sb, "- [%s] %s: %s\n", e.OccurredAt.Format("15:04:05"), e.Type, e.Error)
		}
	}
	sb.WriteString("\n")

	// ## Timeline
	sb.WriteString("## Timeline\n\n")
	if len(s.Entries) == 0 {
		sb.WriteString("_Nothing happened._\n")
	} else {
		for i, e := range s.Entries {
			fmt.Fprintf(&sb, "%d. [%s] **%s** %s", i+1, e.OccurredAt.Format("15:04:05"), e.Type, oneLine(e.Details))
			if e.URL != "" {
				fmt.Fprintf(&sb, " <%s>", e.URL)
			}
			if e.Screenshot {
				sb.WriteString(" (screenshot)")
			}
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\n")

	return []byte(sb.String()), nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
