// Package incident defines the incident records produced by the monitor and
// the payloads sent to the remote collector.
package incident

import (
	"encoding/base64"
	"fmt"
	"time"
)

// Type classifies an incident.
type Type string

const (
	CopyPaste            Type = "copy_paste"
	TabSwitch            Type = "tab_switch"
	BlockedSite          Type = "blocked_site"
	NLPSuspicious        Type = "nlp_suspicious"
	ExtensionStarted     Type = "extension_started"
	ExtensionStopped     Type = "extension_stopped"
	ExtensionRemoved     Type = "extension_removed"
	ExtensionReactivated Type = "extension_reactivated"
)

var allTypes = []Type{
	CopyPaste,
	TabSwitch,
	BlockedSite,
	NLPSuspicious,
	ExtensionStarted,
	ExtensionStopped,
	ExtensionRemoved,
	ExtensionReactivated,
}

// Types returns every known incident type in a stable order.
func Types() []Type {
	out := make([]Type, len(allTypes))
	copy(out, allTypes)
	return out
}

// Valid reports whether t is a known incident type.
func (t Type) Valid() bool {
	for _, k := range allTypes {
		if k == t {
			return true
		}
	}
	return false
}

// Lifecycle reports whether t describes the monitor itself rather than the
// student's behaviour.
func (t Type) Lifecycle() bool {
	switch t {
	case ExtensionStarted, ExtensionStopped, ExtensionRemoved, ExtensionReactivated:
		return true
	}
	return false
}

// HighSeverity reports whether t is worth a screenshot under the "high"
// capture policy.
func (t Type) HighSeverity() bool {
	return t == BlockedSite || t == NLPSuspicious
}

func (t Type) String() string { return string(t) }

// ParseType converts s to a Type, rejecting unknown values.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown incident type %q", s)
	}
	return t, nil
}

// maxDetails caps how much of a pasted or generated snippet is forwarded.
const maxDetails = 200

// TruncateDetails shortens s to maxDetails characters, marking the cut with "...".
func TruncateDetails(s string) string {
	r := []rune(s)
	if len(r) <= maxDetails {
		return s
	}
	return string(r[:maxDetails]) + "..."
}

// Event is a single observation produced by the monitor. It must not be
// modified once handed to the transport.
type Event struct {
	ID         string
	Type       Type
	Details    string
	URL        string // empty when not applicable
	Screenshot []byte // PNG bytes; nil when capture was skipped or failed
	OccurredAt time.Time
}

// Report builds the collector payload for e.
func (e Event) Report(studentID, examID string) Report {
	r := Report{
		StudentID:    studentID,
		ExamID:       examID,
		IncidentType: string(e.Type),
		Details:      e.Details,
		URL:          e.URL,
	}
	if len(e.Screenshot) > 0 {
		r.Screenshot = DataURL(e.Screenshot)
	}
	return r
}

// DataURL encodes PNG bytes as a data URL.
func DataURL(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

// Attempt is the outcome of handing one event to the collector.
type Attempt struct {
	StudentID string
	ExamID    string
	Event     Event
	Err       error // nil when the collector accepted the report
}

// Report is the body of POST {collector}/incidents.
type Report struct {
	StudentID    string `json:"studentId"`
	ExamID       string `json:"examId"`
	IncidentType string `json:"incidentType"`
	Details      string `json:"details"`
	URL          string `json:"url,omitempty"`
	Screenshot   string `json:"screenshot,omitempty"` // data URL
}

// Heartbeat is the body of PATCH {collector}/students.
type Heartbeat struct {
	StudentID       string `json:"studentId"`
	Status          string `json:"status"`
	ExtensionActive bool   `json:"extensionActive"`
	LastHeartbeat   int64  `json:"lastHeartbeat"` // epoch ms
}

// NewHeartbeat returns an "active" heartbeat stamped at t.
func NewHeartbeat(studentID string, t time.Time) Heartbeat {
	return Heartbeat{
		StudentID:       studentID,
		Status:          "active",
		ExtensionActive: true,
		LastHeartbeat:   t.UnixMilli(),
	}
}
