package session

import (
	"time"

	"github.com/google/uuid"
)

// Session is the persisted record of one exam monitoring session. It lets a
// restarted agent resume and lets `proctor stop` reach a running agent.
type Session struct {
	ID           string     `json:"id"`
	StudentID    string     `json:"student_id"`
	ExamID       string     `json:"exam_id"`
	Active       bool       `json:"active"`
	StartTime    time.Time  `json:"start_time"`
	StopTime     *time.Time `json:"stop_time,omitempty"`
	CollectorURL string     `json:"collector_url,omitempty"`
	// BridgeAddr is where the running agent serves the shim endpoint.
	BridgeAddr string `json:"bridge_addr,omitempty"`
	// ShimToken authenticates the in-page shim to the agent.
	ShimToken string `json:"shim_token,omitempty"`
	// SurfacePath is the file watched as the code surface, if any.
	SurfacePath string `json:"surface_path,omitempty"`
	// SummaryPath is where the end-of-session summary was written.
	SummaryPath string `json:"summary_path,omitempty"`
}

// New returns an active session starting at now.
func New(studentID, examID string, now time.Time) *Session {
	return &Session{
		ID:        uuid.NewString(),
		StudentID: studentID,
		ExamID:    examID,
		Active:    true,
		StartTime: now,
		ShimToken: uuid.NewString(),
	}
}

// Deactivate marks s inactive as of now. Calling it twice keeps the first stop time.
func (s *Session) Deactivate(now time.Time) {
	s.Active = false
	if s.StopTime == nil {
		s.StopTime = &now
	}
}
