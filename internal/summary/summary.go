// Package summary builds and renders the end-of-session report a student
// (or an invigilator) can read after the exam.
package summary

import (
	"context"
	"fmt"
	"time"

	"github.com/fakeyudi/proctor/internal/incident"
	"github.com/fakeyudi/proctor/internal/journal"
	"github.com/fakeyudi/proctor/internal/session"
)

// Summary is the complete, renderable record of one session.
type Summary struct {
	Session SessionMeta                     `json:"session"`
	Entries []journal.Entry                 `json:"entries"`
	Counts  map[incident.Type]journal.Tally `json:"counts"`
}

// SessionMeta holds summary metadata about the session.
type SessionMeta struct {
	ID           string    `json:"id"`
	StudentID    string    `json:"student_id"`
	ExamID       string    `json:"exam_id"`
	StartTime    time.Time `json:"start_time"`
	StopTime     time.Time `json:"stop_time"`
	Duration     string    `json:"duration"` // human-readable, e.g. "1h30m0s"
	CollectorURL string    `json:"collector_url,omitempty"`
}

// Source is the part of the journal a summary reads.
type Source interface {
	List(ctx context.Context, sessionID string) ([]journal.Entry, error)
	Counts(ctx context.Context, sessionID string) (map[incident.Type]journal.Tally, error)
}

// Build assembles the summary of sess from src. A session still running is
// summarised up to now.
func Build(ctx context.Context, src Source, sess *session.Session, now time.Time) (*Summary, error) {
	entries, err := src.List(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	counts, err := src.Counts(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("count attempts: %w", err)
	}
	stop := now
	if sess.StopTime != nil {
		stop = *sess.StopTime
	}
	return &Summary{
		Session: SessionMeta{
			ID:           sess.ID,
			StudentID:    sess.StudentID,
			ExamID:       sess.ExamID,
			StartTime:    sess.StartTime,
			StopTime:     stop,
			Duration:     stop.Sub(sess.StartTime).Round(time.Second).String(),
			CollectorURL: sess.CollectorURL,
		},
		Entries: entries,
		Counts:  counts,
	}, nil
}

// Incidents returns the entries that describe student behaviour.
func (s *Summary) Incidents() []journal.Entry {
	var out []journal.Entry
	for _, e := range s.Entries {
		if !e.Type.Lifecycle() {
			out = append(out, e)
		}
	}
	return out
}

// Failures returns the entries the collector never accepted.
func (s *Summary) Failures() []journal.Entry {
	var out []journal.Entry
	for _, e := range s.Entries {
		if e.Outcome == journal.Failed {
			out = append(out, e)
		}
	}
	return out
}
