package session_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/fakeyudi/proctor/internal/session"
)

// generateTime produces an arbitrary time.Time value.
// We truncate to second precision to match JSON round-trip fidelity
// (time.Time marshals to RFC3339 which has second precision by default).
func generateTime(t *rapid.T) time.Time {
	sec := rapid.Int64Range(0, 1_700_000_000).Draw(t, "unix_sec")
	return time.Unix(sec, 0).UTC()
}

// generateSession produces an arbitrary Session value.
func generateSession(t *rapid.T) *session.Session {
	s := &session.Session{
		ID:           rapid.StringN(1, 36, -1).Draw(t, "id"),
		StudentID:    rapid.StringN(1, 40, -1).Draw(t, "student_id"),
		ExamID:       rapid.StringN(1, 40, -1).Draw(t, "exam_id"),
		Active:       rapid.Bool().Draw(t, "active"),
		StartTime:    generateTime(t),
		CollectorURL: rapid.StringN(0, 80, -1).Draw(t, "collector_url"),
		SurfacePath:  rapid.StringN(0, 80, -1).Draw(t, "surface_path"),
		BridgeAddr:   rapid.StringN(0, 40, -1).Draw(t, "bridge_addr"),
		ShimToken:    rapid.StringN(0, 36, -1).Draw(t, "shim_token"),
	}
	if rapid.Bool().Draw(t, "has_stop_time") {
		st := generateTime(t)
		s.StopTime = &st
	}
	return s
}

func newStore(t *testing.T) session.SessionStore {
	t.Helper()
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	store, err := session.NewSessionStore()
	if err != nil {
		t.Fatalf("NewSessionStore: %v", err)
	}
	return store
}

// Feature: proctor, Property 8: Session persistence round-trip
func TestSessionPersistenceRoundTrip(t *testing.T) {
	store := newStore(t)

	rapid.Check(t, func(t *rapid.T) {
		original := generateSession(t)

		if err := store.Save(original); err != nil {
			t.Fatalf("Save: %v", err)
		}

		loaded, err := store.Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}

		if loaded.ID != original.ID {
			t.Errorf("ID mismatch: got %q, want %q", loaded.ID, original.ID)
		}
		if loaded.StudentID != original.StudentID || loaded.ExamID != original.ExamID {
			t.Errorf("ids mismatch: got %q/%q, want %q/%q", loaded.StudentID, loaded.ExamID, original.StudentID, original.ExamID)
		}
		if loaded.Active != original.Active {
			t.Errorf("Active mismatch: got %v, want %v", loaded.Active, original.Active)
		}
		if !loaded.StartTime.Equal(original.StartTime) {
			t.Errorf("StartTime mismatch: got %v, want %v", loaded.StartTime, original.StartTime)
		}
		if loaded.CollectorURL != original.CollectorURL || loaded.SurfacePath != original.SurfacePath ||
			loaded.BridgeAddr != original.BridgeAddr || loaded.ShimToken != original.ShimToken {
			t.Errorf("optional fields mismatch: got %+v, want %+v", loaded, original)
		}
		if (loaded.StopTime == nil) != (original.StopTime == nil) {
			t.Errorf("StopTime nil mismatch: got %v, want %v", loaded.StopTime, original.StopTime)
		} else if loaded.StopTime != nil && !loaded.StopTime.Equal(*original.StopTime) {
			t.Errorf("StopTime mismatch: got %v, want %v", *loaded.StopTime, *original.StopTime)
		}
	})
}

// TestLoadReturnsErrNoSession verifies that Load returns ErrNoSession when no
// session file exists on disk.
func TestLoadReturnsErrNoSession(t *testing.T) {
	store := newStore(t)

	_, err := store.Load()
	if !errors.Is(err, session.ErrNoSession) {
		t.Errorf("expected ErrNoSession, got: %v", err)
	}
	if err := store.Delete(); err != nil {
		t.Errorf("Delete on missing file: %v", err)
	}
}

// TestSaveFailurePropagatesError verifies that NewSessionStore returns an
// error when the underlying directory is not writable.
func TestSaveFailurePropagatesError(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("running as root; permission checks are ineffective")
	}

	tmp := t.TempDir()
	if err := os.Chmod(tmp, 0o000); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { os.Chmod(tmp, 0o755) })

	t.Setenv("XDG_DATA_HOME", tmp)

	_, err := session.NewSessionStore()
	if err == nil {
		t.Fatal("expected error creating store in unwritable directory, got nil")
	}
}

func TestDeactivateKeepsFirstStopTime(t *testing.T) {
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s := session.New("stu", "exam", start)
	if !s.Active || s.ID == "" {
		t.Fatalf("new session should be active with an id: %+v", s)
	}

	first := start.Add(time.Hour)
	s.Deactivate(first)
	s.Deactivate(first.Add(time.Minute))
	if s.Active {
		t.Error("session still active")
	}
	if s.StopTime == nil || !s.StopTime.Equal(first) {
		t.Errorf("StopTime = %v, want %v", s.StopTime, first)
	}
}

func TestNewSessionsGetDistinctShimTokens(t *testing.T) {
	a := session.New("stu", "exam", time.Now())
	b := session.New("stu", "exam", time.Now())
	if a.ShimToken == "" || a.ShimToken == b.ShimToken {
		t.Errorf("shim tokens should be set and distinct: %q, %q", a.ShimToken, b.ShimToken)
	}
}

func watchInBackground(t *testing.T, store session.SessionStore) (fired <-chan struct{}, cancel func()) {
	t.Helper()
	ctx, cancelCtx := context.WithCancel(context.Background())
	ch := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := session.Watch(ctx, store, func() { ch <- struct{}{} }); err != nil {
			t.Errorf("Watch: %v", err)
		}
	}()
	return ch, func() {
		cancelCtx()
		<-done
	}
}

func TestWatchFiresWhenMarkedInactive(t *testing.T) {
	store := newStore(t)
	s := session.New("stu", "exam", time.Now())
	if err := store.Save(s); err != nil {
		t.Fatal(err)
	}

	fired, cancel := watchInBackground(t, store)
	defer cancel()

	// An active rewrite must not fire.
	time.Sleep(50 * time.Millisecond)
	s.CollectorURL = "https://collector.test/api"
	if err := store.Save(s); err != nil {
		t.Fatal(err)
	}
	select {
	case <-fired:
		t.Fatal("watch fired for an active session")
	case <-time.After(100 * time.Millisecond):
	}

	s.Deactivate(time.Now())
	if err := store.Save(s); err != nil {
		t.Fatal(err)
	}
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not fire after deactivation")
	}
}

func TestWatchFiresWhenDeleted(t *testing.T) {
	store := newStore(t)
	if err := store.Save(session.New("stu", "exam", time.Now())); err != nil {
		t.Fatal(err)
	}

	fired, cancel := watchInBackground(t, store)
	defer cancel()

	time.Sleep(50 * time.Millisecond)
	if err := store.Delete(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not fire after delete")
	}
}

func TestWatchFiresImmediatelyWithoutSession(t *testing.T) {
	store := newStore(t)
	fired, cancel := watchInBackground(t, store)
	defer cancel()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not fire for a missing session")
	}
}
