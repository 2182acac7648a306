package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/fakeyudi/proctor/internal/bridge"
	"github.com/fakeyudi/proctor/internal/incident"
	"github.com/fakeyudi/proctor/internal/journal"
	"github.com/fakeyudi/proctor/internal/session"
)

// Feature: proctor, Property 11: Status counts accuracy
func TestStatusCountsAccuracy(t *testing.T) {
	isolate(t)

	rapid.Check(t, func(rt *rapid.T) {
		sent := rapid.IntRange(0, 15).Draw(rt, "sent")
		failed := rapid.IntRange(0, 15).Draw(rt, "failed")

		t.Setenv("XDG_DATA_HOME", t.TempDir())

		store, err := session.NewSessionStore()
		if err != nil {
			rt.Fatalf("NewSessionStore: %v", err)
		}
		s := session.New("s1", "e1", time.Now())
		if err := store.Save(s); err != nil {
			rt.Fatalf("Save: %v", err)
		}

		path, err := journalPath()
		if err != nil {
			rt.Fatalf("journalPath: %v", err)
		}
		jr, err := journal.Open(path)
		if err != nil {
			rt.Fatalf("journal.Open: %v", err)
		}
		for i := 0; i < sent+failed; i++ {
			a := incident.Attempt{
				StudentID: "s1",
				ExamID:    "e1",
				Event: incident.Event{
					ID:         fmt.Sprintf("ev-%d", i),
					Type:       incident.TabSwitch,
					OccurredAt: time.Now(),
				},
			}
			if i >= sent {
				a.Err = errors.New("collector down")
			}
			if err := jr.Record(context.Background(), s.ID, a); err != nil {
				rt.Fatalf("Record: %v", err)
			}
		}
		jr.Close()

		out, err := executeCommand(rootCmd, "status")
		if err != nil {
			rt.Fatalf("status command error: %v", err)
		}

		for _, want := range []string{
			fmt.Sprintf("Reports sent: %d", sent),
			fmt.Sprintf("Reports failed: %d", failed),
			"Exam: e1",
			"Agent: not running",
		} {
			if !strings.Contains(out, want) {
				rt.Errorf("expected output to contain %q, got:\n%s", want, out)
			}
		}
	})
}

func TestStatusNoSession(t *testing.T) {
	isolate(t)

	out, err := executeCommand(rootCmd, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "no active session") {
		t.Errorf("expected %q, got %q", "no active session", out)
	}
}

func TestStatusProbesSessionBridgeAddr(t *testing.T) {
	isolate(t)

	agent := httptest.NewServer(bridge.New(bridge.Options{}).Router())
	t.Cleanup(agent.Close)

	store, err := session.NewSessionStore()
	if err != nil {
		t.Fatalf("NewSessionStore: %v", err)
	}
	s := session.New("s1", "e1", time.Now())
	s.BridgeAddr = strings.TrimPrefix(agent.URL, "http://")
	if err := store.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := executeCommand(rootCmd, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "Agent: running, no page connected") {
		t.Errorf("expected agent at %s to be found, got:\n%s", s.BridgeAddr, out)
	}
}
