package cmd

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakeyudi/proctor/internal/session"
)

// TestStopNoSessionError verifies that running "stop" when no session is active
// returns an error containing "no active session".
func TestStopNoSessionError(t *testing.T) {
	isolate(t)

	out, err := executeCommand(rootCmd, "stop")
	if err == nil {
		t.Fatal("expected an error from stop with no session, got nil")
	}
	combined := out + err.Error()
	if !strings.Contains(combined, "no active session") {
		t.Errorf("expected error to contain %q, got: %q", "no active session", combined)
	}
}

func TestStopMarksSessionInactive(t *testing.T) {
	isolate(t)

	store, err := session.NewSessionStore()
	require.NoError(t, err)
	require.NoError(t, store.Save(session.New("s1", "e1", time.Now().Add(-time.Hour))))

	out, err := executeCommand(rootCmd, "stop")
	require.NoError(t, err)
	assert.Contains(t, out, "e1 stopped")

	s, err := store.Load()
	require.NoError(t, err)
	assert.False(t, s.Active)
	require.NotNil(t, s.StopTime)

	// A second stop has nothing to do.
	_, err = executeCommand(rootCmd, "stop")
	assert.ErrorContains(t, err, "no active session")
}
