package monitor

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fakeyudi/proctor/internal/incident"
)

// AddedLines returns the lines of next that are new relative to prev. Only a
// snapshot with strictly more lines counts as an insertion; lines are
// compared by position.
func AddedLines(prev, next string) []string {
	oldLines := strings.Split(prev, "\n")
	newLines := strings.Split(next, "\n")
	if len(newLines) <= len(oldLines) {
		return nil
	}
	var added []string
	for i, line := range newLines {
		if i >= len(oldLines) || line != oldLines[i] {
			added = append(added, line)
		}
	}
	return added
}

// sampleCode takes one snapshot of the code surface and, when a burst of
// lines appeared without a paste, runs the analyzer over them.
func (m *Monitor) sampleCode(ctx context.Context) {
	if m.opts.Surface == nil {
		return
	}
	m.mu.Lock()
	gen := m.snapshotGen
	m.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, pageCallTimeout)
	current, source, err := snapshotFrom(callCtx, m.opts.Surface)
	cancel()
	if err != nil {
		return
	}

	m.mu.Lock()
	if m.state != stateMonitoring || gen != m.snapshotGen {
		// The page changed while the snapshot was in flight.
		m.mu.Unlock()
		return
	}
	if source != m.snapshotSource {
		m.dropSnapshotLocked()
		m.snapshotSource = source
	}
	prev, had := m.snapshot, m.haveSnapshot
	m.snapshot, m.haveSnapshot = current, true
	lastPaste := m.lastPaste
	minAdded := m.cfg.MinAddedLines
	gap := m.cfg.MinPasteGap.Std()
	m.mu.Unlock()

	if !had {
		return
	}
	added := AddedLines(prev, current)
	if len(added) <= minAdded || m.now().Sub(lastPaste) <= gap {
		return
	}

	code := strings.Join(added, "\n")
	verdict, err := m.analyzer.Classify(ctx, code)
	if err != nil {
		m.log.Debug("code analysis failed", zap.Error(err))
		return
	}
	if !verdict.Suspicious {
		return
	}
	details := fmt.Sprintf("Suspicious code pattern detected (%s): %s",
		strings.Join(verdict.Reasons, ", "), code)
	m.Report(incident.NLPSuspicious, incident.TruncateDetails(details), "")
}

func snapshotFrom(ctx context.Context, s Surface) (text, source string, err error) {
	if ss, ok := s.(SourcedSurface); ok {
		return ss.SnapshotFrom(ctx)
	}
	text, err = s.Snapshot(ctx)
	return text, "", err
}

// dropSnapshotLocked forgets the code baseline so the next sample only
// re-establishes it. m.mu must be held.
func (m *Monitor) dropSnapshotLocked() {
	m.snapshot, m.haveSnapshot, m.snapshotSource = "", false, ""
	m.snapshotGen++
}
