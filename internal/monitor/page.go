package monitor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fakeyudi/proctor/internal/incident"
)

// ErrNoSurface is returned by a Surface when no code-editing area is present.
var ErrNoSurface = errors.New("no code-editing surface")

// Page controls the page currently shown in the monitored browsing context.
type Page interface {
	// Halt stops any further loading of the current page.
	Halt(ctx context.Context) error
	// ShowNotice replaces the visible content with n.
	ShowNotice(ctx context.Context, n Notice) error
	// InstallGuards blocks the ways out of the notice listed in g.
	InstallGuards(ctx context.Context, g Guards) error
	// NoticeActive reports whether the notice is still the active content.
	NoticeActive(ctx context.Context) (bool, error)
}

// Surface yields the content of the detected code-editing area.
type Surface interface {
	Snapshot(ctx context.Context) (string, error)
}

// SourcedSurface is a Surface that also names which of its sources answered.
// Content from different sources is never diffed against each other.
type SourcedSurface interface {
	Surface
	SnapshotFrom(ctx context.Context) (text, source string, err error)
}

// Screenshotter captures the visible page as PNG.
type Screenshotter interface {
	Capture(ctx context.Context) ([]byte, error)
}

// Recorder keeps a local record of every send attempt.
type Recorder interface {
	Record(ctx context.Context, a incident.Attempt) error
}

// Notice is the fixed content shown in place of a blocked page.
type Notice struct {
	Title   string   `json:"title"`
	Message []string `json:"message"`
	Warning string   `json:"warning"`
}

// BlockedNotice is shown when a blocklisted page is opened.
var BlockedNotice = Notice{
	Title: "ACCESS BLOCKED",
	Message: []string{
		"This AI tool or website has been blocked during the exam.",
		"Using AI assistants or code generators is strictly prohibited during this assessment.",
	},
	Warning: "THIS VIOLATION HAS BEEN REPORTED TO YOUR EXAM ADMINISTRATOR",
}

// Guards lists what the page must refuse while the notice is up.
type Guards struct {
	History     bool     `json:"history"`      // back/forward
	Unload      bool     `json:"unload"`       // leaving or closing the page
	ContextMenu bool     `json:"context_menu"` // right-click
	Keys        []string `json:"keys"`         // shortcuts swallowed by the page
}

// DefaultGuards blocks navigation, refresh, the location bar and devtools.
var DefaultGuards = Guards{
	History:     true,
	Unload:      true,
	ContextMenu: true,
	Keys:        []string{"F5", "Ctrl+R", "Ctrl+F5", "Ctrl+L", "Meta+R", "F12", "Ctrl+Shift+I", "Meta+Alt+I"},
}

// pageCallTimeout bounds a single request to the page.
const pageCallTimeout = 2 * time.Second

// replacePage halts the page at pageURL, shows the notice and guards it,
// reports the visit and starts the self-heal loop.
func (m *Monitor) replacePage(ctx context.Context, pageURL string) {
	if page := m.opts.Page; page != nil {
		m.applyNotice(ctx, page)
		callCtx, cancel := context.WithTimeout(ctx, pageCallTimeout)
		if err := page.InstallGuards(callCtx, DefaultGuards); err != nil {
			m.log.Debug("installing page guards", zap.Error(err))
		}
		cancel()
	}

	details := "Attempted to access blocked AI tool: " + hostname(pageURL) + " (" + pageURL + ")"
	if pageURL == "" {
		details = "Attempted to access blocked AI tool embedded in the current page"
	}
	m.Report(incident.BlockedSite, details, pageURL)
	m.startHeal(pageKey(pageURL))
}

func (m *Monitor) applyNotice(ctx context.Context, page Page) {
	callCtx, cancel := context.WithTimeout(ctx, pageCallTimeout)
	defer cancel()
	if err := page.Halt(callCtx); err != nil {
		m.log.Debug("halting page", zap.Error(err))
	}
	if err := page.ShowNotice(callCtx, BlockedNotice); err != nil {
		m.log.Debug("showing notice", zap.Error(err))
	}
}

// startHeal launches the self-heal loop for the page keyed by key, replacing
// any previous one.
func (m *Monitor) startHeal(key string) {
	if m.opts.Page == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != stateMonitoring || m.replacedURL != key {
		return
	}
	if m.healCancel != nil {
		m.healCancel()
	}
	ctx, cancel := context.WithCancel(m.loopCtx)
	m.healCancel = cancel
	interval := m.cfg.SelfHealInterval.Std()
	m.loops.Add(1)
	go m.heal(ctx, interval)
}

// heal re-applies the notice whenever the page no longer shows it.
func (m *Monitor) heal(ctx context.Context, interval time.Duration) {
	defer m.loops.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		callCtx, cancel := context.WithTimeout(ctx, pageCallTimeout)
		active, err := m.opts.Page.NoticeActive(callCtx)
		cancel()
		if err != nil || active {
			continue
		}
		m.log.Info("blocked notice removed, re-applying")
		m.applyNotice(ctx, m.opts.Page)
	}
}

// stopHealLocked cancels the self-heal loop. m.mu must be held.
func (m *Monitor) stopHealLocked() {
	if m.healCancel != nil {
		m.healCancel()
		m.healCancel = nil
	}
}
