package monitor

import (
	"unicode/utf8"

	"github.com/fakeyudi/proctor/internal/incident"
)

// SignalKind names a raw page observation.
type SignalKind string

const (
	SignalPaste      SignalKind = "paste"
	SignalCopy       SignalKind = "copy"
	SignalCut        SignalKind = "cut"
	SignalFocus      SignalKind = "focus"
	SignalBlur       SignalKind = "blur"
	SignalVisibility SignalKind = "visibility"
	SignalNavigate   SignalKind = "navigate"
	SignalMutation   SignalKind = "mutation"
	// SignalAttach is raised by the transport when a new page connection
	// replaces the previous one.
	SignalAttach SignalKind = "attach"
)

// Signal is one raw observation from the page.
type Signal struct {
	Kind    SignalKind
	Text    string   // clipboard text
	Hidden  bool     // visibility: page became hidden
	URL     string   // navigate, mutation: current page address
	Markers []string // mutation: class/id/aria fragments found on the page
}

// Rules holds the thresholds classification depends on.
type Rules struct {
	MinPasteLength int
	Blocklist      Blocklist
	Markers        []string
}

// Classify maps s to an incident type. ok is false when s is not an incident.
func (r Rules) Classify(s Signal) (t incident.Type, ok bool) {
	switch s.Kind {
	case SignalPaste, SignalCopy, SignalCut:
		if utf8.RuneCountInString(s.Text) > r.MinPasteLength {
			return incident.CopyPaste, true
		}
	case SignalBlur:
		return incident.TabSwitch, true
	case SignalVisibility:
		if s.Hidden {
			return incident.TabSwitch, true
		}
	case SignalNavigate, SignalMutation:
		if _, hit := r.Blocklist.Match(s.URL); hit || MatchMarkers(s.Markers, r.Markers) {
			return incident.BlockedSite, true
		}
	}
	return "", false
}

var clipboardVerb = map[SignalKind]string{
	SignalPaste: "Pasted",
	SignalCopy:  "Copied",
	SignalCut:   "Cut",
}

// Handle routes s to the matching handler.
func (m *Monitor) Handle(s Signal) {
	switch s.Kind {
	case SignalPaste, SignalCopy, SignalCut:
		m.HandleClipboard(s.Kind, s.Text)
	case SignalFocus:
		m.HandleFocus(true)
	case SignalBlur:
		m.HandleFocus(false)
	case SignalVisibility:
		m.HandleVisibility(s.Hidden)
	case SignalNavigate:
		m.HandleNavigation(s.URL)
	case SignalMutation:
		if s.URL != "" {
			m.HandleNavigation(s.URL)
		}
		m.HandleMutation(s.Markers)
	case SignalAttach:
		m.HandleAttach()
	}
}

// HandleClipboard handles a paste, copy or cut of text.
func (m *Monitor) HandleClipboard(kind SignalKind, text string) {
	m.mu.Lock()
	if m.state != stateMonitoring {
		m.mu.Unlock()
		return
	}
	if kind == SignalPaste {
		m.lastPaste = m.now()
	}
	rules := m.rulesLocked()
	pageURL := m.pageURL
	m.mu.Unlock()

	t, ok := rules.Classify(Signal{Kind: kind, Text: text})
	if !ok {
		return
	}
	m.Report(t, clipboardVerb[kind]+": "+incident.TruncateDetails(text), pageURL)
}

// HandleFocus handles the monitored window gaining or losing focus.
func (m *Monitor) HandleFocus(focused bool) {
	if focused {
		return
	}
	m.Report(incident.TabSwitch, "Student switched to another application", m.currentURL())
}

// HandleVisibility handles a page visibility transition.
func (m *Monitor) HandleVisibility(hidden bool) {
	if !hidden {
		return
	}
	m.Report(incident.TabSwitch, "Tab or window switch detected", m.currentURL())
}

// HandleNavigation records the current page address and checks it.
func (m *Monitor) HandleNavigation(rawURL string) {
	m.mu.Lock()
	if m.state != stateMonitoring {
		m.mu.Unlock()
		return
	}
	if rawURL != m.pageURL {
		m.pageURL = rawURL
		m.markers = nil
		m.replacedURL = ""
		m.stopHealLocked()
		m.dropSnapshotLocked()
	}
	m.mu.Unlock()
	m.checkBlocked()
}

// HandleAttach handles a new page connection. The code baseline belongs to
// the previous page and is dropped.
func (m *Monitor) HandleAttach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != stateMonitoring {
		return
	}
	m.dropSnapshotLocked()
}

// HandleMutation records markers found on the current page and checks it.
func (m *Monitor) HandleMutation(markers []string) {
	m.mu.Lock()
	if m.state != stateMonitoring {
		m.mu.Unlock()
		return
	}
	m.markers = append([]string(nil), markers...)
	m.mu.Unlock()
	m.checkBlocked()
}

// checkBlocked replaces the current page if it is blocked and has not been
// replaced yet.
func (m *Monitor) checkBlocked() {
	m.mu.Lock()
	if m.state != stateMonitoring {
		m.mu.Unlock()
		return
	}
	pageURL := m.pageURL
	sig := Signal{Kind: SignalNavigate, URL: pageURL, Markers: m.markers}
	if _, blocked := m.rulesLocked().Classify(sig); !blocked || m.replacedURL == pageKey(pageURL) {
		m.mu.Unlock()
		return
	}
	m.replacedURL = pageKey(pageURL)
	ctx := m.loopCtx
	m.inflight.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.inflight.Done()
		m.replacePage(ctx, pageURL)
	}()
}

// unknownPage keys replacement of a page whose address was never reported.
const unknownPage = "about:unknown"

func pageKey(pageURL string) string {
	if pageURL == "" {
		return unknownPage
	}
	return pageURL
}

func (m *Monitor) currentURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pageURL
}

// rulesLocked builds classification rules from the live config. m.mu must be held.
func (m *Monitor) rulesLocked() Rules {
	return Rules{
		MinPasteLength: m.cfg.MinPasteLength,
		Blocklist:      m.blocklist,
		Markers:        m.cfg.ElementMarkers,
	}
}
