package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/fakeyudi/proctor/internal/analyzer"
	"github.com/fakeyudi/proctor/internal/config"
	"github.com/fakeyudi/proctor/internal/incident"
)

// --- fakes -------------------------------------------------------------------

type fakeCollector struct {
	mu         sync.Mutex
	reports    []incident.Report
	heartbeats []incident.Heartbeat
	removed    []string
	err        error
}

func (f *fakeCollector) ReportIncident(ctx context.Context, r incident.Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
	return f.err
}

func (f *fakeCollector) Heartbeat(ctx context.Context, hb incident.Heartbeat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats = append(f.heartbeats, hb)
	return f.err
}

func (f *fakeCollector) NotifyRemoved(ctx context.Context, studentID, examID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, f.RemovedURL(studentID, examID))
	return f.err
}

func (f *fakeCollector) RemovedURL(studentID, examID string) string {
	return "fake://removed?studentId=" + studentID + "&examId=" + examID
}

func (f *fakeCollector) count(t incident.Type) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.reports {
		if r.IncidentType == string(t) {
			n++
		}
	}
	return n
}

func (f *fakeCollector) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reports) + len(f.heartbeats)
}

func (f *fakeCollector) last(t incident.Type) (incident.Report, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.reports) - 1; i >= 0; i-- {
		if f.reports[i].IncidentType == string(t) {
			return f.reports[i], true
		}
	}
	return incident.Report{}, false
}

type fakePage struct {
	mu      sync.Mutex
	halts   int
	notices int
	guards  int
	active  bool
}

func (p *fakePage) Halt(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.halts++
	return nil
}

func (p *fakePage) ShowNotice(ctx context.Context, n Notice) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notices++
	p.active = true
	return nil
}

func (p *fakePage) InstallGuards(ctx context.Context, g Guards) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.guards++
	return nil
}

func (p *fakePage) NoticeActive(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active, nil
}

func (p *fakePage) removeNotice() {
	p.mu.Lock()
	p.active = false
	p.mu.Unlock()
}

func (p *fakePage) noticeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.notices
}

type fakeSurface struct {
	mu   sync.Mutex
	text string
	err  error
}

func (s *fakeSurface) Snapshot(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text, s.err
}

func (s *fakeSurface) set(text string) {
	s.mu.Lock()
	s.text = text
	s.mu.Unlock()
}

type fakeShots struct {
	png []byte
	err error
}

func (f fakeShots) Capture(ctx context.Context) ([]byte, error) { return f.png, f.err }

type countingAnalyzer struct {
	mu      sync.Mutex
	calls   int
	verdict analyzer.Verdict
}

func (a *countingAnalyzer) Classify(ctx context.Context, text string) (analyzer.Verdict, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.verdict, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock { return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memRecorder struct {
	mu       sync.Mutex
	attempts []incident.Attempt
}

func (r *memRecorder) Record(ctx context.Context, a incident.Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
	return nil
}

// --- helpers -----------------------------------------------------------------

// quietConfig returns defaults with loops slowed down so only explicit
// calls produce activity.
func quietConfig() config.Config {
	cfg := config.Defaults()
	cfg.HeartbeatInterval = config.Duration(time.Hour)
	cfg.BlockCheckInterval = config.Duration(time.Hour)
	cfg.CodeSampleInterval = config.Duration(time.Hour)
	cfg.SelfHealInterval = config.Duration(time.Hour)
	cfg.Screenshots = config.ScreenshotsOff
	return cfg
}

// drain waits for every dispatched report and page replacement.
func (m *Monitor) drain() { m.inflight.Wait() }

func startMonitor(t require.TestingT, cfg config.Config, opts Options) *Monitor {
	m := New(cfg, opts)
	require.NoError(t, m.Start(context.Background(), "student-1", "exam-1"))
	return m
}

var behaviouralTypes = []incident.Type{
	incident.CopyPaste, incident.TabSwitch, incident.BlockedSite, incident.NLPSuspicious,
}

// --- properties --------------------------------------------------------------

// Feature: proctor, Property 1: two reports of one type closer than its
// cooldown window produce exactly one send.
func TestCooldownAdmitsOnePerWindow(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		typ := rapid.SampledFrom(behaviouralTypes).Draw(rt, "type")
		window := time.Duration(rapid.IntRange(1, 120).Draw(rt, "window_s")) * time.Second
		gap := time.Duration(rapid.Int64Range(0, int64(window)-1).Draw(rt, "gap_ns"))

		cfg := quietConfig()
		cfg.Cooldowns[string(typ)] = config.Duration(window)
		clock := newClock()
		col := &fakeCollector{}
		m := startMonitor(rt, cfg, Options{Collector: col, Now: clock.Now})
		defer m.Stop(context.Background())

		first := m.Report(typ, "first", "")
		clock.Advance(gap)
		second := m.Report(typ, "second", "")
		m.drain()

		assert.True(rt, first)
		assert.False(rt, second)
		assert.Equal(rt, 1, col.count(typ))
	})
}

func TestCooldownReopensAfterWindow(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		typ := rapid.SampledFrom(behaviouralTypes).Draw(rt, "type")
		window := time.Duration(rapid.IntRange(1, 120).Draw(rt, "window_s")) * time.Second
		extra := time.Duration(rapid.Int64Range(0, int64(time.Hour)).Draw(rt, "extra_ns"))

		cfg := quietConfig()
		cfg.Cooldowns[string(typ)] = config.Duration(window)
		clock := newClock()
		col := &fakeCollector{}
		m := startMonitor(rt, cfg, Options{Collector: col, Now: clock.Now})
		defer m.Stop(context.Background())

		m.Report(typ, "first", "")
		clock.Advance(window + extra)
		m.Report(typ, "second", "")
		m.drain()

		assert.Equal(rt, 2, col.count(typ))
	})
}

// Feature: proctor, Property 2: a clipboard event no longer than the minimum
// never produces a report.
func TestShortClipboardNeverReports(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		cfg := quietConfig()
		text := rapid.StringN(0, cfg.MinPasteLength, -1).Draw(rt, "text")
		kind := rapid.SampledFrom([]SignalKind{SignalPaste, SignalCopy, SignalCut}).Draw(rt, "kind")

		col := &fakeCollector{}
		m := startMonitor(rt, cfg, Options{Collector: col})
		defer m.Stop(context.Background())

		m.HandleClipboard(kind, text)
		m.drain()
		assert.Zero(rt, col.count(incident.CopyPaste))

		_, ok := Rules{MinPasteLength: cfg.MinPasteLength}.Classify(Signal{Kind: kind, Text: text})
		assert.False(rt, ok)
	})
}

// Feature: proctor, Property 3: the analyzer runs exactly once per sampling
// tick on which enough lines were appended without a recent paste.
func TestAnalyzerInvokedOncePerQualifyingTick(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		cfg := quietConfig()
		appends := rapid.SliceOfN(rapid.IntRange(0, 12), 1, 8).Draw(rt, "appends")

		clock := newClock()
		surface := &fakeSurface{text: "package main"}
		an := &countingAnalyzer{}
		m := startMonitor(rt, cfg, Options{
			Collector: &fakeCollector{},
			Surface:   surface,
			Analyzer:  an,
			Now:       clock.Now,
		})
		defer m.Stop(context.Background())

		ctx := context.Background()
		m.sampleCode(ctx) // baseline
		lines := []string{"package main"}
		want := 0
		for i, n := range appends {
			for j := 0; j < n; j++ {
				lines = append(lines, fmt.Sprintf("x%d_%d := %d", i, j, j))
			}
			surface.set(strings.Join(lines, "\n"))
			m.sampleCode(ctx)
			if n > cfg.MinAddedLines {
				want++
			}
		}
		m.drain()
		assert.Equal(rt, want, an.calls)
	})
}

func TestRecentPasteSuppressesAnalyzer(t *testing.T) {
	cfg := quietConfig()
	clock := newClock()
	surface := &fakeSurface{text: "a"}
	an := &countingAnalyzer{}
	m := startMonitor(t, cfg, Options{Collector: &fakeCollector{}, Surface: surface, Analyzer: an, Now: clock.Now})
	defer m.Stop(context.Background())
	ctx := context.Background()

	m.sampleCode(ctx)
	m.HandleClipboard(SignalPaste, "x")
	clock.Advance(cfg.MinPasteGap.Std())
	surface.set("a\n1\n2\n3\n4\n5\n6\n7")
	m.sampleCode(ctx)
	assert.Zero(t, an.calls, "gap not exceeded")

	clock.Advance(time.Millisecond)
	surface.set("a\n1\n2\n3\n4\n5\n6\n7\n8\n9\n10\n11\n12\n13")
	m.sampleCode(ctx)
	assert.Equal(t, 1, an.calls)
}

func TestSuspiciousCodeReportsNLP(t *testing.T) {
	cfg := quietConfig()
	surface := &fakeSurface{text: "a"}
	an := &countingAnalyzer{verdict: analyzer.Verdict{Suspicious: true, Reasons: []string{"Step-by-step comments"}}}
	col := &fakeCollector{}
	m := startMonitor(t, cfg, Options{Collector: col, Surface: surface, Analyzer: an})
	defer m.Stop(context.Background())

	m.sampleCode(context.Background())
	surface.set("a\n1\n2\n3\n4\n5\n6")
	m.sampleCode(context.Background())
	m.drain()

	r, ok := col.last(incident.NLPSuspicious)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(r.Details, "Suspicious code pattern detected (Step-by-step comments): 1\n2"))
}

func TestMissingSurfaceDisablesSampling(t *testing.T) {
	an := &countingAnalyzer{}
	surface := &fakeSurface{err: ErrNoSurface}
	m := startMonitor(t, quietConfig(), Options{Collector: &fakeCollector{}, Surface: surface, Analyzer: an})
	defer m.Stop(context.Background())

	m.sampleCode(context.Background())
	m.sampleCode(context.Background())
	assert.Zero(t, an.calls)
	assert.False(t, m.haveSnapshot)
}

type sourcedSurface struct {
	fakeSurface
	source string
}

func (s *sourcedSurface) SnapshotFrom(ctx context.Context) (string, string, error) {
	text, err := s.Snapshot(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	return text, s.source, err
}

func starterCode(n int) string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("line_%d = %d", i, i)
	}
	return strings.Join(lines, "\n")
}

func TestNavigationDropsCodeBaseline(t *testing.T) {
	surface := &fakeSurface{text: "x := 1"}
	an := &countingAnalyzer{}
	m := startMonitor(t, quietConfig(), Options{Collector: &fakeCollector{}, Surface: surface, Analyzer: an})
	defer m.Stop(context.Background())
	ctx := context.Background()

	m.HandleNavigation("https://exam.example.com/q1")
	m.sampleCode(ctx)
	m.HandleNavigation("https://exam.example.com/q2")
	surface.set(starterCode(30))
	m.sampleCode(ctx)
	m.drain()
	assert.Zero(t, an.calls, "starter code of a freshly loaded page")

	surface.set(starterCode(40))
	m.sampleCode(ctx)
	assert.Equal(t, 1, an.calls)
}

func TestSameURLKeepsCodeBaseline(t *testing.T) {
	surface := &fakeSurface{text: "x := 1"}
	an := &countingAnalyzer{}
	m := startMonitor(t, quietConfig(), Options{Collector: &fakeCollector{}, Surface: surface, Analyzer: an})
	defer m.Stop(context.Background())
	ctx := context.Background()

	m.HandleNavigation("https://exam.example.com/q1")
	m.sampleCode(ctx)
	m.HandleNavigation("https://exam.example.com/q1")
	surface.set(starterCode(30))
	m.sampleCode(ctx)
	assert.Equal(t, 1, an.calls)
}

func TestAttachDropsCodeBaseline(t *testing.T) {
	surface := &fakeSurface{text: "x := 1"}
	an := &countingAnalyzer{}
	m := startMonitor(t, quietConfig(), Options{Collector: &fakeCollector{}, Surface: surface, Analyzer: an})
	defer m.Stop(context.Background())
	ctx := context.Background()

	m.sampleCode(ctx)
	m.Handle(Signal{Kind: SignalAttach})
	surface.set(starterCode(30))
	m.sampleCode(ctx)
	assert.Zero(t, an.calls)
	assert.True(t, m.haveSnapshot)
}

func TestSurfaceSourceChangeDropsCodeBaseline(t *testing.T) {
	surface := &sourcedSurface{fakeSurface: fakeSurface{text: "x := 1"}, source: "editor"}
	an := &countingAnalyzer{}
	m := startMonitor(t, quietConfig(), Options{Collector: &fakeCollector{}, Surface: surface, Analyzer: an})
	defer m.Stop(context.Background())
	ctx := context.Background()

	m.sampleCode(ctx)
	surface.mu.Lock()
	surface.text, surface.source = starterCode(30), "file"
	surface.mu.Unlock()
	m.sampleCode(ctx)
	assert.Zero(t, an.calls, "file content diffed against editor content")

	surface.set(starterCode(40))
	m.sampleCode(ctx)
	assert.Equal(t, 1, an.calls)
}

// Feature: proctor, Property 4: a blocklisted address triggers exactly one
// page replacement and at most one blocked_site report.
func TestBlockedSiteReplacesOnce(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		entry := rapid.SampledFrom(config.DefaultBlocklist).Draw(rt, "entry")
		visits := rapid.IntRange(1, 5).Draw(rt, "visits")
		rawURL := "https://" + entry + "/c/123"

		col := &fakeCollector{}
		page := &fakePage{active: false}
		m := startMonitor(rt, quietConfig(), Options{Collector: col, Page: page})
		defer m.Stop(context.Background())

		for i := 0; i < visits; i++ {
			m.HandleNavigation(rawURL)
			m.checkBlocked()
		}
		m.drain()

		assert.Equal(rt, 1, page.noticeCount())
		assert.Equal(rt, 1, col.count(incident.BlockedSite))
	})
}

// Feature: proctor, Property 5: once Stop returns no timer produces a report.
func TestNoReportsAfterStop(t *testing.T) {
	cfg := quietConfig()
	cfg.HeartbeatInterval = config.Duration(2 * time.Millisecond)
	cfg.BlockCheckInterval = config.Duration(2 * time.Millisecond)
	cfg.CodeSampleInterval = config.Duration(2 * time.Millisecond)
	cfg.SelfHealInterval = config.Duration(2 * time.Millisecond)
	cfg.Cooldowns = map[string]config.Duration{}
	cfg.DefaultCooldown = 0

	col := &fakeCollector{}
	page := &fakePage{}
	surface := &fakeSurface{text: "a"}
	an := &countingAnalyzer{verdict: analyzer.Verdict{Suspicious: true, Reasons: []string{"r"}}}
	m := startMonitor(t, cfg, Options{Collector: col, Page: page, Surface: surface, Analyzer: an})

	m.HandleNavigation("https://chat.openai.com/")
	require.Eventually(t, func() bool {
		col.mu.Lock()
		defer col.mu.Unlock()
		return len(col.heartbeats) > 0
	}, time.Second, time.Millisecond)

	m.Stop(context.Background())
	after := col.total()

	time.Sleep(30 * time.Millisecond)
	ctx := context.Background()
	m.heartbeat(ctx)
	m.checkBlocked()
	m.sampleCode(ctx)
	m.HandleClipboard(SignalPaste, strings.Repeat("p", 50))
	m.HandleFocus(false)
	m.HandleVisibility(true)
	assert.False(t, m.Report(incident.TabSwitch, "late", ""))
	m.drain()

	assert.Equal(t, after, col.total())
	assert.False(t, m.Monitoring())
}

// --- lifecycle ---------------------------------------------------------------

func TestStartValidation(t *testing.T) {
	m := New(quietConfig(), Options{Collector: &fakeCollector{}})
	assert.ErrorIs(t, m.Start(context.Background(), "", "exam"), ErrInvalidSession)
	assert.ErrorIs(t, m.Start(context.Background(), "student", ""), ErrInvalidSession)

	require.NoError(t, m.Start(context.Background(), "student", "exam"))
	defer m.Stop(context.Background())
	assert.ErrorIs(t, m.Start(context.Background(), "student", "exam"), ErrAlreadyMonitoring)
}

func TestLifecycleReports(t *testing.T) {
	col := &fakeCollector{}
	m := startMonitor(t, quietConfig(), Options{Collector: col})
	m.drain()
	assert.Equal(t, 1, col.count(incident.ExtensionStarted))

	sid, eid, ok := m.Session()
	assert.True(t, ok)
	assert.Equal(t, "student-1", sid)
	assert.Equal(t, "exam-1", eid)

	m.Stop(context.Background())
	assert.Equal(t, 1, col.count(incident.ExtensionStopped))
	_, _, ok = m.Session()
	assert.False(t, ok)

	// Stopping while idle is a no-op.
	m.Stop(context.Background())
	assert.Equal(t, 1, col.count(incident.ExtensionStopped))
}

func TestResumeReportsReactivated(t *testing.T) {
	col := &fakeCollector{}
	m := New(quietConfig(), Options{Collector: col})
	require.NoError(t, m.Resume(context.Background(), "s", "e"))
	m.Stop(context.Background())
	assert.Equal(t, 1, col.count(incident.ExtensionReactivated))
	assert.Zero(t, col.count(incident.ExtensionStarted))
}

func TestTeardownNotifiesRemoval(t *testing.T) {
	col := &fakeCollector{}
	rec := &memRecorder{}
	m := startMonitor(t, quietConfig(), Options{Collector: col, Recorder: rec})
	m.Teardown(context.Background())

	assert.Equal(t, []string{"fake://removed?studentId=student-1&examId=exam-1"}, col.removed)
	assert.Zero(t, col.count(incident.ExtensionStopped))
	assert.False(t, m.Monitoring())

	var types []incident.Type
	for _, a := range rec.attempts {
		types = append(types, a.Event.Type)
	}
	assert.Contains(t, types, incident.ExtensionRemoved)
}

func TestRestartClearsCooldowns(t *testing.T) {
	col := &fakeCollector{}
	m := startMonitor(t, quietConfig(), Options{Collector: col})
	m.HandleFocus(false)
	m.Stop(context.Background())

	require.NoError(t, m.Start(context.Background(), "student-1", "exam-1"))
	m.HandleFocus(false)
	m.Stop(context.Background())
	assert.Equal(t, 2, col.count(incident.TabSwitch))
}

// --- reporting ---------------------------------------------------------------

func TestFailedSendIsDroppedButStillCoolsDown(t *testing.T) {
	col := &fakeCollector{err: errors.New("collector down")}
	rec := &memRecorder{}
	m := startMonitor(t, quietConfig(), Options{Collector: col, Recorder: rec})
	defer m.Stop(context.Background())

	assert.True(t, m.Report(incident.TabSwitch, "one", ""))
	assert.False(t, m.Report(incident.TabSwitch, "two", ""))
	m.drain()

	assert.Equal(t, 1, col.count(incident.TabSwitch))
	require.NotEmpty(t, rec.attempts)
	for _, a := range rec.attempts {
		assert.Error(t, a.Err)
	}
}

func TestScreenshotPolicy(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}

	cfg := quietConfig()
	cfg.Screenshots = config.ScreenshotsHigh
	col := &fakeCollector{}
	m := startMonitor(t, cfg, Options{Collector: col, Screenshotter: fakeShots{png: png}})
	m.Report(incident.TabSwitch, "low", "")
	m.Report(incident.BlockedSite, "high", "https://claude.ai/")
	m.drain()
	m.Stop(context.Background())

	low, _ := col.last(incident.TabSwitch)
	high, _ := col.last(incident.BlockedSite)
	assert.Empty(t, low.Screenshot)
	assert.Equal(t, incident.DataURL(png), high.Screenshot)
	assert.Equal(t, "https://claude.ai/", high.URL)
}

func TestScreenshotFailureDegradesReport(t *testing.T) {
	cfg := quietConfig()
	cfg.Screenshots = config.ScreenshotsAll
	col := &fakeCollector{}
	m := startMonitor(t, cfg, Options{Collector: col, Screenshotter: fakeShots{err: errors.New("denied")}})
	defer m.Stop(context.Background())

	m.Report(incident.TabSwitch, "x", "")
	m.drain()
	r, ok := col.last(incident.TabSwitch)
	require.True(t, ok)
	assert.Empty(t, r.Screenshot)
}

func TestClipboardDetails(t *testing.T) {
	cfg := quietConfig()
	col := &fakeCollector{}
	m := startMonitor(t, cfg, Options{Collector: col})
	defer m.Stop(context.Background())

	long := strings.Repeat("z", 250)
	m.HandleClipboard(SignalCut, long)
	m.drain()
	r, ok := col.last(incident.CopyPaste)
	require.True(t, ok)
	assert.Equal(t, "Cut: "+strings.Repeat("z", 200)+"...", r.Details)
}

func TestFocusAndVisibilityShareTabSwitchCooldown(t *testing.T) {
	col := &fakeCollector{}
	m := startMonitor(t, quietConfig(), Options{Collector: col})
	defer m.Stop(context.Background())

	m.HandleFocus(true)
	m.HandleVisibility(false)
	m.drain()
	assert.Zero(t, col.count(incident.TabSwitch))

	m.HandleFocus(false)
	m.HandleVisibility(true)
	m.drain()
	assert.Equal(t, 1, col.count(incident.TabSwitch))
}

func TestMarkersBlockUnlistedPage(t *testing.T) {
	col := &fakeCollector{}
	page := &fakePage{}
	m := startMonitor(t, quietConfig(), Options{Collector: col, Page: page})
	defer m.Stop(context.Background())

	m.HandleNavigation("https://example.com/notes")
	m.drain()
	assert.Zero(t, page.noticeCount())

	m.Handle(Signal{Kind: SignalMutation, URL: "https://example.com/notes", Markers: []string{"sidebar", "ChatGPT-Widget"}})
	m.drain()
	assert.Equal(t, 1, page.noticeCount())
	assert.Equal(t, 1, col.count(incident.BlockedSite))
}

func TestMarkersBlockPageWithoutURL(t *testing.T) {
	col := &fakeCollector{}
	page := &fakePage{}
	m := startMonitor(t, quietConfig(), Options{Collector: col, Page: page})
	defer m.Stop(context.Background())

	m.Handle(Signal{Kind: SignalMutation, Markers: []string{"claude-chat-panel"}})
	m.drain()
	m.checkBlocked()
	m.drain()
	assert.Equal(t, 1, page.noticeCount())
	assert.Equal(t, 1, col.count(incident.BlockedSite))

	r, ok := col.last(incident.BlockedSite)
	require.True(t, ok)
	assert.Contains(t, r.Details, "embedded in the current page")
}

func TestSelfHealReappliesNotice(t *testing.T) {
	cfg := quietConfig()
	cfg.SelfHealInterval = config.Duration(2 * time.Millisecond)
	page := &fakePage{}
	m := startMonitor(t, cfg, Options{Collector: &fakeCollector{}, Page: page})
	defer m.Stop(context.Background())

	m.HandleNavigation("https://claude.ai/new")
	m.drain()
	require.Equal(t, 1, page.noticeCount())

	page.removeNotice()
	require.Eventually(t, func() bool { return page.noticeCount() >= 2 }, time.Second, time.Millisecond)
	active, _ := page.NoticeActive(context.Background())
	assert.True(t, active)
}

func TestSetConfigUpdatesBlocklist(t *testing.T) {
	col := &fakeCollector{}
	m := startMonitor(t, quietConfig(), Options{Collector: col})
	defer m.Stop(context.Background())

	cfg := quietConfig()
	cfg.Blocklist = []string{"forbidden.test"}
	m.SetConfig(cfg)
	m.HandleNavigation("https://forbidden.test/")
	m.drain()
	assert.Equal(t, 1, col.count(incident.BlockedSite))
}

// --- pure helpers ------------------------------------------------------------

func TestAddedLines(t *testing.T) {
	assert.Equal(t, []string{"c", "d"}, AddedLines("a\nb", "a\nb\nc\nd"))
	assert.Equal(t, []string{"B", "c"}, AddedLines("a\nb", "a\nB\nc"))
	assert.Nil(t, AddedLines("a\nb", "a\nc"))
	assert.Nil(t, AddedLines("a\nb\nc", "a"))
}

func TestAddedLinesAppendProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		base := rapid.SliceOfN(rapid.StringMatching(`[a-z ]{0,8}`), 1, 10).Draw(rt, "base")
		extra := rapid.SliceOfN(rapid.StringMatching(`[a-z ]{0,8}`), 1, 10).Draw(rt, "extra")
		got := AddedLines(strings.Join(base, "\n"), strings.Join(append(append([]string(nil), base...), extra...), "\n"))
		assert.Equal(rt, extra, got)
	})
}

func TestBlocklistMatch(t *testing.T) {
	b := NewBlocklist([]string{" Chat.OpenAI.com ", "", "poe.com", "gpt-4"})
	cases := []struct {
		url   string
		entry string
		ok    bool
	}{
		{"https://chat.openai.com/", "chat.openai.com", true},
		{"https://CHAT.openai.com/c/1", "chat.openai.com", true},
		{"https://poe.com", "poe.com", true},
		{"https://example.com/gpt-4/playground", "gpt-4", true},
		{"https://example.com/?q=poe.com", "", false},
		{"https://example.com/", "", false},
	}
	for _, tc := range cases {
		entry, ok := b.Match(tc.url)
		assert.Equal(t, tc.ok, ok, tc.url)
		assert.Equal(t, tc.entry, entry, tc.url)
	}
}

func TestClassify(t *testing.T) {
	r := Rules{MinPasteLength: 10, Blocklist: NewBlocklist([]string{"claude.ai"}), Markers: []string{"gemini"}}
	cases := []struct {
		sig  Signal
		want incident.Type
		ok   bool
	}{
		{Signal{Kind: SignalPaste, Text: "0123456789"}, "", false},
		{Signal{Kind: SignalPaste, Text: "0123456789a"}, incident.CopyPaste, true},
		{Signal{Kind: SignalCopy, Text: "0123456789a"}, incident.CopyPaste, true},
		{Signal{Kind: SignalBlur}, incident.TabSwitch, true},
		{Signal{Kind: SignalFocus}, "", false},
		{Signal{Kind: SignalVisibility, Hidden: true}, incident.TabSwitch, true},
		{Signal{Kind: SignalVisibility}, "", false},
		{Signal{Kind: SignalNavigate, URL: "https://claude.ai/chat"}, incident.BlockedSite, true},
		{Signal{Kind: SignalMutation, URL: "https://x.test/", Markers: []string{"gemini-panel"}}, incident.BlockedSite, true},
		{Signal{Kind: SignalNavigate, URL: "https://x.test/"}, "", false},
	}
	for _, tc := range cases {
		got, ok := r.Classify(tc.sig)
		assert.Equal(t, tc.ok, ok, "%+v", tc.sig)
		assert.Equal(t, tc.want, got, "%+v", tc.sig)
	}
}
