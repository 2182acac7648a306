// Package monitor turns raw page signals into classified, cooldown-limited
// incident reports for one exam session at a time.
//
// A Monitor is Idle until Start (or Resume) and returns to Idle on Stop or
// Teardown. Handlers are safe to call from any goroutine and do nothing while
// Idle. Reports are fire-and-forget: a failed send is logged and dropped.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fakeyudi/proctor/internal/analyzer"
	"github.com/fakeyudi/proctor/internal/collector"
	"github.com/fakeyudi/proctor/internal/config"
	"github.com/fakeyudi/proctor/internal/incident"
)

var (
	// ErrAlreadyMonitoring is returned by Start while a session is running.
	ErrAlreadyMonitoring = errors.New("monitor: already monitoring")
	// ErrInvalidSession is returned by Start when an identifier is empty.
	ErrInvalidSession = errors.New("monitor: student and exam id are required")
)

const (
	captureTimeout = 3 * time.Second
	sendTimeout    = 10 * time.Second
)

type state int

const (
	stateIdle state = iota
	stateMonitoring
	stateStopping
)

// Options wires a Monitor to its collaborators. Only Collector is required.
type Options struct {
	Collector     collector.Collector
	Page          Page
	Surface       Surface
	Screenshotter Screenshotter
	Analyzer      analyzer.Classifier // nil means analyzer.NewPipeline
	Recorder      Recorder
	Logger        *zap.Logger
	Now           func() time.Time // nil means time.Now
}

// Monitor is the state of one browsing context's monitoring session.
type Monitor struct {
	opts     Options
	log      *zap.Logger
	analyzer analyzer.Classifier
	now      func() time.Time

	mu        sync.Mutex
	cfg       config.Config
	blocklist Blocklist
	state     state
	studentID string
	examID    string
	cooldowns cooldowns

	snapshot       string
	haveSnapshot   bool
	snapshotSource string
	snapshotGen    uint64 // bumped whenever the baseline is dropped
	lastPaste      time.Time

	pageURL     string
	markers     []string
	replacedURL string // pageKey of the page currently showing the blocked notice
	healCancel  context.CancelFunc

	loopCtx  context.Context
	cancel   context.CancelFunc
	loops    sync.WaitGroup // periodic loops and the self-heal loop
	inflight sync.WaitGroup // dispatched reports and page replacements
}

// New returns an Idle monitor.
func New(cfg config.Config, opts Options) *Monitor {
	m := &Monitor{
		opts:      opts,
		log:       opts.Logger,
		analyzer:  opts.Analyzer,
		now:       opts.Now,
		cfg:       cfg,
		blocklist: NewBlocklist(cfg.Blocklist),
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	if m.analyzer == nil {
		m.analyzer = analyzer.NewPipeline(m.log)
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// SetConfig swaps the live configuration. Running loops keep their intervals.
func (m *Monitor) SetConfig(cfg config.Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.blocklist = NewBlocklist(cfg.Blocklist)
	m.mu.Unlock()
}

// Monitoring reports whether a session is active.
func (m *Monitor) Monitoring() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == stateMonitoring
}

// Session returns the active identifiers. ok is false while Idle.
func (m *Monitor) Session() (studentID, examID string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != stateMonitoring {
		return "", "", false
	}
	return m.studentID, m.examID, true
}

// Start begins monitoring and reports extension_started.
func (m *Monitor) Start(ctx context.Context, studentID, examID string) error {
	return m.start(ctx, studentID, examID, incident.ExtensionStarted, "Exam proctoring started")
}

// Resume begins monitoring for a session that was active before the agent
// restarted and reports extension_reactivated.
func (m *Monitor) Resume(ctx context.Context, studentID, examID string) error {
	return m.start(ctx, studentID, examID, incident.ExtensionReactivated, "Exam proctoring resumed after restart")
}

func (m *Monitor) start(ctx context.Context, studentID, examID string, t incident.Type, details string) error {
	if studentID == "" || examID == "" {
		return ErrInvalidSession
	}

	m.mu.Lock()
	if m.state != stateIdle {
		m.mu.Unlock()
		return ErrAlreadyMonitoring
	}
	m.state = stateMonitoring
	m.studentID, m.examID = studentID, examID
	m.cooldowns = make(cooldowns)
	m.loopCtx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	cfg := m.cfg
	m.loops.Add(3)
	go m.every(m.loopCtx, cfg.HeartbeatInterval.Std(), m.heartbeat)
	go m.every(m.loopCtx, cfg.BlockCheckInterval.Std(), func(context.Context) { m.checkBlocked() })
	go m.every(m.loopCtx, cfg.CodeSampleInterval.Std(), m.sampleCode)
	m.mu.Unlock()

	m.log.Info("monitoring started",
		zap.String("student_id", studentID),
		zap.String("exam_id", examID),
		zap.String("teardown_url", m.opts.Collector.RemovedURL(studentID, examID)))
	m.Report(t, details, "")
	return nil
}

// Stop ends monitoring. extension_stopped is sent only if a session was
// running. When Stop returns no loop is running and no report is pending.
func (m *Monitor) Stop(ctx context.Context) {
	m.mu.Lock()
	if m.state != stateMonitoring {
		m.mu.Unlock()
		return
	}
	m.state = stateStopping
	studentID, examID := m.studentID, m.examID
	final, send, capture := m.eventLocked(incident.ExtensionStopped, "Exam proctoring stopped", "")
	m.mu.Unlock()

	m.halt()
	if send {
		m.deliver(ctx, studentID, examID, final, capture)
	}
	m.reset()
	m.log.Info("monitoring stopped", zap.String("student_id", studentID))
}

// Teardown is called when the host is going away. It fires the removal
// notice instead of extension_stopped and then shuts down like Stop.
func (m *Monitor) Teardown(ctx context.Context) {
	m.mu.Lock()
	if m.state != stateMonitoring {
		m.mu.Unlock()
		return
	}
	m.state = stateStopping
	studentID, examID := m.studentID, m.examID
	m.mu.Unlock()

	ev := incident.Event{
		ID:         uuid.NewString(),
		Type:       incident.ExtensionRemoved,
		Details:    "Monitor host torn down",
		OccurredAt: m.now(),
	}
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	err := m.opts.Collector.NotifyRemoved(sendCtx, studentID, examID)
	cancel()
	if err != nil {
		m.log.Warn("teardown notice failed", zap.Error(err))
	}
	m.record(ctx, incident.Attempt{StudentID: studentID, ExamID: examID, Event: ev, Err: err})

	m.halt()
	m.reset()
	m.log.Info("monitoring torn down", zap.String("student_id", studentID))
}

// halt cancels every loop and waits for them and for pending reports.
func (m *Monitor) halt() {
	m.mu.Lock()
	cancel := m.cancel
	m.stopHealLocked()
	m.mu.Unlock()
	cancel()
	m.loops.Wait()
	m.inflight.Wait()
}

func (m *Monitor) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = stateIdle
	m.studentID, m.examID = "", ""
	m.cooldowns = nil
	m.dropSnapshotLocked()
	m.lastPaste = time.Time{}
	m.pageURL, m.markers, m.replacedURL = "", nil, ""
	m.loopCtx, m.cancel = nil, nil
}

// Report applies the cooldown for t and, if admitted, sends the report in
// the background. It returns false when nothing was sent because the monitor
// is Idle or t is cooling down.
func (m *Monitor) Report(t incident.Type, details, pageURL string) bool {
	m.mu.Lock()
	if m.state != stateMonitoring {
		m.mu.Unlock()
		return false
	}
	ev, ok, capture := m.eventLocked(t, details, pageURL)
	if !ok {
		m.mu.Unlock()
		m.log.Debug("report suppressed by cooldown", zap.String("type", t.String()))
		return false
	}
	studentID, examID := m.studentID, m.examID
	ctx := m.loopCtx
	m.inflight.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.inflight.Done()
		m.deliver(ctx, studentID, examID, ev, capture)
	}()
	return true
}

// eventLocked runs the cooldown gate and builds the event. m.mu must be held.
func (m *Monitor) eventLocked(t incident.Type, details, pageURL string) (ev incident.Event, ok, capture bool) {
	now := m.now()
	if !m.cooldowns.admit(t, now, m.cfg.Cooldown(t)) {
		return incident.Event{}, false, false
	}
	ev = incident.Event{
		ID:         uuid.NewString(),
		Type:       t,
		Details:    details,
		URL:        pageURL,
		OccurredAt: now,
	}
	return ev, true, m.cfg.CaptureFor(t)
}

// deliver captures a screenshot if asked, sends ev and records the outcome.
func (m *Monitor) deliver(ctx context.Context, studentID, examID string, ev incident.Event, capture bool) {
	if capture && m.opts.Screenshotter != nil {
		capCtx, cancel := context.WithTimeout(ctx, captureTimeout)
		png, err := m.opts.Screenshotter.Capture(capCtx)
		cancel()
		if err != nil {
			m.log.Debug("screenshot unavailable", zap.Error(err))
		} else {
			ev.Screenshot = png
		}
	}

	// The send outlives loop cancellation so Stop can drain it.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	err := m.opts.Collector.ReportIncident(sendCtx, ev.Report(studentID, examID))
	cancel()
	if err != nil {
		m.log.Warn("incident report failed",
			zap.String("type", ev.Type.String()),
			zap.Error(err))
	} else {
		m.log.Info("incident reported", zap.String("type", ev.Type.String()))
	}
	m.record(ctx, incident.Attempt{StudentID: studentID, ExamID: examID, Event: ev, Err: err})
}

func (m *Monitor) record(ctx context.Context, a incident.Attempt) {
	if m.opts.Recorder == nil {
		return
	}
	if err := m.opts.Recorder.Record(context.WithoutCancel(ctx), a); err != nil {
		m.log.Warn("recording attempt", zap.Error(err))
	}
}

// heartbeat pings the collector with the current student id.
func (m *Monitor) heartbeat(ctx context.Context) {
	m.mu.Lock()
	if m.state != stateMonitoring {
		m.mu.Unlock()
		return
	}
	studentID := m.studentID
	m.mu.Unlock()

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := m.opts.Collector.Heartbeat(sendCtx, incident.NewHeartbeat(studentID, m.now())); err != nil {
		m.log.Warn("heartbeat failed", zap.Error(err))
	}
}

// every runs fn on each tick of interval until ctx is done.
func (m *Monitor) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer m.loops.Done()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			fn(ctx)
		}
	}
}
