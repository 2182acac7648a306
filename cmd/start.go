package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fakeyudi/proctor/internal/analyzer"
	"github.com/fakeyudi/proctor/internal/bridge"
	"github.com/fakeyudi/proctor/internal/collector"
	"github.com/fakeyudi/proctor/internal/config"
	"github.com/fakeyudi/proctor/internal/journal"
	"github.com/fakeyudi/proctor/internal/monitor"
	"github.com/fakeyudi/proctor/internal/session"
	"github.com/fakeyudi/proctor/internal/summary"
	"github.com/fakeyudi/proctor/internal/surface"
)

var (
	startStudent string
	startExam    string
	startSurface string
	startAddr    string
	startFormat  string
	startOutput  string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Begin monitoring an exam session (runs in the foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if startAddr != "" {
			cfg.BridgeAddr = startAddr
		}
		if startFormat != "" {
			cfg.DefaultFormat = startFormat
		}
		if startOutput != "" {
			cfg.OutputDir = startOutput
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if _, err := summary.RendererFor(cfg.DefaultFormat); err != nil {
			return err
		}

		studentID := startStudent
		if studentID == "" && GetProfile() != nil {
			studentID = GetProfile().StudentID
		}

		store, err := session.NewSessionStore()
		if err != nil {
			return err
		}
		s, resume, err := claimSession(store, studentID, startExam)
		if err != nil {
			return err
		}
		s.CollectorURL = cfg.CollectorURL
		s.SurfacePath = startSurface
		s.BridgeAddr = cfg.BridgeAddr
		if s.ShimToken == "" {
			s.ShimToken = uuid.NewString()
		}

		return runAgent(cmd, cfg, store, s, resume)
	},
}

// claimSession returns the session to run. A persisted active session for the
// same student and exam is resumed; any other active session is an error.
func claimSession(store session.SessionStore, studentID, examID string) (*session.Session, bool, error) {
	existing, err := store.Load()
	if err != nil && !errors.Is(err, session.ErrNoSession) {
		return nil, false, err
	}
	if existing != nil && existing.Active {
		if (studentID == "" || studentID == existing.StudentID) && (examID == "" || examID == existing.ExamID) {
			return existing, true, nil
		}
		return nil, false, fmt.Errorf("session already in progress for exam %s (started at %s); run 'proctor stop' first",
			existing.ExamID, existing.StartTime.Format(time.RFC3339))
	}
	if studentID == "" {
		return nil, false, errors.New("no student id: pass --student or run 'proctor setup'")
	}
	if examID == "" {
		return nil, false, errors.New("no exam id: pass --exam")
	}
	return session.New(studentID, examID, time.Now()), false, nil
}

// runAgent wires the monitor to its collaborators and runs until the session
// is stopped from another process, a signal arrives, or a component fails.
func runAgent(cmd *cobra.Command, cfg config.Config, store session.SessionStore, s *session.Session, resume bool) error {
	log := logger.With(zap.String("session_id", s.ID))

	jpath, err := journalPath()
	if err != nil {
		return err
	}
	jr, err := journal.Open(jpath)
	if err != nil {
		return err
	}
	defer jr.Close()

	col := collector.NewHTTPCollector(cfg.CollectorURL, collector.DefaultTimeout)
	br := bridge.New(bridge.Options{
		Logger:         log.Named("bridge"),
		Token:          s.ShimToken,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	var surf monitor.Surface = br
	if s.SurfacePath != "" {
		surf = surface.Fallback{br, surface.File{Path: s.SurfacePath}}
	}
	m := monitor.New(cfg, monitor.Options{
		Collector:     col,
		Page:          br,
		Surface:       surf,
		Screenshotter: br,
		Analyzer:      analyzer.NewPipeline(log.Named("analyzer")),
		Recorder:      jr.ForSession(s.ID),
		Logger:        log.Named("monitor"),
	})
	br.SetHandler(m)

	sigCtx, stopSignals := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	if resume {
		err = m.Resume(sigCtx, s.StudentID, s.ExamID)
	} else {
		err = m.Start(sigCtx, s.StudentID, s.ExamID)
	}
	if err != nil {
		return err
	}
	if err := store.Save(s); err != nil {
		m.Teardown(context.Background())
		return err
	}
	verb := "started"
	if resume {
		verb = "resumed"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Monitoring %s for %s on exam %s. Shim endpoint: ws://%s/ws?token=%s\n",
		verb, s.StudentID, s.ExamID, s.BridgeAddr, s.ShimToken)

	cfgPath, err := config.GlobalPath()
	if err != nil {
		m.Teardown(context.Background())
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		m.Teardown(context.Background())
		return err
	}
	watcher := config.NewWatcher(cfgPath, log.Named("config"))
	watcher.OnChange(func(next config.Config) {
		if p := GetProfile(); p != nil {
			p.Apply(&next)
			config.ApplyEnv(&next)
		}
		col.SetBaseURL(next.CollectorURL)
		m.SetConfig(next)
	})

	var stoppedByUser atomic.Bool
	g, gctx := errgroup.WithContext(sigCtx)
	runCtx, cancelRun := context.WithCancel(gctx)
	defer cancelRun()

	g.Go(func() error { return br.Serve(runCtx, s.BridgeAddr) })
	g.Go(func() error { return watcher.Run(runCtx) })
	g.Go(func() error {
		return session.Watch(runCtx, store, func() {
			stoppedByUser.Store(true)
			cancelRun()
		})
	})
	runErr := g.Wait()

	// The monitor is drained before the summary is built so every attempt
	// is already in the journal.
	endCtx := context.Background()
	now := time.Now()
	if stoppedByUser.Load() {
		m.Stop(endCtx)
		if latest, err := store.Load(); err == nil && latest.ID == s.ID && latest.StopTime != nil {
			now = *latest.StopTime
		}
		s.Deactivate(now)
	} else {
		m.Teardown(endCtx)
	}

	outPath, err := writeSummary(endCtx, cfg, jr, s, now)
	if err != nil {
		log.Warn("writing summary", zap.Error(err))
	} else {
		s.SummaryPath = outPath
		fmt.Fprintf(cmd.OutOrStdout(), "Monitoring ended. Summary: %s\n", outPath)
	}
	if err := store.Save(s); err != nil {
		log.Warn("saving session", zap.Error(err))
	}
	return runErr
}

// writeSummary renders the session summary into cfg.OutputDir.
func writeSummary(ctx context.Context, cfg config.Config, src summary.Source, s *session.Session, now time.Time) (string, error) {
	sum, err := summary.Build(ctx, src, s, now)
	if err != nil {
		return "", err
	}
	renderer, err := summary.RendererFor(cfg.DefaultFormat)
	if err != nil {
		return "", err
	}
	data, err := renderer.Render(sum)
	if err != nil {
		return "", fmt.Errorf("render summary: %w", err)
	}

	ext := ".md"
	if cfg.DefaultFormat == "json" {
		ext = ".json"
	}
	outputDir := cfg.OutputDir
	if outputDir == "" {
		outputDir = "."
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", err
	}
	outPath := filepath.Join(outputDir, "proctor-"+now.Format("20060102-150405")+ext)
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}
	return outPath, nil
}

func init() {
	startCmd.Flags().StringVar(&startStudent, "student", "", "Student id (defaults to the profile)")
	startCmd.Flags().StringVar(&startExam, "exam", "", "Exam id")
	startCmd.Flags().StringVar(&startSurface, "surface", "", "File to sample as the code surface when no page editor is available")
	startCmd.Flags().StringVar(&startAddr, "addr", "", "Shim bridge listen address (overrides config)")
	startCmd.Flags().StringVar(&startFormat, "format", "", "Summary format: markdown or json (overrides config)")
	startCmd.Flags().StringVar(&startOutput, "output", "", "Summary output directory (overrides config)")
	rootCmd.AddCommand(startCmd)
}
