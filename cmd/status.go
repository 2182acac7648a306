package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/proctor/internal/incident"
	"github.com/fakeyudi/proctor/internal/journal"
	"github.com/fakeyudi/proctor/internal/session"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current exam session status",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := session.NewSessionStore()
		if err != nil {
			return err
		}

		s, err := store.Load()
		if errors.Is(err, session.ErrNoSession) || (err == nil && !s.Active) {
			cmd.Println("no active session")
			return nil
		}
		if err != nil {
			return err
		}

		cmd.Printf("Student: %s\n", s.StudentID)
		cmd.Printf("Exam: %s\n", s.ExamID)
		cmd.Printf("Started: %s\n", s.StartTime.Format(time.RFC3339))
		cmd.Printf("Duration: %s\n", time.Since(s.StartTime).Round(time.Second).String())
		if s.CollectorURL != "" {
			cmd.Printf("Collector: %s\n", s.CollectorURL)
		}

		addr := s.BridgeAddr
		if addr == "" {
			addr = GetConfig().BridgeAddr
		}
		running, page := probeAgent(cmd.Context(), addr)
		switch {
		case !running:
			cmd.Println("Agent: not running (run 'proctor start' to resume)")
		case page:
			cmd.Println("Agent: running, page connected")
		default:
			cmd.Println("Agent: running, no page connected")
		}

		jpath, err := journalPath()
		if err != nil {
			return err
		}
		jr, err := journal.Open(jpath)
		if err != nil {
			return err
		}
		defer jr.Close()
		counts, err := jr.Counts(cmd.Context(), s.ID)
		if err != nil {
			return err
		}

		var total journal.Tally
		for _, t := range incident.Types() {
			c, ok := counts[t]
			if !ok {
				continue
			}
			total.Sent += c.Sent
			total.Failed += c.Failed
			cmd.Printf("  %-22s %d sent, %d failed\n", t, c.Sent, c.Failed)
		}
		cmd.Printf("Reports sent: %d\n", total.Sent)
		cmd.Printf("Reports failed: %d\n", total.Failed)
		return nil
	},
}

// probeAgent asks the local bridge whether an agent is serving and whether a
// page is attached to it.
func probeAgent(ctx context.Context, addr string) (running, pageConnected bool) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/healthz", nil)
	if err != nil {
		return false, false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false, false
	}
	defer resp.Body.Close()
	var body struct {
		Status        string `json:"status"`
		PageConnected bool   `json:"page_connected"`
	}
	if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&body) != nil {
		return false, false
	}
	return body.Status == "ok", body.PageConnected
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
