package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/proctor/internal/session"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "End the current exam session",
	Long: "Marks the current session inactive. A running agent notices, reports\n" +
		"extension_stopped and writes the session summary.",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := session.NewSessionStore()
		if err != nil {
			return err
		}

		s, err := store.Load()
		if errors.Is(err, session.ErrNoSession) || (err == nil && !s.Active) {
			return fmt.Errorf("no active session")
		}
		if err != nil {
			return err
		}

		s.Deactivate(time.Now())
		if err := store.Save(s); err != nil {
			return err
		}

		cmd.Printf("Session for exam %s stopped.\n", s.ExamID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
