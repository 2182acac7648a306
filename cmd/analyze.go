package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/proctor/internal/analyzer"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Run the code heuristics over a file and print the verdict",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("file not found: %s", args[0])
			}
			return err
		}

		v, err := analyzer.NewPipeline(logger.Named("analyzer")).Classify(cmd.Context(), string(data))
		if err != nil {
			return err
		}
		if !v.Suspicious {
			cmd.Println("Suspicious: no")
			return nil
		}
		cmd.Println("Suspicious: yes")
		for _, r := range v.Reasons {
			cmd.Printf("  - %s\n", r)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}
