package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/result"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the effective configuration and stored runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfig(cmd)
			if err != nil {
				return err
			}
			fmt.Println("Campaign:")
			fmt.Printf("  strategy: %s (%d runs, top %d, %d epochs, spaces %v)\n",
				cfg.Campaign.Strategy, cfg.Campaign.Runs, cfg.Campaign.TopN, cfg.Campaign.Epochs, cfg.Campaign.Spaces)
			fmt.Printf("  launcher: %s\n", cfg.Launcher.Mode)
			fmt.Printf("  results:  %s\n", cfg.ResultsDir())
			fmt.Printf("  board:    %s\n", cfg.LeaderboardPath())

			dirs, err := result.RunDirs(cfg.ResultsDir())
			if err != nil {
				return err
			}
			fmt.Printf("\nRuns (%d):\n", len(dirs))
			for _, d := range dirs {
				fmt.Printf("  - %s [%s]\n", filepath.Base(d), runStatus(d))
			}
			return nil
		},
	}
}

// runStatus classifies a stored run directory by the files it holds.
func runStatus(dir string) string {
	if rec, err := result.ReadFailureMarker(filepath.Join(dir, result.FailureMarkerName)); err == nil {
		return "failed: " + rec.ErrorType
	}
	if _, err := os.Stat(filepath.Join(dir, result.LogFileName)); err != nil {
		return "empty"
	}
	return "ok"
}
