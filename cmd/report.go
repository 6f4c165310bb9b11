package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/report"
)

var flagFormat string

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [leaderboard-file]",
		Short: "Show the leaderboard",
		Long:  "Render a persisted leaderboard. Without an argument the leaderboard configured in paths.leaderboard is used.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) > 0 {
				path = args[0]
			} else {
				cfg, err := readConfig(cmd)
				if err != nil {
					return err
				}
				path = cfg.LeaderboardPath()
			}
			return report.Generate(path, flagFormat, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&flagFormat, "format", report.FormatTable, "output format (table, markdown, json, detail)")
	return cmd
}
