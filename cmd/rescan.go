package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/extract"
	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/leaderboard"
	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/report"
	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/runner"
)

var (
	flagParallel int
	flagOut      string
)

func newRescanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rescan [results-dir]",
		Short: "Rebuild a leaderboard from stored run logs",
		Long:  "Re-extract every run directory's hyperopt.log and rank the results into a fresh leaderboard file. Runs marked FAILED are skipped.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfig(cmd)
			if err != nil {
				return err
			}
			dir := cfg.ResultsDir()
			if len(args) > 0 {
				dir = args[0]
			}
			out := flagOut
			if out == "" {
				out = cfg.LeaderboardPath()
			}
			if err := os.Remove(out); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("removing %s: %w", out, err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			board := leaderboard.New(out, cfg.Campaign.TopN)
			rep, err := runner.Rescan(ctx, dir, extract.New(cfg.Campaign.StakeCurrency), board, flagParallel)
			if err != nil {
				return err
			}
			if err := board.Save(); err != nil {
				return err
			}
			fmt.Printf("Scanned %d runs: %d admitted, %d skipped, %d unparseable\n", rep.Scanned, rep.Admitted, rep.Skipped, rep.Failed)
			fmt.Printf("Leaderboard written to %s\n\n", out)
			return report.Write(board.Snapshot(), report.FormatTable, os.Stdout)
		},
	}
	cmd.Flags().IntVar(&flagParallel, "parallel", 4, "logs parsed concurrently")
	cmd.Flags().StringVar(&flagOut, "out", "", "leaderboard file to write (default: paths.leaderboard)")
	return cmd
}
