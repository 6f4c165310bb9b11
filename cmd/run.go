package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cheggaaa/pb"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/config"
	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/history"
	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/leaderboard"
	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/logging"
	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/metrics"
	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/report"
	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/result"
	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/runner"
)

var (
	flagRuns        int
	flagTop         int
	flagFresh       bool
	flagLauncher    string
	flagMetricsAddr string
	flagNoProgress  bool
	flagStrategy    string
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a hyperopt campaign",
		RunE:  runCampaign,
	}
	cmd.Flags().IntVar(&flagRuns, "runs", 0, "override campaign.runs")
	cmd.Flags().IntVar(&flagTop, "top", 0, "override campaign.top_n")
	cmd.Flags().BoolVar(&flagFresh, "fresh", false, "clear the results directory and leaderboard first")
	cmd.Flags().StringVar(&flagLauncher, "launcher", "", "override launcher.mode (local, docker)")
	cmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9102")
	cmd.Flags().BoolVar(&flagNoProgress, "no-progress", false, "disable the progress bar")
	cmd.Flags().StringVar(&flagStrategy, "strategy", "", "override campaign.strategy")
	return cmd
}

// applyRunFlags copies explicitly set flags over the config values.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("runs") {
		cfg.Campaign.Runs = flagRuns
	}
	if flags.Changed("top") {
		cfg.Campaign.TopN = flagTop
	}
	if flags.Changed("fresh") {
		cfg.Paths.CleanStart = flagFresh
	}
	if flags.Changed("launcher") {
		cfg.Launcher.Mode = flagLauncher
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = flagMetricsAddr
	}
	if flags.Changed("strategy") {
		cfg.Campaign.Strategy = flagStrategy
	}
}

func runCampaign(cmd *cobra.Command, args []string) error {
	cfg, err := readConfig(cmd)
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	sess, err := logging.Setup(logging.Options{
		Level:    logLevel(cfg),
		Dir:      cfg.LogDir(),
		MaxFiles: cfg.Logging.MaxFiles,
	})
	if err != nil {
		return err
	}
	defer sess.Close()
	log.Info().Str("file", sess.Path).Msg("logging to file")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := prepareResults(cfg); err != nil {
		return err
	}
	board := leaderboard.Load(cfg.LeaderboardPath(), cfg.Campaign.TopN)

	l, err := newLauncher(cfg)
	if err != nil {
		return err
	}

	camp := runner.NewCampaign(cfg, l, board)
	camp.Metrics = metrics.NewRecorder()
	if hist, err := history.Open(cfg.HistoryPath()); err != nil {
		log.Warn().Err(err).Msg("run history disabled")
	} else {
		defer hist.Close()
		camp.History = hist
	}

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr); err != nil {
				log.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	var bar *pb.ProgressBar
	if !flagNoProgress && logging.IsTerminal(os.Stdout) {
		bar = pb.New(cfg.Campaign.Runs)
		bar.Output = os.Stdout
		bar.Prefix("runs ")
		bar.Start()
		camp.Progress = bar
	}

	sum, runErr := camp.Run(ctx, cfg.Campaign.Runs)
	if bar != nil {
		bar.Finish()
	}
	if err := report.WriteSummary(sum, os.Stdout); err != nil {
		return err
	}
	if errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("campaign interrupted after %d of %d runs", sum.Attempted, cfg.Campaign.Runs)
	}
	return runErr
}

// prepareResults creates the results directory, or empties it together with
// the leaderboard when clean_start is set.
func prepareResults(cfg *config.Config) error {
	dir := cfg.ResultsDir()
	if !cfg.Paths.CleanStart {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating results dir: %w", err)
		}
		return nil
	}
	n, err := result.ClearResultsDir(dir)
	if err != nil {
		return err
	}
	if err := os.Remove(cfg.LeaderboardPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing leaderboard: %w", err)
	}
	log.Info().Str("dir", dir).Int("removed", n).Msg("clean start")
	return nil
}
