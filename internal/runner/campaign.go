// Package runner drives a hyperopt campaign: one optimizer run after
// another, each waited on, scraped and ranked, with every failure recorded
// and the loop always moving on to the next run.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/config"
	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/extract"
	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/history"
	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/launcher"
	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/leaderboard"
	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/metrics"
	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/report"
	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/result"
	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/watcher"
)

// PanicError is a panic recovered while running one attempt.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic during run: %v", e.Value)
}

func (e *PanicError) Kind() string { return "PanicError" }

// History receives one row per attempt.
type History interface {
	Record(ctx context.Context, a history.Attempt) (int64, error)
}

// Progress is advanced once per finished attempt.
type Progress interface {
	Increment() int
}

// Campaign holds everything one campaign needs. Optional collaborators
// (History, Metrics, Progress, Liveness) may be nil.
type Campaign struct {
	ID       string
	Hyperopt launcher.Hyperopt
	// Artifact is the strategy parameter file hyperopt writes on success.
	Artifact     string
	ResultsDir   string
	MinWait      time.Duration
	PollInterval time.Duration

	Launcher launcher.Launcher
	// Watcher is copied for every attempt; its Liveness is replaced by the
	// process table combined with the launch handle.
	Watcher   watcher.Watcher
	Liveness  watcher.LivenessChecker
	Extractor *extract.Extractor
	Board     *leaderboard.Board
	History   History
	Metrics   *metrics.Recorder
	Progress  Progress
	Now       func() time.Time
}

// NewCampaign builds a campaign from cfg with a fresh id.
func NewCampaign(cfg *config.Config, l launcher.Launcher, board *leaderboard.Board) *Campaign {
	w := watcher.New(nil)
	w.Settle = cfg.Watcher.Settle
	return &Campaign{
		ID: uuid.NewString(),
		Hyperopt: launcher.Hyperopt{
			Config:          cfg.Campaign.Config,
			Loss:            cfg.Campaign.Loss,
			Strategy:        cfg.Campaign.Strategy,
			Timerange:       cfg.Campaign.Timerange,
			TimeframeDetail: cfg.Campaign.TimeframeDetail,
			Spaces:          cfg.Campaign.Spaces,
			Epochs:          cfg.Campaign.Epochs,
			Jobs:            cfg.Campaign.Jobs,
		},
		Artifact:     cfg.Artifact(),
		ResultsDir:   cfg.ResultsDir(),
		MinWait:      cfg.Watcher.MinWait,
		PollInterval: cfg.Watcher.PollInterval,
		Launcher:     l,
		Watcher:      *w,
		Liveness:     watcher.ProcessTable{Needles: cfg.Launcher.ProcessMatch},
		Extractor:    extract.New(cfg.Campaign.StakeCurrency),
		Board:        board,
	}
}

func (c *Campaign) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Run executes total attempts in order. A cancelled context stops the loop
// after the current attempt is recorded; the partial summary is returned with
// the context error.
func (c *Campaign) Run(ctx context.Context, total int) (*result.Summary, error) {
	sum := &result.Summary{CampaignID: c.ID}
	c.Metrics.CampaignStarted(total)
	log.Info().
		Str("campaign", c.ID).
		Int("runs", total).
		Str("strategy", c.Hyperopt.Strategy).
		Int("top_n", c.Board.Capacity()).
		Msg("starting campaign")

	var objectives []float64
	for runID := 1; runID <= total; runID++ {
		if ctx.Err() != nil {
			break
		}
		res, err := c.attempt(ctx, runID)
		sum.Attempted++
		if err != nil {
			sum.Failed++
		} else {
			sum.Successful++
			if res.Objective != nil {
				objectives = append(objectives, *res.Objective)
			}
		}
		if c.Progress != nil {
			c.Progress.Increment()
		}
	}

	sum.TopResults = c.Board.Snapshot().TopResults
	sum.Stats = report.ComputeStats(objectives)
	log.Info().
		Str("campaign", c.ID).
		Int("attempted", sum.Attempted).
		Int("successful", sum.Successful).
		Int("failed", sum.Failed).
		Msg("campaign finished")
	return sum, ctx.Err()
}

// attempt runs one optimizer invocation end to end. Every failure, including
// a recovered panic, is recorded before returning. Invariant violations are
// programming defects and keep panicking.
func (c *Campaign) attempt(ctx context.Context, runID int) (res *result.RunResult, err error) {
	started := c.now()
	var att result.RunAttempt
	admitted := false

	defer func() {
		if p := recover(); p != nil {
			var iv *leaderboard.InvariantViolation
			if e, ok := p.(error); ok && errors.As(e, &iv) {
				panic(p)
			}
			pe := &PanicError{Value: p, Stack: debug.Stack()}
			log.Error().Int("run", runID).Str("stack", string(pe.Stack)).Msg("recovered panic")
			res, err = nil, pe
		}
		if err != nil {
			c.fail(ctx, runID, att, started, err)
			return
		}
		c.succeed(ctx, att, started, res, admitted)
	}()

	att, err = result.CreateRunDir(c.ResultsDir, runID, started)
	if err != nil {
		return nil, err
	}
	log.Info().Int("run", runID).Str("dir", att.Dir).Msg("starting run")
	res, admitted, err = c.execute(ctx, att)
	return res, err
}

func (c *Campaign) execute(ctx context.Context, att result.RunAttempt) (*result.RunResult, bool, error) {
	runCopy := filepath.Join(att.Dir, filepath.Base(c.Artifact))
	removed, err := result.RemoveStale(c.Artifact, runCopy)
	if err != nil {
		return nil, false, err
	}
	for _, p := range removed {
		log.Debug().Str("file", p).Msg("removed stale artifact")
	}

	handle, err := c.Launcher.Launch(ctx, launcher.Request{
		Hyperopt: c.Hyperopt,
		LogPath:  att.LogPath(),
		RunName:  att.Name(),
	})
	if err != nil {
		var le *launcher.LaunchError
		if !errors.As(err, &le) {
			err = &launcher.LaunchError{Op: "launch", Err: err}
		}
		return nil, false, err
	}
	closed := false
	closeHandle := func() {
		if closed {
			return
		}
		closed = true
		if err := handle.Close(); err != nil {
			log.Warn().Err(err).Int("run", att.RunID).Msg("closing optimizer")
		}
	}
	defer closeHandle()

	w := c.Watcher
	w.Liveness = watcher.AnyAlive{c.Liveness, watcher.CheckerFunc(func(context.Context) (bool, error) {
		return handle.Running(), nil
	})}
	outcome, err := w.AwaitCompletion(ctx, c.Artifact, c.MinWait, c.PollInterval)
	if err != nil {
		return nil, false, err
	}
	log.Debug().Int("run", att.RunID).Int64("bytes", outcome.Size).Dur("elapsed", outcome.Elapsed).Msg("artifact ready")

	// Closing first lets buffered output reach the log file.
	closeHandle()
	data, err := os.ReadFile(att.LogPath())
	if err != nil {
		return nil, false, fmt.Errorf("reading run log: %w", err)
	}
	res, err := c.Extractor.Extract(string(data), att.Name())
	if err != nil {
		return nil, false, err
	}

	if err := result.CopyFile(c.Artifact, runCopy); err != nil {
		log.Warn().Err(err).Int("run", att.RunID).Msg("could not copy strategy parameters")
	}
	admitted, err := c.Board.Admit(*res)
	if err != nil {
		log.Warn().Err(err).Msg("leaderboard not persisted")
	}
	return res, admitted, nil
}

func (c *Campaign) succeed(ctx context.Context, att result.RunAttempt, started time.Time, res *result.RunResult, admitted bool) {
	finished := c.now()
	ev := log.Info().Int("run", att.RunID).Str("name", att.Name()).Bool("admitted", admitted).Float64("profit", res.Profit)
	if res.Objective != nil {
		ev = ev.Float64("objective", *res.Objective)
	}
	ev.Msg("run succeeded")

	c.Metrics.RunSucceeded(finished.Sub(started), res.Objective, admitted)
	c.reportBoard()

	a := history.Attempt{
		CampaignID: c.ID,
		RunID:      att.RunID,
		RunName:    att.Name(),
		Status:     metrics.StatusSuccess,
		Objective:  res.Objective,
		Profit:     &res.Profit,
		Admitted:   admitted,
		StartedAt:  started,
		FinishedAt: finished,
	}
	if res.Drawdown != nil {
		a.Drawdown = *res.Drawdown
	}
	c.record(ctx, a)
}

// fail writes the failure marker, the leaderboard failure entry, the history
// row and the metrics. A run without a directory gets a fresh one for its
// marker.
func (c *Campaign) fail(ctx context.Context, runID int, att result.RunAttempt, started time.Time, runErr error) {
	finished := c.now()
	rec := result.NewFailureRecord(runID, runErr, finished)
	log.Error().Err(runErr).Int("run", runID).Str("error_type", rec.ErrorType).Msg("run failed")

	if att.Dir == "" {
		fresh, err := result.CreateRunDir(c.ResultsDir, runID, finished)
		if err != nil {
			log.Warn().Err(err).Int("run", runID).Msg("no run directory for failure marker")
		} else {
			att = fresh
		}
	}
	if att.Dir != "" {
		if err := result.WriteFailureMarker(att.Dir, rec); err != nil {
			log.Warn().Err(err).Str("dir", att.Dir).Msg("writing failure marker")
		}
	}
	if err := c.Board.RecordFailure(rec); err != nil {
		log.Warn().Err(err).Msg("leaderboard not persisted")
	}

	c.Metrics.RunFailed(finished.Sub(started), rec.ErrorType)
	c.record(ctx, history.Attempt{
		CampaignID: c.ID,
		RunID:      runID,
		RunName:    att.Name(),
		Status:     metrics.StatusFailed,
		ErrorType:  rec.ErrorType,
		Error:      rec.Error,
		StartedAt:  started,
		FinishedAt: finished,
	})
}

func (c *Campaign) record(ctx context.Context, a history.Attempt) {
	if c.History == nil {
		return
	}
	if a.RunName == "." {
		a.RunName = ""
	}
	// The row is written even when the campaign is being cancelled.
	if _, err := c.History.Record(context.WithoutCancel(ctx), a); err != nil {
		log.Warn().Err(err).Int("run", a.RunID).Msg("recording history")
	}
}

func (c *Campaign) reportBoard() {
	if c.Metrics == nil {
		return
	}
	top := c.Board.Snapshot().TopResults
	var best *float64
	if len(top) > 0 {
		best = top[0].Objective
	}
	c.Metrics.Leaderboard(len(top), best)
}
