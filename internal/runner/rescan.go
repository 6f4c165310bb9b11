package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/extract"
	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/leaderboard"
	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/result"
)

// RescanReport counts what a rescan found.
type RescanReport struct {
	Scanned  int
	Admitted int
	Skipped  int
	Failed   int
}

// Rescan re-extracts every run directory under resultsDir and offers the
// results to board, parsing up to parallel logs at once. Runs with a failure
// marker or without a log are skipped; extraction failures are counted and
// logged.
func Rescan(ctx context.Context, resultsDir string, x *extract.Extractor, board *leaderboard.Board, parallel int) (*RescanReport, error) {
	dirs, err := result.RunDirs(resultsDir)
	if err != nil {
		return nil, fmt.Errorf("listing run dirs: %w", err)
	}

	var (
		mu  sync.Mutex
		rep = &RescanReport{Scanned: len(dirs)}
	)
	count := func(field *int) {
		mu.Lock()
		*field++
		mu.Unlock()
	}

	jobs := make([]Job, 0, len(dirs))
	for _, dir := range dirs {
		jobs = append(jobs, func(ctx context.Context) error {
			if _, err := os.Stat(filepath.Join(dir, result.FailureMarkerName)); err == nil {
				count(&rep.Skipped)
				return nil
			}
			data, err := os.ReadFile(filepath.Join(dir, result.LogFileName))
			if err != nil {
				log.Debug().Err(err).Str("dir", dir).Msg("skipping run without log")
				count(&rep.Skipped)
				return nil
			}
			res, err := x.Extract(string(data), filepath.Base(dir))
			if err != nil {
				count(&rep.Failed)
				return fmt.Errorf("%s: %w", filepath.Base(dir), err)
			}
			ok, err := board.Admit(*res)
			if err != nil {
				log.Warn().Err(err).Msg("leaderboard not persisted")
			}
			if ok {
				count(&rep.Admitted)
			}
			return nil
		})
	}

	for _, err := range RunPool(ctx, parallel, jobs) {
		log.Warn().Err(err).Msg("rescan")
	}
	return rep, ctx.Err()
}
