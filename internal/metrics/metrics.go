// Package metrics exposes campaign progress to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hyperloop_runs_total",
			Help: "Hyperopt runs finished, by outcome",
		},
		[]string{"status"},
	)

	runFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hyperloop_run_failures_total",
			Help: "Failed hyperopt runs by error type",
		},
		[]string{"error_type"},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hyperloop_run_duration_seconds",
			Help:    "Wall time of one hyperopt run",
			Buckets: []float64{60, 300, 600, 1200, 1800, 3600, 7200, 14400},
		},
	)

	admissionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hyperloop_leaderboard_admissions_total",
			Help: "Results admitted to the leaderboard",
		},
	)

	leaderboardSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hyperloop_leaderboard_size",
			Help: "Results currently held by the leaderboard",
		},
	)

	bestObjective = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hyperloop_best_objective",
			Help: "Best (lowest) objective on the leaderboard",
		},
	)

	lastObjective = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hyperloop_last_objective",
			Help: "Objective of the most recent successful run",
		},
	)

	runsPlanned = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hyperloop_campaign_runs_planned",
			Help: "Runs planned for the current campaign",
		},
	)
)

// Status labels.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Recorder updates the campaign metrics. A nil Recorder does nothing.
type Recorder struct{}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) CampaignStarted(planned int) {
	if r == nil {
		return
	}
	runsPlanned.Set(float64(planned))
}

func (r *Recorder) RunSucceeded(d time.Duration, objective *float64, admitted bool) {
	if r == nil {
		return
	}
	runsTotal.WithLabelValues(StatusSuccess).Inc()
	runDuration.Observe(d.Seconds())
	if objective != nil {
		lastObjective.Set(*objective)
	}
	if admitted {
		admissionsTotal.Inc()
	}
}

func (r *Recorder) RunFailed(d time.Duration, errorType string) {
	if r == nil {
		return
	}
	runsTotal.WithLabelValues(StatusFailed).Inc()
	runFailuresTotal.WithLabelValues(errorType).Inc()
	runDuration.Observe(d.Seconds())
}

// Leaderboard records the board size and, when known, its best objective.
func (r *Recorder) Leaderboard(size int, best *float64) {
	if r == nil {
		return
	}
	leaderboardSize.Set(float64(size))
	if best != nil {
		bestObjective.Set(*best)
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info().Str("addr", addr).Msg("serving metrics")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
