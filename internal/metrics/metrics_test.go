package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/metrics"
)

func scrape(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(metrics.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scraping: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestRecorderExportsMetrics(t *testing.T) {
	r := metrics.NewRecorder()
	obj := -1.25
	r.CampaignStarted(7)
	r.RunSucceeded(90*time.Second, &obj, true)
	r.RunFailed(30*time.Second, "TimeoutError")
	r.Leaderboard(1, &obj)

	body := scrape(t)
	for _, want := range []string{
		"hyperloop_campaign_runs_planned 7",
		`hyperloop_runs_total{status="success"}`,
		`hyperloop_runs_total{status="failed"}`,
		`hyperloop_run_failures_total{error_type="TimeoutError"}`,
		"hyperloop_leaderboard_size 1",
		"hyperloop_best_objective -1.25",
		"hyperloop_last_objective -1.25",
		"hyperloop_run_duration_seconds_count",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *metrics.Recorder
	r.CampaignStarted(1)
	r.RunSucceeded(time.Second, nil, false)
	r.RunFailed(time.Second, "IOError")
	r.Leaderboard(0, nil)
}
