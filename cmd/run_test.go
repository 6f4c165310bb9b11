package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/config"
	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/history"
	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/launcher"
	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/result"
)

func TestApplyRunFlags(t *testing.T) {
	cmd := newRunCmd()
	for name, value := range map[string]string{
		"runs":     "5",
		"strategy": "Other",
		"launcher": "docker",
		"fresh":    "true",
	} {
		if err := cmd.Flags().Set(name, value); err != nil {
			t.Fatalf("set %s: %v", name, err)
		}
	}

	cfg := config.Default()
	cfg.Campaign.TopN = 7
	applyRunFlags(cmd, cfg)

	if cfg.Campaign.Runs != 5 || cfg.Campaign.Strategy != "Other" || cfg.Launcher.Mode != config.ModeDocker || !cfg.Paths.CleanStart {
		t.Errorf("flags not applied: %+v %+v", cfg.Campaign, cfg.Launcher)
	}
	if cfg.Campaign.TopN != 7 {
		t.Errorf("unset --top changed top_n to %d", cfg.Campaign.TopN)
	}
}

func TestReadConfig(t *testing.T) {
	defer func(old string) { cfgFile = old }(cfgFile)
	missing := filepath.Join(t.TempDir(), "hyperloop.yaml")

	tests := []struct {
		name     string
		explicit bool
		path     string
		wantErr  bool
		strategy string
	}{
		{"missing default falls back", false, missing, false, ""},
		{"missing explicit file", true, missing, true, ""},
		{"existing file", true, "../testdata/minimal.yaml", false, "MyStrategy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := NewRootCmd()
			cfgFile = tt.path
			if tt.explicit {
				if err := root.PersistentFlags().Set("config", tt.path); err != nil {
					t.Fatal(err)
				}
			}
			cfg, err := readConfig(root)
			if (err != nil) != tt.wantErr {
				t.Fatalf("readConfig error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && cfg.Campaign.Strategy != tt.strategy {
				t.Errorf("strategy: got %q, want %q", cfg.Campaign.Strategy, tt.strategy)
			}
		})
	}
}

func TestNewLauncher(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.ProjectRoot = t.TempDir()

	cfg.Launcher.Mode = config.ModeDocker
	l, err := newLauncher(cfg)
	if err != nil {
		t.Fatalf("docker launcher: %v", err)
	}
	if _, ok := l.(*launcher.Docker); !ok {
		t.Errorf("docker mode built %T", l)
	}

	cfg.Launcher.Mode = "ssh"
	if _, err := newLauncher(cfg); err == nil {
		t.Error("expected error for unknown mode")
	}

	cfg.Launcher.Mode = config.ModeLocal
	cfg.Launcher.FreqtradeBin = filepath.Join(t.TempDir(), "no-such-freqtrade")
	if _, err := newLauncher(cfg); err == nil {
		t.Error("expected error for missing freqtrade")
	}
}

func TestPrepareResults(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.ProjectRoot = t.TempDir()

	if err := prepareResults(cfg); err != nil {
		t.Fatalf("prepareResults: %v", err)
	}
	stale := filepath.Join(cfg.ResultsDir(), "run_001_old")
	if err := os.Mkdir(stale, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.LeaderboardPath(), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := prepareResults(cfg); err != nil {
		t.Fatalf("prepareResults: %v", err)
	}
	if _, err := os.Stat(stale); err != nil {
		t.Error("run dir removed without clean_start")
	}

	cfg.Paths.CleanStart = true
	if err := prepareResults(cfg); err != nil {
		t.Fatalf("prepareResults clean: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("run dir kept with clean_start")
	}
	if _, err := os.Stat(cfg.LeaderboardPath()); !os.IsNotExist(err) {
		t.Error("leaderboard kept with clean_start")
	}
}

func TestRunStatus(t *testing.T) {
	root := t.TempDir()
	mk := func(name string, files map[string]string) string {
		dir := filepath.Join(root, name)
		os.Mkdir(dir, 0o755)
		for f, body := range files {
			os.WriteFile(filepath.Join(dir, f), []byte(body), 0o644)
		}
		return dir
	}
	failed := mk("run_001", nil)
	result.WriteFailureMarker(failed, result.FailureRecord{RunID: 1, ErrorType: "TimeoutError"})

	tests := []struct {
		dir  string
		want string
	}{
		{failed, "failed: TimeoutError"},
		{mk("run_002", map[string]string{result.LogFileName: "Best result:"}), "ok"},
		{mk("run_003", nil), "empty"},
	}
	for _, tt := range tests {
		if got := runStatus(tt.dir); got != tt.want {
			t.Errorf("runStatus(%s) = %q, want %q", filepath.Base(tt.dir), got, tt.want)
		}
	}
}

func TestWriteHistory(t *testing.T) {
	var buf bytes.Buffer
	writeHistory(nil, &buf)
	if !strings.Contains(buf.String(), "No attempts") {
		t.Errorf("empty history: %q", buf.String())
	}

	buf.Reset()
	obj := -0.5
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	writeHistory([]history.Attempt{
		{CampaignID: "0123456789abcdef", RunID: 2, Status: "failed", ErrorType: "TimeoutError", StartedAt: start, FinishedAt: start.Add(90 * time.Second)},
		{CampaignID: "0123456789abcdef", RunID: 1, Status: "success", Objective: &obj, Admitted: true, StartedAt: start, FinishedAt: start.Add(time.Hour)},
	}, &buf)
	out := buf.String()
	for _, want := range []string{"CAMPAIGN", "01234567 ", "TimeoutError", "1m30s", "-0.50000", "admitted"} {
		if !strings.Contains(out, want) {
			t.Errorf("history output missing %q:\n%s", want, out)
		}
	}
}
