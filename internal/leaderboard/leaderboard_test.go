package leaderboard_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/leaderboard"
	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/result"
)

func run(name string, objective float64) result.RunResult {
	obj := objective
	dd := "1.000 USDT (0.10%)"
	trades := 10
	return result.RunResult{
		Run:       name,
		Profit:    -objective * 10,
		Objective: &obj,
		Drawdown:  &dd,
		Metrics:   result.Metrics{Objective: &obj, TotalTrades: &trades, MaxDrawdown: &dd},
		Params: map[string]result.ParameterGroup{
			result.GroupBuy: {"buy_rsi": int64(30), "buy_ratio": 1.5},
		},
	}
}

func objectives(st leaderboard.State) []float64 {
	var out []float64
	for _, r := range st.TopResults {
		out = append(out, r.RankKey())
	}
	return out
}

func names(st leaderboard.State) []string {
	var out []string
	for _, r := range st.TopResults {
		out = append(out, r.Run)
	}
	return out
}

func TestAdmitKeepsSortedAndBounded(t *testing.T) {
	b := leaderboard.New(filepath.Join(t.TempDir(), "board.json"), 3)
	inputs := []float64{0.5, -1, 2, 0.1, -3, 4, -0.5}
	for i, obj := range inputs {
		if _, err := b.Admit(run(fmt.Sprintf("r%d", i), obj)); err != nil {
			t.Fatalf("Admit: %v", err)
		}
		st := b.Snapshot()
		if len(st.TopResults) > 3 {
			t.Fatalf("board grew to %d", len(st.TopResults))
		}
		objs := objectives(st)
		for j := 1; j < len(objs); j++ {
			if objs[j-1] > objs[j] {
				t.Fatalf("not sorted after admission %d: %v", i, objs)
			}
		}
	}
	if got, want := objectives(b.Snapshot()), []float64{-3, -1, -0.5}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestAdmitAtCapacity(t *testing.T) {
	tests := []struct {
		name      string
		candidate float64
		admitted  bool
		want      []float64
	}{
		{"better evicts worst", 0.5, true, []float64{0.5, 1, 2}},
		{"worse is rejected", 9, false, []float64{1, 2, 3}},
		{"equal to worst is rejected", 3, false, []float64{1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := leaderboard.New("", 3)
			for i, obj := range []float64{3, 1, 2} {
				b.Admit(run(fmt.Sprintf("seed%d", i), obj))
			}
			ok, err := b.Admit(run("candidate", tt.candidate))
			if err != nil {
				t.Fatalf("Admit: %v", err)
			}
			if ok != tt.admitted {
				t.Errorf("admitted: got %v, want %v", ok, tt.admitted)
			}
			if got := objectives(b.Snapshot()); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEleventhBestEvictsWorst(t *testing.T) {
	b := leaderboard.New("", 10)
	for i := 1; i <= 10; i++ {
		b.Admit(run(fmt.Sprintf("r%02d", i), float64(i)))
	}
	ok, _ := b.Admit(run("best", -5))
	if !ok {
		t.Fatal("best result was not admitted")
	}
	st := b.Snapshot()
	if len(st.TopResults) != 10 {
		t.Fatalf("expected 10 results, got %d", len(st.TopResults))
	}
	if st.TopResults[0].Run != "best" {
		t.Errorf("first entry: got %q", st.TopResults[0].Run)
	}
	for _, n := range names(st) {
		if n == "r10" {
			t.Error("previous worst still present")
		}
	}
}

func TestTieEvictsOldestWorst(t *testing.T) {
	b := leaderboard.New("", 3)
	b.Admit(run("a", 1))
	b.Admit(run("old", 5))
	b.Admit(run("new", 5))
	b.Admit(run("c", 2))
	if got, want := names(b.Snapshot()), []string{"a", "c", "new"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMissingObjectiveRanksLast(t *testing.T) {
	b := leaderboard.New("", 2)
	b.Admit(result.RunResult{Run: "blank"})
	b.Admit(run("real", 100))
	if got := names(b.Snapshot()); !reflect.DeepEqual(got, []string{"real", "blank"}) {
		t.Errorf("got %v", got)
	}
	if ok, _ := b.Admit(result.RunResult{Run: "blank2"}); ok {
		t.Error("a result without objective displaced one at the sentinel")
	}
	if ok, _ := b.Admit(run("better", 50)); !ok {
		t.Error("real objective should displace a missing one")
	}
}

func TestPersistReloadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "board.json")
	b := leaderboard.New(path, 5)
	for i, obj := range []float64{0.3, -0.7, 1.2} {
		if _, err := b.Admit(run(fmt.Sprintf("r%d", i), obj)); err != nil {
			t.Fatalf("Admit: %v", err)
		}
	}
	rec := result.FailureRecord{
		RunID:     4,
		Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Error:     "no artifact",
		ErrorType: "TimeoutError",
	}
	if err := b.RecordFailure(rec); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	reloaded := leaderboard.Load(path, 5)
	if !reflect.DeepEqual(reloaded.Snapshot(), b.Snapshot()) {
		t.Errorf("reloaded state differs\n got: %+v\nwant: %+v", reloaded.Snapshot(), b.Snapshot())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(data), "}\n") {
		t.Error("persisted file should end with a newline")
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestLoadFallsBackToFresh(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{"missing", ""},
		{"malformed", "{not json"},
		{"wrong shape", `{"top_results": 12}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			if tt.content != "" {
				os.WriteFile(path, []byte(tt.content), 0o644)
			}
			st := leaderboard.Load(path, 3).Snapshot()
			if len(st.TopResults) != 0 || len(st.FailedRuns) != 0 {
				t.Errorf("expected empty board, got %+v", st)
			}
		})
	}
}

func TestLoadTruncatesOversizedState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.json")
	big := leaderboard.New(path, 5)
	for i, obj := range []float64{5, 4, 3, 2, 1} {
		big.Admit(run(fmt.Sprintf("r%d", i), obj))
	}
	small := leaderboard.Load(path, 2)
	if got := objectives(small.Snapshot()); !reflect.DeepEqual(got, []float64{1, 2}) {
		t.Errorf("got %v", got)
	}
}

func TestPersistenceErrorKeepsMemoryState(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	os.WriteFile(blocker, []byte("x"), 0o644)

	b := leaderboard.New(filepath.Join(blocker, "board.json"), 3)
	ok, err := b.Admit(run("r", 1))
	if !ok {
		t.Error("admission should succeed in memory")
	}
	var pe *leaderboard.PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if len(b.Snapshot().TopResults) != 1 {
		t.Error("in-memory state lost")
	}
}

func TestConcurrentAdmit(t *testing.T) {
	b := leaderboard.New(filepath.Join(t.TempDir(), "board.json"), 5)
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b.Admit(run(fmt.Sprintf("r%d", i), float64(i%17)))
		}(i)
	}
	wg.Wait()
	if got, want := objectives(b.Snapshot()), []float64{0, 0, 0, 1, 1}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestReadState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.json")
	b := leaderboard.New(path, 3)
	b.Admit(run("r", 0.2))

	st, err := leaderboard.ReadState(path)
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if len(st.TopResults) != 1 {
		t.Errorf("got %d results", len(st.TopResults))
	}
	if _, err := leaderboard.ReadState(filepath.Join(t.TempDir(), "none.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
