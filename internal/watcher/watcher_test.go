package watcher_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/watcher"
)

func fastWatcher(l watcher.LivenessChecker) *watcher.Watcher {
	return &watcher.Watcher{
		Liveness:         l,
		ExistenceChecks:  3,
		ExistenceBackoff: 2 * time.Millisecond,
		ReadAttempts:     3,
		ReadBackoff:      5 * time.Millisecond,
		Settle:           time.Millisecond,
	}
}

func alive(v bool) watcher.CheckerFunc {
	return func(context.Context) (bool, error) { return v, nil }
}

func TestAwaitCompletionArtifactAppears(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "MyStrategy.json")
	go func() {
		time.Sleep(30 * time.Millisecond)
		os.WriteFile(artifact, []byte(`{"params": {}}`), 0o644)
	}()

	out, err := fastWatcher(alive(true)).AwaitCompletion(context.Background(), artifact, time.Hour, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("AwaitCompletion: %v", err)
	}
	if out.Artifact != artifact || out.Size == 0 {
		t.Errorf("unexpected outcome %+v", out)
	}
}

func TestAwaitCompletionTimesOutWhenProcessGone(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "never.json")
	minWait := 40 * time.Millisecond

	start := time.Now()
	_, err := fastWatcher(alive(false)).AwaitCompletion(context.Background(), artifact, minWait, 5*time.Millisecond)
	var te *watcher.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if time.Since(start) < minWait {
		t.Errorf("gave up before min wait: %s", time.Since(start))
	}
	if te.Kind() != "TimeoutError" {
		t.Errorf("kind: got %q", te.Kind())
	}
}

func TestAwaitCompletionKeepsWaitingWhileAlive(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "never.json")
	var calls atomic.Int32
	l := watcher.CheckerFunc(func(context.Context) (bool, error) {
		return calls.Add(1) <= 5, nil
	})

	_, err := fastWatcher(l).AwaitCompletion(context.Background(), artifact, 10*time.Millisecond, 5*time.Millisecond)
	var te *watcher.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if n := calls.Load(); n != 6 {
		t.Errorf("liveness consulted %d times, want 6", n)
	}
}

func TestAwaitCompletionLivenessErrorCountsAsRunning(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "late.json")
	var calls atomic.Int32
	l := watcher.CheckerFunc(func(context.Context) (bool, error) {
		if calls.Add(1) == 3 {
			os.WriteFile(artifact, []byte("{}"), 0o644)
		}
		return false, errors.New("permission denied")
	})

	if _, err := fastWatcher(l).AwaitCompletion(context.Background(), artifact, 0, 5*time.Millisecond); err != nil {
		t.Fatalf("expected completion, got %v", err)
	}
}

func TestAwaitCompletionEmptyArtifact(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "empty.json")
	os.WriteFile(artifact, nil, 0o644)

	_, err := fastWatcher(alive(true)).AwaitCompletion(context.Background(), artifact, time.Hour, 5*time.Millisecond)
	var ue *watcher.UnreadableArtifactError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnreadableArtifactError, got %v", err)
	}
}

func TestAwaitCompletionCancelled(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "never.json")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := fastWatcher(alive(true)).AwaitCompletion(ctx, artifact, 0, 5*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestAwaitCompletionWithoutWatchableDir(t *testing.T) {
	// The parent directory does not exist yet, so only polling can notice
	// the artifact.
	dir := filepath.Join(t.TempDir(), "later")
	artifact := filepath.Join(dir, "Strat.json")
	go func() {
		time.Sleep(20 * time.Millisecond)
		os.MkdirAll(dir, 0o755)
		os.WriteFile(artifact, []byte("{}"), 0o644)
	}()
	if _, err := fastWatcher(alive(true)).AwaitCompletion(context.Background(), artifact, time.Hour, 5*time.Millisecond); err != nil {
		t.Fatalf("AwaitCompletion: %v", err)
	}
}

func TestAnyAlive(t *testing.T) {
	boom := watcher.CheckerFunc(func(context.Context) (bool, error) { return false, errors.New("boom") })
	tests := []struct {
		name    string
		members watcher.AnyAlive
		want    bool
		wantErr bool
	}{
		{"empty", nil, false, false},
		{"one alive", watcher.AnyAlive{alive(false), alive(true)}, true, false},
		{"none alive", watcher.AnyAlive{alive(false), alive(false)}, false, false},
		{"alive beats error", watcher.AnyAlive{boom, alive(true)}, true, false},
		{"error surfaces", watcher.AnyAlive{boom, alive(false)}, false, true},
		{"nil member skipped", watcher.AnyAlive{nil, alive(true)}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.members.IsRunning(context.Background())
			if got != tt.want || (err != nil) != tt.wantErr {
				t.Errorf("got (%v, %v), want (%v, err=%v)", got, err, tt.want, tt.wantErr)
			}
		})
	}
}

func TestProcessTable(t *testing.T) {
	sleepBin, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}
	ctx := context.Background()

	absent := watcher.ProcessTable{Needles: []string{"hyperloop-no-such-process", "7919"}}
	if ok, err := absent.IsRunning(ctx); err != nil || ok {
		t.Fatalf("absent process: got (%v, %v)", ok, err)
	}

	cmd := exec.Command(sleepBin, "7919")
	if err := cmd.Start(); err != nil {
		t.Fatalf("starting sleep: %v", err)
	}
	defer func() {
		cmd.Process.Kill()
		cmd.Wait()
	}()

	present := watcher.ProcessTable{Needles: []string{"sleep", "7919"}}
	if ok, err := present.IsRunning(ctx); err != nil || !ok {
		t.Errorf("running process: got (%v, %v)", ok, err)
	}
}
