package docker_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/docker"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func requireDocker(t *testing.T) {
	t.Helper()
	if os.Getenv("HYPERLOOP_DOCKER_TESTS") == "" {
		t.Skip("set HYPERLOOP_DOCKER_TESTS=1 to run Docker tests")
	}
}

func TestStartStreamsLogsAndMounts(t *testing.T) {
	requireDocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	userData := t.TempDir()
	var logs syncBuffer
	c, err := docker.Start(ctx, &docker.RunOpts{
		Image:   "alpine:latest",
		Command: []string{"sh", "-c", "echo 'Best result:' && echo '{}' > /freqtrade/user_data/Strat.json"},
		Mounts:  []docker.Mount{{Source: userData, Target: "/freqtrade/user_data"}},
		RunName: "run_001",
		Log:     &logs,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-c.Done():
	case <-ctx.Done():
		t.Fatal("container did not exit")
	}
	c.Close()

	if c.Running() {
		t.Error("container still reported running")
	}
	if c.ExitCode() != 0 {
		t.Errorf("exit code: got %d, want 0", c.ExitCode())
	}
	if !strings.Contains(logs.String(), "Best result:") {
		t.Errorf("log stream missing output: %q", logs.String())
	}
	if _, err := os.Stat(filepath.Join(userData, "Strat.json")); err != nil {
		t.Errorf("artifact not written through mount: %v", err)
	}
}

func TestCloseKillsRunningContainer(t *testing.T) {
	requireDocker(t)
	ctx := context.Background()

	c, err := docker.Start(ctx, &docker.RunOpts{
		Image:   "alpine:latest",
		Command: []string{"sleep", "300"},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !c.Running() {
		t.Error("expected container to be running")
	}
	c.Close()
	if c.Running() {
		t.Error("container still running after Close")
	}
}

func TestStartCrash(t *testing.T) {
	requireDocker(t)
	ctx := context.Background()

	c, err := docker.Start(ctx, &docker.RunOpts{
		Image:   "alpine:latest",
		Command: []string{"sh", "-c", "exit 3"},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-c.Done()
	c.Close()
	if c.ExitCode() != 3 {
		t.Errorf("exit code: got %d, want 3", c.ExitCode())
	}
}
