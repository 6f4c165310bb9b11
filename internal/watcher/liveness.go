package watcher

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// LivenessChecker reports whether the optimizer is still running.
type LivenessChecker interface {
	IsRunning(ctx context.Context) (bool, error)
}

// CheckerFunc adapts a function to LivenessChecker.
type CheckerFunc func(ctx context.Context) (bool, error)

func (f CheckerFunc) IsRunning(ctx context.Context) (bool, error) { return f(ctx) }

// AnyAlive reports running when any member does. Errors are returned only
// when no member could confirm liveness.
type AnyAlive []LivenessChecker

func (a AnyAlive) IsRunning(ctx context.Context) (bool, error) {
	var firstErr error
	for _, c := range a {
		if c == nil {
			continue
		}
		ok, err := c.IsRunning(ctx)
		if ok {
			return true, nil
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return false, firstErr
}

// DefaultNeedles identify a freqtrade hyperopt process by its command line.
var DefaultNeedles = []string{"freqtrade", "hyperopt"}

// ProcessTable scans the OS process table for a command line containing
// every needle. The calling process itself is ignored.
type ProcessTable struct {
	Needles []string
}

func (p ProcessTable) IsRunning(ctx context.Context) (bool, error) {
	needles := p.Needles
	if len(needles) == 0 {
		needles = DefaultNeedles
	}
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return false, fmt.Errorf("listing processes: %w", err)
	}
	self := int32(os.Getpid())
	for _, proc := range procs {
		if proc.Pid == self {
			continue
		}
		cmdline, err := proc.CmdlineWithContext(ctx)
		if err != nil || cmdline == "" {
			// Exited between listing and inspection, or not ours to read.
			continue
		}
		if containsAll(cmdline, needles) {
			return true, nil
		}
	}
	return false, nil
}

func containsAll(s string, needles []string) bool {
	for _, n := range needles {
		if !strings.Contains(s, n) {
			return false
		}
	}
	return true
}
