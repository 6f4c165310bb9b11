// Package watcher decides when a single hyperopt run has finished by polling
// for the strategy parameter file it writes on success and, once a minimum
// wait has passed, checking whether the optimizer is still alive.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Defaults for the cadence inside one poll cycle.
const (
	DefaultExistenceChecks  = 3
	DefaultExistenceBackoff = 500 * time.Millisecond
	DefaultReadAttempts     = 3
	DefaultReadBackoff      = time.Second
	DefaultSettle           = 2 * time.Second
)

// TimeoutError means no artifact appeared and the optimizer is gone.
type TimeoutError struct {
	Artifact string
	Elapsed  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("optimizer exited without writing %s (waited %s)", e.Artifact, e.Elapsed.Round(time.Second))
}

func (e *TimeoutError) Kind() string { return "TimeoutError" }

// UnreadableArtifactError means the artifact exists but stayed empty or
// unreadable across every read attempt.
type UnreadableArtifactError struct {
	Artifact string
	Err      error
}

func (e *UnreadableArtifactError) Error() string {
	return fmt.Sprintf("artifact %s unreadable: %v", e.Artifact, e.Err)
}

func (e *UnreadableArtifactError) Unwrap() error { return e.Err }

func (e *UnreadableArtifactError) Kind() string { return "UnreadableArtifactError" }

// Outcome describes a completed wait.
type Outcome struct {
	Artifact string
	Size     int64
	Elapsed  time.Duration
}

// Watcher waits for one run at a time. The exported fields tune the cadence;
// zero counts fall back to the defaults and zero durations mean no delay.
type Watcher struct {
	Liveness LivenessChecker

	ExistenceChecks  int
	ExistenceBackoff time.Duration
	ReadAttempts     int
	ReadBackoff      time.Duration
	Settle           time.Duration
}

// New returns a Watcher with default cadence.
func New(liveness LivenessChecker) *Watcher {
	return &Watcher{
		Liveness:         liveness,
		ExistenceChecks:  DefaultExistenceChecks,
		ExistenceBackoff: DefaultExistenceBackoff,
		ReadAttempts:     DefaultReadAttempts,
		ReadBackoff:      DefaultReadBackoff,
		Settle:           DefaultSettle,
	}
}

// AwaitCompletion blocks until artifact exists and is readable, or until
// minWait has elapsed with no artifact and no live optimizer. There is no
// upper bound; cancel ctx to give up.
func (w *Watcher) AwaitCompletion(ctx context.Context, artifact string, minWait, pollInterval time.Duration) (*Outcome, error) {
	start := time.Now()
	wake, stop := watchArtifact(artifact)
	defer stop()

	logger := log.With().Str("artifact", artifact).Logger()
	logger.Debug().Dur("min_wait", minWait).Dur("poll", pollInterval).Msg("waiting for artifact")

	for {
		found, err := w.probe(ctx, artifact)
		if err != nil {
			return nil, err
		}
		if found {
			size, err := w.verifyReadable(ctx, artifact)
			if err != nil {
				return nil, err
			}
			if err := sleep(ctx, w.Settle, nil); err != nil {
				return nil, err
			}
			return &Outcome{Artifact: artifact, Size: size, Elapsed: time.Since(start)}, nil
		}

		elapsed := time.Since(start)
		if elapsed >= minWait {
			running := false
			if w.Liveness != nil {
				ok, err := w.Liveness.IsRunning(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return nil, ctx.Err()
					}
					logger.Warn().Err(err).Msg("liveness check failed, assuming optimizer still running")
					ok = true
				}
				running = ok
			}
			if !running {
				return nil, &TimeoutError{Artifact: artifact, Elapsed: elapsed}
			}
		}

		if err := sleep(ctx, pollInterval, wake); err != nil {
			return nil, err
		}
	}
}

// probe checks for the artifact a few times with a short backoff.
func (w *Watcher) probe(ctx context.Context, artifact string) (bool, error) {
	checks := w.ExistenceChecks
	if checks <= 0 {
		checks = DefaultExistenceChecks
	}
	for i := 0; i < checks; i++ {
		if _, err := os.Stat(artifact); err == nil {
			return true, nil
		}
		if i < checks-1 {
			if err := sleep(ctx, w.ExistenceBackoff, nil); err != nil {
				return false, err
			}
		}
	}
	return false, nil
}

// verifyReadable opens the artifact and reads at least one byte, retrying
// while the optimizer may still be writing it.
func (w *Watcher) verifyReadable(ctx context.Context, artifact string) (int64, error) {
	attempts := w.ReadAttempts
	if attempts <= 0 {
		attempts = DefaultReadAttempts
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		size, err := readOneByte(artifact)
		if err == nil {
			return size, nil
		}
		lastErr = err
		if i < attempts-1 {
			if err := sleep(ctx, w.ReadBackoff, nil); err != nil {
				return 0, err
			}
		}
	}
	return 0, &UnreadableArtifactError{Artifact: artifact, Err: lastErr}
}

func readOneByte(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	buf := make([]byte, 1)
	if _, err := io.ReadFull(f, buf); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, errors.New("file is empty")
		}
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// watchArtifact returns a channel that receives when the artifact is created
// or written. If the directory cannot be watched the channel is nil and the
// caller simply polls.
func watchArtifact(artifact string) (<-chan struct{}, func()) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, func() {}
	}
	if err := fw.Add(filepath.Dir(artifact)); err != nil {
		fw.Close()
		return nil, func() {}
	}
	target := filepath.Clean(artifact)
	wake := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			case _, ok := <-fw.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return wake, func() { fw.Close() }
}

// sleep waits for d, an early wake-up, or cancellation.
func sleep(ctx context.Context, d time.Duration, wake <-chan struct{}) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	case <-wake:
		return nil
	}
}
