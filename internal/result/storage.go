package result

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

const (
	// LogFileName is the captured optimizer output inside a run directory.
	LogFileName = "hyperopt.log"
	// FailureMarkerName is written into a run directory when the run failed.
	FailureMarkerName = "FAILED"
)

// CreateRunDir allocates a fresh directory for one attempt under resultsDir.
// The name carries the run id and a microsecond timestamp; an existing
// directory is never reused.
func CreateRunDir(resultsDir string, runID int, now time.Time) (RunAttempt, error) {
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return RunAttempt{}, fmt.Errorf("creating results dir: %w", err)
	}
	base := fmt.Sprintf("run_%03d_%s_%06d", runID, now.Format("20060102_150405"), now.Nanosecond()/1000)
	for seq := 1; ; seq++ {
		name := base
		if seq > 1 {
			name = fmt.Sprintf("%s-%d", base, seq)
		}
		dir, err := filepath.Abs(filepath.Join(resultsDir, name))
		if err != nil {
			return RunAttempt{}, fmt.Errorf("resolving run dir: %w", err)
		}
		err = os.Mkdir(dir, 0o755)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return RunAttempt{}, fmt.Errorf("creating run dir: %w", err)
		}
		return RunAttempt{RunID: runID, Dir: dir, StartedAt: now}, nil
	}
}

// LogPath is where the optimizer output of the attempt is captured.
func (a RunAttempt) LogPath() string {
	return filepath.Join(a.Dir, LogFileName)
}

// NewFailureRecord builds the record for err, classifying it by Kind.
func NewFailureRecord(runID int, err error, now time.Time) FailureRecord {
	return FailureRecord{
		RunID:     runID,
		Timestamp: now,
		Error:     err.Error(),
		ErrorType: ErrorKind(err),
	}
}

// ErrorKind names the failure class of err. Errors that carry a Kind method
// anywhere in their chain report it. A cancelled context is Cancelled, an
// expired one TimeoutError, and anything else is an IOError.
func ErrorKind(err error) string {
	var k interface{ Kind() string }
	if errors.As(err, &k) {
		return k.Kind()
	}
	switch {
	case errors.Is(err, context.Canceled):
		return "Cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "TimeoutError"
	}
	return "IOError"
}

func WriteFailureMarker(runDir string, rec FailureRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling failure record: %w", err)
	}
	data = append(data, '\n')
	return os.WriteFile(filepath.Join(runDir, FailureMarkerName), data, 0o644)
}

func ReadFailureMarker(path string) (*FailureRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading failure marker: %w", err)
	}
	var rec FailureRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing failure marker: %w", err)
	}
	return &rec, nil
}

// RemoveStale deletes leftover artifacts from earlier attempts. Missing files
// are not an error; it returns the paths that were removed.
func RemoveStale(paths ...string) ([]string, error) {
	var removed []string
	for _, p := range paths {
		err := os.Remove(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("removing stale artifact %s: %w", p, err)
		}
		removed = append(removed, p)
	}
	return removed, nil
}

// CopyFile copies src into dst, creating or truncating dst.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return out.Close()
}

// ClearResultsDir removes every entry of resultsDir, creating it when absent.
func ClearResultsDir(resultsDir string) (int, error) {
	entries, err := os.ReadDir(resultsDir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, os.MkdirAll(resultsDir, 0o755)
	}
	if err != nil {
		return 0, fmt.Errorf("reading results dir: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(resultsDir, e.Name())); err != nil {
			return 0, fmt.Errorf("clearing results dir: %w", err)
		}
	}
	return len(entries), nil
}

// RunDirs lists the run directories under resultsDir in name order.
func RunDirs(resultsDir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(resultsDir, "run_*"))
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.IsDir() {
			dirs = append(dirs, m)
		}
	}
	return dirs, nil
}
