// Package leaderboard keeps the best N hyperopt results of all campaigns
// together with the history of failed runs, persisted to a single JSON file.
package leaderboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/result"
)

// DefaultCapacity is the board size when none is configured.
const DefaultCapacity = 10

// State is the persisted document.
type State struct {
	TopResults []result.RunResult     `json:"top_results"`
	FailedRuns []result.FailureRecord `json:"failed_runs"`
}

// PersistenceError means the state could not be written. The in-memory board
// is still up to date.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("saving leaderboard %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Kind() string { return "PersistenceError" }

// InvariantViolation is raised as a panic when the board ends up oversized or
// out of order. It always indicates a bug.
type InvariantViolation struct {
	Detail string
}

func (e *InvariantViolation) Error() string {
	return "leaderboard invariant violated: " + e.Detail
}

func (e *InvariantViolation) Kind() string { return "InvariantViolation" }

// Board is the bounded, sorted set of best results. It is safe for
// concurrent use.
type Board struct {
	mu       sync.Mutex
	path     string
	capacity int
	state    State
}

// New returns an empty board that persists to path.
func New(path string, capacity int) *Board {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Board{
		path:     path,
		capacity: capacity,
		state:    emptyState(),
	}
}

// Load reads the board persisted at path. A missing or unreadable file yields
// an empty board; a file holding more than capacity results is truncated.
func Load(path string, capacity int) *Board {
	b := New(path, capacity)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", path).Msg("cannot read leaderboard, starting fresh")
		}
		return b
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("malformed leaderboard, starting fresh")
		return b
	}
	if st.TopResults == nil {
		st.TopResults = []result.RunResult{}
	}
	if st.FailedRuns == nil {
		st.FailedRuns = []result.FailureRecord{}
	}
	sortResults(st.TopResults)
	if len(st.TopResults) > b.capacity {
		log.Info().Int("loaded", len(st.TopResults)).Int("capacity", b.capacity).Msg("truncating leaderboard to capacity")
		st.TopResults = st.TopResults[:b.capacity]
	}
	b.state = st
	b.check()
	log.Debug().Str("path", path).Int("results", len(st.TopResults)).Int("failures", len(st.FailedRuns)).Msg("leaderboard loaded")
	return b
}

// Path returns the file the board persists to.
func (b *Board) Path() string { return b.path }

// Capacity returns the maximum number of results held.
func (b *Board) Capacity() int { return b.capacity }

// Admit offers r to the board. It is admitted when the board has room or when
// its objective is strictly better (lower) than the current worst, which is
// then evicted. Among equally bad entries the oldest goes first.
//
// The returned error is always a *PersistenceError; admission itself has
// already happened in memory.
func (b *Board) Admit(r result.RunResult) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	top := b.state.TopResults
	if len(top) < b.capacity {
		top = append(top, r)
	} else {
		worst := 0
		for i := range top {
			if top[i].RankKey() > top[worst].RankKey() {
				worst = i
			}
		}
		if r.RankKey() >= top[worst].RankKey() {
			return false, nil
		}
		top = append(top[:worst], top[worst+1:]...)
		top = append(top, r)
	}
	sortResults(top)
	b.state.TopResults = top
	b.check()
	return true, b.saveLocked()
}

// RecordFailure appends rec to the failure history and persists.
func (b *Board) RecordFailure(rec result.FailureRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.FailedRuns = append(b.state.FailedRuns, rec)
	return b.saveLocked()
}

// Save writes the current state.
func (b *Board) Save() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saveLocked()
}

// Snapshot returns a copy of the state safe to read while the board keeps
// changing.
func (b *Board) Snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return State{
		TopResults: append([]result.RunResult{}, b.state.TopResults...),
		FailedRuns: append([]result.FailureRecord{}, b.state.FailedRuns...),
	}
}

// ReadState decodes a persisted board without the fresh-start fallback of
// Load, for commands that only display it.
func ReadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading leaderboard: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing leaderboard %s: %w", path, err)
	}
	sortResults(st.TopResults)
	return &st, nil
}

func (b *Board) saveLocked() error {
	if b.path == "" {
		return nil
	}
	if err := writeJSONAtomic(b.path, b.state); err != nil {
		return &PersistenceError{Path: b.path, Err: err}
	}
	return nil
}

func (b *Board) check() {
	top := b.state.TopResults
	if len(top) > b.capacity {
		panic(&InvariantViolation{Detail: fmt.Sprintf("%d results exceed capacity %d", len(top), b.capacity)})
	}
	for i := 1; i < len(top); i++ {
		if top[i-1].RankKey() > top[i].RankKey() {
			panic(&InvariantViolation{Detail: fmt.Sprintf("results %d and %d out of order", i-1, i)})
		}
	}
}

func sortResults(rs []result.RunResult) {
	sort.SliceStable(rs, func(i, j int) bool {
		return rs[i].RankKey() < rs[j].RankKey()
	})
}

func emptyState() State {
	return State{
		TopResults: []result.RunResult{},
		FailedRuns: []result.FailureRecord{},
	}
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	data = append(data, '\n')
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
