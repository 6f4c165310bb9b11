// Package history keeps an append-only SQLite ledger of every run attempt
// across campaigns.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Attempt is one row of the ledger.
type Attempt struct {
	ID         int64
	CampaignID string
	RunID      int
	RunName    string
	Status     string
	ErrorType  string
	Error      string
	Objective  *float64
	Profit     *float64
	Drawdown   string
	Admitted   bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is the wall time of the attempt.
func (a Attempt) Duration() time.Duration { return a.FinishedAt.Sub(a.StartedAt) }

type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS attempts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	campaign_id TEXT NOT NULL,
	run_id INTEGER NOT NULL,
	run_name TEXT NOT NULL,
	status TEXT NOT NULL,
	error_type TEXT,
	error TEXT,
	objective REAL,
	profit REAL,
	drawdown TEXT,
	admitted INTEGER NOT NULL DEFAULT 0,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_campaign ON attempts(campaign_id);`

// Open creates or opens the ledger at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating history dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening history %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends a and returns its row id.
func (s *Store) Record(ctx context.Context, a Attempt) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO attempts (campaign_id, run_id, run_name, status, error_type, error,
			objective, profit, drawdown, admitted, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.CampaignID, a.RunID, a.RunName, a.Status,
		nullString(a.ErrorType), nullString(a.Error),
		nullFloat(a.Objective), nullFloat(a.Profit), nullString(a.Drawdown),
		a.Admitted,
		a.StartedAt.UTC().Format(time.RFC3339Nano), a.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("recording attempt %s: %w", a.RunName, err)
	}
	return res.LastInsertId()
}

// List returns up to limit attempts, newest first. A limit of zero or less
// returns all of them.
func (s *Store) List(ctx context.Context, limit int) ([]Attempt, error) {
	query := `SELECT id, campaign_id, run_id, run_name, status, error_type, error,
		objective, profit, drawdown, admitted, started_at, finished_at
		FROM attempts ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var (
			a                        Attempt
			errType, errMsg, dd      sql.NullString
			objective, profit        sql.NullFloat64
			startedText, finishedTxt string
		)
		if err := rows.Scan(&a.ID, &a.CampaignID, &a.RunID, &a.RunName, &a.Status, &errType, &errMsg,
			&objective, &profit, &dd, &a.Admitted, &startedText, &finishedTxt); err != nil {
			return nil, fmt.Errorf("scanning attempt: %w", err)
		}
		a.ErrorType = errType.String
		a.Error = errMsg.String
		a.Drawdown = dd.String
		if objective.Valid {
			v := objective.Float64
			a.Objective = &v
		}
		if profit.Valid {
			v := profit.Float64
			a.Profit = &v
		}
		if a.StartedAt, err = time.Parse(time.RFC3339Nano, startedText); err != nil {
			return nil, fmt.Errorf("parsing started_at of attempt %d: %w", a.ID, err)
		}
		if a.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedTxt); err != nil {
			return nil, fmt.Errorf("parsing finished_at of attempt %d: %w", a.ID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
