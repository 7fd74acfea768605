// Package history persists one row per analysis run for later comparison
// and trend reporting, mirroring the role internal/trace's SQLiteStore
// plays for AgentWarden's session ledger (repurposed here from a
// multi-table trace/session/violation schema down to one analysis_runs
// table).
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xfidelity/xfidelity/internal/xfitypes"
)

// Run is one persisted analysis run summary.
type Run struct {
	ID              string    `json:"id"`
	RepoPath        string    `json:"repoPath"`
	RepoURL         string    `json:"repoUrl"`
	Archetype       string    `json:"archetype"`
	StartTime       time.Time `json:"startTime"`
	FinishTime      time.Time `json:"finishTime"`
	DurationSeconds float64   `json:"durationSeconds"`
	TotalIssues     int       `json:"totalIssues"`
	WarningCount    int       `json:"warningCount"`
	ErrorCount      int       `json:"errorCount"`
	FatalityCount   int       `json:"fatalityCount"`
	ExemptCount     int       `json:"exemptCount"`
}

// Store persists and queries analysis run history.
type Store struct {
	db *sql.DB
}

// Open creates (or reopens) a SQLite-backed run-history store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	return &Store{db: db}, nil
}

// Initialize creates the analysis_runs table and its indexes.
func (s *Store) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS analysis_runs (
		id               TEXT PRIMARY KEY,
		repo_path        TEXT NOT NULL,
		repo_url         TEXT,
		archetype        TEXT NOT NULL,
		start_time       DATETIME NOT NULL,
		finish_time      DATETIME NOT NULL,
		duration_seconds REAL NOT NULL,
		total_issues     INTEGER NOT NULL DEFAULT 0,
		warning_count    INTEGER NOT NULL DEFAULT 0,
		error_count      INTEGER NOT NULL DEFAULT 0,
		fatality_count   INTEGER NOT NULL DEFAULT 0,
		exempt_count     INTEGER NOT NULL DEFAULT 0,
		result_json      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_analysis_runs_repo ON analysis_runs(repo_path);
	CREATE INDEX IF NOT EXISTS idx_analysis_runs_start_time ON analysis_runs(start_time);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close shuts down the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a completed run keyed by runID, storing the full
// XFIResult as JSON alongside its summary columns for fast listing.
func (s *Store) Record(runID string, result xfitypes.XFIResult) error {
	blob, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result for history: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO analysis_runs
		(id, repo_path, repo_url, archetype, start_time, finish_time, duration_seconds,
		 total_issues, warning_count, error_count, fatality_count, exempt_count, result_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, result.RepoPath, result.RepoURL, result.Archetype,
		result.StartTime, result.FinishTime, result.DurationSeconds,
		result.TotalIssues, result.WarningCount, result.ErrorCount, result.FatalityCount, result.ExemptCount,
		string(blob),
	)
	if err != nil {
		return fmt.Errorf("insert analysis run: %w", err)
	}
	return nil
}

// Recent returns up to limit most recent runs for repoPath, newest first.
func (s *Store) Recent(repoPath string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT id, repo_path, repo_url, archetype, start_time, finish_time,
		duration_seconds, total_issues, warning_count, error_count, fatality_count, exempt_count
		FROM analysis_runs WHERE repo_path = ? ORDER BY start_time DESC LIMIT ?`, repoPath, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.RepoPath, &r.RepoURL, &r.Archetype, &r.StartTime, &r.FinishTime,
			&r.DurationSeconds, &r.TotalIssues, &r.WarningCount, &r.ErrorCount, &r.FatalityCount, &r.ExemptCount); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Get loads the full persisted XFIResult for a run.
func (s *Store) Get(runID string) (*xfitypes.XFIResult, error) {
	var blob string
	err := s.db.QueryRow(`SELECT result_json FROM analysis_runs WHERE id = ?`, runID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s: %w", runID, sql.ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	var result xfitypes.XFIResult
	if err := json.Unmarshal([]byte(blob), &result); err != nil {
		return nil, fmt.Errorf("unmarshal stored result: %w", err)
	}
	return &result, nil
}

// PruneOlderThan deletes runs older than the given number of days,
// returning the count removed.
func (s *Store) PruneOlderThan(days int) (int64, error) {
	cutoff := nowMinusDays(days)
	result, err := s.db.Exec(`DELETE FROM analysis_runs WHERE start_time < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func nowMinusDays(days int) time.Time {
	return time.Now().AddDate(0, 0, -days)
}
