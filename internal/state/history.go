package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Ning0612/rclonesync/internal/domain"
)

// DatabaseFileName is the run history database inside the state directory
const DatabaseFileName = "rclonesync.db"

// Store persists the outcome of every run that got past lock acquisition
type Store struct {
	db *sql.DB
}

// RunRecord represents a single sync run
type RunRecord struct {
	ID          int64
	StableID    string
	RunID       string
	Source      string
	Destination string
	StartTime   time.Time
	EndTime     time.Time
	Status      domain.RunStatus
	ExitCode    int
	Error       string
	BackupDir   string
	LogFile     string
}

// Duration returns the wall-clock length of the run
func (r RunRecord) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// Open opens (creating if needed) the run history in stateDir
func Open(stateDir string) (*Store, error) {
	if stateDir == "" {
		return nil, fmt.Errorf("state directory cannot be empty")
	}

	// Ensure directory exists
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	dbPath := filepath.Join(stateDir, DatabaseFileName)
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Runs for different pairs may finish at the same time; one connection
	// plus a busy timeout serialises their writes
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode and busy timeout: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		stable_id TEXT NOT NULL,
		run_id TEXT NOT NULL,
		source TEXT NOT NULL,
		destination TEXT NOT NULL,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		exit_code INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		backup_dir TEXT NOT NULL DEFAULT '',
		log_file TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_pair_time ON runs(stable_id, start_time DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveRun records a finished run and returns its row id
func (s *Store) SaveRun(record RunRecord) (int64, error) {
	if !record.Status.IsValid() {
		return 0, fmt.Errorf("invalid status: %s (must be 'success' or 'failed')", record.Status)
	}
	if record.StableID == "" {
		return 0, fmt.Errorf("run record has no stable id")
	}

	query := `
		INSERT INTO runs (stable_id, run_id, source, destination, start_time, end_time,
			status, exit_code, error, backup_dir, log_file)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.db.Exec(query,
		record.StableID,
		record.RunID,
		record.Source,
		record.Destination,
		record.StartTime.UTC(),
		record.EndTime.UTC(),
		string(record.Status),
		record.ExitCode,
		record.Error,
		record.BackupDir,
		record.LogFile,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save run record: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read run record id: %w", err)
	}
	return id, nil
}

const selectRuns = `
	SELECT id, stable_id, run_id, source, destination, start_time, end_time,
		status, exit_code, error, backup_dir, log_file
	FROM runs
`

// History returns the most recent runs of one pair, newest first
func (s *Store) History(stableID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	rows, err := s.db.Query(selectRuns+`
		WHERE stable_id = ?
		ORDER BY start_time DESC, id DESC
		LIMIT ?`, stableID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return scanRuns(rows)
}

// AllHistory returns the most recent runs of every pair, newest first
func (s *Store) AllHistory(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	rows, err := s.db.Query(selectRuns+`
		ORDER BY start_time DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query all history: %w", err)
	}
	return scanRuns(rows)
}

// LastSuccess returns the newest successful run of a pair, or nil if the
// pair never succeeded
func (s *Store) LastSuccess(stableID string) (*RunRecord, error) {
	row := s.db.QueryRow(selectRuns+`
		WHERE stable_id = ? AND status = ?
		ORDER BY start_time DESC, id DESC
		LIMIT 1`, stableID, string(domain.RunSuccess))

	record, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last success: %w", err)
	}
	return record, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*RunRecord, error) {
	var record RunRecord
	var status string
	err := row.Scan(
		&record.ID,
		&record.StableID,
		&record.RunID,
		&record.Source,
		&record.Destination,
		&record.StartTime,
		&record.EndTime,
		&status,
		&record.ExitCode,
		&record.Error,
		&record.BackupDir,
		&record.LogFile,
	)
	if err != nil {
		return nil, err
	}
	record.Status = domain.RunStatus(status)
	return &record, nil
}

func scanRuns(rows *sql.Rows) ([]RunRecord, error) {
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		record, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}
