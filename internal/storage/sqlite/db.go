package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"sessionsplit/internal/domain"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("sqlite: not found")

type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	InputPath  string

	Provider      string
	Model         string
	Mode          string
	WindowSize    int
	Overlap       int
	ContextSize   int
	VoteThreshold int
	AutoMarkCount int

	Messages       int
	Entities       int
	Channels       int
	Sessions       int
	Boundaries     int
	OracleCalls    int
	OracleFailures int
	Uncovered      int

	InputTokens  int64
	OutputTokens int64
}

func InitDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("sqlite: create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id              TEXT PRIMARY KEY,
		started_at      DATETIME NOT NULL,
		finished_at     DATETIME NOT NULL,
		input_path      TEXT DEFAULT '',
		provider        TEXT DEFAULT '',
		model           TEXT DEFAULT '',
		mode            TEXT NOT NULL,
		window_size     INTEGER NOT NULL,
		overlap         INTEGER NOT NULL,
		context_size    INTEGER NOT NULL,
		vote_threshold  INTEGER NOT NULL,
		auto_mark_count INTEGER NOT NULL,
		messages        INTEGER NOT NULL DEFAULT 0,
		entities        INTEGER NOT NULL DEFAULT 0,
		channels        INTEGER NOT NULL DEFAULT 0,
		sessions        INTEGER NOT NULL DEFAULT 0,
		boundaries      INTEGER NOT NULL DEFAULT 0,
		oracle_calls    INTEGER NOT NULL DEFAULT 0,
		oracle_failures INTEGER NOT NULL DEFAULT 0,
		uncovered       INTEGER NOT NULL DEFAULT 0,
		input_tokens    INTEGER NOT NULL DEFAULT 0,
		output_tokens   INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

	CREATE TABLE IF NOT EXISTS segmented_messages (
		run_id             TEXT NOT NULL,
		position           INTEGER NOT NULL,
		message_id         TEXT NOT NULL,
		entity_id          TEXT NOT NULL,
		channel_id         TEXT NOT NULL,
		sent_at            DATETIME NOT NULL,
		role               TEXT NOT NULL,
		predicted_boundary INTEGER NOT NULL,
		session_start      INTEGER NOT NULL,
		session_id         TEXT NOT NULL,
		ground_truth       INTEGER NOT NULL DEFAULT 0,
		raw_label          TEXT DEFAULT '',
		PRIMARY KEY (run_id, message_id)
	);
	CREATE INDEX IF NOT EXISTS idx_sm_run_position ON segmented_messages(run_id, position);

	CREATE TABLE IF NOT EXISTS evaluations (
		run_id TEXT NOT NULL,
		metric TEXT NOT NULL,
		value  REAL NOT NULL,
		PRIMARY KEY (run_id, metric)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	return db, nil
}

func SaveRun(db *sql.DB, r Run) error {
	_, err := db.Exec(
		`INSERT INTO runs (id, started_at, finished_at, input_path, provider, model, mode,
			window_size, overlap, context_size, vote_threshold, auto_mark_count,
			messages, entities, channels, sessions, boundaries,
			oracle_calls, oracle_failures, uncovered, input_tokens, output_tokens)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StartedAt.UTC(), r.FinishedAt.UTC(), r.InputPath, r.Provider, r.Model, r.Mode,
		r.WindowSize, r.Overlap, r.ContextSize, r.VoteThreshold, r.AutoMarkCount,
		r.Messages, r.Entities, r.Channels, r.Sessions, r.Boundaries,
		r.OracleCalls, r.OracleFailures, r.Uncovered, r.InputTokens, r.OutputTokens,
	)
	if err != nil {
		return fmt.Errorf("sqlite: save run %s: %w", r.ID, err)
	}
	return nil
}

const runColumns = `id, started_at, finished_at, input_path, provider, model, mode,
	window_size, overlap, context_size, vote_threshold, auto_mark_count,
	messages, entities, channels, sessions, boundaries,
	oracle_calls, oracle_failures, uncovered, input_tokens, output_tokens`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var r Run
	err := s.Scan(
		&r.ID, &r.StartedAt, &r.FinishedAt, &r.InputPath, &r.Provider, &r.Model, &r.Mode,
		&r.WindowSize, &r.Overlap, &r.ContextSize, &r.VoteThreshold, &r.AutoMarkCount,
		&r.Messages, &r.Entities, &r.Channels, &r.Sessions, &r.Boundaries,
		&r.OracleCalls, &r.OracleFailures, &r.Uncovered, &r.InputTokens, &r.OutputTokens,
	)
	return r, err
}

func GetRun(db *sql.DB, id string) (Run, error) {
	r, err := scanRun(db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("sqlite: get run %s: %w", id, err)
	}
	return r, nil
}

// ListRuns returns the most recent runs first. limit <= 0 means no limit.
func ListRuns(db *sql.DB, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// SaveSegmentedMessages stores the output rows of a run in one transaction.
func SaveSegmentedMessages(db *sql.DB, runID string, rows []domain.SegmentedMessage) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO segmented_messages (run_id, position, message_id, entity_id, channel_id, sent_at,
			role, predicted_boundary, session_start, session_id, ground_truth, raw_label)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: prepare: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for i, row := range rows {
		_, err := stmt.Exec(
			runID, i, row.ID, row.EntityID, row.ChannelID, row.Timestamp.UTC(),
			row.Role.String(), row.PredictedBoundary, row.SessionStart, row.SessionID, int(row.GroundTruth), row.RawLabel,
		)
		if err != nil {
			return inserted, fmt.Errorf("sqlite: insert message %s: %w", row.ID, err)
		}
		inserted++
	}
	if err := tx.Commit(); err != nil {
		return inserted, fmt.Errorf("sqlite: commit: %w", err)
	}
	return inserted, nil
}

// GetSegmentedMessages returns the stored rows of a run in output order.
// Message text is not stored.
func GetSegmentedMessages(db *sql.DB, runID string) ([]domain.SegmentedMessage, error) {
	rows, err := db.Query(
		`SELECT message_id, entity_id, channel_id, sent_at, role, predicted_boundary, session_start, session_id, ground_truth, raw_label
		 FROM segmented_messages WHERE run_id = ? ORDER BY position`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: get messages: %w", err)
	}
	defer rows.Close()

	var out []domain.SegmentedMessage
	for rows.Next() {
		var (
			m     domain.SegmentedMessage
			role  string
			label int
		)
		if err := rows.Scan(&m.ID, &m.EntityID, &m.ChannelID, &m.Timestamp, &role,
			&m.PredictedBoundary, &m.SessionStart, &m.SessionID, &label, &m.RawLabel); err != nil {
			return nil, fmt.Errorf("sqlite: scan message: %w", err)
		}
		if m.Role, err = domain.ParseRole(role); err != nil {
			return nil, fmt.Errorf("sqlite: message %s: %w", m.ID, err)
		}
		m.GroundTruth = domain.Label(label)
		m.FirstEver = m.RawLabel == domain.FirstEverMarker
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveEvaluation replaces the stored metrics of a run.
func SaveEvaluation(db *sql.DB, runID string, metrics map[string]float64) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM evaluations WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("sqlite: clear evaluation: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO evaluations (run_id, metric, value) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare: %w", err)
	}
	defer stmt.Close()

	for name, value := range metrics {
		if _, err := stmt.Exec(runID, name, value); err != nil {
			return fmt.Errorf("sqlite: insert metric %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// GetEvaluation returns the stored metrics of a run; an unevaluated run
// yields an empty map.
func GetEvaluation(db *sql.DB, runID string) (map[string]float64, error) {
	rows, err := db.Query(`SELECT metric, value FROM evaluations WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: get evaluation: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var (
			name  string
			value float64
		)
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("sqlite: scan metric: %w", err)
		}
		out[name] = value
	}
	return out, rows.Err()
}
