package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"kgqa_agent/internal/common"

	_ "modernc.org/sqlite"
)

// Store handles SQLite persistence for sessions, rounds, and steps.
type Store struct {
	db *sql.DB
}

// RoundRecord is a stored round with its position in the session.
type RoundRecord struct {
	Num       int
	CreatedAt string
	common.Round
}

// OpenStore opens (or creates) a SQLite database at the given path and runs migrations.
func OpenStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer at a time keeps concurrent requests off SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	ddl := `
	CREATE TABLE IF NOT EXISTS sessions (
		id          TEXT PRIMARY KEY,
		created_at  TEXT NOT NULL DEFAULT (datetime('now')),
		updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
	);
	CREATE TABLE IF NOT EXISTS rounds (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id  TEXT NOT NULL REFERENCES sessions(id),
		round_num   INTEGER NOT NULL,
		question    TEXT NOT NULL,
		plan_json   TEXT DEFAULT '',
		answer      TEXT DEFAULT '',
		errors_json TEXT DEFAULT '[]',
		created_at  TEXT NOT NULL DEFAULT (datetime('now'))
	);
	CREATE TABLE IF NOT EXISTS steps (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		round_id    INTEGER NOT NULL REFERENCES rounds(id),
		step_index  INTEGER NOT NULL,
		instruction TEXT NOT NULL,
		tool        TEXT DEFAULT '',
		result      TEXT DEFAULT '',
		status      TEXT DEFAULT 'pending',
		created_at  TEXT NOT NULL DEFAULT (datetime('now'))
	);`
	_, err := s.db.Exec(ddl)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession creates a session record. Creating an existing session is a no-op.
func (s *Store) CreateSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO sessions (id) VALUES (?)", id)
	return err
}

// SessionExists checks if a session with the given ID exists.
func (s *Store) SessionExists(ctx context.Context, id string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions WHERE id = ?", id).Scan(&count)
	return count > 0, err
}

// GetRoundCount returns the number of rounds in a session.
func (s *Store) GetRoundCount(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rounds WHERE session_id = ?", sessionID).Scan(&count)
	return count, err
}

// SaveRound stores r and its steps as the next round of sessionID, creating the
// session when needed.
func (s *Store) SaveRound(ctx context.Context, sessionID string, r common.Round) error {
	planJSON, err := json.Marshal(r.Plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	errs := r.Errors
	if errs == nil {
		errs = []string{}
	}
	errsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("encode errors: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO sessions (id) VALUES (?)", sessionID); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO rounds (session_id, round_num, question, plan_json, answer, errors_json)
		 VALUES (?, (SELECT COUNT(*) + 1 FROM rounds WHERE session_id = ?), ?, ?, ?, ?)`,
		sessionID, sessionID, r.Question, string(planJSON), r.Answer, string(errsJSON),
	)
	if err != nil {
		return fmt.Errorf("insert round: %w", err)
	}
	roundID, err := res.LastInsertId()
	if err != nil {
		return err
	}
	for i, step := range r.Plan.Steps {
		status := "pending"
		if step.IsComplete {
			status = "completed"
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO steps (round_id, step_index, instruction, tool, result, status) VALUES (?, ?, ?, ?, ?, ?)",
			roundID, i, step.Instruction, step.SuggestedTool, step.Result, status,
		); err != nil {
			return fmt.Errorf("insert step %d: %w", i+1, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE sessions SET updated_at = ? WHERE id = ?",
		time.Now().UTC().Format(time.RFC3339), sessionID,
	); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return tx.Commit()
}

// Rounds returns every round of a session, oldest first.
func (s *Store) Rounds(ctx context.Context, sessionID string) ([]RoundRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT round_num, question, plan_json, answer, errors_json, created_at FROM rounds WHERE session_id = ? ORDER BY round_num ASC",
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RoundRecord
	for rows.Next() {
		var rec RoundRecord
		var planJSON, errsJSON string
		if err := rows.Scan(&rec.Num, &rec.Question, &planJSON, &rec.Answer, &errsJSON, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if planJSON != "" {
			if err := json.Unmarshal([]byte(planJSON), &rec.Plan); err != nil {
				return nil, fmt.Errorf("decode plan of round %d: %w", rec.Num, err)
			}
		}
		if errsJSON != "" {
			if err := json.Unmarshal([]byte(errsJSON), &rec.Errors); err != nil {
				return nil, fmt.Errorf("decode errors of round %d: %w", rec.Num, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// History returns the question and answer of every round, oldest first.
func (s *Store) History(ctx context.Context, sessionID string) ([]common.Exchange, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT question, answer FROM rounds WHERE session_id = ? ORDER BY round_num ASC",
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.Exchange
	for rows.Next() {
		var ex common.Exchange
		if err := rows.Scan(&ex.Question, &ex.Answer); err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}
