// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     events
// Description: SQLite journal of session events and completed turns
// Author:      Mike Stoffels with Claude
// Created:     2026-10-18
// License:     MIT
// ============================================================================

package events

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/msto63/bell/pkg/core/logging"
)

// JournalConfig holds configuration for the SQLite journal
type JournalConfig struct {
	Path string

	// IncludeLevels also stores the per-frame Listening events
	IncludeLevels bool
}

// DefaultJournalConfig returns default configuration
func DefaultJournalConfig() JournalConfig {
	return JournalConfig{Path: "./data/bell.db"}
}

// TurnRecord is one completed turn
type TurnRecord struct {
	ID          string
	SessionID   string
	StartedAt   time.Time
	CompletedAt time.Time
	Transcript  string
	Response    string
}

// EventRecord is one persisted event
type EventRecord struct {
	ID        string
	SessionID string
	TurnID    string
	Type      Type
	Time      time.Time
	Text      string
	ErrorCode string
	Error     string
}

// Journal persists events to SQLite in WAL mode
type Journal struct {
	db            *sql.DB
	mu            sync.Mutex
	includeLevels bool
	turnStarts    map[string]time.Time
	logger        *logging.Logger
}

// NewJournal opens (or creates) the journal database
func NewJournal(cfg JournalConfig) (*Journal, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	j := &Journal{
		db:            db,
		includeLevels: cfg.IncludeLevels,
		turnStarts:    make(map[string]time.Time),
		logger:        logging.New("bell-journal"),
	}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return j, nil
}

func (j *Journal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		turn_id TEXT,
		type TEXT NOT NULL,
		time DATETIME NOT NULL,
		audio_level REAL,
		text TEXT,
		error_code TEXT,
		error TEXT
	);

	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		completed_at DATETIME NOT NULL,
		transcript TEXT NOT NULL,
		response TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, time);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, completed_at DESC);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Handle is an events.Listener that records ev, logging failures
func (j *Journal) Handle(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := j.Record(ctx, ev); err != nil {
		j.logger.Error("Failed to journal event", "type", string(ev.Type), "error", err)
	}
}

// Record stores ev. A TurnCompleted event also writes the turn row.
func (j *Journal) Record(ctx context.Context, ev Event) error {
	if ev.Type == TypeListening && !j.includeLevels {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	var errMsg sql.NullString
	if ev.Err != nil {
		errMsg = sql.NullString{String: ev.Err.Error(), Valid: true}
	}
	text := ev.Text
	if text == "" {
		text = ev.Response
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO events (id, session_id, turn_id, type, time, audio_level, text, error_code, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.New().String(), ev.SessionID, ev.TurnID, string(ev.Type), ev.Time, ev.AudioLevel,
		text, ErrorCode(ev.Err), errMsg)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	switch ev.Type {
	case TypeProcessing:
		if ev.TurnID != "" {
			j.turnStarts[ev.TurnID] = ev.Time
		}
	case TypeTurnCompleted:
		started, ok := j.turnStarts[ev.TurnID]
		if !ok {
			started = ev.Time
		}
		delete(j.turnStarts, ev.TurnID)

		turnID := ev.TurnID
		if turnID == "" {
			turnID = uuid.New().String()
		}
		_, err := j.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO turns (id, session_id, started_at, completed_at, transcript, response)
			VALUES (?, ?, ?, ?, ?, ?)
		`, turnID, ev.SessionID, started, ev.Time, ev.Transcript, ev.Response)
		if err != nil {
			return fmt.Errorf("failed to insert turn: %w", err)
		}
	case TypeStopped, TypeError:
		j.turnStarts = make(map[string]time.Time)
	}
	return nil
}

// Turns returns the most recent completed turns, newest first.
// An empty sessionID matches every session; limit <= 0 means no limit.
func (j *Journal) Turns(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	query := `SELECT id, session_id, started_at, completed_at, transcript, response FROM turns WHERE 1=1`
	var args []interface{}

	if sessionID != "" {
		query += " AND session_id = ?"
		args = append(args, sessionID)
	}
	query += " ORDER BY completed_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []TurnRecord
	for rows.Next() {
		var t TurnRecord
		if err := rows.Scan(&t.ID, &t.SessionID, &t.StartedAt, &t.CompletedAt, &t.Transcript, &t.Response); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Events returns a session's events in emission order
func (j *Journal) Events(ctx context.Context, sessionID string) ([]EventRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, session_id, turn_id, type, time, text, error_code, error
		FROM events WHERE session_id = ? ORDER BY time ASC, rowid ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var (
			r                            EventRecord
			typ                          string
			turnID, text, code, errorMsg sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &turnID, &typ, &r.Time, &text, &code, &errorMsg); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		r.Type = Type(typ)
		r.TurnID = turnID.String
		r.Text = text.String
		r.ErrorCode = code.String
		r.Error = errorMsg.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database connection
func (j *Journal) Close() error {
	return j.db.Close()
}
