// Package history stores ended farm sessions in a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"tlifarm/internal/session"
)

// Store is an ended-session database.
type Store struct {
	db *sql.DB
}

// Record is one ended session as stored.
type Record struct {
	ID        string
	PresetID  string
	StartedAt time.Time
	EndedAt   time.Time
	Stats     session.SessionStats
	Drops     map[int64]int32
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init pragmas: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			preset_id TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			ended_at INTEGER NOT NULL,
			total_items INTEGER NOT NULL,
			unique_items INTEGER NOT NULL,
			total_value REAL NOT NULL,
			maps_completed INTEGER NOT NULL,
			duration_sec INTEGER NOT NULL,
			avg_map_duration_sec INTEGER NOT NULL,
			stale_price_lines INTEGER NOT NULL,
			hourly_profit REAL NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS sessions_ended_at ON sessions(ended_at);`,
		`CREATE TABLE IF NOT EXISTS session_drops (
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			item_id INTEGER NOT NULL,
			quantity INTEGER NOT NULL,
			PRIMARY KEY (session_id, item_id)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores an ended session with its final statistics. Recording the
// same session id twice replaces the earlier row.
func (s *Store) Record(ctx context.Context, fs session.FarmSession, st session.SessionStats, endedAt time.Time) error {
	if fs.ID == "" {
		return fmt.Errorf("session has no id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, fs.ID); err != nil {
		return fmt.Errorf("replace session: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO sessions (
			id, preset_id, started_at, ended_at, total_items, unique_items, total_value,
			maps_completed, duration_sec, avg_map_duration_sec, stale_price_lines, hourly_profit
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fs.ID, fs.PresetID, fs.StartedAt.UnixMilli(), endedAt.UnixMilli(),
		st.TotalItems, st.UniqueItems, st.TotalValue,
		st.MapsCompleted, st.DurationSec, st.AvgMapDurationSec, st.StalePriceLines, st.HourlyProfit,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	ids := make([]int64, 0, len(fs.Drops))
	for id := range fs.Drops {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_drops (session_id, item_id, quantity) VALUES (?, ?, ?)`,
			fs.ID, id, fs.Drops[id],
		); err != nil {
			return fmt.Errorf("insert drop %d: %w", id, err)
		}
	}
	return tx.Commit()
}

// List returns up to limit sessions, most recently ended first. A
// non-positive limit returns all of them.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT
			id, preset_id, started_at, ended_at, total_items, unique_items, total_value,
			maps_completed, duration_sec, avg_map_duration_sec, stale_price_lines, hourly_profit
		FROM sessions ORDER BY ended_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var started, ended int64
		if err := rows.Scan(
			&r.ID, &r.PresetID, &started, &ended,
			&r.Stats.TotalItems, &r.Stats.UniqueItems, &r.Stats.TotalValue,
			&r.Stats.MapsCompleted, &r.Stats.DurationSec, &r.Stats.AvgMapDurationSec,
			&r.Stats.StalePriceLines, &r.Stats.HourlyProfit,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		r.EndedAt = time.UnixMilli(ended).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range out {
		drops, err := s.Drops(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Drops = drops
	}
	return out, nil
}

// Drops returns the per-item quantities recorded for a session.
func (s *Store) Drops(ctx context.Context, sessionID string) (map[int64]int32, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, quantity FROM session_drops WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query drops: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]int32)
	for rows.Next() {
		var id int64
		var qty int32
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, fmt.Errorf("scan drop: %w", err)
		}
		out[id] = qty
	}
	return out, rows.Err()
}
