// Package tracker persists per-turn run records to SQLite for offline
// analysis and runs a scheduled retention sweep.
package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Run is one completed turn.
type Run struct {
	ID        string    `json:"id"`
	TurnID    string    `json:"turn_id"`
	SessionID string    `json:"session_id"`
	Route     string    `json:"route"`
	Intent    string    `json:"intent"`
	Tier      string    `json:"tier"`
	LatencyMs int64     `json:"latency_ms"`
	OK        bool      `json:"ok"`
	Cancelled bool      `json:"cancelled"`
	CreatedAt time.Time `json:"created_at"`
}

// Config configures the tracker.
type Config struct {
	// Path is the SQLite file; empty selects in-memory.
	Path string

	// Retention drops runs older than this. Zero selects 30 days.
	Retention time.Duration

	// SweepSchedule is a cron expression for the retention sweep.
	// Empty selects daily at 03:00.
	SweepSchedule string
}

// Tracker owns the runs database and the retention cron.
type Tracker struct {
	db        *sql.DB
	retention time.Duration
	cron      *cron.Cron
	logger    *slog.Logger
}

// New opens the database, migrates the schema, and starts the sweep cron.
func New(cfg Config, logger *slog.Logger) (*Tracker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}
	t := &Tracker{
		db:        db,
		retention: retention,
		logger:    logger.With("component", "tracker"),
	}
	if err := t.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	schedule := cfg.SweepSchedule
	if schedule == "" {
		schedule = "0 3 * * *"
	}
	t.cron = cron.New()
	if _, err := t.cron.AddFunc(schedule, t.sweep); err != nil {
		db.Close()
		return nil, fmt.Errorf("retention schedule: %w", err)
	}
	t.cron.Start()
	return t, nil
}

func (t *Tracker) migrate() error {
	_, err := t.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			turn_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			route TEXT,
			intent TEXT,
			tier TEXT,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			ok INTEGER NOT NULL DEFAULT 0,
			cancelled INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	`)
	if err != nil {
		return fmt.Errorf("migrate tracker db: %w", err)
	}
	return nil
}

// Record inserts one run.
func (t *Tracker) Record(ctx context.Context, run Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO runs (id, turn_id, session_id, route, intent, tier, latency_ms, ok, cancelled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.TurnID, run.SessionID, run.Route, run.Intent, run.Tier,
		run.LatencyMs, boolInt(run.OK), boolInt(run.Cancelled), run.CreatedAt)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// Recent returns up to limit runs for a session, newest first.
func (t *Tracker) Recent(ctx context.Context, sessionID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := t.db.QueryContext(ctx, `
		SELECT id, turn_id, session_id, route, intent, tier, latency_ms, ok, cancelled, created_at
		FROM runs WHERE session_id = ? ORDER BY created_at DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var run Run
		var ok, cancelled int
		if err := rows.Scan(&run.ID, &run.TurnID, &run.SessionID, &run.Route, &run.Intent,
			&run.Tier, &run.LatencyMs, &ok, &cancelled, &run.CreatedAt); err != nil {
			return nil, err
		}
		run.OK = ok != 0
		run.Cancelled = cancelled != 0
		out = append(out, run)
	}
	return out, rows.Err()
}

// Stats summarizes a session's runs.
type Stats struct {
	Total     int     `json:"total"`
	OK        int     `json:"ok"`
	Cancelled int     `json:"cancelled"`
	AvgMs     float64 `json:"avg_ms"`
}

// SessionStats aggregates run counts and mean latency for one session.
func (t *Tracker) SessionStats(ctx context.Context, sessionID string) (Stats, error) {
	row := t.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(ok), 0), COALESCE(SUM(cancelled), 0), COALESCE(AVG(latency_ms), 0)
		FROM runs WHERE session_id = ?`, sessionID)
	var s Stats
	if err := row.Scan(&s.Total, &s.OK, &s.Cancelled, &s.AvgMs); err != nil {
		return Stats{}, fmt.Errorf("session stats: %w", err)
	}
	return s, nil
}

// sweep deletes runs past retention.
func (t *Tracker) sweep() {
	cutoff := time.Now().UTC().Add(-t.retention)
	res, err := t.db.Exec(`DELETE FROM runs WHERE created_at < ?`, cutoff)
	if err != nil {
		t.logger.Error("retention sweep failed", "error", err)
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		t.logger.Info("retention sweep", "deleted", n, "cutoff", cutoff)
	}
}

// Sweep runs the retention pass immediately, used by the doctor command.
func (t *Tracker) Sweep() { t.sweep() }

// Close stops the cron and closes the database.
func (t *Tracker) Close() error {
	if t.cron != nil {
		t.cron.Stop()
	}
	return t.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
