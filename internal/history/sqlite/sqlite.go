// Package sqlite records worker lifecycle events in a local SQLite database
// (modernc.org/sqlite driver, CGO-free). Use ":memory:" for an in-memory DB.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentdeck/agentdeck/internal/history"
)

type Sink struct {
	db *sql.DB
}

func New(path string) (*Sink, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	s := &Sink{db: d}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = d.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS worker_history(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event TEXT NOT NULL,
			occurred_at TIMESTAMP NOT NULL,
			supervisor TEXT NOT NULL,
			key TEXT NOT NULL,
			target TEXT NOT NULL,
			pid INTEGER NOT NULL,
			port INTEGER NOT NULL,
			started_at TIMESTAMP NULL,
			reason TEXT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_worker_history_key ON worker_history(supervisor, key);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Close() error { return s.db.Close() }

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO worker_history(event, occurred_at, supervisor, key, target, pid, port, started_at, reason)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		string(e.Type), e.OccurredAt.UTC(), e.Supervisor, e.Key, e.Target, e.PID, e.Port,
		e.StartedAt.UTC(), e.Reason)
	return err
}

// Recent returns up to limit events for a supervisor, newest first.
func (s *Sink) Recent(ctx context.Context, supervisor string, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT event, occurred_at, supervisor, key, target, pid, port, started_at, COALESCE(reason,'')
		 FROM worker_history WHERE supervisor = ? ORDER BY id DESC LIMIT ?`, supervisor, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []history.Event
	for rows.Next() {
		var e history.Event
		var typ string
		var occurred, started time.Time
		if err := rows.Scan(&typ, &occurred, &e.Supervisor, &e.Key, &e.Target, &e.PID, &e.Port, &started, &e.Reason); err != nil {
			return nil, err
		}
		e.Type = history.EventType(typ)
		e.OccurredAt = occurred
		e.StartedAt = started
		out = append(out, e)
	}
	return out, rows.Err()
}
