// Package store archives completed simulation runs in SQLite.
//
// One row per run: the configuration tuple that determines the run
// (seed, scenario, engine) plus headline metrics. Nothing order- or
// book-level is persisted — the book lives purely in memory; the archive
// exists so repeated experiments can be compared across invocations.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at    DATETIME NOT NULL,
    seed          INTEGER  NOT NULL,
    scenario      TEXT     NOT NULL,
    engine        TEXT     NOT NULL,
    orders        INTEGER  NOT NULL DEFAULT 0,
    filled_qty    TEXT     NOT NULL DEFAULT '0',
    fill_ratio    TEXT     NOT NULL DEFAULT '0',
    mean_slippage TEXT     NOT NULL DEFAULT '0',
    profit_loss   TEXT     NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_scenario ON runs(scenario, engine);
`

// RunRecord is one archived run summary. Decimal-valued metrics are kept
// as their stable string form.
type RunRecord struct {
	ID           int64
	CreatedAt    time.Time
	Seed         uint32
	Scenario     string
	Engine       string
	Orders       int
	FilledQty    string
	FillRatio    string
	MeanSlippage string
	ProfitLoss   string
}

// Store wraps the archive database.
type Store struct {
	db *sql.DB
}

// Open creates (or opens) the archive at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun inserts one run summary and returns its row id.
func (s *Store) SaveRun(rec RunRecord) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO runs (created_at, seed, scenario, engine, orders, filled_qty, fill_ratio, mean_slippage, profit_loss)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CreatedAt.UTC(), rec.Seed, rec.Scenario, rec.Engine,
		rec.Orders, rec.FilledQty, rec.FillRatio, rec.MeanSlippage, rec.ProfitLoss,
	)
	if err != nil {
		return 0, fmt.Errorf("store: save run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: last insert id: %w", err)
	}
	return id, nil
}

// RecentRuns returns the latest runs, newest first.
func (s *Store) RecentRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, created_at, seed, scenario, engine, orders, filled_qty, fill_ratio, mean_slippage, profit_loss
		FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		if err := rows.Scan(&rec.ID, &rec.CreatedAt, &rec.Seed, &rec.Scenario, &rec.Engine,
			&rec.Orders, &rec.FilledQty, &rec.FillRatio, &rec.MeanSlippage, &rec.ProfitLoss); err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
