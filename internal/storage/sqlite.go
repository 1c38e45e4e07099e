package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rollno10/crossContractObfuscation/internal/selector"
)

// Run is one obfuscation run as recorded in the ledger.
type Run struct {
	ID        int64
	StartedAt time.Time
	Input     string
	RuleStore string
	OutputDir string
	Seed      uint64
	Units     int
	Changed   int
	Failed    int
	Selectors int
}

type SelectorRow struct {
	Selector          string
	FunctionSignature string
	ContractAddress   string
}

// Ledger persists runs and their selector registries in SQLite.
type Ledger struct {
	db *sql.DB
}

// Open creates or opens the ledger database at path.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	l := &Ledger{db: db}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return l, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

func (l *Ledger) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			started_at INTEGER,
			input TEXT,
			rule_store TEXT,
			output_dir TEXT,
			seed INTEGER,
			units INTEGER,
			changed INTEGER,
			failed INTEGER,
			selectors INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS selectors (
			run_id INTEGER REFERENCES runs(id),
			selector TEXT,
			function_signature TEXT,
			contract_address TEXT,
			PRIMARY KEY (run_id, selector)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_selectors_signature ON selectors(function_signature);`,
	}
	for _, q := range queries {
		if _, err := l.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// RecordRun stores run and the registry snapshot in one transaction and returns the run id.
func (l *Ledger) RecordRun(ctx context.Context, run Run, registry map[string]selector.Entry) (int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs (started_at, input, rule_store, output_dir, seed, units, changed, failed, selectors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.StartedAt.Unix(), run.Input, run.RuleStore, run.OutputDir, int64(run.Seed), run.Units, run.Changed, run.Failed, len(registry))
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO selectors (run_id, selector, function_signature, contract_address) VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id, selector) DO NOTHING
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e := registry[k]
		if _, err := stmt.ExecContext(ctx, id, k, e.FunctionSignature, e.ContractAddress); err != nil {
			return 0, fmt.Errorf("failed to insert selector %s: %w", k, err)
		}
	}
	return id, tx.Commit()
}

// ListRuns returns the most recent runs first. limit <= 0 means all.
func (l *Ledger) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	q := "SELECT id, started_at, input, rule_store, output_dir, seed, units, changed, failed, selectors FROM runs ORDER BY id DESC"
	args := []any{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r       Run
			started int64
			seed    int64
		)
		if err := rows.Scan(&r.ID, &started, &r.Input, &r.RuleStore, &r.OutputDir, &seed, &r.Units, &r.Changed, &r.Failed, &r.Selectors); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = time.Unix(started, 0)
		r.Seed = uint64(seed)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Selectors returns the registry recorded for a run, ordered by selector.
func (l *Ledger) Selectors(ctx context.Context, runID int64) ([]SelectorRow, error) {
	rows, err := l.db.QueryContext(ctx,
		"SELECT selector, function_signature, contract_address FROM selectors WHERE run_id = ? ORDER BY selector", runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query selectors: %w", err)
	}
	defer rows.Close()

	var out []SelectorRow
	for rows.Next() {
		var s SelectorRow
		if err := rows.Scan(&s.Selector, &s.FunctionSignature, &s.ContractAddress); err != nil {
			return nil, fmt.Errorf("failed to scan selector: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// FindSignature looks a selector up across all recorded runs, newest first.
func (l *Ledger) FindSignature(ctx context.Context, sel string) ([]SelectorRow, error) {
	rows, err := l.db.QueryContext(ctx,
		"SELECT selector, function_signature, contract_address FROM selectors WHERE selector = ? ORDER BY run_id DESC", sel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SelectorRow
	for rows.Next() {
		var s SelectorRow
		if err := rows.Scan(&s.Selector, &s.FunctionSignature, &s.ContractAddress); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
