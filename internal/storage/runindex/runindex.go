// Package runindex keeps a queryable SQLite index of archived runs and their trades.
package runindex

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"github.com/newthinker/quantsim/internal/backtest"
	"github.com/newthinker/quantsim/internal/broker"
	"github.com/newthinker/quantsim/internal/core"
	"github.com/newthinker/quantsim/internal/storage/archive"
)

var schema = []string{`CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	strategy        TEXT NOT NULL,
	archive_path    TEXT NOT NULL,
	saved_at        INTEGER NOT NULL,
	start_date      INTEGER NOT NULL,
	end_date        INTEGER NOT NULL,
	initial_capital REAL NOT NULL,
	final_equity    REAL NOT NULL,
	total_return    REAL,
	sharpe_ratio    REAL,
	max_drawdown    REAL,
	total_trades    INTEGER NOT NULL,
	metrics_error   TEXT NOT NULL DEFAULT ''
)`,
	`CREATE INDEX IF NOT EXISTS runs_strategy ON runs(strategy, saved_at)`,
	`CREATE TABLE IF NOT EXISTS trades (
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq         INTEGER NOT NULL,
	symbol      TEXT NOT NULL,
	side        TEXT NOT NULL,
	quantity    INTEGER NOT NULL,
	entry_time  INTEGER NOT NULL,
	exit_time   INTEGER NOT NULL,
	entry_price REAL NOT NULL,
	exit_price  REAL NOT NULL,
	pnl         REAL NOT NULL,
	trade_return REAL NOT NULL,
	exit_reason TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, seq)
)`,
}

// RunSummary is one row of the run index. Metric fields are nil when the run
// had too little data for statistics.
type RunSummary struct {
	ID             string
	Strategy       string
	ArchivePath    string
	SavedAt        time.Time
	StartDate      time.Time
	EndDate        time.Time
	InitialCapital float64
	FinalEquity    float64
	TotalReturn    *float64
	SharpeRatio    *float64
	MaxDrawdown    *float64
	TotalTrades    int
	MetricsError   string
}

// TradeRow is one closed round trip of an indexed run
type TradeRow struct {
	Symbol     string
	Side       broker.OrderSide
	Quantity   int64
	EntryTime  time.Time
	ExitTime   time.Time
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	Return     float64
	ExitReason broker.ExitReason
}

// Filter narrows ListRuns. Zero fields match everything.
type Filter struct {
	Strategy string
	Limit    int
}

// Index is a SQLite backed run index
type Index struct {
	db *sql.DB
}

// Open opens (or creates) the index database at path and applies the schema.
func Open(ctx context.Context, path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}
	return &Index{db: db}, nil
}

// Close closes the underlying database connection.
func (i *Index) Close() error {
	return i.db.Close()
}

func nullable(stats *backtest.Stats, pick func(*backtest.Stats) float64) sql.NullFloat64 {
	if stats == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: pick(stats), Valid: true}
}

// SaveRun indexes an archived result together with its trades. Saving the
// same run id twice replaces the earlier rows.
func (i *Index) SaveRun(ctx context.Context, rec archive.Record, res *backtest.Result) error {
	if rec.ID == "" || res == nil {
		return core.Errorf(core.ErrConfigInvalid, "run index needs an id and a result")
	}

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"trades WHERE run_id", "runs WHERE id"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` = ?`, rec.ID); err != nil {
			return err
		}
	}

	totalTrades := len(res.Trades)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, strategy, archive_path, saved_at, start_date, end_date,
			initial_capital, final_equity, total_return, sharpe_ratio, max_drawdown,
			total_trades, metrics_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, res.Strategy, rec.Path, rec.SavedAt.UnixMilli(),
		res.StartDate.UnixMilli(), res.EndDate.UnixMilli(),
		res.InitialCapital, res.FinalEquity,
		nullable(res.Stats, func(s *backtest.Stats) float64 { return s.TotalReturn }),
		nullable(res.Stats, func(s *backtest.Stats) float64 { return s.SharpeRatio }),
		nullable(res.Stats, func(s *backtest.Stats) float64 { return s.MaxDrawdown }),
		totalTrades, res.MetricsError,
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", rec.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades (run_id, seq, symbol, side, quantity, entry_time, exit_time,
			entry_price, exit_price, pnl, trade_return, exit_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for seq, t := range res.Trades {
		_, err := stmt.ExecContext(ctx,
			rec.ID, seq, t.Symbol, string(t.Side), t.Quantity,
			t.EntryFill.Time.UnixMilli(), t.ExitFill.Time.UnixMilli(),
			t.EntryPrice, t.ExitPrice, t.PnL, t.Return, string(t.ExitReason),
		)
		if err != nil {
			return fmt.Errorf("inserting trade %d of run %s: %w", seq, rec.ID, err)
		}
	}

	return tx.Commit()
}

func millis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// ListRuns returns indexed runs, newest first
func (i *Index) ListRuns(ctx context.Context, f Filter) ([]RunSummary, error) {
	query := `SELECT id, strategy, archive_path, saved_at, start_date, end_date,
		initial_capital, final_equity, total_return, sharpe_ratio, max_drawdown,
		total_trades, metrics_error FROM runs`
	var args []any
	if f.Strategy != "" {
		query += ` WHERE strategy = ?`
		args = append(args, f.Strategy)
	}
	query += ` ORDER BY saved_at DESC, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := i.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			r                       RunSummary
			saved, start, end       int64
			totalReturn, sharpe, dd sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &r.Strategy, &r.ArchivePath, &saved, &start, &end,
			&r.InitialCapital, &r.FinalEquity, &totalReturn, &sharpe, &dd,
			&r.TotalTrades, &r.MetricsError); err != nil {
			return nil, err
		}
		r.SavedAt, r.StartDate, r.EndDate = millis(saved), millis(start), millis(end)
		r.TotalReturn, r.SharpeRatio, r.MaxDrawdown = floatPtr(totalReturn), floatPtr(sharpe), floatPtr(dd)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Trades returns the trades of one run in the order they closed
func (i *Index) Trades(ctx context.Context, runID string) ([]TradeRow, error) {
	rows, err := i.db.QueryContext(ctx, `
		SELECT symbol, side, quantity, entry_time, exit_time, entry_price, exit_price,
			pnl, trade_return, exit_reason
		FROM trades WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRow
	for rows.Next() {
		var (
			t               TradeRow
			side, reason    string
			entry, exitTime int64
		)
		if err := rows.Scan(&t.Symbol, &side, &t.Quantity, &entry, &exitTime,
			&t.EntryPrice, &t.ExitPrice, &t.PnL, &t.Return, &reason); err != nil {
			return nil, err
		}
		t.Side, t.ExitReason = broker.OrderSide(side), broker.ExitReason(reason)
		t.EntryTime, t.ExitTime = millis(entry), millis(exitTime)
		out = append(out, t)
	}
	return out, rows.Err()
}
