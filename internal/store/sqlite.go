package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tgparkk/stockbot/internal/apperr"
	"github.com/tgparkk/stockbot/internal/logging"
)

// SQLiteStore is the default, embedded Store backend.
type SQLiteStore struct {
	mu   sync.Mutex // serializes writes on top of the retry wrapper, per spec.md §4.6
	db   *sql.DB
	log  *logging.Logger
	path string
}

// NewSQLiteStore opens (creating if absent) the database at path, cleans
// any stale WAL/journal files left by a prior crash, and runs migrations.
//
// spec.md §9 Design Notes: "at process start, stale journal/WAL files
// must be cleaned so a previous crash does not leave the store wedged."
// A plain SQLite WAL/SHM pair left behind by an unclean shutdown is
// always safely replayable by the SQLite library itself on next open —
// there is nothing to delete before opening. What can wedge the store is
// a stale *lock* sentinel from a previous process that never exited
// cleanly; cleanStaleLock removes that sentinel if its pid is no longer
// running.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := cleanStaleLock(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreBusy, "open sqlite store", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: one writer, WAL allows concurrent readers

	s := &SQLiteStore{db: db, log: logging.WithComponent("store"), path: path}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	if err := writeLockSentinel(path); err != nil {
		s.log.Warn("failed to write lock sentinel: %v", err)
	}
	return s, nil
}

func lockPath(dbPath string) string {
	return dbPath + ".lock"
}

func writeLockSentinel(dbPath string) error {
	return os.WriteFile(lockPath(dbPath), []byte(fmt.Sprintf("%d", os.Getpid())), 0644)
}

// cleanStaleLock removes dbPath's lock sentinel if it names a pid that
// is no longer running (best-effort: os.FindProcess always succeeds on
// most platforms, so the check is a signal-0 probe).
func cleanStaleLock(dbPath string) error {
	raw, err := os.ReadFile(lockPath(dbPath))
	if err != nil {
		return nil // no sentinel, nothing to clean
	}
	var pid int
	if _, err := fmt.Sscanf(strings.TrimSpace(string(raw)), "%d", &pid); err != nil {
		return os.Remove(lockPath(dbPath))
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return os.Remove(lockPath(dbPath))
	}
	if sigErr := proc.Signal(syscall.Signal(0)); sigErr != nil {
		return os.Remove(lockPath(dbPath))
	}
	return nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			side TEXT NOT NULL,
			symbol TEXT NOT NULL,
			name TEXT,
			qty INTEGER NOT NULL,
			price REAL NOT NULL,
			total REAL NOT NULL,
			strategy TEXT,
			ts DATETIME NOT NULL,
			broker_order_id TEXT,
			status TEXT NOT NULL,
			error TEXT,
			buy_trade_id INTEGER,
			pnl REAL,
			pnl_rate REAL,
			hold_minutes INTEGER,
			market_json TEXT,
			tech_json TEXT,
			notes TEXT,
			consumed_qty INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_strategy ON trades(strategy)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_side ON trades(side)`,

		`CREATE TABLE IF NOT EXISTS daily_summary (
			date TEXT PRIMARY KEY,
			total INTEGER NOT NULL DEFAULT 0,
			buys INTEGER NOT NULL DEFAULT 0,
			sells INTEGER NOT NULL DEFAULT 0,
			pnl REAL NOT NULL DEFAULT 0,
			pnl_rate REAL NOT NULL DEFAULT 0,
			wins INTEGER NOT NULL DEFAULT 0,
			losses INTEGER NOT NULL DEFAULT 0,
			largest_win REAL NOT NULL DEFAULT 0,
			largest_loss REAL NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS selected_stocks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			date TEXT NOT NULL,
			slot TEXT NOT NULL,
			slot_start DATETIME,
			slot_end DATETIME,
			symbol TEXT NOT NULL,
			name TEXT,
			strategy TEXT,
			score REAL,
			reason TEXT,
			rank_in_strategy INTEGER,
			current_price REAL,
			change_rate REAL,
			volume INTEGER,
			volume_ratio REAL,
			gap_rate REAL,
			momentum REAL,
			breakout_volume INTEGER,
			tech_json TEXT,
			activated INTEGER NOT NULL DEFAULT 0,
			activated_ok INTEGER NOT NULL DEFAULT 0,
			traded INTEGER NOT NULL DEFAULT 0,
			trade_id INTEGER,
			created_at DATETIME NOT NULL,
			notes TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_selected_date_slot ON selected_stocks(date, slot)`,
		`CREATE INDEX IF NOT EXISTS idx_selected_symbol ON selected_stocks(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_selected_strategy ON selected_stocks(strategy)`,
		`CREATE INDEX IF NOT EXISTS idx_selected_score ON selected_stocks(score DESC)`,

		`CREATE TABLE IF NOT EXISTS time_slot_summary (
			date TEXT NOT NULL,
			slot TEXT NOT NULL,
			total INTEGER NOT NULL DEFAULT 0,
			per_strategy_json TEXT,
			pnl_total REAL NOT NULL DEFAULT 0,
			avg_score REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (date, slot)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return apperr.Wrap(apperr.StoreBusy, "run migration", err)
		}
	}
	return nil
}

// withRetry tolerates SQLITE_BUSY/SQLITE_LOCKED with bounded exponential
// backoff plus jitter (spec.md §4.6).
func withRetry(ctx context.Context, fn func() error) error {
	backoff := 20 * time.Millisecond
	const maxAttempts = 6
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isBusyErr(lastErr) {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff + time.Duration(rand.Intn(10))*time.Millisecond):
		}
		backoff *= 2
	}
	return apperr.Wrap(apperr.StoreBusy, "store busy after retries", lastErr)
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "SQLITE_LOCKED") ||
		strings.Contains(msg, "database is locked")
}

// RecordBuy implements Store.
func (s *SQLiteStore) RecordBuy(ctx context.Context, t Trade) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO trades (side, symbol, name, qty, price, total, strategy, ts, broker_order_id, status, market_json, tech_json, notes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			"BUY", t.Symbol, t.Name, t.Qty, t.Price, t.Total, t.Strategy, t.Timestamp, t.BrokerOrderID, t.Status, t.MarketJSON, t.TechJSON, t.Notes)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// RecordSell implements Store, including FIFO linkage and derived fields.
func (s *SQLiteStore) RecordSell(ctx context.Context, t Trade) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		// Locate the earliest BUY of this symbol with unconsumed quantity.
		var buyID int64
		var buyPrice float64
		var buyQty, consumedQty int64
		row := tx.QueryRowContext(ctx, `
			SELECT id, price, qty, consumed_qty FROM trades
			WHERE symbol = ? AND side = 'BUY' AND consumed_qty < qty
			ORDER BY ts ASC LIMIT 1`, t.Symbol)
		scanErr := row.Scan(&buyID, &buyPrice, &buyQty, &consumedQty)

		var buyTradeID *int64
		var pnl, pnlRate *float64
		var holdMinutes *int64
		var holdStart time.Time
		haveBuy := scanErr == nil

		if haveBuy {
			buyTradeID = &buyID
			p := (t.Price - buyPrice) * float64(t.Qty)
			pnl = &p
			if buyPrice != 0 {
				r := (t.Price - buyPrice) / buyPrice * 100
				pnlRate = &r
			}
			if err := tx.QueryRowContext(ctx, `SELECT ts FROM trades WHERE id = ?`, buyID).Scan(&holdStart); err == nil {
				m := int64(t.Timestamp.Sub(holdStart).Minutes())
				holdMinutes = &m
			}

			// Mark the BUY's quantity consumed. No row-splitting even if
			// quantities mismatch (spec.md §4.6): the full sell qty is
			// attributed to this BUY regardless.
			newConsumed := consumedQty + t.Qty
			if newConsumed > buyQty {
				newConsumed = buyQty
			}
			if _, err := tx.ExecContext(ctx, `UPDATE trades SET consumed_qty = ? WHERE id = ?`, newConsumed, buyID); err != nil {
				return err
			}
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO trades (side, symbol, name, qty, price, total, strategy, ts, broker_order_id, status, buy_trade_id, pnl, pnl_rate, hold_minutes, market_json, tech_json, notes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			"SELL", t.Symbol, t.Name, t.Qty, t.Price, t.Total, t.Strategy, t.Timestamp, t.BrokerOrderID, t.Status,
			buyTradeID, pnl, pnlRate, holdMinutes, t.MarketJSON, t.TechJSON, t.Notes)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	return id, err
}

// UpsertDailySummary implements Store, keyed by date.
func (s *SQLiteStore) UpsertDailySummary(ctx context.Context, sum DailySummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO daily_summary (date, total, buys, sells, pnl, pnl_rate, wins, losses, largest_win, largest_loss)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(date) DO UPDATE SET
				total=excluded.total, buys=excluded.buys, sells=excluded.sells,
				pnl=excluded.pnl, pnl_rate=excluded.pnl_rate, wins=excluded.wins,
				losses=excluded.losses, largest_win=excluded.largest_win, largest_loss=excluded.largest_loss`,
			sum.Date, sum.Total, sum.Buys, sum.Sells, sum.PnL, sum.PnLRate, sum.Wins, sum.Losses, sum.LargestWin, sum.LargestLoss)
		return err
	})
}

// UpsertTimeSlotSummary implements Store, keyed by (date, slot).
func (s *SQLiteStore) UpsertTimeSlotSummary(ctx context.Context, sum TimeSlotSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	perStrategyJSON := encodeCounts(sum.PerStrategyCounts)
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO time_slot_summary (date, slot, total, per_strategy_json, pnl_total, avg_score)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(date, slot) DO UPDATE SET
				total=excluded.total, per_strategy_json=excluded.per_strategy_json,
				pnl_total=excluded.pnl_total, avg_score=excluded.avg_score`,
			sum.Date, sum.Slot, sum.Total, perStrategyJSON, sum.PnLTotal, sum.AvgScore)
		return err
	})
}

// InsertSelectedStock implements Store.
func (s *SQLiteStore) InsertSelectedStock(ctx context.Context, sel SelectedStock) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var id int64
	err := withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO selected_stocks (date, slot, slot_start, slot_end, symbol, name, strategy, score, reason,
				rank_in_strategy, current_price, change_rate, volume, volume_ratio, gap_rate, momentum,
				breakout_volume, tech_json, activated, activated_ok, traded, created_at, notes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sel.Date, sel.Slot, sel.SlotStart, sel.SlotEnd, sel.Symbol, sel.Name, sel.Strategy, sel.Score, sel.Reason,
			sel.RankInStrategy, sel.CurrentPrice, sel.ChangeRate, sel.Volume, sel.VolumeRatio, sel.GapRate, sel.Momentum,
			sel.BreakoutVolume, sel.TechJSON, sel.Activated, sel.ActivatedOK, sel.Traded, sel.CreatedAt, sel.Notes)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// MarkSelectedStockTraded implements Store.
func (s *SQLiteStore) MarkSelectedStockTraded(ctx context.Context, id, tradeID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE selected_stocks SET traded = 1, trade_id = ? WHERE id = ?`, tradeID, id)
		return err
	})
}

// ListTradesSince implements Store.
func (s *SQLiteStore) ListTradesSince(ctx context.Context, since time.Time) ([]Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, side, symbol, name, qty, price, total, strategy, ts, broker_order_id, status,
			COALESCE(error,''), buy_trade_id, pnl, pnl_rate, hold_minutes, market_json, tech_json, notes
		FROM trades WHERE ts >= ? ORDER BY ts ASC`, since)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreBusy, "list trades", err)
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.Side, &t.Symbol, &t.Name, &t.Qty, &t.Price, &t.Total, &t.Strategy, &t.Timestamp,
			&t.BrokerOrderID, &t.Status, &t.Error, &t.BuyTradeID, &t.PnL, &t.PnLRate, &t.HoldMinutes, &t.MarketJSON, &t.TechJSON, &t.Notes); err != nil {
			return nil, apperr.Wrap(apperr.StoreBusy, "scan trade row", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetDailySummary implements Store.
func (s *SQLiteStore) GetDailySummary(ctx context.Context, date string) (DailySummary, bool, error) {
	var sum DailySummary
	row := s.db.QueryRowContext(ctx, `
		SELECT date, total, buys, sells, pnl, pnl_rate, wins, losses, largest_win, largest_loss
		FROM daily_summary WHERE date = ?`, date)
	err := row.Scan(&sum.Date, &sum.Total, &sum.Buys, &sum.Sells, &sum.PnL, &sum.PnLRate, &sum.Wins, &sum.Losses, &sum.LargestWin, &sum.LargestLoss)
	if err == sql.ErrNoRows {
		return DailySummary{}, false, nil
	}
	if err != nil {
		return DailySummary{}, false, apperr.Wrap(apperr.StoreBusy, "get daily summary", err)
	}
	return sum, true, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	_ = os.Remove(lockPath(s.path))
	return s.db.Close()
}

func encodeCounts(m map[string]int64) string {
	if len(m) == 0 {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}
