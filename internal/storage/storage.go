// Package storage provides the shared SQLite store used to hand signals from
// the analyze process to the execute process, and to journal closed trades and
// account snapshots for reporting.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"binance-signal-bot-go/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS signals (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol      TEXT    NOT NULL,
	side        TEXT    NOT NULL,
	confidence  REAL    NOT NULL,
	features    TEXT    NOT NULL,
	produced_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	position_id TEXT    NOT NULL,
	symbol      TEXT    NOT NULL,
	side        TEXT    NOT NULL,
	entry_price REAL    NOT NULL,
	close_price REAL    NOT NULL,
	quantity    REAL    NOT NULL,
	pnl         REAL    NOT NULL,
	roi_pct     REAL    NOT NULL,
	commission  REAL    NOT NULL,
	net_pnl     REAL    NOT NULL,
	reason      TEXT    NOT NULL,
	duration_ms INTEGER NOT NULL,
	entry_time  INTEGER NOT NULL,
	close_time  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS account_state (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	balance             REAL    NOT NULL,
	realized_pnl        REAL    NOT NULL,
	open_position_count INTEGER NOT NULL,
	updated_at          INTEGER NOT NULL
);
`

// Store wraps the SQLite database shared by the analyze and execute processes.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the shared store at the given path.
// WAL mode with a busy timeout lets the two processes read and write
// concurrently without stepping on each other.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// AppendSignal persists a freshly produced signal and returns its row id.
// The id doubles as the executor's read cursor.
func (s *Store) AppendSignal(sig *models.Signal) (int64, error) {
	features, err := json.Marshal(sig.Features)
	if err != nil {
		return 0, err
	}

	res, err := s.db.Exec(`
		INSERT INTO signals (symbol, side, confidence, features, produced_at)
		VALUES (?, ?, ?, ?, ?)`,
		sig.Symbol, string(sig.Side), sig.Confidence, string(features), sig.ProducedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// FetchSignalsAfter returns all signals with an id strictly greater than the
// cursor, in insertion order.
func (s *Store) FetchSignalsAfter(cursor int64, limit int) ([]*models.Signal, error) {
	rows, err := s.db.Query(`
		SELECT id, symbol, side, confidence, features, produced_at
		FROM signals WHERE id > ? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []*models.Signal
	for rows.Next() {
		var sig models.Signal
		var side, features string
		if err := rows.Scan(&sig.ID, &sig.Symbol, &side, &sig.Confidence, &features, &sig.ProducedAt); err != nil {
			return nil, err
		}
		sig.Side = models.Side(side)
		if err := json.Unmarshal([]byte(features), &sig.Features); err != nil {
			return nil, err
		}
		signals = append(signals, &sig)
	}
	return signals, rows.Err()
}

// LatestSignalID returns the highest signal id present, or zero when the
// table is empty. New consumers seed their cursor here so signals produced
// before their own start are never executed.
func (s *Store) LatestSignalID() (int64, error) {
	var id int64
	err := s.db.QueryRow(`SELECT COALESCE(MAX(id), 0) FROM signals`).Scan(&id)
	return id, err
}

// PruneSignals deletes signals produced before the given cutoff (unix ms).
// Run by the maintain role so the shared database does not grow unbounded.
func (s *Store) PruneSignals(beforeMs int64) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM signals WHERE produced_at < ?`, beforeMs)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AppendTrade journals a closed trade.
func (s *Store) AppendTrade(t *models.TradeRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO trades
		(position_id, symbol, side, entry_price, close_price, quantity,
		 pnl, roi_pct, commission, net_pnl, reason, duration_ms, entry_time, close_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.PositionID, t.Symbol, string(t.Side), t.EntryPrice, t.ClosePrice, t.Quantity,
		t.Pnl, t.RoiPct, t.Commission, t.NetPnl, string(t.Reason),
		t.Duration.Milliseconds(), t.EntryTime.UnixMilli(), t.CloseTime.UnixMilli(),
	)
	return err
}

// ListTrades returns all journaled trades in close order.
func (s *Store) ListTrades() ([]*models.TradeRecord, error) {
	rows, err := s.db.Query(`
		SELECT position_id, symbol, side, entry_price, close_price, quantity,
		       pnl, roi_pct, commission, net_pnl, reason, duration_ms, entry_time, close_time
		FROM trades ORDER BY close_time ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*models.TradeRecord
	for rows.Next() {
		var t models.TradeRecord
		var side, reason string
		var durationMs, entryTime, closeTime int64
		if err := rows.Scan(&t.PositionID, &t.Symbol, &side, &t.EntryPrice, &t.ClosePrice,
			&t.Quantity, &t.Pnl, &t.RoiPct, &t.Commission, &t.NetPnl, &reason,
			&durationMs, &entryTime, &closeTime); err != nil {
			return nil, err
		}
		t.Side = models.Side(side)
		t.Reason = models.CloseReason(reason)
		t.Duration = time.Duration(durationMs) * time.Millisecond
		t.EntryTime = time.UnixMilli(entryTime)
		t.CloseTime = time.UnixMilli(closeTime)
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

// SaveAccountSnapshot appends a point-in-time account snapshot.
func (s *Store) SaveAccountSnapshot(a *models.AccountState) error {
	_, err := s.db.Exec(`
		INSERT INTO account_state (balance, realized_pnl, open_position_count, updated_at)
		VALUES (?, ?, ?, ?)`,
		a.Balance, a.RealizedPnl, a.OpenPositionCount, a.UpdatedAt.UnixMilli(),
	)
	return err
}

// TradeStats aggregates the journaled trades into the win rate and payoff
// ratio the sizer feeds into its Kelly estimate.
func (s *Store) TradeStats() (trades int, winRate, payoffRatio float64, err error) {
	row := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(AVG(CASE WHEN net_pnl > 0 THEN 1.0 ELSE 0.0 END), 0),
		       COALESCE(AVG(CASE WHEN net_pnl > 0 THEN net_pnl END), 0),
		       COALESCE(ABS(AVG(CASE WHEN net_pnl <= 0 THEN net_pnl END)), 0)
		FROM trades`)

	var avgWin, avgLoss float64
	if err = row.Scan(&trades, &winRate, &avgWin, &avgLoss); err != nil {
		return 0, 0, 0, err
	}
	if avgLoss > 0 {
		payoffRatio = avgWin / avgLoss
	}
	return trades, winRate, payoffRatio, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
