// Package copytrade is the Copy Trading Fan-out (C8): persists follower
// wallets and positions, and mirrors master entries/closes/TP-SL changes
// to each enabled follower with per-follower error isolation.
//
// The store half is grounded directly on the poorman-SynapseStrike
// StrategyStore manifest (struct wrapping *sql.DB, initTables, hand
// written CRUD), generalized from a single config-blob table to the two
// operational tables this package needs: follower wallets and follower
// positions.
package copytrade

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"
)

// FollowerStatus is a FollowerPosition's lifecycle state.
type FollowerStatus string

const (
	FollowerStatusOpen   FollowerStatus = "open"
	FollowerStatusClosed FollowerStatus = "closed"
	FollowerStatusError  FollowerStatus = "error"
)

// Wallet is one follower account's copy-trading configuration.
type Wallet struct {
	ID           int64
	Label        string
	APIKey       string
	APISecret    string
	Multiplier   decimal.Decimal
	SymbolAllow  []string // empty = allow all
	MaxPerPair   int
	Enabled      bool
}

// FollowerPosition tracks one follower's mirror of a master order.
type FollowerPosition struct {
	ID            int64
	WalletID      int64
	MasterOrderID string
	Symbol        string
	Side          string
	Qty           decimal.Decimal
	EntryPrice    decimal.Decimal
	Status        FollowerStatus
	RealizedPnL   decimal.Decimal
	Error         string
	OpenedAt      time.Time
	ClosedAt      *time.Time
}

// Store is the operational copy-trading store (follower wallets,
// positions, per-follower error log).
type Store struct {
	db *sql.DB
}

// Open attaches to (or creates) a sqlite database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.initTables(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS follower_wallets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			label TEXT NOT NULL,
			api_key TEXT NOT NULL,
			api_secret TEXT NOT NULL,
			multiplier TEXT NOT NULL,
			symbol_allow TEXT NOT NULL DEFAULT '',
			max_per_pair INTEGER NOT NULL DEFAULT 0,
			enabled INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS follower_positions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			wallet_id INTEGER NOT NULL,
			master_order_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			qty TEXT NOT NULL,
			entry_price TEXT NOT NULL,
			status TEXT NOT NULL,
			realized_pnl TEXT NOT NULL DEFAULT '0',
			error TEXT NOT NULL DEFAULT '',
			opened_at_ms INTEGER NOT NULL,
			closed_at_ms INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_follower_positions_master ON follower_positions(master_order_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertWallet registers a new follower wallet, used by the admin CLI
// path (`enginectl followers add`) and by tests that need a seeded
// wallet without reaching into the store's private schema.
func (s *Store) InsertWallet(w Wallet) (int64, error) {
	allowStr := ""
	for i, sym := range w.SymbolAllow {
		if i > 0 {
			allowStr += ","
		}
		allowStr += sym
	}
	enabled := 0
	if w.Enabled {
		enabled = 1
	}
	res, err := s.db.Exec(
		`INSERT INTO follower_wallets (label, api_key, api_secret, multiplier, symbol_allow, max_per_pair, enabled) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.Label, w.APIKey, w.APISecret, w.Multiplier.String(), allowStr, w.MaxPerPair, enabled,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// EnabledWallets returns every wallet with enabled=1.
func (s *Store) EnabledWallets() ([]Wallet, error) {
	rows, err := s.db.Query(`SELECT id, label, api_key, api_secret, multiplier, symbol_allow, max_per_pair, enabled FROM follower_wallets WHERE enabled = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Wallet
	for rows.Next() {
		var w Wallet
		var multStr, allowStr string
		var enabledInt int
		if err := rows.Scan(&w.ID, &w.Label, &w.APIKey, &w.APISecret, &multStr, &allowStr, &w.MaxPerPair, &enabledInt); err != nil {
			return nil, err
		}
		w.Multiplier = decimal.RequireFromString(multStr)
		w.Enabled = enabledInt == 1
		if allowStr != "" {
			w.SymbolAllow = splitCSV(allowStr)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// InsertFollowerPosition persists a new follower mirror record.
func (s *Store) InsertFollowerPosition(fp FollowerPosition) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO follower_positions (wallet_id, master_order_id, symbol, side, qty, entry_price, status, realized_pnl, error, opened_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fp.WalletID, fp.MasterOrderID, fp.Symbol, fp.Side, fp.Qty.String(), fp.EntryPrice.String(), string(fp.Status), fp.RealizedPnL.String(), fp.Error, fp.OpenedAt.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// PositionsForMasterOrder returns the open follower positions linked to a
// master order id.
func (s *Store) PositionsForMasterOrder(masterOrderID string) ([]FollowerPosition, error) {
	rows, err := s.db.Query(
		`SELECT id, wallet_id, master_order_id, symbol, side, qty, entry_price, status, realized_pnl, error, opened_at_ms, closed_at_ms
		 FROM follower_positions WHERE master_order_id = ? AND status = 'open'`, masterOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FollowerPosition
	for rows.Next() {
		fp, err := scanFollowerPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fp)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFollowerPosition(row scanner) (FollowerPosition, error) {
	var fp FollowerPosition
	var qtyStr, entryStr, statusStr, pnlStr string
	var openedMs int64
	var closedMs sql.NullInt64
	if err := row.Scan(&fp.ID, &fp.WalletID, &fp.MasterOrderID, &fp.Symbol, &fp.Side, &qtyStr, &entryStr, &statusStr, &pnlStr, &fp.Error, &openedMs, &closedMs); err != nil {
		return fp, err
	}
	fp.Qty = decimal.RequireFromString(qtyStr)
	fp.EntryPrice = decimal.RequireFromString(entryStr)
	fp.Status = FollowerStatus(statusStr)
	fp.RealizedPnL = decimal.RequireFromString(pnlStr)
	fp.OpenedAt = time.UnixMilli(openedMs)
	if closedMs.Valid {
		t := time.UnixMilli(closedMs.Int64)
		fp.ClosedAt = &t
	}
	return fp, nil
}

// UpdateFollowerEntryPrice overwrites a position's recorded entry price,
// used right after the follower's own order fills so P&L is computed
// against its actual fill, not the master's.
func (s *Store) UpdateFollowerEntryPrice(id int64, entryPrice decimal.Decimal) error {
	_, err := s.db.Exec(`UPDATE follower_positions SET entry_price = ? WHERE id = ?`, entryPrice.String(), id)
	return err
}

// CloseFollowerPosition marks a record closed with the realized P&L.
func (s *Store) CloseFollowerPosition(id int64, pnl decimal.Decimal, closedAt time.Time) error {
	_, err := s.db.Exec(`UPDATE follower_positions SET status = ?, realized_pnl = ?, closed_at_ms = ? WHERE id = ?`,
		string(FollowerStatusClosed), pnl.String(), closedAt.UnixMilli(), id)
	return err
}

// MarkFollowerError records a per-follower failure without touching
// other followers' records: errors are isolated per follower.
func (s *Store) MarkFollowerError(id int64, errMsg string) error {
	_, err := s.db.Exec(`UPDATE follower_positions SET status = ?, error = ? WHERE id = ?`, string(FollowerStatusError), errMsg, id)
	return err
}

// CountOpenForSymbol reports how many open positions a wallet currently
// holds for symbol, for the per-pair count gate.
func (s *Store) CountOpenForSymbol(walletID int64, symbol string) (int, error) {
	row := s.db.QueryRow(`SELECT COUNT(*) FROM follower_positions WHERE wallet_id = ? AND symbol = ? AND status = 'open'`, walletID, symbol)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// CountOpenByWallet reports how many open positions each wallet currently
// holds, for periodic metrics reporting.
func (s *Store) CountOpenByWallet() (map[int64]int, error) {
	rows, err := s.db.Query(`SELECT wallet_id, COUNT(*) FROM follower_positions WHERE status = 'open' GROUP BY wallet_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]int)
	for rows.Next() {
		var walletID int64
		var n int
		if err := rows.Scan(&walletID, &n); err != nil {
			return nil, err
		}
		out[walletID] = n
	}
	return out, rows.Err()
}
