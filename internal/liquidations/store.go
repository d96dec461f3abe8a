package liquidations

import (
	"database/sql"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"
)

// Store is the append-only Liquidation Store (C3): writes never block the
// ingress path (fire-and-forget through a bounded channel, dropped with a
// logged counter on overflow) and reads serve chronological, filterable
// pages. Grounded on the poorman-SynapseStrike manifest's StrategyStore
// idiom (a struct wrapping *sql.DB with hand-written SQL and initTables),
// generalized from a config-blob table to an append-only time-series one.
type Store struct {
	db      *sql.DB
	log     zerolog.Logger
	ingress chan ingressItem
	dropped int64
	done    chan struct{}
}

type ingressItem struct {
	symbol   string
	side     Side
	price    decimal.Decimal
	qty      decimal.Decimal
	notional decimal.Decimal
	tradeMs  int64
}

// Open creates/attaches to a sqlite database at path ("" = in-memory) and
// starts the single writer goroutine that drains the ingress channel.
func Open(path string, log zerolog.Logger, backlog int) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writes through one conn

	s := &Store{
		db:      db,
		log:     log.With().Str("component", "liquidation_store").Logger(),
		ingress: make(chan ingressItem, backlog),
		done:    make(chan struct{}),
	}
	if err := s.initTables(); err != nil {
		return nil, err
	}
	go s.writerLoop()
	return s, nil
}

func (s *Store) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS liquidations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			price TEXT NOT NULL,
			qty TEXT NOT NULL,
			notional TEXT NOT NULL,
			trade_time_ms INTEGER NOT NULL,
			ingress_time_ms INTEGER NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_liq_symbol_time ON liquidations(symbol, trade_time_ms)`)
	return err
}

// Insert enqueues an event for persistence. Never blocks: if the backlog
// is full, the event is dropped and a counter incremented.
func (s *Store) Insert(ev Event) {
	item := ingressItem{
		symbol:   ev.Symbol,
		side:     ev.Side,
		price:    ev.Price,
		qty:      ev.Qty,
		notional: ev.Notional,
		tradeMs:  ev.TradeTime.UnixMilli(),
	}
	select {
	case s.ingress <- item:
	default:
		s.dropped++
		s.log.Warn().Str("symbol", ev.Symbol).Int64("dropped_total", s.dropped).Msg("⚠️ liquidation store backlog full, dropping event")
	}
}

// Dropped reports the running overflow counter, surfaced to the status
// sink/metrics by the caller.
func (s *Store) Dropped() int64 { return s.dropped }

func (s *Store) writerLoop() {
	for item := range s.ingress {
		_, err := s.db.Exec(
			`INSERT INTO liquidations (symbol, side, price, qty, notional, trade_time_ms, ingress_time_ms) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			item.symbol, string(item.side), item.price.String(), item.qty.String(), item.notional.String(), item.tradeMs, time.Now().UnixMilli(),
		)
		if err != nil {
			s.log.Error().Err(err).Str("symbol", item.symbol).Msg("⚠️ failed to persist liquidation")
		}
	}
	close(s.done)
}

// Close stops accepting writes and waits for the backlog to drain.
func (s *Store) Close() error {
	close(s.ingress)
	<-s.done
	return s.db.Close()
}

// Query returns a chronological page of events, optionally filtered by
// symbol and/or a [from, to] time range.
func (s *Store) Query(symbol string, from, to *time.Time, limit, offset int) ([]Event, error) {
	q := `SELECT symbol, side, price, qty, notional, trade_time_ms, ingress_time_ms FROM liquidations WHERE 1=1`
	args := []any{}
	if symbol != "" {
		q += ` AND symbol = ?`
		args = append(args, symbol)
	}
	if from != nil {
		q += ` AND trade_time_ms >= ?`
		args = append(args, from.UnixMilli())
	}
	if to != nil {
		q += ` AND trade_time_ms <= ?`
		args = append(args, to.UnixMilli())
	}
	q += ` ORDER BY trade_time_ms ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var symb, side, priceStr, qtyStr, notionalStr string
		var tradeMs, ingressMs int64
		if err := rows.Scan(&symb, &side, &priceStr, &qtyStr, &notionalStr, &tradeMs, &ingressMs); err != nil {
			return nil, err
		}
		out = append(out, Event{
			Symbol:      symb,
			Side:        Side(side),
			Price:       decimal.RequireFromString(priceStr),
			Qty:         decimal.RequireFromString(qtyStr),
			Notional:    decimal.RequireFromString(notionalStr),
			TradeTime:   time.UnixMilli(tradeMs),
			IngressTime: time.UnixMilli(ingressMs),
		})
	}
	return out, rows.Err()
}

// Stats is the aggregate count/volume response of Stats.
type Stats struct {
	Count        int
	TotalNotional decimal.Decimal
	PerSymbol    map[string]decimal.Decimal
}

// Stats returns count, total notional and per-symbol breakdown over the
// trailing window.
func (s *Store) Stats(window time.Duration) (Stats, error) {
	since := time.Now().Add(-window).UnixMilli()
	rows, err := s.db.Query(`SELECT symbol, notional FROM liquidations WHERE trade_time_ms >= ?`, since)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()

	st := Stats{TotalNotional: decimal.Zero, PerSymbol: make(map[string]decimal.Decimal)}
	for rows.Next() {
		var symb, notionalStr string
		if err := rows.Scan(&symb, &notionalStr); err != nil {
			return Stats{}, err
		}
		n := decimal.RequireFromString(notionalStr)
		st.Count++
		st.TotalNotional = st.TotalNotional.Add(n)
		st.PerSymbol[symb] = st.PerSymbol[symb].Add(n)
	}
	return st, rows.Err()
}

// Purge deletes events older than the cutoff, for retention-window
// enforcement (configurable, default 7-30 days).
func (s *Store) Purge(olderThan time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM liquidations WHERE trade_time_ms < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
