package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"optionslab/internal/models"
)

// SQLiteStore implements QuoteStore and TradeStore over a single sqlite
// file. The options_data table is an external input; trade tables are
// created per run under the trades_<strategy>_<tag> namespace.
type SQLiteStore struct {
	db *sql.DB

	strategy string
	tableTag string

	tradesTable    string
	tradeLegsTable string
}

// Open opens the sqlite file without binding a run namespace. Used by
// read-only consumers such as the report command.
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The engine is strictly sequential; a single connection avoids
	// sqlite writer contention.
	db.SetMaxOpenConns(1)

	return &SQLiteStore{db: db}, nil
}

// NewSQLiteStore opens the sqlite file and binds the run's table
// namespace. An empty tableTag defaults to the current timestamp so
// repeated runs of the same strategy land in distinct tables.
func NewSQLiteStore(dbPath, strategy, tableTag string) (*SQLiteStore, error) {
	s, err := Open(dbPath)
	if err != nil {
		return nil, err
	}

	if tableTag == "" {
		tableTag = time.Now().Format("20060102150405")
	}

	s.strategy = strategy
	s.tableTag = tableTag
	s.tradesTable = sanitizeIdent(fmt.Sprintf("trades_%s_%s", strategy, tableTag))
	s.tradeLegsTable = sanitizeIdent(fmt.Sprintf("trade_legs_%s_%s", strategy, tableTag))

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// TableTag returns the namespace tag bound at construction.
func (s *SQLiteStore) TableTag() string { return s.tableTag }

// TradesTable returns the run's trades table name.
func (s *SQLiteStore) TradesTable() string { return s.tradesTable }

// TradeLegsTable returns the run's trade legs table name.
func (s *SQLiteStore) TradeLegsTable() string { return s.tradeLegsTable }

// sanitizeIdent strips anything that is not safe inside an unquoted
// sqlite identifier. Table names are built from CLI input and cannot be
// bound as query parameters.
func sanitizeIdent(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ============================================================================
// Schema
// ============================================================================

// InitSchema drops and recreates this run's trade tables, ensures the
// options_data lookup indexes, and ensures the shared run ledger.
// Destructive for the bound namespace only.
func (s *SQLiteStore) InitSchema(ctx context.Context) error {
	if s.tradesTable == "" {
		return fmt.Errorf("failed to init schema: store opened without a run namespace")
	}

	stmts := []string{
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, s.tradeLegsTable),
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, s.tradesTable),
		fmt.Sprintf(`CREATE TABLE %s (
			trade_id INTEGER PRIMARY KEY AUTOINCREMENT,
			trade_date TEXT NOT NULL,
			expire_date TEXT NOT NULL,
			dte INTEGER NOT NULL,
			status TEXT NOT NULL,
			premium_captured REAL NOT NULL,
			closing_premium REAL,
			closed_date TEXT,
			close_reason TEXT
		)`, s.tradesTable),
		fmt.Sprintf(`CREATE TABLE %s (
			history_id INTEGER PRIMARY KEY AUTOINCREMENT,
			trade_id INTEGER NOT NULL,
			quote_date TEXT NOT NULL,
			expiry_date TEXT NOT NULL,
			contract_type TEXT NOT NULL,
			position_type TEXT NOT NULL,
			leg_type TEXT NOT NULL,
			strike_price REAL NOT NULL,
			underlying_open REAL,
			underlying_current REAL,
			premium_open REAL,
			premium_current REAL,
			delta REAL,
			gamma REAL,
			vega REAL,
			theta REAL,
			iv REAL
		)`, s.tradeLegsTable),
		`CREATE INDEX IF NOT EXISTS idx_options_quote_date ON options_data(QUOTE_DATE)`,
		`CREATE INDEX IF NOT EXISTS idx_options_expire_date ON options_data(EXPIRE_DATE)`,
		`CREATE INDEX IF NOT EXISTS idx_options_quote_expire ON options_data(QUOTE_DATE, EXPIRE_DATE)`,
		`CREATE TABLE IF NOT EXISTS backtest_runs (
			run_id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_at TEXT NOT NULL,
			strategy TEXT NOT NULL,
			raw_params TEXT,
			table_tag TEXT NOT NULL,
			trades_table TEXT NOT NULL,
			trade_legs_table TEXT NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// RecordRun appends one ledger row for this invocation.
func (s *SQLiteStore) RecordRun(ctx context.Context, strategy, rawParams string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backtest_runs (run_at, strategy, raw_params, table_tag, trades_table, trade_legs_table)
		VALUES (?, ?, ?, ?, ?, ?)`,
		time.Now().Format(time.RFC3339), strategy, rawParams, s.tableTag, s.tradesTable, s.tradeLegsTable)
	if err != nil {
		return fmt.Errorf("failed to record backtest run: %w", err)
	}
	return nil
}

// ListRuns returns every ledger row, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]models.BacktestRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, run_at, strategy, raw_params, table_tag, trades_table, trade_legs_table
		FROM backtest_runs ORDER BY run_id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query backtest runs: %w", err)
	}
	defer rows.Close()

	var runs []models.BacktestRun
	for rows.Next() {
		var r models.BacktestRun
		var runAt string
		var rawParams sql.NullString
		if err := rows.Scan(&r.ID, &runAt, &r.Strategy, &rawParams, &r.TableTag, &r.TradesTable, &r.TradeLegsTable); err != nil {
			return nil, fmt.Errorf("failed to scan backtest run: %w", err)
		}
		r.RunAt, _ = time.Parse(time.RFC3339, runAt)
		r.RawParams = rawParams.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunSummary aggregates one run's trades table for reporting.
type RunSummary struct {
	Trades       int
	Closed       int
	Wins         int
	PremiumPnL   float64
	ReasonCounts map[models.CloseReason]int
}

// SummarizeRun computes win/loss counts and net premium P&L over the
// trades table recorded in a ledger row. Closing premium is stored
// signed (negative when buying back short legs), so trade P&L is the
// plain sum of captured and closing premium.
func (s *SQLiteStore) SummarizeRun(ctx context.Context, run models.BacktestRun) (*RunSummary, error) {
	table := sanitizeIdent(run.TradesTable)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT status, premium_captured, closing_premium, close_reason FROM %s`, table))
	if err != nil {
		return nil, fmt.Errorf("failed to query trades table %s: %w", table, err)
	}
	defer rows.Close()

	summary := &RunSummary{ReasonCounts: make(map[models.CloseReason]int)}
	for rows.Next() {
		var status string
		var captured float64
		var closing sql.NullFloat64
		var reason sql.NullString
		if err := rows.Scan(&status, &captured, &closing, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}

		summary.Trades++
		if status != string(models.StatusClosed) {
			continue
		}
		summary.Closed++
		pnl := models.Round2(captured + closing.Float64)
		summary.PremiumPnL = models.Round2(summary.PremiumPnL + pnl)
		if pnl > 0 {
			summary.Wins++
		}
		if reason.Valid {
			summary.ReasonCounts[models.CloseReason(reason.String)]++
		}
	}
	return summary, rows.Err()
}

// ============================================================================
// Trades
// ============================================================================

// CreateTrade inserts the trade row and its legs in one transaction and
// returns the generated trade id. Leg HistoryIDs are left untouched so
// freshly constructed legs keep their zero id until reloaded.
func (s *SQLiteStore) CreateTrade(ctx context.Context, trade *models.Trade) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (trade_date, expire_date, dte, status, premium_captured)
		VALUES (?, ?, ?, ?, ?)`, s.tradesTable),
		trade.TradeDate.Format(models.DateLayout),
		trade.ExpireDate.Format(models.DateLayout),
		trade.DTE,
		string(trade.Status),
		trade.PremiumCaptured)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade: %w", err)
	}

	tradeID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read trade id: %w", err)
	}

	for i := range trade.Legs {
		if _, err := insertLeg(ctx, tx, s.tradeLegsTable, tradeID, &trade.Legs[i]); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit trade: %w", err)
	}

	trade.ID = tradeID
	return tradeID, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertLeg(ctx context.Context, db execer, table string, tradeID int64, leg *models.Leg) (int64, error) {
	res, err := db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (trade_id, quote_date, expiry_date, contract_type, position_type, leg_type,
			strike_price, underlying_open, underlying_current, premium_open, premium_current,
			delta, gamma, vega, theta, iv)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, table),
		tradeID,
		leg.QuoteDate.Format(models.DateLayout),
		leg.ExpiryDate.Format(models.DateLayout),
		string(leg.ContractType),
		string(leg.PositionType),
		string(leg.LegType),
		leg.StrikePrice,
		leg.UnderlyingOpen,
		leg.UnderlyingCurrent,
		leg.PremiumOpen,
		leg.PremiumCurrent,
		leg.Greeks.Delta,
		leg.Greeks.Gamma,
		leg.Greeks.Vega,
		leg.Greeks.Theta,
		leg.Greeks.IV)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade leg: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read leg id: %w", err)
	}
	return id, nil
}

// AppendLeg inserts a new leg row for an existing trade and fills in
// the leg's generated HistoryID. The leg log is append-only, so this is
// the only write path for legs after creation.
func (s *SQLiteStore) AppendLeg(ctx context.Context, tradeID int64, leg *models.Leg) error {
	id, err := insertLeg(ctx, s.db, s.tradeLegsTable, tradeID, leg)
	if err != nil {
		return err
	}
	leg.HistoryID = id
	return nil
}

// UpdateTrade rewrites the trade-level fields of an existing row.
func (s *SQLiteStore) UpdateTrade(ctx context.Context, trade *models.Trade) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET trade_date = ?, expire_date = ?, dte = ?, status = ?, premium_captured = ?
		WHERE trade_id = ?`, s.tradesTable),
		trade.TradeDate.Format(models.DateLayout),
		trade.ExpireDate.Format(models.DateLayout),
		trade.DTE,
		string(trade.Status),
		trade.PremiumCaptured,
		trade.ID)
	if err != nil {
		return fmt.Errorf("failed to update trade %d: %w", trade.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to update trade %d: %w", trade.ID, ErrTradeNotFound)
	}
	return nil
}

// MarkClosed sets the terminal fields and flips status to CLOSED.
func (s *SQLiteStore) MarkClosed(ctx context.Context, tradeID int64, closingPremium float64, closedAt time.Time, reason models.CloseReason) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET status = ?, closing_premium = ?, closed_date = ?, close_reason = ?
		WHERE trade_id = ?`, s.tradesTable),
		string(models.StatusClosed),
		closingPremium,
		closedAt.Format(models.DateLayout),
		string(reason),
		tradeID)
	if err != nil {
		return fmt.Errorf("failed to close trade %d: %w", tradeID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to close trade %d: %w", tradeID, ErrTradeNotFound)
	}
	return nil
}

const tradeColumns = `trade_id, trade_date, expire_date, dte, status, premium_captured, closing_premium, closed_date, close_reason`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(row rowScanner) (*models.Trade, error) {
	var t models.Trade
	var tradeDate, expireDate string
	var closingPremium sql.NullFloat64
	var closedDate, closeReason sql.NullString

	err := row.Scan(&t.ID, &tradeDate, &expireDate, &t.DTE, (*string)(&t.Status),
		&t.PremiumCaptured, &closingPremium, &closedDate, &closeReason)
	if err != nil {
		return nil, err
	}

	if t.TradeDate, err = time.Parse(models.DateLayout, tradeDate); err != nil {
		return nil, fmt.Errorf("failed to parse trade date %q: %w", tradeDate, err)
	}
	if t.ExpireDate, err = time.Parse(models.DateLayout, expireDate); err != nil {
		return nil, fmt.Errorf("failed to parse expire date %q: %w", expireDate, err)
	}
	t.ClosingPremium = closingPremium.Float64
	if closedDate.Valid {
		t.ClosedAt, _ = time.Parse(models.DateLayout, closedDate.String)
	}
	t.CloseReason = models.CloseReason(closeReason.String)
	return &t, nil
}

// LoadTrade reconstructs a trade with its legs, optionally filtered to
// one leg type. Loaded legs are re-normalized so premium signs hold
// regardless of what was stored.
func (s *SQLiteStore) LoadTrade(ctx context.Context, tradeID int64, legType *models.LegType) (*models.Trade, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM %s WHERE trade_id = ?`, tradeColumns, s.tradesTable), tradeID)

	trade, err := scanTrade(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("trade %d: %w", tradeID, ErrTradeNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load trade %d: %w", tradeID, err)
	}

	if trade.Legs, err = s.loadLegs(ctx, tradeID, legType); err != nil {
		return nil, err
	}
	return trade, nil
}

func (s *SQLiteStore) loadLegs(ctx context.Context, tradeID int64, legType *models.LegType) ([]models.Leg, error) {
	query := fmt.Sprintf(`
		SELECT history_id, quote_date, expiry_date, contract_type, position_type, leg_type,
			strike_price, underlying_open, underlying_current, premium_open, premium_current,
			delta, gamma, vega, theta, iv
		FROM %s WHERE trade_id = ?`, s.tradeLegsTable)
	args := []any{tradeID}
	if legType != nil {
		query += ` AND leg_type = ?`
		args = append(args, string(*legType))
	}
	query += ` ORDER BY history_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query legs for trade %d: %w", tradeID, err)
	}
	defer rows.Close()

	var legs []models.Leg
	for rows.Next() {
		var l models.Leg
		var quoteDate, expiryDate string
		var underOpen, underCur, premOpen, premCur, delta, gamma, vega, theta, iv sql.NullFloat64

		err := rows.Scan(&l.HistoryID, &quoteDate, &expiryDate,
			(*string)(&l.ContractType), (*string)(&l.PositionType), (*string)(&l.LegType),
			&l.StrikePrice, &underOpen, &underCur, &premOpen, &premCur,
			&delta, &gamma, &vega, &theta, &iv)
		if err != nil {
			return nil, fmt.Errorf("failed to scan leg for trade %d: %w", tradeID, err)
		}

		if l.QuoteDate, err = time.Parse(models.DateLayout, quoteDate); err != nil {
			return nil, fmt.Errorf("failed to parse leg quote date %q: %w", quoteDate, err)
		}
		if l.ExpiryDate, err = time.Parse(models.DateLayout, expiryDate); err != nil {
			return nil, fmt.Errorf("failed to parse leg expiry date %q: %w", expiryDate, err)
		}

		l.UnderlyingOpen = underOpen.Float64
		l.UnderlyingCurrent = underCur.Float64
		l.PremiumOpen = premOpen.Float64
		l.PremiumCurrent = premCur.Float64
		l.Greeks = models.Greeks{
			Delta: delta.Float64,
			Gamma: gamma.Float64,
			Vega:  vega.Float64,
			Theta: theta.Float64,
			IV:    iv.Float64,
		}
		l.Normalize()
		legs = append(legs, l)
	}
	return legs, rows.Err()
}

// LoadAllTrades returns every trade with its full leg history, ordered
// by trade date ascending.
func (s *SQLiteStore) LoadAllTrades(ctx context.Context) ([]models.Trade, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM %s ORDER BY trade_date ASC, trade_id ASC`, tradeColumns, s.tradesTable))
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range trades {
		if trades[i].Legs, err = s.loadLegs(ctx, trades[i].ID, nil); err != nil {
			return nil, err
		}
	}
	return trades, nil
}

// OpenTrades returns the trade rows currently OPEN, legs not loaded.
func (s *SQLiteStore) OpenTrades(ctx context.Context) ([]models.Trade, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM %s WHERE status = ? ORDER BY trade_id ASC`, tradeColumns, s.tradesTable),
		string(models.StatusOpen))
	if err != nil {
		return nil, fmt.Errorf("failed to query open trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan open trade: %w", err)
		}
		trades = append(trades, *t)
	}
	return trades, rows.Err()
}

// MostRecentOpenTrade returns the OPEN trade with the latest trade
// date, or nil when nothing is open.
func (s *SQLiteStore) MostRecentOpenTrade(ctx context.Context) (*models.Trade, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM %s WHERE status = ?
		ORDER BY trade_date DESC, trade_id DESC LIMIT 1`, tradeColumns, s.tradesTable),
		string(models.StatusOpen))

	trade, err := scanTrade(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load most recent open trade: %w", err)
	}
	return trade, nil
}

// ============================================================================
// Quotes
// ============================================================================

const quoteColumns = `QUOTE_DATE, EXPIRE_DATE, DTE, STRIKE, UNDERLYING_LAST,
	C_BID, C_ASK, C_LAST, C_SIZE, C_VOLUME, C_DELTA, C_GAMMA, C_VEGA, C_THETA, C_RHO, C_IV,
	P_BID, P_ASK, P_LAST, P_SIZE, P_VOLUME, P_DELTA, P_GAMMA, P_VEGA, P_THETA, P_RHO, P_IV,
	STRIKE_DISTANCE, STRIKE_DISTANCE_PCT`

func scanQuote(row rowScanner) (*models.OptionsData, error) {
	var od models.OptionsData
	var quoteDate, expireDate string
	var dte, strike, underlying sql.NullFloat64
	var cSize, pSize sql.NullString
	var cBid, cAsk, cLast, cVol, cDelta, cGamma, cVega, cTheta, cRho, cIV sql.NullFloat64
	var pBid, pAsk, pLast, pVol, pDelta, pGamma, pVega, pTheta, pRho, pIV sql.NullFloat64
	var dist, distPct sql.NullFloat64

	err := row.Scan(&quoteDate, &expireDate, &dte, &strike, &underlying,
		&cBid, &cAsk, &cLast, &cSize, &cVol, &cDelta, &cGamma, &cVega, &cTheta, &cRho, &cIV,
		&pBid, &pAsk, &pLast, &pSize, &pVol, &pDelta, &pGamma, &pVega, &pTheta, &pRho, &pIV,
		&dist, &distPct)
	if err != nil {
		return nil, err
	}

	if od.QuoteDate, err = time.Parse(models.DateLayout, strings.TrimSpace(quoteDate)); err != nil {
		return nil, fmt.Errorf("failed to parse quote date %q: %w", quoteDate, err)
	}
	if od.ExpireDate, err = time.Parse(models.DateLayout, strings.TrimSpace(expireDate)); err != nil {
		return nil, fmt.Errorf("failed to parse expire date %q: %w", expireDate, err)
	}

	od.DTE = dte.Float64
	od.Strike = strike.Float64
	od.UnderlyingLast = underlying.Float64
	od.Call = models.OptionSide{
		Bid: cBid.Float64, Ask: cAsk.Float64, Last: cLast.Float64,
		Size: cSize.String, Volume: cVol.Float64,
		Delta: cDelta.Float64, Gamma: cGamma.Float64, Vega: cVega.Float64,
		Theta: cTheta.Float64, Rho: cRho.Float64, IV: cIV.Float64,
	}
	od.Put = models.OptionSide{
		Bid: pBid.Float64, Ask: pAsk.Float64, Last: pLast.Float64,
		Size: pSize.String, Volume: pVol.Float64,
		Delta: pDelta.Float64, Gamma: pGamma.Float64, Vega: pVega.Float64,
		Theta: pTheta.Float64, Rho: pRho.Float64, IV: pIV.Float64,
	}
	od.StrikeDistance = dist.Float64
	od.StrikeDistancePct = distPct.Float64
	return &od, nil
}

func (s *SQLiteStore) queryQuote(ctx context.Context, query string, args ...any) (*models.OptionsData, error) {
	od, err := scanQuote(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query options data: %w", err)
	}
	return od, nil
}

// QuoteDates returns the distinct quote dates in the chain, ascending.
// Zero start/end times leave that side unbounded.
func (s *SQLiteStore) QuoteDates(ctx context.Context, start, end time.Time) ([]time.Time, error) {
	query := `SELECT DISTINCT QUOTE_DATE FROM options_data`
	var filters []string
	var args []any
	if !start.IsZero() {
		filters = append(filters, `QUOTE_DATE >= ?`)
		args = append(args, start.Format(models.DateLayout))
	}
	if !end.IsZero() {
		filters = append(filters, `QUOTE_DATE <= ?`)
		args = append(args, end.Format(models.DateLayout))
	}
	if len(filters) > 0 {
		query += ` WHERE ` + strings.Join(filters, ` AND `)
	}
	query += ` ORDER BY QUOTE_DATE ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query quote dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan quote date: %w", err)
		}
		d, err := time.Parse(models.DateLayout, strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to parse quote date %q: %w", raw, err)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// NearestExpiry returns the earliest expiry at least minDTE days out on
// the given quote date, or nil when the chain has none.
func (s *SQLiteStore) NearestExpiry(ctx context.Context, quoteDate time.Time, minDTE int) (*Expiry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT EXPIRE_DATE, MIN(DTE) FROM options_data
		WHERE QUOTE_DATE = ? AND DTE >= ?
		GROUP BY EXPIRE_DATE ORDER BY EXPIRE_DATE ASC LIMIT 1`,
		quoteDate.Format(models.DateLayout), minDTE)

	var raw string
	var dte float64
	err := row.Scan(&raw, &dte)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query nearest expiry: %w", err)
	}

	date, err := time.Parse(models.DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse expiry date %q: %w", raw, err)
	}
	return &Expiry{Date: date, DTE: dte}, nil
}

// QuoteNearestToMoney returns the chain row closest to at-the-money for
// the date/expiry pair.
func (s *SQLiteStore) QuoteNearestToMoney(ctx context.Context, quoteDate, expiryDate time.Time) (*models.OptionsData, error) {
	return s.queryQuote(ctx, fmt.Sprintf(`
		SELECT %s FROM options_data
		WHERE QUOTE_DATE = ? AND EXPIRE_DATE = ?
		ORDER BY STRIKE_DISTANCE ASC LIMIT 1`, quoteColumns),
		quoteDate.Format(models.DateLayout), expiryDate.Format(models.DateLayout))
}

// QuoteByDelta returns the chain row whose delta on the requested side
// is closest to target. Short positions flip the delta sign so put
// deltas, which the chain quotes negative, compare against a positive
// target.
func (s *SQLiteStore) QuoteByDelta(ctx context.Context, ct models.ContractType, pt models.PositionType, quoteDate, expiryDate time.Time, target float64) (*models.OptionsData, error) {
	col := "C_DELTA"
	if ct == models.ContractPut {
		col = "P_DELTA"
	}
	sign := 1.0
	if pt == models.PositionShort {
		sign = -1.0
	}

	return s.queryQuote(ctx, fmt.Sprintf(`
		SELECT %s FROM options_data
		WHERE QUOTE_DATE = ? AND EXPIRE_DATE = ?
		ORDER BY ABS(%s * ? - ?) ASC LIMIT 1`, quoteColumns, col),
		quoteDate.Format(models.DateLayout), expiryDate.Format(models.DateLayout), sign, target)
}

// QuoteAtStrike returns the exact chain row for the date, strike, and
// expiry. Nil result means the chain is missing the row (bad data).
func (s *SQLiteStore) QuoteAtStrike(ctx context.Context, quoteDate time.Time, strike float64, expiryDate time.Time) (*models.OptionsData, error) {
	return s.queryQuote(ctx, fmt.Sprintf(`
		SELECT %s FROM options_data
		WHERE QUOTE_DATE = ? AND STRIKE = ? AND EXPIRE_DATE = ? LIMIT 1`, quoteColumns),
		quoteDate.Format(models.DateLayout), strike, expiryDate.Format(models.DateLayout))
}
