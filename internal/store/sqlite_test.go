package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionslab/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath, "short_straddle", "test")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	createChainTable(t, s)
	require.NoError(t, s.InitSchema(context.Background()))
	return s
}

func createChainTable(t *testing.T, s *SQLiteStore) {
	t.Helper()
	_, err := s.db.Exec(`CREATE TABLE options_data (
		QUOTE_DATE TEXT, EXPIRE_DATE TEXT, DTE REAL, STRIKE REAL, UNDERLYING_LAST REAL,
		C_BID REAL, C_ASK REAL, C_LAST REAL, C_SIZE TEXT, C_VOLUME REAL,
		C_DELTA REAL, C_GAMMA REAL, C_VEGA REAL, C_THETA REAL, C_RHO REAL, C_IV REAL,
		P_BID REAL, P_ASK REAL, P_LAST REAL, P_SIZE TEXT, P_VOLUME REAL,
		P_DELTA REAL, P_GAMMA REAL, P_VEGA REAL, P_THETA REAL, P_RHO REAL, P_IV REAL,
		STRIKE_DISTANCE REAL, STRIKE_DISTANCE_PCT REAL
	)`)
	require.NoError(t, err)
}

type chainRow struct {
	quoteDate  string
	expireDate string
	dte        float64
	strike     float64
	underlying float64
	cLast      float64
	pLast      float64
	cDelta     float64
	pDelta     float64
}

func seedQuote(t *testing.T, s *SQLiteStore, row chainRow) {
	t.Helper()
	dist := row.strike - row.underlying
	if dist < 0 {
		dist = -dist
	}
	var distPct float64
	if row.underlying != 0 {
		distPct = dist / row.underlying
	}
	_, err := s.db.Exec(`INSERT INTO options_data VALUES
		(?, ?, ?, ?, ?,
		 ?, ?, ?, '1 x 1', 10, ?, 0.01, 0.1, -0.05, 0.02, 0.2,
		 ?, ?, ?, '1 x 1', 10, ?, 0.01, 0.1, -0.05, -0.02, 0.2,
		 ?, ?)`,
		row.quoteDate, row.expireDate, row.dte, row.strike, row.underlying,
		row.cLast, row.cLast, row.cLast, row.cDelta,
		row.pLast, row.pLast, row.pLast, row.pDelta,
		dist, distPct)
	require.NoError(t, err)
}

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse(models.DateLayout, s)
	require.NoError(t, err)
	return d
}

func testTrade(t *testing.T, tradeDate, expireDate string) *models.Trade {
	t.Helper()
	legs := []models.Leg{
		{
			QuoteDate:         date(t, tradeDate),
			ExpiryDate:        date(t, expireDate),
			ContractType:      models.ContractPut,
			PositionType:      models.PositionShort,
			LegType:           models.LegOpen,
			StrikePrice:       100,
			UnderlyingOpen:    100,
			UnderlyingCurrent: 100,
			PremiumOpen:       1.5,
			PremiumCurrent:    1.5,
		},
		{
			QuoteDate:         date(t, tradeDate),
			ExpiryDate:        date(t, expireDate),
			ContractType:      models.ContractCall,
			PositionType:      models.PositionShort,
			LegType:           models.LegOpen,
			StrikePrice:       100,
			UnderlyingOpen:    100,
			UnderlyingCurrent: 100,
			PremiumOpen:       2.5,
			PremiumCurrent:    2.5,
		},
	}
	return &models.Trade{
		TradeDate:       date(t, tradeDate),
		ExpireDate:      date(t, expireDate),
		DTE:             30,
		Status:          models.StatusOpen,
		PremiumCaptured: models.SumOpenPremium(legs),
		Legs:            legs,
	}
}

func TestAppendLegAssignsHistoryID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	trade := testTrade(t, "2020-01-02", "2020-02-02")
	id, err := s.CreateTrade(ctx, trade)
	require.NoError(t, err)

	audit := trade.Legs[0]
	audit.HistoryID = 0
	audit.LegType = models.LegAudit
	require.NoError(t, s.AppendLeg(ctx, id, &audit))
	assert.NotZero(t, audit.HistoryID)

	second := trade.Legs[1]
	second.HistoryID = 0
	second.LegType = models.LegAudit
	require.NoError(t, s.AppendLeg(ctx, id, &second))
	assert.NotEqual(t, audit.HistoryID, second.HistoryID)
}

func TestInitSchemaIsDestructivePerNamespace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateTrade(ctx, testTrade(t, "2020-01-02", "2020-02-02"))
	require.NoError(t, err)

	require.NoError(t, s.InitSchema(ctx))

	trades, err := s.LoadAllTrades(ctx)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestTradeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	trade := testTrade(t, "2020-01-02", "2020-02-02")
	id, err := s.CreateTrade(ctx, trade)
	require.NoError(t, err)
	require.NotZero(t, id)
	assert.Equal(t, id, trade.ID)

	loaded, err := s.LoadTrade(ctx, id, nil)
	require.NoError(t, err)

	assert.Equal(t, trade.TradeDate, loaded.TradeDate)
	assert.Equal(t, trade.ExpireDate, loaded.ExpireDate)
	assert.Equal(t, trade.DTE, loaded.DTE)
	assert.Equal(t, models.StatusOpen, loaded.Status)
	assert.Equal(t, 4.0, loaded.PremiumCaptured)
	require.Len(t, loaded.Legs, 2)

	for _, leg := range loaded.Legs {
		assert.NotZero(t, leg.HistoryID)
		assert.Equal(t, models.LegOpen, leg.LegType)
		// Short premiums keep the positive sign after the round trip.
		assert.Greater(t, leg.PremiumOpen, 0.0)
	}
}

func TestLoadTradeFiltersLegType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	trade := testTrade(t, "2020-01-02", "2020-02-02")
	id, err := s.CreateTrade(ctx, trade)
	require.NoError(t, err)

	audit := trade.Legs[0]
	audit.LegType = models.LegAudit
	audit.QuoteDate = date(t, "2020-01-03")
	require.NoError(t, s.AppendLeg(ctx, id, &audit))

	legOpen := models.LegOpen
	loaded, err := s.LoadTrade(ctx, id, &legOpen)
	require.NoError(t, err)
	assert.Len(t, loaded.Legs, 2)

	all, err := s.LoadTrade(ctx, id, nil)
	require.NoError(t, err)
	assert.Len(t, all.Legs, 3)
}

func TestLoadTradeNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.LoadTrade(context.Background(), 42, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTradeNotFound))
}

func TestMarkClosed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateTrade(ctx, testTrade(t, "2020-01-02", "2020-02-02"))
	require.NoError(t, err)

	closedAt := date(t, "2020-01-10")
	require.NoError(t, s.MarkClosed(ctx, id, -3.5, closedAt, models.CloseProfitTake))

	loaded, err := s.LoadTrade(ctx, id, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, loaded.Status)
	assert.Equal(t, -3.5, loaded.ClosingPremium)
	assert.Equal(t, closedAt, loaded.ClosedAt)
	assert.Equal(t, models.CloseProfitTake, loaded.CloseReason)

	open, err := s.OpenTrades(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	assert.True(t, errors.Is(s.MarkClosed(ctx, 999, 0, closedAt, models.CloseExpired), ErrTradeNotFound))
}

func TestMostRecentOpenTrade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	last, err := s.MostRecentOpenTrade(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	_, err = s.CreateTrade(ctx, testTrade(t, "2020-01-02", "2020-02-02"))
	require.NoError(t, err)
	id2, err := s.CreateTrade(ctx, testTrade(t, "2020-01-10", "2020-02-10"))
	require.NoError(t, err)

	last, err = s.MostRecentOpenTrade(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, id2, last.ID)
}

func TestQuoteDatesRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, d := range []string{"2020-01-02", "2020-01-03", "2020-01-06"} {
		seedQuote(t, s, chainRow{
			quoteDate: d, expireDate: "2020-02-07", dte: 30,
			strike: 100, underlying: 100, cLast: 1, pLast: 1,
		})
	}

	dates, err := s.QuoteDates(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, dates, 3)

	dates, err = s.QuoteDates(ctx, date(t, "2020-01-03"), date(t, "2020-01-03"))
	require.NoError(t, err)
	require.Len(t, dates, 1)
	assert.Equal(t, date(t, "2020-01-03"), dates[0])
}

func TestNearestExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedQuote(t, s, chainRow{quoteDate: "2020-01-02", expireDate: "2020-01-17", dte: 15, strike: 100, underlying: 100, cLast: 1, pLast: 1})
	seedQuote(t, s, chainRow{quoteDate: "2020-01-02", expireDate: "2020-02-21", dte: 50, strike: 100, underlying: 100, cLast: 1, pLast: 1})

	exp, err := s.NearestExpiry(ctx, date(t, "2020-01-02"), 30)
	require.NoError(t, err)
	require.NotNil(t, exp)
	assert.Equal(t, date(t, "2020-02-21"), exp.Date)
	assert.Equal(t, 50.0, exp.DTE)

	exp, err = s.NearestExpiry(ctx, date(t, "2020-01-02"), 60)
	require.NoError(t, err)
	assert.Nil(t, exp)
}

func TestQuoteNearestToMoney(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, strike := range []float64{95, 101, 110} {
		seedQuote(t, s, chainRow{
			quoteDate: "2020-01-02", expireDate: "2020-02-07", dte: 36,
			strike: strike, underlying: 100, cLast: 2, pLast: 3,
		})
	}

	od, err := s.QuoteNearestToMoney(ctx, date(t, "2020-01-02"), date(t, "2020-02-07"))
	require.NoError(t, err)
	require.NotNil(t, od)
	assert.Equal(t, 101.0, od.Strike)
	assert.Equal(t, 2.0, od.Call.Last)
	assert.Equal(t, 3.0, od.Put.Last)

	od, err = s.QuoteNearestToMoney(ctx, date(t, "2020-01-03"), date(t, "2020-02-07"))
	require.NoError(t, err)
	assert.Nil(t, od)
}

func TestQuoteByDelta(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedQuote(t, s, chainRow{quoteDate: "2020-01-02", expireDate: "2020-02-07", dte: 36, strike: 90, underlying: 100, cLast: 1, pLast: 1, cDelta: 0.8, pDelta: -0.2})
	seedQuote(t, s, chainRow{quoteDate: "2020-01-02", expireDate: "2020-02-07", dte: 36, strike: 100, underlying: 100, cLast: 1, pLast: 1, cDelta: 0.5, pDelta: -0.5})

	od, err := s.QuoteByDelta(ctx, models.ContractPut, models.PositionShort, date(t, "2020-01-02"), date(t, "2020-02-07"), 0.5)
	require.NoError(t, err)
	require.NotNil(t, od)
	assert.Equal(t, 100.0, od.Strike)

	od, err = s.QuoteByDelta(ctx, models.ContractCall, models.PositionLong, date(t, "2020-01-02"), date(t, "2020-02-07"), 0.8)
	require.NoError(t, err)
	require.NotNil(t, od)
	assert.Equal(t, 90.0, od.Strike)
}

func TestQuoteAtStrike(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedQuote(t, s, chainRow{quoteDate: "2020-01-02", expireDate: "2020-02-07", dte: 36, strike: 100, underlying: 101, cLast: 2, pLast: 3})

	od, err := s.QuoteAtStrike(ctx, date(t, "2020-01-02"), 100, date(t, "2020-02-07"))
	require.NoError(t, err)
	require.NotNil(t, od)
	assert.Equal(t, 101.0, od.UnderlyingLast)

	od, err = s.QuoteAtStrike(ctx, date(t, "2020-01-02"), 105, date(t, "2020-02-07"))
	require.NoError(t, err)
	assert.Nil(t, od)
}

func TestRecordRunAndSummarize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordRun(ctx, "short_straddle", "dte=30,profit-take=10"))

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "short_straddle", runs[0].Strategy)
	assert.Equal(t, "dte=30,profit-take=10", runs[0].RawParams)
	assert.Equal(t, s.TradesTable(), runs[0].TradesTable)

	// One winner, one loser, one still open. Closing premiums are
	// negative: the cost of buying the short legs back.
	winID, err := s.CreateTrade(ctx, testTrade(t, "2020-01-02", "2020-02-02"))
	require.NoError(t, err)
	require.NoError(t, s.MarkClosed(ctx, winID, -1.0, date(t, "2020-01-20"), models.CloseProfitTake))

	lossID, err := s.CreateTrade(ctx, testTrade(t, "2020-01-03", "2020-02-02"))
	require.NoError(t, err)
	require.NoError(t, s.MarkClosed(ctx, lossID, -6.0, date(t, "2020-01-21"), models.CloseStopLoss))

	_, err = s.CreateTrade(ctx, testTrade(t, "2020-01-06", "2020-02-02"))
	require.NoError(t, err)

	summary, err := s.SummarizeRun(ctx, runs[0])
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Trades)
	assert.Equal(t, 2, summary.Closed)
	assert.Equal(t, 1, summary.Wins)
	// (4 - 1) + (4 - 6) = 1
	assert.Equal(t, 1.0, summary.PremiumPnL)
	assert.Equal(t, 1, summary.ReasonCounts[models.CloseProfitTake])
	assert.Equal(t, 1, summary.ReasonCounts[models.CloseStopLoss])
}

func TestTableNamespace(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath, "put_calendar", "20200102120000")
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "trades_put_calendar_20200102120000", s.TradesTable())
	assert.Equal(t, "trade_legs_put_calendar_20200102120000", s.TradeLegsTable())

	// An empty tag falls back to a timestamp.
	s2, err := NewSQLiteStore(dbPath, "put_calendar", "")
	require.NoError(t, err)
	defer s2.Close()
	assert.NotEmpty(t, s2.TableTag())
	assert.Equal(t, fmt.Sprintf("trades_put_calendar_%s", s2.TableTag()), s2.TradesTable())
}
