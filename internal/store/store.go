// Package store provides point-in-time options-chain lookups and trade
// persistence for backtest runs.
package store

import (
	"context"
	"time"

	"optionslab/internal/models"
)

// Expiry is a resolved expiration date with its actual days-to-expiry
// relative to the quote date it was resolved against.
type Expiry struct {
	Date time.Time
	DTE  float64
}

// QuoteStore exposes read-only lookups against the historical
// options-chain table. Lookups that match no row return (nil, nil);
// callers decide whether that is bad data or a hard error.
type QuoteStore interface {
	// QuoteDates returns the distinct quote dates available, ascending,
	// optionally bounded by start/end (zero time = unbounded).
	QuoteDates(ctx context.Context, start, end time.Time) ([]time.Time, error)

	// NearestExpiry returns the earliest expiry with DTE >= minDTE on
	// the quote date, or nil if none qualifies.
	NearestExpiry(ctx context.Context, quoteDate time.Time, minDTE int) (*Expiry, error)

	// QuoteNearestToMoney returns the chain row with the smallest strike
	// distance from the underlying for the date/expiry pair.
	QuoteNearestToMoney(ctx context.Context, quoteDate, expiryDate time.Time) (*models.OptionsData, error)

	// QuoteByDelta returns the chain row whose delta on the requested
	// side, adjusted for position direction, is closest to target.
	QuoteByDelta(ctx context.Context, ct models.ContractType, pt models.PositionType, quoteDate, expiryDate time.Time, target float64) (*models.OptionsData, error)

	// QuoteAtStrike returns the exact chain row for the date, strike,
	// and expiry, used to revalue an existing leg.
	QuoteAtStrike(ctx context.Context, quoteDate time.Time, strike float64, expiryDate time.Time) (*models.OptionsData, error)
}

// TradeStore persists trades, legs, and the run ledger, scoped to one
// run's table namespace. Leg rows are append-only: they are never
// updated or deleted once written.
type TradeStore interface {
	// InitSchema drops any prior trade tables under this run's namespace
	// and recreates them, along with the options-chain indexes and the
	// shared run ledger table.
	InitSchema(ctx context.Context) error

	// RecordRun appends one ledger row describing this invocation.
	RecordRun(ctx context.Context, strategy, rawParams string) error

	// CreateTrade inserts the trade row and all of its legs in one
	// transaction and returns the generated trade id.
	CreateTrade(ctx context.Context, trade *models.Trade) (int64, error)

	// AppendLeg inserts a new leg row tagged to an existing trade and
	// fills in the leg's HistoryID.
	AppendLeg(ctx context.Context, tradeID int64, leg *models.Leg) error

	// UpdateTrade rewrites the trade-level fields of an existing row,
	// keyed by trade id. Legs are untouched.
	UpdateTrade(ctx context.Context, trade *models.Trade) error

	// MarkClosed flips the trade to CLOSED and sets the three terminal
	// fields in one statement.
	MarkClosed(ctx context.Context, tradeID int64, closingPremium float64, closedAt time.Time, reason models.CloseReason) error

	// LoadTrade reconstructs a trade with its legs, optionally filtered
	// to one leg type. Returns ErrTradeNotFound for an unknown id.
	LoadTrade(ctx context.Context, tradeID int64, legType *models.LegType) (*models.Trade, error)

	// LoadAllTrades returns every trade with all of its legs, ordered by
	// trade date ascending.
	LoadAllTrades(ctx context.Context) ([]models.Trade, error)

	// OpenTrades returns the trade rows (legs not loaded) still OPEN.
	OpenTrades(ctx context.Context) ([]models.Trade, error)

	// MostRecentOpenTrade returns the OPEN trade row with the latest
	// trade date, or nil if no trade is open.
	MostRecentOpenTrade(ctx context.Context) (*models.Trade, error)
}
