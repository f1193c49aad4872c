// Package strategy defines the trade construction interface and the
// concrete option strategies the engine can run.
package strategy

import (
	"context"
	"time"

	"optionslab/internal/models"
	"optionslab/internal/store"
)

// Strategy names, used for table namespaces and the run ledger.
const (
	NameStraddle       = "short_straddle"
	NameVolGated       = "short_straddle_high_vol"
	NameRSIStraddle    = "short_straddle_rsi"
	NameLadderStraddle = "short_straddle_staggered"
	NamePutCalendar    = "put_calendar"
	NameCallCalendar   = "call_calendar"
	NameDeltaShort     = "short_put_call_delta"
)

// Strategy builds candidate trades. It is the only required interface;
// the engine discovers optional behavior via the capability interfaces
// below with plain type assertions.
type Strategy interface {
	// Name is the strategy identifier used for logging and the run
	// ledger.
	Name() string

	// BuildTrade constructs a new OPEN trade for the quote date, or
	// returns (nil, nil) when no valid trade can be built (missing
	// expiry, bad chain data, gate conditions inside the strategy).
	BuildTrade(ctx context.Context, quoteDate time.Time) (*models.Trade, error)
}

// PreRunner is implemented by strategies that need one-time setup
// before the day loop starts, such as loading indicator series.
type PreRunner interface {
	PreRun(ctx context.Context, quoteDates []time.Time) error
}

// EntryGate is implemented by strategies that veto new entries beyond
// the engine's standard max-open-trades and trade-delay checks.
type EntryGate interface {
	EntryAllowed(ctx context.Context, quoteDate time.Time) (bool, error)
}

// Adjuster is implemented by strategies that modify open trades in
// place each day before revaluation, such as laddered entries.
type Adjuster interface {
	AdjustTrade(ctx context.Context, trade *models.Trade, quoteDate time.Time) error
}

// legFromQuote builds one normalized open leg from a chain row.
func legFromQuote(od *models.OptionsData, ct models.ContractType, pt models.PositionType, quoteDate, expiryDate time.Time) models.Leg {
	leg := models.Leg{
		QuoteDate:         quoteDate,
		ExpiryDate:        expiryDate,
		ContractType:      ct,
		PositionType:      pt,
		LegType:           models.LegOpen,
		StrikePrice:       od.Strike,
		UnderlyingOpen:    od.UnderlyingLast,
		UnderlyingCurrent: od.UnderlyingLast,
		PremiumOpen:       od.Side(ct).Last,
		PremiumCurrent:    od.Side(ct).Last,
		Greeks:            od.SideGreeks(ct),
	}
	leg.Normalize()
	return leg
}

// straddleLegs builds the short put/short call pair nearest to the
// money for the date and expiry. Returns (nil, 0, nil) on bad data.
func straddleLegs(ctx context.Context, quotes store.QuoteStore, quoteDate, expiryDate time.Time) ([]models.Leg, float64, error) {
	od, err := quotes.QuoteNearestToMoney(ctx, quoteDate, expiryDate)
	if err != nil {
		return nil, 0, err
	}
	if od.BadData() {
		return nil, 0, nil
	}

	legs := []models.Leg{
		legFromQuote(od, models.ContractPut, models.PositionShort, quoteDate, expiryDate),
		legFromQuote(od, models.ContractCall, models.PositionShort, quoteDate, expiryDate),
	}
	return legs, models.SumOpenPremium(legs), nil
}

// newOpenTrade wraps legs into an OPEN trade for the quote date.
func newOpenTrade(quoteDate, expireDate time.Time, dte int, legs []models.Leg) *models.Trade {
	return &models.Trade{
		TradeDate:       quoteDate,
		ExpireDate:      expireDate,
		DTE:             dte,
		Status:          models.StatusOpen,
		PremiumCaptured: models.SumOpenPremium(legs),
		Legs:            legs,
	}
}
