package strategy

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"optionslab/internal/indicators"
	"optionslab/internal/models"
	"optionslab/internal/store"
)

// DeltaShortConfig holds the knobs for the delta-targeted single-leg
// short strategy.
type DeltaShortConfig struct {
	DTE int

	// ShortPutDelta and ShortCallDelta are the target deltas for the
	// respective legs.
	ShortPutDelta  float64
	ShortCallDelta float64

	RSIPeriod int
	RSILow    float64
	RSIHigh   float64

	// Underlying names the bar CSV used for RSI, e.g. "SPY".
	Underlying string

	MarketDataDir string
}

// DeltaShort sells a single put or call picked by target delta, with
// the side chosen by the underlying's RSI: oversold sells the put,
// overbought sells the call. Dates inside the RSI band do not trade.
type DeltaShort struct {
	quotes   store.QuoteStore
	cfg      DeltaShortConfig
	log      zerolog.Logger
	provider *indicators.Provider

	// currentRSI is the gate's last reading, reused by BuildTrade on
	// the same quote date to pick the side.
	currentRSI float64
}

// NewDeltaShort builds the RSI-directed delta short strategy.
func NewDeltaShort(quotes store.QuoteStore, cfg DeltaShortConfig, log zerolog.Logger) *DeltaShort {
	return &DeltaShort{
		quotes:   quotes,
		cfg:      cfg,
		log:      log,
		provider: indicators.New(),
	}
}

func (d *DeltaShort) Name() string { return NameDeltaShort }

// PreRun loads the underlying bars and computes the RSI series.
func (d *DeltaShort) PreRun(ctx context.Context, quoteDates []time.Time) error {
	return d.provider.LoadRSI(d.cfg.MarketDataDir, d.cfg.Underlying, d.cfg.RSIPeriod)
}

// EntryAllowed admits entries only when RSI sits outside the band.
func (d *DeltaShort) EntryAllowed(ctx context.Context, quoteDate time.Time) (bool, error) {
	rsi, ok := d.provider.RSI(quoteDate)
	if !ok {
		d.log.Debug().Time("quote_date", quoteDate).Msg("no rsi value for date")
		return false, nil
	}
	d.currentRSI = rsi
	return rsi < d.cfg.RSILow || rsi > d.cfg.RSIHigh, nil
}

func (d *DeltaShort) BuildTrade(ctx context.Context, quoteDate time.Time) (*models.Trade, error) {
	expiry, err := d.quotes.NearestExpiry(ctx, quoteDate, d.cfg.DTE)
	if err != nil {
		return nil, err
	}
	if expiry == nil {
		d.log.Warn().
			Time("quote_date", quoteDate).
			Int("dte", d.cfg.DTE).
			Msg("no expiry found for target dte")
		return nil, nil
	}

	putQuote, err := d.quotes.QuoteByDelta(ctx, models.ContractPut, models.PositionShort, quoteDate, expiry.Date, d.cfg.ShortPutDelta)
	if err != nil {
		return nil, err
	}
	callQuote, err := d.quotes.QuoteByDelta(ctx, models.ContractCall, models.PositionShort, quoteDate, expiry.Date, d.cfg.ShortCallDelta)
	if err != nil {
		return nil, err
	}
	if putQuote.BadData() || callQuote.BadData() {
		d.log.Warn().
			Time("quote_date", quoteDate).
			Msg("bad options data, skipping trade entry")
		return nil, nil
	}

	var leg models.Leg
	switch {
	case d.currentRSI < d.cfg.RSILow:
		leg = legFromQuote(putQuote, models.ContractPut, models.PositionShort, quoteDate, expiry.Date)
	case d.currentRSI > d.cfg.RSIHigh:
		leg = legFromQuote(callQuote, models.ContractCall, models.PositionShort, quoteDate, expiry.Date)
	default:
		return nil, nil
	}

	d.log.Info().
		Float64("rsi", d.currentRSI).
		Str("contract_type", string(leg.ContractType)).
		Float64("premium_captured", leg.PremiumOpen).
		Msg("built delta short trade")

	return newOpenTrade(quoteDate, expiry.Date, d.cfg.DTE, []models.Leg{leg}), nil
}
