package strategy

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"optionslab/internal/indicators"
	"optionslab/internal/models"
	"optionslab/internal/store"
)

// StraddleConfig holds the knobs shared by the straddle variants.
type StraddleConfig struct {
	// DTE is the minimum days-to-expiry target for new trades.
	DTE int

	// HighVolWindow is the rolling-median window for the vol regime
	// signal (vol-gated variant).
	HighVolWindow int

	// Contracts caps the number of straddles a laddered trade may
	// accumulate (ladder variant).
	Contracts int

	// MarketDataDir holds the indicator CSVs (vol-gated variant).
	MarketDataDir string
}

// Straddle sells the put/call pair nearest to the money at the target
// expiry.
type Straddle struct {
	quotes store.QuoteStore
	cfg    StraddleConfig
	log    zerolog.Logger
}

// NewStraddle builds the plain short straddle strategy.
func NewStraddle(quotes store.QuoteStore, cfg StraddleConfig, log zerolog.Logger) *Straddle {
	return &Straddle{quotes: quotes, cfg: cfg, log: log}
}

func (s *Straddle) Name() string { return NameStraddle }

func (s *Straddle) BuildTrade(ctx context.Context, quoteDate time.Time) (*models.Trade, error) {
	expiry, err := s.quotes.NearestExpiry(ctx, quoteDate, s.cfg.DTE)
	if err != nil {
		return nil, err
	}
	if expiry == nil {
		s.log.Warn().
			Time("quote_date", quoteDate).
			Int("dte", s.cfg.DTE).
			Msg("no expiry found for target dte")
		return nil, nil
	}

	legs, _, err := straddleLegs(ctx, s.quotes, quoteDate, expiry.Date)
	if err != nil {
		return nil, err
	}
	if legs == nil {
		s.log.Warn().
			Time("quote_date", quoteDate).
			Msg("bad options data, skipping trade entry")
		return nil, nil
	}

	return newOpenTrade(quoteDate, expiry.Date, s.cfg.DTE, legs), nil
}

// VolGatedStraddle is a short straddle that only enters while the
// VIX term structure signals a high-volatility regime.
type VolGatedStraddle struct {
	*Straddle
	provider *indicators.Provider
}

// NewVolGatedStraddle builds the vol-regime-gated straddle.
func NewVolGatedStraddle(quotes store.QuoteStore, cfg StraddleConfig, log zerolog.Logger) *VolGatedStraddle {
	return &VolGatedStraddle{
		Straddle: NewStraddle(quotes, cfg, log),
		provider: indicators.New(),
	}
}

func (s *VolGatedStraddle) Name() string { return NameVolGated }

// PreRun loads the VIX term-structure series covering the backtest.
func (s *VolGatedStraddle) PreRun(ctx context.Context, quoteDates []time.Time) error {
	return s.provider.LoadVolSignal(s.cfg.MarketDataDir, s.cfg.HighVolWindow)
}

// EntryAllowed admits entries only inside a high-vol regime. Dates
// without a signal are blocked.
func (s *VolGatedStraddle) EntryAllowed(ctx context.Context, quoteDate time.Time) (bool, error) {
	inRegime, ok := s.provider.HighVolRegime(quoteDate)
	if !ok {
		s.log.Debug().Time("quote_date", quoteDate).Msg("no vol signal for date")
		return false, nil
	}
	return inRegime, nil
}

// RSIStraddleConfig extends the straddle with an RSI entry band.
type RSIStraddleConfig struct {
	StraddleConfig

	RSIPeriod int
	RSILow    float64
	RSIHigh   float64

	// Underlying names the bar CSV used for RSI, e.g. "SPY".
	Underlying string
}

// RSIStraddle is a short straddle that only enters when the
// underlying's RSI sits at an extreme (below low or above high).
type RSIStraddle struct {
	*Straddle
	cfg      RSIStraddleConfig
	provider *indicators.Provider
}

// NewRSIStraddle builds the RSI-band-gated straddle.
func NewRSIStraddle(quotes store.QuoteStore, cfg RSIStraddleConfig, log zerolog.Logger) *RSIStraddle {
	return &RSIStraddle{
		Straddle: NewStraddle(quotes, cfg.StraddleConfig, log),
		cfg:      cfg,
		provider: indicators.New(),
	}
}

func (s *RSIStraddle) Name() string { return NameRSIStraddle }

// PreRun loads the underlying bars and computes the RSI series.
func (s *RSIStraddle) PreRun(ctx context.Context, quoteDates []time.Time) error {
	return s.provider.LoadRSI(s.cfg.MarketDataDir, s.cfg.Underlying, s.cfg.RSIPeriod)
}

func (s *RSIStraddle) EntryAllowed(ctx context.Context, quoteDate time.Time) (bool, error) {
	rsi, ok := s.provider.RSI(quoteDate)
	if !ok {
		s.log.Debug().Time("quote_date", quoteDate).Msg("no rsi value for date")
		return false, nil
	}
	return rsi < s.cfg.RSILow || rsi > s.cfg.RSIHigh, nil
}

// LadderStraddle opens one straddle and keeps stacking additional
// straddles at the same expiry on later days until the contract cap is
// reached.
type LadderStraddle struct {
	*Straddle
}

// NewLadderStraddle builds the staggered-entry straddle.
func NewLadderStraddle(quotes store.QuoteStore, cfg StraddleConfig, log zerolog.Logger) *LadderStraddle {
	return &LadderStraddle{Straddle: NewStraddle(quotes, cfg, log)}
}

func (s *LadderStraddle) Name() string { return NameLadderStraddle }

// AdjustTrade appends another straddle at the trade's existing expiry,
// capped at Contracts straddles (two legs each). New legs keep their
// open label so the relabel pass leaves them as fresh entries.
func (s *LadderStraddle) AdjustTrade(ctx context.Context, trade *models.Trade, quoteDate time.Time) error {
	if len(trade.Legs) >= s.cfg.Contracts*2 {
		return nil
	}

	legs, premium, err := straddleLegs(ctx, s.quotes, quoteDate, trade.ExpireDate)
	if err != nil {
		return err
	}
	if legs == nil {
		s.log.Warn().
			Time("quote_date", quoteDate).
			Int64("trade_id", trade.ID).
			Msg("bad options data, skipping ladder entry")
		return nil
	}

	trade.Legs = append(trade.Legs, legs...)
	trade.PremiumCaptured = models.Round2(trade.PremiumCaptured + premium)
	return nil
}
