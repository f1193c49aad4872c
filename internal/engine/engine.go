// Package engine runs the day-stepping backtest loop: revalue open
// trades, close the ones that hit a target, and ask the strategy for
// new entries.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"optionslab/internal/logging"
	"optionslab/internal/models"
	"optionslab/internal/store"
	"optionslab/internal/strategy"
)

// Options are the engine-level trade management settings. The pointer
// fields are optional: nil disables the check entirely.
type Options struct {
	// MaxOpenTrades caps concurrent open trades.
	MaxOpenTrades int

	// TradeDelay is the minimum days between new entries, measured from
	// the most recently opened trade still open.
	TradeDelay *int

	// ForceCloseAfterDays closes any trade held at least this long.
	ForceCloseAfterDays *int

	// ProfitTake and StopLoss are percentages of captured premium.
	ProfitTake *float64
	StopLoss   *float64

	// StartDate and EndDate bound the quote dates processed. Zero time
	// leaves that side unbounded.
	StartDate time.Time
	EndDate   time.Time

	// RawParams is the flattened parameter string recorded in the run
	// ledger.
	RawParams string
}

// Engine drives one backtest run. It owns no market data of its own;
// quotes come from the store and entries from the strategy.
type Engine struct {
	quotes store.QuoteStore
	trades store.TradeStore
	strat  strategy.Strategy
	opts   Options
	log    zerolog.Logger
}

// New wires an engine for one run.
func New(quotes store.QuoteStore, trades store.TradeStore, strat strategy.Strategy, opts Options, log zerolog.Logger) *Engine {
	return &Engine{
		quotes: quotes,
		trades: trades,
		strat:  strat,
		opts:   opts,
		log:    log,
	}
}

// Run executes the backtest: set up this run's tables, record the
// ledger row, then walk every quote date in order. Days are processed
// strictly sequentially; each day updates open trades before
// considering a new entry.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.trades.InitSchema(ctx); err != nil {
		return err
	}

	quoteDates, err := e.quotes.QuoteDates(ctx, e.opts.StartDate, e.opts.EndDate)
	if err != nil {
		return err
	}
	if len(quoteDates) == 0 {
		return fmt.Errorf("no quote dates in range: %w", store.ErrNoData)
	}

	if err := e.trades.RecordRun(ctx, e.strat.Name(), e.opts.RawParams); err != nil {
		return err
	}

	if pr, ok := e.strat.(strategy.PreRunner); ok {
		if err := pr.PreRun(ctx, quoteDates); err != nil {
			return fmt.Errorf("strategy pre-run failed: %w", err)
		}
	}

	for _, quoteDate := range quoteDates {
		if err := ctx.Err(); err != nil {
			return err
		}

		e.log.Info().Time("quote_date", quoteDate).Msg("processing quote date")

		openTrades, err := e.trades.OpenTrades(ctx)
		if err != nil {
			return err
		}
		for _, t := range openTrades {
			if err := e.updateOpenTrade(ctx, t.ID, quoteDate); err != nil {
				e.log.Error().Err(err).Int64("trade_id", t.ID).Msg("failed to process open trade")
				return err
			}
		}

		allowed, err := e.allowedToOpen(ctx, quoteDate)
		if err != nil {
			return err
		}
		if !allowed {
			continue
		}

		trade, err := e.strat.BuildTrade(ctx, quoteDate)
		if err != nil {
			return err
		}
		if trade == nil {
			continue
		}

		tradeID, err := e.trades.CreateTrade(ctx, trade)
		if err != nil {
			return err
		}
		e.log.Info().
			Int64("trade_id", tradeID).
			Float64("premium_captured", trade.PremiumCaptured).
			Msg("trade created")
	}

	return nil
}

// updateOpenTrade runs one open trade through a single day: optional
// strategy adjustment, leg revaluation, the close decision, and the
// append-only audit/close persistence.
func (e *Engine) updateOpenTrade(ctx context.Context, tradeID int64, quoteDate time.Time) error {
	log := logging.WithTradeID(e.log, tradeID)

	legOpen := models.LegOpen
	trade, err := e.trades.LoadTrade(ctx, tradeID, &legOpen)
	if err != nil {
		return err
	}

	if adj, ok := e.strat.(strategy.Adjuster); ok {
		if err := adj.AdjustTrade(ctx, trade, quoteDate); err != nil {
			return err
		}
	}

	updated, err := e.revalueLegs(ctx, trade.Legs, quoteDate)
	if err != nil {
		return err
	}

	reason, closable := e.closeDecision(trade, updated, quoteDate)

	// Only legs that round-tripped through storage get relabeled; a
	// fresh ladder leg added today keeps its open label.
	for i := range updated {
		if updated[i].HistoryID == 0 {
			continue
		}
		if closable {
			updated[i].LegType = models.LegClose
		} else {
			updated[i].LegType = models.LegAudit
		}
	}

	if err := e.trades.UpdateTrade(ctx, trade); err != nil {
		return err
	}
	for i := range updated {
		// Appended audit/close rows get fresh history ids.
		updated[i].HistoryID = 0
		if err := e.trades.AppendLeg(ctx, tradeID, &updated[i]); err != nil {
			return err
		}
	}

	if !closable {
		log.Debug().Msg("trade still open")
		return nil
	}

	closingPremium := models.Round2(-1 * models.SumCurrentPremium(updated))
	if err := e.trades.MarkClosed(ctx, tradeID, closingPremium, quoteDate, reason); err != nil {
		return err
	}
	log.Info().
		Float64("closing_premium", closingPremium).
		Str("close_reason", string(reason)).
		Msg("trade closed")
	return nil
}

// revalueLegs reprices each leg at the quote date. Legs with missing
// or bad chain data are skipped with a warning and drop out of the
// day's audit set.
func (e *Engine) revalueLegs(ctx context.Context, legs []models.Leg, quoteDate time.Time) ([]models.Leg, error) {
	var updated []models.Leg
	for _, leg := range legs {
		od, err := e.quotes.QuoteAtStrike(ctx, quoteDate, leg.StrikePrice, leg.ExpiryDate)
		if err != nil {
			return nil, err
		}
		if od.BadData() {
			e.log.Warn().
				Time("quote_date", quoteDate).
				Float64("strike", leg.StrikePrice).
				Time("expiry", leg.ExpiryDate).
				Msg("bad options data, skipping leg update")
			continue
		}

		leg.QuoteDate = quoteDate
		leg.UnderlyingCurrent = od.UnderlyingLast
		leg.PremiumCurrent = od.Side(leg.ContractType).Last
		leg.Greeks = od.SideGreeks(leg.ContractType)
		leg.Normalize()
		updated = append(updated, leg)
	}
	return updated, nil
}

// closeDecision applies the close checks in fixed order: profit take /
// stop loss on the revalued legs, then expiry, then the forced holding
// limit. First match wins.
func (e *Engine) closeDecision(trade *models.Trade, updated []models.Leg, quoteDate time.Time) (models.CloseReason, bool) {
	current := models.SumCurrentPremium(updated)
	captured := trade.PremiumCaptured
	if captured == 0 {
		// Guards the division below.
		captured = 0.001
	}
	diffPct := (captured - current) / captured * 100

	if e.opts.ProfitTake != nil && diffPct >= *e.opts.ProfitTake {
		return models.CloseProfitTake, true
	}
	if e.opts.StopLoss != nil && diffPct <= -*e.opts.StopLoss {
		return models.CloseStopLoss, true
	}
	if !quoteDate.Before(trade.ExpireDate) {
		return models.CloseExpired, true
	}
	if e.opts.ForceCloseAfterDays != nil &&
		models.DaysBetween(trade.TradeDate, quoteDate) >= *e.opts.ForceCloseAfterDays {
		return models.CloseForcedDays, true
	}
	return "", false
}

// allowedToOpen applies the engine-level entry gates, then the
// strategy's own gate when it has one.
func (e *Engine) allowedToOpen(ctx context.Context, quoteDate time.Time) (bool, error) {
	openTrades, err := e.trades.OpenTrades(ctx)
	if err != nil {
		return false, err
	}
	if len(openTrades) >= e.opts.MaxOpenTrades {
		e.log.Debug().
			Int("max_open_trades", e.opts.MaxOpenTrades).
			Msg("max open trades reached, skipping new trade")
		return false, nil
	}

	if e.opts.TradeDelay != nil {
		last, err := e.trades.MostRecentOpenTrade(ctx)
		if err != nil {
			return false, err
		}
		if last != nil {
			daysSince := models.DaysBetween(last.TradeDate, quoteDate)
			if daysSince < *e.opts.TradeDelay {
				e.log.Debug().
					Int("days_since_last_trade", daysSince).
					Int("trade_delay", *e.opts.TradeDelay).
					Msg("waiting for trade delay")
				return false, nil
			}
		}
	}

	if gate, ok := e.strat.(strategy.EntryGate); ok {
		return gate.EntryAllowed(ctx, quoteDate)
	}
	return true, nil
}
