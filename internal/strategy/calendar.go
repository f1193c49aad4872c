package strategy

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"optionslab/internal/models"
	"optionslab/internal/store"
)

// CalendarConfig holds the knobs for the calendar spread.
type CalendarConfig struct {
	// FrontDTE and BackDTE are the minimum days-to-expiry targets for
	// the short front leg and the long back leg.
	FrontDTE int
	BackDTE  int

	// ContractType selects the put or call calendar.
	ContractType models.ContractType
}

// Calendar sells the front-month contract nearest to the money and
// buys the same side further out. The trade expires with the front
// leg.
type Calendar struct {
	quotes store.QuoteStore
	cfg    CalendarConfig
	log    zerolog.Logger
}

// NewCalendar builds the calendar spread strategy.
func NewCalendar(quotes store.QuoteStore, cfg CalendarConfig, log zerolog.Logger) *Calendar {
	return &Calendar{quotes: quotes, cfg: cfg, log: log}
}

func (c *Calendar) Name() string {
	if c.cfg.ContractType == models.ContractCall {
		return NameCallCalendar
	}
	return NamePutCalendar
}

func (c *Calendar) BuildTrade(ctx context.Context, quoteDate time.Time) (*models.Trade, error) {
	front, err := c.quotes.NearestExpiry(ctx, quoteDate, c.cfg.FrontDTE)
	if err != nil {
		return nil, err
	}
	back, err := c.quotes.NearestExpiry(ctx, quoteDate, c.cfg.BackDTE)
	if err != nil {
		return nil, err
	}
	if front == nil || back == nil {
		c.log.Warn().
			Time("quote_date", quoteDate).
			Int("front_dte", c.cfg.FrontDTE).
			Int("back_dte", c.cfg.BackDTE).
			Msg("unable to find front or back expiry")
		return nil, nil
	}

	frontQuote, err := c.quotes.QuoteNearestToMoney(ctx, quoteDate, front.Date)
	if err != nil {
		return nil, err
	}
	backQuote, err := c.quotes.QuoteNearestToMoney(ctx, quoteDate, back.Date)
	if err != nil {
		return nil, err
	}
	if frontQuote.BadData() || backQuote.BadData() {
		c.log.Warn().
			Time("quote_date", quoteDate).
			Msg("bad options data, skipping calendar entry")
		return nil, nil
	}

	legs := []models.Leg{
		legFromQuote(frontQuote, c.cfg.ContractType, models.PositionShort, quoteDate, front.Date),
		legFromQuote(backQuote, c.cfg.ContractType, models.PositionLong, quoteDate, back.Date),
	}
	return newOpenTrade(quoteDate, front.Date, c.cfg.FrontDTE, legs), nil
}
