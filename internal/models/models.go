// Package models defines the trade, leg, and quote data model for the
// options backtesting engine.
package models

import (
	"math"
	"time"
)

// DateLayout is the wire format for quote and expiry dates.
const DateLayout = "2006-01-02"

// ContractType identifies the option side of a leg.
type ContractType string

const (
	ContractCall ContractType = "Call"
	ContractPut  ContractType = "Put"
)

// PositionType identifies the direction of a leg.
type PositionType string

const (
	PositionLong  PositionType = "Long"
	PositionShort PositionType = "Short"
)

// LegType labels a persisted leg row within a trade's history.
type LegType string

const (
	LegOpen  LegType = "TradeOpen"
	LegAudit LegType = "TradeAudit"
	LegClose LegType = "TradeClose"
)

// TradeStatus is the lifecycle state of a trade. A trade is OPEN from
// creation until exactly one close event moves it to CLOSED.
type TradeStatus string

const (
	StatusOpen   TradeStatus = "OPEN"
	StatusClosed TradeStatus = "CLOSED"
)

// CloseReason records why a trade was closed.
type CloseReason string

const (
	CloseProfitTake CloseReason = "PROFIT_TAKE"
	CloseStopLoss   CloseReason = "STOP_LOSS"
	CloseExpired    CloseReason = "EXPIRED"
	CloseForcedDays CloseReason = "FORCE_CLOSED_AFTER_DAYS"
)

// Greeks holds the sensitivity measures attached to one side of a quote.
type Greeks struct {
	Delta float64
	Gamma float64
	Vega  float64
	Theta float64
	IV    float64
}

// Leg is one option contract position within a trade at a point in time.
// Legs are append-only: each quote date produces a new leg row (audit or
// close) rather than mutating the original open row.
type Leg struct {
	// HistoryID is assigned by storage on insert; zero means the leg has
	// not round-tripped through the store yet.
	HistoryID int64

	QuoteDate    time.Time
	ExpiryDate   time.Time
	ContractType ContractType
	PositionType PositionType
	LegType      LegType
	StrikePrice  float64

	UnderlyingOpen    float64
	UnderlyingCurrent float64

	// Premiums are sign-normalized: negative for LONG (cash out),
	// positive for SHORT (cash in). See NormalizePremium.
	PremiumOpen    float64
	PremiumCurrent float64

	Greeks Greeks
}

// NormalizePremium applies the sign convention for premiums: a long
// position pays premium (negative), a short position collects it
// (positive), regardless of the sign of the raw quoted price. The
// convention lets mixed long/short aggregates be computed by plain
// addition. Idempotent.
func NormalizePremium(pt PositionType, premium float64) float64 {
	if pt == PositionLong {
		return -math.Abs(premium)
	}
	return math.Abs(premium)
}

// Normalize applies the premium sign convention to both premium fields.
// Called at construction and after loading from storage.
func (l *Leg) Normalize() {
	l.PremiumOpen = NormalizePremium(l.PositionType, l.PremiumOpen)
	l.PremiumCurrent = NormalizePremium(l.PositionType, l.PremiumCurrent)
}

// Trade is a position composed of one or more legs opened together, or
// incrementally for laddered entries.
type Trade struct {
	// ID is assigned by the repository on creation; zero until persisted.
	ID int64

	TradeDate  time.Time
	ExpireDate time.Time
	// DTE is the days-to-expiry target requested at open, not the actual
	// days until ExpireDate.
	DTE int

	Status TradeStatus

	// PremiumCaptured is the signed sum of opening premiums; positive
	// means a net credit.
	PremiumCaptured float64

	// Terminal fields, set exactly once when the trade closes.
	ClosingPremium float64
	ClosedAt       time.Time
	CloseReason    CloseReason

	Legs []Leg
}

// OpenLegs returns the legs tagged as original open rows.
func (t *Trade) OpenLegs() []Leg {
	var open []Leg
	for _, leg := range t.Legs {
		if leg.LegType == LegOpen {
			open = append(open, leg)
		}
	}
	return open
}

// Breakeven returns the lower and upper breakeven points implied by the
// short open legs: strike minus total open premium for a short put,
// strike plus total open premium for a short call. Returns (0, 0) when
// no short open legs exist.
func (t *Trade) Breakeven() (lower, upper float64) {
	open := t.OpenLegs()

	var total float64
	for _, leg := range open {
		total += math.Abs(leg.PremiumOpen)
	}

	var points []float64
	for _, leg := range open {
		if leg.PositionType != PositionShort {
			continue
		}
		switch leg.ContractType {
		case ContractCall:
			points = append(points, leg.StrikePrice+total)
		case ContractPut:
			points = append(points, leg.StrikePrice-total)
		}
	}

	if len(points) == 0 {
		return 0, 0
	}

	lower, upper = points[0], points[0]
	for _, p := range points[1:] {
		lower = math.Min(lower, p)
		upper = math.Max(upper, p)
	}
	return lower, upper
}

// SumOpenPremium returns the signed sum of opening premiums across legs,
// rounded to cents.
func SumOpenPremium(legs []Leg) float64 {
	var sum float64
	for _, leg := range legs {
		sum += leg.PremiumOpen
	}
	return Round2(sum)
}

// SumCurrentPremium returns the signed sum of current premiums across
// legs, rounded to cents.
func SumCurrentPremium(legs []Leg) float64 {
	var sum float64
	for _, leg := range legs {
		sum += leg.PremiumCurrent
	}
	return Round2(sum)
}

// Round2 rounds to two decimal places. All premium aggregation happens
// at cent precision.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// DaysBetween returns the whole days elapsed from a to b.
func DaysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

// OptionSide holds one side (call or put) of an options-chain quote row.
type OptionSide struct {
	Bid    float64
	Ask    float64
	Last   float64
	Size   string
	Volume float64

	Delta float64
	Gamma float64
	Vega  float64
	Theta float64
	Rho   float64
	IV    float64
}

// OptionsData is a single read-only options-chain row for one quote
// date, expiry, and strike. NULL prices from the chain are mapped to
// zero; the engine treats zero and missing identically (bad data).
type OptionsData struct {
	QuoteDate  time.Time
	ExpireDate time.Time
	DTE        float64
	Strike     float64

	UnderlyingLast float64

	Call OptionSide
	Put  OptionSide

	StrikeDistance    float64
	StrikeDistancePct float64
}

// BadData reports whether the row is unusable for trade pricing: the
// row is missing entirely, or any of underlying, call last, or put last
// is zero (NULL maps to zero on load).
func (od *OptionsData) BadData() bool {
	if od == nil {
		return true
	}
	return od.UnderlyingLast == 0 || od.Call.Last == 0 || od.Put.Last == 0
}

// Side returns the quote side matching the contract type.
func (od *OptionsData) Side(ct ContractType) OptionSide {
	if ct == ContractPut {
		return od.Put
	}
	return od.Call
}

// SideGreeks returns the greeks of the quote side matching the contract
// type, shaped for attachment to a Leg.
func (od *OptionsData) SideGreeks(ct ContractType) Greeks {
	side := od.Side(ct)
	return Greeks{
		Delta: side.Delta,
		Gamma: side.Gamma,
		Vega:  side.Vega,
		Theta: side.Theta,
		IV:    side.IV,
	}
}

// BacktestRun is one append-only ledger row per engine invocation.
type BacktestRun struct {
	ID             int64
	RunAt          time.Time
	Strategy       string
	RawParams      string
	TableTag       string
	TradesTable    string
	TradeLegsTable string
}
