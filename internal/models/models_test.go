package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		t.Fatalf("bad date %q: %v", s, err)
	}
	return d
}

func shortLeg(ct ContractType, strike, premium float64) Leg {
	leg := Leg{
		ContractType:   ct,
		PositionType:   PositionShort,
		LegType:        LegOpen,
		StrikePrice:    strike,
		PremiumOpen:    premium,
		PremiumCurrent: premium,
	}
	leg.Normalize()
	return leg
}

func TestNormalize(t *testing.T) {
	long := Leg{PositionType: PositionLong, PremiumOpen: 2.5, PremiumCurrent: -1.3}
	long.Normalize()
	assert.Equal(t, -2.5, long.PremiumOpen)
	assert.Equal(t, -1.3, long.PremiumCurrent)

	short := Leg{PositionType: PositionShort, PremiumOpen: -2.5, PremiumCurrent: 1.3}
	short.Normalize()
	assert.Equal(t, 2.5, short.PremiumOpen)
	assert.Equal(t, 1.3, short.PremiumCurrent)
}

func TestBreakevenShortStraddle(t *testing.T) {
	trade := &Trade{
		Legs: []Leg{
			shortLeg(ContractPut, 100, 1.5),
			shortLeg(ContractCall, 100, 2.5),
		},
	}

	lower, upper := trade.Breakeven()
	assert.Equal(t, 96.0, lower)
	assert.Equal(t, 104.0, upper)
}

func TestBreakevenIgnoresAuditRows(t *testing.T) {
	audit := shortLeg(ContractPut, 100, 9)
	audit.LegType = LegAudit

	trade := &Trade{
		Legs: []Leg{
			shortLeg(ContractPut, 100, 2),
			audit,
		},
	}

	lower, upper := trade.Breakeven()
	assert.Equal(t, 98.0, lower)
	assert.Equal(t, 98.0, upper)
}

func TestBreakevenLongOnly(t *testing.T) {
	long := Leg{
		ContractType:   ContractCall,
		PositionType:   PositionLong,
		LegType:        LegOpen,
		StrikePrice:    100,
		PremiumOpen:    2,
		PremiumCurrent: 2,
	}
	long.Normalize()

	trade := &Trade{Legs: []Leg{long}}
	lower, upper := trade.Breakeven()
	assert.Zero(t, lower)
	assert.Zero(t, upper)
}

func TestBreakevenCalendar(t *testing.T) {
	long := Leg{
		ContractType:   ContractPut,
		PositionType:   PositionLong,
		LegType:        LegOpen,
		StrikePrice:    100,
		PremiumOpen:    3,
		PremiumCurrent: 3,
	}
	long.Normalize()

	trade := &Trade{
		Legs: []Leg{
			shortLeg(ContractPut, 100, 2),
			long,
		},
	}

	// Total uses the absolute premium of every open leg, points come
	// from the short leg only.
	lower, upper := trade.Breakeven()
	assert.Equal(t, 95.0, lower)
	assert.Equal(t, 95.0, upper)
}

func TestSumPremiums(t *testing.T) {
	legs := []Leg{
		shortLeg(ContractPut, 100, 1.105),
		shortLeg(ContractCall, 100, 2.101),
	}
	legs[1].PremiumCurrent = 0.5

	assert.Equal(t, 3.21, SumOpenPremium(legs))
	assert.Equal(t, 1.61, SumCurrentPremium(legs))
	assert.Zero(t, SumOpenPremium(nil))
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 1.23, Round2(1.234))
	assert.Equal(t, 1.24, Round2(1.235))
	assert.Equal(t, -1.23, Round2(-1.234))
	assert.Equal(t, 0.0, Round2(0))
}

func TestDaysBetween(t *testing.T) {
	a := day(t, "2020-01-02")
	assert.Equal(t, 0, DaysBetween(a, a))
	assert.Equal(t, 5, DaysBetween(a, day(t, "2020-01-07")))
	assert.Equal(t, -5, DaysBetween(day(t, "2020-01-07"), a))
}

func TestBadData(t *testing.T) {
	var missing *OptionsData
	assert.True(t, missing.BadData())

	od := &OptionsData{
		UnderlyingLast: 100,
		Call:           OptionSide{Last: 1},
		Put:            OptionSide{Last: 1},
	}
	assert.False(t, od.BadData())

	od.Put.Last = 0
	assert.True(t, od.BadData())

	od.Put.Last = 1
	od.UnderlyingLast = 0
	assert.True(t, od.BadData())
}

func TestSideAndGreeks(t *testing.T) {
	od := &OptionsData{
		Call: OptionSide{Last: 1, Delta: 0.5, IV: 0.2},
		Put:  OptionSide{Last: 2, Delta: -0.5, IV: 0.3},
	}

	assert.Equal(t, 1.0, od.Side(ContractCall).Last)
	assert.Equal(t, 2.0, od.Side(ContractPut).Last)

	g := od.SideGreeks(ContractPut)
	assert.Equal(t, -0.5, g.Delta)
	assert.Equal(t, 0.3, g.IV)
}
