package models

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// For any raw premium, the sign convention must hold: long legs pay
// (negative), short legs collect (positive), and applying the
// convention twice changes nothing.
func TestPremiumSignProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("long premiums are never positive", prop.ForAll(
		func(premium float64) bool {
			return NormalizePremium(PositionLong, premium) <= 0
		},
		gen.Float64Range(-1e6, 1e6),
	))

	properties.Property("short premiums are never negative", prop.ForAll(
		func(premium float64) bool {
			return NormalizePremium(PositionShort, premium) >= 0
		},
		gen.Float64Range(-1e6, 1e6),
	))

	properties.Property("normalization is idempotent", prop.ForAll(
		func(premium float64, isLong bool) bool {
			pt := PositionShort
			if isLong {
				pt = PositionLong
			}
			once := NormalizePremium(pt, premium)
			return NormalizePremium(pt, once) == once
		},
		gen.Float64Range(-1e6, 1e6),
		gen.Bool(),
	))

	properties.Property("magnitude is preserved", prop.ForAll(
		func(premium float64, isLong bool) bool {
			pt := PositionShort
			if isLong {
				pt = PositionLong
			}
			return math.Abs(NormalizePremium(pt, premium)) == math.Abs(premium)
		},
		gen.Float64Range(-1e6, 1e6),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestRound2Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("rounding moves the value by at most half a cent", prop.ForAll(
		func(v float64) bool {
			return math.Abs(Round2(v)-v) <= 0.005+1e-9
		},
		gen.Float64Range(-1e6, 1e6),
	))

	properties.Property("rounding is idempotent", prop.ForAll(
		func(v float64) bool {
			return Round2(Round2(v)) == Round2(v)
		},
		gen.Float64Range(-1e6, 1e6),
	))

	properties.TestingRun(t)
}
