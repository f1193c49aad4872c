package cli

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var usdPattern = regexp.MustCompile(`^-?\$\d{1,3}(,\d{3})*\.\d{2}$`)

// parseUSD reverses FormatUSD for round-trip checks.
func parseUSD(s string) float64 {
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func TestCurrencyFormattingProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("FormatUSD matches the dollar grammar", prop.ForAll(
		func(amount float64) bool {
			formatted := FormatUSD(amount)
			if !usdPattern.MatchString(formatted) {
				t.Logf("bad format for %f: %s", amount, formatted)
				return false
			}
			if amount < 0 && !strings.HasPrefix(formatted, "-$") {
				t.Logf("missing -$ prefix for %f: %s", amount, formatted)
				return false
			}
			return true
		},
		gen.Float64Range(-1e12, 1e12),
	))

	properties.Property("FormatUSD round-trips to the cent", prop.ForAll(
		func(amount float64) bool {
			parsed := parseUSD(FormatUSD(amount))
			want := math.Round(amount*100) / 100
			if math.Abs(parsed-want) > 0.005 {
				t.Logf("value drifted: in=%f out=%f", amount, parsed)
				return false
			}
			return true
		},
		gen.Float64Range(-1e9, 1e9),
	))

	properties.Property("FormatPercent signs gains only", prop.ForAll(
		func(value float64) bool {
			formatted := FormatPercent(value)
			if !strings.HasSuffix(formatted, "%") {
				return false
			}
			return (value > 0) == strings.HasPrefix(formatted, "+")
		},
		gen.Float64Range(-100, 100),
	))

	properties.TestingRun(t)
}

func TestFormatUSDExamples(t *testing.T) {
	testCases := []struct {
		amount   float64
		expected string
	}{
		{0, "$0.00"},
		{1, "$1.00"},
		{100, "$100.00"},
		{1000, "$1,000.00"},
		{10000, "$10,000.00"},
		{1000000, "$1,000,000.00"},
		{-1234.56, "-$1,234.56"},
		{12345678.90, "$12,345,678.90"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			if got := FormatUSD(tc.amount); got != tc.expected {
				t.Errorf("FormatUSD(%f) = %s, want %s", tc.amount, got, tc.expected)
			}
		})
	}
}

func TestFormatPercentExamples(t *testing.T) {
	testCases := []struct {
		value    float64
		expected string
	}{
		{0, "0.00%"},
		{1.5, "+1.50%"},
		{-2.5, "-2.50%"},
		{100, "+100.00%"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			if got := FormatPercent(tc.value); got != tc.expected {
				t.Errorf("FormatPercent(%f) = %s, want %s", tc.value, got, tc.expected)
			}
		})
	}
}
