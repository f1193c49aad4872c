// Package indicators computes entry-gate signals from daily bar CSVs:
// RSI on the underlying and the VIX term-structure regime signal.
// Providers are built once per run and handed to strategies; there is
// no ambient market-data state.
package indicators

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gocarina/gocsv"

	"optionslab/internal/models"
)

// Bar is one daily OHLCV row from a market-data CSV.
type Bar struct {
	Date   string  `csv:"Date"`
	Open   float64 `csv:"Open"`
	High   float64 `csv:"High"`
	Low    float64 `csv:"Low"`
	Close  float64 `csv:"Close"`
	Volume float64 `csv:"Volume"`
}

// LoadBars reads a daily bar CSV, ordered as stored (oldest first).
func LoadBars(path string) ([]Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bars file: %w", err)
	}
	defer f.Close()

	var bars []Bar
	if err := gocsv.UnmarshalFile(f, &bars); err != nil {
		return nil, fmt.Errorf("failed to parse bars file %s: %w", path, err)
	}
	return bars, nil
}

// RSI returns the relative strength index series for the closes using
// Wilder smoothing. Entries before one full period are zero; callers
// must treat index < period as no-signal.
func RSI(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	if len(closes) <= period || period <= 0 {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiFromAverages(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiFromAverages(avgGain, avgLoss)
	}
	return out
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// rollingMedian computes the window-sized rolling median of the series.
// Entries before one full window are zero.
func rollingMedian(series []float64, window int) []float64 {
	out := make([]float64, len(series))
	if window <= 0 || len(series) < window {
		return out
	}
	buf := make([]float64, window)
	for i := window - 1; i < len(series); i++ {
		copy(buf, series[i-window+1:i+1])
		sort.Float64s(buf)
		if window%2 == 1 {
			out[i] = buf[window/2]
		} else {
			out[i] = (buf[window/2-1] + buf[window/2]) / 2
		}
	}
	return out
}

// Provider serves per-date indicator values keyed by quote date.
// Missing dates report ok=false; gated strategies skip entry on them.
type Provider struct {
	rsi        map[string]float64
	ivtsMedian map[string]float64
}

// New returns an empty provider. Load methods populate it.
func New() *Provider {
	return &Provider{
		rsi:        make(map[string]float64),
		ivtsMedian: make(map[string]float64),
	}
}

func dateKey(t time.Time) string {
	return t.Format(models.DateLayout)
}

// LoadRSI reads <dir>/<symbol>.csv and computes the RSI series for the
// given period. Dates inside the warm-up window carry no value.
func (p *Provider) LoadRSI(dir, symbol string, period int) error {
	if period < 1 {
		return fmt.Errorf("rsi period must be at least 1, got %d", period)
	}

	bars, err := LoadBars(filepath.Join(dir, symbol+".csv"))
	if err != nil {
		return err
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	series := RSI(closes, period)
	for i := period; i < len(bars); i++ {
		p.rsi[bars[i].Date] = series[i]
	}
	return nil
}

// RSI returns the underlying's RSI for the date, ok=false when the
// date is absent or inside the warm-up window.
func (p *Provider) RSI(date time.Time) (float64, bool) {
	v, ok := p.rsi[dateKey(date)]
	return v, ok
}

// LoadVolSignal reads <dir>/VIX9D.csv and <dir>/VIX.csv, computes the
// implied-volatility term-structure ratio (short-term over long-term
// close), and stores its rolling median. Dates are aligned by the
// short-term series; rows missing from the long-term file are skipped.
func (p *Provider) LoadVolSignal(dir string, window int) error {
	if window < 1 {
		return fmt.Errorf("vol signal window must be at least 1, got %d", window)
	}

	shortTerm, err := LoadBars(filepath.Join(dir, "VIX9D.csv"))
	if err != nil {
		return err
	}
	longTerm, err := LoadBars(filepath.Join(dir, "VIX.csv"))
	if err != nil {
		return err
	}

	longClose := make(map[string]float64, len(longTerm))
	for _, b := range longTerm {
		longClose[b.Date] = b.Close
	}

	var dates []string
	var ivts []float64
	for _, b := range shortTerm {
		lt, ok := longClose[b.Date]
		if !ok || lt == 0 {
			continue
		}
		dates = append(dates, b.Date)
		ivts = append(ivts, b.Close/lt)
	}

	medians := rollingMedian(ivts, window)
	for i := window - 1; i < len(dates); i++ {
		p.ivtsMedian[dates[i]] = medians[i]
	}
	return nil
}

// HighVolRegime reports whether the date sits in a high-volatility
// regime, defined as the rolling IVTS median at or above 1 (short-term
// implied vol not below long-term). ok=false when the date has no
// signal.
func (p *Provider) HighVolRegime(date time.Time) (inRegime, ok bool) {
	median, ok := p.ivtsMedian[dateKey(date)]
	if !ok {
		return false, false
	}
	return median >= 1, true
}
