// Package curve holds the pure bonding-curve math: reserve validation,
// price, market cap and progress to graduation.
package curve

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"curve-tracker/internal/domain"
)

const (
	// LamportsPerSol is the number of lamports in one SOL.
	LamportsPerSol = 1_000_000_000
	// TokenUnit is the number of base units per token (6 decimals).
	TokenUnit = 1_000_000
	// TotalSupply is the fixed token supply used for market cap.
	TotalSupply = 1_000_000_000
)

// ProgressWindow is the SOL reserve range mapped onto 0..100% progress.
type ProgressWindow struct {
	StartSol float64
	EndSol   float64
}

var (
	// DefaultProgressWindow matches the graduation threshold logic.
	DefaultProgressWindow = ProgressWindow{StartSol: 30, EndSol: 85}
	// AlternateProgressWindow counts progress from an empty curve.
	AlternateProgressWindow = ProgressWindow{StartSol: 0, EndSol: 115}
)

// ParseProgressWindow parses "start-end", e.g. "30-85".
func ParseProgressWindow(s string) (ProgressWindow, error) {
	startStr, endStr, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return ProgressWindow{}, fmt.Errorf("progress window %q: want start-end", s)
	}
	start, err := strconv.ParseFloat(strings.TrimSpace(startStr), 64)
	if err != nil {
		return ProgressWindow{}, fmt.Errorf("progress window start: %w", err)
	}
	end, err := strconv.ParseFloat(strings.TrimSpace(endStr), 64)
	if err != nil {
		return ProgressWindow{}, fmt.Errorf("progress window end: %w", err)
	}
	w := ProgressWindow{StartSol: start, EndSol: end}
	if err := w.Validate(); err != nil {
		return ProgressWindow{}, err
	}
	return w, nil
}

// Validate checks that the window is non-empty.
func (w ProgressWindow) Validate() error {
	if w.StartSol < 0 || w.EndSol <= w.StartSol {
		return fmt.Errorf("progress window %v-%v: end must exceed start", w.StartSol, w.EndSol)
	}
	return nil
}

func (w ProgressWindow) String() string {
	return strconv.FormatFloat(w.StartSol, 'f', -1, 64) + "-" + strconv.FormatFloat(w.EndSol, 'f', -1, 64)
}

// LamportsToSol converts lamports to SOL.
func LamportsToSol(lamports uint64) float64 {
	return float64(lamports) / LamportsPerSol
}

// PriceInSol returns the token price in SOL. Zero token reserves give 0.
func PriceInSol(solReserves, tokenReserves uint64) float64 {
	if tokenReserves == 0 {
		return 0
	}
	tokens := float64(tokenReserves) / TokenUnit
	return LamportsToSol(solReserves) / tokens
}

// PriceInUSD converts a SOL price using the reference SOL/USD rate.
func PriceInUSD(priceSol, solPriceUSD float64) float64 {
	return priceSol * solPriceUSD
}

// MarketCapUSD assumes the fixed total supply, not circulating supply.
func MarketCapUSD(priceUSD float64) float64 {
	return priceUSD * TotalSupply
}

// Progress returns the percentage of the window covered by solReserves, clamped to [0, 100].
func Progress(solReserves uint64, w ProgressWindow) float64 {
	span := w.EndSol - w.StartSol
	if span <= 0 {
		return 0
	}
	p := (LamportsToSol(solReserves) - w.StartSol) / span * 100
	return math.Max(0, math.Min(100, p))
}

// Calculator computes price snapshots for one progress window.
type Calculator struct {
	window ProgressWindow
}

// NewCalculator creates a Calculator. An invalid window falls back to the default.
func NewCalculator(w ProgressWindow) *Calculator {
	if w.Validate() != nil {
		w = DefaultProgressWindow
	}
	return &Calculator{window: w}
}

// Window returns the configured progress window.
func (c *Calculator) Window() ProgressWindow {
	return c.window
}

// Snapshot derives every price metric for one reserve pair.
func (c *Calculator) Snapshot(solReserves, tokenReserves uint64, solPriceUSD float64) domain.PriceSnapshot {
	priceSol := PriceInSol(solReserves, tokenReserves)
	priceUSD := PriceInUSD(priceSol, solPriceUSD)
	return domain.PriceSnapshot{
		PriceSol:     priceSol,
		PriceUSD:     priceUSD,
		MarketCapUSD: MarketCapUSD(priceUSD),
		Progress:     Progress(solReserves, c.window),
	}
}
