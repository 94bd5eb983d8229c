// Package risk enforces per-user exposure caps on share holdings.
//
// Caps are a house policy, not a pricing concern: they bound how much of
// any single question — and of the whole book — one account can hold, so
// a runaway buyer cannot corner a market or concentrate the engine's
// bounded-loss subsidy in one place.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrMarketExposureExceeded is returned when a buy would push one
	// user's holding in a single market past the per-market cap.
	ErrMarketExposureExceeded = errors.New("risk: per-market exposure limit exceeded")

	// ErrTotalExposureExceeded is returned when a buy would push one
	// user's aggregate holdings across all markets past the total cap.
	ErrTotalExposureExceeded = errors.New("risk: total exposure limit exceeded")
)

// Limiter caps a user's share exposure. Zero caps mean unlimited.
type Limiter struct {
	// MaxPerMarket is the maximum shares one user may hold in one market,
	// both sides combined.
	MaxPerMarket decimal.Decimal

	// MaxTotal is the maximum shares one user may hold across all markets.
	MaxTotal decimal.Decimal
}

// NewLimiter creates a limiter with the given caps.
func NewLimiter(maxPerMarket, maxTotal decimal.Decimal) *Limiter {
	return &Limiter{
		MaxPerMarket: maxPerMarket,
		MaxTotal:     maxTotal,
	}
}

// Check validates whether buying delta more shares in targetMarket keeps
// the user within limits. holdings maps market ID → the user's current
// live shares in that market. Exactly-at-limit is allowed.
func (l *Limiter) Check(targetMarket string, delta decimal.Decimal, holdings map[string]decimal.Decimal) error {
	inMarket := holdings[targetMarket].Add(delta)
	if l.MaxPerMarket.IsPositive() && inMarket.GreaterThan(l.MaxPerMarket) {
		return ErrMarketExposureExceeded
	}

	if l.MaxTotal.IsPositive() {
		total := delta
		for _, h := range holdings {
			total = total.Add(h)
		}
		if total.GreaterThan(l.MaxTotal) {
			return ErrTotalExposureExceeded
		}
	}

	return nil
}
