// Package lmsr implements the Logarithmic Market Scoring Rule (LMSR)
// automated market maker for binary-outcome question markets.
//
// The LMSR (Hanson, 2003) gives the engine:
//   - Bounded loss for the house, capped at b * ln(2) for binary markets
//   - Continuous pricing with always-available liquidity
//   - A path-independent cost function, so a quote and the execution that
//     follows it derive from the same state in the same way
//
// All monetary values use shopspring/decimal — never float64 for money.
// The transcendental math runs in float64 with the log-sum-exp trick for
// numerical stability; results are converted to decimal immediately.
package lmsr

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidLiquidity is returned when b <= 0.
	ErrInvalidLiquidity = errors.New("lmsr: liquidity parameter b must be positive")

	// ErrPriceBoundExceeded is returned when a trade would pin the price
	// outside the allowed [MinPrice, MaxPrice] band.
	ErrPriceBoundExceeded = errors.New("lmsr: trade would push price beyond allowed bounds")

	// MinPrice is the probability floor. Prevents degenerate markets where
	// one side's shares become effectively worthless.
	MinPrice = decimal.NewFromFloat(0.001)

	// MaxPrice is the probability ceiling.
	MaxPrice = decimal.NewFromFloat(0.999)

	// PriceScale is the number of decimal places for price/cost rounding.
	PriceScale int32 = 8
)

// MarketMaker implements the LMSR cost function for one binary market.
// It is stateless — share quantities are passed as arguments, not stored —
// so it is safe to call concurrently without locking.
type MarketMaker struct {
	b decimal.Decimal
}

// New creates an LMSR market maker with liquidity parameter b.
// Higher b → deeper liquidity, lower price impact per trade.
func New(b decimal.Decimal) (*MarketMaker, error) {
	if b.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidLiquidity
	}
	return &MarketMaker{b: b}, nil
}

// B returns the liquidity parameter.
func (m *MarketMaker) B() decimal.Decimal {
	return m.b
}

// logSumExp computes ln(Σ exp(x_i)) without overflowing float64
// (naive exp(x) overflows past x ≈ 709).
//
// LSE(x) = max(x) + ln(Σ exp(x_i - max(x))); every exp argument is <= 0.
func logSumExp(xs []float64) float64 {
	if len(xs) == 0 {
		return math.Inf(-1)
	}

	maxVal := xs[0]
	for _, x := range xs[1:] {
		if x > maxVal {
			maxVal = x
		}
	}

	if math.IsInf(maxVal, -1) {
		return math.Inf(-1)
	}

	var sum float64
	for _, x := range xs {
		sum += math.Exp(x - maxVal)
	}
	return maxVal + math.Log(sum)
}

// Cost computes the LMSR cost function — the total subsidy owed at the
// given outstanding quantities:
//
//	C(qYes, qNo) = b * ln(exp(qYes/b) + exp(qNo/b))
func (m *MarketMaker) Cost(qYes, qNo decimal.Decimal) decimal.Decimal {
	bf := m.b.InexactFloat64()
	qy := qYes.InexactFloat64()
	qn := qNo.InexactFloat64()

	lse := logSumExp([]float64{qy / bf, qn / bf})
	cost := bf * lse

	return decimal.NewFromFloat(cost).Round(PriceScale)
}

// Price computes the instantaneous YES price (probability):
//
//	p_yes = exp(qYes/b) / (exp(qYes/b) + exp(qNo/b))
//
// This is the softmax function, evaluated with max-subtraction for
// stability. The result is clamped to [MinPrice, MaxPrice].
func (m *MarketMaker) Price(qYes, qNo decimal.Decimal) decimal.Decimal {
	bf := m.b.InexactFloat64()
	yOverB := qYes.InexactFloat64() / bf
	nOverB := qNo.InexactFloat64() / bf
	maxVal := math.Max(yOverB, nOverB)

	expYes := math.Exp(yOverB - maxVal)
	expNo := math.Exp(nOverB - maxVal)

	price := expYes / (expYes + expNo)
	result := decimal.NewFromFloat(price).Round(PriceScale)

	if result.LessThan(MinPrice) {
		return MinPrice
	}
	if result.GreaterThan(MaxPrice) {
		return MaxPrice
	}
	return result
}

// PriceNo returns the instantaneous NO price: 1 - p_yes.
func (m *MarketMaker) PriceNo(qYes, qNo decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(1).Sub(m.Price(qYes, qNo))
}

// Prices returns both instantaneous prices. They sum to exactly 1.
func (m *MarketMaker) Prices(qYes, qNo decimal.Decimal) (yes, no decimal.Decimal) {
	yes = m.Price(qYes, qNo)
	return yes, decimal.NewFromInt(1).Sub(yes)
}

// TradeCost computes the cost to change the YES quantity by deltaYes:
//
//	cost = C(qYes + deltaYes, qNo) - C(qYes, qNo)
//
// Positive deltaYes = buying YES (positive cost to the trader).
// Negative deltaYes = selling YES (negative cost = proceeds to the trader).
func (m *MarketMaker) TradeCost(qYes, qNo, deltaYes decimal.Decimal) decimal.Decimal {
	costBefore := m.Cost(qYes, qNo)
	costAfter := m.Cost(qYes.Add(deltaYes), qNo)
	return costAfter.Sub(costBefore)
}

// TradeCostNo computes the cost to change the NO quantity by deltaNo.
// Uses the symmetry C(a, b) = C(b, a).
func (m *MarketMaker) TradeCostNo(qYes, qNo, deltaNo decimal.Decimal) decimal.Decimal {
	return m.TradeCost(qNo, qYes, deltaNo)
}

// FillPrice returns the average execution price per share for a trade of
// delta shares against quantities (qFirst, qSecond), the traded side first.
// Positive for both buys (cost>0, delta>0) and sells (cost<0, delta<0).
func (m *MarketMaker) FillPrice(qFirst, qSecond, delta decimal.Decimal) decimal.Decimal {
	if delta.IsZero() {
		return m.Price(qFirst, qSecond)
	}
	cost := m.TradeCost(qFirst, qSecond, delta)
	return cost.Div(delta).Round(PriceScale)
}

// validatePriceAfterTrade checks whether the resulting YES price stays
// within the allowed band.
func (m *MarketMaker) validatePriceAfterTrade(newQYes, newQNo decimal.Decimal) error {
	bf := m.b.InexactFloat64()
	qy := newQYes.InexactFloat64()
	qn := newQNo.InexactFloat64()

	maxVal := math.Max(qy/bf, qn/bf)
	expYes := math.Exp(qy/bf - maxVal)
	expNo := math.Exp(qn/bf - maxVal)
	price := expYes / (expYes + expNo)

	if price < MinPrice.InexactFloat64() || price > MaxPrice.InexactFloat64() {
		return ErrPriceBoundExceeded
	}
	return nil
}

// ValidateTrade checks if a YES-side delta would pin the price outside bounds.
func (m *MarketMaker) ValidateTrade(qYes, qNo, deltaYes decimal.Decimal) error {
	return m.validatePriceAfterTrade(qYes.Add(deltaYes), qNo)
}

// ValidateTradeNo checks if a NO-side delta would pin the price outside bounds.
func (m *MarketMaker) ValidateTradeNo(qYes, qNo, deltaNo decimal.Decimal) error {
	return m.validatePriceAfterTrade(qYes, qNo.Add(deltaNo))
}

// MaxLoss returns the maximum possible loss for the house: b * ln(2).
func (m *MarketMaker) MaxLoss() decimal.Decimal {
	loss := m.b.InexactFloat64() * math.Log(2)
	return decimal.NewFromFloat(loss).Round(PriceScale)
}
