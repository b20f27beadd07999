// Package tokenomics implements the deterministic pricing, fee, and
// balance-mutation rules that turn reported token usage into MULE amounts.
// Every operation here is pure: no I/O, no clocks, no randomness.
package tokenomics

import (
	"math"

	"github.com/llmule/broker/internal/classifier"
)

// Mule is a fixed-point unit of account with six fractional digits,
// represented as an int64 count of micro-MULE (1 Mule = 1_000_000 micros).
// Using an integer micro-unit instead of float64 avoids the binary
// floating-point representation error that would otherwise accumulate
// across repeated debit/credit operations on a ledger.
type Mule int64

// Decimals is the number of fractional digits a Mule value carries.
const Decimals = 6

// scale converts between a whole-number Mule and its micro-unit form.
const scale = 1_000_000

// WelcomeAmount is credited to a brand-new account on first sight.
const WelcomeAmount Mule = 1 * scale

// PlatformFeeRate is the fraction of every consumption amount retained by
// the broker.
const PlatformFeeRate = 0.10

// conversionRate maps tier to tokens-per-Mule.
var conversionRate = map[classifier.Tier]int64{
	classifier.TierSmall:  1_000_000,
	classifier.TierMedium: 500_000,
	classifier.TierLarge:  250_000,
	classifier.TierXL:     125_000,
}

// RateFor returns the tokens-per-Mule conversion rate for tier, or the
// medium-tier rate if tier is unrecognized.
func RateFor(tier classifier.Tier) int64 {
	if rate, ok := conversionRate[tier]; ok {
		return rate
	}
	return conversionRate[classifier.TierMedium]
}

// Float64 returns m as a floating-point MULE amount, for display and JSON
// encoding only -- never feed this back into an arithmetic operation.
func (m Mule) Float64() float64 {
	return float64(m) / scale
}

// FromFloat64 builds a Mule from a floating-point amount, rounding
// half-away-from-zero to six fractional digits. Non-finite or negative
// input clamps to zero.
func FromFloat64(v float64) Mule {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return Mule(roundHalfAwayFromZero(v * scale))
}

func roundHalfAwayFromZero(v float64) int64 {
	if v >= 0 {
		return int64(math.Floor(v + 0.5))
	}
	return int64(math.Ceil(v - 0.5))
}

// TokensToMules converts a raw token count to a Mule amount at the given
// tier's conversion rate, rounded half-away-from-zero to six decimals.
// Non-finite or negative n is defensively clamped to zero tokens.
func TokensToMules(n int64, tier classifier.Tier) Mule {
	if n <= 0 {
		return 0
	}
	rate := RateFor(tier)
	// n / rate, scaled to micro-Mule: (n * scale) / rate, rounded.
	numerator := float64(n) * scale
	return Mule(roundHalfAwayFromZero(numerator / float64(rate)))
}

// MulesToTokens converts a Mule amount back to a token budget at the given
// tier's conversion rate. The result is floored, never ceilinged, so that
// mules_to_tokens(tokens_to_mules(n, tier), tier) <= n always holds.
func MulesToTokens(m Mule, tier classifier.Tier) int64 {
	if m <= 0 {
		return 0
	}
	rate := RateFor(tier)
	return int64(math.Floor(float64(m) / scale * float64(rate)))
}

// ProviderEarnings returns the provider's share of a consumption amount
// after the platform fee is withheld.
func ProviderEarnings(m Mule) Mule {
	fee := PlatformFee(m)
	return m - fee
}

// PlatformFee returns the broker's retained fraction of a consumption
// amount, rounded half-away-from-zero to six decimals.
func PlatformFee(m Mule) Mule {
	if m <= 0 {
		return 0
	}
	return Mule(roundHalfAwayFromZero(float64(m) * PlatformFeeRate))
}
