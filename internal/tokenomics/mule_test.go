package tokenomics

import (
	"testing"

	"github.com/llmule/broker/internal/classifier"
)

func TestTokensToMules_LiteralScenarios(t *testing.T) {
	if got := TokensToMules(500_000, classifier.TierMedium); got != FromFloat64(1.0) {
		t.Errorf("TokensToMules(500000, medium) = %v, want 1.000000", got.Float64())
	}
	if got := TokensToMules(1, classifier.TierSmall); got != Mule(1) {
		t.Errorf("TokensToMules(1, small) = %v, want 0.000001", got.Float64())
	}
}

func TestPlatformFeeAndProviderEarnings(t *testing.T) {
	one := FromFloat64(1.0)
	if fee := PlatformFee(one); fee.Float64() != 0.1 {
		t.Errorf("PlatformFee(1.0) = %v, want 0.100000", fee.Float64())
	}
	if earn := ProviderEarnings(one); earn.Float64() != 0.9 {
		t.Errorf("ProviderEarnings(1.0) = %v, want 0.900000", earn.Float64())
	}
}

func TestProviderEarningsPlusFeeNeverExceedsAmount(t *testing.T) {
	amounts := []Mule{0, 1, 999, 1_234_567, FromFloat64(0.0001), FromFloat64(123.456789)}
	for _, m := range amounts {
		if ProviderEarnings(m)+PlatformFee(m) > m {
			t.Errorf("provider_earnings(%d) + platform_fee(%d) exceeds amount", m, m)
		}
	}
}

func TestTokensToMules_DefensiveClamp(t *testing.T) {
	if got := TokensToMules(-5, classifier.TierMedium); got != 0 {
		t.Errorf("TokensToMules(-5, medium) = %v, want 0", got)
	}
	if got := TokensToMules(0, classifier.TierMedium); got != 0 {
		t.Errorf("TokensToMules(0, medium) = %v, want 0", got)
	}
}

func TestRoundTrip_MulesToTokensNeverExceedsOriginal(t *testing.T) {
	tiers := []classifier.Tier{classifier.TierSmall, classifier.TierMedium, classifier.TierLarge, classifier.TierXL}
	for _, tier := range tiers {
		rate := RateFor(tier)
		for _, n := range []int64{0, 1, 7, 100, 12345, 1_000_000, 9_999_999} {
			m := TokensToMules(n, tier)
			back := MulesToTokens(m, tier)
			if back > n {
				t.Errorf("tier=%s n=%d: mules_to_tokens(tokens_to_mules(n)) = %d > %d", tier, n, back, n)
			}
			residualCap := int64(1) // conversion_rate^-1 * 1e6 micro-units is at most 1 token at these rates
			if n-back > residualCap && rate > 0 {
				// allow larger residual only when a single Mule micro-unit
				// already spans many tokens (low conversion rate => coarse rounding)
				maxResidual := n/rate + 1
				if n-back > maxResidual {
					t.Errorf("tier=%s n=%d: residual %d exceeds bound", tier, n, n-back)
				}
			}
		}
	}
}

func TestFromFloat64_ClampsInvalidInput(t *testing.T) {
	if got := FromFloat64(-1.0); got != 0 {
		t.Errorf("FromFloat64(-1.0) = %v, want 0", got)
	}
}

func TestRateFor_UnknownTierFallsBackToMedium(t *testing.T) {
	if got := RateFor(classifier.Tier("bogus")); got != RateFor(classifier.TierMedium) {
		t.Errorf("RateFor(bogus) = %d, want medium rate %d", got, RateFor(classifier.TierMedium))
	}
}
