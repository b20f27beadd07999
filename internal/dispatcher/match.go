package dispatcher

import (
	"strings"

	"github.com/llmule/broker/internal/classifier"
	"github.com/llmule/broker/internal/registry"
)

// selectorKind distinguishes the four request-model shapes the matcher
// understands. It is computed once per route() call.
type selectorKind int

const (
	selectorPlain selectorKind = iota
	selectorTier
	selectorCombined
	selectorAddressed
)

// parsedSelector is the decomposed form of a requested model identifier.
type parsedSelector struct {
	kind      selectorKind
	tier      classifier.Tier
	substring string // combined selector's lower-cased substring
	model     string // addressed selector's model part, or the raw identifier
	handle    string // addressed selector's provider handle
}

func parseSelector(requested string) parsedSelector {
	trimmed := strings.TrimSpace(requested)
	lower := strings.ToLower(trimmed)

	if tier, ok := asTier(lower); ok {
		return parsedSelector{kind: selectorTier, tier: tier}
	}

	if bar := strings.Index(trimmed, "|"); bar > 0 {
		if tier, ok := asTier(lower[:bar]); ok {
			return parsedSelector{kind: selectorCombined, tier: tier, substring: lower[bar+1:]}
		}
	}

	if at := strings.LastIndex(trimmed, "@"); at > 0 {
		return parsedSelector{kind: selectorAddressed, model: trimmed[:at], handle: trimmed[at+1:]}
	}

	return parsedSelector{kind: selectorPlain, model: trimmed}
}

func asTier(s string) (classifier.Tier, bool) {
	switch classifier.Tier(s) {
	case classifier.TierSmall, classifier.TierMedium, classifier.TierLarge, classifier.TierXL:
		return classifier.Tier(s), true
	}
	return "", false
}

// matchProvider reports whether view offers a model compatible with sel,
// returning the concrete provider-local model identifier to forward.
func matchProvider(sel parsedSelector, view registry.View) (resolved string, ok bool) {
	switch sel.kind {
	case selectorTier:
		for _, m := range view.Models {
			if classifier.Classify(m).Tier == sel.tier {
				return m, true
			}
		}
		return "", false

	case selectorCombined:
		for _, m := range view.Models {
			if classifier.Classify(m).Tier != sel.tier {
				continue
			}
			if strings.Contains(strings.ToLower(m), sel.substring) {
				return m, true
			}
		}
		return "", false

	case selectorAddressed:
		if view.AccountID == "" || registry.Handle(view.AccountID) != sel.handle {
			return "", false
		}
		target := classifier.Normalize(sel.model)
		for _, m := range view.Models {
			if classifier.Normalize(m) == target {
				return m, true
			}
		}
		return "", false

	default: // selectorPlain: exact match only, no tier fallback
		target := classifier.Normalize(sel.model)
		for _, m := range view.Models {
			if classifier.Normalize(m) == target {
				return m, true
			}
		}
		return "", false
	}
}
