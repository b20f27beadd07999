// Package classifier maps free-form model identifiers, as advertised by
// heterogeneous provider runtimes (Ollama, LM Studio, raw GGUF paths), to a
// normalized capability record. Classify is pure and total: it never
// fails and never inspects anything beyond the identifier string.
package classifier

import (
	"regexp"
	"strconv"
	"strings"
)

// Tier is a capability bucket. It is the single axis of pricing and
// routing eligibility.
type Tier string

const (
	TierSmall  Tier = "small"
	TierMedium Tier = "medium"
	TierLarge  Tier = "large"
	TierXL     Tier = "xl"
)

// ModelType classifies what kind of work a model performs. Only llm is
// exercised by the dispatcher today; the others are carried for catalog
// completeness.
type ModelType string

const (
	TypeLLM        ModelType = "llm"
	TypeImage      ModelType = "image"
	TypeWhisper    ModelType = "whisper"
	TypeMultimodal ModelType = "multimodal"
)

// Capability is the normalized record produced by Classify.
type Capability struct {
	Tier    Tier
	Context int
	Type    ModelType
}

// defaultContext holds the context-window default for each tier.
var defaultContext = map[Tier]int{
	TierSmall:  4096,
	TierMedium: 8192,
	TierLarge:  32768,
	TierXL:     32768,
}

// familyTable maps the leading token of an identifier (the segment before
// the first '-', ':' or '/') to a tier. Families whose tier depends on a
// version or size suffix are resolved by versionedFamily instead.
var familyTable = map[string]Tier{
	"mistral": TierMedium,
	"mixtral": TierLarge,
	"gemma":   TierSmall,
	"qwen":    TierMedium,
	"command": TierMedium,
}

// sizePattern is one entry of the size-pattern table: a tier paired with a
// regular expression matched against the lower-cased identifier.
type sizePattern struct {
	tier Tier
	re   *regexp.Regexp
}

var sizePatterns = []sizePattern{
	{TierXL, regexp.MustCompile(`\b(6[5-9]|[7-9]\d|\d{3,})b\b`)},
	{TierLarge, regexp.MustCompile(`mixtral|\b(1[3-9]|2\d|3\d|4[0-9])b\b`)},
	{TierMedium, regexp.MustCompile(`\b7b\b|mistral`)},
	{TierSmall, regexp.MustCompile(`\b[1-3]\.?\d?b\b`)},
}

var tinySubstring = regexp.MustCompile(`mini|tiny|small`)

// versionedFamily resolves families whose tier depends on a version or
// parameter-count suffix embedded later in the identifier.
var versionedFamily = map[string]func(rest string) (Tier, bool){
	"phi": func(rest string) (Tier, bool) {
		if strings.Contains(rest, "4") {
			return TierLarge, true
		}
		return TierSmall, true
	},
	"llama2": func(rest string) (Tier, bool) {
		if n := leadingSizeB(rest); n > 0 {
			return tierForParamCount(n), true
		}
		return TierMedium, true
	},
	"llama3": func(rest string) (Tier, bool) {
		if n := leadingSizeB(rest); n > 0 {
			return tierForParamCount(n), true
		}
		return TierMedium, true
	},
}

func tierForParamCount(n int) Tier {
	switch {
	case n >= 65:
		return TierXL
	case n >= 13:
		return TierLarge
	case n >= 7:
		return TierMedium
	default:
		return TierSmall
	}
}

var sizeBRe = regexp.MustCompile(`(\d+)b\b`)

// leadingSizeB extracts the first "<N>b" parameter-count marker from s, or
// returns 0 if none is present.
func leadingSizeB(s string) int {
	m := sizeBRe.FindStringSubmatch(strings.ToLower(s))
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// Classify maps a model identifier to its capability record. Resolution
// order is first-match-wins, in the order of the numbered steps in the
// body below. Classify never returns an error: malformed identifiers
// fall through to the medium-tier default.
func Classify(identifier string) Capability {
	trimmed := strings.TrimSpace(identifier)
	lower := strings.ToLower(trimmed)

	// 1. Direct tier selector.
	if tier, ok := directTier(lower); ok {
		return capabilityFor(tier, TypeLLM)
	}

	// Addressed selector: <model>@<handle>. The handle is the caller's
	// concern (dispatch-time routing); classify only the model part.
	if idx := strings.LastIndex(trimmed, "@"); idx > 0 {
		trimmed = trimmed[:idx]
		lower = strings.ToLower(trimmed)

		// Re-run the direct-tier check on the stripped model part: an
		// addressed selector whose model is itself a bare tier name
		// ("large@user_42") must resolve the same as the bare tier would.
		if tier, ok := directTier(lower); ok {
			return capabilityFor(tier, TypeLLM)
		}
	}

	// 2. Combined selector: <tier>|<substring>. Classify resolves the
	// selector to the named tier; substring matching happens at dispatch
	// time against a provider's advertised models.
	if bar := strings.Index(lower, "|"); bar > 0 {
		if tier, ok := directTier(lower[:bar]); ok {
			return capabilityFor(tier, TypeLLM)
		}
	}

	// 4. "mini"/"tiny"/"small" substring.
	if tinySubstring.MatchString(lower) {
		return capabilityFor(TierSmall, TypeLLM)
	}

	// base strips any path-style namespace prefix (e.g. "vanilj/phi-4"
	// -> "phi-4") so the family and size tables key off the model name
	// itself, not the runtime/organization that published it.
	base := lower
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[idx+1:]
	}

	// 5. Family table, keyed by the leading token before -, : or /.
	leading := splitLeading(base)
	if resolver, ok := versionedFamily[leading]; ok {
		if tier, ok := resolver(base[len(leading):]); ok {
			return capabilityFor(tier, TypeLLM)
		}
	}
	if tier, ok := familyTable[leading]; ok {
		return capabilityFor(tier, TypeLLM)
	}

	// 6. Size-pattern table.
	for _, p := range sizePatterns {
		if p.re.MatchString(base) {
			return capabilityFor(p.tier, TypeLLM)
		}
	}

	// 7. Default.
	return capabilityFor(TierMedium, TypeLLM)
}

// directTier reports whether s names one of the four tiers outright.
func directTier(s string) (Tier, bool) {
	switch Tier(s) {
	case TierSmall, TierMedium, TierLarge, TierXL:
		return Tier(s), true
	}
	return "", false
}

// splitLeading returns the token preceding the first of '-', ':' or '/'.
func splitLeading(s string) string {
	idx := strings.IndexAny(s, "-:/")
	if idx < 0 {
		return s
	}
	return s[:idx]
}

func capabilityFor(tier Tier, typ ModelType) Capability {
	return Capability{Tier: tier, Context: defaultContext[tier], Type: typ}
}

// Normalize strips version tags (the ':' suffix) and path prefixes (any
// '/'-delimited segments) and lower-cases the remainder. It is used to
// compare a requested model identifier against a provider's advertised
// model names for exact-match dispatch.
func Normalize(identifier string) string {
	s := strings.ToLower(strings.TrimSpace(identifier))
	if idx := strings.LastIndex(s, "/"); idx >= 0 {
		s = s[idx+1:]
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	return s
}
