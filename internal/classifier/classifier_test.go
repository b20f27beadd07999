package classifier

import "testing"

func TestClassify_LiteralScenarios(t *testing.T) {
	tests := []struct {
		name    string
		ident   string
		wantTier Tier
		wantCtx  int
	}{
		{"tiny substring", "tinyllama", TierSmall, 4096},
		{"mistral with quant tag", "mistral:7b-instruct-q4", TierMedium, 8192},
		{"namespaced phi-4", "vanilj/Phi-4:latest", TierLarge, 32768},
		{"llama2 70b", "llama2-70b", TierXL, 32768},
		{"unrecognized family", "unknown-xyz", TierMedium, 8192},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.ident)
			if got.Tier != tt.wantTier {
				t.Errorf("Classify(%q).Tier = %s, want %s", tt.ident, got.Tier, tt.wantTier)
			}
			if got.Context != tt.wantCtx {
				t.Errorf("Classify(%q).Context = %d, want %d", tt.ident, got.Context, tt.wantCtx)
			}
		})
	}
}

func TestClassify_DirectTierSelector(t *testing.T) {
	for _, tier := range []Tier{TierSmall, TierMedium, TierLarge, TierXL} {
		got := Classify(string(tier))
		if got.Tier != tier {
			t.Errorf("Classify(%q).Tier = %s, want %s", tier, got.Tier, tier)
		}
	}
}

func TestClassify_CombinedSelectorResolvesToNamedTier(t *testing.T) {
	got := Classify("medium|wizard")
	if got.Tier != TierMedium {
		t.Errorf("Classify(medium|wizard).Tier = %s, want medium", got.Tier)
	}
}

func TestClassify_AddressedSelectorClassifiesModelPart(t *testing.T) {
	got := Classify("mistral:7b@user_42")
	if got.Tier != TierMedium {
		t.Errorf("Classify(mistral:7b@user_42).Tier = %s, want medium", got.Tier)
	}
}

func TestClassify_AddressedSelectorWithBareTierModelPart(t *testing.T) {
	for _, tc := range []struct {
		identifier string
		want       Tier
	}{
		{"large@user_42", TierLarge},
		{"xl@user_7", TierXL},
		{"small@user_1", TierSmall},
		{"medium@user_1", TierMedium},
	} {
		got := Classify(tc.identifier)
		if got.Tier != tc.want {
			t.Errorf("Classify(%s).Tier = %s, want %s", tc.identifier, got.Tier, tc.want)
		}
	}
}

func TestClassify_NeverFails(t *testing.T) {
	for _, ident := range []string{"", "   ", "@@@", "|", "/", ":::", "😀model"} {
		got := Classify(ident)
		switch got.Tier {
		case TierSmall, TierMedium, TierLarge, TierXL:
		default:
			t.Errorf("Classify(%q) returned invalid tier %q", ident, got.Tier)
		}
	}
}

func TestNormalize_StripsVersionAndPath(t *testing.T) {
	tests := map[string]string{
		"Mistral:7b-Instruct-Q4":   "mistral",
		"vanilj/Phi-4:latest":      "phi-4",
		"llama2-70b":               "llama2-70b",
		"  Qwen2.5:32b  ":          "qwen2.5",
	}
	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}
