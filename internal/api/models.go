package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/llmule/broker/internal/classifier"
	"github.com/llmule/broker/internal/registry"
)

// modelView is one entry of the GET /v1/models catalog: a single
// (model, provider-handle) pair and that provider's rolling performance
// for the model. A model advertised by several providers produces one
// entry per provider, so a client can see that one provider is fast and
// healthy while another serving the same model is slow or degraded.
type modelView struct {
	ID                   string  `json:"id"`
	Tier                 string  `json:"tier"`
	Context              int     `json:"context"`
	Type                 string  `json:"type"`
	ProviderHandle       string  `json:"provider_handle"`
	Status               string  `json:"status"`
	SuccessRate          float64 `json:"success_rate"`
	TotalRequests        int     `json:"total_requests"`
	AvgTokensPerSecond   float64 `json:"avg_tokens_per_second"`
	MaxTokensPerSecond   float64 `json:"max_tokens_per_second"`
	LastActiveSecondsAgo float64 `json:"last_active_seconds_ago"`
}

// ListModels implements GET /v1/models: one entry per (model,
// provider-handle) pair, sorted tier descending then average
// tokens/sec descending.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	views := h.registry.ListActive()
	now := time.Now()

	var out []modelView
	for _, v := range views {
		if v.Status != registry.StatusActive || !v.ReadyForRequests {
			continue
		}
		handle := registry.Handle(v.AccountID)
		var lastActive float64
		if !v.LastHeartbeat.IsZero() {
			lastActive = now.Sub(v.LastHeartbeat).Seconds()
		}

		var totalSamples, successSamples int
		var tpsSum, tpsMax float64
		for _, s := range v.Samples {
			totalSamples++
			if s.Success {
				successSamples++
				tpsSum += s.TokensPerSecond
				if s.TokensPerSecond > tpsMax {
					tpsMax = s.TokensPerSecond
				}
			}
		}
		var successRate, avgTPS float64
		if totalSamples > 0 {
			successRate = float64(successSamples) / float64(totalSamples)
		}
		if successSamples > 0 {
			avgTPS = tpsSum / float64(successSamples)
		}

		for _, model := range v.Models {
			capability := classifier.Classify(model)
			out = append(out, modelView{
				ID:                   model,
				Tier:                 string(capability.Tier),
				Context:              capability.Context,
				Type:                 string(capability.Type),
				ProviderHandle:       handle,
				Status:               string(v.Status),
				SuccessRate:          successRate,
				TotalRequests:        totalSamples,
				AvgTokensPerSecond:   avgTPS,
				MaxTokensPerSecond:   tpsMax,
				LastActiveSecondsAgo: lastActive,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return tierRank(out[i].Tier) > tierRank(out[j].Tier)
		}
		return out[i].AvgTokensPerSecond > out[j].AvgTokensPerSecond
	})

	writeJSON(w, http.StatusOK, map[string]any{"data": out, "object": "list"})
}

func tierRank(tier string) int {
	switch classifier.Tier(tier) {
	case classifier.TierXL:
		return 4
	case classifier.TierLarge:
		return 3
	case classifier.TierMedium:
		return 2
	case classifier.TierSmall:
		return 1
	default:
		return 0
	}
}
