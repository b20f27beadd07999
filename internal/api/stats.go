package api

import (
	"net/http"

	"github.com/llmule/broker/internal/auth"
	brokererrors "github.com/llmule/broker/pkg/errors"
)

// sessionView is one connected session belonging to the authenticated
// account, as returned by GET /v1/provider/stats.
type sessionView struct {
	SessionID       string   `json:"session_id"`
	Status          string   `json:"status"`
	Models          []string `json:"models"`
	InFlight        int64    `json:"in_flight"`
	TokensPerSecond float64  `json:"tokens_per_second_ewma"`
}

// ProviderStats implements GET /v1/provider/stats: every live session
// registered under the authenticated account, with its rolling
// performance.
func (h *Handler) ProviderStats(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.GetAuthContext(r.Context())
	if authCtx == nil || authCtx.Account == nil {
		writeError(w, brokererrors.NewInternalError("missing authentication context"))
		return
	}

	var sessions []sessionView
	for _, v := range h.registry.ListActive() {
		if v.AccountID != authCtx.Account.ID {
			continue
		}
		sessions = append(sessions, sessionView{
			SessionID:       v.SessionID,
			Status:          string(v.Status),
			Models:          v.Models,
			InFlight:        v.InFlight,
			TokensPerSecond: v.TPSEWMA(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": authCtx.Account.ID,
		"sessions":   sessions,
	})
}

// ConsumerStats implements GET /v1/consumer/stats: a lifetime summary of
// the authenticated account's consumption, derived from its transaction
// history.
func (h *Handler) ConsumerStats(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.GetAuthContext(r.Context())
	if authCtx == nil || authCtx.Account == nil {
		writeError(w, brokererrors.NewInternalError("missing authentication context"))
		return
	}

	txs, err := h.ledger.ListTransactions(r.Context(), authCtx.Account.ID, 0)
	if err != nil {
		if h.log != nil {
			h.log.RedactedError("consumer stats lookup failed", "error", err)
		}
		writeError(w, brokererrors.NewInternalError("consumer stats lookup failed"))
		return
	}

	var totalSpentMules, totalEarnedMules float64
	var requestCount, totalTokens int
	for _, tx := range txs {
		if tx.ConsumerID == authCtx.Account.ID {
			totalSpentMules += tx.MuleAmount.Float64()
			requestCount++
			totalTokens += tx.Usage.TotalTokens
		}
		if tx.ProviderID == authCtx.Account.ID {
			totalEarnedMules += (tx.MuleAmount.Float64() - tx.PlatformFee.Float64())
		}
	}

	balance, err := h.ledger.GetBalance(r.Context(), authCtx.Account.ID)
	if err != nil {
		if h.log != nil {
			h.log.RedactedError("balance lookup failed", "error", err)
		}
		writeError(w, brokererrors.NewInternalError("balance lookup failed"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account_id":          authCtx.Account.ID,
		"balance":             balance.Float64(),
		"total_spent_mules":   totalSpentMules,
		"total_earned_mules":  totalEarnedMules,
		"request_count":       requestCount,
		"total_tokens":        totalTokens,
	})
}
