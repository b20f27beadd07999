package api

import "github.com/llmule/broker/internal/ledger"

// transactionView is the JSON projection of a ledger.Transaction. It
// never exposes raw micro-unit amounts -- only the float MULE values the
// external interface documents.
type transactionView struct {
	ID               string  `json:"id"`
	Timestamp        string  `json:"timestamp"`
	Kind             string  `json:"kind"`
	ConsumerID       string  `json:"consumer_id"`
	ProviderID       string  `json:"provider_id,omitempty"`
	Model            string  `json:"model"`
	Tier             string  `json:"tier"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	MuleAmount       float64 `json:"mule_amount"`
	PlatformFee      float64 `json:"platform_fee"`
	DurationSeconds  float64 `json:"duration_seconds"`
	TokensPerSecond  float64 `json:"tokens_per_second"`
}

func newTransactionView(tx ledger.Transaction) transactionView {
	return transactionView{
		ID:               tx.ID,
		Timestamp:        tx.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"),
		Kind:             string(tx.Kind),
		ConsumerID:       tx.ConsumerID,
		ProviderID:       tx.ProviderID,
		Model:            tx.Model,
		Tier:             string(tx.Tier),
		PromptTokens:     tx.Usage.PromptTokens,
		CompletionTokens: tx.Usage.CompletionTokens,
		TotalTokens:      tx.Usage.TotalTokens,
		MuleAmount:       tx.MuleAmount.Float64(),
		PlatformFee:      tx.PlatformFee.Float64(),
		DurationSeconds:  tx.Performance.DurationSeconds,
		TokensPerSecond:  tx.Performance.TokensPerSecond,
	}
}
