// Package ledger implements the Ledger Gateway: atomic balance and
// transaction-log mutations against the persistent store. The in-memory
// provider registry and dispatcher hold only transient, scoped references
// to this package -- balances and transactions are owned here exclusively.
package ledger

import (
	"time"

	"github.com/llmule/broker/internal/classifier"
	"github.com/llmule/broker/internal/tokenomics"
)

// TransactionKind enumerates the append-only transaction log's record
// types.
type TransactionKind string

const (
	KindConsumption TransactionKind = "consumption"
	KindSelfService TransactionKind = "self_service"
	KindDeposit     TransactionKind = "deposit"
	KindWithdrawal  TransactionKind = "withdrawal"
)

// Balance is a persisted per-account MULE balance.
type Balance struct {
	AccountID   string
	Amount      tokenomics.Mule
	LastUpdated time.Time
}

// Usage carries the raw token counts reported by a provider's completion
// response.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Performance carries the timing sample associated with one settlement.
type Performance struct {
	DurationSeconds float64
	TokensPerSecond float64
}

// Transaction is one append-only ledger entry.
type Transaction struct {
	ID              string
	Timestamp       time.Time
	Kind            TransactionKind
	ConsumerID      string
	ProviderID      string // empty for deposits and for consumption served by an anonymous provider
	Model           string
	Tier            classifier.Tier
	Usage           Usage
	MuleAmount      tokenomics.Mule
	PlatformFee     tokenomics.Mule
	Performance     Performance
	Metadata        map[string]string
}

// SettleResult is returned by Settle and folds into the API response's
// usage extension fields.
type SettleResult struct {
	Transaction      Transaction
	ProviderEarnings tokenomics.Mule
	// ConsumerCost is the amount actually charged to the consumer. For
	// self-service transactions this is zero even though Transaction.MuleAmount
	// records the computed, non-zero usage value -- the source's documented
	// behavior, preserved here deliberately.
	ConsumerCost tokenomics.Mule
}

// ReconciliationEntry is logged whenever a settlement's debit/credit pair
// cannot be proven atomic against the store (e.g. the store does not
// support a genuine transaction, or it reported an error after partial
// effect). It is never silently dropped.
type ReconciliationEntry struct {
	Timestamp  time.Time
	ConsumerID string
	ProviderID string
	MuleAmount tokenomics.Mule
	Reason     string
}
