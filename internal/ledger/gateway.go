package ledger

import (
	"context"

	"github.com/llmule/broker/internal/classifier"
	"github.com/llmule/broker/internal/tokenomics"
)

// Gateway is the Ledger Gateway's operation set. The dispatcher is the
// only caller; every operation is atomic at the record level against
// whatever store backs the implementation.
type Gateway interface {
	// EnsureBalance idempotently creates a balance row seeded with
	// WelcomeAmount on first sight. Concurrent callers converge to
	// exactly one creation and exactly one welcome_bonus deposit.
	EnsureBalance(ctx context.Context, accountID string) error

	// GetBalance returns the account's current balance, calling
	// EnsureBalance internally on a miss.
	GetBalance(ctx context.Context, accountID string) (tokenomics.Mule, error)

	// Credit atomically adds amount to the account's balance.
	Credit(ctx context.Context, accountID string, amount tokenomics.Mule) error

	// Debit atomically subtracts amount from the account's balance.
	Debit(ctx context.Context, accountID string, amount tokenomics.Mule) error

	// RecordTransaction appends tx to the transaction log. No update, no
	// delete: the log is append-only.
	RecordTransaction(ctx context.Context, tx Transaction) error

	// Settle performs the Dispatcher's post-completion accounting: it
	// converts usage to a Mule amount at the given tier, splits the
	// platform fee, and atomically moves the balance between consumer
	// and provider (or records a self_service entry with no balance
	// movement when consumer == provider).
	Settle(ctx context.Context, consumerID, providerID, model string, tier classifier.Tier, usage Usage, perf Performance) (SettleResult, error)

	// ListTransactions returns accountID's transaction log, newest first,
	// where accountID appears as either consumer or provider, bounded to
	// limit entries (0 means the store's default page size).
	ListTransactions(ctx context.Context, accountID string, limit int) ([]Transaction, error)
}

// Reconciler receives a record whenever Settle cannot prove its
// debit/credit pair atomic. Implementations must persist or alert on
// every call; they must never be a silent no-op in production.
type Reconciler interface {
	Reconcile(ctx context.Context, entry ReconciliationEntry)
}
