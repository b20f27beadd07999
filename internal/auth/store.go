package auth

import (
	"context"
	"time"
)

// Store defines the interface for account persistence. Usage and cost
// accounting lives in the Ledger Gateway, not here: Store only resolves
// who a credential belongs to.
type Store interface {
	GetAccountByHash(ctx context.Context, hash string) (*Account, error)
	CreateAccount(ctx context.Context, account *Account) error
	UpdateLastUsed(ctx context.Context, accountID string, lastUsed time.Time) error
	DeleteAccount(ctx context.Context, accountID string) error

	Ping(ctx context.Context) error
	Close() error
}
