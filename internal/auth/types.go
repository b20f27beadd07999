// Package auth resolves the bearer credential on every inbound
// connection -- client HTTP request or provider duplex handshake -- to
// the account id the rest of the broker keys all ledger and registry
// state on.
package auth

import "time"

// Account is a registered participant: a consumer, a provider, or both.
// The broker does not model teams, budgets, or per-model ACLs -- every
// account can consume and provide, and spend limits are enforced by the
// ledger balance itself, not a quota on the credential.
type Account struct {
	ID         string     `json:"id"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"key_prefix"`
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	IsActive   bool       `json:"is_active"`
}

// AuthContext holds the resolved account for an authenticated request.
type AuthContext struct {
	Account   *Account
	RequestID string
}
