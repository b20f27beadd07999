package auth

import "context"

// SessionAuthenticator adapts Store to the Session Layer's Authenticator
// interface: resolve a provider connection's api_key to an account id.
type SessionAuthenticator struct {
	store Store
}

// NewSessionAuthenticator wraps store for use as a session.Authenticator.
func NewSessionAuthenticator(store Store) *SessionAuthenticator {
	return &SessionAuthenticator{store: store}
}

// Authenticate implements session.Authenticator.
func (a *SessionAuthenticator) Authenticate(ctx context.Context, apiKey string) (string, bool, error) {
	acct, err := a.store.GetAccountByHash(ctx, HashKey(apiKey))
	if err != nil {
		return "", false, err
	}
	if acct == nil || !acct.IsActive {
		return "", false, nil
	}
	return acct.ID, true, nil
}
