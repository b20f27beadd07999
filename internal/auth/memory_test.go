package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_CreateAndGetByHash(t *testing.T) {
	store := NewMemoryStore()
	acct := &Account{ID: "acct-1", KeyHash: HashKey("mule_abc"), Name: "consumer one", IsActive: true, CreatedAt: time.Now()}
	require.NoError(t, store.CreateAccount(context.Background(), acct))

	got, err := store.GetAccountByHash(context.Background(), HashKey("mule_abc"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "acct-1", got.ID)
}

func TestMemoryStore_GetByHash_Unknown(t *testing.T) {
	store := NewMemoryStore()
	got, err := store.GetAccountByHash(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStore_UpdateLastUsed(t *testing.T) {
	store := NewMemoryStore()
	acct := &Account{ID: "acct-1", KeyHash: HashKey("mule_abc"), IsActive: true, CreatedAt: time.Now()}
	require.NoError(t, store.CreateAccount(context.Background(), acct))

	now := time.Now()
	require.NoError(t, store.UpdateLastUsed(context.Background(), "acct-1", now))

	got, _ := store.GetAccountByHash(context.Background(), HashKey("mule_abc"))
	require.NotNil(t, got.LastUsedAt)
	assert.WithinDuration(t, now, *got.LastUsedAt, time.Second)
}

func TestMemoryStore_DeleteAccountDeactivates(t *testing.T) {
	store := NewMemoryStore()
	acct := &Account{ID: "acct-1", KeyHash: HashKey("mule_abc"), IsActive: true, CreatedAt: time.Now()}
	require.NoError(t, store.CreateAccount(context.Background(), acct))
	require.NoError(t, store.DeleteAccount(context.Background(), "acct-1"))

	got, _ := store.GetAccountByHash(context.Background(), HashKey("mule_abc"))
	require.NotNil(t, got)
	assert.False(t, got.IsActive)
}

func TestSessionAuthenticator_Authenticate(t *testing.T) {
	store := NewMemoryStore()
	fullKey, hash, err := GenerateAPIKey()
	require.NoError(t, err)
	require.NoError(t, store.CreateAccount(context.Background(), &Account{
		ID: "acct-1", KeyHash: hash, IsActive: true, CreatedAt: time.Now(),
	}))

	auth := NewSessionAuthenticator(store)

	accountID, ok, err := auth.Authenticate(context.Background(), fullKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "acct-1", accountID)

	_, ok, err = auth.Authenticate(context.Background(), "mule_wrong")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionAuthenticator_InactiveAccountRejected(t *testing.T) {
	store := NewMemoryStore()
	fullKey, hash, err := GenerateAPIKey()
	require.NoError(t, err)
	require.NoError(t, store.CreateAccount(context.Background(), &Account{
		ID: "acct-1", KeyHash: hash, IsActive: false, CreatedAt: time.Now(),
	}))

	auth := NewSessionAuthenticator(store)
	_, ok, err := auth.Authenticate(context.Background(), fullKey)
	require.NoError(t, err)
	assert.False(t, ok)
}
