package repository_test

import (
	"context"
	"crypto"
	"testing"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigningKeyStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := repository.NewSigningKeyStore(setupDB(t))

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	first, err := identity.GenerateSigningKey("ES256", now, 24*time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.SaveCurrentKey(ctx, first))

	second, err := identity.GenerateSigningKey("EdDSA", now.Add(time.Hour), 0)
	require.NoError(t, err)
	require.NoError(t, store.SaveCurrentKey(ctx, second))

	keys, err := store.LoadKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)

	assert.Equal(t, second.KeyID, keys[0].KeyID)
	assert.Equal(t, "EdDSA", keys[0].Algorithm)
	assert.True(t, keys[0].Current)
	assert.True(t, keys[0].NotAfter.IsZero())

	assert.Equal(t, first.KeyID, keys[1].KeyID)
	assert.False(t, keys[1].Current)
	assert.True(t, first.NotAfter.Equal(keys[1].NotAfter))

	type equaler interface {
		Equal(x crypto.PublicKey) bool
	}
	for i, want := range []identity.SigningKey{second, first} {
		pub, ok := keys[i].PublicKey().(equaler)
		require.True(t, ok)
		assert.True(t, pub.Equal(want.PublicKey()))
	}
}

func TestKeyRing_PersistsAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	store := repository.NewSigningKeyStore(setupDB(t))

	ring := identity.NewKeyRing(store, identity.Options{})
	require.NoError(t, ring.Load(ctx))

	current, err := ring.Current(ctx)
	require.NoError(t, err)

	restarted := identity.NewKeyRing(store, identity.Options{})
	require.NoError(t, restarted.Load(ctx))

	reloaded, err := restarted.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, current.KeyID, reloaded.KeyID)

	rotated, err := restarted.Rotate(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, current.KeyID, rotated.KeyID)

	keys, err := store.LoadKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, rotated.KeyID, keys[0].KeyID)
	assert.True(t, keys[0].Current)
	assert.False(t, keys[1].Current)
}
