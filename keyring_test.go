package identity_test

import (
	"context"
	"crypto"
	"sync"
	"testing"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyRing_CurrentGeneratesOnce(t *testing.T) {
	store := &memoryKeyStore{}
	ring := identity.NewKeyRing(store, identity.DefaultConfig(testIssuer))

	var wg sync.WaitGroup
	kids := make([]string, 8)
	for i := range kids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key, err := ring.Current(context.Background())
			if err == nil {
				kids[i] = key.KeyID
			}
		}(i)
	}
	wg.Wait()

	for _, kid := range kids {
		assert.Equal(t, kids[0], kid)
	}
	assert.Equal(t, 1, store.saves)
}

func TestKeyRing_Load(t *testing.T) {
	now := time.Now()
	older := newTestKey(t, now.Add(-2*time.Hour))
	current := newTestKey(t, now.Add(-time.Hour))
	newest := newTestKey(t, now)

	older.Current = false
	current.Current = true
	newest.Current = false

	store := &memoryKeyStore{keys: []identity.SigningKey{older, current, newest}}
	ring := identity.NewKeyRing(store, identity.DefaultConfig(testIssuer))
	require.NoError(t, ring.Load(context.Background()))

	got, err := ring.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, current.KeyID, got.KeyID)

	history, err := ring.History(context.Background())
	require.NoError(t, err)
	require.Len(t, history, identity.DefaultKeyRetention)
	assert.Equal(t, current.KeyID, history[0].KeyID)
	assert.Equal(t, newest.KeyID, history[1].KeyID)
	assert.Equal(t, 0, store.saves)
}

func TestKeyRing_RotateIfDue(t *testing.T) {
	now := time.Now()
	sink := &recordingSink{}
	store := &memoryKeyStore{}

	ring := identity.NewKeyRing(store, identity.DefaultConfig(testIssuer)).
		WithClock(func() time.Time { return now }).
		WithActivitySink(sink)

	first, err := ring.Current(context.Background())
	require.NoError(t, err)

	rotated, err := ring.RotateIfDue(context.Background())
	require.NoError(t, err)
	assert.False(t, rotated)

	now = now.Add(identity.DefaultKeyRotationPeriod + time.Minute)

	rotated, err = ring.RotateIfDue(context.Background())
	require.NoError(t, err)
	assert.True(t, rotated)

	second, err := ring.Current(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.KeyID, second.KeyID)
	assert.Equal(t, 2, store.saves)

	history, err := ring.History(context.Background())
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].Current)
	assert.False(t, history[1].Current)
	assert.Equal(t, first.KeyID, history[1].KeyID)

	assert.Equal(t, []identity.ActivityEventType{
		identity.ActivityEventKeyRotated,
		identity.ActivityEventKeyRotated,
	}, sink.Types())
}

func TestKeyRing_RunStopsWithContext(t *testing.T) {
	ring := identity.NewKeyRing(nil, identity.DefaultConfig(testIssuer))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ring.Run(ctx, 10*time.Millisecond)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}

	_, err := ring.Current(context.Background())
	assert.NoError(t, err)
}

func TestSigningKey_EncodeDecode(t *testing.T) {
	for _, alg := range []string{"ES256", "RS256", "EdDSA"} {
		t.Run(alg, func(t *testing.T) {
			key, err := identity.GenerateSigningKey(alg, time.Now(), 0)
			require.NoError(t, err)
			assert.NotNil(t, key.Method())
			assert.False(t, key.Expired(time.Now().Add(24*365*time.Hour)))

			pemBytes, err := identity.EncodePrivateKey(key)
			require.NoError(t, err)

			signer, err := identity.DecodePrivateKey(pemBytes)
			require.NoError(t, err)
			pub, ok := signer.Public().(interface{ Equal(crypto.PublicKey) bool })
			require.True(t, ok)
			assert.True(t, pub.Equal(key.PublicKey()))
		})
	}

	_, err := identity.GenerateSigningKey("HS256", time.Now(), 0)
	assert.Error(t, err)
}
