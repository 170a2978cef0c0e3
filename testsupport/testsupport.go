package testsupport

import (
	"context"
	"sync"
	"time"

	"testing"

	"github.com/stretchr/testify/require"

	"github.com/getlantern/sesame/keys"
	"github.com/getlantern/sesame/keystore"
	"github.com/getlantern/sesame/model"
)

const (
	LowPreKeysLimit  = 3
	NumPreKeysToPush = 4
)

// TestStore runs a conformance test of the keystore.Store contract against
// the given implementation, including the concurrency properties: at-most-once
// consumption and reservation exclusivity.
func TestStore(t *testing.T, store keystore.Store) {
	ctx := context.Background()

	alice, err := keys.GenerateIdentity("alice")
	require.NoError(t, err)
	bob, err := keys.GenerateIdentity("bob")
	require.NoError(t, err)

	t.Run("identity publication", func(t *testing.T) {
		_, err := store.GetIdentity(ctx, "alice")
		require.Equal(t, model.ErrIdentityNotFound, err)

		require.Equal(t, model.ErrEmptyKeyMaterial, store.PublishIdentity(ctx, &model.Identity{Id: "alice"}))

		require.NoError(t, store.PublishIdentity(ctx, alice.Identity))
		// republishing is idempotent
		require.NoError(t, store.PublishIdentity(ctx, alice.Identity))

		ident, err := store.GetIdentity(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, alice.Identity.IdentityKey, ident.IdentityKey)
		require.Equal(t, alice.Identity.SigningKey, ident.SigningKey)
	})

	spk, err := keys.GenerateSignedPreKey(alice.SigningKey, 1)
	require.NoError(t, err)

	t.Run("prekey publication", func(t *testing.T) {
		otpks, err := keys.GenerateOneTimePreKeys(100, 3)
		require.NoError(t, err)

		err = store.PublishPreKeys(ctx, "nobody", spk.Public, publics(otpks))
		require.Equal(t, model.ErrIdentityNotFound, err)

		require.NoError(t, store.PublishPreKeys(ctx, "alice", spk.Public, publics(otpks)))

		remaining, err := store.PreKeysRemaining(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, 3, remaining)

		active, err := store.ActiveSignedPreKey(ctx, "alice")
		require.NoError(t, err)
		require.EqualValues(t, 1, active.KeyId)

		// keyId 100 is still live, so republishing it must fail and add nothing
		dupes, err := keys.GenerateOneTimePreKeys(100, 1)
		require.NoError(t, err)
		err = store.PublishPreKeys(ctx, "alice", nil, publics(dupes))
		require.Equal(t, model.ErrDuplicateKeyId, err)
		remaining, err = store.PreKeysRemaining(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, 3, remaining)
	})

	t.Run("bundle reservation", func(t *testing.T) {
		_, err := store.ReserveBundle(ctx, "nobody")
		require.Equal(t, model.ErrIdentityNotFound, err)

		bundle, err := store.ReserveBundle(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, alice.Identity.IdentityKey, bundle.IdentityKey)
		require.EqualValues(t, 1, bundle.SignedPreKey.KeyId)
		require.NotNil(t, bundle.OneTimePreKey)
		require.EqualValues(t, 100, bundle.OneTimePreKey.KeyId, "lowest available keyId should be handed out first")

		remaining, err := store.PreKeysRemaining(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, 2, remaining)

		// a reserved key is never handed out twice
		bundle2, err := store.ReserveBundle(ctx, "alice")
		require.NoError(t, err)
		require.NotNil(t, bundle2.OneTimePreKey)
		require.NotEqual(t, bundle.OneTimePreKey.KeyId, bundle2.OneTimePreKey.KeyId)
	})

	t.Run("consume is at most once", func(t *testing.T) {
		// keyIds 100 and 101 are currently Reserved, keyId 102 still
		// Available; direct consume without reservation is permitted
		require.NoError(t, store.Consume(ctx, "alice", 100))
		require.Equal(t, model.ErrKeyNotFound, store.Consume(ctx, "alice", 100))

		require.NoError(t, store.Consume(ctx, "alice", 101))

		require.NoError(t, store.Consume(ctx, "alice", 102))
		require.Equal(t, model.ErrKeyNotFound, store.Consume(ctx, "alice", 102))

		require.Equal(t, model.ErrKeyNotFound, store.Consume(ctx, "alice", 9999))
	})

	t.Run("concurrent consume", func(t *testing.T) {
		otpks, err := keys.GenerateOneTimePreKeys(200, 1)
		require.NoError(t, err)
		require.NoError(t, store.PublishPreKeys(ctx, "alice", nil, publics(otpks)))

		var wg sync.WaitGroup
		succeeded := int64(0)
		notFound := int64(0)
		var mx sync.Mutex
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := store.Consume(ctx, "alice", 200)
				mx.Lock()
				defer mx.Unlock()
				if err == nil {
					succeeded++
				} else if err == model.ErrKeyNotFound {
					notFound++
				}
			}()
		}
		wg.Wait()
		require.EqualValues(t, 1, succeeded, "exactly one concurrent consume should win")
		require.EqualValues(t, 9, notFound, "all losers should observe not-found")
	})

	t.Run("reservation exclusivity", func(t *testing.T) {
		require.NoError(t, store.PublishIdentity(ctx, bob.Identity))
		bobSpk, err := keys.GenerateSignedPreKey(bob.SigningKey, 1)
		require.NoError(t, err)
		otpks, err := keys.GenerateOneTimePreKeys(1, 1)
		require.NoError(t, err)
		require.NoError(t, store.PublishPreKeys(ctx, "bob", bobSpk.Public, publics(otpks)))

		var wg sync.WaitGroup
		withKey := int64(0)
		var mx sync.Mutex
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				bundle, err := store.ReserveBundle(ctx, "bob")
				require.NoError(t, err)
				if bundle.OneTimePreKey != nil {
					mx.Lock()
					withKey++
					mx.Unlock()
				}
			}()
		}
		wg.Wait()
		require.EqualValues(t, 1, withKey, "only one bundle should contain the single available prekey")

		// retire the reservation so later sweep counts stay exact
		require.NoError(t, store.Consume(ctx, "bob", 1))
	})

	t.Run("empty pool degrades gracefully", func(t *testing.T) {
		bundle, err := store.ReserveBundle(ctx, "bob")
		require.NoError(t, err)
		require.Nil(t, bundle.OneTimePreKey)
		require.NotNil(t, bundle.SignedPreKey)
	})

	t.Run("expired reservations return to the pool", func(t *testing.T) {
		otpks, err := keys.GenerateOneTimePreKeys(300, 1)
		require.NoError(t, err)
		require.NoError(t, store.PublishPreKeys(ctx, "bob", nil, publics(otpks)))

		bundle, err := store.ReserveBundle(ctx, "bob")
		require.NoError(t, err)
		require.EqualValues(t, 300, bundle.OneTimePreKey.KeyId)

		remaining, err := store.PreKeysRemaining(ctx, "bob")
		require.NoError(t, err)
		require.Equal(t, 0, remaining)

		// nothing young enough to sweep
		swept, err := store.SweepExpiredReservations(ctx, time.Hour)
		require.NoError(t, err)
		require.Equal(t, 0, swept)

		swept, err = store.SweepExpiredReservations(ctx, 0)
		require.NoError(t, err)
		require.Equal(t, 1, swept)

		remaining, err = store.PreKeysRemaining(ctx, "bob")
		require.NoError(t, err)
		require.Equal(t, 1, remaining)

		// a consumed key is terminal and never swept back
		require.NoError(t, store.Consume(ctx, "bob", 300))
		swept, err = store.SweepExpiredReservations(ctx, 0)
		require.NoError(t, err)
		require.Equal(t, 0, swept)
		require.Equal(t, model.ErrKeyNotFound, store.Consume(ctx, "bob", 300))
	})
}

func publics(pairs []*keys.OneTimePreKeyPair) []*model.OneTimePreKey {
	result := make([]*model.OneTimePreKey, 0, len(pairs))
	for _, pair := range pairs {
		result = append(result, pair.Public)
	}
	return result
}
