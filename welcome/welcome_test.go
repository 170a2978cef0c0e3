package welcome

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/getlantern/sesame/engine/memengine"
	"github.com/getlantern/sesame/group"
	"github.com/getlantern/sesame/keys"
	"github.com/getlantern/sesame/keystore"
	"github.com/getlantern/sesame/keystore/memstore"
	"github.com/getlantern/sesame/model"
	"github.com/getlantern/sesame/vault"
	"github.com/getlantern/sesame/vault/memvault"
)

type fixture struct {
	store    keystore.Store
	eng      *memengine.MemEngine
	keyVault vault.Vault
	groups   *group.Coordinator
	registry *Registry
}

// newFixture builds a registry for identity "bob" with one published one-time
// prekey (keyId 7) whose private material is in the vault.
func newFixture(t *testing.T) *fixture {
	ctx := context.Background()

	store := memstore.New()
	eng := memengine.New()
	keyVault := memvault.New()
	groups := group.NewCoordinator(eng)
	registry := NewRegistry(store, eng, keyVault, groups)
	t.Cleanup(func() {
		registry.Close()
		keyVault.Close()
		store.Close()
	})

	bob, err := keys.GenerateIdentity("bob")
	require.NoError(t, err)
	require.NoError(t, store.PublishIdentity(ctx, bob.Identity))
	spk, err := keys.GenerateSignedPreKey(bob.SigningKey, 1)
	require.NoError(t, err)
	otpks, err := keys.GenerateOneTimePreKeys(7, 1)
	require.NoError(t, err)
	require.NoError(t, store.PublishPreKeys(ctx, "bob", spk.Public, []*model.OneTimePreKey{otpks[0].Public}))
	require.NoError(t, keyVault.SavePrivateKeyMaterial(ctx, "bob", 7, otpks[0].Private))

	return &fixture{
		store:    store,
		eng:      eng,
		keyVault: keyVault,
		groups:   groups,
		registry: registry,
	}
}

func welcomeFor(t *testing.T, keyId uint32, historyShared bool) []byte {
	w := &model.Welcome{
		SenderIdentityId: "alice",
		ConversationId:   "42",
		KeyPackage:       model.KeyPackageRef{IdentityId: "bob", KeyId: keyId},
		HistoryShared:    historyShared,
		Ciphertext:       []byte("sealed group state"),
	}
	welcomeBytes, err := w.Bytes()
	require.NoError(t, err)
	return welcomeBytes
}

func TestStageInspectAccept(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	token, err := f.registry.Stage(ctx, "bob", welcomeFor(t, 7, true))
	require.NoError(t, err)
	require.NotEmpty(t, token)

	// the key package is burnt by staging
	require.Equal(t, model.ErrKeyNotFound, f.store.Consume(ctx, "bob", 7))

	// inspect is repeatable and does not change state
	for i := 0; i < 2; i++ {
		info, err := f.registry.Inspect(token)
		require.NoError(t, err)
		require.Equal(t, "alice", info.SenderIdentityId)
		require.Equal(t, "42", info.ConversationId)
		require.True(t, info.HistoryShared)
	}

	conversationId, err := f.registry.Accept(ctx, token)
	require.NoError(t, err)
	require.Equal(t, "42", conversationId)
	require.Equal(t, 1, f.eng.Calls("FinalizeStagedWelcome"))

	// the conversation is active with the welcome's history flag
	enabled, err := f.groups.HistorySharingEnabled("42")
	require.NoError(t, err)
	require.True(t, enabled)

	// a second accept does not re-run finalization
	_, err = f.registry.Accept(ctx, token)
	require.Equal(t, model.ErrAlreadyAccepted, model.TypedError(err))
	require.Equal(t, 1, f.eng.Calls("FinalizeStagedWelcome"))

	_, err = f.registry.Inspect(token)
	require.Equal(t, model.ErrAlreadyAccepted, model.TypedError(err))
}

func TestStageRejectsBadWelcomes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.registry.Stage(ctx, "bob", []byte("garbage"))
	require.True(t, errors.Is(err, model.ErrMalformedWelcome))

	// a welcome addressed to someone else's key package
	_, err = f.registry.Stage(ctx, "alice", welcomeFor(t, 7, false))
	require.Equal(t, model.ErrKeyNotFound, model.TypedError(err))

	// a key package bob never published
	_, err = f.registry.Stage(ctx, "bob", welcomeFor(t, 99, false))
	require.Equal(t, model.ErrKeyNotFound, model.TypedError(err))
	require.Equal(t, 0, f.eng.Calls("StageWelcome"))

	// none of the failures consumed the real key package
	require.NoError(t, f.store.Consume(ctx, "bob", 7))
}

func TestStageFailureLeavesKeyPackage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.eng.FailStaging(errors.New("engine unavailable"))
	_, err := f.registry.Stage(ctx, "bob", welcomeFor(t, 7, false))
	require.Error(t, err)

	// a timed-out engine surfaces as the timeout code
	f.eng.FailStaging(context.DeadlineExceeded)
	_, err = f.registry.Stage(ctx, "bob", welcomeFor(t, 7, false))
	require.True(t, errors.Is(err, model.ErrTimeout))

	// the key package survives a failed stage and the stage can be retried
	f.eng.FailStaging(nil)
	token, err := f.registry.Stage(ctx, "bob", welcomeFor(t, 7, false))
	require.NoError(t, err)
	require.NotEmpty(t, token)
}

func TestAcceptFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	token, err := f.registry.Stage(ctx, "bob", welcomeFor(t, 7, false))
	require.NoError(t, err)

	f.eng.FailFinalize(errors.New("engine unavailable"))
	_, err = f.registry.Accept(ctx, token)
	require.Error(t, err)

	// still staged, so the retry succeeds
	f.eng.FailFinalize(nil)
	conversationId, err := f.registry.Accept(ctx, token)
	require.NoError(t, err)
	require.Equal(t, "42", conversationId)
}

func TestDiscard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	token, err := f.registry.Stage(ctx, "bob", welcomeFor(t, 7, false))
	require.NoError(t, err)
	require.NoError(t, f.registry.Discard(token))

	_, err = f.registry.Accept(ctx, token)
	require.Equal(t, model.ErrStagedWelcomeDiscarded, model.TypedError(err))
	require.Equal(t, 0, f.eng.Calls("FinalizeStagedWelcome"))

	// the consumed key package is not restored
	require.Equal(t, model.ErrKeyNotFound, f.store.Consume(ctx, "bob", 7))
}

func TestUnknownToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.registry.Inspect("no-such-token")
	require.Equal(t, model.ErrStagedWelcomeNotFound, model.TypedError(err))
	_, err = f.registry.Accept(ctx, "no-such-token")
	require.Equal(t, model.ErrStagedWelcomeNotFound, model.TypedError(err))
	require.Equal(t, model.ErrStagedWelcomeNotFound, model.TypedError(f.registry.Discard("no-such-token")))
}

func TestSweepAbandoned(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	token, err := f.registry.Stage(ctx, "bob", welcomeFor(t, 7, false))
	require.NoError(t, err)

	// young enough to survive
	require.Equal(t, 0, f.registry.SweepAbandoned(time.Hour))
	_, err = f.registry.Inspect(token)
	require.NoError(t, err)

	require.Equal(t, 1, f.registry.SweepAbandoned(0))
	_, err = f.registry.Accept(ctx, token)
	require.Equal(t, model.ErrStagedWelcomeNotFound, model.TypedError(err))
}
