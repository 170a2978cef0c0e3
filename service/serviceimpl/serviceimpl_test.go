package serviceimpl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/getlantern/sesame/engine/memengine"
	"github.com/getlantern/sesame/keys"
	"github.com/getlantern/sesame/keystore/memstore"
	"github.com/getlantern/sesame/model"
	"github.com/getlantern/sesame/vault"
	"github.com/getlantern/sesame/vault/memvault"
)

func TestOptsValidation(t *testing.T) {
	store := memstore.New()
	defer store.Close()
	eng := memengine.New()
	keyVault := memvault.New()
	defer keyVault.Close()

	_, err := New(&Opts{Engine: eng, Vault: keyVault})
	require.Error(t, err)
	_, err = New(&Opts{Store: store, Vault: keyVault})
	require.Error(t, err)
	_, err = New(&Opts{Store: store, Engine: eng})
	require.Error(t, err)

	srvc, err := New(&Opts{Store: store, Engine: eng, Vault: keyVault, SweepInterval: -1})
	require.NoError(t, err)
	srvc.Close()
}

// TestInviteFlow walks the full lifecycle: bob publishes key material, alice
// fetches a bundle, creates a conversation, commits bob's addition and sends a
// welcome, and bob stages, inspects and accepts it.
func TestInviteFlow(t *testing.T) {
	ctx := context.Background()

	store := memstore.New()
	eng := memengine.New()
	keyVault := memvault.New()
	srvc, err := New(&Opts{Store: store, Engine: eng, Vault: keyVault, SweepInterval: -1})
	require.NoError(t, err)
	t.Cleanup(func() {
		srvc.Close()
		keyVault.Close()
		store.Close()
	})

	// bob publishes his identity and key material
	bob, err := keys.GenerateIdentity("bob")
	require.NoError(t, err)
	require.NoError(t, srvc.PublishIdentity(ctx, bob.Identity))
	require.NoError(t, keyVault.SavePrivateKeyMaterial(ctx, "bob", vault.SigningKeyMaterialId, bob.SigningKey))
	spk, err := srvc.Rotate(ctx, "bob")
	require.NoError(t, err)
	require.EqualValues(t, 1, spk.KeyId)

	otpks, err := keys.GenerateOneTimePreKeys(1, 5)
	require.NoError(t, err)
	oneTimePreKeys := make([]*model.OneTimePreKey, 0, len(otpks))
	for _, pair := range otpks {
		require.NoError(t, keyVault.SavePrivateKeyMaterial(ctx, "bob", pair.Public.KeyId, pair.Private))
		oneTimePreKeys = append(oneTimePreKeys, pair.Public)
	}
	require.NoError(t, srvc.PublishPreKeys(ctx, "bob", nil, oneTimePreKeys))

	// alice fetches a bundle for bob, reserving one one-time prekey
	bundle, err := srvc.GetBundle(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, bob.Identity.IdentityKey, bundle.IdentityKey)
	require.NotNil(t, bundle.OneTimePreKey)
	remaining, err := srvc.PreKeysRemaining(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, 4, remaining)

	// alice creates the conversation and commits bob's addition
	require.NoError(t, srvc.EnsureCreated(ctx, "42"))
	require.NoError(t, srvc.AddMembers(ctx, "42", [][]byte{bundle.OneTimePreKey.PublicKey}))
	require.NoError(t, srvc.EnableHistorySharing(ctx, "42"))
	require.NoError(t, srvc.CommitPending(ctx, "42"))
	pending, err := srvc.Groups().PendingProposals("42")
	require.NoError(t, err)
	require.Equal(t, 0, pending)

	// alice sends bob a welcome referencing the reserved key package
	w := &model.Welcome{
		SenderIdentityId: "alice",
		ConversationId:   "42",
		KeyPackage:       model.KeyPackageRef{IdentityId: "bob", KeyId: bundle.OneTimePreKey.KeyId},
		HistoryShared:    true,
		Ciphertext:       []byte("sealed group state"),
	}
	welcomeBytes, err := w.Bytes()
	require.NoError(t, err)

	// bob stages, inspects and accepts
	token, err := srvc.Stage(ctx, "bob", welcomeBytes)
	require.NoError(t, err)
	info, err := srvc.Inspect(token)
	require.NoError(t, err)
	require.Equal(t, "alice", info.SenderIdentityId)
	require.True(t, info.HistoryShared)

	conversationId, err := srvc.Accept(ctx, token)
	require.NoError(t, err)
	require.Equal(t, "42", conversationId)

	// the key package is burnt for good
	require.Equal(t, model.ErrKeyNotFound, srvc.Consume(ctx, "bob", bundle.OneTimePreKey.KeyId))

	// bob's side of the conversation is active with history sharing on
	enabled, err := srvc.Groups().HistorySharingEnabled("42")
	require.NoError(t, err)
	require.True(t, enabled)

	// rotating bob's signed prekey moves to the next keyId
	spk2, err := srvc.Rotate(ctx, "bob")
	require.NoError(t, err)
	require.EqualValues(t, 2, spk2.KeyId)
}
