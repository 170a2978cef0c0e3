package rotation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/getlantern/sesame/identity"
	"github.com/getlantern/sesame/keys"
	"github.com/getlantern/sesame/keystore/memstore"
	"github.com/getlantern/sesame/model"
	"github.com/getlantern/sesame/vault"
	"github.com/getlantern/sesame/vault/memvault"
)

// failingVault rejects saves so tests can observe the fail-closed path.
type failingVault struct {
	vault.Vault
	saveErr error
}

func (v *failingVault) SavePrivateKeyMaterial(ctx context.Context, identityId string, keyId uint32, material []byte) error {
	if v.saveErr != nil {
		return v.saveErr
	}
	return v.Vault.SavePrivateKeyMaterial(ctx, identityId, keyId, material)
}

func setup(t *testing.T) (*keys.IdentityKeyPair, *failingVault, *Manager) {
	ctx := context.Background()

	store := memstore.New()
	keyVault := &failingVault{Vault: memvault.New()}
	t.Cleanup(func() {
		keyVault.Close()
		store.Close()
	})

	alice, err := keys.GenerateIdentity("alice")
	require.NoError(t, err)
	require.NoError(t, store.PublishIdentity(ctx, alice.Identity))
	require.NoError(t, keyVault.SavePrivateKeyMaterial(ctx, "alice", vault.SigningKeyMaterialId, alice.SigningKey))

	return alice, keyVault, NewManager(store, keyVault)
}

func TestRotate(t *testing.T) {
	ctx := context.Background()
	alice, keyVault, manager := setup(t)

	// the first rotation bootstraps keyId 1
	spk, err := manager.Rotate(ctx, "alice")
	require.NoError(t, err)
	require.EqualValues(t, 1, spk.KeyId)

	signingKey := identity.PublicKey(alice.Identity.SigningKey)
	require.True(t, signingKey.Verify(spk.PublicKey, spk.Signature))

	// key ids are monotonic
	spk2, err := manager.Rotate(ctx, "alice")
	require.NoError(t, err)
	require.EqualValues(t, 2, spk2.KeyId)
	require.NotEqual(t, spk.PublicKey, spk2.PublicKey)

	active, err := manager.store.ActiveSignedPreKey(ctx, "alice")
	require.NoError(t, err)
	require.EqualValues(t, 2, active.KeyId)

	// the published package's private material is retrievable
	err = keyVault.WithPrivateKeyMaterial(ctx, "alice", 2, func(material []byte) error {
		require.Len(t, material, 32)
		return nil
	})
	require.NoError(t, err)
}

func TestRotateUnknownIdentity(t *testing.T) {
	ctx := context.Background()
	_, _, manager := setup(t)

	_, err := manager.Rotate(ctx, "nobody")
	require.True(t, errors.Is(err, model.ErrIdentityNotFound))
}

func TestRotatePersistFailureAborts(t *testing.T) {
	ctx := context.Background()
	_, keyVault, manager := setup(t)

	spk, err := manager.Rotate(ctx, "alice")
	require.NoError(t, err)

	keyVault.saveErr = errors.New("disk full")
	_, err = manager.Rotate(ctx, "alice")
	require.Error(t, err)

	// the old package stays active and published
	active, err := manager.store.ActiveSignedPreKey(ctx, "alice")
	require.NoError(t, err)
	require.EqualValues(t, spk.KeyId, active.KeyId)
	require.Equal(t, spk.PublicKey, active.PublicKey)

	keyVault.saveErr = nil
	spk2, err := manager.Rotate(ctx, "alice")
	require.NoError(t, err)
	require.EqualValues(t, spk.KeyId+1, spk2.KeyId)
}
