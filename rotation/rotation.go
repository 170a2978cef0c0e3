// rotation regenerates an identity's signed prekey (key package). The one
// sequencing invariant here is persist-then-publish: the new private material
// must be durable in the vault before the new public package is visible to
// anyone, otherwise an inbound welcome referencing the new package could
// arrive before we can decrypt it, which fails that handshake permanently.
package rotation

import (
	"context"

	"github.com/getlantern/golog"

	"github.com/getlantern/sesame/identity"
	"github.com/getlantern/sesame/keys"
	"github.com/getlantern/sesame/keystore"
	"github.com/getlantern/sesame/model"
	"github.com/getlantern/sesame/vault"
)

var (
	log = golog.LoggerFor("rotation")
)

type Manager struct {
	store keystore.Store
	vault vault.Vault
}

func NewManager(store keystore.Store, keyVault vault.Vault) *Manager {
	return &Manager{
		store: store,
		vault: keyVault,
	}
}

// Rotate generates a replacement signed prekey with the next monotonic keyId
// and publishes it. If persisting the private material fails, the rotation
// aborts fail-closed and the old package remains active and published.
func (m *Manager) Rotate(ctx context.Context, identityId string) (*model.SignedPreKey, error) {
	nextKeyId, err := m.nextKeyId(ctx, identityId)
	if err != nil {
		return nil, err
	}

	var pair *keys.SignedPreKeyPair
	err = m.vault.WithPrivateKeyMaterial(ctx, identityId, vault.SigningKeyMaterialId, func(material []byte) error {
		generated, genErr := keys.GenerateSignedPreKey(identity.PrivateKey(material), nextKeyId)
		if genErr != nil {
			return genErr
		}
		pair = generated
		return nil
	})
	if err != nil {
		return nil, model.WrapExternal("unable to generate signed prekey", err)
	}
	defer vault.Zero(pair.Private)

	// persist before publish
	err = m.vault.SavePrivateKeyMaterial(ctx, identityId, nextKeyId, pair.Private)
	if err != nil {
		return nil, model.WrapExternal("unable to persist private key material, aborting rotation", err)
	}

	err = m.store.PublishPreKeys(ctx, identityId, pair.Public, nil)
	if err != nil {
		// the persisted material is orphaned but harmless; the old package
		// stays advertised
		return nil, model.WrapExternal("unable to publish rotated prekey", err)
	}

	log.Debugf("rotated signed prekey for %v to keyId %d", identityId, nextKeyId)
	return pair.Public, nil
}

func (m *Manager) nextKeyId(ctx context.Context, identityId string) (uint32, error) {
	current, err := m.store.ActiveSignedPreKey(ctx, identityId)
	switch {
	case err == nil:
		return current.KeyId + 1, nil
	case err == model.ErrKeyNotFound:
		return 1, nil
	default:
		return 0, err
	}
}
