package vault

import (
	"context"
)

const (
	// SigningKeyMaterialId is the reserved key id under which an identity's
	// signing key is stored. Prekey material uses the prekey's own keyId,
	// which always starts at 1 or above.
	SigningKeyMaterialId = 0
)

// Vault is the secure local store for private key material. Material handed
// to a callback is only valid for the duration of the call and is zeroed on
// every exit path, so decrypted secrets never outlive their use.
type Vault interface {
	// SavePrivateKeyMaterial durably persists the private material for the
	// given key. This must complete before the corresponding public half is
	// published anywhere.
	SavePrivateKeyMaterial(ctx context.Context, identityId string, keyId uint32, material []byte) error

	// WithPrivateKeyMaterial loads the material, invokes fn with it and
	// zeroes the buffer afterwards regardless of how fn returns. Fails with
	// model.ErrKeyNotFound if no material is stored for the key.
	WithPrivateKeyMaterial(ctx context.Context, identityId string, keyId uint32, fn func(material []byte) error) error

	// DeletePrivateKeyMaterial removes (and zeroes) the stored material.
	DeletePrivateKeyMaterial(ctx context.Context, identityId string, keyId uint32) error

	Close() error
}

// Zero overwrites the given buffer.
func Zero(material []byte) {
	for i := range material {
		material[i] = 0
	}
}
