// keys generates the key material managed by the rest of sesame: identity
// pairs, signed prekeys and batches of one-time prekeys. Diffie-Hellman keys
// are curve25519, derived from freshly generated ed25519 pairs, so the same
// material could also be used for signing if a client ever needs that.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"

	"github.com/jorrizza/ed2curve25519"
	"golang.org/x/crypto/curve25519"

	"github.com/getlantern/sesame/identity"
	"github.com/getlantern/sesame/model"
)

// IdentityKeyPair is a freshly generated identity: the public half ready to
// publish plus the private halves that belong in the caller's secure store.
type IdentityKeyPair struct {
	Identity   *model.Identity
	SigningKey identity.PrivateKey
	// DHKey is the curve25519 private scalar corresponding to
	// Identity.IdentityKey
	DHKey []byte
}

// SignedPreKeyPair pairs a publishable signed prekey with its private scalar.
type SignedPreKeyPair struct {
	Public  *model.SignedPreKey
	Private []byte
}

// OneTimePreKeyPair pairs a publishable one-time prekey with its private
// scalar.
type OneTimePreKeyPair struct {
	Public  *model.OneTimePreKey
	Private []byte
}

// GenerateIdentity generates a new identity for the given id. The identity
// (DH) key is derived from the ed25519 signing pair.
func GenerateIdentity(identityId string) (*IdentityKeyPair, error) {
	pair, err := identity.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	dhKey := ed2curve25519.Ed25519PrivateKeyToCurve25519(ed25519.PrivateKey(pair.Private))
	dhPublic, err := curve25519.X25519(dhKey, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	return &IdentityKeyPair{
		Identity: &model.Identity{
			Id:          identityId,
			IdentityKey: dhPublic,
			SigningKey:  []byte(pair.Public),
		},
		SigningKey: pair.Private,
		DHKey:      dhKey,
	}, nil
}

// GenerateSignedPreKey generates a curve25519 prekey pair and signs the
// public key with the identity's signing key.
func GenerateSignedPreKey(signingKey identity.PrivateKey, keyId uint32) (*SignedPreKeyPair, error) {
	private, public, err := generateDHPair()
	if err != nil {
		return nil, err
	}
	signature, err := signingKey.Sign(public)
	if err != nil {
		return nil, err
	}
	return &SignedPreKeyPair{
		Public: &model.SignedPreKey{
			KeyId:     keyId,
			PublicKey: public,
			Signature: signature,
		},
		Private: private,
	}, nil
}

// GenerateOneTimePreKeys generates count one-time prekey pairs with
// sequential key ids starting at startId.
func GenerateOneTimePreKeys(startId uint32, count int) ([]*OneTimePreKeyPair, error) {
	result := make([]*OneTimePreKeyPair, 0, count)
	for i := 0; i < count; i++ {
		private, public, err := generateDHPair()
		if err != nil {
			return nil, err
		}
		result = append(result, &OneTimePreKeyPair{
			Public: &model.OneTimePreKey{
				KeyId:     startId + uint32(i),
				PublicKey: public,
				State:     model.KeyStateAvailable,
			},
			Private: private,
		})
	}
	return result, nil
}

func generateDHPair() (private []byte, public []byte, err error) {
	_, edPrivate, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	private = ed2curve25519.Ed25519PrivateKeyToCurve25519(edPrivate)
	public, err = curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		return nil, nil, err
	}
	return
}
