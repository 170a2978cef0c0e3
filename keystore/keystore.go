package keystore

import (
	"context"
	"time"

	"github.com/getlantern/sesame/model"
)

// Store durably holds published key material: one identity and one active
// signed prekey per identity id, plus a pool of one-time prekeys. All state
// transitions on one-time prekeys are atomic compare-and-set operations, so
// concurrent callers can never reserve or consume the same key twice.
type Store interface {
	// PublishIdentity registers (or overwrites) the identity's long-term
	// keys. Idempotent. Fails with model.ErrEmptyKeyMaterial if either key
	// is empty.
	PublishIdentity(ctx context.Context, ident *model.Identity) error

	// GetIdentity returns the published identity, or
	// model.ErrIdentityNotFound if it has never been published.
	GetIdentity(ctx context.Context, identityId string) (*model.Identity, error)

	// PublishPreKeys replaces the active signed prekey (when signedPreKey is
	// non-nil) and appends the given one-time prekeys. A keyId that collides
	// with an existing Available or Reserved key fails the whole call with
	// model.ErrDuplicateKeyId and no key is added.
	PublishPreKeys(ctx context.Context, identityId string, signedPreKey *model.SignedPreKey, oneTimePreKeys []*model.OneTimePreKey) error

	// ActiveSignedPreKey returns the identity's current signed prekey, or
	// model.ErrKeyNotFound if none has been published.
	ActiveSignedPreKey(ctx context.Context, identityId string) (*model.SignedPreKey, error)

	// ReserveBundle returns the identity key, active signed prekey and at
	// most one Available one-time prekey, atomically transitioning that
	// prekey to Reserved. When the pool is empty the bundle is still
	// returned with a nil one-time prekey.
	ReserveBundle(ctx context.Context, identityId string) (*model.PreKeyBundle, error)

	// Consume transitions a Reserved or Available one-time prekey to
	// Consumed and removes it. A keyId that does not exist or was already
	// consumed fails with model.ErrKeyNotFound; across any number of
	// concurrent attempts at most one Consume of a given keyId succeeds.
	Consume(ctx context.Context, identityId string, keyId uint32) error

	// PreKeysRemaining reports how many one-time prekeys are still
	// Available for the identity.
	PreKeysRemaining(ctx context.Context, identityId string) (int, error)

	// SweepExpiredReservations returns reservations older than maxAge to the
	// Available pool and reports how many keys were swept. Consumed keys are
	// never restored.
	SweepExpiredReservations(ctx context.Context, maxAge time.Duration) (int, error)

	Close() error
}
